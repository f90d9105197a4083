package volcano

import (
	"encoding/json"
	"time"
)

// Control-channel message discriminators.
const (
	opReady        = "ready"
	opPlayerUpdate = "playerUpdate"
	opStats        = "stats"
	opEvent        = "event"
)

// Event sub-type discriminators.
const (
	eventTrackStart      = "TrackStartEvent"
	eventTrackEnd        = "TrackEndEvent"
	eventTrackException  = "TrackExceptionEvent"
	eventTrackStuck      = "TrackStuckEvent"
	eventWebSocketClosed = "WebSocketClosedEvent"
)

// envelope carries only the discriminator; the full frame is decoded again
// once the op is known.
type envelope struct {
	Op string `json:"op"`
}

type readyPayload struct {
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

type playerUpdatePayload struct {
	GuildID string      `json:"guildId"`
	State   PlayerState `json:"state"`
}

// PlayerState is the server-authoritative position/timing/link-health report
// pushed for a player. Time and Position are unix millis and track millis.
type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int   `json:"ping"`
}

type eventPayload struct {
	Type        string `json:"type"`
	GuildID     string `json:"guildId"`
	Track       *Track `json:"track,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ThresholdMs int64  `json:"thresholdMs,omitempty"`
	Code        int    `json:"code,omitempty"`
	ByRemote    bool   `json:"byRemote,omitempty"`
	Exception   *struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
		Cause    string `json:"cause"`
	} `json:"exception,omitempty"`
}

// EventType identifies a player lifecycle event delivered to the event sink.
type EventType string

const (
	EventTrackStart      EventType = "track_start"
	EventTrackEnd        EventType = "track_end"
	EventTrackException  EventType = "track_exception"
	EventTrackStuck      EventType = "track_stuck"
	EventWebSocketClosed EventType = "websocket_closed"
)

// Event is the flattened player lifecycle event handed to the sink callback.
// Only the fields relevant to Type are populated.
type Event struct {
	Type    EventType
	GuildID string
	Track   *Track

	// Track end.
	Reason string

	// Track exception.
	Error string

	// Track stuck.
	Threshold time.Duration

	// Voice websocket closed.
	Code     int
	ByRemote bool
}

// Track is an encoded track plus its decoded metadata.
type Track struct {
	Encoded string    `json:"encoded"`
	Info    TrackInfo `json:"info"`
}

type TrackInfo struct {
	Identifier string `json:"identifier"`
	Author     string `json:"author"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
	SourceName string `json:"sourceName"`
	Length     int64  `json:"length"`
	Position   int64  `json:"position"`
	IsSeekable bool   `json:"isSeekable"`
	IsStream   bool   `json:"isStream"`
}

// Stats is the node-wide statistics report. Players doubles as the node's
// load metric when present.
type Stats struct {
	Players        int    `json:"players"`
	PlayingPlayers int    `json:"playingPlayers"`
	Uptime         int64  `json:"uptime"`
	Memory         Memory `json:"memory"`
	CPU            CPU    `json:"cpu"`
}

type Memory struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

type CPU struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

// VoiceState holds the transport credentials for a guild, supplied by the
// host application's own channel-join flow.
type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

// playerUpdateBody is the request-channel command body mutating a player.
// Pointer fields are omitted entirely when nil so unrelated settings are left
// untouched by the node.
type playerUpdateBody struct {
	Track    *trackUpdate   `json:"track,omitempty"`
	Position *int64         `json:"position,omitempty"`
	EndTime  *int64         `json:"endTime,omitempty"`
	Volume   *int           `json:"volume,omitempty"`
	Paused   *bool          `json:"paused,omitempty"`
	Filters  map[string]any `json:"filters,omitempty"`
	Voice    *VoiceState    `json:"voice,omitempty"`
}

// trackUpdate serializes an explicit null for Encoded to stop playback.
type trackUpdate struct {
	Encoded *string `json:"encoded"`
}

type resumeBody struct {
	Resuming bool `json:"resuming"`
	Timeout  int  `json:"timeout"`
}

// LoadType discriminates the result of a track load request.
type LoadType string

const (
	LoadTypeTrack    LoadType = "track"
	LoadTypePlaylist LoadType = "playlist"
	LoadTypeSearch   LoadType = "search"
	LoadTypeEmpty    LoadType = "empty"
	LoadTypeError    LoadType = "error"
)

// LoadResult is the raw answer to a track load request; Data is decoded
// according to LoadType via Tracks.
type LoadResult struct {
	LoadType LoadType        `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

// Playlist is the decoded payload of a playlist load result.
type Playlist struct {
	Info struct {
		Name          string `json:"name"`
		SelectedTrack int    `json:"selectedTrack"`
	} `json:"info"`
	Tracks []Track `json:"tracks"`
}

// Info describes the node server build, answered on the request channel.
type Info struct {
	Version struct {
		Semver string `json:"semver"`
		Major  int    `json:"major"`
		Minor  int    `json:"minor"`
		Patch  int    `json:"patch"`
	} `json:"version"`
	JVM            string   `json:"jvm"`
	SourceManagers []string `json:"sourceManagers"`
}
