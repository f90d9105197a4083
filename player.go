package volcano

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PlaybackState is a player's playback state. Players start Idle and return
// to Idle on natural or erroneous track end.
type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackPlaying
	PlaybackPaused
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackIdle:
		return "idle"
	case PlaybackPlaying:
		return "playing"
	case PlaybackPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// PlayOptions tune a Play call. Zero values leave the node's defaults in
// place.
type PlayOptions struct {
	StartPosition time.Duration
	EndTime       time.Duration
	Volume        int
	Paused        bool
	// NoReplace asks the node to ignore the request if a track is already
	// playing.
	NoReplace bool
}

type pendingPlay struct {
	track Track
	opts  PlayOptions
}

// EventHandler consumes player lifecycle events. Handlers run on the owning
// node's dispatch goroutine and must not block.
type EventHandler func(e Event)

// Player is the per-guild playback state owned by exactly one node. Commands
// require both the owning node to be Ready and voice credentials to be
// present; a Play issued before that is buffered (one slot, last write wins)
// and flushed the instant both conditions hold.
type Player[C Client] struct {
	node    *Node[C]
	guildID string
	log     zerolog.Logger

	mu        sync.Mutex
	state     PlaybackState
	track     *Track
	position  time.Duration
	updatedAt time.Time
	ping      int
	stalled   bool
	volume    int
	filters   map[string]any
	voice     VoiceState
	hasVoice  bool
	pending   *pendingPlay
	handler   EventHandler
	destroyed bool
}

func newPlayer[C Client](n *Node[C], guildID string) *Player[C] {
	return &Player[C]{
		node:    n,
		guildID: guildID,
		volume:  100,
		log:     n.log.With().Str("guild", guildID).Logger(),
	}
}

func (p *Player[C]) GuildID() string { return p.guildID }

// Node returns the owning node. The player does not control its lifetime.
func (p *Player[C]) Node() *Node[C] { return p.node }

func (p *Player[C]) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Track returns the currently playing track, nil when Idle.
func (p *Player[C]) Track() *Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

// Position returns the last server-reported playback position.
func (p *Player[C]) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *Player[C]) Ping() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ping
}

// Stalled reports whether the server flagged the voice link as disconnected
// while a track was playing. It is an indicator, not a state transition.
func (p *Player[C]) Stalled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stalled
}

func (p *Player[C]) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Connected reports whether voice credentials are currently present.
func (p *Player[C]) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasVoice
}

// OnEvent installs the sink for lifecycle events. Terminal track reasons are
// delivered here rather than raised, since they originate remotely and
// asynchronously.
func (p *Player[C]) OnEvent(h EventHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Play starts the track, or buffers the request until the node is Ready and
// voice credentials have been supplied. A buffered request is replaced by a
// newer Play call. Closed is terminal, so a play on a closed node fails with
// ErrNodeUnavailable instead of buffering a request that can never flush.
func (p *Player[C]) Play(ctx context.Context, track Track, opts PlayOptions) error {
	p.mu.Lock()
	if p.destroyed || p.node.State() == StateClosed {
		p.mu.Unlock()
		return ErrNodeUnavailable
	}
	if !p.hasVoice || !p.node.ready() {
		p.pending = &pendingPlay{track: track, opts: opts}
		p.mu.Unlock()
		p.log.Debug().Str("track", track.Info.Title).Msg("play buffered until ready")
		return nil
	}
	// A direct transmit supersedes any still-buffered request; last write
	// wins either way.
	p.pending = nil
	p.mu.Unlock()
	return p.transmit(ctx, &pendingPlay{track: track, opts: opts})
}

func (p *Player[C]) transmit(ctx context.Context, req *pendingPlay) error {
	encoded := req.track.Encoded
	body := playerUpdateBody{Track: &trackUpdate{Encoded: &encoded}}

	if req.opts.StartPosition > 0 {
		ms := req.opts.StartPosition.Milliseconds()
		body.Position = &ms
	}
	if req.opts.EndTime > 0 {
		ms := req.opts.EndTime.Milliseconds()
		body.EndTime = &ms
	}
	if req.opts.Volume > 0 {
		vol := req.opts.Volume
		body.Volume = &vol
	}
	if req.opts.Paused {
		paused := true
		body.Paused = &paused
	}

	p.mu.Lock()
	if p.hasVoice {
		voice := p.voice
		body.Voice = &voice
	}
	p.mu.Unlock()

	if err := p.node.updatePlayer(ctx, p.guildID, body, req.opts.NoReplace); err != nil {
		return err
	}

	p.mu.Lock()
	track := req.track
	p.track = &track
	if req.opts.Volume > 0 {
		p.volume = req.opts.Volume
	}
	p.mu.Unlock()
	return nil
}

// OnVoiceUpdate supplies the voice transport credentials for this guild,
// obtained from the host application's own channel-join flow. It forwards
// them to the node when possible and flushes any buffered play.
func (p *Player[C]) OnVoiceUpdate(ctx context.Context, sessionID, token, endpoint string) error {
	p.mu.Lock()
	p.voice = VoiceState{Token: token, Endpoint: endpoint, SessionID: sessionID}
	p.hasVoice = true
	hasPending := p.pending != nil
	voice := p.voice
	p.mu.Unlock()

	if !p.node.ready() {
		// Credentials are kept; everything flushes once the node reconnects.
		return nil
	}
	if hasPending {
		return p.flushPending(ctx)
	}
	return p.node.updatePlayer(ctx, p.guildID, playerUpdateBody{Voice: &voice}, false)
}

// flushPending transmits the buffered play request if both gating conditions
// hold, otherwise keeps it buffered.
func (p *Player[C]) flushPending(ctx context.Context) error {
	p.mu.Lock()
	req := p.pending
	if req == nil || !p.hasVoice {
		p.mu.Unlock()
		return nil
	}
	p.pending = nil
	p.mu.Unlock()

	if !p.node.ready() {
		p.mu.Lock()
		if p.pending == nil {
			p.pending = req
		}
		p.mu.Unlock()
		return nil
	}
	p.log.Debug().Msg("flushing buffered play")
	return p.transmit(ctx, req)
}

// applyState applies a server-pushed position/timing report verbatim; the
// server is authoritative and positions are not validated for monotonicity.
func (p *Player[C]) applyState(st PlayerState) {
	p.mu.Lock()
	p.position = time.Duration(st.Position) * time.Millisecond
	p.updatedAt = time.UnixMilli(st.Time)
	p.ping = st.Ping
	if !st.Connected && p.state == PlaybackPlaying {
		p.stalled = true
	} else if st.Connected {
		p.stalled = false
	}
	p.mu.Unlock()
}

func (p *Player[C]) handleEvent(ev eventPayload) {
	out := Event{GuildID: p.guildID, Track: ev.Track}

	p.mu.Lock()
	switch ev.Type {
	case eventTrackStart:
		p.state = PlaybackPlaying
		p.stalled = false
		if ev.Track != nil {
			p.track = ev.Track
		}
		out.Type = EventTrackStart
	case eventTrackEnd:
		p.state = PlaybackIdle
		p.track = nil
		out.Type = EventTrackEnd
		out.Reason = ev.Reason
	case eventTrackException:
		p.state = PlaybackIdle
		p.track = nil
		out.Type = EventTrackException
		if ev.Exception != nil {
			out.Error = ev.Exception.Message
		}
	case eventTrackStuck:
		p.state = PlaybackIdle
		p.track = nil
		out.Type = EventTrackStuck
		out.Threshold = time.Duration(ev.ThresholdMs) * time.Millisecond
	case eventWebSocketClosed:
		// The voice link is gone; subsequent plays buffer until fresh
		// credentials arrive.
		p.hasVoice = false
		p.voice = VoiceState{}
		out.Type = EventWebSocketClosed
		out.Code = ev.Code
		out.ByRemote = ev.ByRemote
	default:
		p.mu.Unlock()
		p.log.Warn().Str("type", ev.Type).Msg("dropped event with unknown type")
		return
	}
	handler := p.handler
	p.mu.Unlock()

	if handler != nil {
		handler(out)
	}
}

// Pause halts playback without discarding the track.
func (p *Player[C]) Pause(ctx context.Context) error {
	paused := true
	if err := p.node.updatePlayer(ctx, p.guildID, playerUpdateBody{Paused: &paused}, false); err != nil {
		return err
	}
	p.mu.Lock()
	if p.state == PlaybackPlaying {
		p.state = PlaybackPaused
	}
	p.mu.Unlock()
	return nil
}

// Resume continues a paused track.
func (p *Player[C]) Resume(ctx context.Context) error {
	paused := false
	if err := p.node.updatePlayer(ctx, p.guildID, playerUpdateBody{Paused: &paused}, false); err != nil {
		return err
	}
	p.mu.Lock()
	if p.state == PlaybackPaused {
		p.state = PlaybackPlaying
	}
	p.mu.Unlock()
	return nil
}

// Stop ends playback and discards any buffered play request.
func (p *Player[C]) Stop(ctx context.Context) error {
	if err := p.node.updatePlayer(ctx, p.guildID, playerUpdateBody{Track: &trackUpdate{Encoded: nil}}, false); err != nil {
		return err
	}
	p.mu.Lock()
	p.state = PlaybackIdle
	p.track = nil
	p.pending = nil
	p.mu.Unlock()
	return nil
}

// SetVolume sets the playback volume in percent (100 is unity).
func (p *Player[C]) SetVolume(ctx context.Context, volume int) error {
	if err := p.node.updatePlayer(ctx, p.guildID, playerUpdateBody{Volume: &volume}, false); err != nil {
		return err
	}
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	return nil
}

// Seek jumps to the given track position.
func (p *Player[C]) Seek(ctx context.Context, position time.Duration) error {
	ms := position.Milliseconds()
	return p.node.updatePlayer(ctx, p.guildID, playerUpdateBody{Position: &ms}, false)
}

// SetFilters replaces the player's filter configuration.
func (p *Player[C]) SetFilters(ctx context.Context, filters map[string]any) error {
	if err := p.node.updatePlayer(ctx, p.guildID, playerUpdateBody{Filters: filters}, false); err != nil {
		return err
	}
	p.mu.Lock()
	p.filters = filters
	p.mu.Unlock()
	return nil
}

// Filters returns the last filter configuration set through SetFilters.
func (p *Player[C]) Filters() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filters
}

// Destroy releases the player: a best-effort remote notification, then local
// cleanup. Idempotent and never fails, even when the owning node's transport
// is already gone.
func (p *Player[C]) Destroy(ctx context.Context) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.pending = nil
	p.hasVoice = false
	p.voice = VoiceState{}
	p.state = PlaybackIdle
	p.track = nil
	p.mu.Unlock()

	if err := p.node.destroyPlayer(ctx, p.guildID); err != nil {
		p.log.Debug().Err(err).Msg("remote player release failed")
	}
	p.node.removePlayer(p.guildID)
	p.log.Info().Msg("player destroyed")
}
