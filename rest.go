package volcano

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/jay3332/volcano/codec"
)

func unmarshalRaw(data []byte, v any) error {
	return codec.JSON().Decode(data, v)
}

// request performs one request-channel call. Commands fail fast with
// ErrNodeUnavailable unless the node is Ready; they are never queued.
func (n *Node[C]) request(ctx context.Context, method, path string, body, out any) error {
	if !n.ready() {
		return ErrNodeUnavailable
	}
	return n.rawRequest(ctx, method, path, body, out)
}

// rawRequest skips the readiness gate. Used for best-effort teardown
// notifications where a failure is acceptable.
func (n *Node[C]) rawRequest(ctx context.Context, method, path string, body, out any) error {
	scheme := "http"
	if n.secure {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s:%d%s", scheme, n.host, n.port, path)

	var reader io.Reader
	if body != nil {
		data, err := n.codec.Encode(body)
		if err != nil {
			return fmt.Errorf("volcano: encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("volcano: building request: %w", err)
	}
	req.Header.Set("Authorization", n.password)
	if body != nil {
		req.Header.Set("Content-Type", n.codec.ContentType())
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return &ConnectError{Node: n.identifier, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectError{Node: n.identifier, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RequestError{Node: n.identifier, Status: resp.StatusCode, Body: data}
	}
	if out != nil && len(data) > 0 {
		if err := n.codec.Decode(data, out); err != nil {
			return fmt.Errorf("volcano: decoding response body: %w", err)
		}
	}
	return nil
}

func (n *Node[C]) playerPath(guildID string) string {
	return fmt.Sprintf("/v4/sessions/%s/players/%s", n.SessionID(), guildID)
}

// updatePlayer issues the player-mutating command for a guild.
func (n *Node[C]) updatePlayer(ctx context.Context, guildID string, body playerUpdateBody, noReplace bool) error {
	path := n.playerPath(guildID)
	if noReplace {
		path += "?noReplace=true"
	}
	return n.request(ctx, http.MethodPatch, path, body, nil)
}

// destroyPlayer releases the server-side resources for a guild. Bypasses the
// readiness gate so teardown can still attempt the notification.
func (n *Node[C]) destroyPlayer(ctx context.Context, guildID string) error {
	return n.rawRequest(ctx, http.MethodDelete, n.playerPath(guildID), nil, nil)
}

// ConfigureResuming asks the node to keep this session alive for timeout
// seconds after a control-channel loss, so a reconnect can resume it.
func (n *Node[C]) ConfigureResuming(ctx context.Context, resuming bool, timeoutSeconds int) error {
	path := fmt.Sprintf("/v4/sessions/%s", n.SessionID())
	return n.request(ctx, http.MethodPatch, path, resumeBody{Resuming: resuming, Timeout: timeoutSeconds}, nil)
}

// LoadTracks resolves an identifier (URL or search query) into tracks.
func (n *Node[C]) LoadTracks(ctx context.Context, identifier string) (*LoadResult, error) {
	var result LoadResult
	path := "/v4/loadtracks?identifier=" + url.QueryEscape(identifier)
	if err := n.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DecodeTrack expands an encoded track back into its metadata.
func (n *Node[C]) DecodeTrack(ctx context.Context, encoded string) (*Track, error) {
	var track Track
	path := "/v4/decodetrack?encodedTrack=" + url.QueryEscape(encoded)
	if err := n.request(ctx, http.MethodGet, path, nil, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// FetchStats queries statistics over the request channel, without waiting for
// the next push. The node's load metric is updated as a side effect.
func (n *Node[C]) FetchStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := n.request(ctx, http.MethodGet, "/v4/stats", nil, &stats); err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.stats = &stats
	n.mu.Unlock()
	return &stats, nil
}

// FetchInfo queries the node server build information.
func (n *Node[C]) FetchInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := n.request(ctx, http.MethodGet, "/v4/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Tracks decodes the result payload according to its load type. Search and
// single-track results yield the track list directly; playlist results yield
// the playlist's tracks.
func (r *LoadResult) Tracks() ([]Track, error) {
	switch r.LoadType {
	case LoadTypeTrack:
		var t Track
		if err := unmarshalRaw(r.Data, &t); err != nil {
			return nil, err
		}
		return []Track{t}, nil
	case LoadTypeSearch:
		var ts []Track
		if err := unmarshalRaw(r.Data, &ts); err != nil {
			return nil, err
		}
		return ts, nil
	case LoadTypePlaylist:
		var p Playlist
		if err := unmarshalRaw(r.Data, &p); err != nil {
			return nil, err
		}
		return p.Tracks, nil
	default:
		return nil, nil
	}
}
