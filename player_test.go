package volcano

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func patchBodies(f *fakeNode, guildID string) []string {
	var out []string
	for _, r := range f.requestLog() {
		if r.Method == http.MethodPatch && strings.HasSuffix(r.Path, "/players/"+guildID) {
			out = append(out, string(r.Body))
		}
	}
	return out
}

func TestPlayBuffersWithoutCredentials(t *testing.T) {
	f := newFakeNode(t)
	node := startedNode(t, f)
	player := node.Player("g1")

	require.NoError(t, player.Play(context.Background(), Track{Encoded: "first"}, PlayOptions{}))
	require.Empty(t, patchBodies(f, "g1"), "play must buffer, not transmit")

	// A newer play replaces the buffered one.
	require.NoError(t, player.Play(context.Background(), Track{Encoded: "second"}, PlayOptions{}))

	require.NoError(t, player.OnVoiceUpdate(context.Background(), "vsess", "tok", "voice.example"))

	bodies := patchBodies(f, "g1")
	require.Len(t, bodies, 1, "exactly one buffered play flushes")
	require.Contains(t, bodies[0], `"second"`)
	require.NotContains(t, bodies[0], `"first"`)
	require.Contains(t, bodies[0], `"tok"`)
	require.True(t, player.Connected())
}

func TestBufferedPlayFlushesOnStart(t *testing.T) {
	f := newFakeNode(t)
	node := NewNode(testClient{id: "42"}, f.config())
	t.Cleanup(func() { _ = node.Destroy(context.Background()) })
	player := node.Player("g1")

	// Credentials arrive and a play is issued before the node ever starts.
	require.NoError(t, player.OnVoiceUpdate(context.Background(), "vsess", "tok", "voice.example"))
	require.NoError(t, player.Play(context.Background(), Track{Encoded: "queued"}, PlayOptions{}))
	require.Empty(t, patchBodies(f, "g1"))

	require.NoError(t, node.Start(context.Background()))

	bodies := patchBodies(f, "g1")
	require.Len(t, bodies, 1, "buffered play must flush when the node becomes ready")
	require.Contains(t, bodies[0], `"queued"`)
	require.Contains(t, bodies[0], `"tok"`)
}

func TestPlayFailsOnClosedNode(t *testing.T) {
	f := newFakeNode(t)
	node := startedNode(t, f)
	player := node.Player("g1")

	f.mu.Lock()
	f.rejectDial = true
	f.mu.Unlock()
	f.dropConns()

	require.Eventually(t, func() bool {
		return node.State() == StateClosed
	}, 5*time.Second, 10*time.Millisecond)

	// Closed is terminal: the play is refused, not buffered forever.
	err := player.Play(context.Background(), Track{Encoded: "abc"}, PlayOptions{})
	require.ErrorIs(t, err, ErrNodeUnavailable)
	require.Empty(t, patchBodies(f, "g1"))
}

func TestDirectPlayDiscardsStaleBuffer(t *testing.T) {
	f := newFakeNode(t)
	node := startedNode(t, f)
	player := node.Player("g1")

	require.NoError(t, player.OnVoiceUpdate(context.Background(), "vsess", "tok", "voice.example"))

	// A request buffered during a readiness gap must not outlive a newer
	// play that transmitted directly.
	player.mu.Lock()
	player.pending = &pendingPlay{track: Track{Encoded: "stale"}}
	player.mu.Unlock()

	require.NoError(t, player.Play(context.Background(), Track{Encoded: "fresh"}, PlayOptions{}))
	require.NoError(t, player.flushPending(context.Background()))

	bodies := patchBodies(f, "g1")
	require.Len(t, bodies, 2, "voice update then the fresh play, nothing more")
	require.Contains(t, bodies[1], `"fresh"`)
	for _, body := range bodies {
		require.NotContains(t, body, `"stale"`)
	}
}

func TestPlayTransmitsWhenReady(t *testing.T) {
	f := newFakeNode(t)
	node := startedNode(t, f)
	player := node.Player("g1")

	require.NoError(t, player.OnVoiceUpdate(context.Background(), "vsess", "tok", "voice.example"))
	require.NoError(t, player.Play(context.Background(), Track{Encoded: "abc"}, PlayOptions{
		StartPosition: 5 * time.Second,
		Volume:        80,
	}))

	bodies := patchBodies(f, "g1")
	require.Len(t, bodies, 2, "voice update then play")
	require.Contains(t, bodies[1], `"abc"`)
	require.Contains(t, bodies[1], `"position":5000`)
	require.Contains(t, bodies[1], `"volume":80`)
	require.Equal(t, 80, player.Volume())
}

func TestEndEventThenBufferedPlaySurvives(t *testing.T) {
	f := newFakeNode(t)
	node := startedNode(t, f)
	player := node.Player("g1")

	var mu sync.Mutex
	var events []Event
	player.OnEvent(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	f.push(`{"op":"event","type":"TrackStartEvent","guildId":"g1","track":{"encoded":"abc","info":{"title":"song"}}}`)
	require.Eventually(t, func() bool {
		return player.State() == PlaybackPlaying
	}, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, player.Track())

	f.push(`{"op":"event","type":"TrackEndEvent","guildId":"g1","reason":"finished"}`)
	require.Eventually(t, func() bool {
		return player.State() == PlaybackIdle
	}, 2*time.Second, 10*time.Millisecond)
	require.Nil(t, player.Track())

	mu.Lock()
	require.Len(t, events, 2)
	require.Equal(t, EventTrackEnd, events[1].Type)
	require.Equal(t, "finished", events[1].Reason)
	mu.Unlock()

	// No credentials were ever supplied: the next play buffers instead of
	// raising, and is not lost once credentials arrive.
	require.NoError(t, player.Play(context.Background(), Track{Encoded: "next"}, PlayOptions{}))
	require.Empty(t, patchBodies(f, "g1"))

	require.NoError(t, player.OnVoiceUpdate(context.Background(), "vsess", "tok", "voice.example"))
	bodies := patchBodies(f, "g1")
	require.Len(t, bodies, 1)
	require.Contains(t, bodies[0], `"next"`)
}

func TestWebSocketClosedClearsCredentials(t *testing.T) {
	f := newFakeNode(t)
	node := startedNode(t, f)
	player := node.Player("g1")

	require.NoError(t, player.OnVoiceUpdate(context.Background(), "vsess", "tok", "voice.example"))
	require.True(t, player.Connected())

	f.push(`{"op":"event","type":"WebSocketClosedEvent","guildId":"g1","code":4006,"byRemote":true}`)
	require.Eventually(t, func() bool {
		return !player.Connected()
	}, 2*time.Second, 10*time.Millisecond)

	before := len(patchBodies(f, "g1"))
	require.NoError(t, player.Play(context.Background(), Track{Encoded: "abc"}, PlayOptions{}))
	require.Len(t, patchBodies(f, "g1"), before, "play must re-buffer after link loss")
}

func TestStalledIndicator(t *testing.T) {
	f := newFakeNode(t)
	node := startedNode(t, f)
	player := node.Player("g1")

	f.push(`{"op":"event","type":"TrackStartEvent","guildId":"g1","track":{"encoded":"abc","info":{}}}`)
	require.Eventually(t, func() bool {
		return player.State() == PlaybackPlaying
	}, 2*time.Second, 10*time.Millisecond)

	f.push(`{"op":"playerUpdate","guildId":"g1","state":{"time":1,"position":100,"connected":false,"ping":-1}}`)
	require.Eventually(t, func() bool {
		return player.Stalled()
	}, 2*time.Second, 10*time.Millisecond)

	// Link loss is an indicator, not a state transition.
	require.Equal(t, PlaybackPlaying, player.State())
}

func TestPauseResumeStop(t *testing.T) {
	f := newFakeNode(t)
	node := startedNode(t, f)
	player := node.Player("g1")

	f.push(`{"op":"event","type":"TrackStartEvent","guildId":"g1","track":{"encoded":"abc","info":{}}}`)
	require.Eventually(t, func() bool {
		return player.State() == PlaybackPlaying
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, player.Pause(context.Background()))
	require.Equal(t, PlaybackPaused, player.State())

	require.NoError(t, player.Resume(context.Background()))
	require.Equal(t, PlaybackPlaying, player.State())

	require.NoError(t, player.Stop(context.Background()))
	require.Equal(t, PlaybackIdle, player.State())

	bodies := patchBodies(f, "g1")
	require.Len(t, bodies, 3)
	require.Contains(t, bodies[0], `"paused":true`)
	require.Contains(t, bodies[1], `"paused":false`)
	require.Contains(t, bodies[2], `"encoded":null`)
}

func TestPlayerDestroyIdempotent(t *testing.T) {
	f := newFakeNode(t)
	node := startedNode(t, f)
	player := node.Player("g1")

	player.Destroy(context.Background())
	player.Destroy(context.Background())

	var deletes int
	for _, r := range f.requestLog() {
		if r.Method == http.MethodDelete && strings.HasSuffix(r.Path, "/players/g1") {
			deletes++
		}
	}
	require.Equal(t, 1, deletes)

	_, err := node.PlayerIfExists("g1")
	require.Error(t, err)

	// Destroy never fails, even once the node's transport is gone.
	orphan := node.Player("g2")
	require.NoError(t, node.Destroy(context.Background()))
	orphan.Destroy(context.Background())
}
