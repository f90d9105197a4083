package volcano

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func poolNodeConfig(identifier, region string) NodeConfig {
	logger := zerolog.Nop()
	return NodeConfig{
		Identifier: identifier,
		Host:       "127.0.0.1",
		Port:       2333,
		Region:     region,
		Logger:     &logger,
	}
}

func TestPoolAddConflict(t *testing.T) {
	pool := NewPool[testClient]()
	node := NewNode(testClient{id: "1"}, poolNodeConfig("alpha", ""))

	require.NoError(t, pool.Add(node, ""))

	got, err := pool.Get("alpha", "")
	require.NoError(t, err)
	require.Same(t, node, got)

	other := NewNode(testClient{id: "1"}, poolNodeConfig("alpha", ""))
	err = pool.Add(other, "")
	var conflict *NodeConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "alpha", conflict.Identifier)
}

func TestPoolCreateDefaultIdentifiers(t *testing.T) {
	pool := NewPool[testClient]()

	first, err := pool.Create(testClient{id: "1"}, poolNodeConfig("", ""))
	require.NoError(t, err)
	require.Equal(t, DefaultIdentifier, first.Identifier())

	// Later unnamed nodes get generated identifiers that never collide.
	seen := map[string]bool{first.Identifier(): true}
	for i := 0; i < 5; i++ {
		node, err := pool.Create(testClient{id: "1"}, poolNodeConfig("", ""))
		require.NoError(t, err)
		require.False(t, seen[node.Identifier()])
		seen[node.Identifier()] = true
	}
}

func TestPoolGetEmpty(t *testing.T) {
	pool := NewPool[testClient]()
	_, err := pool.Get("", "")
	require.ErrorIs(t, err, ErrNoAvailableNodes)
}

func TestPoolGetNoMatches(t *testing.T) {
	pool := NewPool[testClient]()
	_, err := pool.Create(testClient{id: "1"}, poolNodeConfig("a", "us"))
	require.NoError(t, err)
	_, err = pool.Create(testClient{id: "1"}, poolNodeConfig("b", "eu"))
	require.NoError(t, err)

	_, err = pool.Get("missing", "")
	var noMatch *NoMatchesError
	require.ErrorAs(t, err, &noMatch)

	_, err = pool.Get("", "asia")
	require.ErrorAs(t, err, &noMatch)
	require.Equal(t, "asia", noMatch.Region)
}

func TestPoolGetLeastLoaded(t *testing.T) {
	pool := NewPool[testClient]()
	a, err := pool.Create(testClient{id: "1"}, poolNodeConfig("a", "us"))
	require.NoError(t, err)
	b, err := pool.Create(testClient{id: "1"}, poolNodeConfig("b", "us"))
	require.NoError(t, err)
	c, err := pool.Create(testClient{id: "1"}, poolNodeConfig("c", "eu"))
	require.NoError(t, err)

	// Without stats, load falls back to the local player count.
	a.Player("g1")
	a.Player("g2")
	b.Player("g3")

	got, err := pool.Get("", "")
	require.NoError(t, err)
	require.Same(t, c, got, "empty node wins")

	got, err = pool.Get("", "us")
	require.NoError(t, err)
	require.Same(t, b, got, "region filter applies before load comparison")
}

func TestPoolGetTieBreaksByRegistrationOrder(t *testing.T) {
	pool := NewPool[testClient]()
	a, err := pool.Create(testClient{id: "1"}, poolNodeConfig("a", ""))
	require.NoError(t, err)
	_, err = pool.Create(testClient{id: "1"}, poolNodeConfig("b", ""))
	require.NoError(t, err)

	got, err := pool.Get("", "")
	require.NoError(t, err)
	require.Same(t, a, got)
}

func TestPoolGetPlayerIsStable(t *testing.T) {
	pool := NewPool[testClient]()
	a, err := pool.Create(testClient{id: "1"}, poolNodeConfig("a", ""))
	require.NoError(t, err)
	b, err := pool.Create(testClient{id: "1"}, poolNodeConfig("b", ""))
	require.NoError(t, err)

	p1, err := pool.GetPlayer("g1")
	require.NoError(t, err)
	p2, err := pool.GetPlayer("g1")
	require.NoError(t, err)
	require.Same(t, p1, p2, "no duplicate player for the same guild")

	// Even when another node would now win on load, the existing player is
	// found first.
	b.Player("g2")
	b.Player("g3")
	onB, err := pool.GetPlayer("g2")
	require.NoError(t, err)
	require.Same(t, b, onB.Node())
	require.Same(t, a, p1.Node())
}

func TestPoolGetPlayerOnPinsNode(t *testing.T) {
	pool := NewPool[testClient]()
	_, err := pool.Create(testClient{id: "1"}, poolNodeConfig("a", ""))
	require.NoError(t, err)
	b, err := pool.Create(testClient{id: "1"}, poolNodeConfig("b", ""))
	require.NoError(t, err)

	player := pool.GetPlayerOn(b, "g1")
	require.Same(t, b, player.Node())
}

func TestPoolNodesSnapshot(t *testing.T) {
	pool := NewPool[testClient]()
	_, err := pool.Create(testClient{id: "1"}, poolNodeConfig("a", ""))
	require.NoError(t, err)

	snapshot := pool.Nodes()
	_, err = pool.Create(testClient{id: "1"}, poolNodeConfig("b", ""))
	require.NoError(t, err)

	require.Len(t, snapshot, 1, "snapshot does not reflect later mutation")
	require.Equal(t, 2, pool.Len())
}

func TestPoolRemove(t *testing.T) {
	pool := NewPool[testClient]()
	_, err := pool.Create(testClient{id: "1"}, poolNodeConfig("a", ""))
	require.NoError(t, err)

	require.True(t, pool.Remove("a"))
	require.False(t, pool.Remove("a"))
	require.Zero(t, pool.Len())
}

func TestPoolCloseIdempotent(t *testing.T) {
	f := newFakeNode(t)
	pool := NewPool[testClient]()

	cfg := f.config()
	cfg.Identifier = "live"
	node, err := pool.Start(context.Background(), testClient{id: "42"}, cfg)
	require.NoError(t, err)
	_, err = pool.Create(testClient{id: "42"}, poolNodeConfig("cold", ""))
	require.NoError(t, err)

	pool.Close(context.Background())
	require.Zero(t, pool.Len())
	require.Equal(t, StateClosed, node.State())

	// A second close is a no-op, not an error.
	pool.Close(context.Background())
}

func TestDefaultPoolForwarders(t *testing.T) {
	t.Cleanup(func() { CloseDefault(context.Background()) })

	node, err := CreateNode(testClient{id: "1"}, poolNodeConfig("a", ""))
	require.NoError(t, err)

	got, err := GetNode("a", "")
	require.NoError(t, err)
	require.Same(t, node, got)

	other := NewNode[Client](testClient{id: "1"}, poolNodeConfig("a", ""))
	var conflict *NodeConflictError
	require.ErrorAs(t, AddNode(other, ""), &conflict)

	player, err := GetPlayer("g1")
	require.NoError(t, err)
	require.Same(t, node, player.Node())

	cfg := newFakeNode(t).config()
	cfg.Identifier = "live"
	live, err := StartNode(context.Background(), testClient{id: "42"}, cfg)
	require.NoError(t, err)
	require.Equal(t, StateReady, live.State())
}

func TestDefaultPoolLifecycle(t *testing.T) {
	t.Cleanup(func() { CloseDefault(context.Background()) })

	p1 := DefaultPool()
	p2 := DefaultPool()
	require.Same(t, p1, p2)

	CloseDefault(context.Background())
	require.NotSame(t, p1, DefaultPool(), "teardown forgets the old instance")
}
