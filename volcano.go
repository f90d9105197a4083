// Package volcano is a client for clusters of remote audio-processing nodes
// speaking the Lavalink v4 wire protocol. A Pool registers nodes, balances
// players across them by load, and recovers sessions when a node's control
// channel drops. Hosts supply a handle implementing Client; volcano never
// touches the host's own gateway or voice-channel join flow.
package volcano

import (
	"context"
	"sync"
)

// Version is reported to nodes in the Client-Name handshake header.
const Version = "0.1.0"

// The process-wide default pool. It is created explicitly by the first
// DefaultPool call and torn down only by CloseDefault; there is no other
// package-level mutable state.
var (
	defaultMu   sync.Mutex
	defaultPool *Pool[Client]
)

// DefaultPool returns the process-wide pool shared by callers that do not
// thread their own, creating it on first use. Nodes added here carry the
// plain Client capability.
func DefaultPool() *Pool[Client] {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultPool == nil {
		defaultPool = NewPool[Client]()
	}
	return defaultPool
}

// CloseDefault tears down the default pool and forgets it; a later
// DefaultPool call starts fresh. Safe to call when the pool was never used.
func CloseDefault(ctx context.Context) {
	defaultMu.Lock()
	pool := defaultPool
	defaultPool = nil
	defaultMu.Unlock()
	if pool != nil {
		pool.Close(ctx)
	}
}

// Package-level forwarders over the default pool, for hosts that run a single
// cluster and don't want to thread a Pool around.

// AddNode registers a pre-built node on the default pool.
func AddNode(node *Node[Client], identifier string) error {
	return DefaultPool().Add(node, identifier)
}

// CreateNode builds and registers an unstarted node on the default pool.
func CreateNode(client Client, cfg NodeConfig) (*Node[Client], error) {
	return DefaultPool().Create(client, cfg)
}

// StartNode builds, registers, and starts a node on the default pool.
func StartNode(ctx context.Context, client Client, cfg NodeConfig) (*Node[Client], error) {
	return DefaultPool().Start(ctx, client, cfg)
}

// GetNode selects a node from the default pool; see Pool.Get.
func GetNode(identifier, region string) (*Node[Client], error) {
	return DefaultPool().Get(identifier, region)
}

// GetPlayer returns the guild's player from the default pool; see
// Pool.GetPlayer.
func GetPlayer(guildID string) (*Player[Client], error) {
	return DefaultPool().GetPlayer(guildID)
}
