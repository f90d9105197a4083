package volcano

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultIdentifier is assigned to the first node created on an empty pool
// when no identifier is supplied.
const DefaultIdentifier = "MAIN"

// Pool is a registry of nodes plus selection, failover, and player lookup.
// Registration order is preserved for deterministic tie-breaks.
type Pool[C Client] struct {
	mu    sync.RWMutex
	order []string
	nodes map[string]*Node[C]
}

// NewPool constructs an empty pool.
func NewPool[C Client]() *Pool[C] {
	return &Pool[C]{nodes: make(map[string]*Node[C])}
}

// Add registers a pre-built node. An empty identifier defaults to the node's
// own. Returns a NodeConflictError if the identifier is already in use.
func (p *Pool[C]) Add(node *Node[C], identifier string) error {
	if identifier == "" {
		identifier = node.Identifier()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.nodes[identifier]; ok {
		return &NodeConflictError{Identifier: identifier}
	}
	p.nodes[identifier] = node
	p.order = append(p.order, identifier)
	return nil
}

// Create builds an unstarted node from cfg and registers it. With no
// identifier, the first node on an empty pool gets DefaultIdentifier and
// later ones get a generated identifier that never collides.
func (p *Pool[C]) Create(client C, cfg NodeConfig) (*Node[C], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cfg.Identifier == "" {
		if len(p.nodes) == 0 {
			cfg.Identifier = DefaultIdentifier
		} else {
			for {
				cfg.Identifier = uuid.NewString()
				if _, ok := p.nodes[cfg.Identifier]; !ok {
					break
				}
			}
		}
	}
	if _, ok := p.nodes[cfg.Identifier]; ok {
		return nil, &NodeConflictError{Identifier: cfg.Identifier}
	}

	node := NewNode(client, cfg)
	p.nodes[cfg.Identifier] = node
	p.order = append(p.order, cfg.Identifier)
	return node, nil
}

// Start is Create followed by the node's Start; Start failures propagate
// unchanged, with the node left registered.
func (p *Pool[C]) Start(ctx context.Context, client C, cfg NodeConfig) (*Node[C], error) {
	node, err := p.Create(client, cfg)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, err
	}
	return node, nil
}

// Get selects a node. A non-empty identifier is an exact lookup. Otherwise
// nodes are filtered by region (when non-empty) and the one with the minimum
// load metric wins, ties resolving to the earliest registered. Returns
// ErrNoAvailableNodes on an empty pool and a NoMatchesError when the lookup
// or filter yields nothing. Closed nodes are not skipped; evicting them is the
// operator's call via Remove, and their requests fail fast anyway.
func (p *Pool[C]) Get(identifier, region string) (*Node[C], error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.nodes) == 0 {
		return nil, ErrNoAvailableNodes
	}
	if identifier != "" {
		if node, ok := p.nodes[identifier]; ok {
			return node, nil
		}
		return nil, &NoMatchesError{Identifier: identifier, Region: region}
	}

	var best *Node[C]
	bestLoad := 0
	for _, id := range p.order {
		node := p.nodes[id]
		if region != "" && node.Region() != region {
			continue
		}
		if load := node.Load(); best == nil || load < bestLoad {
			best = node
			bestLoad = load
		}
	}
	if best == nil {
		return nil, &NoMatchesError{Region: region}
	}
	return best, nil
}

// GetPlayer returns the player for the guild. Registered nodes are scanned
// in registration order for an existing player; absent one, the least-loaded
// node is selected and a player is created there lazily.
func (p *Pool[C]) GetPlayer(guildID string) (*Player[C], error) {
	p.mu.RLock()
	for _, id := range p.order {
		if player, err := p.nodes[id].PlayerIfExists(guildID); err == nil {
			p.mu.RUnlock()
			return player, nil
		}
	}
	p.mu.RUnlock()

	node, err := p.Get("", "")
	if err != nil {
		return nil, err
	}
	return node.Player(guildID), nil
}

// GetPlayerOn returns the guild's player on a specific node, creating it
// lazily, bypassing pool-wide lookup and balancing.
func (p *Pool[C]) GetPlayerOn(node *Node[C], guildID string) *Player[C] {
	return node.Player(guildID)
}

// Nodes returns a snapshot of the registered nodes in registration order.
// Mutations after the call are not reflected in the returned slice.
func (p *Pool[C]) Nodes() []*Node[C] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Node[C], 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.nodes[id])
	}
	return out
}

// Len returns the number of registered nodes.
func (p *Pool[C]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.nodes)
}

// Remove unregisters a node without destroying it. Closed nodes are never
// evicted automatically; this is the operator's lever.
func (p *Pool[C]) Remove(identifier string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.nodes[identifier]; !ok {
		return false
	}
	delete(p.nodes, identifier)
	for i, id := range p.order {
		if id == identifier {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// Close destroys every node and clears the pool. One node's teardown failure
// never blocks the rest. Idempotent.
func (p *Pool[C]) Close(ctx context.Context) {
	p.mu.Lock()
	nodes := make([]*Node[C], 0, len(p.order))
	for _, id := range p.order {
		nodes = append(nodes, p.nodes[id])
	}
	p.nodes = make(map[string]*Node[C])
	p.order = nil
	p.mu.Unlock()

	for _, node := range nodes {
		if err := node.Destroy(ctx); err != nil {
			node.log.Warn().Err(err).Msg("node teardown failed")
		}
	}
}
