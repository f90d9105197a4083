package volcano

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jay3332/volcano/codec"
)

// Client is the minimal capability volcano requires from the host application
// handle associated with a node: an identity to present during the
// control-channel handshake.
type Client interface {
	UserID() string
}

// NodeState is a node's lifecycle state. Closed is terminal.
type NodeState int

const (
	StateUnstarted NodeState = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateReconnecting
	StateClosed
)

func (s NodeState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 2333
	DefaultReconnectTries = 5

	defaultReconnectMinWait = time.Second
	defaultReconnectMaxWait = 30 * time.Second
	handshakeTimeout        = 10 * time.Second
)

// NodeConfig describes one backend node. Zero values fall back to the
// documented defaults at construction time.
type NodeConfig struct {
	Identifier string
	Host       string
	Port       int
	Password   string
	Region     string
	Secure     bool

	// Codec defaults to codec.JSON().
	Codec codec.Codec
	// HTTPClient is the request channel transport; defaults to a dedicated
	// client with a 10s timeout.
	HTTPClient *http.Client
	// Logger, when set, is used as the base for the node's contextual logger.
	Logger *zerolog.Logger

	// ReconnectTries bounds the retry budget after an unexpected transport
	// loss; once exhausted the node transitions to Closed. Zero means
	// DefaultReconnectTries.
	ReconnectTries   uint64
	ReconnectMinWait time.Duration
	ReconnectMaxWait time.Duration
}

// Node is a persistent, authenticated link to one backend audio node: a
// websocket control channel receiving pushed state, and an HTTP request
// channel for commands and queries. It owns every Player created on it.
type Node[C Client] struct {
	client     C
	identifier string
	host       string
	port       int
	password   string
	region     string
	secure     bool

	codec codec.Codec
	http  *http.Client
	log   zerolog.Logger

	reconnectTries uint64
	reconnectMin   time.Duration
	reconnectMax   time.Duration

	mu        sync.RWMutex
	state     NodeState
	conn      *websocket.Conn
	sessionID string
	stats     *Stats
	players   map[string]*Player[C]
	cancel    context.CancelFunc
}

// NewNode builds an unstarted node from cfg. It performs no I/O; call Start
// to open the control channel.
func NewNode[C Client](client C, cfg NodeConfig) *Node[C] {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Identifier == "" {
		cfg.Identifier = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.ReconnectTries == 0 {
		cfg.ReconnectTries = DefaultReconnectTries
	}
	if cfg.ReconnectMinWait == 0 {
		cfg.ReconnectMinWait = defaultReconnectMinWait
	}
	if cfg.ReconnectMaxWait == 0 {
		cfg.ReconnectMaxWait = defaultReconnectMaxWait
	}

	base := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.Logger != nil {
		base = *cfg.Logger
	}

	return &Node[C]{
		client:         client,
		identifier:     cfg.Identifier,
		host:           cfg.Host,
		port:           cfg.Port,
		password:       cfg.Password,
		region:         cfg.Region,
		secure:         cfg.Secure,
		codec:          cfg.Codec,
		http:           cfg.HTTPClient,
		log:            base.With().Str("module", "volcano.node").Str("node", cfg.Identifier).Logger(),
		reconnectTries: cfg.ReconnectTries,
		reconnectMin:   cfg.ReconnectMinWait,
		reconnectMax:   cfg.ReconnectMaxWait,
		state:          StateUnstarted,
		players:        make(map[string]*Player[C]),
	}
}

func (n *Node[C]) Identifier() string { return n.identifier }
func (n *Node[C]) Region() string     { return n.region }
func (n *Node[C]) Client() C          { return n.client }

func (n *Node[C]) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// SessionID returns the server-assigned session id from the last handshake,
// empty before the node first becomes ready.
func (n *Node[C]) SessionID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sessionID
}

// Stats returns a copy of the last statistics push, or nil before the first.
func (n *Node[C]) Stats() *Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stats == nil {
		return nil
	}
	s := *n.stats
	return &s
}

// Load is the selection metric: the server-reported player count when stats
// have arrived, otherwise the count of locally owned players.
func (n *Node[C]) Load() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stats != nil {
		return n.stats.Players
	}
	return len(n.players)
}

// Players returns a snapshot of the players owned by this node.
func (n *Node[C]) Players() []*Player[C] {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Player[C], 0, len(n.players))
	for _, p := range n.players {
		out = append(out, p)
	}
	return out
}

func (n *Node[C]) PlayerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.players)
}

// Player returns the player for the guild, creating one lazily if absent.
func (n *Node[C]) Player(guildID string) *Player[C] {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.players[guildID]; ok {
		return p
	}
	p := newPlayer(n, guildID)
	n.players[guildID] = p
	return p
}

// PlayerIfExists returns the player for the guild or a PlayerNotFoundError.
func (n *Node[C]) PlayerIfExists(guildID string) (*Player[C], error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if p, ok := n.players[guildID]; ok {
		return p, nil
	}
	return nil, &PlayerNotFoundError{Node: n.identifier, GuildID: guildID}
}

func (n *Node[C]) playerIfExists(guildID string) *Player[C] {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.players[guildID]
}

func (n *Node[C]) removePlayer(guildID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.players, guildID)
}

func (n *Node[C]) websocketURL() string {
	scheme := "ws"
	if n.secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/v4/websocket", scheme, n.host, n.port)
}

// Start opens the control channel, authenticates, and waits for the ready
// acknowledgement before spawning the dispatch loop. Plays buffered before
// Start are flushed once the node is Ready. Cancelling ctx while the dial is
// in flight leaves the node Closed. A node that is already running is left
// untouched.
func (n *Node[C]) Start(ctx context.Context) error {
	n.mu.Lock()
	switch n.state {
	case StateUnstarted:
	case StateClosed:
		n.mu.Unlock()
		return ErrNodeUnavailable
	default:
		n.mu.Unlock()
		return nil
	}
	n.state = StateConnecting
	n.mu.Unlock()

	n.log.Info().Str("url", n.websocketURL()).Msg("connecting to node")
	conn, ready, err := n.connect(ctx, "")
	if err != nil {
		n.mu.Lock()
		if n.state != StateClosed {
			if ctx.Err() != nil {
				n.state = StateClosed
			} else {
				n.state = StateUnstarted
			}
		}
		n.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	n.mu.Lock()
	if n.state == StateClosed {
		// Destroyed while the dial was in flight.
		n.mu.Unlock()
		cancel()
		_ = conn.Close()
		return ErrNodeUnavailable
	}
	n.conn = conn
	n.sessionID = ready.SessionID
	n.cancel = cancel
	n.state = StateReady
	players := make([]*Player[C], 0, len(n.players))
	for _, p := range n.players {
		players = append(players, p)
	}
	n.mu.Unlock()

	n.log.Info().Str("session", ready.SessionID).Bool("resumed", ready.Resumed).Msg("node ready")
	for _, p := range players {
		if err := p.flushPending(ctx); err != nil {
			p.log.Warn().Err(err).Msg("failed flushing buffered play after start")
		}
	}
	go n.run(runCtx, conn)
	return nil
}

// connect dials the control channel and consumes the ready acknowledgement.
// resume carries a previous session id during reconnection.
func (n *Node[C]) connect(ctx context.Context, resume string) (*websocket.Conn, readyPayload, error) {
	var ready readyPayload

	header := http.Header{}
	header.Set("Authorization", n.password)
	header.Set("User-Id", n.client.UserID())
	header.Set("Client-Name", "volcano/"+Version)
	if resume != "" {
		header.Set("Session-Id", resume)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, n.websocketURL(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ready, &AuthError{Node: n.identifier, Status: resp.StatusCode}
		}
		return nil, ready, &ConnectError{Node: n.identifier, Err: err}
	}

	n.markHandshaking()
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, ready, &HandshakeError{Node: n.identifier, Reason: err.Error()}
	}
	_ = conn.SetReadDeadline(time.Time{})

	var env envelope
	if err := n.codec.Decode(data, &env); err != nil {
		_ = conn.Close()
		return nil, ready, &HandshakeError{Node: n.identifier, Reason: err.Error()}
	}
	if env.Op != opReady {
		_ = conn.Close()
		return nil, ready, &HandshakeError{Node: n.identifier, Reason: fmt.Sprintf("first frame had op %q, expected %q", env.Op, opReady)}
	}
	if err := n.codec.Decode(data, &ready); err != nil {
		_ = conn.Close()
		return nil, ready, &HandshakeError{Node: n.identifier, Reason: err.Error()}
	}
	return conn, ready, nil
}

func (n *Node[C]) markHandshaking() {
	n.mu.Lock()
	if n.state == StateConnecting {
		n.state = StateHandshaking
	}
	n.mu.Unlock()
}

// run is the dispatch loop: it decodes pushed frames and routes them until
// the node is destroyed or the reconnect budget is exhausted.
func (n *Node[C]) run(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.log.Warn().Err(err).Msg("control channel lost")
			next, ok := n.reconnect(ctx)
			if !ok {
				return
			}
			conn = next
			continue
		}
		n.dispatch(data)
	}
}

// reconnect retries the dial and handshake with exponential backoff and
// jitter up to the configured budget. Credential rejections are not retried.
func (n *Node[C]) reconnect(ctx context.Context) (*websocket.Conn, bool) {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return nil, false
	}
	n.state = StateReconnecting
	resume := n.sessionID
	n.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = n.reconnectMin
	bo.MaxInterval = n.reconnectMax

	var (
		conn  *websocket.Conn
		ready readyPayload
	)
	err := backoff.Retry(func() error {
		var err error
		conn, ready, err = n.connect(ctx, resume)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				return backoff.Permanent(err)
			}
			n.log.Debug().Err(err).Msg("reconnect attempt failed")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, n.reconnectTries), ctx))
	if err != nil {
		n.log.Error().Err(err).Msg("reconnect budget exhausted, closing node")
		n.close()
		return nil, false
	}

	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		_ = conn.Close()
		return nil, false
	}
	n.conn = conn
	n.sessionID = ready.SessionID
	n.state = StateReady
	players := make([]*Player[C], 0, len(n.players))
	for _, p := range n.players {
		players = append(players, p)
	}
	n.mu.Unlock()

	n.log.Info().Bool("resumed", ready.Resumed).Msg("node reconnected")
	for _, p := range players {
		if err := p.flushPending(ctx); err != nil {
			p.log.Warn().Err(err).Msg("failed flushing buffered play after reconnect")
		}
	}
	return conn, true
}

func (n *Node[C]) dispatch(data []byte) {
	var env envelope
	if err := n.codec.Decode(data, &env); err != nil {
		n.log.Warn().Err(err).Msg("dropped undecodable frame")
		return
	}

	switch env.Op {
	case opPlayerUpdate:
		var payload playerUpdatePayload
		if err := n.codec.Decode(data, &payload); err != nil {
			n.log.Warn().Err(err).Msg("dropped malformed player update")
			return
		}
		// Updates for a guild without a player are stale pushes for an
		// already destroyed player, not errors.
		if p := n.playerIfExists(payload.GuildID); p != nil {
			p.applyState(payload.State)
		}
	case opEvent:
		var payload eventPayload
		if err := n.codec.Decode(data, &payload); err != nil {
			n.log.Warn().Err(err).Msg("dropped malformed event")
			return
		}
		if p := n.playerIfExists(payload.GuildID); p != nil {
			p.handleEvent(payload)
		}
	case opStats:
		var stats Stats
		if err := n.codec.Decode(data, &stats); err != nil {
			n.log.Warn().Err(err).Msg("dropped malformed stats")
			return
		}
		n.mu.Lock()
		n.stats = &stats
		n.mu.Unlock()
	case opReady:
		// Consumed during the handshake; a duplicate is harmless.
	default:
		n.log.Warn().Str("op", env.Op).Msg("dropped frame with unknown op")
	}
}

func (n *Node[C]) ready() bool {
	return n.State() == StateReady
}

// close transitions to Closed and releases the transports. Players are kept;
// Destroy tears them down as well.
func (n *Node[C]) close() {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return
	}
	n.state = StateClosed
	conn := n.conn
	cancel := n.cancel
	n.conn = nil
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Destroy tears the node down: it cancels the dispatch loop, closes the
// transports, and destroys every owned player with best-effort remote
// notification. Safe to call at any point of the lifecycle, including
// mid-reconnect, and idempotent. The node stays registered in its pool; see
// Pool.Remove.
func (n *Node[C]) Destroy(ctx context.Context) error {
	n.mu.Lock()
	if n.state == StateClosed && len(n.players) == 0 {
		n.mu.Unlock()
		return nil
	}
	players := make([]*Player[C], 0, len(n.players))
	for _, p := range n.players {
		players = append(players, p)
	}
	n.players = make(map[string]*Player[C])
	n.mu.Unlock()

	n.close()
	for _, p := range players {
		p.Destroy(ctx)
	}
	n.log.Info().Msg("node destroyed")
	return nil
}
