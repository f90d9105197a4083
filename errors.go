package volcano

import (
	"errors"
	"fmt"
)

// Sentinel errors for availability and transport failures. Structured errors
// below carry node/guild context for diagnosis.
var (
	// ErrNoAvailableNodes is returned when a pool holds no nodes at all.
	ErrNoAvailableNodes = errors.New("volcano: no available nodes on this pool")

	// ErrNodeUnavailable is returned when an operation requires a node in the
	// Ready state and the node is not. Outbound work never queues; callers
	// retry once the node reconnects or pick another node.
	ErrNodeUnavailable = errors.New("volcano: node is not ready")
)

// NodeConflictError is returned when a node identifier is already in use
// within a pool.
type NodeConflictError struct {
	Identifier string
}

func (e *NodeConflictError) Error() string {
	return fmt.Sprintf("volcano: node identifier %q is already in use", e.Identifier)
}

// NoMatchesError is returned when no node in the pool matches the requested
// identifier and/or region.
type NoMatchesError struct {
	Identifier string
	Region     string
}

func (e *NoMatchesError) Error() string {
	switch {
	case e.Identifier != "" && e.Region != "":
		return fmt.Sprintf("volcano: no node with identifier %q and region %q in this pool", e.Identifier, e.Region)
	case e.Identifier != "":
		return fmt.Sprintf("volcano: no node with identifier %q in this pool", e.Identifier)
	default:
		return fmt.Sprintf("volcano: no node with region %q in this pool", e.Region)
	}
}

// PlayerNotFoundError is returned by Node.PlayerIfExists when no player is
// registered for the guild.
type PlayerNotFoundError struct {
	Node    string
	GuildID string
}

func (e *PlayerNotFoundError) Error() string {
	return fmt.Sprintf("volcano: no player for guild %q on node %q", e.GuildID, e.Node)
}

// ConnectError wraps a transport-level failure while dialing a node.
type ConnectError struct {
	Node string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("volcano: failed connecting to node %q: %v", e.Node, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// HandshakeError is returned when the node accepts the connection but the
// initial acknowledgement is missing or malformed.
type HandshakeError struct {
	Node   string
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("volcano: handshake with node %q failed: %s", e.Node, e.Reason)
}

// AuthError is returned when the node explicitly rejects the credential.
type AuthError struct {
	Node   string
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("volcano: invalid authorization passed for node %q (status %d)", e.Node, e.Status)
}

// RequestError is returned when the node's request channel answers with a
// non-success status. Body holds the raw response for inspection.
type RequestError struct {
	Node   string
	Status int
	Body   []byte
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("volcano: request to node %q failed with status %d: %s", e.Node, e.Status, e.Body)
}
