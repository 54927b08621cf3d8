package mcp

import (
	"context"
	"iter"
)

// ServerTransport provides the server-side communication layer.
type ServerTransport interface {
	// Sessions returns an iterator that yields new client connections as they are initiated.
	// Each yielded Conn represents a unique client connection. The implementation must
	// guarantee that each connection ID is unique across all active connections.
	//
	// The implementation should exit the iteration when the Shutdown method is called.
	Sessions() iter.Seq[Conn]

	// Shutdown gracefully shuts down the ServerTransport to clean up resources. The implementations should not
	// stop the Conns it produced, the caller already does that before calling this method. The caller
	// is guaranteed to call this method only once.
	Shutdown(ctx context.Context) error
}

// ClientTransport provides the client-side communication layer.
type ClientTransport interface {
	// StartSession connects to the server and returns the connection once it is ready to
	// send messages. Operations are canceled when the context is canceled.
	StartSession(ctx context.Context) (Conn, error)
}

// Conn represents a bidirectional channel carrying one encoded JSON-RPC message per unit.
//
// Messages are passed undecoded so the receiving side decides how to report malformed
// input, for example with a parse error carrying a null ID.
type Conn interface {
	// ID returns the unique identifier for this connection.
	ID() string

	// Send transmits one encoded message to the other party. It returns once the message
	// was written or the context is done.
	Send(ctx context.Context, msg []byte) error

	// Messages returns an iterator that yields messages received from the other party.
	// The next message is not read before the previous yield returns. The implementations
	// should exit the iteration if the connection is closed.
	Messages() iter.Seq[[]byte]

	// Stop stops the connection. It is safe to call more than once.
	Stop()
}
