// Package stream maintains connectivity to a build's push-event endpoint:
// one live connection, exponential backoff on failure, and exactly one
// decoded event surfaced per inbound frame.
package stream

import "context"

// Frame is one raw push frame as delivered by the transport: the channel
// name and the undecoded payload bytes.
type Frame struct {
	ID    string
	Event string
	Data  []byte
}

// Conn is a live connection handle. Next blocks until a frame arrives or
// the connection fails; Close releases the connection and is safe to call
// exactly once per handle (subsequent calls are no-ops).
type Conn interface {
	Next() (Frame, error)
	Close() error
}

// Transport opens connections to a push-event endpoint. Implementations
// exist for Server-Sent Events (the default) and WebSocket.
type Transport interface {
	Connect(ctx context.Context, url string) (Conn, error)
}
