package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/pageforge/buildstream/internal/domain/events"
)

// WebSocketTransport connects to deployments that deliver build events over
// a websocket instead of SSE. Each text message is a framed envelope:
// {"kind":"task","data":{...}}.
type WebSocketTransport struct {
	dialer *websocket.Dialer
}

// NewWebSocketTransport creates a websocket transport. A nil dialer uses
// websocket.DefaultDialer.
func NewWebSocketTransport(dialer *websocket.Dialer) *WebSocketTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WebSocketTransport{dialer: dialer}
}

// Connect dials the endpoint.
func (t *WebSocketTransport) Connect(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
	once sync.Once
}

// Next reads one message and splits the envelope into a frame. The payload
// stays undecoded; the client owns decoding so both transports surface
// identical frames.
func (c *wsConn) Next() (Frame, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return Frame{}, fmt.Errorf("read websocket: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Surface the malformed frame; the client counts and skips it.
			return Frame{Data: data}, nil
		}
		return Frame{Event: string(env.Kind), Data: env.Data}, nil
	}
}

// Close closes the websocket. Safe to call multiple times.
func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
	})
	return err
}
