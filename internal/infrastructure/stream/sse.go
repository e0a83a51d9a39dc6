package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// SSETransport connects to a text/event-stream endpoint. The HTTP client
// must not impose a request timeout: the stream is long-lived and the only
// timing control is the reconnect backoff.
type SSETransport struct {
	client *http.Client
}

// NewSSETransport creates an SSE transport. A nil client uses a dedicated
// timeout-free http.Client.
func NewSSETransport(client *http.Client) *SSETransport {
	if client == nil {
		client = &http.Client{}
	}
	return &SSETransport{client: client}
}

// Connect opens the stream and verifies the server is actually speaking SSE.
func (t *SSETransport) Connect(ctx context.Context, url string) (Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: unexpected content type %q", ct)
	}

	return newSSEConn(resp.Body), nil
}

// sseConn parses the event-stream wire format frame by frame.
type sseConn struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	once    sync.Once
}

func newSSEConn(body io.ReadCloser) *sseConn {
	scanner := bufio.NewScanner(body)
	// Preview payloads carry full render output; allow large frames.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	return &sseConn{body: body, scanner: scanner}
}

// Next reads lines until a blank-line frame boundary and returns the
// accumulated frame. Comment lines (leading colon) are skipped; multiple
// data lines are joined with newlines per the SSE format.
func (c *sseConn) Next() (Frame, error) {
	var frame Frame
	var data []string

	for c.scanner.Scan() {
		line := c.scanner.Text()

		if line == "" {
			if frame.Event == "" && len(data) == 0 {
				continue // stray keep-alive separator
			}
			frame.Data = []byte(strings.Join(data, "\n"))
			return frame, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if idx := strings.Index(line, ":"); idx >= 0 {
			field = line[:idx]
			value = strings.TrimPrefix(line[idx+1:], " ")
		}

		switch field {
		case "id":
			frame.ID = value
		case "event":
			frame.Event = value
		case "data":
			data = append(data, value)
		}
	}

	if err := c.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("read stream: %w", err)
	}
	return Frame{}, io.EOF
}

// Close releases the underlying response body. Safe to call multiple
// times; only the first call closes.
func (c *sseConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.body.Close()
	})
	return err
}
