package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pageforge/buildstream/internal/domain/events"
	"github.com/pageforge/buildstream/internal/domain/session"
)

// sseWriter flushes SSE frames to a test response.
func writeFrame(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	w.(http.Flusher).Flush()
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()
}

func collectStatuses(ch <-chan StatusChange, out *[]session.StreamStatus, done chan<- struct{}) {
	for sc := range ch {
		*out = append(*out, sc.Status)
	}
	close(done)
}

func TestClientStreamsAndReconnects(t *testing.T) {
	var conns atomic.Int32
	resyncs := make(chan struct{}, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		sseHeaders(w)
		switch n {
		case 1:
			writeFrame(w, "task", `{"id":"t1","status":"running"}`)
			writeFrame(w, "task", `{"id":"t1","status":"done"}`)
			// Handler returns: connection drops.
		default:
			writeFrame(w, "task", `{"id":"t2","status":"done"}`)
			<-r.Context().Done()
		}
	}))
	defer server.Close()

	client, err := New(Config{
		URL:         server.URL,
		BuildID:     "b1",
		BackoffBase: 5 * time.Millisecond,
		BackoffCap:  10 * time.Millisecond,
		Resync: func(ctx context.Context) error {
			select {
			case resyncs <- struct{}{}:
			default:
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	var statuses []session.StreamStatus
	statusDone := make(chan struct{})
	go collectStatuses(client.Status(), &statuses, statusDone)

	client.Start(context.Background())

	var got []events.Event
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-client.Events():
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out with %d events", len(got))
		}
	}

	// The third event only arrives over the second connection, so the
	// client must have dropped, resynced and reconnected by now.
	select {
	case <-resyncs:
	case <-time.After(time.Second):
		t.Error("resync not invoked after drop")
	}

	task, ok := got[2].(events.TaskEvent)
	if !ok || task.ID != "t2" {
		t.Errorf("event after reconnect = %+v", got[2])
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	<-statusDone

	sawConnected, sawReconnecting := false, false
	for _, s := range statuses {
		switch s {
		case session.StreamConnected:
			sawConnected = true
		case session.StreamReconnecting:
			sawReconnecting = true
		}
	}
	if !sawConnected || !sawReconnecting {
		t.Errorf("statuses = %v, want both connected and reconnecting", statuses)
	}
}

func TestClientSkipsMalformedFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		writeFrame(w, "task", `{not json`)
		writeFrame(w, "mystery_kind", `{}`)
		writeFrame(w, "task", `{"id":"t1","status":"done"}`)
		<-r.Context().Done()
	}))
	defer server.Close()

	client, err := New(Config{URL: server.URL, BuildID: "b1", BackoffBase: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	defer client.Close()

	client.Start(context.Background())

	select {
	case ev := <-client.Events():
		task, ok := ev.(events.TaskEvent)
		if !ok || task.ID != "t1" {
			t.Errorf("event = %+v, want t1", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the valid frame")
	}

	if n := client.DecodeFailures(); n != 2 {
		t.Errorf("DecodeFailures = %d, want 2", n)
	}
}

func TestClientGivesUpAtRetryCeiling(t *testing.T) {
	// A server that is already gone.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := New(Config{
		URL:         url,
		BuildID:     "b1",
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	client.Start(context.Background())

	var last session.StreamStatus
	timeout := time.After(5 * time.Second)
	for {
		select {
		case sc, ok := <-client.Status():
			if !ok {
				if last != session.StreamError {
					t.Fatalf("final status = %s, want error", last)
				}
				if client.CurrentStatus() != session.StreamError {
					t.Fatalf("CurrentStatus = %s, want error", client.CurrentStatus())
				}
				return
			}
			last = sc.Status
		case <-timeout:
			t.Fatal("client never gave up")
		}
	}
}

func TestClientRetriesIndefinitelyByDefault(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conns.Add(1) < 4 {
			// Refuse the stream a few times before accepting.
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		sseHeaders(w)
		writeFrame(w, "task", `{"id":"t1","status":"done"}`)
		<-r.Context().Done()
	}))
	defer server.Close()

	client, err := New(Config{URL: server.URL, BuildID: "b1", BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	defer client.Close()

	client.Start(context.Background())

	select {
	case ev := <-client.Events():
		if task, ok := ev.(events.TaskEvent); !ok || task.ID != "t1" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client stopped retrying before the endpoint recovered")
	}
}

func TestClientCloseCancelsPendingRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := New(Config{
		URL:         server.URL,
		BuildID:     "b1",
		BackoffBase: time.Hour, // a pending timer Close must cancel
	})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	client.Start(context.Background())
	time.Sleep(50 * time.Millisecond) // let the first attempt fail

	closed := make(chan struct{})
	go func() {
		_ = client.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on the retry timer")
	}

	// Channels drain and close after Close.
	for range client.Events() {
	}
	for range client.Status() {
	}
}

func TestClientCloseWithoutStart(t *testing.T) {
	client, err := New(Config{URL: "http://localhost:0", BuildID: "b1"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Start after Close is a no-op: the connect loop must not spawn, or
	// it would close the already-closed channels on exit.
	client.Start(context.Background())
	if got := client.CurrentStatus(); got != session.StreamIdle {
		t.Errorf("status after closed Start = %s, want idle", got)
	}
	if _, ok := <-client.Events(); ok {
		t.Error("events channel should be closed")
	}
	if _, ok := <-client.Status(); ok {
		t.Error("status channel should be closed")
	}
}
