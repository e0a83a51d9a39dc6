package application

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pageforge/buildstream/internal/domain/build"
	"github.com/pageforge/buildstream/internal/domain/session"
	"github.com/pageforge/buildstream/internal/infrastructure/api"
	"github.com/pageforge/buildstream/internal/infrastructure/config"
	"github.com/pageforge/buildstream/internal/infrastructure/journal"
)

// buildService is a fake remote build-execution service: a plan snapshot
// endpoint and an SSE stream that plays the given frames, then holds the
// connection open.
type buildService struct {
	plan   *build.Plan
	frames []string
}

func (b *buildService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/build/{buildID}/plan", func(w http.ResponseWriter, r *http.Request) {
		if b.plan == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(b.plan)
	})
	mux.HandleFunc("GET /api/build/{buildID}/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()
		for _, frame := range b.frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
		<-r.Context().Done()
	})
	return mux
}

func newTestService(t *testing.T, svc *buildService) (*SessionService, *journal.Journal) {
	t.Helper()
	ts := httptest.NewServer(svc.handler())
	t.Cleanup(ts.Close)

	j := journal.New(t.TempDir())
	apiClient := api.NewClient(ts.URL, api.WithRetry(1, time.Millisecond))
	streamCfg := config.StreamConfig{
		Transport:   "sse",
		BackoffBase: 5 * time.Millisecond,
		BackoffCap:  10 * time.Millisecond,
	}
	return NewSessionService(apiClient, j, streamCfg, nil), j
}

func sseFrame(event, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

func TestStartBuildStreamsUntilTerminal(t *testing.T) {
	svc := &buildService{
		frames: []string{
			sseFrame("plan_update", `{"id":"p1","build_id":"b1","status":"running","total_tasks":2}`),
			sseFrame("task", `{"id":"t1","name":"Generate hero","status":"done"}`),
			sseFrame("task", `{"id":"t2","status":"done"}`),
			sseFrame("plan_update", `{"id":"p1","status":"completed"}`),
		},
	}
	s, j := newTestService(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.StartBuild(ctx, "proj", "b1"); err != nil {
		t.Fatalf("start build: %v", err)
	}

	// The terminal plan status stops the stream, which ends the pump.
	s.Wait(ctx)
	if ctx.Err() != nil {
		t.Fatal("timed out waiting for build to finish")
	}

	plan := s.Projection().Plan()
	if plan == nil {
		t.Fatal("no plan in projection")
	}
	if plan.Status != build.PlanCompleted {
		t.Errorf("Status = %s, want completed", plan.Status)
	}
	if plan.CompletedTasks != 2 || plan.TotalTasks != 2 {
		t.Errorf("progress = %d/%d, want 2/2", plan.CompletedTasks, plan.TotalTasks)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		sess := s.Session()
		if sess != nil && !sess.IsBuilding {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session still building after terminal plan status")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The session and every decoded event were journalled.
	records, err := j.LoadAll()
	if err != nil {
		t.Fatalf("load journal: %v", err)
	}
	eventRecords := 0
	sessionRecords := 0
	for _, rec := range records {
		switch rec.Type {
		case journal.RecordEvent:
			eventRecords++
		case journal.RecordSession:
			sessionRecords++
		}
	}
	if eventRecords != 4 {
		t.Errorf("journalled events = %d, want 4", eventRecords)
	}
	if sessionRecords < 2 {
		t.Errorf("journalled sessions = %d, want start and stop", sessionRecords)
	}
}

func TestStartBuildValidatesArguments(t *testing.T) {
	s, _ := newTestService(t, &buildService{})
	if err := s.StartBuild(context.Background(), "", "b1"); err == nil {
		t.Error("expected error for empty project id")
	}
	if err := s.StartBuild(context.Background(), "proj", ""); err == nil {
		t.Error("expected error for empty build id")
	}
}

func TestBindProjectSwitchDiscardsState(t *testing.T) {
	svc := &buildService{
		frames: []string{
			sseFrame("task", `{"id":"t1","status":"running"}`),
		},
	}
	s, _ := newTestService(t, svc)

	if err := s.StartBuild(context.Background(), "proj-a", "b1"); err != nil {
		t.Fatalf("start build: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.Projection().Plan() == nil {
		if time.Now().After(deadline) {
			t.Fatal("no events arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Same project: nothing changes.
	s.BindProject("proj-a")
	if s.Session() == nil {
		t.Fatal("session dropped on same-project bind")
	}

	// Different project: session gone, projection empty.
	s.BindProject("proj-b")
	if s.Session() != nil {
		t.Error("session survived project switch")
	}
	if s.Projection().Plan() != nil {
		t.Error("projection survived project switch")
	}
	if status, _ := s.Projection().StreamStatus(); status != session.StreamIdle {
		t.Errorf("stream status = %s, want idle", status)
	}
}

func TestResumeRestoresJournalledBuild(t *testing.T) {
	snapshot := &build.Plan{
		ID: "p1", BuildID: "b1", ProjectID: "proj",
		Status: build.PlanRunning,
		Tasks: []build.Task{
			{ID: "t1", Status: build.StatusDone},
			{ID: "t2", Status: build.StatusRunning},
		},
	}
	svc := &buildService{plan: snapshot}
	s, j := newTestService(t, svc)

	// A prior process journalled an in-flight session and its baseline.
	if err := j.AppendSession(&session.BuildSession{BuildID: "b1", ProjectID: "proj", IsBuilding: true}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if err := j.AppendSnapshot(snapshot); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	if err := s.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	defer s.Stop()

	sess := s.Session()
	if sess == nil || sess.BuildID != "b1" || !sess.IsBuilding {
		t.Fatalf("session = %+v", sess)
	}

	plan := s.Projection().Plan()
	if plan == nil || plan.BuildID != "b1" {
		t.Fatalf("plan = %+v", plan)
	}
	if plan.CompletedTasks != 1 || plan.TotalTasks != 2 {
		t.Errorf("progress = %d/%d, want 1/2", plan.CompletedTasks, plan.TotalTasks)
	}
}

func TestResumeWithoutJournalledSession(t *testing.T) {
	s, _ := newTestService(t, &buildService{})
	if err := s.Resume(context.Background()); err != nil {
		t.Fatalf("resume on empty journal: %v", err)
	}
	if s.Session() != nil {
		t.Error("session appeared from an empty journal")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s, _ := newTestService(t, &buildService{})
	s.Stop()
	s.Stop()
	if status, _ := s.Projection().StreamStatus(); status != session.StreamIdle {
		t.Errorf("stream status = %s, want idle", status)
	}
}

// A terminal status from a finished build detaches a stop goroutine; if a
// new build starts before it runs, the stale stop must not touch the
// successor session.
func TestStaleTerminalStopLeavesNewBuildAlone(t *testing.T) {
	svc := &buildService{
		frames: []string{
			sseFrame("task", `{"id":"t1","status":"running"}`),
		},
	}
	s, _ := newTestService(t, svc)

	if err := s.StartBuild(context.Background(), "proj", "b2"); err != nil {
		t.Fatalf("start build: %v", err)
	}

	// The stop carries b1's identity; the session now tracks b2.
	s.stopIfCurrent("b1")

	sess := s.Session()
	if sess == nil || sess.BuildID != "b2" {
		t.Fatalf("session = %+v, want build b2", sess)
	}
	if !sess.IsBuilding {
		t.Error("b2 session stopped by a stale terminal event")
	}

	// Matching identity still stops the session.
	s.stopIfCurrent("b2")
	if sess := s.Session(); sess == nil || sess.IsBuilding {
		t.Error("stop for the current build did not take effect")
	}
}
