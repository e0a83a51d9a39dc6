// Package application coordinates the build session lifecycle: binding a
// project to its active build, resuming after a reload, and tearing state
// down when the bound project changes.
package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pageforge/buildstream/internal/domain/build"
	"github.com/pageforge/buildstream/internal/domain/events"
	"github.com/pageforge/buildstream/internal/domain/session"
	"github.com/pageforge/buildstream/internal/infrastructure/api"
	"github.com/pageforge/buildstream/internal/infrastructure/config"
	"github.com/pageforge/buildstream/internal/infrastructure/journal"
	"github.com/pageforge/buildstream/internal/infrastructure/stream"
)

// SessionService owns the one active build session per process: its
// projection, its stream client, and its durable journal entries. All
// stream and store mutation funnels through here.
//
// Lock order: mu (stream lifecycle) before sessMu (session fields). The
// pump goroutine only ever takes sessMu, so lifecycle operations can wait
// for the pump while holding mu.
type SessionService struct {
	api       *api.Client
	journal   *journal.Journal
	streamCfg config.StreamConfig
	logger    *logrus.Entry

	mu         sync.Mutex
	projection *events.BuildProjection
	client     *stream.Client
	pumpDone   chan struct{}

	sessMu sync.Mutex
	sess   *session.BuildSession
}

// NewSessionService creates a service with an empty projection and no
// active session.
func NewSessionService(apiClient *api.Client, j *journal.Journal, streamCfg config.StreamConfig, logger *logrus.Entry) *SessionService {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SessionService{
		api:        apiClient,
		journal:    j,
		streamCfg:  streamCfg,
		logger:     logger,
		projection: events.NewBuildProjection(),
	}
}

// Projection returns the store UI observers read from. Consumers must
// treat it as read-only and trigger mutation only through session and
// stream handling.
func (s *SessionService) Projection() *events.BuildProjection {
	return s.projection
}

// Session returns a copy of the active session, or nil.
func (s *SessionService) Session() *session.BuildSession {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if s.sess == nil {
		return nil
	}
	cp := *s.sess
	return &cp
}

// StartBuild binds a new build to the given project and starts streaming.
// Any prior session is torn down first; if it belonged to another project
// its state is discarded before any stream activity for the new build.
func (s *SessionService) StartBuild(ctx context.Context, projectID, buildID string) error {
	if projectID == "" || buildID == "" {
		return fmt.Errorf("start build: project id and build id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	s.projection.Reset()

	sess := &session.BuildSession{
		BuildID:    buildID,
		ProjectID:  projectID,
		IsBuilding: true,
		StartedAt:  time.Now(),
	}
	s.setSession(sess)
	if err := s.journal.AppendSession(sess); err != nil {
		s.logger.WithError(err).Warn("journal session write failed")
	}

	// Best-effort initial baseline. A build that has not planned yet has
	// no snapshot; live events seed the view instead.
	if err := s.resync(ctx, buildID); err != nil {
		s.logger.WithError(err).Debug("no initial snapshot")
	}

	return s.startStreamLocked(ctx, buildID)
}

// Resume restores the last journalled session after a process reload. If
// a build was still running, the durable snapshot is loaded first, then a
// fresh remote snapshot is fetched, and only then does the stream flip to
// reconnecting. The view is never left empty while a build progresses
// remotely.
func (s *SessionService) Resume(ctx context.Context) error {
	last, err := s.journal.LastSession()
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if last == nil || !last.IsBuilding {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setSession(&session.BuildSession{
		BuildID:    last.BuildID,
		ProjectID:  last.ProjectID,
		IsBuilding: true,
		StartedAt:  last.StartedAt,
	})

	// Durable baseline first: instant, works offline.
	if err := s.journal.Restore(last.BuildID, s.projection); err != nil {
		s.logger.WithError(err).Warn("journal restore failed")
	}

	// Then the authoritative remote snapshot. A fetch failure is
	// recoverable: live events may still arrive and self-heal the view.
	if err := s.resync(ctx, last.BuildID); err != nil {
		s.logger.WithError(err).Warn("snapshot fetch failed, proceeding with stream")
		s.projection.SetStreamStatus(session.StreamReconnecting, err.Error())
	}

	return s.startStreamLocked(ctx, last.BuildID)
}

// BindProject reacts to the external project selection changing. When the
// tracked build belongs to a different project, the session is reset and
// all build state discarded before any stream operation proceeds.
func (s *SessionService) BindProject(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Session()
	if current == nil || current.Matches(projectID) {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"from": current.ProjectID,
		"to":   projectID,
	}).Info("project switched, resetting build session")

	s.teardownLocked()
	s.setSession(nil)
	s.projection.Reset()
}

// Stop ends the session deliberately: connection closed, retry timer
// cancelled, projection kept for final display.
func (s *SessionService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// stopLocked is Stop's body. Caller holds s.mu.
func (s *SessionService) stopLocked() {
	s.teardownLocked()

	s.sessMu.Lock()
	if s.sess != nil {
		s.sess.IsBuilding = false
		s.sess.StreamStatus = session.StreamIdle
		if err := s.journal.AppendSession(s.sess); err != nil {
			s.logger.WithError(err).Warn("journal session write failed")
		}
	}
	s.sessMu.Unlock()

	s.projection.SetStreamStatus(session.StreamIdle, "")
}

// Wait blocks until the current stream pump exits. Used by the follow
// command to run until the build terminates or the context is cancelled.
func (s *SessionService) Wait(ctx context.Context) {
	s.mu.Lock()
	done := s.pumpDone
	s.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *SessionService) setSession(sess *session.BuildSession) {
	s.sessMu.Lock()
	s.sess = sess
	s.sessMu.Unlock()
}

// startStreamLocked builds and starts the stream client for the given
// build. Caller holds s.mu.
func (s *SessionService) startStreamLocked(ctx context.Context, buildID string) error {
	var transport stream.Transport
	switch s.streamCfg.Transport {
	case "websocket":
		transport = stream.NewWebSocketTransport(nil)
	default:
		transport = stream.NewSSETransport(nil)
	}

	client, err := stream.New(stream.Config{
		URL:         s.api.StreamURL(buildID),
		BuildID:     buildID,
		Transport:   transport,
		BackoffBase: s.streamCfg.BackoffBase,
		BackoffCap:  s.streamCfg.BackoffCap,
		MaxAttempts: s.streamCfg.MaxAttempts,
		Resync: func(ctx context.Context) error {
			return s.resync(ctx, buildID)
		},
		Logger: s.logger,
	})
	if err != nil {
		return fmt.Errorf("create stream client: %w", err)
	}

	s.client = client
	s.pumpDone = make(chan struct{})
	go s.pump(client, buildID, s.pumpDone)
	client.Start(ctx)
	return nil
}

// pump drains the client's event and status channels into the projection
// and the journal until the client stops. It never takes s.mu, so
// lifecycle operations can wait for it.
func (s *SessionService) pump(client *stream.Client, buildID string, done chan struct{}) {
	defer close(done)

	statusCh := client.Status()
	eventCh := client.Events()

	for eventCh != nil || statusCh != nil {
		select {
		case ev, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			s.projection.Apply(ev)
			s.journalEvent(buildID, ev)
			s.observeEvent(buildID, ev)

		case sc, ok := <-statusCh:
			if !ok {
				statusCh = nil
				continue
			}
			s.projection.SetStreamStatus(sc.Status, sc.Err)
			s.sessMu.Lock()
			if s.sess != nil && s.sess.BuildID == buildID {
				s.sess.StreamStatus = sc.Status
				s.sess.LastError = sc.Err
			}
			s.sessMu.Unlock()
		}
	}
}

// observeEvent watches for the build leaving the building state. Plan
// semantics are decided remotely; the client merely stops streaming once
// the plan reports a terminal status.
func (s *SessionService) observeEvent(buildID string, ev events.Event) {
	planEv, ok := ev.(events.PlanEvent)
	if !ok || planEv.Status == "" {
		return
	}
	status, err := build.ParsePlanStatus(planEv.Status)
	if err != nil || !status.IsTerminal() {
		return
	}

	s.logger.WithField("status", status).Info("build finished, closing stream")

	// Stop waits for the pump, and the pump is the caller here. Detach;
	// the session may already track a different build by the time the
	// goroutine runs.
	go s.stopIfCurrent(buildID)
}

// stopIfCurrent stops the session only while it still tracks the given
// build. A terminal event from a finished build must never tear down a
// successor session's stream.
func (s *SessionService) stopIfCurrent(buildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessMu.Lock()
	current := s.sess != nil && s.sess.BuildID == buildID
	s.sessMu.Unlock()
	if !current {
		return
	}

	s.stopLocked()
}

// resync fetches a fresh snapshot to patch the gap left by a dropped
// connection (also used for the initial load on resume). Best effort from
// the stream client's perspective: failure never stops reconnection.
func (s *SessionService) resync(ctx context.Context, buildID string) error {
	plan, err := s.api.GetPlan(ctx, buildID)
	if err != nil {
		return err
	}
	s.projection.LoadSnapshot(plan)
	if err := s.journal.AppendSnapshot(plan); err != nil {
		s.logger.WithError(err).Warn("journal snapshot write failed")
	}
	return nil
}

// journalEvent re-journals a decoded event for durable resume.
func (s *SessionService) journalEvent(buildID string, ev events.Event) {
	env, err := events.Marshal(ev)
	if err != nil {
		s.logger.WithError(err).Warn("journal event marshal failed")
		return
	}
	if err := s.journal.AppendEvent(buildID, env.Kind, env.Data); err != nil {
		s.logger.WithError(err).Warn("journal event write failed")
	}
}

// teardownLocked closes the stream client and waits for its pump, so no
// reconnect attempt or stale event outlives the transition: an old
// session's events can never land in new-session state. Caller holds s.mu.
func (s *SessionService) teardownLocked() {
	if s.client == nil {
		return
	}
	client := s.client
	done := s.pumpDone
	s.client = nil
	s.pumpDone = nil

	_ = client.Close()
	if done != nil {
		<-done
	}
}
