// Package journal persists decoded build events and snapshot baselines as
// an append-only JSON Lines file. It is the durable state a reloaded
// process resumes from: last session record, last snapshot, and the events
// received since.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pageforge/buildstream/internal/domain/build"
	"github.com/pageforge/buildstream/internal/domain/events"
	"github.com/pageforge/buildstream/internal/domain/session"
)

// Record types.
const (
	RecordEvent    = "event"
	RecordSnapshot = "snapshot"
	RecordSession  = "session"
)

// Record is one journal line.
type Record struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	BuildID   string          `json:"build_id,omitempty"`
	Kind      events.Kind     `json:"kind,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Journal is a file-backed append-only record log.
type Journal struct {
	mu       sync.RWMutex
	path     string
	basePath string
}

// New creates a journal at basePath/journal.jsonl. The directory is
// created on first write, not at construction time.
func New(basePath string) *Journal {
	return &Journal{
		path:     filepath.Join(basePath, "journal.jsonl"),
		basePath: basePath,
	}
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// AppendEvent journals one decoded push event's raw payload.
func (j *Journal) AppendEvent(buildID string, kind events.Kind, data json.RawMessage) error {
	return j.append(&Record{
		Type:    RecordEvent,
		BuildID: buildID,
		Kind:    kind,
		Data:    data,
	})
}

// AppendSnapshot journals a full plan baseline. Replay starts from the
// most recent snapshot, so older events become irrelevant.
func (j *Journal) AppendSnapshot(plan *build.Plan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return j.append(&Record{
		Type:    RecordSnapshot,
		BuildID: plan.BuildID,
		Data:    data,
	})
}

// AppendSession journals the session binding so a reloaded process knows
// which build (and project) was active.
func (j *Journal) AppendSession(sess *session.BuildSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return j.append(&Record{
		Type:    RecordSession,
		BuildID: sess.BuildID,
		Data:    data,
	})
}

func (j *Journal) append(rec *Record) (err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	if err := os.MkdirAll(j.basePath, 0750); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close journal: %w", cerr)
		}
	}()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// LoadAll returns all records in append order. A missing file is an empty
// journal, not an error.
func (j *Journal) LoadAll() ([]*Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.loadRecords()
}

// LastSession returns the most recent session record, or nil when the
// journal holds none.
func (j *Journal) LastSession() (*session.BuildSession, error) {
	records, err := j.LoadAll()
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Type != RecordSession {
			continue
		}
		var sess session.BuildSession
		if err := json.Unmarshal(records[i].Data, &sess); err != nil {
			return nil, fmt.Errorf("unmarshal session record: %w", err)
		}
		return &sess, nil
	}
	return nil, nil
}

// LastSnapshot returns the most recent snapshot for a build, or nil when
// the journal holds none.
func (j *Journal) LastSnapshot(buildID string) (*build.Plan, error) {
	records, err := j.LoadAll()
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Type != RecordSnapshot || records[i].BuildID != buildID {
			continue
		}
		var plan build.Plan
		if err := json.Unmarshal(records[i].Data, &plan); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot record: %w", err)
		}
		return &plan, nil
	}
	return nil, nil
}

// EventsSinceSnapshot returns the event records for a build that follow
// its most recent snapshot.
func (j *Journal) EventsSinceSnapshot(buildID string) ([]*Record, error) {
	records, err := j.LoadAll()
	if err != nil {
		return nil, err
	}

	start := 0
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Type == RecordSnapshot && records[i].BuildID == buildID {
			start = i + 1
			break
		}
	}

	var result []*Record
	for _, rec := range records[start:] {
		if rec.Type == RecordEvent && rec.BuildID == buildID {
			result = append(result, rec)
		}
	}
	return result, nil
}

// Restore rebuilds a projection for the given build: the latest snapshot
// is loaded as the baseline, then every later event record is applied on
// top. Corrupt event records are skipped, matching live-stream behaviour.
func (j *Journal) Restore(buildID string, projection *events.BuildProjection) error {
	records, err := j.LoadAll()
	if err != nil {
		return err
	}

	snapshotIdx := -1
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Type == RecordSnapshot && records[i].BuildID == buildID {
			snapshotIdx = i
			break
		}
	}

	if snapshotIdx >= 0 {
		var plan build.Plan
		if err := json.Unmarshal(records[snapshotIdx].Data, &plan); err != nil {
			return fmt.Errorf("unmarshal snapshot record: %w", err)
		}
		projection.LoadSnapshot(&plan)
	}

	for _, rec := range records[snapshotIdx+1:] {
		if rec.Type != RecordEvent || rec.BuildID != buildID {
			continue
		}
		ev, err := events.Decode(rec.Kind, rec.Data)
		if err != nil {
			continue
		}
		projection.Apply(ev)
	}
	return nil
}

func (j *Journal) loadRecords() ([]*Record, error) {
	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var result []*Record
	scanner := bufio.NewScanner(f)

	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn write must not block resume; skip the line.
			continue
		}
		result = append(result, &rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return result, nil
}
