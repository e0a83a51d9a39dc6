package journal

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/pageforge/buildstream/internal/domain/build"
	"github.com/pageforge/buildstream/internal/domain/events"
	"github.com/pageforge/buildstream/internal/domain/session"
)

func TestAppendAndLoadAll(t *testing.T) {
	j := New(t.TempDir())

	if err := j.AppendEvent("b1", events.KindTask, json.RawMessage(`{"id":"t1","status":"running"}`)); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := j.AppendSnapshot(&build.Plan{ID: "p1", BuildID: "b1"}); err != nil {
		t.Fatalf("append snapshot: %v", err)
	}

	records, err := j.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Type != RecordEvent || records[0].Kind != events.KindTask {
		t.Errorf("record 0 = %+v", records[0])
	}
	if records[1].Type != RecordSnapshot {
		t.Errorf("record 1 = %+v", records[1])
	}
	if records[0].ID == "" || records[0].Timestamp.IsZero() {
		t.Error("record id or timestamp not populated")
	}
}

func TestLoadAllMissingFile(t *testing.T) {
	j := New(t.TempDir())
	records, err := j.LoadAll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want 0", len(records))
	}
}

func TestLastSession(t *testing.T) {
	j := New(t.TempDir())

	if sess, err := j.LastSession(); err != nil || sess != nil {
		t.Fatalf("empty journal: sess=%v err=%v", sess, err)
	}

	_ = j.AppendSession(&session.BuildSession{BuildID: "b1", ProjectID: "p1", IsBuilding: true})
	_ = j.AppendSession(&session.BuildSession{BuildID: "b2", ProjectID: "p1", IsBuilding: false})

	sess, err := j.LastSession()
	if err != nil {
		t.Fatalf("last session: %v", err)
	}
	if sess.BuildID != "b2" || sess.IsBuilding {
		t.Errorf("sess = %+v, want the later record", sess)
	}
}

func TestLastSnapshotPerBuild(t *testing.T) {
	j := New(t.TempDir())
	_ = j.AppendSnapshot(&build.Plan{ID: "p1", BuildID: "b1", TotalTasks: 1})
	_ = j.AppendSnapshot(&build.Plan{ID: "p2", BuildID: "b2", TotalTasks: 5})
	_ = j.AppendSnapshot(&build.Plan{ID: "p1", BuildID: "b1", TotalTasks: 3})

	plan, err := j.LastSnapshot("b1")
	if err != nil {
		t.Fatalf("last snapshot: %v", err)
	}
	if plan.TotalTasks != 3 {
		t.Errorf("TotalTasks = %d, want the later snapshot", plan.TotalTasks)
	}

	if plan, err := j.LastSnapshot("unknown"); err != nil || plan != nil {
		t.Errorf("unknown build: plan=%v err=%v", plan, err)
	}
}

func TestRestoreReplaysSnapshotThenEvents(t *testing.T) {
	j := New(t.TempDir())

	// Events before the snapshot must not be replayed.
	_ = j.AppendEvent("b1", events.KindTask, json.RawMessage(`{"id":"stale","status":"failed"}`))

	_ = j.AppendSnapshot(&build.Plan{
		ID: "p1", BuildID: "b1",
		Tasks: []build.Task{
			{ID: "t1", Status: build.StatusDone},
			{ID: "t2", Status: build.StatusRunning},
		},
	})
	_ = j.AppendEvent("b1", events.KindTask, json.RawMessage(`{"id":"t2","status":"done"}`))
	// Another build's event is ignored.
	_ = j.AppendEvent("b2", events.KindTask, json.RawMessage(`{"id":"x1","status":"done"}`))
	// A corrupt event is skipped, not fatal.
	_ = j.AppendEvent("b1", events.KindTask, json.RawMessage(`{"status":"done"}`))

	projection := events.NewBuildProjection()
	if err := j.Restore("b1", projection); err != nil {
		t.Fatalf("restore: %v", err)
	}

	plan := projection.Plan()
	if plan == nil {
		t.Fatal("no plan restored")
	}
	if plan.FindTask("stale") != nil {
		t.Error("pre-snapshot event replayed")
	}
	if plan.FindTask("x1") != nil {
		t.Error("other build's event replayed")
	}
	if got := projection.TaskStatus("t2"); got != build.StatusDone {
		t.Errorf("t2 = %s, want done", got)
	}
	if plan.CompletedTasks != 2 {
		t.Errorf("CompletedTasks = %d, want 2", plan.CompletedTasks)
	}
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	j := New(t.TempDir())
	_ = j.AppendEvent("b1", events.KindTask, json.RawMessage(`{"id":"t1","status":"done"}`))

	projection := events.NewBuildProjection()
	if err := j.Restore("b1", projection); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := projection.TaskStatus("t1"); got != build.StatusDone {
		t.Errorf("t1 = %s, want done", got)
	}
}

func TestLoadAllSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)
	_ = j.AppendEvent("b1", events.KindTask, json.RawMessage(`{"id":"t1"}`))

	f, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("}}} not json {{{\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	_ = j.AppendEvent("b1", events.KindTask, json.RawMessage(`{"id":"t2"}`))

	records, err := j.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2 with the corrupt line skipped", len(records))
	}
}
