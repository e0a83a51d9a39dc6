package events

import (
	"sync"

	"github.com/pageforge/buildstream/internal/domain/build"
	"github.com/pageforge/buildstream/internal/domain/session"
)

// BuildProjection is the authoritative in-memory view of one build: plan,
// task list, latest preview, display cards, and stream connectivity.
//
// Every mutation is an idempotent reducer over the existing state plus the
// incoming payload. Applying the same event twice, or two events out of
// order within a reconnect window, converges to the same final state as
// applying them once in causal order. Reducers never read the clock or the
// network, so replays are deterministic.
//
// UI observers subscribe for change notification and read through the
// query methods, which return clones.
type BuildProjection struct {
	mu        sync.RWMutex
	plan      *build.Plan
	preview   *build.Preview
	cards     []build.Card
	cardIndex map[string]int
	status    session.StreamStatus
	statusErr string

	obsMu     sync.Mutex
	observers map[int]func()
	nextObs   int
}

// NewBuildProjection creates an empty projection in the idle stream state.
func NewBuildProjection() *BuildProjection {
	return &BuildProjection{
		cardIndex: make(map[string]int),
		status:    session.StreamIdle,
		observers: make(map[int]func()),
	}
}

// Apply routes a decoded event to its reducer.
func (p *BuildProjection) Apply(event Event) {
	switch ev := event.(type) {
	case TaskEvent:
		p.ApplyTask(ev)
	case CardEvent:
		p.ApplyCard(ev)
	case PreviewEvent:
		p.ApplyPreview(ev)
	case PlanEvent:
		p.ApplyPlan(ev)
	}
}

// ApplyTask upserts the named task. Fields the event omits keep their prior
// values; plan counters are recomputed from statuses so duplicate delivery
// cannot skew them.
func (p *BuildProjection) ApplyTask(ev TaskEvent) {
	p.mu.Lock()
	if p.plan == nil {
		p.plan = &build.Plan{}
	}

	task := p.plan.FindTask(ev.ID)
	if task == nil {
		p.plan.Tasks = append(p.plan.Tasks, build.Task{ID: ev.ID, Status: build.StatusPending})
		task = &p.plan.Tasks[len(p.plan.Tasks)-1]
	}

	if ev.Name != "" {
		task.Name = ev.Name
	}
	if ev.Category != "" {
		task.Category = ev.Category
	}
	if ev.ParentID != "" {
		task.ParentID = ev.ParentID
	}
	if ev.PageID != "" {
		task.PageID = ev.PageID
	}
	if ev.Error != "" {
		task.Error = ev.Error
	}
	if ev.StartedAt != nil {
		ts := *ev.StartedAt
		task.StartedAt = &ts
	}
	if ev.CompletedAt != nil {
		ts := *ev.CompletedAt
		task.CompletedAt = &ts
	}
	if ev.Status != "" {
		if status, err := build.ParseTaskStatus(ev.Status); err == nil {
			task.Status = status
		}
	}

	p.plan.RefreshProgress()
	p.mu.Unlock()
	p.notify()
}

// ApplyCard appends the card, or replaces it in place when the ID is
// already present. Order of first appearance is preserved.
func (p *BuildProjection) ApplyCard(ev CardEvent) {
	p.mu.Lock()
	if idx, ok := p.cardIndex[ev.Card.ID]; ok {
		p.cards[idx] = ev.Card
	} else {
		p.cardIndex[ev.Card.ID] = len(p.cards)
		p.cards = append(p.cards, ev.Card)
	}
	p.mu.Unlock()
	p.notify()
}

// ApplyPreview replaces the preview wholesale. Last applied wins.
func (p *BuildProjection) ApplyPreview(ev PreviewEvent) {
	p.mu.Lock()
	preview := ev.Preview
	p.preview = &preview
	p.mu.Unlock()
	p.notify()
}

// ApplyPlan shallow-merges the fields present in a plan_update into the
// current plan. When no plan exists yet, the event seeds one only if it
// carries identity (a plan or build id).
func (p *BuildProjection) ApplyPlan(ev PlanEvent) {
	p.mu.Lock()
	if p.plan == nil {
		if ev.ID == "" && ev.BuildID == "" {
			p.mu.Unlock()
			return
		}
		p.plan = &build.Plan{}
	}

	if ev.ID != "" {
		p.plan.ID = ev.ID
	}
	if ev.BuildID != "" {
		p.plan.BuildID = ev.BuildID
	}
	if ev.ProjectID != "" {
		p.plan.ProjectID = ev.ProjectID
	}
	if ev.Status != "" {
		if status, err := build.ParsePlanStatus(ev.Status); err == nil {
			p.plan.Status = status
		}
	}
	if ev.Pages != nil {
		p.plan.Pages = append([]build.Page(nil), ev.Pages...)
	}
	if ev.Tasks != nil {
		p.plan.Tasks = append([]build.Task(nil), ev.Tasks...)
		p.plan.RecomputeCounters()
	} else {
		if ev.TotalTasks != nil {
			p.plan.TotalTasks = *ev.TotalTasks
		}
		if ev.CompletedTasks != nil {
			p.plan.CompletedTasks = *ev.CompletedTasks
		}
		if ev.FailedTasks != nil {
			p.plan.FailedTasks = *ev.FailedTasks
		}
		p.plan.RefreshProgress()
	}
	p.mu.Unlock()
	p.notify()
}

// LoadSnapshot replaces the working plan/task projection wholesale with an
// authoritative baseline. Subsequent events merge on top.
func (p *BuildProjection) LoadSnapshot(plan *build.Plan) {
	p.mu.Lock()
	p.plan = plan.Clone()
	if p.plan != nil {
		// The document's own total is authoritative; its task array may
		// be a subset of what the server announced.
		p.plan.RefreshProgress()
	}
	p.mu.Unlock()
	p.notify()
}

// Reset discards all build state. Used when the bound project changes so
// stale cross-project state never leaks into the new project's view.
func (p *BuildProjection) Reset() {
	p.mu.Lock()
	p.plan = nil
	p.preview = nil
	p.cards = nil
	p.cardIndex = make(map[string]int)
	p.status = session.StreamIdle
	p.statusErr = ""
	p.mu.Unlock()
	p.notify()
}

// SetStreamStatus records the stream connectivity state, with optional
// transient error text for the reconnecting indicator.
func (p *BuildProjection) SetStreamStatus(status session.StreamStatus, errText string) {
	p.mu.Lock()
	p.status = status
	p.statusErr = errText
	p.mu.Unlock()
	p.notify()
}

// Plan returns a clone of the current plan, or nil when none is loaded.
func (p *BuildProjection) Plan() *build.Plan {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.plan.Clone()
}

// Preview returns the latest preview payload, or nil.
func (p *BuildProjection) Preview() *build.Preview {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.preview == nil {
		return nil
	}
	preview := *p.preview
	return &preview
}

// Cards returns the display cards in order of first appearance.
func (p *BuildProjection) Cards() []build.Card {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]build.Card(nil), p.cards...)
}

// TaskStatus returns the status of the given task, defaulting to pending.
func (p *BuildProjection) TaskStatus(taskID string) build.TaskStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.plan != nil {
		if task := p.plan.FindTask(taskID); task != nil {
			return task.Status
		}
	}
	return build.StatusPending
}

// StreamStatus returns the stream connectivity state and transient error text.
func (p *BuildProjection) StreamStatus() (session.StreamStatus, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status, p.statusErr
}

// Subscribe registers an observer notified after every mutation. The
// returned function removes the observer; it is safe to call more than once.
func (p *BuildProjection) Subscribe(fn func()) func() {
	p.obsMu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = fn
	p.obsMu.Unlock()

	return func() {
		p.obsMu.Lock()
		delete(p.observers, id)
		p.obsMu.Unlock()
	}
}

func (p *BuildProjection) notify() {
	p.obsMu.Lock()
	fns := make([]func(), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.obsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
