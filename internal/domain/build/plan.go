// Package build holds the client-side projection of a remote page build: the
// plan, its tasks, the latest preview payload, and display cards. All
// mutation goes through the Store so the projection stays convergent under
// at-least-once event delivery.
package build

import (
	"time"
)

// Task is one unit of work inside a build plan.
//
// Identity is the task ID. Progress events for a known ID overwrite the
// fields they carry and leave the rest untouched.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Category    string     `json:"category,omitempty"`
	Status      TaskStatus `json:"status"`
	ParentID    string     `json:"parent_id,omitempty"`
	PageID      string     `json:"page_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Page is a page being generated by the build.
type Page struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Path  string `json:"path,omitempty"`
	Order int    `json:"order,omitempty"`
}

// Plan is the aggregate view of one build: pages, tasks, and derived
// counters. Counters are always recomputed from task statuses, never
// incremented, so duplicate event delivery cannot skew them.
type Plan struct {
	ID             string     `json:"id"`
	BuildID        string     `json:"build_id"`
	ProjectID      string     `json:"project_id,omitempty"`
	Status         PlanStatus `json:"status"`
	Pages          []Page     `json:"pages,omitempty"`
	Tasks          []Task     `json:"tasks"`
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	FailedTasks    int        `json:"failed_tasks"`
	CreatedAt      time.Time  `json:"created_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at,omitempty"`
}

// RecomputeCounters derives the plan counters from the current task list.
func (p *Plan) RecomputeCounters() {
	p.TotalTasks = len(p.Tasks)
	p.CompletedTasks = 0
	p.FailedTasks = 0
	for i := range p.Tasks {
		switch p.Tasks[i].Status {
		case StatusDone:
			p.CompletedTasks++
		case StatusFailed:
			p.FailedTasks++
		}
	}
}

// RefreshProgress recomputes completed/failed counters from task statuses
// without shrinking the total. Used after incremental task upserts, where
// the local task list may still be a subset of what the server announced.
func (p *Plan) RefreshProgress() {
	if len(p.Tasks) > p.TotalTasks {
		p.TotalTasks = len(p.Tasks)
	}
	p.CompletedTasks = 0
	p.FailedTasks = 0
	for i := range p.Tasks {
		switch p.Tasks[i].Status {
		case StatusDone:
			p.CompletedTasks++
		case StatusFailed:
			p.FailedTasks++
		}
	}
}

// FindTask looks up a task by ID. Returns nil if the plan has no such task.
func (p *Plan) FindTask(taskID string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == taskID {
			return &p.Tasks[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the plan. Observers receive clones so they
// can never mutate the store's working projection.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Pages = append([]Page(nil), p.Pages...)
	cp.Tasks = make([]Task, len(p.Tasks))
	for i := range p.Tasks {
		cp.Tasks[i] = p.Tasks[i]
		if p.Tasks[i].StartedAt != nil {
			ts := *p.Tasks[i].StartedAt
			cp.Tasks[i].StartedAt = &ts
		}
		if p.Tasks[i].CompletedAt != nil {
			ts := *p.Tasks[i].CompletedAt
			cp.Tasks[i].CompletedAt = &ts
		}
	}
	return &cp
}
