// Package events defines the wire envelope for build push events and the
// decoder that turns raw frames into a closed set of typed events.
package events

import (
	"fmt"
	"time"

	"github.com/pageforge/buildstream/internal/domain/build"
)

// Kind identifies the channel a push event was delivered on.
type Kind string

const (
	KindTask          Kind = "task"
	KindCard          Kind = "card"
	KindPreviewUpdate Kind = "preview_update"
	KindPlanUpdate    Kind = "plan_update"
)

// AllKinds returns every kind the decoder accepts.
func AllKinds() []Kind {
	return []Kind{KindTask, KindCard, KindPreviewUpdate, KindPlanUpdate}
}

// IsValid returns true if the kind is part of the closed event set.
func (k Kind) IsValid() bool {
	switch k {
	case KindTask, KindCard, KindPreviewUpdate, KindPlanUpdate:
		return true
	default:
		return false
	}
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// ParseKind parses a channel name into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("unknown event kind: %s", s)
	}
	return k, nil
}

// Event is one decoded push event. The concrete type is determined by Kind;
// the set is closed, so consumers switch on the type rather than on strings.
type Event interface {
	EventKind() Kind
}

// TaskEvent carries a partial task update. Only the fields present in the
// payload are merged into the projection; empty fields leave prior values
// untouched.
type TaskEvent struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Category    string     `json:"category,omitempty"`
	Status      string     `json:"status,omitempty"`
	ParentID    string     `json:"parent_id,omitempty"`
	PageID      string     `json:"page_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (TaskEvent) EventKind() Kind { return KindTask }

// CardEvent appends or replaces a display card.
type CardEvent struct {
	Card build.Card
}

func (CardEvent) EventKind() Kind { return KindCard }

// PreviewEvent replaces the preview payload wholesale.
type PreviewEvent struct {
	Preview build.Preview
}

func (PreviewEvent) EventKind() Kind { return KindPreviewUpdate }

// PlanEvent carries a partial plan update. Pointer fields distinguish
// "absent" from "zero" so the shallow merge only touches what the event
// actually supplies.
type PlanEvent struct {
	ID             string       `json:"id,omitempty"`
	BuildID        string       `json:"build_id,omitempty"`
	ProjectID      string       `json:"project_id,omitempty"`
	Status         string       `json:"status,omitempty"`
	Pages          []build.Page `json:"pages,omitempty"`
	Tasks          []build.Task `json:"tasks,omitempty"`
	TotalTasks     *int         `json:"total_tasks,omitempty"`
	CompletedTasks *int         `json:"completed_tasks,omitempty"`
	FailedTasks    *int         `json:"failed_tasks,omitempty"`
}

func (PlanEvent) EventKind() Kind { return KindPlanUpdate }
