package build

import "time"

// Preview is the latest rendered output of the build. Each preview_update
// replaces the previous payload wholesale; a full render supersedes any
// partial one, so there is nothing to merge.
type Preview struct {
	BuildID    string    `json:"build_id,omitempty"`
	PageID     string    `json:"page_id,omitempty"`
	HTML       string    `json:"html"`
	Scripts    string    `json:"scripts,omitempty"`
	RenderedAt time.Time `json:"rendered_at,omitempty"`
}

// Card is an opaque structured payload surfaced to the user, e.g. a
// validation result or a generated-document pointer. Cards are keyed by ID
// and replaced in place, not merged field by field.
type Card struct {
	ID      string         `json:"id"`
	Type    string         `json:"type,omitempty"`
	Title   string         `json:"title,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}
