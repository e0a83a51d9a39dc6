// Package session models the binding between a project and its active
// build, including the connectivity status of the live event stream.
package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// StreamStatus is the connectivity state of the live event stream.
type StreamStatus string

const (
	// StreamIdle means no connection attempt is wanted: either nothing has
	// started yet or the session was deliberately disconnected.
	StreamIdle StreamStatus = "idle"
	// StreamReconnecting means an attempt is scheduled or in flight.
	StreamReconnecting StreamStatus = "reconnecting"
	// StreamConnected means live event flow is established.
	StreamConnected StreamStatus = "connected"
	// StreamError means the client gave up after hitting its retry ceiling.
	StreamError StreamStatus = "error"
)

// IsValid returns true if the status is a known stream status.
func (s StreamStatus) IsValid() bool {
	switch s {
	case StreamIdle, StreamReconnecting, StreamConnected, StreamError:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s StreamStatus) String() string {
	return string(s)
}

// MarshalJSON implements json.Marshaler.
func (s StreamStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StreamStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*s = StreamIdle
		return nil
	}
	status := StreamStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid stream status: %s", str)
	}
	*s = status
	return nil
}

// BuildSession binds a project to an in-flight (or just-finished) build.
// At most one session is active per process.
type BuildSession struct {
	BuildID      string       `json:"build_id"`
	ProjectID    string       `json:"project_id"`
	IsBuilding   bool         `json:"is_building"`
	StreamStatus StreamStatus `json:"stream_status"`
	// LastError carries the transient error text shown alongside the
	// reconnecting indicator. Cleared on a successful open.
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Matches reports whether the session belongs to the given project.
func (s *BuildSession) Matches(projectID string) bool {
	return s != nil && s.ProjectID == projectID
}
