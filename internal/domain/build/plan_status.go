package build

import (
	"encoding/json"
	"fmt"
)

// PlanStatus is the lifecycle status of a build plan as reported by the
// build-execution service. The client observes these values, it never
// decides them.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanApproved  PlanStatus = "approved"
	PlanRunning   PlanStatus = "running"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// IsValid returns true if the status is a known plan status.
func (s PlanStatus) IsValid() bool {
	switch s {
	case PlanDraft, PlanApproved, PlanRunning, PlanCompleted, PlanFailed, PlanCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s PlanStatus) String() string {
	return string(s)
}

// DisplayName returns a human-friendly label for UI rendering.
func (s PlanStatus) DisplayName() string {
	switch s {
	case PlanDraft:
		return "Draft"
	case PlanApproved:
		return "Approved"
	case PlanRunning:
		return "Running"
	case PlanCompleted:
		return "Completed"
	case PlanFailed:
		return "Failed"
	case PlanCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

// IsTerminal returns true if the build will emit no further events.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanCompleted || s == PlanFailed || s == PlanCancelled
}

// IsBuilding returns true while the remote build is still producing events.
func (s PlanStatus) IsBuilding() bool {
	return s == PlanApproved || s == PlanRunning
}

// ParsePlanStatus parses a string into a PlanStatus.
func ParsePlanStatus(s string) (PlanStatus, error) {
	status := PlanStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid plan status: %s", s)
	}
	return status, nil
}

// MarshalJSON implements json.Marshaler.
func (s PlanStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler. An empty string is accepted as
// draft so partial plan_update payloads never fail decoding.
func (s *PlanStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	if str == "" {
		*s = PlanDraft
		return nil
	}

	status := PlanStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid plan status: %s", str)
	}

	*s = status
	return nil
}
