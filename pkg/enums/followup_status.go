package enums

import "fmt"

// FollowUpStatus is the follow-up question lifecycle state.
type FollowUpStatus string

const (
	FollowUpStatusGenerating FollowUpStatus = "generating"
	FollowUpStatusCompleted  FollowUpStatus = "completed"
	FollowUpStatusFailed     FollowUpStatus = "failed"
)

var validFollowUpStatuses = []FollowUpStatus{
	FollowUpStatusGenerating,
	FollowUpStatusCompleted,
	FollowUpStatusFailed,
}

// String implements fmt.Stringer.
func (f FollowUpStatus) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FollowUpStatus.
func (f FollowUpStatus) IsValid() bool {
	for _, candidate := range validFollowUpStatuses {
		if candidate == f {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions.
func (f FollowUpStatus) IsTerminal() bool {
	return f == FollowUpStatusCompleted || f == FollowUpStatusFailed
}

// ParseFollowUpStatus converts the raw string to FollowUpStatus.
func ParseFollowUpStatus(value string) (FollowUpStatus, error) {
	for _, candidate := range validFollowUpStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid follow-up status %q", value)
}
