package enums

import "fmt"

// AnalysisStatus is the analysis job lifecycle state.
type AnalysisStatus string

const (
	AnalysisStatusPending    AnalysisStatus = "pending"
	AnalysisStatusInProgress AnalysisStatus = "in_progress"
	AnalysisStatusCompleted  AnalysisStatus = "completed"
	AnalysisStatusFailed     AnalysisStatus = "failed"
)

var validAnalysisStatuses = []AnalysisStatus{
	AnalysisStatusPending,
	AnalysisStatusInProgress,
	AnalysisStatusCompleted,
	AnalysisStatusFailed,
}

// analysisTransitions enumerates the allowed lifecycle edges.
var analysisTransitions = map[AnalysisStatus][]AnalysisStatus{
	AnalysisStatusPending:    {AnalysisStatusInProgress, AnalysisStatusFailed},
	AnalysisStatusInProgress: {AnalysisStatusCompleted, AnalysisStatusFailed},
}

// String implements fmt.Stringer.
func (a AnalysisStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AnalysisStatus.
func (a AnalysisStatus) IsValid() bool {
	for _, candidate := range validAnalysisStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status permits no further transitions.
func (a AnalysisStatus) IsTerminal() bool {
	return a == AnalysisStatusCompleted || a == AnalysisStatusFailed
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (a AnalysisStatus) CanTransitionTo(next AnalysisStatus) bool {
	for _, candidate := range analysisTransitions[a] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseAnalysisStatus converts the raw string to AnalysisStatus.
func ParseAnalysisStatus(value string) (AnalysisStatus, error) {
	for _, candidate := range validAnalysisStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid analysis status %q", value)
}
