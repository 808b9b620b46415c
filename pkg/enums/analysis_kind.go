package enums

import "fmt"

// AnalysisKind describes the flavor of generated analysis.
type AnalysisKind string

const (
	AnalysisKindYearly AnalysisKind = "yearly"
	AnalysisKindFocus  AnalysisKind = "focus"
)

var validAnalysisKinds = []AnalysisKind{
	AnalysisKindYearly,
	AnalysisKindFocus,
}

// String implements fmt.Stringer.
func (a AnalysisKind) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AnalysisKind.
func (a AnalysisKind) IsValid() bool {
	for _, candidate := range validAnalysisKinds {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAnalysisKind converts the raw string to AnalysisKind.
func ParseAnalysisKind(value string) (AnalysisKind, error) {
	for _, candidate := range validAnalysisKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid analysis kind %q", value)
}
