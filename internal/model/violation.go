package model

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies a proctoring violation by its duration.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Severity thresholds in seconds.
const (
	mediumViolationSeconds = 60
	highViolationSeconds   = 300
)

// ClassifySeverity maps a violation duration to its severity.
// Below 60s is LOW, 60s through 300s is MEDIUM, anything longer is HIGH.
func ClassifySeverity(seconds int64) Severity {
	switch {
	case seconds < mediumViolationSeconds:
		return SeverityLow
	case seconds <= highViolationSeconds:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// Violation is a closed interval during which the examinee's window lost focus.
type Violation struct {
	ID              uuid.UUID `json:"id"`
	AttemptID       uuid.UUID `json:"attempt_id"`
	AssessmentID    uuid.UUID `json:"assessment_id"`
	ExamineeID      string    `json:"examinee_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// Severity is derived from the stored duration.
func (v *Violation) Severity() Severity {
	return ClassifySeverity(v.DurationSeconds)
}
