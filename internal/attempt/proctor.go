package attempt

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ProctoringMonitor turns focus-lost/focus-gained transitions into violations.
// It runs independently of the countdown and stops accepting events once frozen.
type ProctoringMonitor struct {
	mu sync.Mutex

	attemptID    uuid.UUID
	assessmentID uuid.UUID
	examineeID   string

	activeStart  *time.Time
	violations   []model.Violation
	totalSeconds int64
	frozen       bool

	log zerolog.Logger
}

// NewProctoringMonitor creates a monitor for one attempt.
func NewProctoringMonitor(attemptID, assessmentID uuid.UUID, examineeID string, log zerolog.Logger) *ProctoringMonitor {
	return &ProctoringMonitor{
		attemptID:    attemptID,
		assessmentID: assessmentID,
		examineeID:   examineeID,
		log:          log,
	}
}

// FocusLost opens a violation interval at the given instant.
// It returns false if an interval is already open or the monitor is frozen.
func (m *ProctoringMonitor) FocusLost(at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen || m.activeStart != nil {
		return false
	}
	start := at
	m.activeStart = &start
	return true
}

// FocusGained closes the open interval and returns the recorded violation.
func (m *ProctoringMonitor) FocusGained(at time.Time) (model.Violation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return model.Violation{}, false
	}
	return m.closeLocked(at)
}

// Freeze closes any open interval at the given instant and rejects later events.
// The returned violation is set only if an interval was open.
func (m *ProctoringMonitor) Freeze(at time.Time) (model.Violation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return model.Violation{}, false
	}
	m.frozen = true
	return m.closeLocked(at)
}

func (m *ProctoringMonitor) closeLocked(at time.Time) (model.Violation, bool) {
	if m.activeStart == nil {
		return model.Violation{}, false
	}
	start := *m.activeStart
	m.activeStart = nil

	if !at.After(start) {
		m.log.Warn().
			Time("start", start).
			Time("end", at).
			Msg("Discarding focus interval that does not move forward in time")
		return model.Violation{}, false
	}

	v := model.Violation{
		ID:              uuid.New(),
		AttemptID:       m.attemptID,
		AssessmentID:    m.assessmentID,
		ExamineeID:      m.examineeID,
		StartTime:       start,
		EndTime:         at,
		DurationSeconds: int64(at.Sub(start) / time.Second),
	}
	m.violations = append(m.violations, v)
	m.totalSeconds += v.DurationSeconds
	return v, true
}

// Violations returns the recorded violations in chronological order.
func (m *ProctoringMonitor) Violations() []model.Violation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

// TotalViolationSeconds is the running sum of recorded violation durations.
func (m *ProctoringMonitor) TotalViolationSeconds() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalSeconds
}

// Open reports whether focus is currently lost.
func (m *ProctoringMonitor) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeStart != nil
}
