package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
)

// SubmitReason records why an attempt was finalized.
type SubmitReason string

const (
	SubmitExplicit    SubmitReason = "EXPLICIT"
	SubmitTimeExpired SubmitReason = "TIME_EXPIRED"
)

// Attempt is one examinee's run through one assessment.
type Attempt struct {
	ID            uuid.UUID               `json:"id"`
	ExamineeID    string                  `json:"examinee_id"`
	AssessmentID  uuid.UUID               `json:"assessment_id"`
	StartTime     time.Time               `json:"start_time"`
	EndTime       *time.Time              `json:"end_time,omitempty"`
	Status        AttemptStatus           `json:"status"`
	Score         int                     `json:"score"`
	TotalPossible int                     `json:"total_possible"`
	SubmitReason  SubmitReason            `json:"submit_reason,omitempty"`
	Responses     map[uuid.UUID]*Response `json:"responses"`
	// Violations is filled only on records read back from storage.
	Violations []Violation `json:"violations,omitempty"`
}

// Clone returns a deep copy safe to hand out of a session.
func (a *Attempt) Clone() *Attempt {
	c := *a
	if a.EndTime != nil {
		end := *a.EndTime
		c.EndTime = &end
	}
	c.Responses = make(map[uuid.UUID]*Response, len(a.Responses))
	for qid, r := range a.Responses {
		c.Responses[qid] = r.Clone()
	}
	if a.Violations != nil {
		c.Violations = append([]Violation(nil), a.Violations...)
	}
	return &c
}

// Response is the examinee's answer to one question of an attempt.
type Response struct {
	ID           uuid.UUID `json:"id"`
	AttemptID    uuid.UUID `json:"attempt_id"`
	QuestionID   uuid.UUID `json:"question_id"`
	Text         string    `json:"response_text"`
	MarksAwarded int       `json:"marks_awarded"`
	Correct      *bool     `json:"correct,omitempty"`
}

// Clone returns a copy of the response.
func (r *Response) Clone() *Response {
	c := *r
	if r.Correct != nil {
		v := *r.Correct
		c.Correct = &v
	}
	return &c
}

// ResponseID derives the stable identity of the response to a question within an attempt,
// so a resumed attempt keeps writing the same rows.
func ResponseID(attemptID, questionID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(attemptID, questionID[:])
}
