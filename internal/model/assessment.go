package model

import (
	"github.com/google/uuid"
)

// Assessment is an exam definition as served by the catalog.
type Assessment struct {
	ID              uuid.UUID   `json:"id"`
	Title           string      `json:"title"`
	UnitID          uuid.UUID   `json:"unit_id"`
	QuestionIDs     []uuid.UUID `json:"question_ids"`
	DurationMinutes int         `json:"duration_minutes"`
	TotalMarks      int         `json:"total_marks"`
	Practice        bool        `json:"practice"`
}

// DurationSeconds is the countdown length of one attempt.
func (a *Assessment) DurationSeconds() int {
	return a.DurationMinutes * 60
}

// SumMarks returns the total marks of the given questions.
func SumMarks(questions []*Question) int {
	total := 0
	for _, q := range questions {
		total += q.Marks
	}
	return total
}
