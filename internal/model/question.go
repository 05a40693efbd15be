package model

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionTypeListBased      QuestionType = "LIST_BASED"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
)

// Data-quality problems reported by Question.Validate.
var (
	ErrQuestionNoText    = errors.New("question has no text")
	ErrQuestionNoOptions = errors.New("choice question has no options")
	ErrQuestionBadMarks  = errors.New("question marks must be positive")
)

// Question is a single catalog question. It never changes during an attempt.
type Question struct {
	ID             uuid.UUID    `json:"id"`
	Text           string       `json:"text"`
	Type           QuestionType `json:"type"`
	Options        []string     `json:"options,omitempty"`
	CorrectAnswers []string     `json:"correct_answers"`
	Marks          int          `json:"marks"`
	Difficulty     string       `json:"difficulty"`
	Topic          string       `json:"topic"`
}

// HasClosedAnswerSet reports whether the question type has an enumerable set of answers.
func (q *Question) HasClosedAnswerSet() bool {
	return q.Type == QuestionTypeMultipleChoice || q.Type == QuestionTypeTrueFalse
}

// Validate checks that the question can be shown to an examinee.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return ErrQuestionNoText
	}
	if q.HasClosedAnswerSet() && len(q.Options) == 0 {
		return ErrQuestionNoOptions
	}
	if q.Marks <= 0 {
		return ErrQuestionBadMarks
	}
	return nil
}
