package model

import (
	"testing"

	"github.com/google/uuid"
)

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		seconds int64
		want    Severity
	}{
		{0, SeverityLow},
		{59, SeverityLow},
		{60, SeverityMedium},
		{90, SeverityMedium},
		{300, SeverityMedium},
		{301, SeverityHigh},
		{3600, SeverityHigh},
	}

	for _, tc := range tests {
		if got := ClassifySeverity(tc.seconds); got != tc.want {
			t.Errorf("ClassifySeverity(%d) = %s, want %s", tc.seconds, got, tc.want)
		}
		v := Violation{DurationSeconds: tc.seconds}
		if got := v.Severity(); got != tc.want {
			t.Errorf("Violation{%d}.Severity() = %s, want %s", tc.seconds, got, tc.want)
		}
	}
}

func TestResponseIDStable(t *testing.T) {
	attemptID := uuid.New()
	q1, q2 := uuid.New(), uuid.New()

	if ResponseID(attemptID, q1) != ResponseID(attemptID, q1) {
		t.Fatal("ResponseID is not deterministic")
	}
	if ResponseID(attemptID, q1) == ResponseID(attemptID, q2) {
		t.Fatal("ResponseID collides across questions")
	}
	if ResponseID(attemptID, q1) == ResponseID(uuid.New(), q1) {
		t.Fatal("ResponseID collides across attempts")
	}
}

func TestQuestionValidate(t *testing.T) {
	tests := []struct {
		name string
		q    Question
		want error
	}{
		{"valid choice", Question{Text: "Capital?", Type: QuestionTypeMultipleChoice, Options: []string{"A. Paris"}, Marks: 1}, nil},
		{"valid short answer without options", Question{Text: "Name it", Type: QuestionTypeShortAnswer, Marks: 2}, nil},
		{"blank text", Question{Text: "  ", Type: QuestionTypeShortAnswer, Marks: 1}, ErrQuestionNoText},
		{"choice without options", Question{Text: "T or F?", Type: QuestionTypeTrueFalse, Marks: 1}, ErrQuestionNoOptions},
		{"zero marks", Question{Text: "Q", Type: QuestionTypeListBased, Marks: 0}, ErrQuestionBadMarks},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.q.Validate(); got != tc.want {
				t.Fatalf("Validate() = %v, want %v", got, tc.want)
			}
		})
	}
}
