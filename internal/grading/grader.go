package grading

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Result is the outcome of grading one question.
type Result struct {
	QuestionID   uuid.UUID `json:"question_id"`
	Answered     bool      `json:"answered"`
	Correct      bool      `json:"correct"`
	MarksAwarded int       `json:"marks_awarded"`
	MaxMarks     int       `json:"max_marks"`
}

// Grade scores a single response against the question's accepted answers.
// A nil response, an empty answer key or a question type without a closed
// answer set all score zero. Grade never fails.
func Grade(q *model.Question, resp *model.Response) Result {
	res := Result{QuestionID: q.ID, MaxMarks: q.Marks, Answered: resp != nil}
	if resp == nil || !q.HasClosedAnswerSet() {
		return res
	}

	given := Normalize(resp.Text)
	for _, accepted := range q.CorrectAnswers {
		if given == Normalize(accepted) {
			res.Correct = true
			res.MarksAwarded = q.Marks
			return res
		}
	}
	return res
}

// Sheet is the graded view of a whole attempt.
type Sheet struct {
	Results []Result `json:"results"`
	Score   int      `json:"score"`
}

// GradeAll grades every question in order against its recorded response.
// Questions without a response contribute a zero result rather than an error.
func GradeAll(questions []*model.Question, responses map[uuid.UUID]*model.Response) Sheet {
	sheet := Sheet{Results: make([]Result, 0, len(questions))}
	for _, q := range questions {
		res := Grade(q, responses[q.ID])
		sheet.Results = append(sheet.Results, res)
		sheet.Score += res.MarksAwarded
	}
	return sheet
}

// Apply writes a result onto the response it was computed from.
func Apply(resp *model.Response, res Result) {
	correct := res.Correct
	resp.Correct = &correct
	resp.MarksAwarded = res.MarksAwarded
}
