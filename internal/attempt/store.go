package attempt

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ResponseStore holds the responses of one attempt, one per question.
// It is not safe for concurrent use; Session guards it.
type ResponseStore struct {
	attemptID uuid.UUID
	responses map[uuid.UUID]*model.Response
}

// NewResponseStore creates an empty store for the given attempt.
func NewResponseStore(attemptID uuid.UUID) *ResponseStore {
	return &ResponseStore{
		attemptID: attemptID,
		responses: make(map[uuid.UUID]*model.Response),
	}
}

// Upsert records text as the answer to questionID, replacing any earlier answer.
func (s *ResponseStore) Upsert(questionID uuid.UUID, text string) *model.Response {
	if r, ok := s.responses[questionID]; ok {
		r.Text = text
		return r
	}
	r := &model.Response{
		ID:         model.ResponseID(s.attemptID, questionID),
		AttemptID:  s.attemptID,
		QuestionID: questionID,
		Text:       text,
	}
	s.responses[questionID] = r
	return r
}

// Get returns the response for questionID, if any.
func (s *ResponseStore) Get(questionID uuid.UUID) (*model.Response, bool) {
	r, ok := s.responses[questionID]
	return r, ok
}

// Answered returns the set of question ids with a recorded response.
func (s *ResponseStore) Answered() map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(s.responses))
	for qid := range s.responses {
		set[qid] = struct{}{}
	}
	return set
}

// Len is the number of answered questions.
func (s *ResponseStore) Len() int { return len(s.responses) }

// All exposes the underlying map. Callers must not retain it past the guarding lock.
func (s *ResponseStore) All() map[uuid.UUID]*model.Response {
	return s.responses
}
