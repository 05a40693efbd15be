package attempt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

/* ---------------- In-memory fakes for the session collaborators ---------------- */

type fakeGateway struct {
	mu          sync.Mutex
	attempts    map[uuid.UUID]model.Attempt
	responses   map[uuid.UUID]model.Response
	violations  map[uuid.UUID]model.Violation
	attemptSave int
	failResp    map[uuid.UUID]bool
	failAttempt bool
	beforeSave  func(a *model.Attempt)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		attempts:   map[uuid.UUID]model.Attempt{},
		responses:  map[uuid.UUID]model.Response{},
		violations: map[uuid.UUID]model.Violation{},
		failResp:   map[uuid.UUID]bool{},
	}
}

var errStorageDown = errors.New("storage unavailable")

func (g *fakeGateway) SaveAttempt(_ context.Context, a *model.Attempt) error {
	if g.beforeSave != nil {
		g.beforeSave(a)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attemptSave++
	if g.failAttempt {
		return errStorageDown
	}
	g.attempts[a.ID] = *a
	return nil
}

func (g *fakeGateway) SaveResponse(_ context.Context, r *model.Response) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failResp[r.QuestionID] {
		return errStorageDown
	}
	g.responses[r.ID] = *r
	return nil
}

func (g *fakeGateway) SaveViolation(_ context.Context, v *model.Violation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.violations[v.ID]; !ok {
		g.violations[v.ID] = *v
	}
	return nil
}

func (g *fakeGateway) attemptSaves() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attemptSave
}

// batchGateway fails every bulk write so the row-by-row path runs.
type batchGateway struct {
	*fakeGateway
	batchCalls int
}

func (g *batchGateway) SaveViolations(_ context.Context, vs []*model.Violation) error {
	g.batchCalls++
	return errors.New("copy failed")
}

type fakeSink struct {
	mu     sync.Mutex
	writes []FailedWrite
}

func (s *fakeSink) Enqueue(_ context.Context, f FailedWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, f)
	return nil
}

type fakeJournal struct {
	mu        sync.Mutex
	drafts    map[uuid.UUID]map[uuid.UUID]string
	cleared   []uuid.UUID
	completed map[uuid.UUID]model.Attempt
	// release, when set, holds every SaveDraft until it is closed.
	release chan struct{}
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{
		drafts:    map[uuid.UUID]map[uuid.UUID]string{},
		completed: map[uuid.UUID]model.Attempt{},
	}
}

func (j *fakeJournal) SaveDraft(ctx context.Context, attemptID, questionID uuid.UUID, text string) error {
	if j.release != nil {
		select {
		case <-j.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.drafts[attemptID] == nil {
		j.drafts[attemptID] = map[uuid.UUID]string{}
	}
	j.drafts[attemptID][questionID] = text
	return nil
}

func (j *fakeJournal) Clear(_ context.Context, attemptID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.drafts, attemptID)
	j.cleared = append(j.cleared, attemptID)
	return nil
}

func (j *fakeJournal) MarkCompleted(_ context.Context, a *model.Attempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completed[a.ID] = *a
	return nil
}

func (j *fakeJournal) draftsOf(attemptID uuid.UUID) map[uuid.UUID]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[uuid.UUID]string, len(j.drafts[attemptID]))
	for qid, text := range j.drafts[attemptID] {
		out[qid] = text
	}
	return out
}

func (j *fakeJournal) marked(attemptID uuid.UUID) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.completed[attemptID]
	return ok
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", within)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type recordingListener struct {
	mu        sync.Mutex
	ticks     []int
	submitted []*model.Attempt
}

func (l *recordingListener) OnTick(remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ticks = append(l.ticks, remaining)
}

func (l *recordingListener) OnSubmitted(a *model.Attempt, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitted = append(l.submitted, a)
}

func (l *recordingListener) tickCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ticks)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

/* ---------------- Fixtures ---------------- */

func choiceQuestion(marks int, correct string) *model.Question {
	return &model.Question{
		ID:             uuid.New(),
		Text:           "Pick one",
		Type:           model.QuestionTypeMultipleChoice,
		Options:        []string{"A. " + correct, "B. Other"},
		CorrectAnswers: []string{correct},
		Marks:          marks,
	}
}

func twoQuestionAssessment() (*model.Assessment, []*model.Question) {
	q1 := choiceQuestion(5, "Paris")
	q2 := choiceQuestion(3, "Blue")
	a := &model.Assessment{
		ID:              uuid.New(),
		Title:           "Geography",
		QuestionIDs:     []uuid.UUID{q1.ID, q2.ID},
		DurationMinutes: 30,
	}
	return a, []*model.Question{q1, q2}
}
