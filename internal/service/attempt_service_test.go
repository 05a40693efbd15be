package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/attempt"
	"github.com/stemsi/exstem-engine/internal/model"
)

type fakeCatalog struct {
	assessments map[uuid.UUID]*model.Assessment
	questions   map[uuid.UUID]*model.Question
	mu          sync.Mutex
	lookups     int
}

func (c *fakeCatalog) Assessment(_ context.Context, id uuid.UUID) (*model.Assessment, error) {
	c.mu.Lock()
	c.lookups++
	c.mu.Unlock()
	a, ok := c.assessments[id]
	if !ok {
		return nil, ErrAssessmentNotFound
	}
	return a, nil
}

func (c *fakeCatalog) Question(_ context.Context, id uuid.UUID) (*model.Question, error) {
	q, ok := c.questions[id]
	if !ok {
		return nil, ErrQuestionNotFound
	}
	return q, nil
}

type fakeAttempts struct {
	inProgress *model.Attempt
	stored     map[uuid.UUID]*model.Attempt
}

func (f *fakeAttempts) FindInProgress(_ context.Context, examineeID string, assessmentID uuid.UUID) (*model.Attempt, error) {
	if f.inProgress == nil || f.inProgress.ExamineeID != examineeID || f.inProgress.AssessmentID != assessmentID {
		return nil, pgx.ErrNoRows
	}
	return f.inProgress, nil
}

func (f *fakeAttempts) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	if a, ok := f.stored[id]; ok {
		return a, nil
	}
	return nil, pgx.ErrNoRows
}

type fakeJournal struct {
	drafts    map[uuid.UUID]map[uuid.UUID]string
	completed map[uuid.UUID]*model.Attempt
}

func (f *fakeJournal) LoadDrafts(_ context.Context, attemptID uuid.UUID) (map[uuid.UUID]string, error) {
	return f.drafts[attemptID], nil
}

func (f *fakeJournal) Completed(_ context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	return f.completed[attemptID], nil
}

var errRowsDown = errors.New("db down")

// rowStore is an attempts table: it serves lookups and takes upserts, and can
// refuse COMPLETED writes or hold them until released.
type rowStore struct {
	mu            sync.Mutex
	rows          map[uuid.UUID]model.Attempt
	failCompleted bool
	hold          chan struct{}
}

func newRowStore() *rowStore {
	return &rowStore{rows: map[uuid.UUID]model.Attempt{}}
}

func (r *rowStore) SaveAttempt(_ context.Context, a *model.Attempt) error {
	r.mu.Lock()
	hold := r.hold
	r.mu.Unlock()
	if hold != nil && a.Status == model.AttemptStatusCompleted {
		<-hold
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCompleted && a.Status == model.AttemptStatusCompleted {
		return errRowsDown
	}
	if prev, ok := r.rows[a.ID]; ok && prev.Status == model.AttemptStatusCompleted {
		return nil
	}
	row := *a
	row.Responses = nil
	r.rows[a.ID] = row
	return nil
}

func (r *rowStore) SaveResponse(context.Context, *model.Response) error   { return nil }
func (r *rowStore) SaveViolation(context.Context, *model.Violation) error { return nil }

func (r *rowStore) FindInProgress(_ context.Context, examineeID string, assessmentID uuid.UUID) (*model.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ExamineeID == examineeID && row.AssessmentID == assessmentID && row.Status == model.AttemptStatusInProgress {
			a := row
			return &a, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *rowStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		return &row, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *rowStore) setFailCompleted(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCompleted = v
}

func (r *rowStore) row(id uuid.UUID) (model.Attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	return row, ok
}

func waitEvicted(t *testing.T, svc *AttemptService, id uuid.UUID) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := svc.Get(id); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("session was not evicted after submit")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type memGateway struct {
	mu       sync.Mutex
	attempts []model.Attempt
}

func (g *memGateway) SaveAttempt(_ context.Context, a *model.Attempt) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts = append(g.attempts, *a)
	return nil
}

func (g *memGateway) SaveResponse(context.Context, *model.Response) error   { return nil }
func (g *memGateway) SaveViolation(context.Context, *model.Violation) error { return nil }

func (g *memGateway) saved() []model.Attempt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.Attempt(nil), g.attempts...)
}

var testNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func newCatalog() (*fakeCatalog, *model.Assessment) {
	q1 := &model.Question{ID: uuid.New(), Text: "Capital of France?", Type: model.QuestionTypeMultipleChoice,
		Options: []string{"A. Paris", "B. Rome"}, CorrectAnswers: []string{"Paris"}, Marks: 5}
	q2 := &model.Question{ID: uuid.New(), Text: "Sky colour?", Type: model.QuestionTypeMultipleChoice,
		Options: []string{"A. Blue", "B. Green"}, CorrectAnswers: []string{"Blue"}, Marks: 3}
	a := &model.Assessment{
		ID:              uuid.New(),
		Title:           "Geography",
		QuestionIDs:     []uuid.UUID{q1.ID, q2.ID},
		DurationMinutes: 30,
	}
	return &fakeCatalog{
		assessments: map[uuid.UUID]*model.Assessment{a.ID: a},
		questions:   map[uuid.UUID]*model.Question{q1.ID: q1, q2.ID: q2},
	}, a
}

func newService(cat Catalog, attempts AttemptFinder, journal JournalReader, gw attempt.Gateway) *AttemptService {
	return NewAttemptService(cat, attempts, journal, attempt.Config{
		Gateway: gw,
		Clock:   func() time.Time { return testNow },
	}, zerolog.Nop())
}

func TestStartIsIdempotentPerExamineeAndAssessment(t *testing.T) {
	cat, a := newCatalog()
	gw := &memGateway{}
	svc := newService(cat, &fakeAttempts{}, nil, gw)

	const callers = 8
	sessions := make([]*attempt.Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := svc.Start(context.Background(), "examinee-1", a.ID)
			if err != nil {
				t.Errorf("Start: %v", err)
				return
			}
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if sessions[i] != sessions[0] {
			t.Fatalf("caller %d got a different session", i)
		}
	}
	if n := len(gw.saved()); n != 1 {
		t.Fatalf("initial rows saved = %d, want 1", n)
	}
	if row := gw.saved()[0]; row.Status != model.AttemptStatusInProgress || row.EndTime != nil {
		t.Fatalf("initial row = %+v", row)
	}
	if svc.Active() != 1 {
		t.Fatalf("Active = %d, want 1", svc.Active())
	}

	other, err := svc.Start(context.Background(), "examinee-2", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if other == sessions[0] {
		t.Fatal("different examinees share a session")
	}
}

func TestStartSkipsMissingQuestions(t *testing.T) {
	cat, a := newCatalog()
	a.QuestionIDs = append(a.QuestionIDs, uuid.New())
	svc := newService(cat, nil, nil, &memGateway{})

	sess, err := svc.Start(context.Background(), "examinee-1", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(sess.Questions()); got != 2 {
		t.Fatalf("questions = %d, want 2", got)
	}
	if got := sess.Attempt().TotalPossible; got != 8 {
		t.Fatalf("TotalPossible = %d, want 8", got)
	}
}

func TestStartWithoutUsableQuestions(t *testing.T) {
	cat, a := newCatalog()
	a.QuestionIDs = []uuid.UUID{uuid.New()}
	svc := newService(cat, nil, nil, &memGateway{})

	if _, err := svc.Start(context.Background(), "examinee-1", a.ID); !errors.Is(err, attempt.ErrNoQuestions) {
		t.Fatalf("err = %v, want ErrNoQuestions", err)
	}
}

func TestStartValidatesInput(t *testing.T) {
	cat, _ := newCatalog()
	svc := newService(cat, nil, nil, &memGateway{})

	if _, err := svc.Start(context.Background(), "  ", uuid.New()); !errors.Is(err, ErrInvalidExaminee) {
		t.Fatalf("err = %v, want ErrInvalidExaminee", err)
	}
	if _, err := svc.Start(context.Background(), "examinee-1", uuid.New()); !errors.Is(err, ErrAssessmentNotFound) {
		t.Fatalf("err = %v, want ErrAssessmentNotFound", err)
	}
}

func TestStartResumesInProgressAttempt(t *testing.T) {
	cat, a := newCatalog()
	prev := &model.Attempt{
		ID:           uuid.New(),
		ExamineeID:   "examinee-1",
		AssessmentID: a.ID,
		StartTime:    testNow.Add(-10 * time.Minute),
		Status:       model.AttemptStatusInProgress,
	}
	drafts := &fakeJournal{drafts: map[uuid.UUID]map[uuid.UUID]string{prev.ID: {a.QuestionIDs[0]: "A. Paris"}}}
	gw := &memGateway{}
	svc := newService(cat, &fakeAttempts{inProgress: prev}, drafts, gw)

	sess, err := svc.Start(context.Background(), "examinee-1", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID() != prev.ID {
		t.Fatalf("attempt id = %s, want resumed %s", sess.ID(), prev.ID)
	}
	if text, ok := sess.Response(a.QuestionIDs[0]); !ok || text != "A. Paris" {
		t.Fatalf("restored draft = %q, %v", text, ok)
	}
	if got := sess.Snapshot().RemainingSeconds; got != 20*60 {
		t.Fatalf("remaining = %d, want 1200", got)
	}
	if n := len(gw.saved()); n != 0 {
		t.Fatalf("resumed attempt rewrote its initial row %d time(s)", n)
	}
}

func TestSubmittedSessionIsEvicted(t *testing.T) {
	cat, a := newCatalog()
	stored := map[uuid.UUID]*model.Attempt{}
	svc := newService(cat, &fakeAttempts{stored: stored}, nil, &memGateway{})

	first, err := svc.Start(context.Background(), "examinee-1", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	final, err := first.Submit(context.Background(), model.SubmitExplicit)
	if err != nil {
		t.Fatal(err)
	}
	stored[final.ID] = final
	waitEvicted(t, svc, first.ID())

	got, err := svc.Result(context.Background(), first.ID())
	if err != nil || got.Status != model.AttemptStatusCompleted {
		t.Fatalf("Result = %+v, %v", got, err)
	}
	if _, err := svc.Result(context.Background(), uuid.New()); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("err = %v, want ErrAttemptNotFound", err)
	}

	second, err := svc.Start(context.Background(), "examinee-1", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID() == first.ID() {
		t.Fatal("a completed attempt was reused")
	}
}

func TestSubmittedAttemptIsNotResumedWhenFinalWriteFails(t *testing.T) {
	cat, a := newCatalog()
	rows := newRowStore()
	rows.setFailCompleted(true)
	svc := newService(cat, rows, nil, rows)

	first, err := svc.Start(context.Background(), "examinee-1", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	_ = first.RecordResponse(a.QuestionIDs[0], "A. Paris")
	final, err := first.Submit(context.Background(), model.SubmitExplicit)
	var perr *attempt.PersistError
	if !errors.As(err, &perr) || final.Score != 5 {
		t.Fatalf("Submit = %+v, %v", final, err)
	}
	waitEvicted(t, svc, first.ID())

	if row, _ := rows.row(first.ID()); row.Status != model.AttemptStatusInProgress {
		t.Fatalf("stored row = %s, want the stale IN_PROGRESS row", row.Status)
	}

	if _, err := svc.Start(context.Background(), "examinee-1", a.ID); !errors.Is(err, attempt.ErrAlreadySubmitted) {
		t.Fatalf("err = %v, want ErrAlreadySubmitted", err)
	}
	if svc.Active() != 0 {
		t.Fatalf("Active = %d, a submitted attempt was reopened", svc.Active())
	}

	rows.setFailCompleted(false)
	next, err := svc.Start(context.Background(), "examinee-1", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if next.ID() == first.ID() {
		t.Fatal("a submitted attempt was resumed")
	}
	row, _ := rows.row(first.ID())
	if row.Status != model.AttemptStatusCompleted || row.Score != 5 {
		t.Fatalf("repaired row = %+v", row)
	}
}

func TestCompletionMarkerBlocksResumeAfterRestart(t *testing.T) {
	cat, a := newCatalog()
	rows := newRowStore()
	rows.setFailCompleted(true)

	prev := model.Attempt{
		ID:           uuid.New(),
		ExamineeID:   "examinee-1",
		AssessmentID: a.ID,
		StartTime:    testNow.Add(-5 * time.Minute),
		Status:       model.AttemptStatusInProgress,
	}
	rows.rows[prev.ID] = prev

	end := testNow.Add(-time.Minute)
	done := prev
	done.Status = model.AttemptStatusCompleted
	done.EndTime = &end
	done.Score = 5
	journal := &fakeJournal{
		drafts:    map[uuid.UUID]map[uuid.UUID]string{prev.ID: {a.QuestionIDs[0]: "B. Rome"}},
		completed: map[uuid.UUID]*model.Attempt{prev.ID: &done},
	}
	svc := newService(cat, rows, journal, rows)

	if _, err := svc.Start(context.Background(), "examinee-1", a.ID); !errors.Is(err, attempt.ErrAlreadySubmitted) {
		t.Fatalf("err = %v, want ErrAlreadySubmitted", err)
	}

	rows.setFailCompleted(false)
	sess, err := svc.Start(context.Background(), "examinee-1", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID() == prev.ID {
		t.Fatal("attempt with a completion marker was resumed")
	}
	if _, ok := sess.Response(a.QuestionIDs[0]); ok {
		t.Fatal("drafts of the submitted attempt leaked into the new one")
	}
	if row, _ := rows.row(prev.ID); row.Status != model.AttemptStatusCompleted || row.Score != 5 {
		t.Fatalf("repaired row = %+v", row)
	}
}

func TestStartWaitsOutSessionBeingSubmitted(t *testing.T) {
	cat, a := newCatalog()
	rows := newRowStore()
	rows.hold = make(chan struct{})
	svc := newService(cat, rows, nil, rows)

	first, err := svc.Start(context.Background(), "examinee-1", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _, _ = first.Submit(context.Background(), model.SubmitExplicit) }()

	deadline := time.Now().Add(2 * time.Second)
	for first.Attempt().Status != model.AttemptStatusCompleted {
		if time.Now().After(deadline) {
			t.Fatal("submit did not start")
		}
		time.Sleep(2 * time.Millisecond)
	}

	started := make(chan *attempt.Session, 1)
	go func() {
		sess, err := svc.Start(context.Background(), "examinee-1", a.ID)
		if err != nil {
			t.Errorf("Start: %v", err)
		}
		started <- sess
	}()

	select {
	case sess := <-started:
		t.Fatalf("Start returned %v while the previous attempt was still persisting", sess)
	case <-time.After(50 * time.Millisecond):
	}

	close(rows.hold)
	var next *attempt.Session
	select {
	case next = <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after submit finished")
	}
	if next == nil || next.ID() == first.ID() {
		t.Fatal("Start handed back the submitted session")
	}
	if st := next.Snapshot(); st.Status != model.AttemptStatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", st.Status)
	}
}
