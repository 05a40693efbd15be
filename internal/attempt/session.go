package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/grading"
	"github.com/stemsi/exstem-engine/internal/model"
)

const (
	defaultPersistTimeout = 10 * time.Second
	journalTimeout        = 2 * time.Second
	publishTimeout        = 2 * time.Second
	enqueueTimeout        = 2 * time.Second
)

// Listener observes a running session. Calls arrive on the timer and submit
// paths and should return quickly.
type Listener interface {
	OnTick(remaining int)
	OnSubmitted(a *model.Attempt, err error)
}

// Config carries the collaborators shared by every session.
type Config struct {
	Gateway        Gateway
	Journal        Journal
	Failures       FailureSink
	Publisher      ViolationPublisher
	TickInterval   time.Duration
	PersistTimeout time.Duration
	Clock          func() time.Time
	Logger         zerolog.Logger
}

// Params describe the attempt a session runs. AttemptID and StartTime are set
// only when resuming a stored in-progress attempt.
type Params struct {
	Assessment *model.Assessment
	Questions  []*model.Question
	ExamineeID string
	AttemptID  uuid.UUID
	StartTime  time.Time
	Drafts     map[uuid.UUID]string
}

// State is a read-only view of a session for display.
type State struct {
	AttemptID             uuid.UUID           `json:"attempt_id"`
	AssessmentID          uuid.UUID           `json:"assessment_id"`
	Status                model.AttemptStatus `json:"status"`
	RemainingSeconds      int                 `json:"remaining_seconds"`
	Answered              []uuid.UUID         `json:"answered"`
	QuestionCount         int                 `json:"question_count"`
	Score                 int                 `json:"score"`
	TotalPossible         int                 `json:"total_possible"`
	FocusLost             bool                `json:"focus_lost"`
	Violations            []model.Violation   `json:"violations"`
	TotalViolationSeconds int64               `json:"total_violation_seconds"`
}

// Session runs one timed attempt. Responses, focus changes and countdown
// events all mutate it under one lock, and it completes exactly once.
type Session struct {
	mu  sync.Mutex
	cfg Config
	log zerolog.Logger

	assessment *model.Assessment
	questions  []*model.Question
	byID       map[uuid.UUID]*model.Question

	attempt *model.Attempt
	store   *ResponseStore
	timer   *CountdownTimer
	monitor *ProctoringMonitor
	sheet   *grading.Sheet
	drafts  *draftWriter

	persistErr error

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int

	done chan struct{}
}

// NewSession prepares a session. The countdown does not run until Start.
func NewSession(p Params, cfg Config) (*Session, error) {
	if p.Assessment == nil {
		return nil, errors.New("attempt: assessment is required")
	}
	if len(p.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	if cfg.Gateway == nil {
		return nil, errors.New("attempt: gateway is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}

	id := p.AttemptID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := cfg.Clock()
	start := p.StartTime
	if start.IsZero() {
		start = now
	}

	s := &Session{
		cfg:        cfg,
		assessment: p.Assessment,
		questions:  p.Questions,
		byID:       make(map[uuid.UUID]*model.Question, len(p.Questions)),
		store:      NewResponseStore(id),
		listeners:  make(map[int]Listener),
		done:       make(chan struct{}),
	}
	for _, q := range p.Questions {
		s.byID[q.ID] = q
	}

	s.log = cfg.Logger.With().
		Str("attempt_id", id.String()).
		Str("assessment_id", p.Assessment.ID.String()).
		Str("examinee_id", p.ExamineeID).
		Logger()

	for qid, text := range p.Drafts {
		if _, ok := s.byID[qid]; ok {
			s.store.Upsert(qid, text)
		}
	}

	s.attempt = &model.Attempt{
		ID:            id,
		ExamineeID:    p.ExamineeID,
		AssessmentID:  p.Assessment.ID,
		StartTime:     start,
		Status:        model.AttemptStatusInProgress,
		TotalPossible: model.SumMarks(p.Questions),
		Responses:     s.store.All(),
	}

	elapsed := int(now.Sub(start) / time.Second)
	s.timer = NewCountdownTimer(
		p.Assessment.DurationSeconds()-elapsed,
		TimerHandlers{OnTick: s.onTick, OnExpired: s.onExpired},
		WithTickInterval(cfg.TickInterval),
		WithTimerLogger(s.log),
	)
	s.monitor = NewProctoringMonitor(id, p.Assessment.ID, p.ExamineeID, s.log)
	if cfg.Journal != nil {
		s.drafts = newDraftWriter(cfg.Journal, id, s.log)
	}

	return s, nil
}

// Start runs the countdown.
func (s *Session) Start() error {
	if err := s.timer.Start(); err != nil {
		return fmt.Errorf("start countdown: %w", err)
	}
	s.log.Info().
		Int("questions", len(s.questions)).
		Int("total_possible", s.attempt.TotalPossible).
		Int("remaining_seconds", s.timer.Remaining()).
		Msg("Attempt started")
	return nil
}

// ID is the attempt identity.
func (s *Session) ID() uuid.UUID { return s.attempt.ID }

// ExamineeID is the examinee running the attempt.
func (s *Session) ExamineeID() string { return s.attempt.ExamineeID }

// Assessment is the assessment being taken.
func (s *Session) Assessment() *model.Assessment { return s.assessment }

// Questions returns the attempt's questions in presentation order.
func (s *Session) Questions() []*model.Question {
	out := make([]*model.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// Done is closed after the attempt completed and persistence was attempted.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe registers a listener until the returned func is called.
func (s *Session) Subscribe(l Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// RecordResponse stores text as the answer to questionID without grading it.
// The journal copy is written asynchronously. Responses to a completed attempt
// are dropped and logged.
func (s *Session) RecordResponse(questionID uuid.UUID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempt.Status != model.AttemptStatusInProgress {
		s.log.Warn().Str("question_id", questionID.String()).Msg("Ignoring response on completed attempt")
		return nil
	}
	if _, ok := s.byID[questionID]; !ok {
		return ErrUnknownQuestion
	}

	s.store.Upsert(questionID, text)
	if s.drafts != nil {
		s.drafts.Put(questionID, text)
	}
	return nil
}

// Response returns the recorded answer to questionID.
func (s *Session) Response(questionID uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.store.Get(questionID)
	if !ok {
		return "", false
	}
	return r.Text, true
}

// AnsweredSet returns the ids of questions with a recorded response.
func (s *Session) AnsweredSet() map[uuid.UUID]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Answered()
}

// FocusLost marks the examinee's window as unfocused.
func (s *Session) FocusLost() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempt.Status != model.AttemptStatusInProgress {
		return
	}
	if s.monitor.FocusLost(s.cfg.Clock()) {
		s.log.Debug().Msg("Focus lost")
	}
}

// FocusGained closes an open focus-loss interval as a violation.
func (s *Session) FocusGained() {
	s.mu.Lock()
	if s.attempt.Status != model.AttemptStatusInProgress {
		s.mu.Unlock()
		return
	}
	v, ok := s.monitor.FocusGained(s.cfg.Clock())
	s.mu.Unlock()

	if ok {
		s.recorded(v)
	}
}

// Attempt returns a copy of the attempt record.
func (s *Session) Attempt() *model.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.Clone()
}

// Sheet returns the grading breakdown once the attempt is completed.
func (s *Session) Sheet() (*grading.Sheet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheet, s.sheet != nil
}

// PersistErr reports the writes that failed at submit. It is meaningful once
// Done is closed.
func (s *Session) PersistErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistErr
}

// Snapshot returns the current display state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	answered := make([]uuid.UUID, 0, s.store.Len())
	for _, q := range s.questions {
		if _, ok := s.store.Get(q.ID); ok {
			answered = append(answered, q.ID)
		}
	}

	return State{
		AttemptID:             s.attempt.ID,
		AssessmentID:          s.attempt.AssessmentID,
		Status:                s.attempt.Status,
		RemainingSeconds:      s.timer.Remaining(),
		Answered:              answered,
		QuestionCount:         len(s.questions),
		Score:                 s.attempt.Score,
		TotalPossible:         s.attempt.TotalPossible,
		FocusLost:             s.monitor.Open(),
		Violations:            s.monitor.Violations(),
		TotalViolationSeconds: s.monitor.TotalViolationSeconds(),
	}
}

// Submit freezes, grades and persists the attempt. It succeeds once; later
// calls return the finalized attempt with ErrAlreadySubmitted. A *PersistError
// reports writes that failed; the returned attempt is COMPLETED either way.
//
// Persistence runs before Submit returns. The call blocks for at most
// Config.PersistTimeout plus the journal and retry-queue timeouts (2s each:
// draft drain, completion marker, enqueue and journal clear), so 18s with the
// default 10s PersistTimeout.
func (s *Session) Submit(ctx context.Context, reason model.SubmitReason) (*model.Attempt, error) {
	s.mu.Lock()
	if s.attempt.Status != model.AttemptStatusInProgress {
		final := s.attempt.Clone()
		s.mu.Unlock()
		return final, ErrAlreadySubmitted
	}

	now := s.cfg.Clock()
	tail, closedTail := s.monitor.Freeze(now)

	sheet := grading.GradeAll(s.questions, s.store.All())
	for _, res := range sheet.Results {
		if r, ok := s.store.Get(res.QuestionID); ok {
			grading.Apply(r, res)
		}
	}
	s.sheet = &sheet

	end := now
	s.attempt.Score = sheet.Score
	s.attempt.EndTime = &end
	s.attempt.Status = model.AttemptStatusCompleted
	s.attempt.SubmitReason = reason

	final := s.attempt.Clone()
	violations := s.monitor.Violations()
	totalViolation := s.monitor.TotalViolationSeconds()
	s.mu.Unlock()

	// Ticks arriving after the status change are already dropped; Cancel
	// guarantees none is delivered once Submit returns.
	s.timer.Cancel()

	if closedTail {
		s.recorded(tail)
	}

	if s.drafts != nil {
		s.drafts.Close()
	}
	s.markCompleted(final)

	err := s.persist(ctx, final, violations)
	if err == nil && s.cfg.Journal != nil {
		jctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		if cerr := s.cfg.Journal.Clear(jctx, final.ID); cerr != nil {
			s.log.Warn().Err(cerr).Msg("Failed to clear autosave journal")
		}
		cancel()
	}

	s.log.Info().
		Str("reason", string(reason)).
		Int("score", final.Score).
		Int("total_possible", final.TotalPossible).
		Int("answered", len(final.Responses)).
		Int("violations", len(violations)).
		Int64("violation_seconds", totalViolation).
		Msg("Attempt submitted")

	s.mu.Lock()
	s.persistErr = err
	s.mu.Unlock()

	s.notify(func(l Listener) { l.OnSubmitted(final.Clone(), err) })
	close(s.done)

	return final, err
}

// markCompleted journals the finalized attempt ahead of persistence, so a stored
// row that still reads IN_PROGRESS is recognized as already submitted.
func (s *Session) markCompleted(a *model.Attempt) {
	if s.cfg.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := s.cfg.Journal.MarkCompleted(ctx, a); err != nil {
		s.log.Warn().Err(err).Msg("Failed to journal completion marker")
	}
}

// persist writes the attempt, each response and each violation independently.
func (s *Session) persist(ctx context.Context, a *model.Attempt, violations []model.Violation) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()

	var failures []FailedWrite
	fail := func(f FailedWrite, err error) {
		f.Reason = err.Error()
		s.log.Error().Err(err).
			Str("kind", string(f.Kind)).
			Str("record_id", f.RecordID().String()).
			Msg("Persist failed")
		failures = append(failures, f)
	}

	row := *a
	row.Responses = nil
	if err := s.cfg.Gateway.SaveAttempt(ctx, &row); err != nil {
		fail(FailedWrite{Kind: WriteAttempt, Attempt: &row}, err)
	}

	for _, q := range s.questions {
		r, ok := a.Responses[q.ID]
		if !ok {
			continue
		}
		if err := s.cfg.Gateway.SaveResponse(ctx, r); err != nil {
			fail(FailedWrite{Kind: WriteResponse, Response: r}, err)
		}
	}

	if len(violations) > 0 {
		ptrs := make([]*model.Violation, len(violations))
		for i := range violations {
			ptrs[i] = &violations[i]
		}

		batched := false
		if bs, ok := s.cfg.Gateway.(ViolationBatchSaver); ok && len(ptrs) > 1 {
			if err := bs.SaveViolations(ctx, ptrs); err != nil {
				s.log.Warn().Err(err).Int("count", len(ptrs)).Msg("Bulk violation insert failed, falling back to row-by-row")
			} else {
				batched = true
			}
		}
		if !batched {
			for _, v := range ptrs {
				if err := s.cfg.Gateway.SaveViolation(ctx, v); err != nil {
					fail(FailedWrite{Kind: WriteViolation, Violation: v}, err)
				}
			}
		}
	}

	if len(failures) == 0 {
		return nil
	}

	if s.cfg.Failures != nil {
		qctx, qcancel := context.WithTimeout(context.Background(), enqueueTimeout)
		defer qcancel()
		for _, f := range failures {
			if err := s.cfg.Failures.Enqueue(qctx, f); err != nil {
				s.log.Error().Err(err).
					Str("kind", string(f.Kind)).
					Str("record_id", f.RecordID().String()).
					Msg("CRITICAL: failed to queue write for retry")
			}
		}
	}
	return &PersistError{Failures: failures}
}

func (s *Session) onTick(remaining int) {
	s.mu.Lock()
	open := s.attempt.Status == model.AttemptStatusInProgress
	s.mu.Unlock()

	if open {
		s.notify(func(l Listener) { l.OnTick(remaining) })
	}
}

func (s *Session) onExpired() {
	s.log.Info().Msg("Time expired, submitting attempt")
	if _, err := s.Submit(context.Background(), model.SubmitTimeExpired); err != nil && !errors.Is(err, ErrAlreadySubmitted) {
		s.log.Warn().Err(err).Msg("Auto-submit finished with persistence errors")
	}
}

// recorded logs and publishes a closed violation.
func (s *Session) recorded(v model.Violation) {
	s.log.Info().
		Int64("duration_seconds", v.DurationSeconds).
		Str("severity", string(v.Severity())).
		Msg("Proctoring violation recorded")

	if s.cfg.Publisher == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Warn().Interface("panic", r).Msg("Violation publisher panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.cfg.Publisher.PublishViolation(ctx, &v); err != nil {
			s.log.Warn().Err(err).Msg("Failed to publish violation")
		}
	}()
}

func (s *Session) notify(fn func(Listener)) {
	s.listenersMu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.listenersMu.Unlock()

	for _, l := range ls {
		s.safeNotify(l, fn)
	}
}

func (s *Session) safeNotify(l Listener, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn().Interface("panic", r).Msg("Session listener panicked")
		}
	}()
	fn(l)
}
