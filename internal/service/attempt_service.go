package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/attempt"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/model"
	"golang.org/x/sync/singleflight"
)

const initialSaveTimeout = 3 * time.Second

// AttemptFinder looks up stored attempts.
type AttemptFinder interface {
	FindInProgress(ctx context.Context, examineeID string, assessmentID uuid.UUID) (*model.Attempt, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
}

// AttemptService owns the live sessions. There is at most one running
// session per examinee and assessment, and a submitted attempt is never resumed.
type AttemptService struct {
	catalog  Catalog
	attempts AttemptFinder
	journal  JournalReader
	cfg      attempt.Config
	log      zerolog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	byKey map[string]*attempt.Session
	byID  map[uuid.UUID]*attempt.Session
	// finished holds submitted attempts whose final write failed, until the
	// stored row is repaired.
	finished map[uuid.UUID]*model.Attempt
}

// NewAttemptService creates a new AttemptService. attempts and journal may be
// nil, which disables resuming interrupted attempts.
func NewAttemptService(catalog Catalog, attempts AttemptFinder, journal JournalReader, cfg attempt.Config, log zerolog.Logger) *AttemptService {
	l := logger.Component(log, "attempt_service")
	cfg.Logger = l
	return &AttemptService{
		catalog:  catalog,
		attempts: attempts,
		journal:  journal,
		cfg:      cfg,
		log:      l,
		byKey:    make(map[string]*attempt.Session),
		byID:     make(map[uuid.UUID]*attempt.Session),
		finished: make(map[uuid.UUID]*model.Attempt),
	}
}

// Start returns the examinee's running session for the assessment, resuming a
// stored in-progress attempt or creating a new one. Concurrent calls for the
// same pair share one session. It returns attempt.ErrAlreadySubmitted while a
// submitted attempt is still stored as in progress.
func (s *AttemptService) Start(ctx context.Context, examineeID string, assessmentID uuid.UUID) (*attempt.Session, error) {
	examineeID = strings.TrimSpace(examineeID)
	if examineeID == "" {
		return nil, ErrInvalidExaminee
	}

	key := examineeID + "|" + assessmentID.String()
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		s.mu.RLock()
		sess, ok := s.byKey[key]
		s.mu.RUnlock()
		if ok {
			if sess.Attempt().Status == model.AttemptStatusInProgress {
				return sess, nil
			}
			// Submitted but still persisting.
			select {
			case <-sess.Done():
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return s.open(ctx, key, examineeID, assessmentID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*attempt.Session), nil
}

// Get returns the live session for an attempt.
func (s *AttemptService) Get(attemptID uuid.UUID) (*attempt.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[attemptID]
	return sess, ok
}

// Result returns the attempt record, from the live session when it is still
// registered and from storage otherwise.
func (s *AttemptService) Result(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	if sess, ok := s.Get(attemptID); ok {
		return sess.Attempt(), nil
	}
	if s.attempts == nil {
		return nil, ErrAttemptNotFound
	}
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// Active returns the number of running sessions.
func (s *AttemptService) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *AttemptService) open(ctx context.Context, key, examineeID string, assessmentID uuid.UUID) (*attempt.Session, error) {
	a, err := s.catalog.Assessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	questions, err := s.loadQuestions(ctx, a)
	if err != nil {
		return nil, err
	}

	params := attempt.Params{
		Assessment: a,
		Questions:  questions,
		ExamineeID: examineeID,
	}
	resumed, err := s.resume(ctx, &params)
	if err != nil {
		return nil, err
	}

	sess, err := attempt.NewSession(params, s.cfg)
	if err != nil {
		return nil, err
	}
	if !resumed {
		s.saveInitial(ctx, sess)
	}

	s.mu.Lock()
	s.byKey[key] = sess
	s.byID[sess.ID()] = sess
	s.mu.Unlock()
	go s.evictWhenDone(key, sess)

	if err := sess.Start(); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("attempt_id", sess.ID().String()).
		Str("examinee_id", examineeID).
		Bool("resumed", resumed).
		Msg("Session opened")
	return sess, nil
}

// loadQuestions resolves the assessment's questions in order, skipping any that
// are missing from the catalog or unusable.
func (s *AttemptService) loadQuestions(ctx context.Context, a *model.Assessment) ([]*model.Question, error) {
	questions := make([]*model.Question, 0, len(a.QuestionIDs))
	for _, qid := range a.QuestionIDs {
		q, err := s.catalog.Question(ctx, qid)
		if err != nil {
			if errors.Is(err, ErrQuestionNotFound) {
				s.log.Warn().
					Str("assessment_id", a.ID.String()).
					Str("question_id", qid.String()).
					Msg("Question missing from catalog, skipping")
				continue
			}
			return nil, err
		}
		if err := q.Validate(); err != nil {
			s.log.Warn().Err(err).
				Str("assessment_id", a.ID.String()).
				Str("question_id", qid.String()).
				Msg("Invalid question, skipping")
			continue
		}
		questions = append(questions, q)
	}

	if len(questions) == 0 {
		return nil, attempt.ErrNoQuestions
	}
	return questions, nil
}

func (s *AttemptService) resume(ctx context.Context, p *attempt.Params) (bool, error) {
	if s.attempts == nil {
		return false, nil
	}

	prev, err := s.attempts.FindInProgress(ctx, p.ExamineeID, p.Assessment.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("find in-progress attempt: %w", err)
	}

	if final := s.finalized(ctx, prev.ID); final != nil {
		if err := s.repair(ctx, final); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", prev.ID.String()).Msg("Submitted attempt is still stored as in progress")
			return false, fmt.Errorf("attempt %s: %w", prev.ID, attempt.ErrAlreadySubmitted)
		}
		return false, nil
	}

	p.AttemptID = prev.ID
	p.StartTime = prev.StartTime

	if s.journal != nil {
		drafts, err := s.journal.LoadDrafts(ctx, prev.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("attempt_id", prev.ID.String()).Msg("Failed to load drafts, resuming without answers")
		} else {
			p.Drafts = drafts
		}
	}
	return true, nil
}

// finalized returns the submitted record of an attempt, if one exists, from the
// live registry, the failed-write tombstones or the journal marker.
func (s *AttemptService) finalized(ctx context.Context, id uuid.UUID) *model.Attempt {
	s.mu.RLock()
	sess, live := s.byID[id]
	tomb := s.finished[id]
	s.mu.RUnlock()

	if live {
		if a := sess.Attempt(); a.Status == model.AttemptStatusCompleted {
			return a
		}
		return nil
	}
	if tomb != nil {
		return tomb
	}
	if s.journal == nil {
		return nil
	}
	a, err := s.journal.Completed(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", id.String()).Msg("Failed to read completion marker")
		return nil
	}
	return a
}

// repair rewrites the stored row of a submitted attempt as COMPLETED.
func (s *AttemptService) repair(ctx context.Context, final *model.Attempt) error {
	row := final.Clone()
	row.Responses = nil

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initialSaveTimeout)
	defer cancel()
	if err := s.cfg.Gateway.SaveAttempt(sctx, row); err != nil {
		return fmt.Errorf("repair attempt row: %w", err)
	}

	s.mu.Lock()
	delete(s.finished, final.ID)
	s.mu.Unlock()

	s.log.Info().Str("attempt_id", final.ID.String()).Msg("Repaired stored row of submitted attempt")
	return nil
}

// saveInitial records the IN_PROGRESS row so an interrupted attempt can be found again.
func (s *AttemptService) saveInitial(ctx context.Context, sess *attempt.Session) {
	row := sess.Attempt()
	row.Responses = nil

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initialSaveTimeout)
	defer cancel()

	err := s.cfg.Gateway.SaveAttempt(sctx, row)
	if err == nil {
		return
	}
	s.log.Warn().Err(err).Str("attempt_id", row.ID.String()).Msg("Failed to save initial attempt row")

	if s.cfg.Failures != nil {
		f := attempt.FailedWrite{Kind: attempt.WriteAttempt, Attempt: row, Reason: err.Error()}
		if qerr := s.cfg.Failures.Enqueue(sctx, f); qerr != nil {
			s.log.Error().Err(qerr).Str("attempt_id", row.ID.String()).Msg("Failed to queue initial attempt row")
		}
	}
}

func (s *AttemptService) evictWhenDone(key string, sess *attempt.Session) {
	<-sess.Done()

	var tomb *model.Attempt
	if sess.PersistErr() != nil {
		tomb = sess.Attempt()
	}

	s.mu.Lock()
	if s.byKey[key] == sess {
		delete(s.byKey, key)
	}
	delete(s.byID, sess.ID())
	if tomb != nil {
		s.finished[tomb.ID] = tomb
	}
	s.mu.Unlock()

	s.log.Debug().Str("attempt_id", sess.ID().String()).Msg("Session evicted")
}
