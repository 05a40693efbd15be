package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/model"
)

// AssessmentSource loads assessments from durable storage.
type AssessmentSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
}

// QuestionSource loads questions from durable storage.
type QuestionSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error)
}

// Catalog resolves the read-only content an attempt runs against.
type Catalog interface {
	Assessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
	Question(ctx context.Context, id uuid.UUID) (*model.Question, error)
}

// CatalogService serves catalog lookups through a Redis read-through cache.
// A nil client disables caching.
type CatalogService struct {
	assessments AssessmentSource
	questions   QuestionSource
	rdb         *redis.Client
	ttl         time.Duration
	log         zerolog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(assessments AssessmentSource, questions QuestionSource, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		assessments: assessments,
		questions:   questions,
		rdb:         rdb,
		ttl:         ttl,
		log:         logger.Component(log, "catalog"),
	}
}

// Assessment returns the assessment or ErrAssessmentNotFound.
func (s *CatalogService) Assessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	key := config.CacheKey.AssessmentKey(id.String())

	var a model.Assessment
	if s.cached(ctx, key, &a) {
		return &a, nil
	}

	found, err := s.assessments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	s.store(ctx, key, found)
	return found, nil
}

// Question returns the question or ErrQuestionNotFound.
func (s *CatalogService) Question(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	key := config.CacheKey.QuestionKey(id.String())

	var q model.Question
	if s.cached(ctx, key, &q) {
		return &q, nil
	}

	found, err := s.questions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("get question: %w", err)
	}
	s.store(ctx, key, found)
	return found, nil
}

func (s *CatalogService) cached(ctx context.Context, key string, dst interface{}) bool {
	if s.rdb == nil {
		return false
	}
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("key", key).Msg("Cache read failed, falling back to database")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry, reloading")
		return false
	}
	return true
}

func (s *CatalogService) store(ctx context.Context, key string, v interface{}) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
