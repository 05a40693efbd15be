package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// completedMarkerTTL outlives the retry worker's backoff schedule.
const completedMarkerTTL = 7 * 24 * time.Hour

// JournalReader returns what the journal knows about an interrupted attempt.
type JournalReader interface {
	LoadDrafts(ctx context.Context, attemptID uuid.UUID) (map[uuid.UUID]string, error)
	// Completed returns the finalized attempt, or nil if it was never submitted.
	Completed(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error)
}

// RedisJournal keeps in-progress answers in one hash per attempt,
// question id to raw text, and a completion marker per submitted attempt.
type RedisJournal struct {
	rdb *redis.Client
}

// NewRedisJournal creates a new RedisJournal.
func NewRedisJournal(rdb *redis.Client) *RedisJournal {
	return &RedisJournal{rdb: rdb}
}

// SaveDraft stores text as the latest answer to a question.
func (j *RedisJournal) SaveDraft(ctx context.Context, attemptID, questionID uuid.UUID, text string) error {
	key := config.CacheKey.AttemptDraftsKey(attemptID.String())
	return j.rdb.HSet(ctx, key, questionID.String(), text).Err()
}

// Clear drops the drafts of an attempt. The completion marker expires on its own.
func (j *RedisJournal) Clear(ctx context.Context, attemptID uuid.UUID) error {
	return j.rdb.Del(ctx, config.CacheKey.AttemptDraftsKey(attemptID.String())).Err()
}

// MarkCompleted stores the finalized attempt row, without responses.
func (j *RedisJournal) MarkCompleted(ctx context.Context, a *model.Attempt) error {
	row := *a
	row.Responses = nil
	data, err := json.Marshal(&row)
	if err != nil {
		return fmt.Errorf("marshal completion marker: %w", err)
	}
	return j.rdb.Set(ctx, config.CacheKey.AttemptCompletedKey(a.ID.String()), data, completedMarkerTTL).Err()
}

// Completed returns the marker written at submit, or nil if there is none.
func (j *RedisJournal) Completed(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	data, err := j.rdb.Get(ctx, config.CacheKey.AttemptCompletedKey(attemptID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get completion marker: %w", err)
	}
	var a model.Attempt
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode completion marker: %w", err)
	}
	return &a, nil
}

// LoadDrafts skips fields that are not question ids.
func (j *RedisJournal) LoadDrafts(ctx context.Context, attemptID uuid.UUID) (map[uuid.UUID]string, error) {
	raw, err := j.rdb.HGetAll(ctx, config.CacheKey.AttemptDraftsKey(attemptID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("load drafts: %w", err)
	}
	return decodeDrafts(raw), nil
}

func decodeDrafts(raw map[string]string) map[uuid.UUID]string {
	drafts := make(map[uuid.UUID]string, len(raw))
	for field, text := range raw {
		qid, err := uuid.Parse(field)
		if err != nil {
			continue
		}
		drafts[qid] = text
	}
	return drafts
}
