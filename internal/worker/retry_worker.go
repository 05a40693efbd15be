package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/attempt"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/logger"
)

const (
	PollTimeout       = 1 * time.Second // Must be >= 1s to satisfy Redis
	DefaultMaxRetries = 20
	retryBackoff      = 5 * time.Second
	replayTimeout     = 10 * time.Second
)

type outcome int

const (
	outcomeStored outcome = iota
	outcomeRetry
	outcomeDead
)

// RetryWorker consumes persist_retry_queue and replays each write against the gateway.
// Writes that keep failing are moved to the dead letter list.
type RetryWorker struct {
	gw         attempt.Gateway
	rdb        *redis.Client
	log        zerolog.Logger
	maxRetries int
	backoff    time.Duration
}

// NewRetryWorker creates a new RetryWorker.
func NewRetryWorker(gw attempt.Gateway, rdb *redis.Client, maxRetries int, log zerolog.Logger) *RetryWorker {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RetryWorker{
		gw:         gw,
		rdb:        rdb,
		log:        logger.Component(log, "retry_worker"),
		maxRetries: maxRetries,
		backoff:    retryBackoff,
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *RetryWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *RetryWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistRetryQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error, sleeping 3s")
			time.Sleep(3 * time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replayTimeout)
	defer cancel()

	next, payload := w.replay(rctx, result[1])
	switch next {
	case outcomeRetry:
		w.rdb.RPush(rctx, config.WorkerKey.PersistRetryQueue, payload)
		select {
		case <-ctx.Done():
		case <-time.After(w.backoff):
		}
	case outcomeDead:
		w.rdb.RPush(rctx, config.WorkerKey.PersistDeadLetterQueue, payload)
	}
}

// replay stores one queued write. It returns what to do with the item next and
// the payload to push for a retry or dead letter.
func (w *RetryWorker) replay(ctx context.Context, raw string) (outcome, string) {
	var f attempt.FailedWrite
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, moving to dead letter queue")
		return outcomeDead, raw
	}
	if f.RecordID() == uuid.Nil {
		w.log.Error().Str("kind", string(f.Kind)).Msg("Queued write carries no record, moving to dead letter queue")
		return outcomeDead, raw
	}

	err := f.Replay(ctx, w.gw)
	if err == nil {
		w.log.Info().
			Str("kind", string(f.Kind)).
			Str("record_id", f.RecordID().String()).
			Int("retries", f.Retries).
			Msg("Write replayed")
		return outcomeStored, ""
	}

	f.Retries++
	f.Reason = err.Error()
	data, merr := json.Marshal(f)
	if merr != nil {
		return outcomeDead, raw
	}

	if f.Retries >= w.maxRetries {
		w.log.Error().Err(err).
			Str("kind", string(f.Kind)).
			Str("record_id", f.RecordID().String()).
			Int("retries", f.Retries).
			Msg("CRITICAL: write abandoned after max retries")
		return outcomeDead, string(data)
	}

	w.log.Warn().Err(err).
		Str("kind", string(f.Kind)).
		Str("record_id", f.RecordID().String()).
		Int("retries", f.Retries).
		Msg("Replay failed, requeueing")
	return outcomeRetry, string(data)
}

// drain replays what is left in the queue before shutdown. It stops at the
// first failure so a down database does not spin the loop.
func (w *RetryWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistRetryQueue).Result()
		if err != nil {
			break
		}

		rctx, cancel := context.WithTimeout(ctx, replayTimeout)
		next, payload := w.replay(rctx, raw)
		switch next {
		case outcomeRetry:
			w.rdb.RPush(rctx, config.WorkerKey.PersistRetryQueue, payload)
		case outcomeDead:
			w.rdb.RPush(rctx, config.WorkerKey.PersistDeadLetterQueue, payload)
		}
		cancel()

		if next == outcomeRetry {
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
