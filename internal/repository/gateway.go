package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Gateway is the PostgreSQL persistence gateway for attempts. It writes
// through the attempt and violation repositories and reads stored records back.
type Gateway struct {
	attempts   *AttemptRepository
	violations *ViolationRepository
}

// NewGateway composes the attempt and violation repositories.
func NewGateway(attempts *AttemptRepository, violations *ViolationRepository) *Gateway {
	return &Gateway{attempts: attempts, violations: violations}
}

// SaveAttempt upserts the attempt row. A COMPLETED row is never reopened.
func (g *Gateway) SaveAttempt(ctx context.Context, a *model.Attempt) error {
	if err := g.attempts.Upsert(ctx, a); err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}
	return nil
}

// SaveResponse upserts a response by its derived id.
func (g *Gateway) SaveResponse(ctx context.Context, r *model.Response) error {
	if err := g.attempts.UpsertResponse(ctx, r); err != nil {
		return fmt.Errorf("upsert response: %w", err)
	}
	return nil
}

// SaveViolation inserts a violation once; replays are ignored.
func (g *Gateway) SaveViolation(ctx context.Context, v *model.Violation) error {
	if err := g.violations.Insert(ctx, v); err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

// SaveViolations bulk-loads violations with COPY. It fails as a whole when any
// row already exists.
func (g *Gateway) SaveViolations(ctx context.Context, vs []*model.Violation) error {
	if err := g.violations.InsertBatch(ctx, vs); err != nil {
		return fmt.Errorf("copy violations: %w", err)
	}
	return nil
}

// FindInProgress returns the open attempt of an examinee, or pgx.ErrNoRows.
func (g *Gateway) FindInProgress(ctx context.Context, examineeID string, assessmentID uuid.UUID) (*model.Attempt, error) {
	return g.attempts.FindInProgress(ctx, examineeID, assessmentID)
}

// GetByID returns the stored attempt with its responses and violations.
// Returns pgx.ErrNoRows if there is no such attempt.
func (g *Gateway) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := g.attempts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Violations, err = g.violations.ListByAttempt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	return a, nil
}
