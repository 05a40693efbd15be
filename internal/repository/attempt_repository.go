package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// AttemptRepository handles attempt and response data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Upsert inserts the attempt or updates its mutable fields. A COMPLETED row is
// never moved back, so a stale replay of the initial IN_PROGRESS write is harmless.
func (r *AttemptRepository) Upsert(ctx context.Context, a *model.Attempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempts (id, examinee_id, assessment_id, start_time, end_time, score, total_possible, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET end_time = EXCLUDED.end_time,
		     score = EXCLUDED.score,
		     status = EXCLUDED.status,
		     updated_at = NOW()
		 WHERE attempts.status <> 'COMPLETED'`,
		a.ID, a.ExamineeID, a.AssessmentID, a.StartTime, a.EndTime, a.Score, a.TotalPossible, a.Status,
	)
	return err
}

// UpsertResponse inserts the response or updates its text and awarded marks.
func (r *AttemptRepository) UpsertResponse(ctx context.Context, resp *model.Response) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO responses (id, attempt_id, question_id, response_text, marks_awarded)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET response_text = EXCLUDED.response_text,
		     marks_awarded = EXCLUDED.marks_awarded,
		     updated_at = NOW()`,
		resp.ID, resp.AttemptID, resp.QuestionID, resp.Text, resp.MarksAwarded,
	)
	return err
}

// GetByID retrieves an attempt with its responses.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, examinee_id, assessment_id, start_time, end_time, score, total_possible, status
		 FROM attempts WHERE id = $1`, id,
	).Scan(&a.ID, &a.ExamineeID, &a.AssessmentID, &a.StartTime, &a.EndTime, &a.Score, &a.TotalPossible, &a.Status)
	if err != nil {
		return nil, err
	}

	a.Responses, err = r.ListResponses(ctx, id)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindInProgress retrieves the open attempt of an examinee on an assessment.
// Returns pgx.ErrNoRows if there is none.
func (r *AttemptRepository) FindInProgress(ctx context.Context, examineeID string, assessmentID uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, examinee_id, assessment_id, start_time, end_time, score, total_possible, status
		 FROM attempts
		 WHERE examinee_id = $1 AND assessment_id = $2 AND status = $3`,
		examineeID, assessmentID, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.ExamineeID, &a.AssessmentID, &a.StartTime, &a.EndTime, &a.Score, &a.TotalPossible, &a.Status)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListResponses retrieves the responses of an attempt keyed by question.
func (r *AttemptRepository) ListResponses(ctx context.Context, attemptID uuid.UUID) (map[uuid.UUID]*model.Response, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, question_id, response_text, marks_awarded
		 FROM responses WHERE attempt_id = $1`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	responses := make(map[uuid.UUID]*model.Response)
	for rows.Next() {
		var resp model.Response
		if err := rows.Scan(&resp.ID, &resp.AttemptID, &resp.QuestionID, &resp.Text, &resp.MarksAwarded); err != nil {
			return nil, err
		}
		responses[resp.QuestionID] = &resp
	}
	return responses, rows.Err()
}
