package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ViolationRepository stores proctoring violations. Rows are insert-only.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// Insert stores a violation; a repeated insert of the same id is ignored.
func (r *ViolationRepository) Insert(ctx context.Context, v *model.Violation) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctoring_violations
		     (id, attempt_id, assessment_id, examinee_id, start_time, end_time, duration_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		v.ID, v.AttemptID, v.AssessmentID, v.ExamineeID, v.StartTime, v.EndTime, v.DurationSeconds,
	)
	return err
}

// InsertBatch bulk-loads violations with COPY. It fails as a whole if any row
// already exists; callers fall back to Insert.
func (r *ViolationRepository) InsertBatch(ctx context.Context, vs []*model.Violation) error {
	rows := make([][]interface{}, 0, len(vs))
	for _, v := range vs {
		rows = append(rows, []interface{}{
			v.ID, v.AttemptID, v.AssessmentID, v.ExamineeID, v.StartTime, v.EndTime, v.DurationSeconds,
		})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctoring_violations"},
		[]string{"id", "attempt_id", "assessment_id", "examinee_id", "start_time", "end_time", "duration_seconds"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// ListByAttempt returns the violations of an attempt in chronological order.
func (r *ViolationRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Violation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, assessment_id, examinee_id, start_time, end_time, duration_seconds
		 FROM proctoring_violations
		 WHERE attempt_id = $1
		 ORDER BY start_time`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Violation
	for rows.Next() {
		var v model.Violation
		if err := rows.Scan(&v.ID, &v.AttemptID, &v.AssessmentID, &v.ExamineeID, &v.StartTime, &v.EndTime, &v.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
