package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// AssessmentRepository reads assessments from the catalog.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

// GetByID retrieves an assessment with its ordered question ids and total marks.
func (r *AssessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	a := &model.Assessment{}
	err := r.pool.QueryRow(ctx,
		`SELECT a.id, a.title, a.unit_id, a.duration_minutes, a.practice,
		        COALESCE((SELECT SUM(q.marks)
		                  FROM assessment_questions aq
		                  JOIN questions q ON q.id = aq.question_id
		                  WHERE aq.assessment_id = a.id), 0)
		 FROM assessments a WHERE a.id = $1`, id,
	).Scan(&a.ID, &a.Title, &a.UnitID, &a.DurationMinutes, &a.Practice, &a.TotalMarks)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id FROM assessment_questions
		 WHERE assessment_id = $1
		 ORDER BY order_num, question_id`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var qid uuid.UUID
		if err := rows.Scan(&qid); err != nil {
			return nil, err
		}
		a.QuestionIDs = append(a.QuestionIDs, qid)
	}
	return a, rows.Err()
}
