package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// QuestionRepository reads questions from the catalog.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// GetByID retrieves a single question including its answer key.
func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	var (
		q              model.Question
		options, rawKs []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, question_text, question_type, options, correct_answers, marks, difficulty, topic
		 FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.Text, &q.Type, &options, &rawKs, &q.Marks, &q.Difficulty, &q.Topic)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(options, &q.Options); err != nil {
		return nil, fmt.Errorf("decode options of %s: %w", id, err)
	}
	if err := json.Unmarshal(rawKs, &q.CorrectAnswers); err != nil {
		return nil, fmt.Errorf("decode correct answers of %s: %w", id, err)
	}
	return &q, nil
}
