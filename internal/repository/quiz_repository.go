package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuizRepository reads answer keys from the authoring layer's tables.
type QuizRepository struct {
	pool *pgxpool.Pool
}

// NewQuizRepository creates a new QuizRepository.
func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

// GetQuiz loads every question of a quiz with its options.
func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (*model.Quiz, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.question_type, q.points, o.id, o.is_correct
		 FROM quiz_questions q
		 LEFT JOIN question_options o ON o.question_id = q.id
		 WHERE q.quiz_id = $1
		 ORDER BY q.order_num, q.id, o.order_num, o.id`, quizID,
	)
	if err != nil {
		return nil, fmt.Errorf("query quiz: %w", err)
	}
	defer rows.Close()

	quiz := &model.Quiz{ID: quizID}
	index := make(map[string]int)
	for rows.Next() {
		var (
			qID, qType string
			points     float64
			optID      *string
			correct    *bool
		)
		if err := rows.Scan(&qID, &qType, &points, &optID, &correct); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}

		i, ok := index[qID]
		if !ok {
			i = len(quiz.Questions)
			index[qID] = i
			quiz.Questions = append(quiz.Questions, model.Question{
				ID:     qID,
				Type:   model.QuestionType(qType),
				Points: points,
			})
		}
		if optID != nil {
			quiz.Questions[i].Options = append(quiz.Questions[i].Options, model.QuestionOption{
				ID:        *optID,
				IsCorrect: correct != nil && *correct,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz: %w", err)
	}
	if len(quiz.Questions) == 0 {
		return nil, model.ErrQuizNotFound
	}
	return quiz, nil
}
