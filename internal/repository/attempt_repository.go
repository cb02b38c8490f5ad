package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
)

const seatIndex = "attempts_one_seat_per_actor"

const attemptColumns = `id, batch_id, actor_id, status, started_at, suspended_at, submitted_at, ended_at,
	score, max_score, last_question_index, version, created_at, updated_at`

// AttemptRepository handles attempt and answer data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row, a *model.Attempt) error {
	return row.Scan(
		&a.ID, &a.BatchID, &a.ActorID, &a.Status, &a.StartedAt, &a.SuspendedAt, &a.SubmittedAt, &a.EndedAt,
		&a.Score, &a.MaxScore, &a.LastQuestionIndex, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
}

// Create inserts a new attempt. The partial unique index rejects a second
// attempt for the same (batch, actor) unless every earlier one was reset.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO attempts (id, batch_id, actor_id, status, started_at, last_question_index, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, 1, $6, $7)
		 RETURNING version`,
		a.ID, a.BatchID, a.ActorID, a.Status, a.StartedAt, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.Version)
	if err != nil {
		if isUniqueViolation(err, seatIndex) {
			return r.seatTaken(ctx, a.BatchID, a.ActorID)
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// seatTaken tells an unfinished holder of the seat from a finished one.
func (r *AttemptRepository) seatTaken(ctx context.Context, batchID uuid.UUID, actorID string) error {
	var status model.AttemptStatus
	err := r.pool.QueryRow(ctx,
		`SELECT status FROM attempts
		 WHERE batch_id = $1 AND actor_id = $2 AND status <> $3
		 LIMIT 1`, batchID, actorID, model.AttemptStatusResetByAdmin,
	).Scan(&status)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read seat holder: %w", err)
	}
	if err == nil && status.IsTerminal() {
		return model.ErrAttemptCompleted
	}
	return model.ErrAlreadyActiveAttempt
}

// GetByID retrieves an attempt by ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id), a)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("select attempt: %w", err)
	}
	return a, nil
}

// ListByBatch returns every attempt of a batch, oldest first.
func (r *AttemptRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]model.Attempt, error) {
	return r.list(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE batch_id = $1 ORDER BY started_at, id`, batchID)
}

// ListActive returns up to limit ACTIVE attempts, oldest first.
func (r *AttemptRepository) ListActive(ctx context.Context, limit int) ([]model.Attempt, error) {
	return r.list(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE status = $1 ORDER BY started_at, id LIMIT $2`,
		model.AttemptStatusActive, limit)
}

func (r *AttemptRepository) list(ctx context.Context, query string, args ...any) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []model.Attempt{}
	for rows.Next() {
		var a model.Attempt
		if err := scanAttempt(rows, &a); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// CompareAndSwap writes a if the stored version still equals a.Version.
func (r *AttemptRepository) CompareAndSwap(ctx context.Context, a *model.Attempt) error {
	return r.swap(ctx, r.pool, a)
}

// CommitWithAnswers swaps the attempt and replaces its answers in one transaction.
func (r *AttemptRepository) CommitWithAnswers(ctx context.Context, a *model.Attempt, answers []model.Answer) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	expected := a.Version
	if err := r.swap(ctx, tx, a); err != nil {
		a.Version = expected
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM attempt_answers WHERE attempt_id = $1`, a.ID); err != nil {
		a.Version = expected
		return fmt.Errorf("clear answers: %w", err)
	}

	if len(answers) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"attempt_answers"},
			[]string{"attempt_id", "question_id", "selected_option_id", "text_answer", "answered_at", "points", "position"},
			pgx.CopyFromSlice(len(answers), func(i int) ([]any, error) {
				ans := answers[i]
				return []any{a.ID, ans.QuestionID, ans.SelectedOptionID, ans.TextAnswer, ans.AnsweredAt, ans.Points, i}, nil
			}),
		)
		if err != nil {
			a.Version = expected
			return fmt.Errorf("copy answers: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		a.Version = expected
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *AttemptRepository) swap(ctx context.Context, db execer, a *model.Attempt) error {
	tag, err := db.Exec(ctx,
		`UPDATE attempts
		 SET status = $3, started_at = $4, suspended_at = $5, submitted_at = $6, ended_at = $7,
		     score = $8, max_score = $9, last_question_index = $10, updated_at = $11,
		     version = version + 1
		 WHERE id = $1 AND version = $2`,
		a.ID, a.Version, a.Status, a.StartedAt, a.SuspendedAt, a.SubmittedAt, a.EndedAt,
		a.Score, a.MaxScore, a.LastQuestionIndex, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM attempts WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check attempt: %w", err)
		}
		if !exists {
			return model.ErrAttemptNotFound
		}
		return model.ErrAttemptStateConflict
	}
	a.Version++
	return nil
}

// SaveAnswer upserts one answer while holding the attempt row, so the
// status check and the write cannot interleave with a transition.
func (r *AttemptRepository) SaveAnswer(ctx context.Context, ans model.Answer, questionIndex int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status model.AttemptStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM attempts WHERE id = $1 FOR NO KEY UPDATE`, ans.AttemptID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrAttemptNotFound
		}
		return fmt.Errorf("lock attempt: %w", err)
	}
	if status != model.AttemptStatusActive {
		return model.ErrAttemptNotActive
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, selected_option_id, text_answer, answered_at, position)
		 VALUES ($1, $2, $3, $4, $5, (SELECT COUNT(*) FROM attempt_answers WHERE attempt_id = $1))
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET selected_option_id = EXCLUDED.selected_option_id,
		     text_answer = EXCLUDED.text_answer,
		     answered_at = EXCLUDED.answered_at,
		     points = NULL`,
		ans.AttemptID, ans.QuestionID, ans.SelectedOptionID, ans.TextAnswer, ans.AnsweredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE attempts SET last_question_index = $2, updated_at = $3, version = version + 1 WHERE id = $1`,
		ans.AttemptID, questionIndex, ans.AnsweredAt,
	)
	if err != nil {
		return fmt.Errorf("touch attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListAnswers returns an attempt's answers in first-answered order.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, selected_option_id, text_answer, answered_at, points
		 FROM attempt_answers
		 WHERE attempt_id = $1
		 ORDER BY position, question_id`, attemptID,
	)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	answers := []model.Answer{}
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &a.SelectedOptionID, &a.TextAnswer, &a.AnsweredAt, &a.Points); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// AnsweredCounts returns the number of non-blank answers per attempt in a batch.
func (r *AttemptRepository) AnsweredCounts(ctx context.Context, batchID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT aa.attempt_id, COUNT(*)
		 FROM attempt_answers aa
		 JOIN attempts a ON a.id = aa.attempt_id
		 WHERE a.batch_id = $1
		   AND (aa.selected_option_id IS NOT NULL OR COALESCE(aa.text_answer, '') <> '')
		 GROUP BY aa.attempt_id`, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query answered counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan answered count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}
