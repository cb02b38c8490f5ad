package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// BatchRepository handles batch data access.
type BatchRepository struct {
	pool *pgxpool.Pool
}

// NewBatchRepository creates a new BatchRepository.
func NewBatchRepository(pool *pgxpool.Pool) *BatchRepository {
	return &BatchRepository{pool: pool}
}

// Create inserts a new batch with version 1.
func (r *BatchRepository) Create(ctx context.Context, b *model.Batch) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO batches (id, quiz_id, name, entry_token, start_time, end_time, duration_minutes,
		                      status, allowed_actors, created_by, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)
		 RETURNING version`,
		b.ID, b.QuizID, b.Name, b.EntryToken, b.StartTime, b.EndTime, b.DurationMinutes,
		b.Status, b.AllowedActors, b.CreatedBy, b.CreatedAt, b.UpdatedAt,
	).Scan(&b.Version)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// GetByID retrieves a batch by ID.
func (r *BatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Batch, error) {
	b := &model.Batch{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, quiz_id, name, entry_token, start_time, end_time, duration_minutes, status,
		        frozen_at, resumed_at, allowed_actors, created_by, version, created_at, updated_at
		 FROM batches WHERE id = $1`, id,
	).Scan(&b.ID, &b.QuizID, &b.Name, &b.EntryToken, &b.StartTime, &b.EndTime, &b.DurationMinutes, &b.Status,
		&b.FrozenAt, &b.ResumedAt, &b.AllowedActors, &b.CreatedBy, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrBatchNotFound
		}
		return nil, fmt.Errorf("select batch: %w", err)
	}
	return b, nil
}

// CompareAndSwap writes the mutable batch columns if the stored version
// still equals b.Version.
func (r *BatchRepository) CompareAndSwap(ctx context.Context, b *model.Batch) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE batches
		 SET status = $3, end_time = $4, frozen_at = $5, resumed_at = $6, updated_at = $7,
		     version = version + 1
		 WHERE id = $1 AND version = $2`,
		b.ID, b.Version, b.Status, b.EndTime, b.FrozenAt, b.ResumedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM batches WHERE id = $1)`, b.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check batch: %w", err)
		}
		if !exists {
			return model.ErrBatchNotFound
		}
		return model.ErrBatchStateConflict
	}
	b.Version++
	return nil
}
