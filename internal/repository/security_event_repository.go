package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var securityEventColumns = []string{"id", "attempt_id", "batch_id", "actor_id", "kind", "detail", "occurred_at"}

// SecurityEventRepository reads and appends to the security event log.
// The table rejects UPDATE and DELETE.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository creates a new SecurityEventRepository.
func NewSecurityEventRepository(pool *pgxpool.Pool) *SecurityEventRepository {
	return &SecurityEventRepository{pool: pool}
}

// InsertBatch bulk-inserts events with COPY.
func (r *SecurityEventRepository) InsertBatch(ctx context.Context, events []model.SecurityEvent) error {
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"security_events"},
		securityEventColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{e.ID, e.AttemptID, e.BatchID, e.ActorID, string(e.Kind), e.Detail, e.OccurredAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy security events: %w", err)
	}
	return nil
}

// Insert appends a single event. Replays of an already stored id are ignored.
func (r *SecurityEventRepository) Insert(ctx context.Context, e model.SecurityEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO security_events (id, attempt_id, batch_id, actor_id, kind, detail, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.AttemptID, e.BatchID, e.ActorID, string(e.Kind), e.Detail, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// ListByBatch returns a batch's events ordered by occurrence, optionally for one actor.
func (r *SecurityEventRepository) ListByBatch(ctx context.Context, batchID uuid.UUID, actorID *string) ([]model.SecurityEvent, error) {
	query := `SELECT id, attempt_id, batch_id, actor_id, kind, detail, occurred_at
	          FROM security_events
	          WHERE batch_id = $1`
	args := []any{batchID}
	if actorID != nil {
		args = append(args, *actorID)
		query += fmt.Sprintf(" AND actor_id = $%d", len(args))
	}
	query += " ORDER BY occurred_at, id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	events := []model.SecurityEvent{}
	for rows.Next() {
		var e model.SecurityEvent
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.BatchID, &e.ActorID, &e.Kind, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByAttempt returns the number of attempt-scoped events per attempt in a batch.
func (r *SecurityEventRepository) CountByAttempt(ctx context.Context, batchID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, COUNT(*)
		 FROM security_events
		 WHERE batch_id = $1 AND attempt_id IS NOT NULL
		 GROUP BY attempt_id`, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query event counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
