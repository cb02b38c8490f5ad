package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ActorRepository resolves display names from the user layer.
type ActorRepository struct {
	pool *pgxpool.Pool
}

// NewActorRepository creates a new ActorRepository.
func NewActorRepository(pool *pgxpool.Pool) *ActorRepository {
	return &ActorRepository{pool: pool}
}

// DisplayNames maps each known actor id to its name. Unknown ids are absent.
func (r *ActorRepository) DisplayNames(ctx context.Context, actorIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(actorIDs))
	if len(actorIDs) == 0 {
		return names, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT id, name FROM users WHERE id = ANY($1)`, actorIDs)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}
