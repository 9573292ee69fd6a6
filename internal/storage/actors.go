package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fleetops/tollgate/internal/model"
)

// CreateActor inserts an actor and returns it.
func (db *DB) CreateActor(ctx context.Context, a model.Actor) (model.Actor, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO actors (id, actor_id, name, role, api_key_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.ActorID, a.Name, a.Role, a.APIKeyHash, a.CreatedAt,
	)
	if err != nil {
		return model.Actor{}, fmt.Errorf("storage: create actor: %w", err)
	}
	return a, nil
}

// GetActorByActorID retrieves an actor by its human-readable actor_id.
func (db *DB) GetActorByActorID(ctx context.Context, actorID string) (model.Actor, error) {
	var a model.Actor
	err := db.pool.QueryRow(ctx,
		`SELECT id, actor_id, name, role, api_key_hash, created_at
		 FROM actors WHERE actor_id = $1`, actorID,
	).Scan(&a.ID, &a.ActorID, &a.Name, &a.Role, &a.APIKeyHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Actor{}, ErrNotFound
		}
		return model.Actor{}, fmt.Errorf("storage: get actor: %w", err)
	}
	return a, nil
}

// GetActor retrieves an actor by primary key.
func (db *DB) GetActor(ctx context.Context, id uuid.UUID) (model.Actor, error) {
	var a model.Actor
	err := db.pool.QueryRow(ctx,
		`SELECT id, actor_id, name, role, api_key_hash, created_at
		 FROM actors WHERE id = $1`, id,
	).Scan(&a.ID, &a.ActorID, &a.Name, &a.Role, &a.APIKeyHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Actor{}, ErrNotFound
		}
		return model.Actor{}, fmt.Errorf("storage: get actor: %w", err)
	}
	return a, nil
}

// CountActors returns the number of provisioned actors. Used at startup to
// decide whether the bootstrap actor is needed.
func (db *DB) CountActors(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM actors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count actors: %w", err)
	}
	return n, nil
}
