package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const insertTimeout = 5 * time.Second

// Store is the Postgres-backed audit recorder.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Record inserts the event. Failures are surfaced to the operational log
// only; auditing must never abort the primary operation.
func (s *Store) Record(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), insertTimeout)
	defer cancel()

	_, err := s.pool.Exec(insertCtx, `
		INSERT INTO audit_log (actor, action, resource_type, resource_ref, outcome, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.Actor, event.Action, event.ResourceType, event.ResourceRef,
		event.Outcome, event.Detail, event.OccurredAt)
	if err != nil {
		slog.Error("failed to persist audit event",
			"error", err,
			"action", event.Action,
			"resource_ref", event.ResourceRef)
	}
}

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT actor, action, resource_type, resource_ref, outcome, detail, occurred_at
		FROM audit_log
		ORDER BY occurred_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Actor, &e.Action, &e.ResourceType, &e.ResourceRef,
			&e.Outcome, &e.Detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
