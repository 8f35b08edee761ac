package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/havenmind/crisis-engine/internal/detection"
)

// ErrEventNotFound indicates the requested crisis event does not exist.
var ErrEventNotFound = errors.New("events: crisis event not found")

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists CrisisEvents to Postgres.
type Repository struct {
	db db
}

// NewRepository initializes a repo backed by a pgx pool (or compatible).
func NewRepository(db db) *Repository {
	if db == nil {
		panic("events: pgx pool required")
	}
	return &Repository{db: db}
}

// Insert stores a new crisis event.
func (r *Repository) Insert(ctx context.Context, ev *CrisisEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	if ev.LastSeenAt.IsZero() {
		ev.LastSeenAt = ev.CreatedAt
	}

	query := `
		INSERT INTO crisis_events (id, user_ref, source, severity, confidence, text_hash, excerpt, resolved, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := r.db.Exec(ctx, query,
		ev.ID, ev.UserRef, ev.Source, ev.Severity, ev.Confidence,
		ev.TextHash, ev.Excerpt, ev.Resolved, ev.CreatedAt, ev.LastSeenAt,
	); err != nil {
		return fmt.Errorf("events: insert crisis event: %w", err)
	}
	return nil
}

// Refresh updates the last-seen timestamp of an existing event. Used by the
// dedupe path instead of creating a second event.
func (r *Repository) Refresh(ctx context.Context, id uuid.UUID, seenAt time.Time) error {
	query := `UPDATE crisis_events SET last_seen_at = $1 WHERE id = $2`
	ct, err := r.db.Exec(ctx, query, seenAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("events: refresh crisis event: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Resolve marks an event resolved and records the response time.
func (r *Repository) Resolve(ctx context.Context, id uuid.UUID, responseTimeMs int64) error {
	query := `
		UPDATE crisis_events
		SET resolved = TRUE, response_time_ms = $1
		WHERE id = $2 AND resolved = FALSE
	`
	ct, err := r.db.Exec(ctx, query, responseTimeMs, id)
	if err != nil {
		return fmt.Errorf("events: resolve crisis event: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// ListByUser returns a user's events within [from, to], newest first.
func (r *Repository) ListByUser(ctx context.Context, userRef string, from, to time.Time) ([]CrisisEvent, error) {
	query := `
		SELECT id, user_ref, source, severity, confidence, text_hash, excerpt, resolved, response_time_ms, created_at, last_seen_at
		FROM crisis_events
		WHERE user_ref = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userRef, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("events: list crisis events: %w", err)
	}
	defer rows.Close()

	var out []CrisisEvent
	for rows.Next() {
		var ev CrisisEvent
		if err := rows.Scan(
			&ev.ID, &ev.UserRef, &ev.Source, &ev.Severity, &ev.Confidence,
			&ev.TextHash, &ev.Excerpt, &ev.Resolved, &ev.ResponseTimeMs,
			&ev.CreatedAt, &ev.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("events: scan crisis event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PurgeOlderThan removes events of the given severity class last seen before
// cutoff, returning the number removed. Retention thresholds are enforced by
// the caller (the ledger retention service).
func (r *Repository) PurgeOlderThan(ctx context.Context, severity detection.Severity, cutoff time.Time) (int64, error) {
	query := `DELETE FROM crisis_events WHERE severity = $1 AND last_seen_at < $2`
	ct, err := r.db.Exec(ctx, query, severity, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("events: purge crisis events: %w", err)
	}
	return ct.RowsAffected(), nil
}
