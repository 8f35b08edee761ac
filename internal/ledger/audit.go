// Package ledger is the append-only record of consent decisions and every
// escalation action. Entries are never updated or deleted outside the
// retention purge, and the purge itself writes a summary entry.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/havenmind/crisis-engine/internal/detection"
	"github.com/havenmind/crisis-engine/internal/observability/metrics"
)

// Action identifies what was recorded.
type Action string

const (
	ActionResourcesShown    Action = "escalation.resources_shown"
	ActionConsentRequested  Action = "escalation.consent_requested"
	ActionContactNotified   Action = "escalation.contact_notified"
	ActionConnectAttempt    Action = "escalation.connect_attempt"
	ActionConnected         Action = "escalation.connected"
	ActionConnectFailure    Action = "escalation.connect_failure"
	ActionEmergencyDispatch Action = "escalation.emergency_dispatch"
	ActionSafetyOverride    Action = "escalation.safety_override"
	ActionResolved          Action = "escalation.resolved"
	ActionConsentGranted    Action = "consent.granted"
	ActionConsentRevoked    Action = "consent.revoked"
	ActionConsentDenied     Action = "consent.denied"
	ActionRetentionPurge    Action = "retention.purge"
)

// Entry is one immutable audit record. Severity drives the retention class;
// Flagged marks safety overrides for compliance review.
type Entry struct {
	ID         string             `json:"id"`
	Actor      string             `json:"actor"`
	Action     Action             `json:"action"`
	SubjectRef string             `json:"subjectRef"`
	Outcome    string             `json:"outcome"`
	Severity   detection.Severity `json:"severity"`
	Flagged    bool               `json:"flagged,omitempty"`
	Details    json.RawMessage    `json:"details,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// Filter narrows Query results. Zero fields are ignored.
type Filter struct {
	SubjectRef  string
	Action      Action
	OnlyFlagged bool
	StartTime   time.Time
	EndTime     time.Time
	Limit       int
	Offset      int
}

// AuditLedger persists entries on Postgres. Writes for the same subject are
// serialized so the per-user ordering in the table matches the order of
// decisions.
type AuditLedger struct {
	db      *sql.DB
	metrics *metrics.LedgerMetrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAuditLedger(db *sql.DB, m *metrics.LedgerMetrics) *AuditLedger {
	if db == nil {
		panic("ledger: db required")
	}
	return &AuditLedger{db: db, metrics: m, locks: make(map[string]*sync.Mutex)}
}

func (l *AuditLedger) subjectLock(subjectRef string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[subjectRef]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[subjectRef] = lock
	}
	return lock
}

// Append writes one entry. The entry is filled with an ID and timestamp when
// missing.
func (l *AuditLedger) Append(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = detection.SeverityNone
	}

	lock := l.subjectLock(entry.SubjectRef)
	lock.Lock()
	defer lock.Unlock()

	query := `
		INSERT INTO audit_events (
			id, actor, action, subject_ref, outcome, severity, flagged, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var details any
	if len(entry.Details) > 0 {
		details = []byte(entry.Details)
	}
	_, err := l.db.ExecContext(ctx, query,
		entry.ID,
		entry.Actor,
		entry.Action,
		entry.SubjectRef,
		entry.Outcome,
		entry.Severity,
		entry.Flagged,
		details,
		entry.CreatedAt,
	)
	if err != nil {
		l.metrics.ObserveAppend("error")
		return fmt.Errorf("ledger: append audit entry: %w", err)
	}
	l.metrics.ObserveAppend("ok")
	return nil
}

// Query returns entries matching the filter, newest first. Reads take no
// subject lock.
func (l *AuditLedger) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, actor, action, subject_ref, outcome, severity, flagged, details, created_at
		FROM audit_events
		WHERE 1=1
	`
	var args []any
	argIdx := 1

	if filter.SubjectRef != "" {
		query += fmt.Sprintf(" AND subject_ref = $%d", argIdx)
		args = append(args, filter.SubjectRef)
		argIdx++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if filter.OnlyFlagged {
		query += " AND flagged = TRUE"
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.SubjectRef, &e.Outcome,
			&e.Severity, &e.Flagged, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan audit entry: %w", err)
		}
		if len(details) > 0 {
			e.Details = append(json.RawMessage(nil), details...)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
