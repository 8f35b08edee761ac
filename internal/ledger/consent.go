package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/havenmind/crisis-engine/pkg/logging"
)

// ConsentRecord is the user's data-sharing permission. Absence of a row means
// consent was never granted.
type ConsentRecord struct {
	UserRef     string     `json:"userRef"`
	DataSharing bool       `json:"dataSharing"`
	GrantedAt   *time.Time `json:"grantedAt,omitempty"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
}

// Appender is the audit sink consent changes are recorded through. The retry
// writer satisfies it in production so an audit outage never blocks a consent
// change.
type Appender interface {
	Append(ctx context.Context, entry Entry) error
}

// ConsentMirror receives a copy of each consent record after a successful
// change. Mirror failures are logged, never surfaced.
type ConsentMirror interface {
	SaveConsent(ctx context.Context, record ConsentRecord) error
}

// ConsentStore owns ConsentRecord rows. Reads are plain snapshot reads;
// writes reuse the ledger's per-subject serialization so a grant and a revoke
// racing for one user land in a defined order.
type ConsentStore struct {
	db     *sql.DB
	ledger *AuditLedger
	audit  Appender
	mirror ConsentMirror
	logger *logging.Logger
}

func NewConsentStore(db *sql.DB, ledger *AuditLedger, audit Appender) *ConsentStore {
	if db == nil {
		panic("ledger: db required")
	}
	if ledger == nil {
		panic("ledger: audit ledger required")
	}
	if audit == nil {
		audit = ledger
	}
	return &ConsentStore{db: db, ledger: ledger, audit: audit, logger: logging.Default()}
}

// WithMirror enables mirroring of consent records into the sync store.
func (s *ConsentStore) WithMirror(mirror ConsentMirror, logger *logging.Logger) *ConsentStore {
	s.mirror = mirror
	if logger != nil {
		s.logger = logger.Component("ledger")
	}
	return s
}

// GetConsent returns the user's record. A user with no record gets a zero
// record with DataSharing false.
func (s *ConsentStore) GetConsent(ctx context.Context, userRef string) (ConsentRecord, error) {
	query := `
		SELECT user_ref, data_sharing, granted_at, revoked_at
		FROM consent_records
		WHERE user_ref = $1
	`
	var record ConsentRecord
	var grantedAt, revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, userRef).
		Scan(&record.UserRef, &record.DataSharing, &grantedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ConsentRecord{UserRef: userRef}, nil
	}
	if err != nil {
		return ConsentRecord{}, fmt.Errorf("ledger: get consent: %w", err)
	}
	if grantedAt.Valid {
		t := grantedAt.Time.UTC()
		record.GrantedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		record.RevokedAt = &t
	}
	return record, nil
}

// SetConsent upserts the user's record and audits the change. Revocation
// keeps the row (with revoked_at set) so the grant history survives.
func (s *ConsentStore) SetConsent(ctx context.Context, userRef string, granted bool) (ConsentRecord, error) {
	now := time.Now().UTC()
	var query string
	if granted {
		query = `
			INSERT INTO consent_records (user_ref, data_sharing, granted_at, revoked_at)
			VALUES ($1, TRUE, $2, NULL)
			ON CONFLICT (user_ref)
			DO UPDATE SET data_sharing = TRUE, granted_at = $2, revoked_at = NULL
		`
	} else {
		query = `
			INSERT INTO consent_records (user_ref, data_sharing, granted_at, revoked_at)
			VALUES ($1, FALSE, NULL, $2)
			ON CONFLICT (user_ref)
			DO UPDATE SET data_sharing = FALSE, revoked_at = $2
		`
	}
	lock := s.ledger.subjectLock(userRef)
	lock.Lock()
	_, err := s.db.ExecContext(ctx, query, userRef, now)
	lock.Unlock()
	if err != nil {
		return ConsentRecord{}, fmt.Errorf("ledger: set consent: %w", err)
	}

	action := ActionConsentGranted
	outcome := "granted"
	if !granted {
		action = ActionConsentRevoked
		outcome = "revoked"
	}
	if err := s.audit.Append(ctx, Entry{
		Actor:      userRef,
		Action:     action,
		SubjectRef: userRef,
		Outcome:    outcome,
	}); err != nil {
		return ConsentRecord{}, fmt.Errorf("ledger: audit consent change: %w", err)
	}

	record := ConsentRecord{UserRef: userRef, DataSharing: granted}
	if granted {
		record.GrantedAt = &now
	} else {
		record.RevokedAt = &now
	}
	if s.mirror != nil {
		if err := s.mirror.SaveConsent(ctx, record); err != nil {
			s.logger.Warn("consent mirror write failed", "error", err, "user_ref", userRef)
		}
	}
	return record, nil
}
