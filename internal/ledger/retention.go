package ledger

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/havenmind/crisis-engine/internal/detection"
	"github.com/havenmind/crisis-engine/internal/observability/metrics"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

// criticalRetentionFloor is the compliance-mandated minimum for critical
// events. Configured thresholds below it are raised, never honored.
const criticalRetentionFloor = 7 * 365 * 24 * time.Hour

// S3API is the subset of the S3 client used for pre-purge archival.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Thresholds maps a severity class to how long its records are kept.
type Thresholds map[detection.Severity]time.Duration

// DefaultThresholds mirrors the shipped retention policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		detection.SeverityNone:     90 * 24 * time.Hour,
		detection.SeverityLow:      90 * 24 * time.Hour,
		detection.SeverityMedium:   90 * 24 * time.Hour,
		detection.SeverityHigh:     365 * 24 * time.Hour,
		detection.SeverityCritical: criticalRetentionFloor,
	}
}

type eventPurger interface {
	PurgeOlderThan(ctx context.Context, severity detection.Severity, cutoff time.Time) (int64, error)
}

// Purger applies the retention policy: expired audit entries are archived to
// S3 (when a bucket is configured), then removed together with expired
// CrisisEvents, and the sweep itself is recorded as a purge entry.
type Purger struct {
	db         *sql.DB
	ledger     *AuditLedger
	events     eventPurger
	s3Client   S3API
	bucket     string
	thresholds Thresholds
	interval   time.Duration
	logger     *logging.Logger
	metrics    *metrics.LedgerMetrics
	now        func() time.Time
}

func NewPurger(db *sql.DB, ledger *AuditLedger, events eventPurger, thresholds Thresholds, logger *logging.Logger, m *metrics.LedgerMetrics) *Purger {
	if db == nil {
		panic("ledger: db required")
	}
	if ledger == nil {
		panic("ledger: audit ledger required")
	}
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	if d, ok := thresholds[detection.SeverityCritical]; !ok || d < criticalRetentionFloor {
		thresholds[detection.SeverityCritical] = criticalRetentionFloor
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Purger{
		db:         db,
		ledger:     ledger,
		events:     events,
		thresholds: thresholds,
		interval:   24 * time.Hour,
		logger:     logger.Component("retention"),
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithArchive enables S3 archival of entries before deletion.
func (p *Purger) WithArchive(client S3API, bucket string) *Purger {
	p.s3Client = client
	p.bucket = bucket
	return p
}

func (p *Purger) WithInterval(interval time.Duration) *Purger {
	if interval > 0 {
		p.interval = interval
	}
	return p
}

// Run sweeps on the configured interval until ctx is cancelled.
func (p *Purger) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PurgeExpired(ctx); err != nil {
				p.logger.Error("retention sweep failed", "error", err)
			}
		}
	}
}

// PurgeExpired removes records past their severity's threshold and returns
// the total number of audit entries removed.
func (p *Purger) PurgeExpired(ctx context.Context) (int64, error) {
	now := p.now()
	var total int64
	summary := make(map[string]int64)

	for severity, keep := range p.thresholds {
		cutoff := now.Add(-keep)

		if p.archiveEnabled() {
			if err := p.archiveExpired(ctx, severity, cutoff); err != nil {
				// Keep the data rather than purge unarchived entries.
				p.logger.Error("archive before purge failed, skipping class",
					"error", err, "severity", severity)
				continue
			}
		}

		result, err := p.db.ExecContext(ctx,
			`DELETE FROM audit_events WHERE severity = $1 AND created_at < $2`,
			severity, cutoff)
		if err != nil {
			return total, fmt.Errorf("ledger: purge audit class %s: %w", severity, err)
		}
		removed, _ := result.RowsAffected()

		if p.events != nil {
			eventCount, err := p.events.PurgeOlderThan(ctx, severity, cutoff)
			if err != nil {
				p.logger.Error("crisis event purge failed", "error", err, "severity", severity)
			} else {
				summary[string(severity)+".events"] = eventCount
			}
		}

		if removed > 0 {
			summary[string(severity)] = removed
			p.metrics.ObservePurged(string(severity), int(removed))
		}
		total += removed
	}

	if len(summary) > 0 {
		details, _ := json.Marshal(summary)
		if err := p.ledger.Append(ctx, Entry{
			Actor:      "retention",
			Action:     ActionRetentionPurge,
			SubjectRef: "system",
			Outcome:    fmt.Sprintf("purged %d audit entries", total),
			Details:    details,
		}); err != nil {
			return total, fmt.Errorf("ledger: record purge summary: %w", err)
		}
	}
	return total, nil
}

func (p *Purger) archiveEnabled() bool {
	return p.s3Client != nil && p.bucket != ""
}

// archiveExpired snapshots the class's expiring entries to S3 as one JSON
// object per sweep.
func (p *Purger) archiveExpired(ctx context.Context, severity detection.Severity, cutoff time.Time) error {
	entries, err := p.expiring(ctx, severity, cutoff)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("ledger: marshal archive batch: %w", err)
	}
	key := fmt.Sprintf("audit/v1/purged/%s/%s.json", severity, p.now().Format("2006-01-02T15-04-05"))
	_, err = p.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("ledger: s3 put %s: %w", key, err)
	}
	p.logger.Info("archived expiring audit entries", "s3_key", key, "count", len(entries), "severity", severity)
	return nil
}

// expiring returns the class's entries older than cutoff, oldest first.
func (p *Purger) expiring(ctx context.Context, severity detection.Severity, cutoff time.Time) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, actor, action, subject_ref, outcome, severity, flagged, details, created_at
		FROM audit_events
		WHERE severity = $1 AND created_at < $2
		ORDER BY created_at
	`, severity, cutoff)
	if err != nil {
		return nil, fmt.Errorf("ledger: query expiring entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.SubjectRef, &e.Outcome,
			&e.Severity, &e.Flagged, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan expiring entry: %w", err)
		}
		if len(details) > 0 {
			e.Details = append(json.RawMessage(nil), details...)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
