package ledger

import (
	"context"
	"time"

	"github.com/havenmind/crisis-engine/internal/observability/metrics"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

// RetryWriter wraps an Appender with a bounded retry queue. A failed append
// is parked and retried in the background instead of failing the caller: an
// audit outage must never block the user-facing response. When the queue is
// full the oldest behavior is to drop the new entry with an error log, which
// trades completeness for availability.
type RetryWriter struct {
	inner    Appender
	queue    chan Entry
	interval time.Duration
	maxTries int
	logger   *logging.Logger
	metrics  *metrics.LedgerMetrics
}

func NewRetryWriter(inner Appender, logger *logging.Logger, m *metrics.LedgerMetrics) *RetryWriter {
	if inner == nil {
		panic("ledger: inner appender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RetryWriter{
		inner:    inner,
		queue:    make(chan Entry, 256),
		interval: 5 * time.Second,
		maxTries: 5,
		logger:   logger.Component("audit-retry"),
		metrics:  m,
	}
}

func (w *RetryWriter) WithInterval(interval time.Duration) *RetryWriter {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Append tries the inner write once and parks the entry on failure. The
// returned error is always nil once the entry is accepted for retry.
func (w *RetryWriter) Append(ctx context.Context, entry Entry) error {
	err := w.inner.Append(ctx, entry)
	if err == nil {
		return nil
	}
	w.logger.Error("audit append failed, queueing for retry",
		"error", err, "action", entry.Action, "subject_ref", entry.SubjectRef)

	select {
	case w.queue <- entry:
		w.metrics.SetRetryDepth(len(w.queue))
		return nil
	default:
		w.logger.Error("audit retry queue full, dropping entry",
			"action", entry.Action, "subject_ref", entry.SubjectRef)
		w.metrics.ObserveAppend("dropped")
		return nil
	}
}

// Run drains the retry queue until ctx is cancelled. Entries that keep
// failing are re-queued up to maxTries total attempts.
func (w *RetryWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *RetryWriter) drain(ctx context.Context) {
	pending := len(w.queue)
	for i := 0; i < pending; i++ {
		var entry Entry
		select {
		case entry = <-w.queue:
		default:
			w.metrics.SetRetryDepth(len(w.queue))
			return
		}
		if err := w.retry(ctx, entry); err != nil {
			w.logger.Error("audit entry abandoned after retries",
				"error", err, "action", entry.Action, "subject_ref", entry.SubjectRef)
			w.metrics.ObserveAppend("abandoned")
		}
	}
	w.metrics.SetRetryDepth(len(w.queue))
}

func (w *RetryWriter) retry(ctx context.Context, entry Entry) error {
	var err error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < w.maxTries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = w.inner.Append(ctx, entry); err == nil {
			return nil
		}
	}
	return err
}
