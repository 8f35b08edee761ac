// Package aggregation fuses analysis results arriving from independent
// sources over a sliding window into one combined judgment with per-source
// attribution.
package aggregation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/havenmind/crisis-engine/internal/detection"
	"github.com/havenmind/crisis-engine/internal/events"
)

// WindowEntry is one analysis result observed inside the sliding window.
// ObservedAt is carried out-of-band by the store (the sort key), so entries
// stay stable under dedupe refreshes.
type WindowEntry struct {
	EventID    uuid.UUID          `json:"eventId"`
	Source     events.Source      `json:"source"`
	Severity   detection.Severity `json:"severity"`
	Confidence float64            `json:"confidence"`
	Excerpt    string             `json:"excerpt"`
	TextHash   string             `json:"textHash"`
	ObservedAt time.Time          `json:"-"`
}

// WindowStore holds per-user window entries. Implementations prune entries
// older than the configured window on their own.
type WindowStore interface {
	// Append records a new entry at entry.ObservedAt.
	Append(ctx context.Context, userRef string, entry WindowEntry) error
	// Touch moves an existing entry to seenAt without changing its payload.
	Touch(ctx context.Context, userRef string, entry WindowEntry, seenAt time.Time) error
	// Recent returns entries observed at or after since, oldest first.
	Recent(ctx context.Context, userRef string, since time.Time) ([]WindowEntry, error)
}
