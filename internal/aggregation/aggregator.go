package aggregation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/havenmind/crisis-engine/internal/detection"
	"github.com/havenmind/crisis-engine/internal/events"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

var aggregationTracer = otel.Tracer("crisis/aggregation")

const excerptLimit = 140

// Trigger attributes one source's contribution to the combined judgment.
type Trigger struct {
	Source   events.Source      `json:"source"`
	Severity detection.Severity `json:"severity"`
	Excerpt  string             `json:"excerpt"`
}

// CombinedResult is the window-wide judgment handed to the orchestrator.
type CombinedResult struct {
	Severity     detection.Severity `json:"severity"`
	Confidence   float64            `json:"confidence"`
	Corroborated bool               `json:"corroborated"`
	Triggers     []Trigger          `json:"triggers"`
	EventID      uuid.UUID          `json:"eventId,omitempty"`
	Deduplicated bool               `json:"deduplicated,omitempty"`
}

type eventRecorder interface {
	Insert(ctx context.Context, ev *events.CrisisEvent) error
	Refresh(ctx context.Context, id uuid.UUID, seenAt time.Time) error
}

// Aggregator maintains the per-user sliding window and records a CrisisEvent
// for every non-none result. Storage failures degrade to a single-result
// judgment instead of blocking or weakening the fresh signal.
type Aggregator struct {
	store        WindowStore
	recorder     eventRecorder
	window       time.Duration
	dedupeWindow time.Duration
	logger       *logging.Logger
	now          func() time.Time
}

func NewAggregator(store WindowStore, recorder eventRecorder, window, dedupeWindow time.Duration, logger *logging.Logger) *Aggregator {
	if store == nil {
		panic("aggregation: window store required")
	}
	if window <= 0 {
		window = 6 * time.Hour
	}
	if dedupeWindow <= 0 {
		dedupeWindow = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Aggregator{
		store:        store,
		recorder:     recorder,
		window:       window,
		dedupeWindow: dedupeWindow,
		logger:       logger.Component("aggregation"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Aggregate folds a fresh analysis result into the user's window and returns
// the combined judgment. Identical text from the same source inside the
// dedupe window refreshes the existing CrisisEvent instead of creating a
// second one.
func (a *Aggregator) Aggregate(ctx context.Context, userRef string, source events.Source, text string, result detection.AnalysisResult) CombinedResult {
	ctx, span := aggregationTracer.Start(ctx, "aggregation.Aggregate")
	defer span.End()

	now := a.now()
	fresh := WindowEntry{
		Source:     source,
		Severity:   result.SeverityLevel,
		Confidence: result.Confidence,
		Excerpt:    excerpt(text),
		TextHash:   hashText(text),
		ObservedAt: now,
	}

	var deduped bool
	if result.SeverityLevel != detection.SeverityNone {
		fresh, deduped = a.record(ctx, userRef, fresh, now)
	}

	entries, err := a.store.Recent(ctx, userRef, now.Add(-a.window))
	if err != nil {
		a.logger.Error("window read failed, degrading to single-result judgment",
			"error", err, "user_ref", userRef)
		entries = nil
	}
	if result.SeverityLevel != detection.SeverityNone && !containsEvent(entries, fresh.EventID) {
		entries = append(entries, fresh)
	}

	combined := combine(entries)
	combined.EventID = fresh.EventID
	combined.Deduplicated = deduped

	span.SetAttributes(
		attribute.String("combined.severity", string(combined.Severity)),
		attribute.Bool("combined.corroborated", combined.Corroborated),
		attribute.Int("window.entries", len(entries)),
	)
	return combined
}

// record persists the fresh entry, collapsing dedupe-window repeats onto the
// existing event.
func (a *Aggregator) record(ctx context.Context, userRef string, fresh WindowEntry, now time.Time) (WindowEntry, bool) {
	recent, err := a.store.Recent(ctx, userRef, now.Add(-a.dedupeWindow))
	if err != nil {
		a.logger.Error("dedupe lookup failed", "error", err, "user_ref", userRef)
		recent = nil
	}
	for _, prior := range recent {
		if prior.Source != fresh.Source || prior.TextHash != fresh.TextHash {
			continue
		}
		if a.recorder != nil {
			if err := a.recorder.Refresh(ctx, prior.EventID, now); err != nil {
				a.logger.Error("event refresh failed", "error", err, "event_id", prior.EventID)
			}
		}
		if err := a.store.Touch(ctx, userRef, prior, now); err != nil {
			a.logger.Error("window touch failed", "error", err, "event_id", prior.EventID)
		}
		prior.ObservedAt = now
		return prior, true
	}

	event := &events.CrisisEvent{
		UserRef:    userRef,
		Source:     fresh.Source,
		Severity:   fresh.Severity,
		Confidence: fresh.Confidence,
		TextHash:   fresh.TextHash,
		Excerpt:    fresh.Excerpt,
	}
	if a.recorder != nil {
		if err := a.recorder.Insert(ctx, event); err != nil {
			a.logger.Error("event insert failed, continuing with local judgment",
				"error", err, "user_ref", userRef)
		}
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	fresh.EventID = event.ID

	if err := a.store.Append(ctx, userRef, fresh); err != nil {
		a.logger.Error("window append failed", "error", err, "event_id", fresh.EventID)
	}
	return fresh, false
}

// combine applies the window rule: overall severity is the max across
// sources, and agreement of two or more distinct sources at medium or above
// boosts confidence.
func combine(entries []WindowEntry) CombinedResult {
	combined := CombinedResult{Severity: detection.SeverityNone}
	if len(entries) == 0 {
		return combined
	}

	bySource := make(map[events.Source]WindowEntry)
	elevated := make(map[events.Source]struct{})
	for _, entry := range entries {
		combined.Severity = detection.MaxSeverity(combined.Severity, entry.Severity)
		if entry.Confidence > combined.Confidence {
			combined.Confidence = entry.Confidence
		}
		if entry.Severity.AtLeast(detection.SeverityMedium) {
			elevated[entry.Source] = struct{}{}
		}
		if best, ok := bySource[entry.Source]; !ok || stronger(entry, best) {
			bySource[entry.Source] = entry
		}
	}

	if len(elevated) >= 2 {
		combined.Corroborated = true
		combined.Confidence = min(1.0, combined.Confidence+0.15)
	}

	for _, entry := range bySource {
		combined.Triggers = append(combined.Triggers, Trigger{
			Source:   entry.Source,
			Severity: entry.Severity,
			Excerpt:  entry.Excerpt,
		})
	}
	sort.Slice(combined.Triggers, func(i, j int) bool {
		a, b := combined.Triggers[i], combined.Triggers[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		return a.Source < b.Source
	})
	return combined
}

func stronger(a, b WindowEntry) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	return a.ObservedAt.After(b.ObservedAt)
}

func containsEvent(entries []WindowEntry, id uuid.UUID) bool {
	for _, entry := range entries {
		if entry.EventID == id {
			return true
		}
	}
	return false
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= excerptLimit {
		return text
	}
	return string(runes[:excerptLimit]) + "…"
}
