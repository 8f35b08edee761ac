package detection

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/havenmind/crisis-engine/internal/observability/metrics"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

var detectionTracer = otel.Tracer("crisis/detection")

// Service runs the per-message detection pipeline: extract, enrich
// (degradable), classify.
type Service struct {
	extractor  *Extractor
	classifier *Classifier
	enricher   *Enricher
	logger     *logging.Logger
	metrics    *metrics.DetectionMetrics
}

// NewService creates the detection service. enricher may be nil, in which
// case analysis is dictionary-only.
func NewService(dict *Dictionary, classifier *Classifier, enricher *Enricher, m *metrics.DetectionMetrics, logger *logging.Logger) *Service {
	if dict == nil {
		panic("detection: dictionary cannot be nil")
	}
	if classifier == nil {
		classifier = NewClassifier("", "")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		extractor:  NewExtractor(dict),
		classifier: classifier,
		enricher:   enricher,
		logger:     logger.Component("detection"),
		metrics:    m,
	}
}

// Analyze inspects one piece of text and returns the full analysis result.
// Enrichment failures degrade to the lexical result; they never fail open to
// "no crisis" and never surface as an error to the caller.
func (s *Service) Analyze(ctx context.Context, text, locale string) AnalysisResult {
	ctx, span := detectionTracer.Start(ctx, "detection.analyze")
	defer span.End()
	start := time.Now()

	indicators := s.extractor.Extract(text, locale)
	classification := s.classifier.Classify(indicators)

	degraded := false
	if s.enricher != nil && classification.Severity != SeverityCritical {
		verdict, err := s.enricher.Assess(ctx, text, classification.Severity)
		switch {
		case err != nil:
			// DetectionFailure: recover locally with the lexical result.
			degraded = true
			s.logger.Warn("enrichment degraded to dictionary-only",
				"error", err,
				"lexical_severity", classification.Severity,
			)
		case verdict.Severity.Rank() > classification.Severity.Rank():
			classification.Severity = verdict.Severity
			classification.RecommendedActions = s.classifier.ActionsFor(verdict.Severity)
			if verdict.Severity == SeverityCritical {
				classification.ImmediateIntervention = true
				if classification.Confidence < 0.9 {
					classification.Confidence = 0.9
				}
			}
			s.logger.Info("enrichment raised severity",
				"severity", verdict.Severity,
				"rationale", verdict.Rationale,
			)
		}
	}

	result := AnalysisResult{
		HasCrisisIndicators:   len(indicators) > 0,
		SeverityLevel:         classification.Severity,
		Confidence:            classification.Confidence,
		Indicators:            indicators,
		RecommendedActions:    classification.RecommendedActions,
		EmergencyContacts:     s.classifier.ContactsFor(classification.Severity),
		ImmediateIntervention: classification.ImmediateIntervention,
		DictionaryVersion:     s.extractor.dict.Version(),
		Degraded:              degraded,
		AnalyzedAt:            time.Now().UTC(),
	}

	span.SetAttributes(
		attribute.String("detection.severity", string(result.SeverityLevel)),
		attribute.Float64("detection.confidence", result.Confidence),
		attribute.Int("detection.indicators", len(indicators)),
		attribute.Bool("detection.degraded", degraded),
	)
	s.metrics.ObserveAnalysis(string(result.SeverityLevel), degraded, time.Since(start).Seconds())

	if result.SeverityLevel.AtLeast(SeverityHigh) {
		s.logger.Info("crisis indicators detected",
			"severity", result.SeverityLevel,
			"confidence", result.Confidence,
			"indicator_count", len(indicators),
			"dictionary_version", result.DictionaryVersion,
		)
	}
	return result
}
