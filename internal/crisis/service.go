// Package crisis is the facade UI collaborators call: analyze text, feed a
// result back for escalation handling, resolve a session.
package crisis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/havenmind/crisis-engine/internal/aggregation"
	"github.com/havenmind/crisis-engine/internal/detection"
	"github.com/havenmind/crisis-engine/internal/escalation"
	"github.com/havenmind/crisis-engine/internal/events"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

var crisisTracer = otel.Tracer("crisis/service")

// AnalyzeRequest is one input from one source channel.
type AnalyzeRequest struct {
	Text      string                 `json:"text"`
	Source    events.Source          `json:"source"`
	UserRef   string                 `json:"userRef"`
	SessionID string                 `json:"sessionId,omitempty"`
	Locale    string                 `json:"locale,omitempty"`
	Kind      escalation.SessionKind `json:"kind,omitempty"`
}

// AnalyzeResponse carries the per-input result, the window-wide judgment and
// the actions the orchestrator took.
type AnalyzeResponse struct {
	Result   detection.AnalysisResult   `json:"result"`
	Combined aggregation.CombinedResult `json:"combined"`
	Outcome  escalation.Outcome         `json:"outcome"`
}

// HandleResult is the handleResponse entry point's answer.
type HandleResult struct {
	Escalated        bool     `json:"escalated"`
	ActionsTaken     []string `json:"actionsTaken"`
	FollowUpRequired bool     `json:"followUpRequired"`
}

// SnapshotSaver mirrors session snapshots for offline reads. Saves are best
// effort.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, snap escalation.Snapshot) error
}

// Service wires the pipeline stages together. Each stage is fail-safe on its
// own; the facade only adds validation and attribution.
type Service struct {
	detector     *detection.Service
	aggregator   *aggregation.Aggregator
	orchestrator *escalation.Orchestrator
	snapshots    SnapshotSaver
	logger       *logging.Logger
}

func NewService(detector *detection.Service, aggregator *aggregation.Aggregator, orchestrator *escalation.Orchestrator, logger *logging.Logger) *Service {
	if detector == nil {
		panic("crisis: detector required")
	}
	if aggregator == nil {
		panic("crisis: aggregator required")
	}
	if orchestrator == nil {
		panic("crisis: orchestrator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		detector:     detector,
		aggregator:   aggregator,
		orchestrator: orchestrator,
		logger:       logger.Component("crisis"),
	}
}

// WithSnapshots enables snapshot mirroring for escalated sessions.
func (s *Service) WithSnapshots(snapshots SnapshotSaver) *Service {
	s.snapshots = snapshots
	return s
}

func (s *Service) saveSnapshot(ctx context.Context, snap escalation.Snapshot) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.SaveSnapshot(ctx, snap); err != nil {
		s.logger.Warn("snapshot mirror write failed", "error", err, "session_id", snap.ID)
	}
}

func (s *Service) validate(req *AnalyzeRequest) error {
	if strings.TrimSpace(req.UserRef) == "" {
		return errors.New("crisis: userRef is required")
	}
	if !req.Source.Valid() {
		return fmt.Errorf("crisis: unknown source %q", req.Source)
	}
	if req.SessionID == "" {
		req.SessionID = req.UserRef
	}
	if !req.Kind.Valid() {
		req.Kind = escalation.DefaultKind()
	}
	return nil
}

// Analyze runs the full pipeline for one input.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, error) {
	if err := s.validate(&req); err != nil {
		return AnalyzeResponse{}, err
	}
	ctx, span := crisisTracer.Start(ctx, "crisis.Analyze", trace.WithAttributes(
		attribute.String("crisis.source", string(req.Source)),
		attribute.String("crisis.session_id", req.SessionID),
	))
	defer span.End()

	result := s.detector.Analyze(ctx, req.Text, req.Locale)
	combined := s.aggregator.Aggregate(ctx, req.UserRef, req.Source, req.Text, result)
	outcome := s.orchestrator.Handle(ctx, req.UserRef, req.SessionID, req.Kind, combined)

	if outcome.Escalated {
		s.logger.Warn("escalation active",
			"user_ref", req.UserRef,
			"session_id", req.SessionID,
			"severity", combined.Severity,
			"state", outcome.State,
		)
		if snap, ok := s.orchestrator.Session(req.SessionID); ok {
			s.saveSnapshot(ctx, snap)
		}
	}
	return AnalyzeResponse{Result: result, Combined: combined, Outcome: outcome}, nil
}

// HandleResponse feeds an already computed AnalysisResult back into the
// escalation machinery, for callers that analyzed locally or render their own
// detection output.
func (s *Service) HandleResponse(ctx context.Context, result detection.AnalysisResult, userRef, sessionID string, kind escalation.SessionKind) (HandleResult, error) {
	ctx, span := crisisTracer.Start(ctx, "crisis.HandleResponse")
	defer span.End()

	if strings.TrimSpace(userRef) == "" {
		return HandleResult{}, errors.New("crisis: userRef is required")
	}
	if sessionID == "" {
		sessionID = userRef
	}
	if !kind.Valid() {
		kind = escalation.DefaultKind()
	}

	combined := aggregation.CombinedResult{
		Severity:   result.SeverityLevel,
		Confidence: result.Confidence,
	}
	outcome := s.orchestrator.Handle(ctx, userRef, sessionID, kind, combined)
	return HandleResult{
		Escalated:        outcome.Escalated,
		ActionsTaken:     outcome.ActionsTaken,
		FollowUpRequired: outcome.FollowUpRequired,
	}, nil
}

// Resolve terminates the session's escalation by explicit action.
func (s *Service) Resolve(ctx context.Context, sessionID, actor string) (escalation.Snapshot, error) {
	snap, err := s.orchestrator.Resolve(ctx, sessionID, actor)
	if err != nil {
		return snap, err
	}
	s.saveSnapshot(ctx, snap)
	return snap, nil
}

// Session exposes the live session snapshot for streams and admin reads.
func (s *Service) Session(sessionID string) (escalation.Snapshot, bool) {
	return s.orchestrator.Session(sessionID)
}

// Subscribe streams session snapshots.
func (s *Service) Subscribe(sessionID string) (<-chan escalation.Snapshot, func()) {
	return s.orchestrator.Subscribe(sessionID)
}
