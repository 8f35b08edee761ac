package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/havenmind/crisis-engine/internal/aggregation"
	"github.com/havenmind/crisis-engine/internal/detection"
	"github.com/havenmind/crisis-engine/internal/escalation/crisisline"
	"github.com/havenmind/crisis-engine/internal/events"
	"github.com/havenmind/crisis-engine/internal/ledger"
	"github.com/havenmind/crisis-engine/internal/observability/metrics"
	"github.com/havenmind/crisis-engine/pkg/logging"
)

var escalationTracer = otel.Tracer("crisis/escalation")

// ConsentReader reads the user's data-sharing permission.
type ConsentReader interface {
	GetConsent(ctx context.Context, userRef string) (ledger.ConsentRecord, error)
}

// Connector opens a live crisis-line session. One call is one attempt.
type Connector interface {
	Connect(ctx context.Context, req crisisline.ConnectRequest) (crisisline.ConnectResult, error)
}

// JobPublisher hands notification side effects to the async pipeline.
type JobPublisher interface {
	Publish(ctx context.Context, job events.NotificationJob) error
}

// EventResolver marks the session's CrisisEvent resolved.
type EventResolver interface {
	Resolve(ctx context.Context, id uuid.UUID, responseTimeMs int64) error
}

// Outcome is what the caller renders after one state-machine iteration.
// Resources and the fallback number are part of the outcome so they survive
// total failure of every external collaborator.
type Outcome struct {
	Escalated        bool               `json:"escalated"`
	State            State              `json:"state"`
	Severity         detection.Severity `json:"severity"`
	ActionsTaken     []string           `json:"actionsTaken"`
	FollowUpRequired bool               `json:"followUpRequired"`
	ResourcesShown   bool               `json:"resourcesShown"`
	Fallback         string             `json:"fallback,omitempty"`
}

type sessionSlot struct {
	mu      sync.Mutex
	session *Session
}

// Orchestrator serializes all state transitions per session and maps combined
// severity to concrete actions. External effects are asynchronous or bounded;
// their failure never suppresses the locally computed outcome.
type Orchestrator struct {
	consent   ConsentReader
	audit     ledger.Appender
	connector Connector
	publisher JobPublisher
	resolver  EventResolver
	metrics   *metrics.EscalationMetrics
	logger    *logging.Logger

	connectAttempts int
	connectBackoff  time.Duration
	lifelineNumber  string
	emergencyNumber string

	mu    sync.RWMutex
	slots map[string]*sessionSlot

	subMu       sync.Mutex
	subscribers map[string]map[chan Snapshot]struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(consent ConsentReader, audit ledger.Appender, connector Connector, publisher JobPublisher, logger *logging.Logger, m *metrics.EscalationMetrics) *Orchestrator {
	if consent == nil {
		panic("escalation: consent reader required")
	}
	if audit == nil {
		panic("escalation: audit appender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		consent:         consent,
		audit:           audit,
		connector:       connector,
		publisher:       publisher,
		metrics:         m,
		logger:          logger.Component("escalation"),
		connectAttempts: 2,
		connectBackoff:  2 * time.Second,
		lifelineNumber:  "988",
		emergencyNumber: "911",
		slots:           make(map[string]*sessionSlot),
		subscribers:     make(map[string]map[chan Snapshot]struct{}),
		now:             func() time.Time { return time.Now().UTC() },
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

func (o *Orchestrator) WithEventResolver(resolver EventResolver) *Orchestrator {
	o.resolver = resolver
	return o
}

func (o *Orchestrator) WithConnectPolicy(attempts int, backoff time.Duration) *Orchestrator {
	if attempts > 0 {
		o.connectAttempts = attempts
	}
	if backoff > 0 {
		o.connectBackoff = backoff
	}
	return o
}

func (o *Orchestrator) WithContacts(lifeline, emergency string) *Orchestrator {
	if lifeline != "" {
		o.lifelineNumber = lifeline
	}
	if emergency != "" {
		o.emergencyNumber = emergency
	}
	return o
}

func (o *Orchestrator) slot(sessionID string) *sessionSlot {
	o.mu.RLock()
	s, ok := o.slots[sessionID]
	o.mu.RUnlock()
	if ok {
		return s
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok = o.slots[sessionID]; ok {
		return s
	}
	s = &sessionSlot{}
	o.slots[sessionID] = s
	return s
}

// Handle runs one state-machine iteration for the session against a combined
// analysis result.
func (o *Orchestrator) Handle(ctx context.Context, userRef, sessionID string, kind SessionKind, combined aggregation.CombinedResult) Outcome {
	ctx, span := escalationTracer.Start(ctx, "escalation.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("combined.severity", string(combined.Severity)),
	)

	if !kind.Valid() {
		kind = DefaultKind()
	}

	slot := o.slot(sessionID)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	now := o.now()
	session := slot.session
	if session == nil || session.State.Terminal() {
		session = &Session{
			ID:        sessionID,
			UserRef:   userRef,
			Kind:      kind,
			State:     StateMonitoring,
			Severity:  detection.SeverityNone,
			StartedAt: now,
			UpdatedAt: now,
		}
		slot.session = session
	}

	severity := combined.Severity
	if combined.EventID != uuid.Nil {
		session.EventID = combined.EventID
	}

	// Active escalations are not downgradable. A weaker signal after
	// Connected or a critical override only lands in history.
	if session.Locked && severity.Rank() < session.Severity.Rank() {
		session.History = append(session.History, Step{
			At:       now,
			Severity: severity,
			From:     session.State,
			To:       session.State,
		})
		session.UpdatedAt = now
		o.broadcast(sessionID, session.snapshot())
		return Outcome{
			Escalated:        true,
			State:            session.State,
			Severity:         session.Severity,
			FollowUpRequired: true,
			ResourcesShown:   true,
		}
	}

	from := session.State
	outcome := o.step(ctx, session, severity)
	session.Severity = detection.MaxSeverity(session.Severity, severity)
	session.UpdatedAt = now
	session.History = append(session.History, Step{
		At:       now,
		Severity: severity,
		From:     from,
		To:       session.State,
		Actions:  outcome.ActionsTaken,
	})
	if from != session.State {
		o.metrics.ObserveTransition(string(from), string(session.State))
	}
	span.SetAttributes(attribute.String("session.state", string(session.State)))
	o.broadcast(sessionID, session.snapshot())
	return outcome
}

// step applies the severity-to-action table and advances the state. The
// session slot lock is held.
func (o *Orchestrator) step(ctx context.Context, session *Session, severity detection.Severity) Outcome {
	outcome := Outcome{
		State:    session.State,
		Severity: severity,
	}
	if severity == detection.SeverityNone {
		outcome.Severity = session.Severity
		outcome.Escalated = session.State.rank() >= StateEscalating.rank()
		return outcome
	}

	// Resources are shown at every tier from low upward, unconditionally.
	outcome.ResourcesShown = true
	o.takeAction(ctx, &outcome, "show-resources", ledger.Entry{
		Actor:      "orchestrator",
		Action:     ledger.ActionResourcesShown,
		SubjectRef: session.UserRef,
		Outcome:    "displayed",
		Severity:   severity,
	})
	if session.State == StateMonitoring {
		session.State = StateAlerted
	}

	if !severity.AtLeast(detection.SeverityMedium) {
		outcome.State = session.State
		return outcome
	}

	// Medium and above: consent-gated contact notification.
	outcome.FollowUpRequired = true
	consentGranted := o.consentGranted(ctx, session.UserRef)
	critical := severity == detection.SeverityCritical

	if session.State == StateAlerted {
		session.State = StateEscalating
	}
	outcome.Escalated = true

	if !critical {
		o.takeAction(ctx, &outcome, "request-consent", ledger.Entry{
			Actor:      "orchestrator",
			Action:     ledger.ActionConsentRequested,
			SubjectRef: session.UserRef,
			Outcome:    "requested",
			Severity:   severity,
		})
		if consentGranted {
			o.notifyContact(ctx, &outcome, session, severity, false)
		} else {
			o.appendAudit(ctx, ledger.Entry{
				Actor:      session.UserRef,
				Action:     ledger.ActionConsentDenied,
				SubjectRef: session.UserRef,
				Outcome:    "notification skipped",
				Severity:   severity,
			})
		}
	}

	if critical && !session.DispatchFired {
		session.DispatchFired = true
		// Safety override: critical severity acts without consent and the
		// override itself is a flagged ledger entry.
		o.metrics.ObserveOverride()
		o.appendAudit(ctx, ledger.Entry{
			Actor:      "orchestrator",
			Action:     ledger.ActionSafetyOverride,
			SubjectRef: session.UserRef,
			Outcome:    "consent bypassed for critical severity",
			Severity:   severity,
			Flagged:    true,
		})
		o.notifyContact(ctx, &outcome, session, severity, !consentGranted)
		o.dispatchEligible(ctx, &outcome, session, severity)
		session.Locked = true
	}

	if critical || (severity.AtLeast(detection.SeverityHigh) && consentGranted) {
		o.connectCrisisLine(ctx, &outcome, session, severity)
	}

	outcome.State = session.State
	return outcome
}

func (o *Orchestrator) consentGranted(ctx context.Context, userRef string) bool {
	record, err := o.consent.GetConsent(ctx, userRef)
	if err != nil {
		// Unknown consent is treated as absent.
		o.logger.Error("consent read failed, assuming not granted", "error", err, "user_ref", userRef)
		return false
	}
	return record.DataSharing
}

func (o *Orchestrator) notifyContact(ctx context.Context, outcome *Outcome, session *Session, severity detection.Severity, override bool) {
	if o.publisher != nil {
		err := o.publisher.Publish(ctx, events.NotificationJob{
			Type:      events.JobNotifyContact,
			UserRef:   session.UserRef,
			SessionID: session.ID,
			Severity:  severity,
			Override:  override,
			Message:   "A crisis signal was detected for someone who listed you as an emergency contact.",
		})
		if err != nil {
			o.logger.Error("notify job publish failed", "error", err, "session_id", session.ID)
			o.metrics.ObserveAction("notify-contact", "error")
		}
	}
	o.takeAction(ctx, outcome, "notify-contact", ledger.Entry{
		Actor:      "orchestrator",
		Action:     ledger.ActionContactNotified,
		SubjectRef: session.UserRef,
		Outcome:    "notification queued",
		Severity:   severity,
	})
}

func (o *Orchestrator) dispatchEligible(ctx context.Context, outcome *Outcome, session *Session, severity detection.Severity) {
	if o.publisher != nil {
		err := o.publisher.Publish(ctx, events.NotificationJob{
			Type:      events.JobEmergencyDispatch,
			UserRef:   session.UserRef,
			SessionID: session.ID,
			Severity:  severity,
			Override:  true,
			Message:   "Critical crisis signal, emergency-dispatch eligible.",
		})
		if err != nil {
			o.logger.Error("dispatch job publish failed", "error", err, "session_id", session.ID)
			o.metrics.ObserveAction("emergency-dispatch", "error")
		}
	}
	o.takeAction(ctx, outcome, "emergency-dispatch", ledger.Entry{
		Actor:      "orchestrator",
		Action:     ledger.ActionEmergencyDispatch,
		SubjectRef: session.UserRef,
		Outcome:    "dispatch record queued",
		Severity:   severity,
	})
}

// connectCrisisLine tries the connector with bounded retries and backoff. On
// exhaustion the outcome degrades to direct-dial instructions; the state does
// not reach Connected.
func (o *Orchestrator) connectCrisisLine(ctx context.Context, outcome *Outcome, session *Session, severity detection.Severity) {
	if session.State == StateConnected {
		return
	}
	if o.connector == nil {
		outcome.Fallback = o.fallbackInstructions()
		return
	}

	var lastErr error
	for attempt := 1; attempt <= o.connectAttempts; attempt++ {
		if attempt > 1 {
			if err := o.sleep(ctx, o.connectBackoff*time.Duration(1<<(attempt-2))); err != nil {
				lastErr = err
				break
			}
		}
		result, err := o.connector.Connect(ctx, crisisline.ConnectRequest{
			SessionID: session.ID,
			UserRef:   session.UserRef,
			Severity:  string(severity),
			Channel:   string(session.Kind.Channel),
			Anonymous: session.Kind.Identity == IdentityAnonymous,
		})
		if err == nil {
			o.metrics.ObserveConnectAttempt("ok")
			session.State = StateConnected
			session.Locked = true
			session.LineSessionID = result.SessionID
			details, _ := json.Marshal(map[string]any{
				"lineSessionId": result.SessionID,
				"waitSeconds":   result.WaitTimeSeconds,
				"attempt":       attempt,
			})
			o.takeAction(ctx, outcome, "connect-crisis-line", ledger.Entry{
				Actor:      "orchestrator",
				Action:     ledger.ActionConnected,
				SubjectRef: session.UserRef,
				Outcome:    "session established",
				Severity:   severity,
				Details:    details,
			})
			return
		}
		lastErr = err
		o.metrics.ObserveConnectAttempt("error")
		o.appendAudit(ctx, ledger.Entry{
			Actor:      "orchestrator",
			Action:     ledger.ActionConnectAttempt,
			SubjectRef: session.UserRef,
			Outcome:    fmt.Sprintf("attempt %d failed: %v", attempt, err),
			Severity:   severity,
		})
	}

	o.logger.Error("crisis line unreachable, presenting direct-dial fallback",
		"error", lastErr, "session_id", session.ID, "attempts", o.connectAttempts)
	outcome.Fallback = o.fallbackInstructions()
	o.takeAction(ctx, outcome, "connect-fallback", ledger.Entry{
		Actor:      "orchestrator",
		Action:     ledger.ActionConnectFailure,
		SubjectRef: session.UserRef,
		Outcome:    fmt.Sprintf("retries exhausted: %v", lastErr),
		Severity:   severity,
	})
}

func (o *Orchestrator) fallbackInstructions() string {
	return fmt.Sprintf("Call or text %s now. If you are in immediate danger, dial %s.", o.lifelineNumber, o.emergencyNumber)
}

func (o *Orchestrator) takeAction(ctx context.Context, outcome *Outcome, action string, entry ledger.Entry) {
	outcome.ActionsTaken = append(outcome.ActionsTaken, action)
	o.metrics.ObserveAction(action, "ok")
	o.appendAudit(ctx, entry)
}

func (o *Orchestrator) appendAudit(ctx context.Context, entry ledger.Entry) {
	if err := o.audit.Append(ctx, entry); err != nil {
		// The retry writer absorbs persistence failures; anything surfacing
		// here is logged and dropped rather than blocking the response.
		o.logger.Error("audit append failed", "error", err, "action", entry.Action)
	}
}

// Resolve terminates the session from any state by explicit user or operator
// action and stamps the response time on the CrisisEvent.
func (o *Orchestrator) Resolve(ctx context.Context, sessionID, actor string) (Snapshot, error) {
	o.mu.RLock()
	slot, ok := o.slots[sessionID]
	o.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("escalation: session %s not found", sessionID)
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	session := slot.session
	if session == nil {
		return Snapshot{}, fmt.Errorf("escalation: session %s not found", sessionID)
	}
	if session.State.Terminal() {
		return session.snapshot(), nil
	}

	now := o.now()
	from := session.State
	session.State = StateResolved
	session.UpdatedAt = now
	responseTime := now.Sub(session.StartedAt).Milliseconds()
	session.History = append(session.History, Step{
		At:       now,
		Severity: session.Severity,
		From:     from,
		To:       StateResolved,
		Actions:  []string{"resolve"},
	})

	if o.resolver != nil && session.EventID != uuid.Nil {
		if err := o.resolver.Resolve(ctx, session.EventID, responseTime); err != nil {
			o.logger.Error("event resolve failed", "error", err, "event_id", session.EventID)
		}
	}
	o.metrics.ObserveTransition(string(from), string(StateResolved))
	o.appendAudit(ctx, ledger.Entry{
		Actor:      actor,
		Action:     ledger.ActionResolved,
		SubjectRef: session.UserRef,
		Outcome:    fmt.Sprintf("resolved after %dms", responseTime),
		Severity:   session.Severity,
	})

	snap := session.snapshot()
	o.broadcast(sessionID, snap)

	o.mu.Lock()
	delete(o.slots, sessionID)
	o.mu.Unlock()
	return snap, nil
}

// Session returns a snapshot of the live session, if any.
func (o *Orchestrator) Session(sessionID string) (Snapshot, bool) {
	o.mu.RLock()
	slot, ok := o.slots[sessionID]
	o.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.session == nil {
		return Snapshot{}, false
	}
	return slot.session.snapshot(), true
}

// Subscribe streams session snapshots until the returned cancel func runs.
// Slow subscribers miss intermediate snapshots instead of blocking the state
// machine.
func (o *Orchestrator) Subscribe(sessionID string) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)
	o.subMu.Lock()
	subs, ok := o.subscribers[sessionID]
	if !ok {
		subs = make(map[chan Snapshot]struct{})
		o.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	o.subMu.Unlock()

	cancel := func() {
		o.subMu.Lock()
		if subs, ok := o.subscribers[sessionID]; ok {
			if _, present := subs[ch]; present {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(o.subscribers, sessionID)
			}
		}
		o.subMu.Unlock()
	}
	return ch, cancel
}

func (o *Orchestrator) broadcast(sessionID string, snap Snapshot) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for ch := range o.subscribers[sessionID] {
		select {
		case ch <- snap:
		default:
		}
	}
}
