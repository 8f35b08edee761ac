package crisis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenmind/crisis-engine/internal/aggregation"
	"github.com/havenmind/crisis-engine/internal/detection"
	"github.com/havenmind/crisis-engine/internal/escalation"
	"github.com/havenmind/crisis-engine/internal/escalation/crisisline"
	"github.com/havenmind/crisis-engine/internal/events"
	"github.com/havenmind/crisis-engine/internal/ledger"
)

type stubConsent struct{ granted bool }

func (s *stubConsent) GetConsent(_ context.Context, userRef string) (ledger.ConsentRecord, error) {
	return ledger.ConsentRecord{UserRef: userRef, DataSharing: s.granted}, nil
}

type stubAudit struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (s *stubAudit) Append(_ context.Context, entry ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

type stubConnector struct{ calls int }

func (s *stubConnector) Connect(_ context.Context, req crisisline.ConnectRequest) (crisisline.ConnectResult, error) {
	s.calls++
	return crisisline.ConnectResult{SessionID: "line-" + req.SessionID, Status: "connecting"}, nil
}

type stubPublisher struct {
	mu   sync.Mutex
	jobs []events.NotificationJob
}

func (s *stubPublisher) Publish(_ context.Context, job events.NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func newTestService(t *testing.T, consentGranted bool) (*Service, *stubPublisher, *stubConnector) {
	t.Helper()

	dict, err := detection.LoadDefaultDictionary()
	require.NoError(t, err)
	detector := detection.NewService(dict, detection.NewClassifier("988", "911"), nil, nil, nil)

	aggregator := aggregation.NewAggregator(
		aggregation.NewMemoryStore(6*time.Hour), nil, 6*time.Hour, 30*time.Second, nil)

	connector := &stubConnector{}
	publisher := &stubPublisher{}
	orchestrator := escalation.NewOrchestrator(
		&stubConsent{granted: consentGranted}, &stubAudit{}, connector, publisher, nil, nil)

	return NewService(detector, aggregator, orchestrator, nil), publisher, connector
}

func TestAnalyzeCleanText(t *testing.T) {
	svc, publisher, connector := newTestService(t, false)

	resp, err := svc.Analyze(context.Background(), AnalyzeRequest{
		Text:    "I had a good day today",
		Source:  events.SourceJournal,
		UserRef: "user-1",
	})
	require.NoError(t, err)

	assert.False(t, resp.Result.HasCrisisIndicators)
	assert.Equal(t, detection.SeverityNone, resp.Combined.Severity)
	assert.False(t, resp.Outcome.Escalated)
	assert.Empty(t, publisher.jobs)
	assert.Zero(t, connector.calls)
}

func TestAnalyzeCriticalEndToEnd(t *testing.T) {
	svc, publisher, connector := newTestService(t, false)

	resp, err := svc.Analyze(context.Background(), AnalyzeRequest{
		Text:    "i have a plan to kill myself tonight",
		Source:  events.SourceChat,
		UserRef: "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, detection.SeverityCritical, resp.Result.SeverityLevel)
	assert.True(t, resp.Result.ImmediateIntervention)
	assert.GreaterOrEqual(t, resp.Result.Confidence, 0.9)
	assert.NotEmpty(t, resp.Result.EmergencyContacts)

	assert.Equal(t, detection.SeverityCritical, resp.Combined.Severity)
	require.Len(t, resp.Combined.Triggers, 1)
	assert.Equal(t, events.SourceChat, resp.Combined.Triggers[0].Source)

	assert.Equal(t, escalation.StateConnected, resp.Outcome.State)
	assert.True(t, resp.Outcome.ResourcesShown)
	assert.Equal(t, 1, connector.calls)
	assert.Len(t, publisher.jobs, 2, "notify plus dispatch")
}

func TestAnalyzeMultiSourceCorroboration(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, AnalyzeRequest{Text: "i feel so hopeless", Source: events.SourceMood, UserRef: "user-1"})
	require.NoError(t, err)
	_, err = svc.Analyze(ctx, AnalyzeRequest{Text: "i just can't cope anymore", Source: events.SourceJournal, UserRef: "user-1"})
	require.NoError(t, err)
	resp, err := svc.Analyze(ctx, AnalyzeRequest{Text: "i want to die", Source: events.SourceChat, UserRef: "user-1"})
	require.NoError(t, err)

	assert.True(t, resp.Combined.Severity.AtLeast(detection.SeverityHigh))
	assert.True(t, resp.Combined.Corroborated)
	assert.Len(t, resp.Combined.Triggers, 3)
}

func TestAnalyzeValidation(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, AnalyzeRequest{Text: "hi", Source: events.SourceChat})
	assert.Error(t, err, "missing userRef")

	_, err = svc.Analyze(ctx, AnalyzeRequest{Text: "hi", Source: "carrier-pigeon", UserRef: "user-1"})
	assert.Error(t, err, "unknown source")
}

func TestHandleResponseEscalates(t *testing.T) {
	svc, publisher, _ := newTestService(t, true)

	result := detection.AnalysisResult{
		HasCrisisIndicators: true,
		SeverityLevel:       detection.SeverityMedium,
		Confidence:          0.6,
	}
	handled, err := svc.HandleResponse(context.Background(), result, "user-1", "", escalation.SessionKind{})
	require.NoError(t, err)

	assert.True(t, handled.Escalated)
	assert.True(t, handled.FollowUpRequired)
	assert.Contains(t, handled.ActionsTaken, "notify-contact")
	assert.Len(t, publisher.jobs, 1)
}

type recordingSaver struct {
	mu    sync.Mutex
	snaps []escalation.Snapshot
}

func (r *recordingSaver) SaveSnapshot(_ context.Context, snap escalation.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func TestAnalyzeMirrorsEscalatedSnapshots(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	saver := &recordingSaver{}
	svc = svc.WithSnapshots(saver)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, AnalyzeRequest{Text: "I had a good day today", Source: events.SourceJournal, UserRef: "user-1", SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Empty(t, saver.snaps, "clean text mirrors nothing")

	_, err = svc.Analyze(ctx, AnalyzeRequest{Text: "i want to die", Source: events.SourceChat, UserRef: "user-1", SessionID: "sess-1"})
	require.NoError(t, err)
	require.NotEmpty(t, saver.snaps)
	assert.Equal(t, "sess-1", saver.snaps[len(saver.snaps)-1].ID)

	_, err = svc.Resolve(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	last := saver.snaps[len(saver.snaps)-1]
	assert.Equal(t, escalation.StateResolved, last.State)
}

func TestResolveEndsSession(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, AnalyzeRequest{Text: "i want to die", Source: events.SourceChat, UserRef: "user-1", SessionID: "sess-1"})
	require.NoError(t, err)

	snap, err := svc.Resolve(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, escalation.StateResolved, snap.State)

	_, ok := svc.Session("sess-1")
	assert.False(t, ok)
}
