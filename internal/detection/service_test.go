package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T, enricher *Enricher) *Service {
	t.Helper()
	dict, err := LoadDefaultDictionary()
	require.NoError(t, err)
	return NewService(dict, NewClassifier("988", "911"), enricher, nil, nil)
}

func TestAnalyzeCleanText(t *testing.T) {
	s := testService(t, nil)

	result := s.Analyze(context.Background(), "I had a good day today", "en")

	assert.False(t, result.HasCrisisIndicators)
	assert.Equal(t, SeverityNone, result.SeverityLevel)
	assert.Zero(t, result.Confidence)
	assert.Empty(t, result.RecommendedActions)
	assert.False(t, result.ImmediateIntervention)
	assert.NotEmpty(t, result.DictionaryVersion)
}

func TestAnalyzeCriticalPattern(t *testing.T) {
	s := testService(t, nil)

	result := s.Analyze(context.Background(), "I'm going to kill myself tonight", "en")

	assert.True(t, result.HasCrisisIndicators)
	assert.Equal(t, SeverityCritical, result.SeverityLevel)
	assert.True(t, result.ImmediateIntervention, "critical implies immediate intervention")
	assert.GreaterOrEqual(t, result.Confidence, 0.9)

	kinds := map[ContactKind]bool{}
	for _, ref := range result.EmergencyContacts {
		kinds[ref.Kind] = true
	}
	assert.True(t, kinds[ContactLifeline], "lifeline reference required")
	assert.True(t, kinds[ContactEmergency], "emergency services reference required")

	types := map[ActionType]bool{}
	for _, a := range result.RecommendedActions {
		types[a.Type] = true
	}
	assert.True(t, types[ActionConnectCrisisLine])
	assert.True(t, types[ActionEmergencyDispatch])
	assert.True(t, types[ActionShowResources], "resources always shown")
}

func TestAnalyzeEnrichmentRaises(t *testing.T) {
	llm := &stubLLM{text: `{"severity": "high", "rationale": "implied plan"}`}
	s := testService(t, NewEnricher(llm, "m", time.Second, nil))

	result := s.Analyze(context.Background(), "I feel hopeless", "en")

	assert.Equal(t, SeverityHigh, result.SeverityLevel)
	assert.False(t, result.Degraded)
	types := map[ActionType]bool{}
	for _, a := range result.RecommendedActions {
		types[a.Type] = true
	}
	assert.True(t, types[ActionConnectCrisisLine], "actions follow the raised tier")
}

func TestAnalyzeEnrichmentFailureDegrades(t *testing.T) {
	llm := &stubLLM{err: errors.New("model down")}
	s := testService(t, NewEnricher(llm, "m", time.Second, nil))

	result := s.Analyze(context.Background(), "I feel hopeless", "en")

	// Never fail open to "no crisis": the lexical result stands.
	assert.Equal(t, SeverityMedium, result.SeverityLevel)
	assert.True(t, result.Degraded)
	assert.True(t, result.HasCrisisIndicators)
}

func TestAnalyzeCriticalSkipsEnrichment(t *testing.T) {
	llm := &stubLLM{text: `{"severity": "low"}`}
	s := testService(t, NewEnricher(llm, "m", time.Second, nil))

	result := s.Analyze(context.Background(), "I'm going to kill myself tonight", "en")

	assert.Equal(t, SeverityCritical, result.SeverityLevel)
	assert.Zero(t, llm.calls, "critical lexical results bypass enrichment entirely")
}

func TestAnalyzeDeterministic(t *testing.T) {
	s := testService(t, nil)

	a := s.Analyze(context.Background(), "I keep cutting myself and feel hopeless", "en")
	b := s.Analyze(context.Background(), "I keep cutting myself and feel hopeless", "en")

	assert.Equal(t, a.SeverityLevel, b.SeverityLevel)
	assert.Equal(t, a.Confidence, b.Confidence)
	assert.Equal(t, a.Indicators, b.Indicators)
}
