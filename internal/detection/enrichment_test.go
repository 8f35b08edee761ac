package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	text  string
	err   error
	delay time.Duration
	calls int
}

func (s *stubLLM) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return LLMResponse{}, ctx.Err()
		}
	}
	if s.err != nil {
		return LLMResponse{}, s.err
	}
	return LLMResponse{Text: s.text}, nil
}

func TestEnricherRaisesSeverity(t *testing.T) {
	llm := &stubLLM{text: `{"severity": "high", "rationale": "implied intent"}`}
	e := NewEnricher(llm, "model-x", time.Second, nil)

	verdict, err := e.Assess(context.Background(), "some text", SeverityMedium)
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, verdict.Severity)
}

func TestEnricherNeverLowers(t *testing.T) {
	llm := &stubLLM{text: `{"severity": "low", "rationale": "seems fine"}`}
	e := NewEnricher(llm, "model-x", time.Second, nil)

	verdict, err := e.Assess(context.Background(), "some text", SeverityHigh)
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, verdict.Severity, "lexical tier is the floor")
}

func TestEnricherTimeout(t *testing.T) {
	llm := &stubLLM{text: `{"severity": "critical"}`, delay: 200 * time.Millisecond}
	e := NewEnricher(llm, "model-x", 10*time.Millisecond, nil)

	_, err := e.Assess(context.Background(), "some text", SeverityLow)
	assert.Error(t, err)
}

func TestEnricherBadVerdict(t *testing.T) {
	for _, text := range []string{
		"not json at all",
		`{"severity": "extreme"}`,
		"",
	} {
		e := NewEnricher(&stubLLM{text: text}, "model-x", time.Second, nil)
		_, err := e.Assess(context.Background(), "t", SeverityLow)
		assert.Error(t, err, "text %q", text)
	}
}

func TestEnricherVerdictEmbeddedInProse(t *testing.T) {
	llm := &stubLLM{text: "Here is my assessment:\n{\"severity\": \"medium\", \"rationale\": \"x\"}\nThanks."}
	e := NewEnricher(llm, "model-x", time.Second, nil)

	verdict, err := e.Assess(context.Background(), "t", SeverityLow)
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, verdict.Severity)
}

func TestFallbackClient(t *testing.T) {
	primary := &stubLLM{err: errors.New("unavailable")}
	fallback := &stubLLM{text: "ok"}
	c := NewFallbackLLMClient(primary, fallback, nil)

	resp, err := c.Complete(context.Background(), LLMRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestFallbackClientBothFail(t *testing.T) {
	c := NewFallbackLLMClient(&stubLLM{err: errors.New("a")}, &stubLLM{err: errors.New("b")}, nil)
	_, err := c.Complete(context.Background(), LLMRequest{})
	assert.EqualError(t, err, "b")
}

func TestFallbackClientNoFallback(t *testing.T) {
	c := NewFallbackLLMClient(&stubLLM{err: errors.New("a")}, nil, nil)
	_, err := c.Complete(context.Background(), LLMRequest{})
	assert.EqualError(t, err, "a")
}
