package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/havenmind/crisis-engine/pkg/logging"
)

const enrichmentSystemPrompt = `You are a safety triage assistant for a mental-health support platform.

You receive one user message and a lexical risk tier already assigned by a
pattern matcher. Assess whether the message signals MORE risk than the
lexical tier captured. You may only confirm or raise the tier, never lower it.

Respond with a single JSON object and nothing else:
{"severity": "none|low|medium|high|critical", "rationale": "<one sentence>"}`

// EnrichmentResult is the verdict of the LLM enrichment pass.
type EnrichmentResult struct {
	Severity  Severity `json:"severity"`
	Rationale string   `json:"rationale"`
}

// Enricher runs an optional model pass over the analyzed text. It is
// additive-only: enrichment can raise the lexical severity, never lower it,
// and any failure or timeout degrades the analysis to dictionary-only.
type Enricher struct {
	client  LLMClient
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

// NewEnricher creates an enricher. A zero timeout defaults to 700ms, keeping
// detection inside its sub-second latency budget.
func NewEnricher(client LLMClient, model string, timeout time.Duration, logger *logging.Logger) *Enricher {
	if client == nil {
		panic("detection: enricher requires an LLM client")
	}
	if timeout <= 0 {
		timeout = 700 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Enricher{client: client, model: model, timeout: timeout, logger: logger}
}

// Assess returns the enrichment verdict for text given the lexical tier.
func (e *Enricher) Assess(ctx context.Context, text string, lexical Severity) (EnrichmentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Complete(ctx, LLMRequest{
		Model:  e.model,
		System: []string{enrichmentSystemPrompt},
		Messages: []ChatMessage{{
			Role:    ChatRoleUser,
			Content: fmt.Sprintf("Lexical tier: %s\n\nMessage:\n%s", lexical, text),
		}},
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		return EnrichmentResult{}, fmt.Errorf("detection: enrichment call: %w", err)
	}

	verdict, err := parseEnrichmentVerdict(resp.Text)
	if err != nil {
		return EnrichmentResult{}, err
	}

	// Additive-only: the lexical tier is the floor.
	if !verdict.Severity.AtLeast(lexical) {
		verdict.Severity = lexical
	}
	return verdict, nil
}

func parseEnrichmentVerdict(text string) (EnrichmentResult, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return EnrichmentResult{}, fmt.Errorf("detection: enrichment returned no JSON verdict")
	}

	var verdict EnrichmentResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &verdict); err != nil {
		return EnrichmentResult{}, fmt.Errorf("detection: parse enrichment verdict: %w", err)
	}
	if !verdict.Severity.Valid() {
		return EnrichmentResult{}, fmt.Errorf("detection: enrichment verdict has invalid severity %q", verdict.Severity)
	}
	return verdict, nil
}
