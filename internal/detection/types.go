package detection

import "time"

// Severity is the ordinal risk tier assigned to an analysis.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity tier.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is at or above the given tier.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Valid reports whether s is a known tier.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// MaxSeverity returns the higher of two tiers.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Category classifies what kind of risk an indicator signals.
type Category string

const (
	CategorySuicidal        Category = "suicidal"
	CategorySelfHarm        Category = "self-harm"
	CategorySubstanceAbuse  Category = "substance-abuse"
	CategoryEatingDisorder  Category = "eating-disorder"
	CategoryGeneralDistress Category = "general-distress"
)

// Span locates a matched pattern inside the analyzed text.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Len returns the span length in bytes.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether two spans share any bytes.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// Indicator is a single matched risk pattern. Indicators are immutable and
// exist only within one analysis call.
type Indicator struct {
	Pattern         string   `json:"pattern"`
	Category        Category `json:"category"`
	Tier            Severity `json:"tier"`
	SeverityWeight  float64  `json:"severityWeight"`
	ImmediateAction bool     `json:"immediateAction"`
	MatchedSpan     Span     `json:"matchedSpan"`
}

// ActionType enumerates the escalation actions the engine can recommend.
type ActionType string

const (
	ActionShowResources    ActionType = "show-resources"
	ActionRequestConsent   ActionType = "request-consent"
	ActionNotifyContact    ActionType = "notify-contact"
	ActionConnectCrisisLine ActionType = "connect-crisis-line"
	ActionEmergencyDispatch ActionType = "emergency-dispatch"
)

// Action is a recommended escalation step.
type Action struct {
	Type            ActionType `json:"type"`
	RequiresConsent bool       `json:"requiresConsent"`
	Target          string     `json:"target,omitempty"`
}

// ContactKind distinguishes the reference types surfaced to the UI.
type ContactKind string

const (
	ContactLifeline  ContactKind = "lifeline"
	ContactEmergency ContactKind = "emergency-services"
	ContactPersonal  ContactKind = "personal"
)

// ContactRef points at an emergency contact surfaced with a result.
type ContactRef struct {
	Kind  ContactKind `json:"kind"`
	Name  string      `json:"name"`
	Phone string      `json:"phone"`
}

// AnalysisResult is the outcome of analyzing one piece of text.
//
// Invariant: SeverityLevel == critical implies ImmediateIntervention.
type AnalysisResult struct {
	HasCrisisIndicators   bool        `json:"hasCrisisIndicators"`
	SeverityLevel         Severity    `json:"severityLevel"`
	Confidence            float64     `json:"confidence"`
	Indicators            []Indicator `json:"indicators"`
	RecommendedActions    []Action    `json:"recommendedActions"`
	EmergencyContacts     []ContactRef `json:"emergencyContacts"`
	ImmediateIntervention bool        `json:"immediateIntervention"`
	DictionaryVersion     string      `json:"dictionaryVersion"`
	Degraded              bool        `json:"degraded,omitempty"`
	AnalyzedAt            time.Time   `json:"analyzedAt"`
}
