package detection

// Classification is the deterministic judgment over one indicator set.
type Classification struct {
	Severity              Severity
	Confidence            float64
	RecommendedActions    []Action
	ImmediateIntervention bool
}

// Classifier aggregates the indicators from a single analysis call into a
// severity tier and confidence score. Same indicator set, same output.
type Classifier struct {
	lifeline  string
	emergency string
}

// NewClassifier creates a classifier. The lifeline and emergency numbers are
// used as action targets in the recommended action table.
func NewClassifier(lifeline, emergency string) *Classifier {
	if lifeline == "" {
		lifeline = "988"
	}
	if emergency == "" {
		emergency = "911"
	}
	return &Classifier{lifeline: lifeline, emergency: emergency}
}

// Classify maps indicators to (severity, confidence, actions).
//
// Severity is the maximum tier among indicators, with one escalation rule:
// two or more independent medium-tier indicators promote to high.
func (c *Classifier) Classify(indicators []Indicator) Classification {
	if len(indicators) == 0 {
		return Classification{Severity: SeverityNone}
	}

	severity := SeverityNone
	mediumCount := 0
	immediate := false
	for _, ind := range indicators {
		severity = MaxSeverity(severity, ind.Tier)
		if ind.Tier == SeverityMedium {
			mediumCount++
		}
		if ind.ImmediateAction {
			immediate = true
		}
	}
	if severity == SeverityMedium && mediumCount >= 2 {
		severity = SeverityHigh
	}
	if severity == SeverityCritical {
		immediate = true
	}

	return Classification{
		Severity:              severity,
		Confidence:            confidence(indicators),
		RecommendedActions:    c.ActionsFor(severity),
		ImmediateIntervention: immediate,
	}
}

// confidence combines indicator count, match specificity, and category
// saturation. The noisy-or form keeps it within [0,1] and monotonically
// non-decreasing as indicators are added.
func confidence(indicators []Indicator) float64 {
	miss := 1.0
	saturated := false
	for _, ind := range indicators {
		miss *= 1 - ind.SeverityWeight*specificity(ind.MatchedSpan)
		if ind.ImmediateAction {
			saturated = true
		}
	}
	conf := 1 - miss
	if saturated && conf < 0.92 {
		conf = 0.92
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// specificity scores longer, more exact matches higher.
func specificity(span Span) float64 {
	s := 0.6 + float64(span.Len())/50
	if s > 1 {
		s = 1
	}
	return s
}

// ActionsFor is the deterministic severity-to-actions lookup table.
func (c *Classifier) ActionsFor(severity Severity) []Action {
	switch severity {
	case SeverityLow:
		return []Action{
			{Type: ActionShowResources},
		}
	case SeverityMedium:
		return []Action{
			{Type: ActionShowResources},
			{Type: ActionNotifyContact, RequiresConsent: true},
		}
	case SeverityHigh:
		return []Action{
			{Type: ActionShowResources},
			{Type: ActionRequestConsent},
			{Type: ActionConnectCrisisLine, Target: c.lifeline},
		}
	case SeverityCritical:
		return []Action{
			{Type: ActionConnectCrisisLine, Target: c.lifeline},
			{Type: ActionNotifyContact},
			{Type: ActionEmergencyDispatch, Target: c.emergency},
			{Type: ActionShowResources},
		}
	default:
		return nil
	}
}

// ContactsFor returns the emergency contact references surfaced alongside a
// result at the given severity.
func (c *Classifier) ContactsFor(severity Severity) []ContactRef {
	if !severity.AtLeast(SeverityHigh) {
		return nil
	}
	return []ContactRef{
		{Kind: ContactLifeline, Name: "Suicide & Crisis Lifeline", Phone: c.lifeline},
		{Kind: ContactEmergency, Name: "Emergency Services", Phone: c.emergency},
	}
}
