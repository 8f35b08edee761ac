package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indicator(cat Category, tier Severity, weight float64, immediate bool, text string) Indicator {
	return Indicator{
		Pattern:         string(cat) + "/" + text,
		Category:        cat,
		Tier:            tier,
		SeverityWeight:  weight,
		ImmediateAction: immediate,
		MatchedSpan:     Span{Start: 0, End: len(text), Text: text},
	}
}

func TestClassifyEmpty(t *testing.T) {
	c := NewClassifier("", "")
	got := c.Classify(nil)

	assert.Equal(t, SeverityNone, got.Severity)
	assert.Zero(t, got.Confidence)
	assert.Empty(t, got.RecommendedActions)
	assert.False(t, got.ImmediateIntervention)
}

func TestClassifyMaxTier(t *testing.T) {
	c := NewClassifier("", "")
	got := c.Classify([]Indicator{
		indicator(CategoryGeneralDistress, SeverityLow, 0.3, false, "sad"),
		indicator(CategorySelfHarm, SeverityHigh, 0.8, false, "cutting myself"),
	})
	assert.Equal(t, SeverityHigh, got.Severity)
}

func TestClassifyTwoMediumsPromoteToHigh(t *testing.T) {
	c := NewClassifier("", "")
	got := c.Classify([]Indicator{
		indicator(CategoryGeneralDistress, SeverityMedium, 0.5, false, "hopeless"),
		indicator(CategorySubstanceAbuse, SeverityMedium, 0.6, false, "drinking to forget"),
	})
	assert.Equal(t, SeverityHigh, got.Severity)
}

func TestClassifySingleMediumStaysMedium(t *testing.T) {
	c := NewClassifier("", "")
	got := c.Classify([]Indicator{
		indicator(CategoryGeneralDistress, SeverityMedium, 0.5, false, "hopeless"),
	})
	assert.Equal(t, SeverityMedium, got.Severity)
}

func TestClassifyCriticalImpliesImmediate(t *testing.T) {
	c := NewClassifier("", "")
	got := c.Classify([]Indicator{
		indicator(CategorySuicidal, SeverityCritical, 1.0, true, "kill myself tonight"),
	})

	assert.Equal(t, SeverityCritical, got.Severity)
	assert.True(t, got.ImmediateIntervention)
	assert.GreaterOrEqual(t, got.Confidence, 0.9)
}

func TestConfidenceMonotone(t *testing.T) {
	c := NewClassifier("", "")

	one := c.Classify([]Indicator{
		indicator(CategoryGeneralDistress, SeverityMedium, 0.5, false, "hopeless"),
	})
	two := c.Classify([]Indicator{
		indicator(CategoryGeneralDistress, SeverityMedium, 0.5, false, "hopeless"),
		indicator(CategorySuicidal, SeverityHigh, 0.85, false, "want to die"),
	})
	three := c.Classify([]Indicator{
		indicator(CategoryGeneralDistress, SeverityMedium, 0.5, false, "hopeless"),
		indicator(CategorySuicidal, SeverityHigh, 0.85, false, "want to die"),
		indicator(CategorySelfHarm, SeverityHigh, 0.8, false, "hurting myself"),
	})

	assert.GreaterOrEqual(t, two.Confidence, one.Confidence)
	assert.GreaterOrEqual(t, three.Confidence, two.Confidence)
	assert.LessOrEqual(t, three.Confidence, 1.0)
}

func TestConfidenceSpecificity(t *testing.T) {
	c := NewClassifier("", "")

	short := c.Classify([]Indicator{
		indicator(CategorySuicidal, SeverityHigh, 0.8, false, "suicide"),
	})
	long := c.Classify([]Indicator{
		indicator(CategorySuicidal, SeverityHigh, 0.8, false, "no reason to go on living anymore"),
	})
	assert.Greater(t, long.Confidence, short.Confidence)
}

func TestActionsTable(t *testing.T) {
	c := NewClassifier("988", "911")

	tests := []struct {
		severity Severity
		want     []ActionType
	}{
		{SeverityNone, nil},
		{SeverityLow, []ActionType{ActionShowResources}},
		{SeverityMedium, []ActionType{ActionShowResources, ActionNotifyContact}},
		{SeverityHigh, []ActionType{ActionShowResources, ActionRequestConsent, ActionConnectCrisisLine}},
		{SeverityCritical, []ActionType{ActionConnectCrisisLine, ActionNotifyContact, ActionEmergencyDispatch, ActionShowResources}},
	}
	for _, tc := range tests {
		actions := c.ActionsFor(tc.severity)
		require.Len(t, actions, len(tc.want), "severity %s", tc.severity)
		for i, a := range actions {
			assert.Equal(t, tc.want[i], a.Type, "severity %s index %d", tc.severity, i)
		}
	}
}

func TestActionsConsentGating(t *testing.T) {
	c := NewClassifier("", "")

	for _, a := range c.ActionsFor(SeverityMedium) {
		if a.Type == ActionNotifyContact {
			assert.True(t, a.RequiresConsent, "medium-tier contact notification is consent-gated")
		}
	}
	for _, a := range c.ActionsFor(SeverityCritical) {
		assert.False(t, a.RequiresConsent, "critical actions run under the safety override")
	}
}

func TestContactsFor(t *testing.T) {
	c := NewClassifier("988", "911")

	assert.Nil(t, c.ContactsFor(SeverityMedium))

	contacts := c.ContactsFor(SeverityCritical)
	require.Len(t, contacts, 2)
	kinds := map[ContactKind]bool{}
	for _, ref := range contacts {
		kinds[ref.Kind] = true
	}
	assert.True(t, kinds[ContactLifeline])
	assert.True(t, kinds[ContactEmergency])
}
