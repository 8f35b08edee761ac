package detection

import (
	"sort"
	"strings"
)

// Extractor scans raw text for risk-relevant patterns. It is a pure function
// over the input text and the loaded dictionary version.
//
// No negation or context handling is performed: "a movie about someone who
// wanted to end their life" still matches. Detection is deliberately
// recall-biased; downstream tiers and consent gates bound the response.
type Extractor struct {
	dict *Dictionary
}

// NewExtractor creates an extractor over the given dictionary.
func NewExtractor(dict *Dictionary) *Extractor {
	if dict == nil {
		panic("detection: dictionary cannot be nil")
	}
	return &Extractor{dict: dict}
}

// Extract returns all matched indicators for text in the given locale.
// Overlapping matches keep the longest span; duplicate categories keep the
// highest-severity match.
func (e *Extractor) Extract(text, locale string) []Indicator {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var raw []Indicator
	for _, cp := range e.dict.patternsFor(locale) {
		for _, loc := range cp.regex.FindAllStringIndex(text, -1) {
			raw = append(raw, Indicator{
				Pattern:         cp.spec.Pattern,
				Category:        cp.spec.Category,
				Tier:            cp.spec.Tier,
				SeverityWeight:  cp.spec.SeverityWeight,
				ImmediateAction: cp.spec.ImmediateAction,
				MatchedSpan: Span{
					Start: loc[0],
					End:   loc[1],
					Text:  text[loc[0]:loc[1]],
				},
			})
		}
	}

	return dedupeIndicators(resolveOverlaps(raw))
}

// resolveOverlaps keeps the longest span among overlapping matches. Ties go
// to the higher tier, then the higher weight.
func resolveOverlaps(indicators []Indicator) []Indicator {
	if len(indicators) < 2 {
		return indicators
	}

	sort.SliceStable(indicators, func(i, j int) bool {
		a, b := indicators[i], indicators[j]
		if a.MatchedSpan.Len() != b.MatchedSpan.Len() {
			return a.MatchedSpan.Len() > b.MatchedSpan.Len()
		}
		if a.Tier.Rank() != b.Tier.Rank() {
			return a.Tier.Rank() > b.Tier.Rank()
		}
		return a.SeverityWeight > b.SeverityWeight
	})

	var kept []Indicator
	for _, ind := range indicators {
		overlaps := false
		for _, k := range kept {
			if ind.MatchedSpan.Overlaps(k.MatchedSpan) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, ind)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].MatchedSpan.Start < kept[j].MatchedSpan.Start
	})
	return kept
}

// dedupeIndicators keeps the highest-severity match per category, so each
// surviving indicator is an independent signal for the classifier.
func dedupeIndicators(indicators []Indicator) []Indicator {
	if len(indicators) < 2 {
		return indicators
	}
	best := make(map[Category]Indicator, len(indicators))
	for _, ind := range indicators {
		cur, ok := best[ind.Category]
		if !ok || stronger(ind, cur) {
			best[ind.Category] = ind
		}
	}
	out := make([]Indicator, 0, len(best))
	for _, ind := range indicators {
		if best[ind.Category] == ind {
			out = append(out, ind)
			delete(best, ind.Category)
		}
	}
	return out
}

func stronger(a, b Indicator) bool {
	if a.Tier.Rank() != b.Tier.Rank() {
		return a.Tier.Rank() > b.Tier.Rank()
	}
	if a.SeverityWeight != b.SeverityWeight {
		return a.SeverityWeight > b.SeverityWeight
	}
	return a.MatchedSpan.Len() > b.MatchedSpan.Len()
}
