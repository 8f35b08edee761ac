package detection

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	_ "embed"
)

//go:embed dictionary.json
var defaultDictionaryJSON []byte

// PatternSpec is one configured risk pattern. The dictionary is
// configuration-as-data: patterns ship as JSON, never as code.
type PatternSpec struct {
	Pattern         string   `json:"pattern"`
	Category        Category `json:"category"`
	Tier            Severity `json:"tier"`
	SeverityWeight  float64  `json:"severityWeight"`
	ImmediateAction bool     `json:"immediateAction,omitempty"`
}

type dictionaryFile struct {
	Version string                   `json:"version"`
	Locales map[string][]PatternSpec `json:"locales"`
}

type compiledPattern struct {
	spec  PatternSpec
	regex *regexp.Regexp
}

// Dictionary is an immutable, versioned set of per-locale risk patterns,
// compiled once at load time.
type Dictionary struct {
	version string
	locales map[string][]compiledPattern
}

// LoadDefaultDictionary compiles the embedded dictionary.
func LoadDefaultDictionary() (*Dictionary, error) {
	return parseDictionary(defaultDictionaryJSON)
}

// LoadDictionaryFile compiles a dictionary from a JSON file on disk,
// allowing pattern swaps without redeploying logic.
func LoadDictionaryFile(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("detection: read dictionary %s: %w", path, err)
	}
	return parseDictionary(data)
}

func parseDictionary(data []byte) (*Dictionary, error) {
	var file dictionaryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("detection: parse dictionary: %w", err)
	}
	if file.Version == "" {
		return nil, fmt.Errorf("detection: dictionary version is required")
	}
	if len(file.Locales) == 0 {
		return nil, fmt.Errorf("detection: dictionary has no locales")
	}

	locales := make(map[string][]compiledPattern, len(file.Locales))
	for locale, specs := range file.Locales {
		compiled := make([]compiledPattern, 0, len(specs))
		for _, spec := range specs {
			if !spec.Tier.Valid() || spec.Tier == SeverityNone {
				return nil, fmt.Errorf("detection: pattern %q has invalid tier %q", spec.Pattern, spec.Tier)
			}
			if spec.SeverityWeight <= 0 || spec.SeverityWeight > 1 {
				return nil, fmt.Errorf("detection: pattern %q has weight %v outside (0,1]", spec.Pattern, spec.SeverityWeight)
			}
			re, err := regexp.Compile("(?i)" + spec.Pattern)
			if err != nil {
				return nil, fmt.Errorf("detection: compile pattern %q: %w", spec.Pattern, err)
			}
			compiled = append(compiled, compiledPattern{spec: spec, regex: re})
		}
		locales[locale] = compiled
	}

	return &Dictionary{version: file.Version, locales: locales}, nil
}

// Version returns the dictionary version recorded on every analysis.
func (d *Dictionary) Version() string {
	return d.version
}

// patternsFor returns the compiled patterns for locale, falling back to "en".
func (d *Dictionary) patternsFor(locale string) []compiledPattern {
	if patterns, ok := d.locales[locale]; ok {
		return patterns
	}
	return d.locales["en"]
}
