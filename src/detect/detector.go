package detect

import (
	"fmt"
	"regexp"
	"unicode"
)

const (
	// DefaultRatioThreshold is the composition-ratio cutoff above which a
	// sample is classified as corrupted. Tuned empirically against one
	// generator's failure modes; override via Options for others.
	DefaultRatioThreshold = 0.25

	// DefaultMarkerToken is the internal tag leaked by the originally
	// observed generator, matched slash-bounded (/LIRA/).
	DefaultMarkerToken = "LIRA"
)

// Options configures a Detector. The zero value yields the built-in rule
// catalogue, the default marker token, and the default ratio threshold.
type Options struct {
	// RatioThreshold replaces DefaultRatioThreshold when non-zero.
	RatioThreshold float64

	// MarkerToken replaces DefaultMarkerToken when non-empty.
	MarkerToken string

	// DisableBuiltInRules drops the built-in catalogue (including the
	// marker rule), leaving only CustomRules.
	DisableBuiltInRules bool

	// DisableRatioCheck turns off the composition-ratio fallback.
	DisableRatioCheck bool

	// CustomRules are extra patterns appended to the catalogue.
	CustomRules []string
}

// Detector evaluates text samples against an ordered rule catalogue and a
// composition-ratio threshold. Immutable after construction and safe for
// concurrent use.
type Detector struct {
	rules      []Rule
	threshold  float64
	ratioCheck bool
}

// New builds a Detector from opts. It fails only on an invalid custom rule
// pattern; evaluation itself never fails.
func New(opts Options) (*Detector, error) {
	threshold := opts.RatioThreshold
	if threshold == 0 {
		threshold = DefaultRatioThreshold
	}
	token := opts.MarkerToken
	if token == "" {
		token = DefaultMarkerToken
	}

	var rules []Rule
	if !opts.DisableBuiltInRules {
		rules = append(rules, builtinRules...)
		rules = append(rules, markerRule(token))
	}
	for _, p := range opts.CustomRules {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling custom rule %q: %w", p, err)
		}
		rules = append(rules, Rule{Name: "custom:" + p, Pattern: re})
	}

	return &Detector{
		rules:      rules,
		threshold:  threshold,
		ratioCheck: !opts.DisableRatioCheck,
	}, nil
}

// Default returns a Detector with the built-in catalogue and default
// threshold.
func Default() *Detector {
	d, err := New(Options{})
	if err != nil {
		// No custom rules to compile; cannot happen.
		panic(err)
	}
	return d
}

// Report describes one evaluation.
type Report struct {
	// Corrupted is the verdict: true means the sample needs cleaning.
	Corrupted bool

	// Rule names the first structural rule that matched, or "" when the
	// verdict came from the ratio check (or the sample is clean).
	Rule string

	// Ratio is the sample's composition ratio: runes outside the
	// letter/digit/underscore/whitespace set divided by total runes.
	Ratio float64
}

// Inspect evaluates sample and returns a diagnostic Report. It is a total
// function: any string, including empty, produces a verdict.
func (d *Detector) Inspect(sample string) Report {
	r := Report{Ratio: compositionRatio(sample)}

	for _, rule := range d.rules {
		if rule.Pattern.MatchString(sample) {
			r.Corrupted = true
			r.Rule = rule.Name
			return r
		}
	}

	// Strictly greater than: a sample sitting exactly on the threshold
	// is acceptable.
	if d.ratioCheck && r.Ratio > d.threshold {
		r.Corrupted = true
	}
	return r
}

// Evaluate reports whether sample shows generator corruption.
func (d *Detector) Evaluate(sample string) bool {
	return d.Inspect(sample).Corrupted
}

// compositionRatio returns the proportion of runes outside the
// word/whitespace set. Empty input yields 0, so the ratio check alone can
// never flag an empty sample.
func compositionRatio(s string) float64 {
	if s == "" {
		return 0
	}
	total, special := 0, 0
	for _, r := range s {
		total++
		if !wordOrSpace(r) {
			special++
		}
	}
	return float64(special) / float64(total)
}

func wordOrSpace(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r)
}
