// Package detect classifies model-generated text as corrupted or
// acceptable. A corrupted reply is one carrying artifacts of a misbehaving
// generator: leaked formatting syntax, broken markup, delimiter runs, or an
// excessive density of special characters. Detection is two-tier: a
// catalogue of structural rules targeting known failure signatures, then a
// character-composition ratio as a generic fallback.
package detect

import "regexp"

// Rule pairs a corruption signature with a name used in diagnostics.
// Rules are OR'd; any single match classifies the sample as corrupted.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// builtinRules are the structural corruption signatures observed in
// practice from degenerate generator output. Order only affects which rule
// a Report names on overlapping matches, never the verdict.
var builtinRules = []Rule{
	{"fenced-code-block", regexp.MustCompile("```[^`]*```")},
	{"backtick-run", regexp.MustCompile("`{3,}")},
	{"markup-tag", regexp.MustCompile(`</?[A-Za-z]+/?>`)},
	{"path-fragment", regexp.MustCompile(`/[A-Za-z/_.]+/`)},
	{"bracket-run", regexp.MustCompile(`[(){}\[\]]{3,}`)},
	{"speaker-tag", regexp.MustCompile(`\([A-Za-z]+:\)`)},
	{"pipe-run", regexp.MustCompile(`\|+\s*\|+`)},
	{"equals-run", regexp.MustCompile(`={5,}`)},
	{"slash-parens", regexp.MustCompile(`\(/+\)`)},
	{"asterisk-parens", regexp.MustCompile(`\(\*\)`)},
}

// markerRule matches a slash-bounded internal tag leaked by the generator,
// e.g. /LIRA/. The token varies per deployment, so the rule is built at
// detector construction rather than listed in builtinRules.
func markerRule(token string) Rule {
	return Rule{
		Name:    "marker-token",
		Pattern: regexp.MustCompile("/" + regexp.QuoteMeta(token) + "/"),
	}
}
