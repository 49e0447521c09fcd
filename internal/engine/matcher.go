package engine

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/autoreply/internal/rule"
)

// Match returns the first rule, in ascending priority order, whose keyword
// matches text. Ties in priority keep their order in rules.
//
// Plain keywords match as case-insensitive substrings after Unicode case
// folding and NFC normalization of both sides. Regex keywords are compiled
// case-insensitively and match if any substring of text matches.
//
// A regex keyword that does not compile disqualifies its rule and nothing
// else: the error never reaches the caller. Empty text and empty keywords
// never match.
//
// Match is pure: it performs no I/O and holds no state between calls.
func Match(rules []rule.Rule, text string) (rule.Rule, bool) {
	if text == "" || len(rules) == 0 {
		return rule.Rule{}, false
	}

	normalized := norm.NFC.String(text)
	folded := fold(normalized)

	for _, r := range rule.SortByPriority(rules) {
		if matchRule(r, normalized, folded) {
			return r, true
		}
	}
	return rule.Rule{}, false
}

// matchRule checks a single rule against pre-normalized text.
func matchRule(r rule.Rule, normalized, folded string) bool {
	if r.Keyword == "" {
		return false
	}

	if r.IsRegex {
		re, err := rule.CompilePattern(r.Keyword)
		if err != nil {
			// Invalid patterns slipped past write-time validation; treat as non-matching.
			return false
		}
		return re.MatchString(normalized)
	}

	return strings.Contains(folded, fold(norm.NFC.String(r.Keyword)))
}

// fold applies full Unicode case folding. A fresh Caser is used per call
// because cases.Caser is not safe for concurrent use.
func fold(s string) string {
	return cases.Fold().String(s)
}
