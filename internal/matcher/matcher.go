// Package matcher decides whether a listing title satisfies a free-text
// search query.
package matcher

import (
	"regexp"
	"strings"

	"github.com/user/price-tracker/internal/textnorm"
)

var (
	phraseRe     = regexp.MustCompile(`"([^"]+)"`)
	tokenRe      = regexp.MustCompile(`[a-z0-9\-]+`)
	alnumSplitRe = regexp.MustCompile(`^([a-z]+)-?([0-9][a-z0-9]*)$`)
)

// RE2's \b only knows ASCII word characters, so boundaries are spelled out
// over Unicode letters and digits.
const (
	wordStart = `(?:^|[^\pL\pN_])`
	wordEnd   = `(?:$|[^\pL\pN_])`
)

// Kind tells how a query token is looked up in a title.
type Kind int

const (
	// ExactWord matches the token as a whole word.
	ExactWord Kind = iota
	// AlnumSplit matches a letters+digits model code with an optional
	// space or hyphen between the two halves ("a55", "a 55", "a-55").
	AlnumSplit
)

func (k Kind) String() string {
	if k == AlnumSplit {
		return "alnum_split"
	}
	return "exact_word"
}

// Pattern is one compiled query token.
type Pattern struct {
	Token   string
	Kind    Kind
	Letters string
	Digits  string
	re      *regexp.Regexp
}

func (p Pattern) match(title string) bool {
	return p.re.MatchString(title)
}

func newPattern(tok string) Pattern {
	if m := alnumSplitRe.FindStringSubmatch(tok); m != nil {
		return Pattern{
			Token:   tok,
			Kind:    AlnumSplit,
			Letters: m[1],
			Digits:  m[2],
			re:      regexp.MustCompile(wordStart + regexp.QuoteMeta(m[1]) + `\s*-?\s*` + regexp.QuoteMeta(m[2]) + wordEnd),
		}
	}
	return Pattern{
		Token: tok,
		Kind:  ExactWord,
		re:    regexp.MustCompile(wordStart + regexp.QuoteMeta(tok) + wordEnd),
	}
}

// Matcher holds the compiled form of a query. It is immutable and safe for
// concurrent use.
type Matcher struct {
	phrases  []string
	patterns []Pattern
	minHits  int
}

// Build compiles query. Quoted phrases become mandatory substrings and the
// rest of the query is split into word patterns.
func Build(query string) *Matcher {
	m := &Matcher{}

	for _, sub := range phraseRe.FindAllStringSubmatch(query, -1) {
		if p := textnorm.Normalize(sub[1]); p != "" {
			m.phrases = append(m.phrases, p)
		}
	}
	rest := phraseRe.ReplaceAllString(query, " ")

	for _, tok := range tokenRe.FindAllString(textnorm.Normalize(rest), -1) {
		m.patterns = append(m.patterns, newPattern(tok))
	}
	m.minHits = MinHits(len(m.patterns))
	return m
}

// MinHits is the number of token patterns that must match for a query of n
// tokens: all of them up to three, all but one up to six, and 70% rounded up
// beyond that.
func MinHits(n int) int {
	switch {
	case n <= 3:
		return n
	case n <= 6:
		return n - 1
	default:
		return (7*n + 9) / 10
	}
}

// Match reports whether title contains every phrase and enough tokens.
func (m *Matcher) Match(title string) bool {
	t := textnorm.Normalize(title)

	for _, p := range m.phrases {
		if !strings.Contains(t, p) {
			return false
		}
	}

	hits := 0
	for _, p := range m.patterns {
		if p.match(t) {
			hits++
		}
	}
	return hits >= m.minHits
}

// Phrases returns the normalized quoted phrases.
func (m *Matcher) Phrases() []string { return append([]string(nil), m.phrases...) }

// Patterns returns the compiled token patterns in query order.
func (m *Matcher) Patterns() []Pattern { return append([]Pattern(nil), m.patterns...) }

// MinHits returns the hit threshold for this query.
func (m *Matcher) MinHits() int { return m.minHits }
