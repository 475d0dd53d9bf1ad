// Package content matches recognized screen text against the forbidden
// keyword list.
package content

import "strings"

// Detect returns the first keyword, in list order, that occurs in text as a
// case-sensitive substring. Empty keywords are ignored.
func Detect(text string, keywords []string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			return k, true
		}
	}
	return "", false
}

// Matcher holds an immutable keyword list.
type Matcher struct {
	keywords []string
}

// NewMatcher copies keywords so later changes by the caller are not observed.
func NewMatcher(keywords []string) *Matcher {
	return &Matcher{keywords: append([]string(nil), keywords...)}
}

// Match reports the first configured keyword present in text.
func (m *Matcher) Match(text string) (string, bool) {
	return Detect(text, m.keywords)
}

// MatchAll returns every configured keyword present in text, in list order.
func (m *Matcher) MatchAll(text string) []string {
	var hits []string
	for _, k := range m.keywords {
		if k != "" && strings.Contains(text, k) {
			hits = append(hits, k)
		}
	}
	return hits
}

// Keywords returns a copy of the keyword list.
func (m *Matcher) Keywords() []string {
	return append([]string(nil), m.keywords...)
}
