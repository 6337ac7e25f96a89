// Package site decides which pages get watched and with what selector.
package site

import "runbell/internal/config"

// Matcher resolves a page URL to the busy selector configured for it.
type Matcher struct {
	rules []config.SiteRule
}

// NewMatcher builds a matcher over an ordered rule list.
func NewMatcher(rules []config.SiteRule) *Matcher {
	return &Matcher{rules: rules}
}

// Match returns the busy selector for the first rule whose URL pattern
// matches, or false when no rule applies (the page is not monitored).
func (m *Matcher) Match(url string) (string, bool) {
	if url == "" {
		return "", false
	}
	for _, r := range m.rules {
		if config.MatchPattern(r.URLPattern, url) {
			return r.BusySelector, true
		}
	}
	return "", false
}
