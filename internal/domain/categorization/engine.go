package categorization

import (
	"regexp"
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
)

// RuleMatch is the winning rule for one transaction.
type RuleMatch struct {
	Rule Rule
}

// Engine evaluates a user's rules against transaction text. Contains
// rules share one Aho-Corasick pass; regex and equals rules are checked
// individually. The winner is the matched rule with the highest
// priority, oldest creation time, then lowest id, so the same ledger
// and rule set always classify identically.
type Engine struct {
	mu sync.RWMutex

	containsRules   []Rule
	containsMatcher *ahocorasick.Matcher

	regexRules []Rule
	regexes    []*regexp.Regexp

	equalsRules []Rule
}

// NewEngine builds an engine from rules already in evaluation order.
func NewEngine(rules []Rule) *Engine {
	e := &Engine{}
	e.Build(rules)
	return e
}

// Build rebuilds the matcher; invalid regex rules are skipped.
func (e *Engine) Build(rules []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.containsRules = nil
	e.containsMatcher = nil
	e.regexRules = nil
	e.regexes = nil
	e.equalsRules = nil

	var patterns [][]byte
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		switch rule.MatchType {
		case MatchContains:
			p := strings.ToUpper(strings.TrimSpace(rule.Pattern))
			if p == "" {
				continue
			}
			e.containsRules = append(e.containsRules, rule)
			patterns = append(patterns, []byte(p))
		case MatchRegex:
			re, err := regexp.Compile("(?i)" + rule.Pattern)
			if err != nil {
				continue
			}
			e.regexRules = append(e.regexRules, rule)
			e.regexes = append(e.regexes, re)
		case MatchEquals:
			e.equalsRules = append(e.equalsRules, rule)
		}
	}
	if len(patterns) > 0 {
		e.containsMatcher = ahocorasick.NewMatcher(patterns)
	}
}

// Match returns the winning rule for a description/merchant pair, or
// nil when no rule matches.
func (e *Engine) Match(description, merchant string) *RuleMatch {
	e.mu.RLock()
	defer e.mu.RUnlock()

	descUpper := strings.ToUpper(description)
	merchUpper := strings.ToUpper(merchant)

	var candidates []Rule

	if e.containsMatcher != nil {
		// One automaton pass per field keeps this O(text) regardless
		// of rule count.
		for _, idx := range e.containsMatcher.Match([]byte(descUpper)) {
			if idx >= 0 && idx < len(e.containsRules) && e.containsRules[idx].Field == FieldDescription {
				candidates = append(candidates, e.containsRules[idx])
			}
		}
		for _, idx := range e.containsMatcher.Match([]byte(merchUpper)) {
			if idx >= 0 && idx < len(e.containsRules) && e.containsRules[idx].Field == FieldMerchant {
				candidates = append(candidates, e.containsRules[idx])
			}
		}
	}

	for i, rule := range e.regexRules {
		if e.regexes[i].MatchString(fieldValue(rule.Field, description, merchant)) {
			candidates = append(candidates, rule)
		}
	}
	for _, rule := range e.equalsRules {
		if strings.EqualFold(strings.TrimSpace(rule.Pattern),
			strings.TrimSpace(fieldValue(rule.Field, description, merchant))) {
			candidates = append(candidates, rule)
		}
	}

	best := pickBest(candidates)
	if best == nil {
		return nil
	}
	return &RuleMatch{Rule: *best}
}

func fieldValue(f Field, description, merchant string) string {
	if f == FieldMerchant {
		return merchant
	}
	return description
}

func pickBest(rules []Rule) *Rule {
	var best *Rule
	for i := range rules {
		r := &rules[i]
		if best == nil || betterRule(r, best) {
			best = r
		}
	}
	return best
}

func betterRule(a, b *Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
