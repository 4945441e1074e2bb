package rewrite

import "strings"

// Rule binds host-match substrings to an ordered list of text rules.
// A rule with no Contains entries never matches a URL.
type Rule struct {
	Contains []string
	RxRules  []RxRule
}

// RewriterFactory builds the text rewriter for one rule's patterns.
// It is called with nil to build the default rewriter.
type RewriterFactory func(rules []RxRule) TextRewriter

// RuleSet picks a site-specific text rewriter for a destination URL.
// Rewriters are built once at construction; the set is read-only afterwards.
type RuleSet struct {
	rules           []Rule
	rewriters       []TextRewriter // rewriters[i] belongs to rules[i], nil if it has no patterns
	defaultRewriter TextRewriter
}

// NewRuleSet compiles rules. A nil factory uses NewRxRewriter.
func NewRuleSet(rules []Rule, factory RewriterFactory) *RuleSet {
	if factory == nil {
		factory = func(rx []RxRule) TextRewriter { return NewRxRewriter(rx) }
	}

	rs := &RuleSet{
		rules:     rules,
		rewriters: make([]TextRewriter, len(rules)),
	}
	for i, rule := range rules {
		if rule.RxRules != nil {
			rs.rewriters[i] = factory(rule.RxRules)
		}
	}
	rs.defaultRewriter = factory(nil)
	return rs
}

// Select returns the rewriter of the first rule whose host matches are
// contained in url, or the default rewriter.
func (rs *RuleSet) Select(url string) TextRewriter {
	for i, rule := range rs.rules {
		if len(rule.Contains) == 0 {
			continue
		}
		for _, contains := range rule.Contains {
			if strings.Contains(url, contains) && rs.rewriters[i] != nil {
				return rs.rewriters[i]
			}
		}
	}
	return rs.defaultRewriter
}

// Default is the rewriter used when no rule matches.
func (rs *RuleSet) Default() TextRewriter {
	return rs.defaultRewriter
}
