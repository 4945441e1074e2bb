package rewrite

import (
	"regexp"
	"strings"
)

// TextRewriter rewrites script, JSON or inline page text.
type TextRewriter interface {
	Rewrite(text string) string
}

// RxRule replaces every match of Match with Replace(match).
type RxRule struct {
	Match   *regexp.Regexp
	Replace func(match string) string
}

// ReplaceTemplate returns a replacer substituting the match for "{0}" in tmpl.
func ReplaceTemplate(tmpl string) func(string) string {
	return func(match string) string {
		return strings.Replace(tmpl, "{0}", match, 1)
	}
}

// RxRewriter applies its rules in a single left-to-right pass. Where
// several rules match at the same position the first declared wins.
type RxRewriter struct {
	rules  []RxRule
	rx     *regexp.Regexp
	groups []int // capture group wrapping each rule
}

// NewRxRewriter compiles rules into one alternation. With no rules the
// rewriter returns text unchanged.
func NewRxRewriter(rules []RxRule) *RxRewriter {
	rw := &RxRewriter{rules: rules}
	if len(rules) == 0 {
		return rw
	}

	var b strings.Builder
	group := 1
	for i, rule := range rules {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString("(" + rule.Match.String() + ")")
		rw.groups = append(rw.groups, group)
		group += 1 + rule.Match.NumSubexp()
	}
	rw.rx = regexp.MustCompile(b.String())
	return rw
}

func (rw *RxRewriter) Rewrite(text string) string {
	if rw.rx == nil {
		return text
	}

	matches := rw.rx.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, loc := range matches {
		b.WriteString(text[last:loc[0]])
		b.WriteString(rw.replace(loc, text[loc[0]:loc[1]]))
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

func (rw *RxRewriter) replace(loc []int, match string) string {
	for i, g := range rw.groups {
		if loc[2*g] >= 0 {
			return rw.rules[i].Replace(match)
		}
	}
	return match
}
