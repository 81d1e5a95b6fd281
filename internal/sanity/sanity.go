// Package sanity validates rewritten articles before they are published.
package sanity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMinLength is the minimum visible text length of an article.
const DefaultMinLength = 500

var (
	ErrTooShort  = errors.New("content too short")
	ErrForbidden = errors.New("forbidden content")
)

// RuleKind selects how a rule value is matched.
type RuleKind string

// Rule kinds.
const (
	KindPhrase  RuleKind = "phrase"
	KindPattern RuleKind = "pattern"
)

// Scope selects which part of the article a rule is applied to.
type Scope string

// Rule scopes.
const (
	ScopeAll     Scope = "all"
	ScopeTitle   Scope = "title"
	ScopeContent Scope = "content"
)

// Rule rejects an article whose scoped text contains a phrase or matches a
// pattern. Matching is case-insensitive.
type Rule struct {
	Kind  RuleKind
	Scope Scope
	Value string
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %q", r.Kind, r.Value)
}

var builtinPhrases = []string{
	"as an ai",
	"as a language model",
	"i cannot fulfill",
	"[insert",
	"insert here",
	"placeholder text",
}

var builtinPatterns = []string{
	`\{\{[^}]*\}\}`,
	`\[(?:city|name|date|source)\]`,
}

// DefaultRules returns the built-in placeholder and boilerplate rules plus a
// phrase rule for every non-empty extra phrase.
func DefaultRules(extraPhrases ...string) []Rule {
	var rules []Rule
	for _, p := range builtinPhrases {
		rules = append(rules, Rule{Kind: KindPhrase, Scope: ScopeAll, Value: p})
	}
	for _, p := range builtinPatterns {
		rules = append(rules, Rule{Kind: KindPattern, Scope: ScopeAll, Value: p})
	}
	for _, p := range extraPhrases {
		if p = strings.TrimSpace(p); p != "" {
			rules = append(rules, Rule{Kind: KindPhrase, Scope: ScopeAll, Value: p})
		}
	}
	return rules
}

type compiledRule struct {
	Rule
	phrase string
	re     *regexp.Regexp
}

// Checker applies the length threshold and the rule list.
type Checker struct {
	minLength int
	rules     []compiledRule
}

// New compiles rules into a Checker. minLength <= 0 disables the length check.
func New(minLength int, rules []Rule) (*Checker, error) {
	c := &Checker{minLength: minLength}
	for _, r := range rules {
		cr := compiledRule{Rule: r}
		switch r.Kind {
		case KindPhrase:
			cr.phrase = strings.ToLower(r.Value)
		case KindPattern:
			re, err := compile(r.Value)
			if err != nil {
				return nil, err
			}
			cr.re = re
		default:
			return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
		}
		c.rules = append(c.rules, cr)
	}
	return c, nil
}

// Check validates a rewritten title and HTML content.
func (c *Checker) Check(title, content string) error {
	text := VisibleText(content)
	if n := utf8.RuneCountInString(text); n < c.minLength {
		return fmt.Errorf("%w: %d characters, minimum %d", ErrTooShort, n, c.minLength)
	}

	for _, r := range c.rules {
		if r.matches(title, text) {
			return fmt.Errorf("%w: matched %s", ErrForbidden, r.Rule)
		}
	}
	return nil
}

func (r compiledRule) matches(title, text string) bool {
	subject := textForScope(title, text, r.Scope)
	if r.re != nil {
		return r.re.MatchString(subject)
	}
	return strings.Contains(subject, r.phrase)
}

func textForScope(title, text string, scope Scope) string {
	switch scope {
	case ScopeTitle:
		return strings.ToLower(title)
	case ScopeContent:
		return strings.ToLower(text)
	default:
		return strings.ToLower(title + " " + text)
	}
}

// VisibleText strips markup from s and collapses whitespace. Plain text is
// returned with whitespace collapsed.
func VisibleText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}
