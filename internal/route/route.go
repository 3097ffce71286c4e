package route

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/angeloszaimis/devproxy/config"
)

const matchTimeout = 50 * time.Millisecond

// Rule is a compiled proxy rule.
type Rule struct {
	Pattern      string
	Target       *url.URL
	ChangeOrigin bool
	VerifyTLS    bool
	XForwarded   bool

	re *regexp2.Regexp
}

// IsRegexp reports whether the rule matches by regular expression rather
// than by path prefix.
func (r *Rule) IsRegexp() bool {
	return r.re != nil
}

// Match reports whether path is forwarded by this rule. A regular
// expression that fails to evaluate in time is treated as no match.
func (r *Rule) Match(path string) bool {
	if r.re == nil {
		return strings.HasPrefix(path, r.Pattern)
	}

	ok, err := r.re.MatchString(path)
	return err == nil && ok
}

// Table is an immutable, ordered set of rules.
type Table struct {
	rules []*Rule
}

// Compile builds a Table from the configured rules, preserving order.
func Compile(rules []config.ProxyRule) (*Table, error) {
	t := &Table{rules: make([]*Rule, 0, len(rules))}

	for i, pr := range rules {
		rule, err := compileRule(pr)
		if err != nil {
			return nil, fmt.Errorf("proxy rule %d (%q): %w", i, pr.Pattern, err)
		}
		t.rules = append(t.rules, rule)
	}

	return t, nil
}

func compileRule(pr config.ProxyRule) (*Rule, error) {
	target, err := url.Parse(pr.Target)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("target %q must use http or https", pr.Target)
	}

	rule := &Rule{
		Pattern:      pr.Pattern,
		Target:       target,
		ChangeOrigin: pr.ChangeOrigin,
		VerifyTLS:    pr.VerifyTLS(),
		XForwarded:   pr.XForwarded,
	}

	if strings.HasPrefix(pr.Pattern, "^") {
		re, err := regexp2.Compile(pr.Pattern, regexp2.ECMAScript)
		if err != nil {
			return nil, fmt.Errorf("compile pattern: %w", err)
		}
		re.MatchTimeout = matchTimeout
		rule.re = re
	}

	return rule, nil
}

// Match returns the first rule matching path.
func (t *Table) Match(path string) (*Rule, bool) {
	for _, r := range t.rules {
		if r.Match(path) {
			return r, true
		}
	}
	return nil, false
}

// Rules returns the rules in match order.
func (t *Table) Rules() []*Rule {
	out := make([]*Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Swappable holds the active Table and lets a config reload replace it
// while requests are being matched.
type Swappable struct {
	current atomic.Pointer[Table]
}

func NewSwappable(t *Table) *Swappable {
	s := &Swappable{}
	s.current.Store(t)
	return s
}

func (s *Swappable) Load() *Table {
	return s.current.Load()
}

func (s *Swappable) Store(t *Table) {
	s.current.Store(t)
}

func (s *Swappable) Match(path string) (*Rule, bool) {
	return s.Load().Match(path)
}
