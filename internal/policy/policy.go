// Package policy implements pre-execution static screening of script text.
// Scripts are matched line-by-line against an ordered catalog of high-risk
// construct patterns before any subprocess exists. Fail-closed: a single
// blocking finding aborts the pipeline.
//
// This is a blocklist, not a sandbox guarantee. It screens known-bad
// patterns cheaply and language-independently (raw text, not an AST); a
// script that evades every pattern is still only contained by the launcher's
// process-level isolation.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity determines whether a finding gates execution.
type Severity string

const (
	// SeverityWarn findings are reported for observability but do not
	// prevent execution.
	SeverityWarn Severity = "warn"
	// SeverityBlock findings short-circuit the pipeline before spawn.
	SeverityBlock Severity = "block"
)

// Finding is a single match between script content and a cataloged pattern.
type Finding struct {
	PatternID   string   `json:"patternId"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Line        int      `json:"line"` // 1-based line number of the match.
}

// Engine evaluates script text against a security policy.
type Engine interface {
	Evaluate(script string) []Finding
}

// Rule is one independent screening rule: a pattern with its verdict.
// Rules are data — they can be added and unit-tested in isolation from
// process spawning.
type Rule struct {
	ID          string
	Description string
	Severity    Severity
	Pattern     *regexp.Regexp
}

// RuleSet is the pattern-catalog implementation of Engine.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet creates a RuleSet from an ordered list of rules.
func NewRuleSet(rules []Rule) *RuleSet {
	return &RuleSet{rules: rules}
}

// Default returns a RuleSet with the built-in catalog.
func Default() *RuleSet {
	return NewRuleSet(DefaultRules())
}

// Evaluate matches every rule against every line of the script and returns
// all findings in line order. An empty slice means the script passed.
func (rs *RuleSet) Evaluate(script string) []Finding {
	var findings []Finding
	for i, line := range strings.Split(script, "\n") {
		for _, r := range rs.rules {
			if r.Pattern.MatchString(line) {
				findings = append(findings, Finding{
					PatternID:   r.ID,
					Description: r.Description,
					Severity:    r.Severity,
					Line:        i + 1,
				})
			}
		}
	}
	return findings
}

// Compile builds a RuleSet from the built-in catalog minus the disabled rule
// IDs, plus operator-supplied extras. Extra patterns use RE2 syntax and are
// matched case-insensitively, like the built-ins. An extra severity of ""
// defaults to block.
func Compile(disabled []string, extras []Rule) *RuleSet {
	off := make(map[string]bool, len(disabled))
	for _, id := range disabled {
		off[id] = true
	}

	var rules []Rule
	for _, r := range DefaultRules() {
		if !off[r.ID] {
			rules = append(rules, r)
		}
	}
	for _, r := range extras {
		if r.Severity == "" {
			r.Severity = SeverityBlock
		}
		rules = append(rules, r)
	}
	return NewRuleSet(rules)
}

// ParseRule compiles an operator-supplied rule from its textual form.
func ParseRule(id, description, severity, pattern string) (Rule, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: invalid pattern: %w", id, err)
	}
	sev := Severity(severity)
	if sev == "" {
		sev = SeverityBlock
	}
	return Rule{ID: id, Description: description, Severity: sev, Pattern: re}, nil
}

// Blocking filters findings down to those at blocking severity.
func Blocking(findings []Finding) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Severity == SeverityBlock {
			out = append(out, f)
		}
	}
	return out
}

// HasBlocking reports whether any finding gates execution.
func HasBlocking(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
