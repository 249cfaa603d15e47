// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package policy evaluates declarative rules against a snapshot.
//
// # Description
//
// A rule's condition is a boolean expression in a small sandboxed
// grammar: dotted field access into the snapshot namespaces, comparison
// and boolean operators, list literals, and a fixed allow-list of
// functions. Conditions are parsed into an expression tree before
// evaluation; nothing resembling host-language execution is available
// to a rule author. A condition that fails to parse or evaluate is
// treated as a violation at the rule's declared severity rather than
// skipped, so a broken rule can never silently wave an image through.
//
// # Thread Safety
//
// Evaluation is a pure function over immutable inputs and is safe to
// call concurrently.
package policy

import (
	"fmt"
	"strings"
)

// Severity ranks a rule and the violations it produces.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so severities parse
// from YAML policy files.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := SeverityFromString(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SeverityFromString parses a severity name.
func SeverityFromString(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", name)
	}
}

// Rule is one named, severity-tagged condition.
type Rule struct {
	ID          string   `yaml:"id" validate:"required"`
	Name        string   `yaml:"name" validate:"required"`
	Description string   `yaml:"description"`
	Severity    Severity `yaml:"severity"`
	Category    string   `yaml:"category"`
	Enabled     *bool    `yaml:"enabled"`
	Condition   string   `yaml:"condition" validate:"required"`
	Rationale   string   `yaml:"rationale"`
	Remediation string   `yaml:"remediation"`
}

// IsEnabled reports whether the rule participates in evaluation.
// Unset defaults to enabled.
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Policy is a named set of rules loaded from a file or built in.
type Policy struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Tags        []string `yaml:"tags"`
	Rules       []Rule   `yaml:"rules" validate:"required,dive"`
}

// EnabledRules returns the rules that participate in evaluation, in
// declaration order.
func (p *Policy) EnabledRules() []Rule {
	out := make([]Rule, 0, len(p.Rules))
	for _, r := range p.Rules {
		if r.IsEnabled() {
			out = append(out, r)
		}
	}
	return out
}

// Violation records one failed or unevaluable rule.
type Violation struct {
	RuleID      string   `json:"rule_id"`
	RuleName    string   `json:"rule_name"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	Remediation string   `json:"remediation,omitempty"`
	// EvalError carries the diagnostic when the condition itself could
	// not be evaluated. Empty for ordinary condition failures.
	EvalError string `json:"eval_error,omitempty"`
}

// LintReport is the result of one evaluation pass.
type LintReport struct {
	Reference  string      `json:"reference"`
	PolicyName string      `json:"policy_name"`
	RuleCount  int         `json:"rule_count"`
	Violations []Violation `json:"violations"`
	Pass       bool        `json:"pass"`
}

// CountBySeverity tallies violations per severity.
func (r *LintReport) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, v := range r.Violations {
		counts[v.Severity]++
	}
	return counts
}
