// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ashzak/nim-audit/services/audit/compat"
	"github.com/ashzak/nim-audit/services/audit/diffengine"
	"github.com/ashzak/nim-audit/services/audit/fingerprint"
	"github.com/ashzak/nim-audit/services/audit/policy"
)

// Terminal renders human-readable colored output.
type Terminal struct {
	title    lipgloss.Style
	pass     lipgloss.Style
	fail     lipgloss.Style
	warn     lipgloss.Style
	info     lipgloss.Style
	breaking lipgloss.Style
	dim      lipgloss.Style
}

// NewTerminal builds a terminal renderer with the default styles.
func NewTerminal() *Terminal {
	return &Terminal{
		title:    lipgloss.NewStyle().Bold(true),
		pass:     lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		fail:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		warn:     lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		info:     lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		breaking: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		dim:      lipgloss.NewStyle().Faint(true),
	}
}

func (t *Terminal) RenderDiff(report *diffengine.Report) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(t.title.Render(fmt.Sprintf("Diff: %s -> %s", report.OldReference, report.NewReference)))
	sb.WriteString("\n\n")

	if len(report.Entries) == 0 {
		sb.WriteString(t.pass.Render("No changes detected"))
		sb.WriteString("\n")
		return []byte(sb.String()), nil
	}

	for _, entry := range report.Entries {
		marker := t.opMarker(entry.Operation)
		line := fmt.Sprintf("%s %-11s %s", marker, "["+string(entry.Category)+"]", entry.Path)
		switch entry.Operation {
		case diffengine.OpModified:
			line += fmt.Sprintf("  %v -> %v", entry.OldValue, entry.NewValue)
		case diffengine.OpAdded:
			line += fmt.Sprintf("  = %v", entry.NewValue)
		case diffengine.OpRemoved:
			line += fmt.Sprintf("  was %v", entry.OldValue)
		}
		if entry.Breaking {
			line += " " + t.breaking.Render("BREAKING")
		}
		sb.WriteString(line)
		sb.WriteString("\n")
		if entry.Description != "" {
			sb.WriteString(t.dim.Render("    " + entry.Description))
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%d change(s)", len(report.Entries)))
	categories := make([]string, 0, len(report.TotalsByCategory))
	for category := range report.TotalsByCategory {
		categories = append(categories, string(category))
	}
	sort.Strings(categories)
	for _, category := range categories {
		sb.WriteString(fmt.Sprintf(", %s: %d", category, report.TotalsByCategory[diffengine.Category(category)]))
	}
	sb.WriteString("\n")
	if report.BreakingCount > 0 {
		sb.WriteString(t.fail.Render(fmt.Sprintf("%d breaking change(s)", report.BreakingCount)))
	} else {
		sb.WriteString(t.pass.Render("No breaking changes"))
	}
	sb.WriteString("\n")
	return []byte(sb.String()), nil
}

func (t *Terminal) RenderLint(report *policy.LintReport) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(t.title.Render("Policy check: " + report.Reference))
	sb.WriteString("\n\n")

	for _, v := range report.Violations {
		sb.WriteString(fmt.Sprintf("%s %s (%s): %s\n", t.severityBadge(v.Severity), v.RuleID, v.RuleName, v.Message))
		if v.EvalError != "" {
			sb.WriteString(t.dim.Render("    evaluation: " + v.EvalError))
			sb.WriteString("\n")
		}
		if v.Remediation != "" {
			sb.WriteString(t.dim.Render("    fix: " + v.Remediation))
			sb.WriteString("\n")
		}
	}

	sb.WriteString(fmt.Sprintf("\n%d rule(s) evaluated, %d violation(s)\n", report.RuleCount, len(report.Violations)))
	if report.Pass {
		sb.WriteString(t.pass.Render("PASS"))
	} else {
		sb.WriteString(t.fail.Render("FAIL"))
	}
	sb.WriteString("\n")
	return []byte(sb.String()), nil
}

func (t *Terminal) RenderCompat(report *compat.Report) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(t.title.Render("Compatibility: " + report.Reference))
	sb.WriteString("\n\n")

	if len(report.Fields) == 0 {
		sb.WriteString(t.dim.Render("No requirements declared"))
		sb.WriteString("\n")
	}
	for _, f := range report.Fields {
		status := t.pass.Render("OK")
		if !f.Passed {
			status = t.fail.Render("FAIL")
		}
		sb.WriteString(fmt.Sprintf("%-20s required %-16s actual %-16s %s\n", f.Field, f.Required, f.Actual, status))
		if f.Reason != "" {
			sb.WriteString(t.dim.Render("    " + f.Reason))
			sb.WriteString("\n")
		}
	}
	for _, rec := range report.Recommendations {
		sb.WriteString(t.warn.Render("  -> " + rec))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	if report.Compatible {
		sb.WriteString(t.pass.Render("COMPATIBLE"))
	} else {
		sb.WriteString(t.fail.Render("INCOMPATIBLE"))
	}
	sb.WriteString("\n")
	return []byte(sb.String()), nil
}

func (t *Terminal) RenderFingerprint(report *fingerprint.Report) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(t.title.Render(fmt.Sprintf("Fingerprint: %s vs %s", report.SourceReference, report.TargetReference)))
	sb.WriteString("\n\n")

	for _, pair := range report.Pairs {
		badge := t.pass.Render(string(pair.Outcome))
		switch pair.Outcome {
		case fingerprint.OutcomeDifferent:
			badge = t.fail.Render(string(pair.Outcome))
		case fingerprint.OutcomeWithinTolerance:
			badge = t.warn.Render(string(pair.Outcome))
		case fingerprint.OutcomeStructuralMismatch:
			badge = t.dim.Render(string(pair.Outcome))
		}
		sb.WriteString(fmt.Sprintf("%-16s %s (distance %.3f)\n", pair.PromptID, badge, pair.Distance))
	}

	sb.WriteString(fmt.Sprintf("\nSimilarity: %.1f%% over %d matched pair(s)\n",
		report.SimilarityScore*100, report.MatchedPairs))
	if report.StructuralMismatches > 0 {
		sb.WriteString(t.warn.Render(fmt.Sprintf("%d structural mismatch(es) excluded from score", report.StructuralMismatches)))
		sb.WriteString("\n")
	}
	sb.WriteString(t.dim.Render(fmt.Sprintf("Mean latency change: %+.1f%%", report.LatencyDeltaPct)))
	sb.WriteString("\n")
	return []byte(sb.String()), nil
}

func (t *Terminal) opMarker(op diffengine.Operation) string {
	switch op {
	case diffengine.OpAdded:
		return t.pass.Render("+")
	case diffengine.OpRemoved:
		return t.fail.Render("-")
	default:
		return t.warn.Render("~")
	}
}

func (t *Terminal) severityBadge(s policy.Severity) string {
	switch s {
	case policy.SeverityError:
		return t.fail.Render("[error]")
	case policy.SeverityWarning:
		return t.warn.Render("[warning]")
	default:
		return t.info.Render("[info]")
	}
}
