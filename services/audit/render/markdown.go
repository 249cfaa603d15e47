// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package render

import (
	"fmt"
	"strings"

	"github.com/ashzak/nim-audit/services/audit/compat"
	"github.com/ashzak/nim-audit/services/audit/diffengine"
	"github.com/ashzak/nim-audit/services/audit/fingerprint"
	"github.com/ashzak/nim-audit/services/audit/policy"
)

// Markdown renders reports as GitHub-flavored markdown, suitable for
// pasting into pull requests or CI summaries.
type Markdown struct{}

func NewMarkdown() *Markdown { return &Markdown{} }

func (m *Markdown) RenderDiff(report *diffengine.Report) ([]byte, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Diff: `%s` → `%s`\n\n", report.OldReference, report.NewReference)

	if len(report.Entries) == 0 {
		sb.WriteString("No changes detected.\n")
		return []byte(sb.String()), nil
	}

	sb.WriteString("| Path | Operation | Category | Old | New | Breaking |\n")
	sb.WriteString("|------|-----------|----------|-----|-----|----------|\n")
	for _, entry := range report.Entries {
		breaking := ""
		if entry.Breaking {
			breaking = "**yes**"
		}
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s | %s | %s |\n",
			entry.Path, entry.Operation, entry.Category,
			mdValue(entry.OldValue), mdValue(entry.NewValue), breaking)
	}

	fmt.Fprintf(&sb, "\n**%d** change(s), **%d** breaking.\n", len(report.Entries), report.BreakingCount)
	return []byte(sb.String()), nil
}

func (m *Markdown) RenderLint(report *policy.LintReport) ([]byte, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Policy check: `%s`\n\n", report.Reference)

	if len(report.Violations) == 0 {
		fmt.Fprintf(&sb, "All %d rule(s) passed. ✅\n", report.RuleCount)
		return []byte(sb.String()), nil
	}

	sb.WriteString("| Rule | Severity | Message | Remediation |\n")
	sb.WriteString("|------|----------|---------|-------------|\n")
	for _, v := range report.Violations {
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s |\n", v.RuleID, v.Severity, v.Message, v.Remediation)
	}

	verdict := "❌ FAIL"
	if report.Pass {
		verdict = "✅ PASS"
	}
	fmt.Fprintf(&sb, "\n%s (%d rule(s) evaluated, %d violation(s))\n",
		verdict, report.RuleCount, len(report.Violations))
	return []byte(sb.String()), nil
}

func (m *Markdown) RenderCompat(report *compat.Report) ([]byte, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Compatibility: `%s`\n\n", report.Reference)

	if len(report.Fields) == 0 {
		sb.WriteString("No requirements declared.\n")
	} else {
		sb.WriteString("| Field | Required | Actual | Result |\n")
		sb.WriteString("|-------|----------|--------|--------|\n")
		for _, f := range report.Fields {
			result := "✅"
			if !f.Passed {
				result = "❌"
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", f.Field, f.Required, f.Actual, result)
		}
	}

	for _, rec := range report.Recommendations {
		fmt.Fprintf(&sb, "- %s\n", rec)
	}

	verdict := "**INCOMPATIBLE**"
	if report.Compatible {
		verdict = "**COMPATIBLE**"
	}
	fmt.Fprintf(&sb, "\n%s\n", verdict)
	return []byte(sb.String()), nil
}

func (m *Markdown) RenderFingerprint(report *fingerprint.Report) ([]byte, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Fingerprint: `%s` vs `%s`\n\n", report.SourceReference, report.TargetReference)

	sb.WriteString("| Prompt | Outcome | Distance |\n")
	sb.WriteString("|--------|---------|----------|\n")
	for _, pair := range report.Pairs {
		fmt.Fprintf(&sb, "| %s | %s | %.3f |\n", pair.PromptID, pair.Outcome, pair.Distance)
	}

	fmt.Fprintf(&sb, "\nSimilarity **%.1f%%** over %d matched pair(s)", report.SimilarityScore*100, report.MatchedPairs)
	if report.StructuralMismatches > 0 {
		fmt.Fprintf(&sb, " (%d structural mismatch(es) excluded)", report.StructuralMismatches)
	}
	fmt.Fprintf(&sb, ". Mean latency change %+.1f%%.\n", report.LatencyDeltaPct)
	return []byte(sb.String()), nil
}

func mdValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("`%v`", v)
}
