// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package diffengine compares two normalized snapshots and classifies
// every change by category, severity, and breaking-change risk.
//
// # Description
//
// The engine works on flattened snapshots: it iterates the sorted union
// of both sides' paths once, emits one entry per added, removed, or
// modified path, and then runs a single classification pass that
// enriches each entry. Classification is domain-specific and
// directional: an increase in a strictness metric is breaking, a
// decrease is not. The engine never fails on shape disagreements
// between the two sides; those degrade to a coarser structural entry.
//
// # Thread Safety
//
// An Engine holds only read-only reference data and is safe for
// concurrent use on independent inputs.
package diffengine

import "strings"

// Operation is the kind of change recorded for one path.
type Operation string

const (
	OpAdded    Operation = "added"
	OpRemoved  Operation = "removed"
	OpModified Operation = "modified"
)

// Category labels the domain-specific nature of a change.
type Category string

const (
	CategoryAPI         Category = "api"
	CategoryEnvironment Category = "environment"
	CategoryRequirement Category = "requirement"
	CategoryMetadata    Category = "metadata"
	CategoryLayer       Category = "layer"
	CategoryConfig      Category = "config"
	CategoryStructural  Category = "structural"
)

// Severity ranks a classified change.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "info"
}

// MarshalText implements encoding.TextMarshaler so the severity renders
// as its name in JSON reports.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name back from a JSON report.
func (s *Severity) UnmarshalText(text []byte) error {
	if string(text) == "warning" {
		*s = SeverityWarning
	} else {
		*s = SeverityInfo
	}
	return nil
}

// DiffEntry is one classified change between two snapshots.
type DiffEntry struct {
	Path        string    `json:"path"`
	OldValue    any       `json:"old_value"`
	NewValue    any       `json:"new_value"`
	Operation   Operation `json:"operation"`
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Breaking    bool      `json:"breaking"`
	Description string    `json:"description"`
}

// Domain returns the first path segment.
func (e DiffEntry) Domain() string {
	if i := strings.IndexByte(e.Path, '.'); i >= 0 {
		return e.Path[:i]
	}
	return e.Path
}

// FieldName returns the final path segment.
func (e DiffEntry) FieldName() string {
	if i := strings.LastIndexByte(e.Path, '.'); i >= 0 {
		return e.Path[i+1:]
	}
	return e.Path
}

// Report is the full result of one diff invocation.
type Report struct {
	OldReference     string           `json:"old_reference"`
	NewReference     string           `json:"new_reference"`
	Entries          []DiffEntry      `json:"entries"`
	TotalsByCategory map[Category]int `json:"totals_by_category"`
	BreakingCount    int              `json:"breaking_count"`
}

// HasBreaking reports whether any entry was classified breaking.
func (r *Report) HasBreaking() bool {
	return r.BreakingCount > 0
}
