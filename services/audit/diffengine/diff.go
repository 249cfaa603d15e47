// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package diffengine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ashzak/nim-audit/services/audit/knowledge"
	"github.com/ashzak/nim-audit/services/audit/snapshot"
)

// DefaultRiskThreshold is the ratio an environment variable's numeric
// value must change by, in its registered risk direction, before the
// change is marked breaking. Exposed as a config knob because the right
// cutoff varies by fleet.
const DefaultRiskThreshold = 1.5

// Config carries the reference data and tunables for one Engine.
type Config struct {
	// Registry is the env-var knowledge table. A nil registry treats
	// every variable as unknown.
	Registry *knowledge.EnvRegistry

	// RiskThreshold overrides DefaultRiskThreshold when positive.
	RiskThreshold float64
}

// Engine diffs and classifies snapshot pairs.
type Engine struct {
	registry      *knowledge.EnvRegistry
	riskThreshold float64
}

// NewEngine builds an engine from the given config.
func NewEngine(cfg Config) *Engine {
	threshold := cfg.RiskThreshold
	if threshold <= 0 {
		threshold = DefaultRiskThreshold
	}
	return &Engine{registry: cfg.Registry, riskThreshold: threshold}
}

// BuildDiff flattens both snapshots, diffs them, and classifies every
// entry.
//
// # Outputs
//
//   - *Report: classified entries plus per-category totals.
//   - error: snapshot.ErrInvalidSnapshot when either input is not a
//     well-formed tree. Shape disagreements between valid snapshots are
//     not errors; they degrade to structural entries.
func (e *Engine) BuildDiff(oldSnap, newSnap *snapshot.Snapshot) (*Report, error) {
	flatOld, err := snapshot.Flatten(oldSnap)
	if err != nil {
		return nil, fmt.Errorf("flatten old snapshot: %w", err)
	}
	flatNew, err := snapshot.Flatten(newSnap)
	if err != nil {
		return nil, fmt.Errorf("flatten new snapshot: %w", err)
	}

	entries := e.Classify(diffFields(flatOld, flatNew))

	report := &Report{
		OldReference:     oldSnap.Reference,
		NewReference:     newSnap.Reference,
		Entries:          entries,
		TotalsByCategory: make(map[Category]int),
	}
	for _, entry := range entries {
		report.TotalsByCategory[entry.Category]++
		if entry.Breaking {
			report.BreakingCount++
		}
	}
	return report, nil
}

type side struct {
	byKey      map[string]snapshot.FlatField
	sortedKeys []string
}

// lookupKey joins path segments with dots escaped inside each segment,
// so a literal map key "a.b" cannot collide with a nested a.b path.
// Display paths stay unescaped; this form exists only for lookups and
// prefix tests.
func lookupKey(path []string) string {
	escaped := make([]string, len(path))
	for i, seg := range path {
		seg = strings.ReplaceAll(seg, `\`, `\\`)
		escaped[i] = strings.ReplaceAll(seg, ".", `\.`)
	}
	return strings.Join(escaped, ".")
}

func buildSide(fields []snapshot.FlatField) side {
	s := side{byKey: make(map[string]snapshot.FlatField, len(fields)), sortedKeys: make([]string, 0, len(fields))}
	for _, f := range fields {
		key := lookupKey(f.Path)
		s.byKey[key] = f
		s.sortedKeys = append(s.sortedKeys, key)
	}
	sort.Strings(s.sortedKeys)
	return s
}

// hasChildren reports whether any key on this side lies strictly under
// the given path.
func (s side) hasChildren(key string) bool {
	prefix := key + "."
	i := sort.SearchStrings(s.sortedKeys, prefix)
	return i < len(s.sortedKeys) && strings.HasPrefix(s.sortedKeys[i], prefix)
}

// diffFields walks the sorted union of both sides' paths once. Paths
// that are scalar on one side and composite on the other collapse into
// one structural entry at the common prefix, with the subtree beneath
// suppressed.
func diffFields(flatOld, flatNew []snapshot.FlatField) []DiffEntry {
	oldSide := buildSide(flatOld)
	newSide := buildSide(flatNew)

	union := make([]string, 0, len(oldSide.sortedKeys)+len(newSide.sortedKeys))
	union = append(union, oldSide.sortedKeys...)
	for _, key := range newSide.sortedKeys {
		if _, ok := oldSide.byKey[key]; !ok {
			union = append(union, key)
		}
	}
	sort.Slice(union, func(i, j int) bool {
		ri := snapshot.DomainRank(domainOf(union[i]))
		rj := snapshot.DomainRank(domainOf(union[j]))
		if ri != rj {
			return ri < rj
		}
		return union[i] < union[j]
	})

	// A collapsed subtree's children are not guaranteed contiguous
	// after the collapsed key: a sibling like "x-sib" sorts between
	// "x" and "x." children. Collect every collapsed prefix and test
	// all of them for the rest of the walk.
	var entries []DiffEntry
	var collapsed []string
	suppressed := func(key string) bool {
		for _, prefix := range collapsed {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		}
		return false
	}
	for _, key := range union {
		if suppressed(key) {
			continue
		}

		oldField, inOld := oldSide.byKey[key]
		newField, inNew := newSide.byKey[key]

		switch {
		case inOld && inNew:
			if valuesEqual(oldField, newField) {
				continue
			}
			entries = append(entries, DiffEntry{
				Path:      oldField.Key(),
				OldValue:  oldField.Value,
				NewValue:  newField.Value,
				Operation: OpModified,
			})
		case inOld:
			if newSide.hasChildren(key) {
				entries = append(entries, structuralEntry(oldField.Key(), oldField.Value, nil, "scalar became composite"))
				collapsed = append(collapsed, key+".")
				continue
			}
			entries = append(entries, DiffEntry{
				Path:      oldField.Key(),
				OldValue:  oldField.Value,
				NewValue:  nil,
				Operation: OpRemoved,
			})
		default:
			if oldSide.hasChildren(key) {
				entries = append(entries, structuralEntry(newField.Key(), nil, newField.Value, "composite became scalar"))
				collapsed = append(collapsed, key+".")
				continue
			}
			entries = append(entries, DiffEntry{
				Path:      newField.Key(),
				OldValue:  nil,
				NewValue:  newField.Value,
				Operation: OpAdded,
			})
		}
	}
	return entries
}

func structuralEntry(key string, oldVal, newVal any, shape string) DiffEntry {
	return DiffEntry{
		Path:        key,
		OldValue:    oldVal,
		NewValue:    newVal,
		Operation:   OpModified,
		Category:    CategoryStructural,
		Severity:    SeverityWarning,
		Description: fmt.Sprintf("structural mismatch at %s: %s", key, shape),
	}
}

// valuesEqual compares two flattened values with type-aware equality.
// Numeric strings compare numerically when both sides parse as numbers,
// so "4" equals 4 across extractor representations.
func valuesEqual(a, b snapshot.FlatField) bool {
	if a.Kind == snapshot.KindAbsent || b.Kind == snapshot.KindAbsent {
		return a.Kind == b.Kind
	}
	if an, aok := asNumber(a); aok {
		if bn, bok := asNumber(b); bok {
			return an == bn
		}
		return false
	}
	if _, bok := asNumber(b); bok {
		return false
	}
	return fmt.Sprint(a.Value) == fmt.Sprint(b.Value)
}

func asNumber(f snapshot.FlatField) (float64, bool) {
	switch f.Kind {
	case snapshot.KindNumber:
		return f.Value.(float64), true
	case snapshot.KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(f.Value.(string)), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func domainOf(key string) string {
	if i := strings.IndexByte(key, '.'); i >= 0 {
		return key[:i]
	}
	return key
}
