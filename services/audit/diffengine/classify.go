// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package diffengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ashzak/nim-audit/services/audit/knowledge"
	"github.com/ashzak/nim-audit/services/audit/snapshot"
	"github.com/ashzak/nim-audit/services/audit/vercmp"
)

// responseShapeFields are the API schema fields whose modification or
// removal changes the shape of responses clients parse.
var responseShapeFields = map[string]bool{
	"type":        true,
	"required":    true,
	"schema":      true,
	"status":      true,
	"status_code": true,
}

// Classify assigns category, severity, and breaking to every entry.
// The input slice is not mutated; a new enriched slice is returned.
// Structural entries produced by the diff pass keep their category.
// Classification is a pure function of the entry and the registry, so
// repeated runs over the same entries yield identical results.
func (e *Engine) Classify(entries []DiffEntry) []DiffEntry {
	out := make([]DiffEntry, len(entries))
	for i, entry := range entries {
		if entry.Category == CategoryStructural {
			out[i] = entry
			continue
		}
		out[i] = e.classifyEntry(entry)
	}
	return out
}

func (e *Engine) classifyEntry(entry DiffEntry) DiffEntry {
	switch entry.Domain() {
	case snapshot.DomainAPI:
		return classifyAPI(entry)
	case snapshot.DomainEnvironment:
		return e.classifyEnvironment(entry)
	case snapshot.DomainResources:
		return classifyResources(entry)
	case snapshot.DomainMetadata:
		entry.Category = CategoryMetadata
		entry.Severity = SeverityInfo
		entry.Breaking = false
		entry.Description = fmt.Sprintf("metadata field %s %s", entry.Path, entry.Operation)
		return entry
	case snapshot.DomainLayers:
		entry.Category = CategoryLayer
		entry.Severity = SeverityInfo
		entry.Breaking = false
		entry.Description = fmt.Sprintf("layer %s %s", entry.FieldName(), entry.Operation)
		return entry
	default:
		entry.Category = CategoryConfig
		entry.Severity = SeverityInfo
		entry.Breaking = false
		entry.Description = fmt.Sprintf("config field %s %s", entry.Path, entry.Operation)
		return entry
	}
}

func classifyAPI(entry DiffEntry) DiffEntry {
	entry.Category = CategoryAPI
	if entry.Operation == OpAdded {
		entry.Severity = SeverityInfo
		entry.Breaking = false
		entry.Description = fmt.Sprintf("API field %s added", entry.Path)
		return entry
	}
	if responseShapeFields[entry.FieldName()] {
		entry.Severity = SeverityWarning
		entry.Breaking = true
		entry.Description = fmt.Sprintf("API response shape changed at %s (%s)", entry.Path, entry.Operation)
		return entry
	}
	entry.Severity = SeverityWarning
	entry.Breaking = false
	entry.Description = fmt.Sprintf("API field %s %s", entry.Path, entry.Operation)
	return entry
}

func (e *Engine) classifyEnvironment(entry DiffEntry) DiffEntry {
	entry.Category = CategoryEnvironment
	name := entry.FieldName()

	var info knowledge.EnvVarInfo
	known := false
	if e.registry != nil {
		info, known = e.registry.Lookup(name)
	}
	if !known {
		entry.Severity = SeverityInfo
		entry.Breaking = false
		entry.Description = fmt.Sprintf("unknown environment variable %s %s", name, entry.Operation)
		return entry
	}

	entry.Severity = SeverityWarning
	entry.Breaking = false
	desc := fmt.Sprintf("environment variable %s %s", name, entry.Operation)

	if entry.Operation == OpModified {
		if metric, dir, risky := e.riskyChange(info, entry.OldValue, entry.NewValue); risky {
			entry.Breaking = true
			desc = fmt.Sprintf("%s (%s impact: %s, change exceeds risk threshold)", desc, metric, dir)
		}
	}
	if info.Deprecated && info.DeprecatedMessage != "" {
		desc = fmt.Sprintf("%s; deprecated: %s", desc, info.DeprecatedMessage)
	}
	entry.Description = desc
	return entry
}

// riskyChange reports whether a numeric value moved in the direction
// that raises memory or stability pressure by more than the configured
// ratio. Non-numeric values cannot be judged directionally and are
// never breaking.
func (e *Engine) riskyChange(info knowledge.EnvVarInfo, oldVal, newVal any) (string, knowledge.Direction, bool) {
	oldNum, oldOK := anyAsNumber(oldVal)
	newNum, newOK := anyAsNumber(newVal)
	if !oldOK || !newOK {
		return "", knowledge.DirectionNone, false
	}

	for _, metric := range []string{knowledge.MetricMemory, knowledge.MetricStability} {
		dir := info.Impact(metric)
		switch dir {
		case knowledge.DirectionIncreasing:
			if newNum > oldNum && exceedsRatio(oldNum, newNum, e.riskThreshold) {
				return metric, dir, true
			}
		case knowledge.DirectionDecreasing:
			if newNum < oldNum && exceedsRatio(newNum, oldNum, e.riskThreshold) {
				return metric, dir, true
			}
		}
	}
	return "", knowledge.DirectionNone, false
}

func exceedsRatio(smaller, larger, threshold float64) bool {
	if smaller <= 0 {
		return larger > 0
	}
	return larger/smaller > threshold
}

func classifyResources(entry DiffEntry) DiffEntry {
	entry.Category = CategoryRequirement
	entry.Severity = SeverityInfo
	entry.Breaking = false
	entry.Description = fmt.Sprintf("resource requirement %s %s", entry.Path, entry.Operation)

	if entry.Operation == OpModified && requirementStricter(entry.OldValue, entry.NewValue) {
		entry.Severity = SeverityWarning
		entry.Breaking = true
		entry.Description = fmt.Sprintf("resource requirement %s tightened from %v to %v", entry.Path, entry.OldValue, entry.NewValue)
	}
	return entry
}

// requirementStricter reports whether the new requirement exceeds the
// old one. Dotted versions compare segment-wise; plain numbers compare
// numerically; anything else cannot be ordered and is not stricter.
func requirementStricter(oldVal, newVal any) bool {
	oldStr := fmt.Sprint(oldVal)
	newStr := fmt.Sprint(newVal)
	if c, ok := vercmp.Compare(newStr, oldStr); ok {
		return c > 0
	}
	oldNum, oldOK := anyAsNumber(oldVal)
	newNum, newOK := anyAsNumber(newVal)
	return oldOK && newOK && newNum > oldNum
}

func anyAsNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
