// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package diffengine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ashzak/nim-audit/services/audit/knowledge"
	"github.com/ashzak/nim-audit/services/audit/snapshot"
)

func testEngine(t *testing.T, threshold float64) *Engine {
	t.Helper()
	reg, err := knowledge.LoadEnvRegistry()
	if err != nil {
		t.Fatalf("LoadEnvRegistry: %v", err)
	}
	return NewEngine(Config{Registry: reg, RiskThreshold: threshold})
}

func snapWithEnv(ref string, env map[string]string) *snapshot.Snapshot {
	return &snapshot.Snapshot{Reference: ref, Environment: env}
}

func TestDiffIdempotence(t *testing.T) {
	snap := &snapshot.Snapshot{
		Reference:   "img:1",
		Metadata:    map[string]any{"model_name": "llama3"},
		Environment: map[string]string{"NIM_LOG_LEVEL": "INFO"},
		Layers:      []string{"sha256:aaa"},
	}
	report, err := testEngine(t, 0).BuildDiff(snap, snap)
	if err != nil {
		t.Fatalf("BuildDiff: %v", err)
	}
	if len(report.Entries) != 0 {
		t.Errorf("diff(A,A) entries = %v, want none", report.Entries)
	}
	if report.BreakingCount != 0 {
		t.Errorf("breaking count = %d, want 0", report.BreakingCount)
	}
}

func TestDiffSymmetry(t *testing.T) {
	oldSnap := &snapshot.Snapshot{
		Reference:   "img:1",
		Metadata:    map[string]any{"removed_key": "x", "shared": "a"},
		Environment: map[string]string{"NIM_LOG_LEVEL": "INFO"},
	}
	newSnap := &snapshot.Snapshot{
		Reference:   "img:2",
		Metadata:    map[string]any{"added_key": "y", "shared": "b"},
		Environment: map[string]string{"NIM_LOG_LEVEL": "DEBUG"},
	}

	engine := testEngine(t, 0)
	forward, err := engine.BuildDiff(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("BuildDiff forward: %v", err)
	}
	backward, err := engine.BuildDiff(newSnap, oldSnap)
	if err != nil {
		t.Fatalf("BuildDiff backward: %v", err)
	}
	if len(forward.Entries) != len(backward.Entries) {
		t.Fatalf("entry counts differ: %d vs %d", len(forward.Entries), len(backward.Entries))
	}

	mirror := make(map[string]DiffEntry, len(backward.Entries))
	for _, e := range backward.Entries {
		mirror[e.Path] = e
	}
	for _, e := range forward.Entries {
		m, ok := mirror[e.Path]
		if !ok {
			t.Fatalf("path %s missing from reverse diff", e.Path)
		}
		switch e.Operation {
		case OpAdded:
			if m.Operation != OpRemoved {
				t.Errorf("%s: reverse op = %v, want removed", e.Path, m.Operation)
			}
		case OpRemoved:
			if m.Operation != OpAdded {
				t.Errorf("%s: reverse op = %v, want added", e.Path, m.Operation)
			}
		case OpModified:
			if m.Operation != OpModified {
				t.Errorf("%s: reverse op = %v, want modified", e.Path, m.Operation)
			}
		}
		if !reflect.DeepEqual(e.OldValue, m.NewValue) || !reflect.DeepEqual(e.NewValue, m.OldValue) {
			t.Errorf("%s: values not mirrored: %v/%v vs %v/%v", e.Path, e.OldValue, e.NewValue, m.OldValue, m.NewValue)
		}
	}
}

func TestDiffNumericStringEquality(t *testing.T) {
	oldSnap := &snapshot.Snapshot{
		Reference: "img:1",
		Resources: map[string]any{"gpu_count": "4"},
	}
	newSnap := &snapshot.Snapshot{
		Reference: "img:2",
		Resources: map[string]any{"gpu_count": 4},
	}
	report, err := testEngine(t, 0).BuildDiff(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("BuildDiff: %v", err)
	}
	if len(report.Entries) != 0 {
		t.Errorf(`"4" vs 4 produced entries: %v`, report.Entries)
	}
}

func TestDiffStructuralMismatch(t *testing.T) {
	oldSnap := &snapshot.Snapshot{
		Reference: "img:1",
		API:       map[string]any{"ports": "8000"},
	}
	newSnap := &snapshot.Snapshot{
		Reference: "img:2",
		API:       map[string]any{"ports": []any{float64(8000), float64(8001)}},
	}
	report, err := testEngine(t, 0).BuildDiff(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("BuildDiff: %v", err)
	}
	if len(report.Entries) != 1 {
		t.Fatalf("entries = %v, want exactly one structural entry", report.Entries)
	}
	entry := report.Entries[0]
	if entry.Category != CategoryStructural || entry.Operation != OpModified {
		t.Errorf("entry = %+v, want structural modified", entry)
	}
	if entry.Path != "api.ports" {
		t.Errorf("path = %q, want api.ports", entry.Path)
	}
}

func TestDiffStructuralMismatchWithSibling(t *testing.T) {
	// "x-sib" sorts between "x" and "x.child" ('-' < '.'), so the
	// collapsed subtree's children are not contiguous in the walk. They
	// must still be suppressed.
	oldSnap := &snapshot.Snapshot{
		Reference: "img:1",
		Metadata:  map[string]any{"x": "scalar", "x-sib": "same"},
	}
	newSnap := &snapshot.Snapshot{
		Reference: "img:2",
		Metadata:  map[string]any{"x": map[string]any{"child": "1"}, "x-sib": "same"},
	}
	report, err := testEngine(t, 0).BuildDiff(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("BuildDiff: %v", err)
	}
	if len(report.Entries) != 1 {
		t.Fatalf("entries = %v, want only the structural entry", report.Entries)
	}
	entry := report.Entries[0]
	if entry.Category != CategoryStructural || entry.Path != "metadata.x" {
		t.Errorf("entry = %+v, want structural at metadata.x", entry)
	}
}

func TestDiffLiteralDottedKey(t *testing.T) {
	// A map key containing a dot must not collide with the nested path
	// that flattens to the same joined string.
	oldSnap := &snapshot.Snapshot{
		Reference: "img:1",
		Metadata:  map[string]any{"a.b": "flat-old", "a": map[string]any{"b": "nested-old"}},
	}
	newSnap := &snapshot.Snapshot{
		Reference: "img:2",
		Metadata:  map[string]any{"a.b": "flat-new", "a": map[string]any{"b": "nested-new"}},
	}
	report, err := testEngine(t, 0).BuildDiff(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("BuildDiff: %v", err)
	}
	if len(report.Entries) != 2 {
		t.Fatalf("entries = %v, want both keys reported", report.Entries)
	}
	got := make(map[string]string, 2)
	for _, e := range report.Entries {
		if e.Operation != OpModified {
			t.Errorf("entry = %+v, want modified", e)
		}
		if e.Path != "metadata.a.b" {
			t.Errorf("path = %q, want metadata.a.b", e.Path)
		}
		got[e.OldValue.(string)] = e.NewValue.(string)
	}
	want := map[string]string{"flat-old": "flat-new", "nested-old": "nested-new"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("value pairs = %v, want %v", got, want)
	}
}

func TestDiffOrderingIsDeterministic(t *testing.T) {
	oldSnap := &snapshot.Snapshot{
		Reference:   "img:1",
		Metadata:    map[string]any{"b": "1", "a": "1"},
		Environment: map[string]string{"Z_VAR": "1", "A_VAR": "1"},
		Layers:      []string{"sha256:aaa"},
	}
	newSnap := &snapshot.Snapshot{Reference: "img:2"}

	engine := testEngine(t, 0)
	first, err := engine.BuildDiff(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("BuildDiff: %v", err)
	}
	second, err := engine.BuildDiff(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("BuildDiff: %v", err)
	}
	if !reflect.DeepEqual(first.Entries, second.Entries) {
		t.Error("diff output order differs between runs")
	}

	var paths []string
	for _, e := range first.Entries {
		paths = append(paths, e.Path)
	}
	want := []string{"metadata.a", "metadata.b", "environment.A_VAR", "environment.Z_VAR", "layers.0"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestBatchSizeRiskThreshold(t *testing.T) {
	oldSnap := snapWithEnv("img:1", map[string]string{"NIM_MAX_BATCH_SIZE": "4"})
	newSnap := snapWithEnv("img:2", map[string]string{"NIM_MAX_BATCH_SIZE": "8"})

	t.Run("ratio above threshold is breaking", func(t *testing.T) {
		report, err := testEngine(t, 1.5).BuildDiff(oldSnap, newSnap)
		if err != nil {
			t.Fatalf("BuildDiff: %v", err)
		}
		if len(report.Entries) != 1 {
			t.Fatalf("entries = %v, want one", report.Entries)
		}
		entry := report.Entries[0]
		if entry.Operation != OpModified || entry.Category != CategoryEnvironment {
			t.Errorf("entry = %+v", entry)
		}
		if entry.Severity != SeverityWarning {
			t.Errorf("severity = %v, want warning", entry.Severity)
		}
		if !entry.Breaking {
			t.Error("doubling batch size above threshold should be breaking")
		}
	})

	t.Run("ratio below threshold is not breaking", func(t *testing.T) {
		report, err := testEngine(t, 3.0).BuildDiff(oldSnap, newSnap)
		if err != nil {
			t.Fatalf("BuildDiff: %v", err)
		}
		entry := report.Entries[0]
		if entry.Breaking {
			t.Error("ratio 2.0 under threshold 3.0 should not be breaking")
		}
		if entry.Severity != SeverityWarning {
			t.Errorf("severity = %v, want warning", entry.Severity)
		}
	})
}

func TestClassifierRules(t *testing.T) {
	engine := testEngine(t, 1.5)

	t.Run("api response shape change is breaking", func(t *testing.T) {
		entries := engine.Classify([]DiffEntry{{
			Path: "api.endpoints.completions.type", OldValue: "object", NewValue: "array", Operation: OpModified,
		}})
		if !entries[0].Breaking || entries[0].Category != CategoryAPI {
			t.Errorf("entry = %+v", entries[0])
		}
	})

	t.Run("api addition is informational", func(t *testing.T) {
		entries := engine.Classify([]DiffEntry{{
			Path: "api.endpoints.embeddings.method", NewValue: "POST", Operation: OpAdded,
		}})
		if entries[0].Breaking || entries[0].Severity != SeverityInfo {
			t.Errorf("entry = %+v", entries[0])
		}
	})

	t.Run("unknown env var is info and never breaking", func(t *testing.T) {
		entries := engine.Classify([]DiffEntry{{
			Path: "environment.MY_CUSTOM_FLAG", OldValue: "1", NewValue: "100", Operation: OpModified,
		}})
		if entries[0].Breaking || entries[0].Severity != SeverityInfo {
			t.Errorf("entry = %+v", entries[0])
		}
	})

	t.Run("stricter resource requirement is breaking", func(t *testing.T) {
		entries := engine.Classify([]DiffEntry{{
			Path: "resources.driver_version_min", OldValue: "525.60", NewValue: "535.104.05", Operation: OpModified,
		}})
		if !entries[0].Breaking || entries[0].Category != CategoryRequirement {
			t.Errorf("entry = %+v", entries[0])
		}
	})

	t.Run("relaxed resource requirement is not breaking", func(t *testing.T) {
		entries := engine.Classify([]DiffEntry{{
			Path: "resources.min_gpu_memory_gb", OldValue: float64(40), NewValue: float64(24), Operation: OpModified,
		}})
		if entries[0].Breaking {
			t.Errorf("entry = %+v", entries[0])
		}
	})

	t.Run("metadata never breaking", func(t *testing.T) {
		entries := engine.Classify([]DiffEntry{{
			Path: "metadata.labels.maintainer", OldValue: "a", NewValue: "b", Operation: OpModified,
		}})
		if entries[0].Breaking || entries[0].Category != CategoryMetadata {
			t.Errorf("entry = %+v", entries[0])
		}
	})

	t.Run("classification is deterministic", func(t *testing.T) {
		in := []DiffEntry{{Path: "environment.NIM_MAX_BATCH_SIZE", OldValue: "4", NewValue: "16", Operation: OpModified}}
		first := engine.Classify(in)
		second := engine.Classify(in)
		if !reflect.DeepEqual(first, second) {
			t.Error("classification differs between runs")
		}
	})
}

func TestBuildDiffInvalidSnapshot(t *testing.T) {
	valid := snapWithEnv("img:1", nil)
	if _, err := testEngine(t, 0).BuildDiff(valid, &snapshot.Snapshot{}); !errors.Is(err, snapshot.ErrInvalidSnapshot) {
		t.Errorf("err = %v, want ErrInvalidSnapshot", err)
	}
}

func TestReportTotals(t *testing.T) {
	oldSnap := &snapshot.Snapshot{
		Reference:   "img:1",
		Environment: map[string]string{"NIM_MAX_BATCH_SIZE": "4"},
		Metadata:    map[string]any{"tag": "1.0"},
	}
	newSnap := &snapshot.Snapshot{
		Reference:   "img:2",
		Environment: map[string]string{"NIM_MAX_BATCH_SIZE": "32"},
		Metadata:    map[string]any{"tag": "2.0"},
	}
	report, err := testEngine(t, 1.5).BuildDiff(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("BuildDiff: %v", err)
	}
	if report.TotalsByCategory[CategoryEnvironment] != 1 || report.TotalsByCategory[CategoryMetadata] != 1 {
		t.Errorf("totals = %v", report.TotalsByCategory)
	}
	if report.BreakingCount != 1 {
		t.Errorf("breaking count = %d, want 1", report.BreakingCount)
	}
	if !report.HasBreaking() {
		t.Error("HasBreaking should be true")
	}
}
