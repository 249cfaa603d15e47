// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compat

import (
	"testing"

	"github.com/ashzak/nim-audit/services/audit/knowledge"
	"github.com/ashzak/nim-audit/services/audit/snapshot"
)

func testChecker(t *testing.T) *Checker {
	t.Helper()
	matrix, err := knowledge.LoadGPUMatrix()
	if err != nil {
		t.Fatalf("LoadGPUMatrix: %v", err)
	}
	return NewChecker(matrix)
}

func TestCheckModelAndMemory(t *testing.T) {
	req := Requirement{
		MemoryGBMin:        24,
		SupportedGPUModels: []string{"A10", "A100"},
	}
	profile := TargetProfile{
		GPUModel:      "A10",
		MemoryGB:      24,
		DriverVersion: "none-known",
	}
	report := testChecker(t).Check(req, profile)
	if !report.Compatible {
		t.Errorf("report = %+v, want compatible", report)
	}
	// Only the two declared requirements produce field results.
	if len(report.Fields) != 2 {
		t.Errorf("fields = %+v, want memory and gpu_model only", report.Fields)
	}
}

func TestCheckAbsentRequirementImposesNothing(t *testing.T) {
	report := testChecker(t).Check(Requirement{}, TargetProfile{GPUModel: "T4", MemoryGB: 16})
	if !report.Compatible || len(report.Fields) != 0 {
		t.Errorf("report = %+v, want trivially compatible with no fields", report)
	}
}

func TestCheckComputeCapability(t *testing.T) {
	checker := testChecker(t)
	req := Requirement{ComputeCapabilityMin: "8.0"}

	t.Run("capability resolved from matrix passes", func(t *testing.T) {
		report := checker.Check(req, TargetProfile{GPUModel: "H100"})
		if !report.Compatible {
			t.Errorf("H100 (9.0) should satisfy 8.0: %+v", report)
		}
	})

	t.Run("older architecture fails", func(t *testing.T) {
		report := checker.Check(req, TargetProfile{GPUModel: "T4"})
		if report.Compatible {
			t.Errorf("T4 (7.5) should not satisfy 8.0: %+v", report)
		}
		if len(report.Recommendations) == 0 {
			t.Error("failed check should carry a recommendation")
		}
	})
}

func TestCheckDriverVersion(t *testing.T) {
	checker := testChecker(t)
	req := Requirement{DriverVersionMin: "535.104.05"}

	cases := []struct {
		name    string
		profile TargetProfile
		want    bool
	}{
		{"newer driver passes", TargetProfile{GPUModel: "A10", DriverVersion: "550.54"}, true},
		{"equal driver passes", TargetProfile{GPUModel: "A10", DriverVersion: "535.104.05"}, true},
		{"older driver fails", TargetProfile{GPUModel: "A10", DriverVersion: "525.60"}, false},
		{"unparseable driver assumes compatible", TargetProfile{GPUModel: "A10", DriverVersion: "custom-build"}, true},
		{"known broken driver fails despite being newer", TargetProfile{GPUModel: "H100", DriverVersion: "535.86.05", MemoryGB: 80}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := checker.Check(req, tc.profile)
			if report.Compatible != tc.want {
				t.Errorf("compatible = %v, want %v: %+v", report.Compatible, tc.want, report)
			}
		})
	}
}

func TestCheckMemoryMonotonicity(t *testing.T) {
	checker := testChecker(t)
	req := Requirement{MemoryGBMin: 40, SupportedGPUModels: []string{"A100-40GB"}}

	failing := checker.Check(req, TargetProfile{GPUModel: "A100-40GB", MemoryGB: 24})
	if failing.Compatible {
		t.Fatal("24GB should fail a 40GB requirement")
	}

	// Raising memory with all else fixed must flip only the memory field.
	passing := checker.Check(req, TargetProfile{GPUModel: "A100-40GB", MemoryGB: 48})
	if !passing.Compatible {
		t.Errorf("48GB should pass a 40GB requirement: %+v", passing)
	}
	for _, f := range passing.Fields {
		if f.Field != "memory_gb" && !f.Passed {
			t.Errorf("unrelated field %s flipped: %+v", f.Field, f)
		}
	}
}

func TestRequirementFromSnapshot(t *testing.T) {
	t.Run("resources domain wins", func(t *testing.T) {
		snap := &snapshot.Snapshot{
			Reference: "img:1",
			Resources: map[string]any{
				"compute_capability_min": "8.0",
				"min_gpu_memory_gb":      float64(40),
				"driver_version_min":     "535.104.05",
				"supported_gpu_models":   []any{"H100", "A100"},
			},
		}
		req := RequirementFromSnapshot(snap)
		if req.ComputeCapabilityMin != "8.0" || req.MemoryGBMin != 40 {
			t.Errorf("req = %+v", req)
		}
		if len(req.SupportedGPUModels) != 2 {
			t.Errorf("models = %v", req.SupportedGPUModels)
		}
	})

	t.Run("label fallback", func(t *testing.T) {
		snap := &snapshot.Snapshot{
			Reference: "img:1",
			Metadata: map[string]any{
				"labels": map[string]any{
					"com.nvidia.nim.gpu.memory_gb": "24",
					"com.nvidia.nim.gpu.supported": "A10, A100",
				},
			},
		}
		req := RequirementFromSnapshot(snap)
		if req.MemoryGBMin != 24 {
			t.Errorf("memory = %v, want 24", req.MemoryGBMin)
		}
		if len(req.SupportedGPUModels) != 2 || req.SupportedGPUModels[0] != "A10" {
			t.Errorf("models = %v", req.SupportedGPUModels)
		}
	})

	t.Run("environment hint", func(t *testing.T) {
		snap := &snapshot.Snapshot{
			Reference:   "img:1",
			Environment: map[string]string{"NIM_GPU_MEMORY": "16"},
		}
		if req := RequirementFromSnapshot(snap); req.MemoryGBMin != 16 {
			t.Errorf("memory = %v, want 16", req.MemoryGBMin)
		}
	})
}

func TestCheckSnapshot(t *testing.T) {
	snap := &snapshot.Snapshot{
		Reference: "nvcr.io/nim/llama3:1.5.0",
		Resources: map[string]any{"min_gpu_memory_gb": float64(24)},
	}
	report, err := testChecker(t).CheckSnapshot(snap, TargetProfile{GPUModel: "L4"})
	if err != nil {
		t.Fatalf("CheckSnapshot: %v", err)
	}
	if !report.Compatible || report.Reference != snap.Reference {
		t.Errorf("report = %+v", report)
	}

	if _, err := testChecker(t).CheckSnapshot(&snapshot.Snapshot{}, TargetProfile{}); err == nil {
		t.Error("invalid snapshot should be rejected")
	}
}
