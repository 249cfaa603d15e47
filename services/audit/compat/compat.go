// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package compat matches an image's declared hardware requirements
// against a deployment target.
//
// # Description
//
// Comparison is one-directional: the target must meet or exceed every
// requirement field that is present. An absent requirement imposes no
// constraint and does not appear in the per-field results at all, so a
// report lists exactly the constraints the image actually declared.
// Driver versions carry one extra check beyond numeric ordering: a
// driver recorded as broken for the target GPU fails regardless of how
// new it is.
//
// # Thread Safety
//
// A Checker holds only the read-only GPU matrix and is safe for
// concurrent use.
package compat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ashzak/nim-audit/services/audit/knowledge"
	"github.com/ashzak/nim-audit/services/audit/snapshot"
	"github.com/ashzak/nim-audit/services/audit/vercmp"
)

// Requirement is the constraint set an image declares. Zero-valued
// fields mean the image declares nothing for that dimension.
type Requirement struct {
	ComputeCapabilityMin string   `json:"compute_capability_min,omitempty"`
	MemoryGBMin          float64  `json:"memory_gb_min,omitempty"`
	DriverVersionMin     string   `json:"driver_version_min,omitempty"`
	SupportedGPUModels   []string `json:"supported_gpu_models,omitempty"`
}

// TargetProfile describes the deployment hardware being validated.
type TargetProfile struct {
	GPUModel          string  `json:"gpu_model,omitempty"`
	ComputeCapability string  `json:"compute_capability,omitempty"`
	MemoryGB          float64 `json:"memory_gb,omitempty"`
	DriverVersion     string  `json:"driver_version,omitempty"`
}

// FieldResult is the outcome of one requirement dimension.
type FieldResult struct {
	Field    string `json:"field"`
	Required string `json:"required"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Reason   string `json:"reason,omitempty"`
}

// Report is the full compatibility verdict.
type Report struct {
	Reference  string        `json:"reference,omitempty"`
	Compatible bool          `json:"compatible"`
	Fields     []FieldResult `json:"fields"`
	// Recommendations suggest remediations for failed fields.
	Recommendations []string `json:"recommendations,omitempty"`
}

// Checker validates requirements against target profiles.
type Checker struct {
	matrix *knowledge.GPUMatrix
}

// NewChecker builds a checker over the given GPU matrix. A nil matrix
// disables model enrichment and the known-broken-driver check.
func NewChecker(matrix *knowledge.GPUMatrix) *Checker {
	return &Checker{matrix: matrix}
}

// ResolveProfile fills a profile's compute capability and memory from
// the GPU matrix when the model is known and the caller left them
// unset. Explicit values always win.
func (c *Checker) ResolveProfile(profile TargetProfile) TargetProfile {
	if c.matrix == nil || profile.GPUModel == "" {
		return profile
	}
	spec, ok := c.matrix.Lookup(strings.ToUpper(profile.GPUModel))
	if !ok {
		spec, ok = c.matrix.Lookup(profile.GPUModel)
	}
	if !ok {
		return profile
	}
	if profile.ComputeCapability == "" {
		profile.ComputeCapability = spec.ComputeCapability
	}
	if profile.MemoryGB == 0 {
		profile.MemoryGB = spec.MemoryGB
	}
	return profile
}

// Check compares one requirement against one target profile. Only the
// declared requirement fields contribute results; compatible is the
// conjunction of those results.
func (c *Checker) Check(req Requirement, profile TargetProfile) *Report {
	profile = c.ResolveProfile(profile)
	report := &Report{Compatible: true}

	if req.ComputeCapabilityMin != "" {
		passed, _ := vercmp.GTE(profile.ComputeCapability, req.ComputeCapabilityMin)
		result := FieldResult{
			Field:    "compute_capability",
			Required: req.ComputeCapabilityMin,
			Actual:   profile.ComputeCapability,
			Passed:   passed,
		}
		if !passed {
			result.Reason = fmt.Sprintf("compute capability %s is below required %s", profile.ComputeCapability, req.ComputeCapabilityMin)
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("use a GPU with compute capability >= %s", req.ComputeCapabilityMin))
		}
		report.Fields = append(report.Fields, result)
	}

	if req.MemoryGBMin > 0 {
		passed := profile.MemoryGB >= req.MemoryGBMin
		result := FieldResult{
			Field:    "memory_gb",
			Required: strconv.FormatFloat(req.MemoryGBMin, 'f', -1, 64),
			Actual:   strconv.FormatFloat(profile.MemoryGB, 'f', -1, 64),
			Passed:   passed,
		}
		if !passed {
			result.Reason = fmt.Sprintf("GPU has %gGB memory but %gGB is required", profile.MemoryGB, req.MemoryGBMin)
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("use a GPU with >= %gGB memory", req.MemoryGBMin))
		}
		report.Fields = append(report.Fields, result)
	}

	if req.DriverVersionMin != "" {
		result := FieldResult{
			Field:    "driver_version",
			Required: req.DriverVersionMin,
			Actual:   profile.DriverVersion,
		}
		switch {
		case c.matrix != nil && c.matrix.IsKnownBrokenDriver(profile.GPUModel, profile.DriverVersion):
			result.Passed = false
			result.Reason = fmt.Sprintf("driver %s is recorded broken for %s", profile.DriverVersion, profile.GPUModel)
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("avoid driver %s on %s", profile.DriverVersion, profile.GPUModel))
		default:
			passed, comparable := vercmp.GTE(profile.DriverVersion, req.DriverVersionMin)
			// Unparseable driver strings assume compatible; vendor
			// builds carry suffixes the matrix cannot order.
			result.Passed = passed || !comparable
			if !result.Passed {
				result.Reason = fmt.Sprintf("driver %s is below minimum %s", profile.DriverVersion, req.DriverVersionMin)
				report.Recommendations = append(report.Recommendations,
					fmt.Sprintf("upgrade driver to >= %s", req.DriverVersionMin))
			}
		}
		report.Fields = append(report.Fields, result)
	}

	if len(req.SupportedGPUModels) > 0 {
		passed := false
		target := strings.ToUpper(profile.GPUModel)
		for _, model := range req.SupportedGPUModels {
			if strings.ToUpper(model) == target {
				passed = true
				break
			}
		}
		result := FieldResult{
			Field:    "gpu_model",
			Required: strings.Join(req.SupportedGPUModels, ","),
			Actual:   profile.GPUModel,
			Passed:   passed,
		}
		if !passed {
			result.Reason = fmt.Sprintf("GPU %s not in supported list: %s", profile.GPUModel, strings.Join(req.SupportedGPUModels, ", "))
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("deploy on one of: %s", strings.Join(req.SupportedGPUModels, ", ")))
		}
		report.Fields = append(report.Fields, result)
	}

	for _, f := range report.Fields {
		if !f.Passed {
			report.Compatible = false
			break
		}
	}
	return report
}

// CheckSnapshot extracts the requirement from a snapshot and validates
// it against the profile.
func (c *Checker) CheckSnapshot(snap *snapshot.Snapshot, profile TargetProfile) (*Report, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	report := c.Check(RequirementFromSnapshot(snap), profile)
	report.Reference = snap.Reference
	return report, nil
}

// RequirementFromSnapshot reads declared constraints out of a
// snapshot. The resources domain wins; labels and environment supply
// fallbacks for images that only declare requirements there.
func RequirementFromSnapshot(snap *snapshot.Snapshot) Requirement {
	var req Requirement

	req.ComputeCapabilityMin = stringField(snap.Resources, "compute_capability_min")
	req.MemoryGBMin = numberField(snap.Resources, "min_gpu_memory_gb")
	req.DriverVersionMin = stringField(snap.Resources, "driver_version_min")
	if models, ok := snap.Resources["supported_gpu_models"].([]any); ok {
		for _, m := range models {
			if s, ok := m.(string); ok && strings.TrimSpace(s) != "" {
				req.SupportedGPUModels = append(req.SupportedGPUModels, strings.TrimSpace(s))
			}
		}
	}

	labels, _ := snap.Metadata["labels"].(map[string]any)
	if req.ComputeCapabilityMin == "" {
		req.ComputeCapabilityMin = stringField(labels, "com.nvidia.nim.gpu.compute_capability")
	}
	if req.MemoryGBMin == 0 {
		req.MemoryGBMin = numberField(labels, "com.nvidia.nim.gpu.memory_gb")
	}
	if req.DriverVersionMin == "" {
		req.DriverVersionMin = stringField(labels, "com.nvidia.nim.driver.version")
	}
	if len(req.SupportedGPUModels) == 0 {
		for _, m := range strings.Split(stringField(labels, "com.nvidia.nim.gpu.supported"), ",") {
			if s := strings.TrimSpace(m); s != "" {
				req.SupportedGPUModels = append(req.SupportedGPUModels, s)
			}
		}
	}

	if req.MemoryGBMin == 0 {
		if v, ok := snap.Environment["NIM_GPU_MEMORY"]; ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				req.MemoryGBMin = n
			}
		}
	}
	return req
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func numberField(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
