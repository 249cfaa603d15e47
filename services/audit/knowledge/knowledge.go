// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package knowledge holds the embedded reference tables the audit core
// consumes as read-only lookup data: the environment-variable impact
// registry, the GPU compatibility matrix, and the tuned deployment
// profiles. The tables ship inside the binary so audits work offline.
package knowledge

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed data/env_registry.yaml
var envRegistryYAML []byte

//go:embed data/gpu_matrix.yaml
var gpuMatrixYAML []byte

//go:embed data/profiles.yaml
var profilesYAML []byte

// Direction describes how raising a variable's value moves a metric.
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionNone       Direction = "none"
)

// Metric names used as keys in EnvVarInfo.Impacts.
const (
	MetricThroughput = "throughput"
	MetricLatency    = "latency"
	MetricMemory     = "memory"
	MetricStability  = "stability"
)

// EnvVarInfo is one registry entry describing a known environment variable.
type EnvVarInfo struct {
	Description       string               `yaml:"description" validate:"required"`
	Default           string               `yaml:"default"`
	Type              string               `yaml:"type" validate:"required,oneof=string integer float bool enum"`
	ValidValues       []string             `yaml:"valid_values"`
	Required          bool                 `yaml:"required"`
	Deprecated        bool                 `yaml:"deprecated"`
	DeprecatedMessage string               `yaml:"deprecated_message"`
	Impacts           map[string]Direction `yaml:"impacts" validate:"required"`
	FailureModes      []string             `yaml:"failure_modes"`
}

// Impact returns the registered direction for a metric, DirectionNone
// when the metric is not listed.
func (v EnvVarInfo) Impact(metric string) Direction {
	if d, ok := v.Impacts[metric]; ok {
		return d
	}
	return DirectionNone
}

// EnvRegistry maps variable names to their registered knowledge.
type EnvRegistry struct {
	Variables map[string]EnvVarInfo `yaml:"variables" validate:"required,dive"`
}

// Lookup returns the entry for an exact variable name. Unknown names are
// not an error; callers treat them as unknown impact.
func (r *EnvRegistry) Lookup(name string) (EnvVarInfo, bool) {
	if r == nil {
		return EnvVarInfo{}, false
	}
	info, ok := r.Variables[name]
	return info, ok
}

// Names returns all registered variable names in sorted order.
func (r *EnvRegistry) Names() []string {
	names := make([]string, 0, len(r.Variables))
	for name := range r.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GPUSpec describes one GPU model in the compatibility matrix.
type GPUSpec struct {
	Architecture       string   `yaml:"architecture" validate:"required"`
	ComputeCapability  string   `yaml:"compute_capability" validate:"required"`
	MemoryGB           float64  `yaml:"memory_gb" validate:"required,gt=0"`
	TensorCores        bool     `yaml:"tensor_cores"`
	FP8Support         bool     `yaml:"fp8_support"`
	RecommendedFor     []string `yaml:"recommended_for"`
	KnownBrokenDrivers []string `yaml:"known_broken_drivers"`
}

// MinRequirements is the platform-wide floor every deployment must meet.
type MinRequirements struct {
	ComputeCapability      string  `yaml:"compute_capability"`
	MemoryGB               float64 `yaml:"memory_gb"`
	DriverVersion          string  `yaml:"driver_version"`
	CUDAVersion            string  `yaml:"cuda_version"`
	TensorCoresRecommended bool    `yaml:"tensor_cores_recommended"`
}

// GPUMatrix is the full hardware knowledge table.
type GPUMatrix struct {
	Minimum MinRequirements    `yaml:"minimum"`
	GPUs    map[string]GPUSpec `yaml:"gpus" validate:"required,dive"`
}

// Lookup returns the spec for an exact GPU model name.
func (m *GPUMatrix) Lookup(model string) (GPUSpec, bool) {
	if m == nil {
		return GPUSpec{}, false
	}
	spec, ok := m.GPUs[model]
	return spec, ok
}

// IsKnownBrokenDriver reports whether the driver version is in the
// recorded broken set for the given GPU model. An unknown model has no
// broken set.
func (m *GPUMatrix) IsKnownBrokenDriver(model, driverVersion string) bool {
	spec, ok := m.Lookup(model)
	if !ok {
		return false
	}
	for _, broken := range spec.KnownBrokenDrivers {
		if broken == driverVersion {
			return true
		}
	}
	return false
}

// Models returns all known GPU model names in sorted order.
func (m *GPUMatrix) Models() []string {
	models := make([]string, 0, len(m.GPUs))
	for model := range m.GPUs {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// ProfileRequirements describes what a profile needs from the hardware.
type ProfileRequirements struct {
	MinGPUs         int      `yaml:"min_gpus"`
	MinMemoryGB     float64  `yaml:"min_memory_gb"`
	RecommendedGPUs []string `yaml:"recommended_gpus"`
}

// Profile is one tuned deployment configuration.
type Profile struct {
	Name         string              `yaml:"name" validate:"required"`
	Description  string              `yaml:"description" validate:"required"`
	UseCase      string              `yaml:"use_case"`
	Env          map[string]string   `yaml:"env" validate:"required"`
	Requirements ProfileRequirements `yaml:"requirements"`
}

// ProfileSet is the full catalog of tuned profiles.
type ProfileSet struct {
	Profiles map[string]Profile `yaml:"profiles" validate:"required,dive"`
}

// Lookup returns the profile registered under the given key.
func (p *ProfileSet) Lookup(key string) (Profile, bool) {
	if p == nil {
		return Profile{}, false
	}
	prof, ok := p.Profiles[key]
	return prof, ok
}

// Keys returns all profile keys in sorted order.
func (p *ProfileSet) Keys() []string {
	keys := make([]string, 0, len(p.Profiles))
	for key := range p.Profiles {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var (
	loadOnce    sync.Once
	loadErr     error
	envRegistry *EnvRegistry
	gpuMatrix   *GPUMatrix
	profileSet  *ProfileSet
)

func loadAll() {
	validate := validator.New()

	var reg EnvRegistry
	if err := yaml.Unmarshal(envRegistryYAML, &reg); err != nil {
		loadErr = fmt.Errorf("parse env registry: %w", err)
		return
	}
	if err := validate.Struct(&reg); err != nil {
		loadErr = fmt.Errorf("validate env registry: %w", err)
		return
	}

	var matrix GPUMatrix
	if err := yaml.Unmarshal(gpuMatrixYAML, &matrix); err != nil {
		loadErr = fmt.Errorf("parse gpu matrix: %w", err)
		return
	}
	if err := validate.Struct(&matrix); err != nil {
		loadErr = fmt.Errorf("validate gpu matrix: %w", err)
		return
	}

	var profiles ProfileSet
	if err := yaml.Unmarshal(profilesYAML, &profiles); err != nil {
		loadErr = fmt.Errorf("parse profiles: %w", err)
		return
	}
	if err := validate.Struct(&profiles); err != nil {
		loadErr = fmt.Errorf("validate profiles: %w", err)
		return
	}

	envRegistry = &reg
	gpuMatrix = &matrix
	profileSet = &profiles
}

// LoadEnvRegistry parses and returns the embedded env-var registry.
// The result is cached after the first call.
func LoadEnvRegistry() (*EnvRegistry, error) {
	loadOnce.Do(loadAll)
	if loadErr != nil {
		return nil, loadErr
	}
	return envRegistry, nil
}

// LoadGPUMatrix parses and returns the embedded GPU matrix.
func LoadGPUMatrix() (*GPUMatrix, error) {
	loadOnce.Do(loadAll)
	if loadErr != nil {
		return nil, loadErr
	}
	return gpuMatrix, nil
}

// LoadProfiles parses and returns the embedded profile catalog.
func LoadProfiles() (*ProfileSet, error) {
	loadOnce.Do(loadAll)
	if loadErr != nil {
		return nil, loadErr
	}
	return profileSet, nil
}

// SuggestProfile picks a profile key for the given model footprint and
// optimization priority. Priority is one of "throughput", "latency",
// "memory", or "balanced". A model that nearly fills GPU memory always
// routes to memory-efficient regardless of priority.
func SuggestProfile(modelSizeGB, gpuMemoryGB float64, priority string) string {
	if gpuMemoryGB > 0 && modelSizeGB/gpuMemoryGB > 0.8 {
		return "memory-efficient"
	}
	switch priority {
	case "throughput":
		return "high-throughput"
	case "latency":
		return "low-latency"
	case "memory":
		return "memory-efficient"
	default:
		return "balanced"
	}
}

// RecommendedGPUsForModelSize returns GPU model names suited to a model
// of the given parameter count, largest-first.
func RecommendedGPUsForModelSize(paramsBillions float64) []string {
	switch {
	case paramsBillions >= 70:
		return []string{"H100", "H200", "A100-80GB"}
	case paramsBillions >= 30:
		return []string{"H100", "A100-80GB", "A100-40GB", "L40S"}
	case paramsBillions >= 13:
		return []string{"A100", "L40", "L40S", "A10", "A40"}
	case paramsBillions >= 7:
		return []string{"A100", "L40", "A10", "L4", "T4"}
	default:
		return []string{"L4", "T4", "A10", "L40"}
	}
}
