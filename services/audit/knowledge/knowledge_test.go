// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvRegistry(t *testing.T) {
	reg, err := LoadEnvRegistry()
	require.NoError(t, err)

	t.Run("known variable with directional impact", func(t *testing.T) {
		info, ok := reg.Lookup("NIM_MAX_BATCH_SIZE")
		require.True(t, ok, "NIM_MAX_BATCH_SIZE not registered")
		assert.Equal(t, DirectionIncreasing, info.Impact(MetricMemory))
		assert.NotEmpty(t, info.FailureModes)
	})

	t.Run("unknown variable", func(t *testing.T) {
		_, ok := reg.Lookup("NIM_NOT_A_REAL_VAR")
		assert.False(t, ok, "unknown variable should not resolve")
	})

	t.Run("unlisted metric has no impact", func(t *testing.T) {
		info, ok := reg.Lookup("NIM_LOG_LEVEL")
		require.True(t, ok)
		assert.Equal(t, DirectionNone, info.Impact(MetricMemory))
	})

	t.Run("deprecated variable carries replacement", func(t *testing.T) {
		info, ok := reg.Lookup("NIM_BATCH_SIZE")
		require.True(t, ok, "NIM_BATCH_SIZE not registered")
		assert.True(t, info.Deprecated)
		assert.NotEmpty(t, info.DeprecatedMessage)
	})

	t.Run("names are sorted", func(t *testing.T) {
		names := reg.Names()
		require.NotEmpty(t, names)
		assert.IsIncreasing(t, names)
	})
}

func TestLoadGPUMatrix(t *testing.T) {
	matrix, err := LoadGPUMatrix()
	require.NoError(t, err)

	spec, ok := matrix.Lookup("H100")
	require.True(t, ok, "H100 not in matrix")
	assert.Equal(t, "9.0", spec.ComputeCapability)
	assert.Equal(t, float64(80), spec.MemoryGB)

	t.Run("known broken driver", func(t *testing.T) {
		assert.True(t, matrix.IsKnownBrokenDriver("H100", "535.86.05"))
		assert.False(t, matrix.IsKnownBrokenDriver("H100", "535.104.05"))
		assert.False(t, matrix.IsKnownBrokenDriver("NO-SUCH-GPU", "535.86.05"),
			"unknown GPU has no broken set")
	})

	t.Run("platform minimum is set", func(t *testing.T) {
		assert.NotEmpty(t, matrix.Minimum.DriverVersion)
		assert.Greater(t, matrix.Minimum.MemoryGB, float64(0))
	})
}

func TestLoadProfiles(t *testing.T) {
	profiles, err := LoadProfiles()
	require.NoError(t, err)

	for _, key := range []string{"high-throughput", "low-latency", "memory-efficient", "balanced", "development", "multi-gpu", "cost-optimized"} {
		_, ok := profiles.Lookup(key)
		assert.True(t, ok, "profile %q missing", key)
	}

	prof, ok := profiles.Lookup("high-throughput")
	require.True(t, ok)
	assert.Equal(t, "32", prof.Env["NIM_MAX_BATCH_SIZE"])
}

func TestSuggestProfile(t *testing.T) {
	cases := []struct {
		name        string
		modelSizeGB float64
		gpuMemoryGB float64
		priority    string
		want        string
	}{
		{"memory pressure overrides priority", 70, 80, "throughput", "memory-efficient"},
		{"throughput priority", 10, 80, "throughput", "high-throughput"},
		{"latency priority", 10, 80, "latency", "low-latency"},
		{"memory priority", 10, 80, "memory", "memory-efficient"},
		{"default", 10, 80, "balanced", "balanced"},
		{"unknown priority falls back", 10, 80, "speed", "balanced"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SuggestProfile(tc.modelSizeGB, tc.gpuMemoryGB, tc.priority)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRecommendedGPUsForModelSize(t *testing.T) {
	got := RecommendedGPUsForModelSize(70)
	require.NotEmpty(t, got)
	assert.Equal(t, "H100", got[0])

	small := RecommendedGPUsForModelSize(3)
	require.NotEmpty(t, small)
	assert.Equal(t, "L4", small[0])
}
