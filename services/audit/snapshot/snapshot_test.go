// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package snapshot

import (
	"errors"
	"reflect"
	"testing"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Reference: "nvcr.io/nim/llama3:1.5.0",
		Metadata: map[string]any{
			"model_name":    "llama3",
			"model_version": "1.5.0",
			"labels": map[string]any{
				"com.nvidia.nim.version": "1.5.0",
			},
		},
		Environment: map[string]string{
			"NIM_MAX_BATCH_SIZE": "32",
			"NIM_LOG_LEVEL":      "INFO",
		},
		API: map[string]any{
			"ports": []any{float64(8000)},
			"endpoints": map[string]any{
				"/v1/chat/completions": map[string]any{
					"method": "POST",
				},
			},
		},
		Resources: map[string]any{
			"min_gpu_memory_gb":  float64(24),
			"driver_version_min": "535.104.05",
		},
		Layers: []string{"sha256:aaa", "sha256:bbb"},
	}
}

func TestFlattenDeterministic(t *testing.T) {
	snap := sampleSnapshot()

	first, err := Flatten(snap)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	second, err := Flatten(snap)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Flatten is not deterministic across calls")
	}
}

func TestFlattenOrdering(t *testing.T) {
	fields, err := Flatten(sampleSnapshot())
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}

	lastRank := -1
	for _, f := range fields {
		rank := DomainRank(f.Path[0])
		if rank < lastRank {
			t.Fatalf("domain order violated at %s", f.Key())
		}
		lastRank = rank
	}

	t.Run("environment keys sorted", func(t *testing.T) {
		var envKeys []string
		for _, f := range fields {
			if f.Path[0] == DomainEnvironment {
				envKeys = append(envKeys, f.Path[1])
			}
		}
		want := []string{"NIM_LOG_LEVEL", "NIM_MAX_BATCH_SIZE"}
		if !reflect.DeepEqual(envKeys, want) {
			t.Errorf("environment keys = %v, want %v", envKeys, want)
		}
	})

	t.Run("layers keep positional index", func(t *testing.T) {
		var layers []string
		for _, f := range fields {
			if f.Path[0] == DomainLayers {
				layers = append(layers, f.Key())
			}
		}
		want := []string{"layers.0", "layers.1"}
		if !reflect.DeepEqual(layers, want) {
			t.Errorf("layer paths = %v, want %v", layers, want)
		}
	})
}

func TestFlattenUniqueKeys(t *testing.T) {
	fields, err := Flatten(sampleSnapshot())
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		key := f.Key()
		if seen[key] {
			t.Errorf("duplicate flattened key %q", key)
		}
		seen[key] = true
	}
}

func TestFlattenNormalizesNumbers(t *testing.T) {
	snap := &Snapshot{
		Reference: "test:1",
		Metadata: map[string]any{
			"int_value":   42,
			"float_value": 3.5,
		},
	}
	fields, err := Flatten(snap)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	for _, f := range fields {
		if f.Kind != KindNumber {
			t.Errorf("%s: kind = %v, want number", f.Key(), f.Kind)
		}
		if _, ok := f.Value.(float64); !ok {
			t.Errorf("%s: value type = %T, want float64", f.Key(), f.Value)
		}
	}
}

func TestFlattenInvalid(t *testing.T) {
	t.Run("nil snapshot", func(t *testing.T) {
		if _, err := Flatten(nil); !errors.Is(err, ErrInvalidSnapshot) {
			t.Errorf("err = %v, want ErrInvalidSnapshot", err)
		}
	})

	t.Run("empty reference", func(t *testing.T) {
		if _, err := Flatten(&Snapshot{}); !errors.Is(err, ErrInvalidSnapshot) {
			t.Errorf("err = %v, want ErrInvalidSnapshot", err)
		}
	})

	t.Run("unsupported value type", func(t *testing.T) {
		snap := &Snapshot{
			Reference: "test:1",
			Metadata:  map[string]any{"bad": make(chan int)},
		}
		if _, err := Flatten(snap); !errors.Is(err, ErrInvalidSnapshot) {
			t.Errorf("err = %v, want ErrInvalidSnapshot", err)
		}
	})

	t.Run("excessive depth", func(t *testing.T) {
		leaf := map[string]any{"v": "x"}
		node := any(leaf)
		for i := 0; i < 40; i++ {
			node = map[string]any{"n": node}
		}
		snap := &Snapshot{Reference: "test:1", Metadata: map[string]any{"deep": node}}
		if _, err := Flatten(snap); !errors.Is(err, ErrInvalidSnapshot) {
			t.Errorf("err = %v, want ErrInvalidSnapshot", err)
		}
	})
}
