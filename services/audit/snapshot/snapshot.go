// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package snapshot defines the normalized, immutable representation of an
// inference-container artifact that every audit component reads.
//
// # Description
//
// A Snapshot is produced once by an extractor (registry, local daemon, or
// saved file) and never mutated afterwards. It groups the artifact's
// observable surface into five domains: metadata, environment, api,
// resources, and layers. The Flatten function turns that tree into an
// ordered sequence of addressable (path, value) pairs, which is the
// substrate both the diff engine and the policy evaluator operate on.
//
// # Thread Safety
//
// Snapshots are treated as immutable after construction and are safe to
// share across goroutines.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Domain names, in the fixed traversal order used by Flatten.
const (
	DomainMetadata    = "metadata"
	DomainEnvironment = "environment"
	DomainAPI         = "api"
	DomainResources   = "resources"
	DomainLayers      = "layers"
)

// maxDepth bounds tree traversal so a malformed (self-referential or
// absurdly nested) snapshot is rejected instead of recursing forever.
const maxDepth = 32

// ErrInvalidSnapshot is returned when a snapshot is not a well-formed
// tree at all. It is the only fatal input condition in the audit core.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Snapshot is the normalized view of one artifact version.
//
// Values inside the domain maps are restricted to the JSON-like subset:
// string, float64, bool, nil, map[string]any, and []any. Integer types
// are accepted and normalized to float64 during flattening.
type Snapshot struct {
	// Reference is the source reference string, e.g. "nvcr.io/nim/llama3:1.5.0".
	Reference string `json:"reference"`

	// Metadata holds identity and build information (labels, tag,
	// architecture, model name/version, quantization).
	Metadata map[string]any `json:"metadata,omitempty"`

	// Environment holds the artifact's default environment variables.
	Environment map[string]string `json:"environment,omitempty"`

	// API describes the exposed API surface (ports, entrypoint, cmd,
	// endpoint schemas where known).
	API map[string]any `json:"api,omitempty"`

	// Resources holds declared hardware/driver requirements.
	Resources map[string]any `json:"resources,omitempty"`

	// Layers is the ordered list of layer digests.
	Layers []string `json:"layers,omitempty"`

	// Created is the artifact build timestamp, when known.
	Created time.Time `json:"created,omitempty"`
}

// Kind classifies a flattened scalar value.
type Kind int

const (
	// KindAbsent marks a null value or a path missing from one side of a diff.
	KindAbsent Kind = iota

	// KindString is a textual scalar.
	KindString

	// KindNumber is a numeric scalar, normalized to float64.
	KindNumber

	// KindBool is a boolean scalar.
	KindBool
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "absent"
	}
}

// FlatField is one addressable leaf of a flattened snapshot.
type FlatField struct {
	// Path is the ordered segment sequence, starting with the domain.
	Path []string

	// Value is the scalar at the path: string, float64, bool, or nil.
	Value any

	// Kind classifies Value.
	Kind Kind
}

// Key returns the canonical dotted form of the path, used as the unique
// lookup key within one flattened snapshot.
func (f FlatField) Key() string {
	return strings.Join(f.Path, ".")
}

// Validate rejects snapshots that are not well-formed trees. A nil
// receiver, an empty reference, or a domain value outside the supported
// type set all surface as ErrInvalidSnapshot.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	if strings.TrimSpace(s.Reference) == "" {
		return fmt.Errorf("%w: empty reference", ErrInvalidSnapshot)
	}
	for _, dom := range []map[string]any{s.Metadata, s.API, s.Resources} {
		for key, val := range dom {
			if err := checkValue(val, 0); err != nil {
				return fmt.Errorf("%w: field %q: %v", ErrInvalidSnapshot, key, err)
			}
		}
	}
	return nil
}

func checkValue(v any, depth int) error {
	if depth > maxDepth {
		return errors.New("tree exceeds maximum depth")
	}
	switch val := v.(type) {
	case nil, string, bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case map[string]any:
		for _, child := range val {
			if err := checkValue(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, child := range val {
			if err := checkValue(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	case []string:
		return nil
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
}

// Flatten converts a snapshot into its ordered flat-field sequence.
//
// # Description
//
// Traversal is deterministic: domains in the fixed order metadata,
// environment, api, resources, layers; map keys lexicographically within
// each level; sequence elements by positional index. Positional shifts in
// a sequence therefore show up as per-index modifications, which keeps
// every field path-addressable from rule expressions.
//
// # Outputs
//
//   - []FlatField: ordered fields; paths are unique within the result.
//   - error: ErrInvalidSnapshot when the tree is not well formed.
func Flatten(s *Snapshot) ([]FlatField, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	fields := make([]FlatField, 0, 64)

	fields = appendTree(fields, []string{DomainMetadata}, mapToAny(s.Metadata))

	envKeys := sortedKeys(s.Environment)
	for _, k := range envKeys {
		fields = append(fields, scalarField([]string{DomainEnvironment, k}, s.Environment[k]))
	}

	fields = appendTree(fields, []string{DomainAPI}, mapToAny(s.API))
	fields = appendTree(fields, []string{DomainResources}, mapToAny(s.Resources))

	for i, digest := range s.Layers {
		fields = append(fields, scalarField([]string{DomainLayers, strconv.Itoa(i)}, digest))
	}

	return fields, nil
}

func appendTree(fields []FlatField, prefix []string, node map[string]any) []FlatField {
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := append(append([]string{}, prefix...), k)
		fields = appendValue(fields, path, node[k])
	}
	return fields
}

func appendValue(fields []FlatField, path []string, v any) []FlatField {
	switch val := v.(type) {
	case map[string]any:
		return appendTree(fields, path, val)
	case []any:
		for i, elem := range val {
			elemPath := append(append([]string{}, path...), strconv.Itoa(i))
			fields = appendValue(fields, elemPath, elem)
		}
		return fields
	case []string:
		for i, elem := range val {
			elemPath := append(append([]string{}, path...), strconv.Itoa(i))
			fields = append(fields, scalarField(elemPath, elem))
		}
		return fields
	default:
		return append(fields, scalarField(path, v))
	}
}

func scalarField(path []string, v any) FlatField {
	switch val := v.(type) {
	case nil:
		return FlatField{Path: path, Value: nil, Kind: KindAbsent}
	case string:
		return FlatField{Path: path, Value: val, Kind: KindString}
	case bool:
		return FlatField{Path: path, Value: val, Kind: KindBool}
	case float64:
		return FlatField{Path: path, Value: val, Kind: KindNumber}
	case float32:
		return FlatField{Path: path, Value: float64(val), Kind: KindNumber}
	case int:
		return FlatField{Path: path, Value: float64(val), Kind: KindNumber}
	case int64:
		return FlatField{Path: path, Value: float64(val), Kind: KindNumber}
	case int32:
		return FlatField{Path: path, Value: float64(val), Kind: KindNumber}
	case uint64:
		return FlatField{Path: path, Value: float64(val), Kind: KindNumber}
	default:
		// Validate has already rejected anything truly unsupported;
		// remaining integer widths stringify safely.
		return FlatField{Path: path, Value: fmt.Sprint(val), Kind: KindString}
	}
}

func mapToAny(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DomainRank returns the position of a domain in the fixed traversal
// order. Unknown domains sort after the known ones.
func DomainRank(domain string) int {
	switch domain {
	case DomainMetadata:
		return 0
	case DomainEnvironment:
		return 1
	case DomainAPI:
		return 2
	case DomainResources:
		return 3
	case DomainLayers:
		return 4
	default:
		return 5
	}
}
