// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry turns artifact references into normalized snapshots.
//
// # Description
//
// The audit core depends only on the Extractor interface; concrete
// extractors cover the local Docker daemon and previously saved
// snapshot files. A caching wrapper memoizes extraction so a diff of
// two tags of the same image inspects each side once.
package registry

import (
	"context"
	"errors"
	"strings"

	"github.com/ashzak/nim-audit/services/audit/snapshot"
)

// ErrNotFound is returned when the referenced artifact does not exist
// at the source.
var ErrNotFound = errors.New("image not found")

// Extractor builds a snapshot from a reference string.
type Extractor interface {
	// Name identifies the extractor in logs and errors.
	Name() string

	// CanExtract reports whether this extractor understands the
	// reference without performing the extraction.
	CanExtract(ref string) bool

	// Extract builds the snapshot. The returned snapshot is valid per
	// snapshot.Validate or an error is returned instead.
	Extract(ctx context.Context, ref string) (*snapshot.Snapshot, error)
}

// Resolve picks the first extractor claiming the reference and runs it.
func Resolve(ctx context.Context, ref string, extractors ...Extractor) (*snapshot.Snapshot, error) {
	for _, ex := range extractors {
		if ex.CanExtract(ref) {
			return ex.Extract(ctx, ref)
		}
	}
	return nil, errors.New("no extractor accepts reference " + ref)
}

// Reference is a parsed image reference.
type Reference struct {
	Registry   string
	Repository string
	Tag        string
	Digest     string
}

// ParseReference splits an image reference into its components. Parsing
// is permissive; a bare name yields just a repository.
func ParseReference(ref string) Reference {
	var out Reference

	if i := strings.LastIndexByte(ref, '@'); i >= 0 {
		out.Digest = ref[i+1:]
		ref = ref[:i]
	}
	if i := strings.LastIndexByte(ref, ':'); i >= 0 && !strings.ContainsRune(ref[i+1:], '/') {
		out.Tag = ref[i+1:]
		ref = ref[:i]
	}

	parts := strings.Split(ref, "/")
	switch {
	case len(parts) == 1:
		out.Repository = parts[0]
	case len(parts) == 2 && (strings.ContainsAny(parts[0], ".:") || parts[0] == "localhost"):
		out.Registry = parts[0]
		out.Repository = parts[1]
	case len(parts) == 2:
		out.Repository = ref
	default:
		out.Registry = parts[0]
		out.Repository = strings.Join(parts[1:], "/")
	}
	return out
}
