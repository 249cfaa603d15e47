// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ashzak/nim-audit/services/audit/snapshot"
)

// FileExtractor reads snapshots previously saved with SaveSnapshot.
// It claims references that look like paths on disk.
type FileExtractor struct{}

// Name implements Extractor.
func (f *FileExtractor) Name() string { return "file" }

// CanExtract implements Extractor.
func (f *FileExtractor) CanExtract(ref string) bool {
	return strings.HasSuffix(ref, ".json") || strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "/")
}

// Extract implements Extractor.
func (f *FileExtractor) Extract(ctx context.Context, ref string) (*snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("read snapshot %s: %w", ref, err)
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", ref, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveSnapshot writes a snapshot to disk in the format FileExtractor
// reads back.
func SaveSnapshot(snap *snapshot.Snapshot, path string) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}
