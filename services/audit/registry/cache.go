// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ashzak/nim-audit/services/audit/snapshot"
)

// DefaultCacheSize bounds the snapshot cache. Snapshots are small;
// the bound mostly guards against pathological batch runs.
const DefaultCacheSize = 128

// CachingExtractor memoizes a delegate extractor by reference string.
// Snapshots are immutable, so cached values are shared rather than
// copied.
type CachingExtractor struct {
	delegate Extractor
	cache    *lru.Cache[string, *snapshot.Snapshot]
}

// NewCachingExtractor wraps a delegate with an LRU cache of the given
// size. Size values below one fall back to DefaultCacheSize.
func NewCachingExtractor(delegate Extractor, size int) (*CachingExtractor, error) {
	if size < 1 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *snapshot.Snapshot](size)
	if err != nil {
		return nil, fmt.Errorf("build snapshot cache: %w", err)
	}
	return &CachingExtractor{delegate: delegate, cache: cache}, nil
}

// Name implements Extractor.
func (c *CachingExtractor) Name() string { return c.delegate.Name() }

// CanExtract implements Extractor.
func (c *CachingExtractor) CanExtract(ref string) bool { return c.delegate.CanExtract(ref) }

// Extract returns the cached snapshot when present. Failures are not
// cached; a transient daemon error should not poison later attempts.
func (c *CachingExtractor) Extract(ctx context.Context, ref string) (*snapshot.Snapshot, error) {
	if snap, ok := c.cache.Get(ref); ok {
		return snap, nil
	}
	snap, err := c.delegate.Extract(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.cache.Add(ref, snap)
	return snap, nil
}

// Purge drops all cached snapshots.
func (c *CachingExtractor) Purge() {
	c.cache.Purge()
}
