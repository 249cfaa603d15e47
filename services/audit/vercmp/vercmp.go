// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vercmp compares dotted numeric version strings, the ordering
// used for compute capabilities and driver versions.
package vercmp

import (
	"strconv"
	"strings"
)

// Compare orders two dotted numeric versions. Shorter versions are
// padded with zero segments, so "9" equals "9.0". The boolean is false
// when either side contains a non-numeric segment; callers decide how
// to treat incomparable versions.
func Compare(a, b string) (int, bool) {
	as, aok := segments(a)
	bs, bok := segments(b)
	if !aok || !bok {
		return 0, false
	}
	for len(as) < len(bs) {
		as = append(as, 0)
	}
	for len(bs) < len(as) {
		bs = append(bs, 0)
	}
	for i := range as {
		if as[i] != bs[i] {
			if as[i] < bs[i] {
				return -1, true
			}
			return 1, true
		}
	}
	return 0, true
}

// GTE reports whether version a is at least version b. Incomparable
// inputs report false alongside ok=false.
func GTE(a, b string) (bool, bool) {
	c, ok := Compare(a, b)
	return ok && c >= 0, ok
}

func segments(v string) ([]int, bool) {
	parts := strings.Split(strings.TrimSpace(v), ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}
