// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vercmp

import "testing"

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b   string
		want   int
		wantOK bool
	}{
		{"9.0", "8.6", 1, true},
		{"8.6", "9.0", -1, true},
		{"9", "9.0", 0, true},
		{"535.104.05", "535.104", 1, true},
		{"535.104.05", "535.104.05", 0, true},
		{"525.60", "535.104.05", -1, true},
		{"none-known", "1.0", 0, false},
		{"1.0", "", 0, false},
	}
	for _, tc := range cases {
		got, ok := Compare(tc.a, tc.b)
		if ok != tc.wantOK || (ok && got != tc.want) {
			t.Errorf("Compare(%q, %q) = %d, %v; want %d, %v", tc.a, tc.b, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestGTE(t *testing.T) {
	if got, ok := GTE("9.0", "8.0"); !ok || !got {
		t.Errorf("GTE(9.0, 8.0) = %v, %v", got, ok)
	}
	if got, ok := GTE("7.5", "8.0"); !ok || got {
		t.Errorf("GTE(7.5, 8.0) = %v, %v", got, ok)
	}
	if _, ok := GTE("abc", "8.0"); ok {
		t.Error("non-numeric version should not be comparable")
	}
}
