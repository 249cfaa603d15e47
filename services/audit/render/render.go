// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package render formats audit reports for terminals, machines, and
// documents. The core produces plain report structures; everything
// presentational lives here.
package render

import (
	"fmt"

	"github.com/ashzak/nim-audit/services/audit/compat"
	"github.com/ashzak/nim-audit/services/audit/diffengine"
	"github.com/ashzak/nim-audit/services/audit/fingerprint"
	"github.com/ashzak/nim-audit/services/audit/policy"
)

// Renderer converts reports to display bytes.
type Renderer interface {
	RenderDiff(report *diffengine.Report) ([]byte, error)
	RenderLint(report *policy.LintReport) ([]byte, error)
	RenderCompat(report *compat.Report) ([]byte, error)
	RenderFingerprint(report *fingerprint.Report) ([]byte, error)
}

// Format names accepted by New.
const (
	FormatTerminal = "terminal"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// New returns the renderer for a format name.
func New(format string) (Renderer, error) {
	switch format {
	case FormatTerminal, "":
		return NewTerminal(), nil
	case FormatJSON:
		return &JSON{}, nil
	case FormatMarkdown:
		return &Markdown{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
