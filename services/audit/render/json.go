// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package render

import (
	"encoding/json"

	"github.com/ashzak/nim-audit/services/audit/compat"
	"github.com/ashzak/nim-audit/services/audit/diffengine"
	"github.com/ashzak/nim-audit/services/audit/fingerprint"
	"github.com/ashzak/nim-audit/services/audit/policy"
)

// JSON renders reports as indented JSON for scripting.
type JSON struct{}

func (j *JSON) RenderDiff(report *diffengine.Report) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

func (j *JSON) RenderLint(report *policy.LintReport) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

func (j *JSON) RenderCompat(report *compat.Report) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

func (j *JSON) RenderFingerprint(report *fingerprint.Report) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}
