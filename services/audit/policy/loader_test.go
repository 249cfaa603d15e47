// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

import (
	"os"
	"path/filepath"
	"testing"
)

const samplePolicyYAML = `
name: team-policy
version: 2.0.0
description: Team deployment policy
rules:
  - id: team-001
    name: require-scan-label
    description: images must carry a passed security scan
    severity: error
    condition: "labels.get('security.scan.status') == 'passed'"
    remediation: run the scan pipeline before publishing
  - id: team-002
    name: batch-size-cap
    severity: warning
    condition: "int(env.get('NIM_MAX_BATCH_SIZE', '1')) <= 64"
  - id: team-003
    name: disabled-rule
    severity: info
    enabled: false
    condition: "true"
`

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(samplePolicyYAML), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.Name != "team-policy" || len(p.Rules) != 3 {
		t.Errorf("policy = %+v", p)
	}
	if p.Rules[0].Severity != SeverityError {
		t.Errorf("severity = %v, want error", p.Rules[0].Severity)
	}
	if got := len(p.EnabledRules()); got != 2 {
		t.Errorf("enabled rules = %d, want 2", got)
	}
}

func TestParsePolicyRejectsMissingFields(t *testing.T) {
	_, err := ParsePolicy([]byte("rules:\n  - name: no-id\n    condition: 'true'\n"))
	if err == nil {
		t.Error("policy rule without id should be rejected")
	}
}

func TestCombineRules(t *testing.T) {
	custom := &Policy{Name: "custom", Rules: []Rule{{ID: "c-1", Name: "c", Condition: "true"}}}
	rules := CombineRules(true, custom)
	if len(rules) != len(BuiltinRules())+1 {
		t.Fatalf("combined = %d rules", len(rules))
	}
	if rules[len(rules)-1].ID != "c-1" {
		t.Error("custom rules should follow builtin rules")
	}

	if got := CombineRules(false, nil); len(got) != 0 {
		t.Errorf("no sources should yield no rules, got %d", len(got))
	}
}

func TestSavePolicyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	original := BuiltinPolicy()
	if err := SavePolicy(original, path); err != nil {
		t.Fatalf("SavePolicy: %v", err)
	}
	loaded, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if len(loaded.Rules) != len(original.Rules) {
		t.Errorf("rules = %d, want %d", len(loaded.Rules), len(original.Rules))
	}
}
