// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// LoadPolicy reads a policy file from disk. Rule severities default to
// info when omitted; rules default to enabled.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses and validates policy YAML.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if p.Name == "" {
		p.Name = "custom"
	}
	if p.Version == "" {
		p.Version = "1.0.0"
	}
	if err := validator.New().Struct(&p); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}
	return &p, nil
}

// SavePolicy writes a policy back to disk as YAML.
func SavePolicy(p *Policy, path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write policy %s: %w", path, err)
	}
	return nil
}

// CombineRules appends custom rules after the builtin set, preserving
// declaration order on both sides. No deduplication by ID happens here.
func CombineRules(includeBuiltin bool, custom *Policy) []Rule {
	var rules []Rule
	if includeBuiltin {
		rules = append(rules, BuiltinRules()...)
	}
	if custom != nil {
		rules = append(rules, custom.Rules...)
	}
	return rules
}
