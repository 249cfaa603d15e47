// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

// BuiltinRules are the baseline checks applied to every image unless
// the caller opts out. Custom policies are evaluated in addition, never
// instead; duplicate IDs across the two sets are allowed and both run.
func BuiltinRules() []Rule {
	return []Rule{
		{
			ID:          "nim-001",
			Name:        "require-version-label",
			Description: "NIM images must have a version label",
			Severity:    SeverityError,
			Category:    "metadata",
			Condition:   "labels.get('com.nvidia.nim.version') != null",
			Rationale:   "Version tracking is essential for auditing and rollback",
			Remediation: "Add com.nvidia.nim.version label to image",
		},
		{
			ID:          "nim-002",
			Name:        "no-root-user",
			Description: "Container should not run as root",
			Severity:    SeverityWarning,
			Category:    "security",
			Condition:   "config.get('User', 'root') != 'root' and config.get('User', '') != ''",
			Rationale:   "Running as root poses security risks",
			Remediation: "Set a non-root user in the Dockerfile",
		},
		{
			ID:          "nim-003",
			Name:        "require-model-name",
			Description: "NIM images must specify the model name",
			Severity:    SeverityError,
			Category:    "metadata",
			Condition:   "labels.get('com.nvidia.nim.model.name') != null",
			Rationale:   "Model name is required for inventory and tracking",
			Remediation: "Add com.nvidia.nim.model.name label to image",
		},
		{
			ID:          "nim-004",
			Name:        "check-exposed-ports",
			Description: "NIM should expose the standard API port",
			Severity:    SeverityWarning,
			Category:    "configuration",
			Condition:   "8000 in exposed_ports or 80 in exposed_ports",
			Rationale:   "Standard ports ensure consistency across deployments",
			Remediation: "Expose port 8000 for the NIM API",
		},
		{
			ID:          "nim-005",
			Name:        "no-sensitive-env",
			Description: "No sensitive values in default environment",
			Severity:    SeverityError,
			Category:    "security",
			Condition:   "not ('PASSWORD' in env or 'SECRET' in env or 'TOKEN' in env or 'KEY' in env)",
			Rationale:   "Sensitive values should not be baked into images",
			Remediation: "Remove sensitive environment variables from image",
		},
	}
}

// BuiltinPolicy wraps the builtin rules as a named policy.
func BuiltinPolicy() *Policy {
	return &Policy{
		Name:        "builtin",
		Version:     "1.0.0",
		Description: "Built-in baseline rules for NIM images",
		Rules:       BuiltinRules(),
	}
}
