// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashzak/nim-audit/services/audit/policy"
)

func runLint(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	ref := args[0]

	var custom *policy.Policy
	if lintPolicyPath != "" {
		var err error
		custom, err = policy.LoadPolicy(lintPolicyPath)
		if err != nil {
			fatal("failed to load policy file", err)
		}
	}
	if lintNoBuiltin && custom == nil {
		fatal("invalid flags", fmt.Errorf("--no-builtin requires --policy"))
	}
	rules := policy.CombineRules(!lintNoBuiltin, custom)

	snap, err := resolveSnapshot(ctx, ref)
	if err != nil {
		fatal("failed to extract snapshot", err)
	}

	env, err := loadEnvOverrides()
	if err != nil {
		fatal("failed to load env overrides", err)
	}

	logger.Info("evaluating policy", "reference", ref, "rules", len(rules))
	report, err := policy.Evaluate(snap, env, rules)
	if err != nil {
		fatal("policy evaluation failed", err)
	}
	report.Reference = ref
	if custom != nil {
		report.PolicyName = custom.Name
	}
	logger.Info("policy evaluated",
		"violations", len(report.Violations),
		"pass", report.Pass,
	)

	out, err := newRenderer().RenderLint(report)
	if err != nil {
		fatal("failed to render report", err)
	}
	fmt.Fprintf(os.Stdout, "%s", out)

	if !report.Pass {
		os.Exit(ExitFail)
	}
	os.Exit(ExitPass)
}
