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

	"github.com/ashzak/nim-audit/services/audit/diffengine"
	"github.com/ashzak/nim-audit/services/audit/knowledge"
)

func runDiff(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	oldRef, newRef := args[0], args[1]
	logger.Info("building diff", "old", oldRef, "new", newRef)

	oldSnap, err := resolveSnapshot(ctx, oldRef)
	if err != nil {
		fatal("failed to extract old snapshot", err)
	}
	newSnap, err := resolveSnapshot(ctx, newRef)
	if err != nil {
		fatal("failed to extract new snapshot", err)
	}

	reg, err := knowledge.LoadEnvRegistry()
	if err != nil {
		fatal("failed to load env registry", err)
	}

	engine := diffengine.NewEngine(diffengine.Config{
		Registry:      reg,
		RiskThreshold: diffThreshold,
	})
	report, err := engine.BuildDiff(oldSnap, newSnap)
	if err != nil {
		fatal("diff failed", err)
	}
	logger.Info("diff complete",
		"entries", len(report.Entries),
		"breaking", report.BreakingCount,
	)

	out, err := newRenderer().RenderDiff(report)
	if err != nil {
		fatal("failed to render report", err)
	}
	fmt.Fprintf(os.Stdout, "%s", out)

	if diffFailBreaking && report.HasBreaking() {
		os.Exit(ExitFail)
	}
	os.Exit(ExitPass)
}
