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

	"github.com/ashzak/nim-audit/services/audit/compat"
	"github.com/ashzak/nim-audit/services/audit/knowledge"
)

func runCompat(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	ref := args[0]
	snap, err := resolveSnapshot(ctx, ref)
	if err != nil {
		fatal("failed to extract snapshot", err)
	}

	matrix, err := knowledge.LoadGPUMatrix()
	if err != nil {
		fatal("failed to load GPU matrix", err)
	}

	checker := compat.NewChecker(matrix)
	profile := compat.TargetProfile{
		GPUModel:          compatGPUModel,
		ComputeCapability: compatCapability,
		MemoryGB:          compatMemoryGB,
		DriverVersion:     compatDriver,
	}
	logger.Info("checking compatibility", "reference", ref, "gpu", compatGPUModel)

	report, err := checker.CheckSnapshot(snap, profile)
	if err != nil {
		fatal("compatibility check failed", err)
	}
	logger.Info("compatibility checked",
		"fields", len(report.Fields),
		"compatible", report.Compatible,
	)

	out, err := newRenderer().RenderCompat(report)
	if err != nil {
		fatal("failed to render report", err)
	}
	fmt.Fprintf(os.Stdout, "%s", out)

	if !report.Compatible {
		os.Exit(ExitFail)
	}
	os.Exit(ExitPass)
}
