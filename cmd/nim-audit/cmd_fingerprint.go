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
	"time"

	"github.com/spf13/cobra"

	"github.com/ashzak/nim-audit/services/audit/fingerprint"
)

func runFingerprintGenerate(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	ref := args[0]
	env, err := loadEnvOverrides()
	if err != nil {
		fatal("failed to load env overrides", err)
	}

	prober := fingerprint.NewProber(nil, time.Duration(fpTimeoutSeconds)*time.Second)
	logger.Info("probing endpoint", "reference", ref, "endpoint", fpEndpoint)

	record, err := prober.Probe(ctx, ref, fpEndpoint, env)
	if err != nil {
		fatal("probe failed", err)
	}
	logger.Info("probe complete",
		"responses", len(record.Responses),
		"mean_latency_ms", record.MeanLatencyMS(),
	)

	if err := fingerprint.Save(record, fpOutPath); err != nil {
		fatal("failed to save fingerprint", err)
	}
	fmt.Printf("Fingerprint saved to %s\n", fpOutPath)
	os.Exit(ExitPass)
}

func runFingerprintCompare(cmd *cobra.Command, args []string) {
	source, err := fingerprint.Load(args[0])
	if err != nil {
		fatal("failed to load source fingerprint", err)
	}
	target, err := fingerprint.Load(args[1])
	if err != nil {
		fatal("failed to load target fingerprint", err)
	}

	report := fingerprint.Compare(source, target, fpTolerance)
	logger.Info("fingerprints compared",
		"similarity", report.SimilarityScore,
		"matched", report.MatchedPairs,
		"different", report.Different,
	)

	out, err := newRenderer().RenderFingerprint(report)
	if err != nil {
		fatal("failed to render report", err)
	}
	fmt.Fprintf(os.Stdout, "%s", out)

	if report.Different > 0 {
		os.Exit(ExitFail)
	}
	os.Exit(ExitPass)
}
