// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashzak/nim-audit/pkg/logging"
	"github.com/ashzak/nim-audit/services/audit/registry"
	"github.com/ashzak/nim-audit/services/audit/render"
	"github.com/ashzak/nim-audit/services/audit/snapshot"
)

// Exit codes shared by all audit commands.
const (
	ExitPass  = 0
	ExitFail  = 1
	ExitError = 2
)

// --- Global Command Variables ---
var (
	outputFormat string // terminal, json, or markdown
	logLevel     string
	quietLogs    bool
	envFile      string // optional .env file merged into runtime env overrides

	diffThreshold     float64
	diffFailBreaking  bool
	lintPolicyPath    string
	lintNoBuiltin     bool
	compatGPUModel    string
	compatMemoryGB    float64
	compatCapability  string
	compatDriver      string
	fpEndpoint        string
	fpOutPath         string
	snapOutPath       string
	fpTimeoutSeconds  int
	fpTolerance       float64
	profileModelSize  float64
	profileGPUMemory  float64
	profilePriority   string
	profileParamCount float64

	rootCmd = &cobra.Command{
		Use:   "nim-audit",
		Short: "Audit NVIDIA NIM inference container images",
		Long: `nim-audit inspects NIM inference container images and answers
four questions: what changed between two images, does an image comply
with deployment policy, will it run on the target hardware, and does
it still produce the same model outputs.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(logging.Config{
				Level:   parseLogLevel(logLevel),
				Service: "cli",
				Quiet:   quietLogs,
			})
		},
	}

	// --- Diff ---
	diffCmd = &cobra.Command{
		Use:   "diff [old-reference] [new-reference]",
		Short: "Compare two image snapshots and classify every change",
		Args:  cobra.ExactArgs(2),
		Run:   runDiff, // Defined in cmd_diff.go
	}

	// --- Lint ---
	lintCmd = &cobra.Command{
		Use:   "lint [reference]",
		Short: "Evaluate deployment policy rules against an image",
		Long: `Evaluates policy rules against an image snapshot. Rules that
fail to evaluate count as violations; a rule never silently passes.

Exit Codes:
  0 = No error-severity violations
  1 = At least one error-severity violation
  2 = Error (image not found, invalid policy file)`,
		Args: cobra.ExactArgs(1),
		Run:  runLint, // Defined in cmd_lint.go
	}

	// --- Compat ---
	compatCmd = &cobra.Command{
		Use:   "compat [reference]",
		Short: "Check an image's hardware requirements against a target GPU",
		Args:  cobra.ExactArgs(1),
		Run:   runCompat, // Defined in cmd_compat.go
	}

	// --- Fingerprint ---
	fingerprintCmd = &cobra.Command{
		Use:   "fingerprint",
		Short: "Record and compare behavioral fingerprints of running models",
	}
	fingerprintGenerateCmd = &cobra.Command{
		Use:   "generate [reference]",
		Short: "Probe a running endpoint with standard prompts and save the responses",
		Args:  cobra.ExactArgs(1),
		Run:   runFingerprintGenerate, // Defined in cmd_fingerprint.go
	}
	fingerprintCompareCmd = &cobra.Command{
		Use:   "compare [source.json] [target.json]",
		Short: "Compare two saved fingerprints and score their similarity",
		Args:  cobra.ExactArgs(2),
		Run:   runFingerprintCompare, // Defined in cmd_fingerprint.go
	}

	// --- Knowledge Base ---
	envCmd = &cobra.Command{
		Use:   "env",
		Short: "Inspect the built-in environment variable registry",
	}
	envListCmd = &cobra.Command{
		Use:   "list",
		Short: "List all registered NIM environment variables",
		Run:   runEnvList, // Defined in cmd_env.go
	}
	envDescribeCmd = &cobra.Command{
		Use:   "describe [variable]",
		Short: "Show impact and failure modes for one variable",
		Args:  cobra.ExactArgs(1),
		Run:   runEnvDescribe, // Defined in cmd_env.go
	}

	profileCmd = &cobra.Command{
		Use:   "profile",
		Short: "Inspect and suggest tuned deployment profiles",
	}
	profileListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the built-in deployment profiles",
		Run:   runProfileList, // Defined in cmd_profile.go
	}
	profileShowCmd = &cobra.Command{
		Use:   "show [profile]",
		Short: "Show the environment settings of one profile",
		Args:  cobra.ExactArgs(1),
		Run:   runProfileShow, // Defined in cmd_profile.go
	}
	profileSuggestCmd = &cobra.Command{
		Use:   "suggest",
		Short: "Suggest a profile and GPUs for a model footprint",
		Run:   runProfileSuggest, // Defined in cmd_profile.go
	}

	// config is the original command group name; kept so existing
	// automation using `nim-audit config show-profiles` keeps working.
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect tuned deployment configuration profiles",
	}
	configShowProfilesCmd = &cobra.Command{
		Use:   "show-profiles",
		Short: "List the built-in deployment profiles",
		Run:   runProfileList, // Defined in cmd_profile.go
	}
	configSuggestCmd = &cobra.Command{
		Use:   "suggest",
		Short: "Suggest a profile for a model footprint",
		Run:   runProfileSuggest, // Defined in cmd_profile.go
	}

	// --- Snapshot utilities ---
	snapshotCmd = &cobra.Command{
		Use:   "snapshot [reference]",
		Short: "Extract an image snapshot and save it as JSON",
		Args:  cobra.ExactArgs(1),
		Run:   runSnapshot, // Defined in cmd_snapshot.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "terminal",
		"Output format: terminal, json, or markdown")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().BoolVarP(&quietLogs, "quiet", "q", false,
		"Suppress log output on stderr")

	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().Float64Var(&diffThreshold, "risk-threshold", 0,
		"Ratio above which a risky numeric change is breaking (0 = default 1.5)")
	diffCmd.Flags().BoolVar(&diffFailBreaking, "fail-on-breaking", false,
		"Exit non-zero when any breaking change is found")

	rootCmd.AddCommand(lintCmd)
	lintCmd.Flags().StringVar(&lintPolicyPath, "policy", "",
		"Path to a custom policy YAML file")
	lintCmd.Flags().BoolVar(&lintNoBuiltin, "no-builtin", false,
		"Skip the built-in rules and evaluate only the custom policy")
	lintCmd.Flags().StringVar(&envFile, "env-file", "",
		"Path to a .env file with runtime environment overrides")

	rootCmd.AddCommand(compatCmd)
	compatCmd.Flags().StringVar(&compatGPUModel, "gpu", "",
		"Target GPU model (e.g. A100, H100, L40S)")
	compatCmd.Flags().Float64Var(&compatMemoryGB, "memory", 0,
		"Target GPU memory in GB (overrides the matrix value)")
	compatCmd.Flags().StringVar(&compatCapability, "compute-capability", "",
		"Target compute capability (overrides the matrix value)")
	compatCmd.Flags().StringVar(&compatDriver, "driver", "",
		"Target NVIDIA driver version")

	rootCmd.AddCommand(fingerprintCmd)
	fingerprintCmd.AddCommand(fingerprintGenerateCmd)
	fingerprintGenerateCmd.Flags().StringVar(&fpEndpoint, "endpoint", "http://localhost:8000",
		"Base URL of the running inference endpoint")
	fingerprintGenerateCmd.Flags().StringVar(&fpOutPath, "out", "fingerprint.json",
		"File to write the fingerprint record to")
	fingerprintGenerateCmd.Flags().IntVar(&fpTimeoutSeconds, "timeout", 30,
		"Per-prompt timeout in seconds")
	fingerprintGenerateCmd.Flags().StringVar(&envFile, "env-file", "",
		"Path to a .env file recorded alongside the responses")
	fingerprintCmd.AddCommand(fingerprintCompareCmd)
	fingerprintCompareCmd.Flags().Float64Var(&fpTolerance, "tolerance", -1,
		"Token-overlap distance treated as equivalent (default 0.05)")

	rootCmd.AddCommand(envCmd)
	envCmd.AddCommand(envListCmd)
	envCmd.AddCommand(envDescribeCmd)

	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileSuggestCmd.Flags().Float64Var(&profileModelSize, "model-size", 0,
		"Model size on disk in GB")
	profileSuggestCmd.Flags().Float64Var(&profileGPUMemory, "gpu-memory", 0,
		"Available GPU memory in GB")
	profileSuggestCmd.Flags().StringVar(&profilePriority, "priority", "balanced",
		"Optimization priority: throughput, latency, memory, or balanced")
	profileSuggestCmd.Flags().Float64Var(&profileParamCount, "params", 0,
		"Model parameter count in billions (enables GPU recommendations)")
	profileCmd.AddCommand(profileSuggestCmd)

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowProfilesCmd)
	configSuggestCmd.Flags().Float64Var(&profileModelSize, "model-size", 0,
		"Model size on disk in GB")
	configSuggestCmd.Flags().Float64Var(&profileGPUMemory, "gpu-memory", 0,
		"Available GPU memory in GB")
	configSuggestCmd.Flags().StringVar(&profilePriority, "priority", "balanced",
		"Optimization priority: throughput, latency, memory, or balanced")
	configCmd.AddCommand(configSuggestCmd)

	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().StringVar(&snapOutPath, "out", "",
		"File to write the snapshot JSON to (default: print to stdout)")
}

func parseLogLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// newRenderer builds the renderer selected by --output, exiting on an
// unknown format name.
func newRenderer() render.Renderer {
	r, err := render.New(outputFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
	return r
}

// resolveSnapshot extracts a snapshot for a reference, trying the file
// extractor first and falling back to docker inspect. Docker lookups go
// through an LRU cache so repeated references in one run are free.
func resolveSnapshot(ctx context.Context, ref string) (*snapshot.Snapshot, error) {
	docker, err := registry.NewCachingExtractor(&registry.DockerExtractor{}, registry.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	return registry.Resolve(ctx, ref, &registry.FileExtractor{}, docker)
}

// loadEnvOverrides reads the --env-file into a map, nil when unset.
func loadEnvOverrides() (map[string]string, error) {
	if envFile == "" {
		return nil, nil
	}
	env, err := godotenv.Read(envFile)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", envFile, err)
	}
	return env, nil
}

// commandContext returns the context for one command invocation.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Minute)
}

// fatal logs the error and exits with the error code.
func fatal(msg string, err error) {
	logger.Error(msg, "error", err)
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(ExitError)
}
