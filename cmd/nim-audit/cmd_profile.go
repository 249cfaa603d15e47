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
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashzak/nim-audit/services/audit/knowledge"
)

func runProfileList(cmd *cobra.Command, args []string) {
	profiles, err := knowledge.LoadProfiles()
	if err != nil {
		fatal("failed to load profiles", err)
	}

	for _, key := range profiles.Keys() {
		prof, _ := profiles.Lookup(key)
		fmt.Printf("%-20s %s\n", key, prof.Description)
	}
	os.Exit(ExitPass)
}

func runProfileShow(cmd *cobra.Command, args []string) {
	profiles, err := knowledge.LoadProfiles()
	if err != nil {
		fatal("failed to load profiles", err)
	}

	prof, ok := profiles.Lookup(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown profile %q. Available: %s\n",
			args[0], strings.Join(profiles.Keys(), ", "))
		os.Exit(ExitFail)
	}

	fmt.Printf("%s: %s\n", prof.Name, prof.Description)
	if prof.UseCase != "" {
		fmt.Printf("Use case: %s\n", prof.UseCase)
	}
	fmt.Println("Environment:")
	keys := make([]string, 0, len(prof.Env))
	for k := range prof.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s=%s\n", k, prof.Env[k])
	}
	if prof.Requirements.MinMemoryGB > 0 {
		fmt.Printf("Requires: %d+ GPU(s), %.0f+ GB memory\n",
			prof.Requirements.MinGPUs, prof.Requirements.MinMemoryGB)
	}
	if len(prof.Requirements.RecommendedGPUs) > 0 {
		fmt.Printf("Recommended GPUs: %s\n", strings.Join(prof.Requirements.RecommendedGPUs, ", "))
	}
	os.Exit(ExitPass)
}

func runProfileSuggest(cmd *cobra.Command, args []string) {
	key := knowledge.SuggestProfile(profileModelSize, profileGPUMemory, profilePriority)
	fmt.Printf("Suggested profile: %s\n", key)

	profiles, err := knowledge.LoadProfiles()
	if err != nil {
		fatal("failed to load profiles", err)
	}
	if prof, ok := profiles.Lookup(key); ok {
		fmt.Printf("  %s\n", prof.Description)
	}

	if profileParamCount > 0 {
		gpus := knowledge.RecommendedGPUsForModelSize(profileParamCount)
		fmt.Printf("Recommended GPUs for a %.0fB parameter model: %s\n",
			profileParamCount, strings.Join(gpus, ", "))
	}
	os.Exit(ExitPass)
}
