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
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashzak/nim-audit/services/audit/knowledge"
)

func runEnvList(cmd *cobra.Command, args []string) {
	reg, err := knowledge.LoadEnvRegistry()
	if err != nil {
		fatal("failed to load env registry", err)
	}

	for _, name := range reg.Names() {
		info, _ := reg.Lookup(name)
		marker := " "
		if info.Deprecated {
			marker = "!"
		}
		fmt.Printf("%s %-32s %s\n", marker, name, info.Description)
	}
	os.Exit(ExitPass)
}

func runEnvDescribe(cmd *cobra.Command, args []string) {
	reg, err := knowledge.LoadEnvRegistry()
	if err != nil {
		fatal("failed to load env registry", err)
	}

	name := strings.ToUpper(args[0])
	info, ok := reg.Lookup(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "Variable %s is not in the registry\n", name)
		os.Exit(ExitFail)
	}

	fmt.Printf("%s\n", name)
	fmt.Printf("  Description: %s\n", info.Description)
	fmt.Printf("  Type:        %s\n", info.Type)
	if info.Default != "" {
		fmt.Printf("  Default:     %s\n", info.Default)
	}
	if len(info.ValidValues) > 0 {
		fmt.Printf("  Values:      %s\n", strings.Join(info.ValidValues, ", "))
	}
	if info.Deprecated {
		fmt.Printf("  Deprecated:  %s\n", info.DeprecatedMessage)
	}
	fmt.Println("  Impacts:")
	for _, metric := range []string{
		knowledge.MetricThroughput,
		knowledge.MetricLatency,
		knowledge.MetricMemory,
		knowledge.MetricStability,
	} {
		if d := info.Impact(metric); d != knowledge.DirectionNone {
			fmt.Printf("    %-12s %s\n", metric, d)
		}
	}
	if len(info.FailureModes) > 0 {
		fmt.Println("  Failure modes:")
		for _, mode := range info.FailureModes {
			fmt.Printf("    - %s\n", mode)
		}
	}
	os.Exit(ExitPass)
}
