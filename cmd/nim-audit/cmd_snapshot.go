// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashzak/nim-audit/services/audit/registry"
)

func runSnapshot(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	ref := args[0]
	snap, err := resolveSnapshot(ctx, ref)
	if err != nil {
		fatal("failed to extract snapshot", err)
	}
	logger.Info("snapshot extracted", "reference", ref, "layers", len(snap.Layers))

	if snapOutPath == "" {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			fatal("failed to encode snapshot", err)
		}
		fmt.Println(string(data))
		os.Exit(ExitPass)
	}

	if err := registry.SaveSnapshot(snap, snapOutPath); err != nil {
		fatal("failed to save snapshot", err)
	}
	fmt.Printf("Snapshot saved to %s\n", snapOutPath)
	os.Exit(ExitPass)
}
