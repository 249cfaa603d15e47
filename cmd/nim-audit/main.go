// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/ashzak/nim-audit/pkg/logging"
)

var logger *logging.Logger

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", "error", err)
			logger.Close()
		}
		os.Exit(ExitError)
	}
	if logger != nil {
		logger.Close()
	}
}
