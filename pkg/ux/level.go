// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// EnvOutput selects the output level, overriding terminal detection.
const EnvOutput = "FACTS_OUTPUT"

// Level defines the richness of CLI output
type Level string

const (
	// LevelStandard enables colors, icons, boxes and rounded tables
	LevelStandard Level = "standard"

	// LevelMinimal uses icons and plain tables only
	LevelMinimal Level = "minimal"

	// LevelMachine outputs plain tab-separated text suitable for scripting
	LevelMachine Level = "machine"
)

// ParseLevel converts a string to Level. Unknown values map to
// LevelStandard.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return LevelMinimal
	case "machine", "quiet", "q":
		return LevelMachine
	default:
		return LevelStandard
	}
}

// DetectLevel picks the level for f.
//
// FACTS_OUTPUT wins when set. Otherwise a terminal gets LevelStandard and
// anything else (pipe, file) gets LevelMachine.
func DetectLevel(f *os.File) Level {
	if env := os.Getenv(EnvOutput); env != "" {
		return ParseLevel(env)
	}
	if IsTerminal(f) {
		return LevelStandard
	}
	return LevelMachine
}

// IsTerminal reports whether f is a terminal, including Cygwin and MSYS
// terminals.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
