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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"standard", LevelStandard},
		{"", LevelStandard},
		{"unknown", LevelStandard},
		{"MINIMAL", LevelMinimal},
		{"m", LevelMinimal},
		{"machine", LevelMachine},
		{" quiet ", LevelMachine},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectLevel(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	t.Setenv(EnvOutput, "")
	if got := DetectLevel(f); got != LevelMachine {
		t.Errorf("DetectLevel(file) = %q, want %q", got, LevelMachine)
	}

	t.Setenv(EnvOutput, "minimal")
	if got := DetectLevel(f); got != LevelMinimal {
		t.Errorf("DetectLevel with %s=minimal = %q, want %q", EnvOutput, got, LevelMinimal)
	}
}

func TestIsTerminal_Nil(t *testing.T) {
	if IsTerminal(nil) {
		t.Error("nil file should not be a terminal")
	}
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_Messages(t *testing.T) {
	tests := []struct {
		level Level
		want  []string
	}{
		{LevelMachine, []string{"OK: built", "WARN: slow", "ERROR: broken", "info line"}},
		{LevelMinimal, []string{"✓ built", "⚠ slow", "✗ broken", "│ info line", "Store"}},
		{LevelStandard, []string{"✓", "built", "⚠", "slow", "✗", "broken", "info line", "Store"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			p := NewPrinter(&buf, tt.level)

			p.Title("Store")
			p.Success("built")
			p.Warning("slow")
			p.Error("broken")
			p.Info("info line")

			out := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
			if strings.Contains(out, "\x1b[") {
				t.Errorf("output to a buffer should carry no escape codes:\n%q", out)
			}
		})
	}
}

func TestPrinter_MachineOmitsDecoration(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, LevelMachine)

	p.Title("Title")
	p.Muted("muted")
	if buf.Len() != 0 {
		t.Errorf("machine output should omit titles and muted text, got %q", buf.String())
	}
}

func TestPrinter_Table(t *testing.T) {
	headers := []string{"TYPE", "COUNT"}
	rows := [][]string{{"Vulnerability", "3"}, {"Function", "12"}}

	t.Run("machine", func(t *testing.T) {
		var buf bytes.Buffer
		NewPrinter(&buf, LevelMachine).Table(headers, rows)

		want := "TYPE\tCOUNT\nVulnerability\t3\nFunction\t12\n"
		if buf.String() != want {
			t.Errorf("Table() = %q, want %q", buf.String(), want)
		}
	})

	t.Run("standard", func(t *testing.T) {
		var buf bytes.Buffer
		NewPrinter(&buf, LevelStandard).Table(headers, rows)

		out := buf.String()
		for _, want := range []string{"TYPE", "COUNT", "Vulnerability", "Function", "12", "╭"} {
			if !strings.Contains(out, want) {
				t.Errorf("table missing %q:\n%s", want, out)
			}
		}
	})
}

func TestPrinter_Severity(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, LevelStandard)
	for _, s := range []string{"Critical", "High", "Medium", "Low", "Info", "Other"} {
		if got := p.Severity(s); !strings.Contains(got, s) {
			t.Errorf("Severity(%q) = %q, want it to contain the name", s, got)
		}
	}
	if got := NewPrinter(&buf, LevelMachine).Severity("High"); got != "High" {
		t.Errorf("machine Severity = %q, want plain name", got)
	}
}

func TestPrinter_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, LevelMachine).KeyValues([][2]string{{"facts", "38"}, {"files", "3"}})
	if want := "facts\t38\nfiles\t3\n"; buf.String() != want {
		t.Errorf("KeyValues() = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	NewPrinter(&buf, LevelStandard).KeyValues([][2]string{{"a", "1"}, {"long key", "2"}})
	if !strings.Contains(buf.String(), "long key  2") {
		t.Errorf("values should follow keys after two spaces: %q", buf.String())
	}
}

func TestPrinter_Box(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, LevelMachine).Box("Plan", "line one\nline two")
	if want := "Plan: line one; line two\n"; buf.String() != want {
		t.Errorf("Box() = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	NewPrinter(&buf, LevelStandard).Box("Plan", "body")
	if !strings.Contains(buf.String(), "Plan") || !strings.Contains(buf.String(), "body") {
		t.Errorf("boxed output missing content: %s", buf.String())
	}
}
