// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the facts CLI.
//
// A Printer writes to one io.Writer at one Level. Colors are chosen by a
// lipgloss renderer bound to that writer, so output redirected to a file
// or pipe carries no escape codes. LevelMachine drops styling entirely and
// writes tab-separated lines for scripts.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	// Semantic colors (keeping standard conventions for clarity)
	ColorSuccess  = lipgloss.Color("#2CD7C7") // Bright teal for success
	ColorWarning  = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorError    = lipgloss.Color("#E74C3C") // Red for errors
	ColorCritical = lipgloss.Color("#C0392B") // Dark red for critical findings
	ColorMuted    = lipgloss.Color("#2C4A54") // Slate for muted text
)

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// styles are the lipgloss styles of one Printer.
type styles struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Critical lipgloss.Style
	High     lipgloss.Style
	Medium   lipgloss.Style
	Low      lipgloss.Style
	Info     lipgloss.Style

	Box    lipgloss.Style
	Header lipgloss.Style
	Border lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		Title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
		Bold:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(ColorSlate),
		Success: r.NewStyle().Foreground(ColorSuccess),
		Warning: r.NewStyle().Foreground(ColorWarning),
		Error:   r.NewStyle().Foreground(ColorError),

		Critical: r.NewStyle().Bold(true).Foreground(ColorCritical),
		High:     r.NewStyle().Foreground(ColorError),
		Medium:   r.NewStyle().Foreground(ColorWarning),
		Low:      r.NewStyle().Foreground(ColorTealPrimary),
		Info:     r.NewStyle().Foreground(ColorSlate),

		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorTealDeep).
			Padding(0, 1),
		Header: r.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
		Border: r.NewStyle().Foreground(ColorTealDeep),
	}
}

// Printer writes styled CLI output.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	w      io.Writer
	level  Level
	styles styles
}

// NewPrinter creates a Printer writing to w at level.
func NewPrinter(w io.Writer, level Level) *Printer {
	return &Printer{
		w:      w,
		level:  level,
		styles: newStyles(lipgloss.NewRenderer(w)),
	}
}

// Level returns the printer's level.
func (p *Printer) Level() Level {
	return p.level
}

// Title prints a styled title. Machine output omits titles.
func (p *Printer) Title(text string) {
	if p.level == LevelMachine {
		return
	}
	fmt.Fprintln(p.w, p.styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.level {
	case LevelMachine:
		fmt.Fprintf(p.w, "OK: %s\n", text)
	case LevelMinimal:
		fmt.Fprintf(p.w, "%s %s\n", IconSuccess, text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", p.styles.Success.Render(string(IconSuccess)), p.styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.level {
	case LevelMachine:
		fmt.Fprintf(p.w, "WARN: %s\n", text)
	case LevelMinimal:
		fmt.Fprintf(p.w, "%s %s\n", IconWarning, text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", p.styles.Warning.Render(string(IconWarning)), p.styles.Warning.Render(text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.level {
	case LevelMachine:
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
	case LevelMinimal:
		fmt.Fprintf(p.w, "%s %s\n", IconError, text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", p.styles.Error.Render(string(IconError)), p.styles.Error.Render(text))
	}
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.level == LevelMachine {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Machine output omits it.
func (p *Printer) Muted(text string) {
	if p.level == LevelMachine {
		return
	}
	fmt.Fprintln(p.w, p.styles.Muted.Render(text))
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	if p.level != LevelStandard {
		fmt.Fprintf(p.w, "%s: %s\n", title, strings.ReplaceAll(content, "\n", "; "))
		return
	}
	fmt.Fprintln(p.w, p.styles.Box.Render(p.styles.Title.Render(title)+"\n"+content))
}

// Severity renders a severity name in its color. Unknown names are
// returned unstyled.
func (p *Printer) Severity(severity string) string {
	if p.level == LevelMachine {
		return severity
	}
	var style lipgloss.Style
	switch severity {
	case "Critical":
		style = p.styles.Critical
	case "High":
		style = p.styles.High
	case "Medium":
		style = p.styles.Medium
	case "Low":
		style = p.styles.Low
	case "Info":
		style = p.styles.Info
	default:
		return severity
	}
	return style.Render(severity)
}

// Table prints rows under headers.
//
// Machine output is one tab-separated line per row with the header line
// first. Other levels draw a bordered table. Cells are printed as given,
// so pre-styled cells keep their colors.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.level == LevelMachine {
		fmt.Fprintln(p.w, strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Fprintln(p.w, strings.Join(row, "\t"))
		}
		return
	}

	border := lipgloss.RoundedBorder()
	if p.level == LevelMinimal {
		border = lipgloss.NormalBorder()
	}
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(border).
		BorderStyle(p.styles.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.styles.Header
			}
			return cell
		})
	fmt.Fprintln(p.w, t.Render())
}

// KeyValues prints aligned "key value" pairs in order.
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	for _, kv := range pairs {
		if p.level == LevelMachine {
			fmt.Fprintf(p.w, "%s\t%s\n", kv[0], kv[1])
			continue
		}
		fmt.Fprintf(p.w, "%s  %s\n", p.styles.Bold.Render(fmt.Sprintf("%-*s", width, kv[0])), kv[1])
	}
}
