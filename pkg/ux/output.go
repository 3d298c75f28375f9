// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders hintpass command output for terminals and scripts.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the shared text styles.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
	Cell:    lipgloss.NewStyle().Padding(0, 1),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
)

// Render returns the icon with its color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return Styles.Muted.Render(string(i))
	}
}

// Mode controls how rich the output is.
type Mode string

const (
	// ModeRich uses colors, icons and bordered tables.
	ModeRich Mode = "rich"

	// ModePlain uses icons and aligned tables without color.
	ModePlain Mode = "plain"

	// ModeMachine prints tab-separated lines for scripts.
	ModeMachine Mode = "machine"
)

// ParseMode accepts rich, plain, machine, or "" for auto-detection.
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeRich, ModePlain, ModeMachine:
		return m, true
	case "":
		return "", true
	default:
		return "", false
	}
}

// DetectMode returns ModeRich for terminals and ModeMachine otherwise.
func DetectMode(w io.Writer) Mode {
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return ModeRich
	}
	return ModeMachine
}

// Printer writes styled output to one destination.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter creates a Printer. An empty mode is detected from w.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	if mode == "" {
		mode = DetectMode(w)
	}
	return &Printer{w: w, mode: mode}
}

// Mode returns the printer's output mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if p.mode != ModeRich {
		return text
	}
	return s.Render(text)
}

func (p *Printer) icon(i Icon) string {
	if p.mode != ModeRich {
		return string(i)
	}
	return i.Render()
}

// Title prints a heading. Machine mode omits it.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.w, p.style(Styles.Title, text))
}

// Success prints a line with a check mark.
func (p *Printer) Success(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "OK\t%s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.icon(IconSuccess), p.style(Styles.Success, text))
}

// Warning prints a line with a warning sign.
func (p *Printer) Warning(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "WARN\t%s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.icon(IconWarning), p.style(Styles.Warning, text))
}

// Error prints a line with a cross.
func (p *Printer) Error(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "ERROR\t%s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.icon(IconError), p.style(Styles.Error, text))
}

// Box prints content under a title inside a rounded border.
func (p *Printer) Box(title, content string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "%s\t%s\n", title, strings.ReplaceAll(content, "\n", " "))
		return
	}
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "%s\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// Table prints rows under headers. Machine mode prints tab-separated
// lines without the header.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.mode == ModeMachine {
		for _, row := range rows {
			fmt.Fprintln(p.w, strings.Join(row, "\t"))
		}
		return
	}

	t := table.New().Headers(headers...).Rows(rows...)
	if p.mode == ModeRich {
		t = t.Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(ColorTealDeep)).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return Styles.Header
				}
				return Styles.Cell
			})
	} else {
		t = t.Border(lipgloss.HiddenBorder()).
			StyleFunc(func(int, int) lipgloss.Style { return lipgloss.NewStyle().Padding(0, 1) })
	}
	fmt.Fprintln(p.w, t.Render())
}

// Counts prints "n label" pairs on one line.
func (p *Printer) Counts(pairs ...Count) {
	parts := make([]string, 0, len(pairs))
	for _, c := range pairs {
		if p.mode == ModeMachine {
			parts = append(parts, fmt.Sprintf("%s=%d", c.Label, c.N))
			continue
		}
		parts = append(parts, p.style(c.Style, fmt.Sprintf("%d", c.N))+" "+p.style(Styles.Muted, c.Label))
	}
	sep := "  "
	if p.mode == ModeMachine {
		sep = " "
		fmt.Fprint(p.w, "SUMMARY\t")
	}
	fmt.Fprintln(p.w, strings.Join(parts, sep))
}

// Count is one labelled number for Counts.
type Count struct {
	N     int
	Label string
	Style lipgloss.Style
}
