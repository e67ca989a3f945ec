// Package ux renders sage's terminal output.
package ux

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
)

// Semantic colors
var (
	SuccessColor = lipgloss.Color("#8BC34A")
	ErrorColor   = lipgloss.Color("#e53935")
	WarningColor = lipgloss.Color("#FFC107")
	InfoColor    = lipgloss.Color("#2196F3")
	MutedColor   = lipgloss.Color("#8a94a6")
)

// Printer writes styled status lines. Colors are dropped automatically when
// the writer is not a terminal.
type Printer struct {
	out     io.Writer
	quiet   bool
	success lipgloss.Style
	failure lipgloss.Style
	warning lipgloss.Style
	info    lipgloss.Style
	muted   lipgloss.Style
	bold    lipgloss.Style
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:     out,
		success: r.NewStyle().Foreground(SuccessColor),
		failure: r.NewStyle().Foreground(ErrorColor),
		warning: r.NewStyle().Foreground(WarningColor),
		info:    r.NewStyle().Foreground(InfoColor),
		muted:   r.NewStyle().Foreground(MutedColor),
		bold:    r.NewStyle().Bold(true),
	}
}

// SetQuiet suppresses everything except errors.
func (p *Printer) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// Quiet reports whether the printer is in quiet mode.
func (p *Printer) Quiet() bool {
	return p.quiet
}

// Success prints a green check line.
func (p *Printer) Success(format string, args ...any) {
	if p.quiet {
		return
	}
	p.line(p.success, "✓", format, args...)
}

// Error prints a red cross line. Errors are printed even in quiet mode.
func (p *Printer) Error(format string, args ...any) {
	p.line(p.failure, "✗", format, args...)
}

// Warning prints a yellow warning line.
func (p *Printer) Warning(format string, args ...any) {
	if p.quiet {
		return
	}
	p.line(p.warning, "⚠", format, args...)
}

// Info prints a blue info line.
func (p *Printer) Info(format string, args ...any) {
	if p.quiet {
		return
	}
	p.line(p.info, "ℹ", format, args...)
}

// Plain prints an unstyled line.
func (p *Printer) Plain(format string, args ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Detail prints an indented, muted line.
func (p *Printer) Detail(format string, args ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.out, p.muted.Render("  "+fmt.Sprintf(format, args...)))
}

// Heading prints a bold line.
func (p *Printer) Heading(format string, args ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.out, p.bold.Render(fmt.Sprintf(format, args...)))
}

func (p *Printer) line(style lipgloss.Style, symbol, format string, args ...any) {
	fmt.Fprintln(p.out, style.Render(symbol+" "+fmt.Sprintf(format, args...)))
}

// Truncate shortens text to at most max runes, ending with "..." when cut.
func Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	if max <= 3 {
		return strings.Repeat(".", max)
	}
	runes := []rune(text)
	return string(runes[:max-3]) + "..."
}
