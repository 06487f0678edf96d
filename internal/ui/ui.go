// Package ui renders styled CLI output. Styling degrades to plain text
// when stdout is not a terminal or the terminal reports no color
// support, so command output stays pipe-friendly.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Width(18)
)

// Printer writes command output, styled when the destination supports it.
type Printer struct {
	out    io.Writer
	styled bool
}

// NewPrinter returns a printer for w. Styles are enabled only when w is
// a terminal with a color profile.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{out: w, styled: supportsColor(w)}
}

// Stdout returns a printer for standard output.
func Stdout() *Printer {
	return NewPrinter(os.Stdout)
}

func supportsColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if !term.IsTerminal(int(f.Fd())) {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

func (p *Printer) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

// Successf prints a line marked as succeeded.
func (p *Printer) Successf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", p.render(passStyle, "✓"), fmt.Sprintf(format, args...))
}

// Warnf prints a warning line.
func (p *Printer) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", p.render(warnStyle, "!"), fmt.Sprintf(format, args...))
}

// Errorf prints a failure line.
func (p *Printer) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", p.render(failStyle, "✗"), fmt.Sprintf(format, args...))
}

// Headerf prints a section header.
func (p *Printer) Headerf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s\n", p.render(accentStyle, fmt.Sprintf(format, args...)))
}

// Mutedf prints a de-emphasized line.
func (p *Printer) Mutedf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s\n", p.render(mutedStyle, fmt.Sprintf(format, args...)))
}

// KeyValue prints an aligned key/value row for status output.
func (p *Printer) KeyValue(key, value string) {
	if p.styled {
		fmt.Fprintf(p.out, "%s %s\n", keyStyle.Render(key), value)
		return
	}
	fmt.Fprintf(p.out, "%-18s %s\n", key, value)
}

// Printf prints unstyled text.
func (p *Printer) Printf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format, args...)
}

// Bullet prints an indented list item.
func (p *Printer) Bullet(s string) {
	fmt.Fprintf(p.out, "  %s %s\n", p.render(mutedStyle, "•"), s)
}

// TreeLine prints one row of an indented tree listing.
func (p *Printer) TreeLine(depth int, label, detail string) {
	indent := strings.Repeat("  ", depth)
	if detail == "" {
		fmt.Fprintf(p.out, "%s%s\n", indent, label)
		return
	}
	fmt.Fprintf(p.out, "%s%s %s\n", indent, label, p.render(mutedStyle, detail))
}
