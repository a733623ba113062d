// Package ui renders plain (non-interactive) command output: colored status
// lines and framed panels in the configured theme.
package ui

import (
	"fmt"
	"io"
	"os"
)

var (
	reset = "\033[0m"
	bold  = "\033[1m"
	dim   = "\033[2m"

	fgGray   = "\033[90m"
	fgGreen  = "\033[32m"
	fgYellow = "\033[33m"
	fgBlue   = "\033[34m"
	fgRed    = "\033[31m"

	symCheck = "✔"
	symCross = "✖"
)

// Printer writes themed output. Color is used only when Out is a terminal,
// unless forced.
type Printer struct {
	Out io.Writer
	Err io.Writer

	theme        Theme
	mono         bool
	forceColor   bool
	disableColor bool
}

// NewPrinter builds a printer for the named theme. The mono theme never
// colors, whatever the forcing.
func NewPrinter(out, errw io.Writer, theme string, noColor bool) *Printer {
	t, mono := ThemeByName(theme)
	return &Printer{Out: out, Err: errw, theme: t, mono: mono, disableColor: noColor}
}

// SetColorForcing overrides terminal detection. disable wins over force.
func (p *Printer) SetColorForcing(force, disable bool) {
	p.forceColor = force
	p.disableColor = disable
}

// Theme returns the active theme.
func (p *Printer) Theme() Theme { return p.theme }

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func (p *Printer) C(color, s string) string {
	if p.mono || p.disableColor || color == "" {
		return s
	}
	if p.forceColor || isTTY(p.Out) {
		return color + s + reset
	}
	return s
}

func (p *Printer) OK(msg string) { fmt.Fprintln(p.Out, p.C(p.theme.Success, symCheck+" "+msg)) }

func (p *Printer) Fail(msg string) { fmt.Fprintln(p.Err, p.C(p.theme.Error, symCross+" "+msg)) }

// Hint prints a muted line to the error stream.
func (p *Printer) Hint(msg string) { fmt.Fprintln(p.Err, p.C(p.theme.Muted, msg)) }

func (p *Printer) Println(a ...any) { fmt.Fprintln(p.Out, a...) }

func (p *Printer) Printf(format string, a ...any) { fmt.Fprintf(p.Out, format, a...) }
