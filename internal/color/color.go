// Package color colours terminal output. Every helper returns its input
// unchanged unless Init found a colour-capable terminal.
package color

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Enabled is set by Init.
var Enabled bool

// Init enables colour when w is a terminal, unless NO_COLOR is set or
// TERM=dumb.
func Init(w io.Writer) {
	Enabled = false
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return
	}
	f, ok := w.(*os.File)
	if !ok {
		return
	}
	Enabled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func seq(code, s string) string {
	if !Enabled || s == "" {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func Bold(s string) string    { return seq("1", s) }
func Dim(s string) string     { return seq("2", s) }
func Red(s string) string     { return seq("31", s) }
func Green(s string) string   { return seq("32", s) }
func Yellow(s string) string  { return seq("33", s) }
func Cyan(s string) string    { return seq("36", s) }
func BoldRed(s string) string { return seq("1;31", s) }

// Outcome colours a phase or component outcome word.
func Outcome(s string) string {
	switch s {
	case "ok", "success", "running", "installed", "started":
		return Green(s)
	case "failed", "failure", "error":
		return BoldRed(s)
	case "skipped", "stopped", "kept", "uninstalled":
		return Yellow(s)
	case "unknown":
		return Dim(s)
	}
	return s
}
