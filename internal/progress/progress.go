// Package progress shows a progress bar for batches of slow steps, such as
// package installs, when output goes to a terminal.
package progress

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"
)

// Bar tracks a batch of steps. The zero value and a nil *Bar are no-ops.
type Bar struct {
	printer *pterm.ProgressbarPrinter
}

// Start returns a bar with total steps drawn on w. Nothing is drawn when w
// is not a terminal or total is below two.
func Start(w io.Writer, title string, total int) *Bar {
	if total < 2 || !isTerminal(w) {
		return &Bar{}
	}
	p, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle(title).
		WithWriter(w).
		WithRemoveWhenDone(true).
		Start()
	if err != nil {
		return &Bar{}
	}
	return &Bar{printer: p}
}

// Step advances the bar and shows what comes next.
func (b *Bar) Step(next string) {
	if b == nil || b.printer == nil {
		return
	}
	if next != "" {
		b.printer.UpdateTitle(next)
	}
	b.printer.Increment()
}

// Stop removes the bar.
func (b *Bar) Stop() {
	if b == nil || b.printer == nil {
		return
	}
	_, _ = b.printer.Stop()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
