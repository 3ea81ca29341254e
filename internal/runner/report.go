package runner

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/atomikpanda/anvil/internal/component"
)

var (
	green  = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#81C784"}
	red    = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#E57373"}
	yellow = lipgloss.AdaptiveColor{Light: "#F57F17", Dark: "#FFD54F"}
	grey   = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#9E9E9E"}
)

// Report prints the per-component table and a one-line summary to w. names
// gives the row order. Colour is used only when w is a terminal.
func Report(w io.Writer, s *Summary, names []string) error {
	re := lipgloss.NewRenderer(w)
	outcome := func(word string) string {
		st := re.NewStyle()
		switch word {
		case "ok", component.StatusRunning:
			st = st.Foreground(green)
		case "failed":
			st = st.Foreground(red).Bold(true)
		case "skipped", component.StatusStopped:
			st = st.Foreground(yellow)
		case component.StatusUnknown:
			st = st.Foreground(grey)
		}
		return st.Render(word)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(re.NewStyle().Foreground(grey)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return re.NewStyle().Bold(true).Padding(0, 1)
			}
			return re.NewStyle().Padding(0, 1)
		})

	if s.Action == "status" {
		t.Headers("COMPONENT", "APP", "STATUS", "DETAILS")
		for _, name := range names {
			for _, st := range s.Statuses[name] {
				t.Row(name, st.Name, outcome(st.Status), st.Details)
			}
			if err := failure(s, name); err != nil {
				t.Row(name, "", outcome("failed"), err.Error())
			}
		}
	} else {
		t.Headers("COMPONENT", "RESULT", "DONE", "TIME", "DETAILS")
		for _, name := range names {
			t.Row(componentRow(s, name, outcome)...)
		}
	}

	_, err := fmt.Fprintf(w, "%s\n%s %s: %d ok, %d failed, %d skipped in %s (run %s)\n",
		t.Render(),
		re.NewStyle().Bold(true).Render(s.Action),
		outcome(overall(s)),
		len(names)-len(s.Failed)-len(s.Skipped), len(s.Failed), len(s.Skipped),
		s.Elapsed.Round(time.Millisecond), s.RunID)
	return err
}

func componentRow(s *Summary, name string, outcome func(string) string) []string {
	if slices.Contains(s.Skipped, name) {
		return []string{name, outcome("skipped"), "", "", ""}
	}
	var (
		count   int
		elapsed time.Duration
	)
	for _, r := range s.Results {
		if r.Component != name {
			continue
		}
		count += r.Count
		elapsed += r.Elapsed
	}
	result, detail := "ok", ""
	if err := failure(s, name); err != nil {
		result, detail = "failed", err.Error()
	}
	return []string{
		name,
		outcome(result),
		strconv.Itoa(count),
		elapsed.Round(time.Millisecond).String(),
		detail,
	}
}

// failure returns the error of the phase that failed name, if any.
func failure(s *Summary, name string) error {
	for _, r := range s.Results {
		if r.Component == name && r.Err != nil {
			return fmt.Errorf("%s: %w", r.Phase, r.Err)
		}
	}
	return nil
}

func overall(s *Summary) string {
	if s.OK() {
		return "ok"
	}
	return "failed"
}
