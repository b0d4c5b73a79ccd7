package render

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tiger/osss-validator/api/report"
	"github.com/tiger/osss-validator/internal/config"
)

var (
	colorOK      = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")
)

type styles struct {
	ok, warning, failure, heading, muted lipgloss.Style
}

// newStyles binds styles to w so colour is dropped when w is not a terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		ok:      r.NewStyle().Foreground(colorOK),
		warning: r.NewStyle().Foreground(colorWarning),
		failure: r.NewStyle().Foreground(colorError),
		heading: r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(colorMuted),
	}
}

// Write prints rep in the given format.
func Write(w io.Writer, rep *report.Report, format string) error {
	switch format {
	case config.FormatJSON:
		return JSON(w, rep)
	case "", config.FormatText:
		return Text(w, rep)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// JSON writes rep as indented JSON.
func JSON(w io.Writer, rep *report.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// Text writes a human-readable rendering of rep.
func Text(w io.Writer, rep *report.Report) error {
	var b strings.Builder
	text(&b, newStyles(w), rep, "")
	_, err := io.WriteString(w, b.String())
	return err
}

func text(b *strings.Builder, st styles, rep *report.Report, indent string) {
	icon := st.ok.Render("✔")
	if !rep.Valid {
		icon = st.failure.Render("✖")
	}
	fmt.Fprintf(b, "%s%s %s %s\n", indent, icon, rep.Summary, st.muted.Render("(exit "+strconv.Itoa(rep.ExitCode)+")"))

	if d := rep.Details; d != nil {
		fmt.Fprintf(b, "%sTotal penalty: %s", indent, num(d.TotalPenalty))
		if d.ReportedTotalPenalty != d.TotalPenalty {
			fmt.Fprintf(b, " %s", st.muted.Render("(reported "+num(d.ReportedTotalPenalty)+")"))
		}
		b.WriteString("\n")
	}
	list(b, st.warning, "Warnings:", rep.Warnings, indent)
	list(b, st.failure, "Errors:", rep.Errors, indent)
	if d := rep.Details; d != nil {
		list(b, st.failure, "Hard constraint violations:", d.HardViolations, indent)
	}

	if len(rep.Ranked) > 0 {
		fmt.Fprintf(b, "\n%s%s\n", indent, st.heading.Render("Ranking:"))
		for _, r := range rep.Ranked {
			mark := st.ok.Render("✔")
			if !r.Clean() {
				mark = st.failure.Render("✖")
			}
			fmt.Fprintf(b, "%s%d. %s %s penalty=%s exit=%d feasible=%t\n", indent, r.Rank, mark, r.Path, num(r.TotalPenalty), r.ExitCode, r.Feasible)
		}
	}

	for _, entry := range rep.Bundle {
		fmt.Fprintf(b, "\n%s%s %s\n", indent, st.heading.Render(entry.Name), st.muted.Render("(exit "+strconv.Itoa(entry.ExitCode)+")"))
		if entry.Instance != nil {
			text(b, st, entry.Instance, indent+"  ")
		}
		if entry.Result != nil {
			text(b, st, entry.Result, indent+"  ")
		}
	}
}

func list(b *strings.Builder, style lipgloss.Style, title string, items []string, indent string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s%s\n", indent, style.Render(title))
	for _, item := range items {
		fmt.Fprintf(b, "%s- %s\n", indent, item)
	}
}

func num(v float64) string {
	if math.Abs(v) >= 1e21 {
		return strconv.FormatFloat(v, 'g', 6, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
