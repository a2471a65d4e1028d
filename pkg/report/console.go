package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Status glyphs, so the summary reads without color.
const (
	GlyphPassed  = "✓"
	GlyphFailed  = "✗"
	GlyphSkipped = "-"
	GlyphWarned  = "!"
	GlyphRunning = "▸"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	passedStyle  = lipgloss.NewStyle().Foreground(colorGreen)
	failedStyle  = lipgloss.NewStyle().Foreground(colorRed)
	warnedStyle  = lipgloss.NewStyle().Foreground(colorYellow)
	skippedStyle = lipgloss.NewStyle().Faint(true)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	resultPassed = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	resultFailed = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
)

// StepLine renders one step as a single console line.
func StepLine(s Step) string {
	glyph, style := glyphFor(s.Status)
	indent := strings.Repeat("  ", strings.Count(s.Path, "."))

	var b strings.Builder
	b.WriteString(indent)
	b.WriteString(style.Render(glyph + " " + s.Label))
	b.WriteString(dimStyle.Render(" " + FormatDuration(s.Duration)))
	if s.Attempts > 1 {
		b.WriteString(dimStyle.Render(fmt.Sprintf(" (%d attempts)", s.Attempts)))
	}
	if s.Confidence != nil {
		b.WriteString(dimStyle.Render(fmt.Sprintf(" [%.2f %s]", *s.Confidence, s.Strategy)))
	}
	if s.Error != nil {
		b.WriteString("\n" + indent + "    " + style.Render(s.Error.Message))
	} else if s.Status == StatusSkipped && s.Message != "" {
		b.WriteString(dimStyle.Render(" " + s.Message))
	}
	return b.String()
}

// PrintSummary writes the step list and totals for run.
func PrintSummary(w io.Writer, run *Run) {
	fmt.Fprintln(w, headerStyle.Render(run.Script))
	for _, s := range run.Steps {
		fmt.Fprintln(w, StepLine(s))
	}
	fmt.Fprintln(w)
	PrintTotals(w, run)
}

// PrintTotals writes the counts, duration, halting error and verdict of run.
func PrintTotals(w io.Writer, run *Run) {
	sum := run.Summary
	counts := []string{
		passedStyle.Render(fmt.Sprintf("%d passed", sum.Passed)),
		failedStyle.Render(fmt.Sprintf("%d failed", sum.Failed)),
	}
	if sum.Warned > 0 {
		counts = append(counts, warnedStyle.Render(fmt.Sprintf("%d warned", sum.Warned)))
	}
	if sum.Skipped > 0 {
		counts = append(counts, skippedStyle.Render(fmt.Sprintf("%d skipped", sum.Skipped)))
	}
	if sum.Flaky > 0 {
		counts = append(counts, warnedStyle.Render(fmt.Sprintf("%d flaky", sum.Flaky)))
	}
	fmt.Fprintf(w, "Steps: %s %s\n", strings.Join(counts, ", "), dimStyle.Render(fmt.Sprintf("(%d total)", sum.Total)))

	if run.Duration != nil {
		fmt.Fprintf(w, "Time:  %s\n", FormatDuration(*run.Duration))
	}
	if run.Error != nil {
		loc := run.Error.Path
		if run.Error.Line > 0 {
			loc = fmt.Sprintf("%s (line %d)", loc, run.Error.Line)
		}
		fmt.Fprintf(w, "Error: %s %s\n", failedStyle.Render(run.Error.Message), dimStyle.Render(loc))
		if run.Error.Suggestion != "" {
			fmt.Fprintf(w, "       %s\n", dimStyle.Render(run.Error.Suggestion))
		}
	}

	if run.Status == StatusPassed {
		fmt.Fprintln(w, resultPassed.Render("PASSED"))
	} else {
		fmt.Fprintln(w, resultFailed.Render("FAILED"))
	}
}

func glyphFor(s Status) (string, lipgloss.Style) {
	switch s {
	case StatusPassed:
		return GlyphPassed, passedStyle
	case StatusFailed:
		return GlyphFailed, failedStyle
	case StatusSkipped:
		return GlyphSkipped, skippedStyle
	case StatusWarned:
		return GlyphWarned, warnedStyle
	default:
		return GlyphRunning, dimStyle
	}
}

// FormatDuration renders milliseconds as 850ms, 2.3s or 1m 5s.
func FormatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", ms)
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}
