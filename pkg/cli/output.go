package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/devicelab-dev/ditto-runner/pkg/element"
	"github.com/devicelab-dev/ditto-runner/pkg/validator"
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boldStyle = lipgloss.NewStyle().Bold(true)
)

// printValidationErrors lists errors one per line, grouped under their file.
func printValidationErrors(w io.Writer, errs []error) {
	lastFile := ""
	for _, err := range errs {
		var ve *validator.ValidationError
		if !errors.As(err, &ve) {
			fmt.Fprintf(w, "  %s %v\n", failStyle.Render("✗"), err)
			continue
		}
		if ve.File != lastFile {
			fmt.Fprintf(w, "%s %s\n", failStyle.Render("✗"), boldStyle.Render(ve.File))
			lastFile = ve.File
		}
		loc := ve.Path
		if ve.Line > 0 {
			loc = fmt.Sprintf("line %d %s", ve.Line, ve.Path)
		}
		fmt.Fprintf(w, "    %s %s %s\n", dimStyle.Render(strings.TrimSpace(loc)), ve.Message, dimStyle.Render("("+ve.Phase+")"))
	}
}

// matchLine renders a located element:
// Button id=login text="Login" @(300,250) [95% excellent]
func matchLine(m element.Match) string {
	e := m.Element
	parts := []string{"  " + shortName(e.Class, ".")}
	if e.ResourceID != "" {
		parts = append(parts, "id="+shortName(e.ResourceID, "/"))
	}
	if e.Text != "" {
		parts = append(parts, fmt.Sprintf("text=%q", truncate(e.Text, 30)))
	}
	if e.ContentDesc != "" {
		parts = append(parts, fmt.Sprintf("desc=%q", truncate(e.ContentDesc, 20)))
	}
	parts = append(parts, fmt.Sprintf("@(%d,%d)", m.X, m.Y))
	parts = append(parts, confidenceStyle(m.Confidence).Render(
		fmt.Sprintf("[%.0f%% %s]", m.Confidence*100, element.ConfidenceLabel(m.Confidence))))
	return strings.Join(parts, " ")
}

func confidenceStyle(score float64) lipgloss.Style {
	switch {
	case score >= 0.7:
		return passStyle
	case score >= 0.5:
		return dimStyle
	}
	return failStyle
}

func shortName(s, sep string) string {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[i+1:]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
