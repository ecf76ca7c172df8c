package explainer

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// report writes the verbose construction log.
type report struct {
	w     io.Writer
	color bool
}

func newReport(w io.Writer, color bool) *report {
	return &report{w: w, color: color}
}

func (r *report) paint(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}

func (r *report) start() {
	fmt.Fprintln(r.w, "Preparation of a new explainer is initiated")
}

func (r *report) item(name, value, note string) {
	line := fmt.Sprintf("  -> %-17s:  %s", name, value)
	if note != "" {
		line += " " + note
	}
	fmt.Fprintf(r.w, "%s %s\n", line, r.paint(okStyle, "OK"))
}

func (r *report) warn(name, msg string) {
	fmt.Fprintf(r.w, "  -> %-17s:  %s\n", name, r.paint(warnStyle, msg))
}

func (r *report) fail(name string, err error) {
	fmt.Fprintf(r.w, "  -> %-17s:  %s\n", name, r.paint(failStyle, "error: "+err.Error()))
}

func (r *report) done() {
	fmt.Fprintln(r.w, r.paint(okStyle, "  A new explainer has been created!"))
}

// summary renders min, mean and max of xs.
func summary(xs []float64) string {
	if len(xs) == 0 {
		return "empty"
	}
	return fmt.Sprintf("numerical, min = %.4g, mean = %.4g, max = %.4g",
		floats.Min(xs), stat.Mean(xs, nil), floats.Max(xs))
}
