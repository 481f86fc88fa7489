// Package tui renders CLI output for the cleaning workflow: run reports,
// previews, and step progress. Plain streaming output, no full-screen TUI.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/cleanflow/cleanflow/pkg/dataset"
	"github.com/cleanflow/cleanflow/pkg/history"
)

// Colors
var (
	accent  = lipgloss.Color("#FF8800")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	failure = lipgloss.Color("#FF3333")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(failure).Bold(true)
)

// PrintHeader prints the tool banner.
func PrintHeader(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  CLEANFLOW") + mutedStyle.Render(" v"+version))
	fmt.Println(mutedStyle.Render("  Multi-tenant dataset cleaning pipeline"))
	fmt.Println()
}

// PrintDiagnostics prints a dataset health summary.
func PrintDiagnostics(d dataset.Diagnostics) {
	fmt.Println()
	fmt.Println(accentStyle.Render("▸ DIAGNOSTICS"))
	fmt.Printf("  %s %d rows × %d columns, %d duplicate rows\n",
		mutedStyle.Render("Shape:"), d.RowCount, d.ColumnCount, d.DuplicateRows)
	for _, c := range d.Columns {
		fmt.Printf("  %s %s  nulls=%d (%.1f%%)  distinct=%d\n",
			mutedStyle.Render("·"),
			titleStyle.Render(padRight(c.Name, 24)),
			c.NullCount, c.NullRatio*100, c.DistinctCount)
	}
}

// PrintHistory prints the active history suffix, newest last.
func PrintHistory(entries []history.Entry) {
	fmt.Println()
	fmt.Println(accentStyle.Render("▸ HISTORY"))
	if len(entries) == 0 {
		fmt.Println(mutedStyle.Render("  (empty)"))
		return
	}
	for _, e := range entries {
		marker := successStyle.Render("✓")
		if e.Outcome == history.OutcomeFailed {
			marker = failureStyle.Render("✗")
		}
		fmt.Printf("  %s %2d  %s %s\n",
			marker, e.Position,
			titleStyle.Render(e.Step.Action),
			mutedStyle.Render(formatParams(e.Step.Params)))
	}
}

// PrintPreview prints the first rows of a result preview.
func PrintPreview(columns []string, rows []map[string]interface{}, limit int) {
	fmt.Println()
	fmt.Println(accentStyle.Render("▸ PREVIEW"))
	fmt.Println("  " + mutedStyle.Render(strings.Join(columns, "  ")))
	for i, row := range rows {
		if i >= limit {
			fmt.Println(mutedStyle.Render(fmt.Sprintf("  … %d more rows", len(rows)-limit)))
			break
		}
		cells := make([]string, len(columns))
		for j, col := range columns {
			cells[j] = fmt.Sprintf("%v", row[col])
		}
		fmt.Println("  " + strings.Join(cells, "  "))
	}
}

// RunReport summarizes a finished run.
type RunReport struct {
	Steps     int
	RowCount  int
	ColCount  int
	Duration  time.Duration
	Committed string
}

// PrintRunReport prints results after a pipeline run.
func PrintRunReport(r RunReport) {
	fmt.Println()
	fmt.Println(successStyle.Render("  ✓ RUN COMPLETE"))
	fmt.Printf("  %s %d steps, %d rows × %d columns\n",
		mutedStyle.Render("Result:"), r.Steps, r.RowCount, r.ColCount)
	if r.Duration > 0 {
		fmt.Printf("  %s %s\n", mutedStyle.Render("Time:"), formatDuration(r.Duration))
	}
	if r.Committed != "" {
		fmt.Printf("  %s %s\n", mutedStyle.Render("Committed:"), titleStyle.Render(r.Committed))
	}
	fmt.Println()
}

// PrintError prints a failed run.
func PrintError(err error) {
	fmt.Println()
	fmt.Println(failureStyle.Render("  ✗ " + err.Error()))
	fmt.Println()
}

// StepProgress creates a progress bar across the steps of a plan.
func StepProgress(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("applying steps"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func formatParams(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	parts := make([]string, 0, len(params))
	for k, v := range params {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
