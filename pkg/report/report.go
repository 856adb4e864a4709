// Package report renders the outcome of a batch for humans.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	pgrab "github.com/pgrab/pgrab/pkg"
	"github.com/pgrab/pgrab/pkg/logging"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = cellStyle.Foreground(lipgloss.Color("2"))
	failStyle   = cellStyle.Foreground(lipgloss.Color("1"))
)

const (
	statusOK     = "OK"
	statusFailed = "FAILED"
	statusColumn = 1
)

var headers = []string{"#", "Status", "Size", "Strategy", "Elapsed", "Error", "File"}

// Render writes the summary table to w and logs the batch totals.
func Render(w io.Writer, summary pgrab.Summary) error {
	rows := make([][]string, 0, len(summary.Results))
	for _, result := range summary.Results {
		rows = append(rows, row(result))
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(r, c int) lipgloss.Style {
			if r == table.HeaderRow {
				return headerStyle
			}
			if c == statusColumn && r >= 0 && r < len(rows) {
				if rows[r][statusColumn] == statusOK {
					return okStyle
				}
				return failStyle
			}
			return cellStyle
		})

	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	logMetrics(summary)
	return nil
}

func row(result pgrab.TaskResult) []string {
	outcome := result.Outcome
	status, size, strategy, errKind := statusOK, humanize.Bytes(uint64(outcome.BytesWritten)), string(outcome.Path), ""
	if !outcome.Succeeded {
		status, size, strategy = statusFailed, "-", "-"
		errKind = outcome.FailureKind().String()
	}
	if outcome.FellBack && outcome.Succeeded {
		strategy += " (fallback)"
	}
	file := result.Output
	if file == "" {
		file = result.Task.Dest
	}
	return []string{
		strconv.Itoa(result.Task.Index),
		status,
		size,
		strategy,
		fmt.Sprintf("%.3fs", result.Elapsed().Seconds()),
		errKind,
		file,
	}
}

func logMetrics(summary pgrab.Summary) {
	logger := logging.GetLogger()
	total := summary.BytesWritten()
	throughput := humanize.Bytes(uint64(float64(total) / summary.Elapsed.Seconds()))
	logger.Info().
		Str("mode", summary.Mode.String()).
		Int("files", len(summary.Results)).
		Int("succeeded", len(summary.Succeeded())).
		Int("failed", len(summary.Failed())).
		Str("total_size", humanize.Bytes(uint64(total))).
		Str("throughput", fmt.Sprintf("%s/s", throughput)).
		Str("elapsed", fmt.Sprintf("%.3fs", summary.Elapsed.Seconds())).
		Msg("Metrics")
}
