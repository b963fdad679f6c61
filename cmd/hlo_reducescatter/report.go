// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)
)

// reportColumns and their alignment.
var reportColumns = []struct {
	title     string
	alignment lipgloss.Position
}{
	{"File", lipgloss.Left},
	{"Module", lipgloss.Left},
	{"All-Reduces", lipgloss.Right},
	{"Rewrites", lipgloss.Right},
	{"Bytes Saved", lipgloss.Right},
	{"Status", lipgloss.Left},
}

// reportTable builds the table with one row per result, failed ones in red, plus a row with the totals.
func reportTable(results []result) *lgtable.Table {
	failed := make(map[int]bool)
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			switch {
			case failed[row]:
				s = redRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			return s.Align(reportColumns[col].alignment)
		})
	headers := make([]string, len(reportColumns))
	for ii, column := range reportColumns {
		headers[ii] = column.title
	}
	table.Headers(headers...)

	var total result
	for row, r := range results {
		if r.err != nil {
			failed[row] = true
		}
		table.Row(r.path, r.module, humanize.Comma(int64(r.stats.AllReduces)), humanize.Comma(int64(r.stats.Rewrites)),
			humanize.Bytes(r.stats.BytesSaved), status(r))
		total.stats.AllReduces += r.stats.AllReduces
		total.stats.Rewrites += r.stats.Rewrites
		total.stats.BytesSaved += r.stats.BytesSaved
	}
	if len(results) > 1 {
		table.Row("Total", fmt.Sprintf("%d files", len(results)), humanize.Comma(int64(total.stats.AllReduces)),
			humanize.Comma(int64(total.stats.Rewrites)), humanize.Bytes(total.stats.BytesSaved),
			fmt.Sprintf("%d failed", countFailed(results)))
	}
	return table
}

// status of a result, as displayed in the report.
func status(r result) string {
	switch {
	case r.err != nil:
		return "failed"
	case !r.changed:
		return "unchanged"
	case r.verified && r.outputPath != "":
		return "verified, saved to " + r.outputPath
	case r.verified:
		return "verified"
	case r.outputPath != "":
		return "saved to " + r.outputPath
	}
	return "converted"
}
