package main

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// tableColumn describes one column of a rendered listing.
type tableColumn struct {
	Header string
	Align  text.Align
}

var (
	planColumns = []tableColumn{
		{"#", text.AlignRight},
		{"Step", text.AlignLeft},
		{"Image", text.AlignLeft},
		{"Input", text.AlignLeft},
		{"Output", text.AlignLeft},
		{"After", text.AlignLeft},
	}
	runColumns = []tableColumn{
		{"ID", text.AlignRight},
		{"Started", text.AlignLeft},
		{"Pipeline", text.AlignLeft},
		{"Backends", text.AlignLeft},
		{"State", text.AlignLeft},
		{"Duration", text.AlignRight},
		{"Exit", text.AlignRight},
	}
	leakedColumns = []tableColumn{
		{"Volume", text.AlignLeft},
		{"Backend", text.AlignLeft},
		{"Run", text.AlignRight},
		{"State", text.AlignLeft},
	}
)

// renderTable lays rows out under columns. Missing or blank cells render as "-".
func renderTable(columns []tableColumn, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.Header
		configs[i] = table.ColumnConfig{Number: i + 1, Align: col.Align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		cells := make(table.Row, len(columns))
		for i := range columns {
			cells[i] = "-"
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				cells[i] = row[i]
			}
		}
		tw.AppendRow(cells)
	}
	return tw.Render()
}
