package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"visitsync/internal/ipc"
	"visitsync/internal/queue"
)

// Cell widths sized for an 80-column terminal. Long URLs and error messages
// are truncated with an ellipsis rather than wrapped across lines.
const (
	writeCellWidth = 44
	errorCellWidth = 32
)

type queueTableMode int

const (
	// queueTableFull is the replay-order view with status and timestamps.
	queueTableFull queueTableMode = iota
	// queueTableFailures omits status and created; every row is a failed write.
	queueTableFailures
)

func renderQueueTable(items []ipc.QueueItem, mode queueTableMode, colorize bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	switch mode {
	case queueTableFailures:
		tw.AppendHeader(table.Row{"ID", "Write", "Retries", "Error"})
		for _, item := range items {
			tw.AppendRow(table.Row{
				item.ID,
				truncateCell(item.Method+" "+item.URL, writeCellWidth),
				item.RetryCount,
				truncateCell(item.ErrorMessage, errorCellWidth),
			})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
			{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		})
	default:
		tw.AppendHeader(table.Row{"ID", "Write", "Status", "Retries", "Created", "Error"})
		for _, item := range items {
			tw.AppendRow(table.Row{
				item.ID,
				truncateCell(item.Method+" "+item.URL, writeCellWidth),
				item.Status,
				item.RetryCount,
				formatTimestamp(item.CreatedAt),
				truncateCell(item.ErrorMessage, errorCellWidth),
			})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
			{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		})
	}

	if colorize {
		statusColumn := 2
		if mode == queueTableFailures {
			statusColumn = -1
		}
		tw.SetRowPainter(func(row table.Row) text.Colors {
			if statusColumn < 0 {
				return text.Colors{text.FgRed}
			}
			status, ok := row[statusColumn].(string)
			if !ok {
				return nil
			}
			return statusRowColors(status)
		})
	}

	return tw.Render()
}

func statusRowColors(status string) text.Colors {
	switch queue.Status(status) {
	case queue.StatusFailed:
		return text.Colors{text.FgRed}
	case queue.StatusInFlight:
		return text.Colors{text.FgYellow}
	default:
		return nil
	}
}

func truncateCell(value string, max int) string {
	if max <= 1 || len(value) <= max {
		return value
	}
	return value[:max-1] + "…"
}
