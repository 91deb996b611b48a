package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"visitsync/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, connectivity, and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				for _, line := range renderSectionHeader("Visitsync Daemon", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Daemon", boolKind(status.Running), runningText(status.Running), colorize))
				fmt.Fprintln(out, renderStatusLine("Connectivity", boolKind(status.Online), onlineText(status.Online), colorize))
				fmt.Fprintln(out, renderStatusLine("Sync", syncKind(status), syncText(status), colorize))
				fmt.Fprintln(out, renderStatusLine("Pending writes", countKind(status.Sync.PendingCount), fmt.Sprintf("%d", status.Sync.PendingCount), colorize))
				fmt.Fprintln(out, renderStatusLine("Failed writes", failedKind(status.Sync.FailedCount), fmt.Sprintf("%d", status.Sync.FailedCount), colorize))
				if !status.Sync.LastSyncAt.IsZero() {
					fmt.Fprintln(out, renderStatusLine("Last sync", statusInfo, status.Sync.LastSyncAt.Local().Format("2006-01-02 15:04:05"), colorize))
				}
				if status.CacheDBPath != "" {
					fmt.Fprintln(out, renderStatusLine("Cached responses", statusInfo, fmt.Sprintf("%d", status.CacheEntries), colorize))
				}
				fmt.Fprintln(out, renderStatusLine("Proxy", statusInfo, status.ProxyAddr, colorize))
				fmt.Fprintln(out, renderStatusLine("Queue database", statusInfo, status.QueueDBPath, colorize))
				fmt.Fprintln(out, renderStatusLine("PID", statusInfo, fmt.Sprintf("%d", status.PID), colorize))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func runningText(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

func onlineText(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

func syncText(status *ipc.StatusResponse) string {
	if status.Sync.Status == "syncing" && status.Sync.CurrentItem != "" {
		return "syncing " + status.Sync.CurrentItem
	}
	return string(status.Sync.Status)
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusWarn
}

func syncKind(status *ipc.StatusResponse) statusKind {
	if status.Sync.Status == "syncing" {
		return statusInfo
	}
	return statusOK
}

func countKind(n int) statusKind {
	if n > 0 {
		return statusInfo
	}
	return statusOK
}

func failedKind(n int) statusKind {
	if n > 0 {
		return statusError
	}
	return statusOK
}

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 18
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := "[" + statusKindLabel(kind) + "]"
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
