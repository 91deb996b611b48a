package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"visitsync/internal/ipc"
	"visitsync/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued writes",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueFailedCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueDiscardCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued writes in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, status := range listStatuses {
				if _, ok := queue.ParseStatus(status); !ok {
					return fmt.Errorf("unknown status %q (valid: %s)", status, statusNames())
				}
			}
			return ctx.withStore(func(client *ipc.Client, store *queue.Store) error {
				var items []ipc.QueueItem
				if client != nil {
					resp, err := client.QueueList(listStatuses)
					if err != nil {
						return err
					}
					items = resp.Items
				} else {
					pending, err := store.ListPending(cmd.Context())
					if err != nil {
						return err
					}
					failed, err := store.ListFailed(cmd.Context())
					if err != nil {
						return err
					}
					for _, item := range append(pending, failed...) {
						items = append(items, ipc.FromMutation(item))
					}
				}

				if jsonOutput {
					return writeJSON(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderQueueTable(items, queueTableFull, shouldColorize(out)))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status ("+statusNames()+")")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newQueueFailedCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List writes that exhausted their retries or hit a terminal error",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList([]string{string(queue.StatusFailed)})
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Items)
				}
				if len(resp.Items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No failed writes")
					return nil
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderQueueTable(resp.Items, queueTableFailures, shouldColorize(out)))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a queued write including its body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueDescribe(id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Item)
				}
				out := cmd.OutOrStdout()
				item := resp.Item
				fmt.Fprintf(out, "ID:        %d\n", item.ID)
				fmt.Fprintf(out, "Write:     %s %s\n", item.Method, item.URL)
				fmt.Fprintf(out, "Status:    %s\n", item.Status)
				fmt.Fprintf(out, "Retries:   %d\n", item.RetryCount)
				fmt.Fprintf(out, "Created:   %s\n", item.CreatedAt)
				fmt.Fprintf(out, "Updated:   %s\n", item.UpdatedAt)
				if item.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:     %s\n", item.ErrorMessage)
				}
				if item.Body != "" {
					fmt.Fprintf(out, "Body:\n%s\n", item.Body)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Move failed writes back to pending and sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueRetry(ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retrying %d write(s)\n", resp.Updated)
				return nil
			})
		},
	}
}

func newQueueDiscardCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <id>",
		Short: "Permanently remove a failed write",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.QueueDiscard(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Discarded write %d\n", id)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every queued write",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("clearing discards unsynced clinical data; pass --force to confirm")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueClear()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d write(s)\n", resp.Removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm discarding unsynced writes")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show queue database diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				health, err := client.QueueHealth()
				if err != nil {
					return err
				}
				db, err := client.DatabaseHealth()
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, map[string]any{"queue": health, "database": db})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Total:      %d\n", health.Total)
				fmt.Fprintf(out, "Pending:    %d\n", health.Pending)
				fmt.Fprintf(out, "In flight:  %d\n", health.InFlight)
				fmt.Fprintf(out, "Failed:     %d\n", health.Failed)
				fmt.Fprintf(out, "Database:   %s\n", db.DBPath)
				fmt.Fprintf(out, "Readable:   %s\n", yesNo(db.DatabaseReadable))
				fmt.Fprintf(out, "Integrity:  %s\n", yesNo(db.IntegrityCheck))
				if db.Error != "" {
					fmt.Fprintf(out, "Error:      %s\n", db.Error)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func formatTimestamp(value string) string {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return parsed.Local().Format("2006-01-02 15:04:05")
}

func statusNames() string {
	statuses := queue.AllStatuses()
	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = string(status)
	}
	return strings.Join(names, ", ")
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}
