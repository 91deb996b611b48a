package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"visitsync/internal/ipc"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Trigger an immediate replay of queued writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.SyncNow(); err != nil {
					return err
				}
				status, err := client.Status()
				if err != nil {
					return err
				}
				if status.Sync.PendingCount == 0 && status.Sync.Status == "idle" {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty, nothing to sync")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sync triggered (%d pending)\n", status.Sync.PendingCount)
				return nil
			})
		},
	}
}
