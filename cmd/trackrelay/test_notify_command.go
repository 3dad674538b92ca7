package main

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"trackrelay/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Publish a test message to the configured ntfy topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					line := cmp.Or(strings.TrimSpace(resp.Message), "Notification not sent")
					if resp.Sent {
						line = "Test notification sent"
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
					return nil
				})
			})
		},
	}
}
