package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trackrelay/internal/ipc"
)

func newDBHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "db-health",
		Short: "Check queue database health (schema, integrity, counts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DatabaseHealth()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database path: %s\n", resp.DBPath)
				fmt.Fprintf(out, "Schema version: %d\n", resp.SchemaVersion)
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(resp.IntegrityCheck))
				fmt.Fprintf(out, "Tasks: %d\n", resp.TaskCount)
				fmt.Fprintf(out, "Artifacts: %d\n", resp.ArtifactCount)
				if resp.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", resp.Error)
				}
				return nil
			})
		},
	}
}
