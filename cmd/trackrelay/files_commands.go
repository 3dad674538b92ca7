package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"trackrelay/internal/api"
	"trackrelay/internal/ipc"
)

func newFilesCommand(ctx *commandContext) *cobra.Command {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "Manage delivered and retained output files",
	}
	filesCmd.AddCommand(newFilesListCommand(ctx))
	filesCmd.AddCommand(newFilesCleanCommand(ctx))
	filesCmd.AddCommand(newFilesSweepCommand(ctx))
	return filesCmd
}

func newFilesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Files()
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp.Artifacts, func() error {
					out := cmd.OutOrStdout()
					if len(resp.Artifacts) == 0 {
						fmt.Fprintln(out, "No files")
						return nil
					}
					fmt.Fprint(out, renderTable(
						[]string{"ID", "Task", "Size", "Codec", "Created", "Expires", "Path"},
						buildArtifactRows(resp.Artifacts),
						[]columnAlignment{alignLeft, alignLeft, alignRight},
					))
					return nil
				})
			})
		},
	}
}

func newFilesCleanCommand(ctx *commandContext) *cobra.Command {
	var requester string
	var olderThan int
	var all bool

	cmd := &cobra.Command{
		Use:   "clean [taskID...]",
		Short: "Delete artifacts regardless of expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.FilesCleanRequest{
				TaskIDs:        args,
				RequesterID:    requester,
				OlderThanHours: olderThan,
				All:            all,
			}
			if len(args) == 0 && requester == "" && olderThan <= 0 && !all {
				return errors.New("select files with task IDs, --requester, --older-than, or --all")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.FilesClean(req)
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files\n", len(resp.Removed))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&requester, "requester", "r", "", "Only files produced for this requester")
	cmd.Flags().IntVar(&olderThan, "older-than", 0, "Only files older than this many hours")
	cmd.Flags().BoolVar(&all, "all", false, "Every live file")
	return cmd
}

func newFilesSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired artifacts now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.FilesSweep()
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Swept %d expired files\n", len(resp.Removed))
					return nil
				})
			})
		},
	}
}

func buildArtifactRows(artifacts []api.ArtifactItem) [][]string {
	rows := make([][]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		expires := "never"
		if artifact.ExpiresAt != "" {
			expires = api.RelativeTime(artifact.ExpiresAt)
		}
		rows = append(rows, []string{
			artifact.ID,
			artifact.TaskID,
			api.HumanSize(artifact.Size),
			artifact.Codec,
			api.RelativeTime(artifact.CreatedAt),
			expires,
			artifact.Path,
		})
	}
	return rows
}
