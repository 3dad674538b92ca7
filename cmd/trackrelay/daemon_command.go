package main

import (
	"github.com/spf13/cobra"

	"trackrelay/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var diagnostic bool
	var development bool
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the trackrelay daemon in the foreground (internal)",
		Hidden:       true,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
				Diagnostic:  diagnostic,
				SocketPath:  ctx.socketOverride(),
			})
		},
	}
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")
	cmd.Flags().BoolVar(&development, "dev", false, "Log at debug level to the console")
	return cmd
}
