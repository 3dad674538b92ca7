package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"trackrelay/internal/api"
	"trackrelay/internal/ipc"
)

const passwordEnv = "TRACKRELAY_PASSWORD"

func newWrapperCommand(ctx *commandContext) *cobra.Command {
	wrapperCmd := &cobra.Command{
		Use:   "wrapper",
		Short: "Inspect and control the wrapper backend",
	}

	wrapperCmd.AddCommand(newWrapperActionCommand(ctx, "status", "Show wrapper health", (*ipc.Client).Wrapper))
	wrapperCmd.AddCommand(newWrapperActionCommand(ctx, "start", "Start the wrapper and resume probing", (*ipc.Client).WrapperStart))
	wrapperCmd.AddCommand(newWrapperActionCommand(ctx, "stop", "Stop the wrapper (native mode) and pause probing", (*ipc.Client).WrapperStop))
	wrapperCmd.AddCommand(newWrapperActionCommand(ctx, "build", "Build the native wrapper image", (*ipc.Client).WrapperBuild))
	wrapperCmd.AddCommand(newWrapperAccountsCommand(ctx))
	wrapperCmd.AddCommand(newWrapperLoginCommand(ctx))
	wrapperCmd.AddCommand(newWrapperLogoutCommand(ctx))

	return wrapperCmd
}

func newWrapperActionCommand(ctx *commandContext, use, short string, call func(*ipc.Client) (*ipc.WrapperResponse, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := call(client)
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					out := cmd.OutOrStdout()
					if resp.Message != "" {
						fmt.Fprintln(out, resp.Message)
					}
					fmt.Fprint(out, renderWrapperDetail(resp.Wrapper))
					return nil
				})
			})
		},
	}
}

func newWrapperAccountsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List wrapper account sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Wrapper()
				if err != nil {
					return err
				}
				accounts := resp.Wrapper.Accounts
				return emit(cmd, ctx, accounts, func() error {
					out := cmd.OutOrStdout()
					if len(accounts) == 0 {
						fmt.Fprintln(out, "No accounts")
						return nil
					}
					rows := make([][]string, 0, len(accounts))
					for _, account := range accounts {
						rows = append(rows, []string{account.Account, yesNo(account.Authenticated), yesNo(account.Pending2FA)})
					}
					fmt.Fprint(out, renderTable([]string{"Account", "Authenticated", "Awaiting 2FA"}, rows, nil))
					return nil
				})
			})
		},
	}
}

func newWrapperLoginCommand(ctx *commandContext) *cobra.Command {
	var password, code string

	cmd := &cobra.Command{
		Use:   "login <account>",
		Short: "Log an account into the wrapper",
		Long: "Log an account into the wrapper. The password is read from --password, the " +
			passwordEnv + " environment variable, or stdin. When the wrapper asks for a " +
			"two-factor code, run the command again with --code.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.LoginRequest{Account: strings.TrimSpace(args[0]), Code: strings.TrimSpace(code)}
			if req.Code == "" {
				secret, err := resolvePassword(cmd, password)
				if err != nil {
					return err
				}
				req.Password = secret
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Login(req)
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					out := cmd.OutOrStdout()
					switch {
					case resp.Need2FA:
						fmt.Fprintf(out, "Two-factor code required; rerun with: trackrelay wrapper login %s --code <code>\n", req.Account)
					case resp.Code == 0:
						fmt.Fprintf(out, "Logged in %s\n", req.Account)
					default:
						msg := resp.Message
						if msg == "" {
							msg = "code " + strconv.Itoa(resp.Code)
						}
						return fmt.Errorf("login failed: %s", msg)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Account password (prefer "+passwordEnv+" or stdin)")
	cmd.Flags().StringVar(&code, "code", "", "Two-factor code for a pending login")
	return cmd
}

func newWrapperLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <account>",
		Short: "End an account session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				account := strings.TrimSpace(args[0])
				resp, err := client.Logout(account)
				if err != nil {
					return err
				}
				return emit(cmd, ctx, resp, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Logged out %s\n", account)
					return nil
				})
			})
		},
	}
}

func resolvePassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(passwordEnv); env != "" {
		return env, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

func renderWrapperDetail(status api.WrapperStatus) string {
	line := api.WrapperLine(status)
	restarts := ""
	if status.Restarts > 0 {
		restarts = strconv.Itoa(status.Restarts)
	}
	failures := ""
	if status.ConsecutiveFailures > 0 {
		failures = strconv.Itoa(status.ConsecutiveFailures)
	}
	pid := ""
	if status.PID > 0 {
		pid = strconv.Itoa(status.PID)
	}
	return renderKeyValues([][2]string{
		{"State", fmt.Sprintf("%s [%s]", status.State, strings.ToUpper(line.Severity))},
		{"Mode", status.Mode},
		{"Endpoint", status.Endpoint},
		{"PID", pid},
		{"Session", yesNo(status.SessionValid)},
		{"Regions", strings.Join(status.Regions, ", ")},
		{"Last probe", api.RelativeTime(status.LastProbe)},
		{"Failures", failures},
		{"Restarts", restarts},
		{"Last error", status.LastError},
	})
}
