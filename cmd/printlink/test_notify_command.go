package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"printlink/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test message to the configured ntfy topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				resp, err := client.TestNotification(callCtx)
				if err != nil {
					return err
				}
				kind := statusWarn
				if resp.Sent {
					kind = statusOK
				}
				message := resp.Message
				if message == "" {
					message = yesNo(resp.Sent)
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintln(stdout, renderStatusLine("Notification", kind, message, shouldColorize(stdout)))
				return nil
			})
		},
	}
}
