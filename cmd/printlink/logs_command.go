package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"printlink/internal/ipc"
)

const logFollowWaitMillis = 1000

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow bool
		lines  int
		match  string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the current daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Negative offsets read the tail; zero reads from the start.
			req := ipc.LogTailRequest{Offset: -1, Limit: lines, Follow: follow, WaitMillis: logFollowWaitMillis, Match: match}
			if lines <= 0 {
				req.Offset, req.Limit = 0, 0
			}
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				return streamLogs(callCtx, client, req, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines as they are written")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of trailing lines to show (0 for all)")
	cmd.Flags().StringVar(&match, "match", "", "Only show lines containing this text")
	return cmd
}

func streamLogs(ctx context.Context, client *ipc.Client, req ipc.LogTailRequest, out io.Writer) error {
	printed := 0
	for {
		resp, err := client.LogTail(ctx, req)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tail logs: %w", err)
		}
		for _, line := range resp.Lines {
			fmt.Fprintln(out, line)
		}
		printed += len(resp.Lines)
		if !req.Follow {
			if printed == 0 {
				fmt.Fprintln(out, "No log entries available")
			}
			return nil
		}
		req.Offset, req.Limit = resp.Offset, 0
	}
}
