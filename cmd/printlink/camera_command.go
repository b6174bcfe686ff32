package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"printlink/internal/ipc"
)

func newCameraCommand(ctx *commandContext) *cobra.Command {
	var frames int
	var timeout time.Duration
	var dir string
	cmd := &cobra.Command{
		Use:   "camera",
		Short: "Capture frames from the selected printer's camera",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.CameraRequest{Frames: frames, TimeoutMillis: timeout.Milliseconds()}
			if dir != "" {
				abs, err := absolutePath(dir)
				if err != nil {
					return err
				}
				req.Dir = abs
			}
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				resp, err := client.Camera(callCtx, req)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Paths) == 0 {
					fmt.Fprintln(stdout, "No frames received")
					return nil
				}
				for _, path := range resp.Paths {
					fmt.Fprintln(stdout, path)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&frames, "frames", 1, "Number of frames to capture")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Maximum time to wait for frames")
	cmd.Flags().StringVar(&dir, "dir", "", "Directory for captured frames (default: configured output directory)")
	return cmd
}
