package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"printlink/internal/ipc"
)

func newSliceCommand(ctx *commandContext) *cobra.Command {
	var engine string
	var settings []string
	var mode string
	var viaPath bool
	var output string
	cmd := &cobra.Command{
		Use:   "slice <model>...",
		Short: "Slice model files into a printable job on the slicing backend",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.SliceRequest{Engine: engine, Mode: mode, ViaPath: viaPath}
			for _, arg := range args {
				path, err := absolutePath(arg)
				if err != nil {
					return err
				}
				req.Models = append(req.Models, path)
			}
			parsed, err := parseSettings(settings)
			if err != nil {
				return err
			}
			req.Settings = parsed
			if output != "" {
				abs, err := absolutePath(output)
				if err != nil {
					return err
				}
				req.Output = abs
			}

			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Slicing %d model(s)...\n", len(req.Models))
				resp, err := client.Slice(callCtx, req)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Wrote %s (%d bytes)\n", resp.Path, resp.Bytes)
				if resp.Time > 0 {
					fmt.Fprintf(stdout, "Estimated print time: %.0fs\n", resp.Time)
				}
				if resp.Filament > 0 {
					fmt.Fprintf(stdout, "Estimated filament: %.2f\n", resp.Filament)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&engine, "engine", "", "Slicing engine (default: configured engine)")
	cmd.Flags().StringArrayVar(&settings, "set", nil, "Engine setting override as name=value (repeatable)")
	cmd.Flags().StringVar(&mode, "mode", "", "Slicing mode passed to the engine")
	cmd.Flags().BoolVar(&viaPath, "via-path", false, "Pass model paths to the backend instead of uploading them")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output job file (default: configured output directory)")
	return cmd
}

func parseSettings(values []string) ([]ipc.SliceSetting, error) {
	settings := make([]ipc.SliceSetting, 0, len(values))
	for _, value := range values {
		name, setting, ok := strings.Cut(value, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid setting %q: expected name=value", value)
		}
		settings = append(settings, ipc.SliceSetting{Name: name, Value: strings.TrimSpace(setting)})
	}
	return settings, nil
}
