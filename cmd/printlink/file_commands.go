package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"printlink/internal/ipc"
)

func newFileCommands(ctx *commandContext) []*cobra.Command {
	var lsJSON bool
	lsCmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List stored job files on the selected printer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				resp, err := client.ListFiles(callCtx, dir)
				if err != nil {
					return err
				}
				if lsJSON {
					return writeJSON(cmd, resp.Listing)
				}
				stdout := cmd.OutOrStdout()
				listing := resp.Listing
				if len(listing.Directories) == 0 && len(listing.Files) == 0 {
					fmt.Fprintln(stdout, "Directory is empty")
					return nil
				}
				rows := make([][]string, 0, len(listing.Directories)+len(listing.Files))
				for _, name := range sortedCopy(listing.Directories) {
					rows = append(rows, []string{"dir", name})
				}
				for _, name := range sortedCopy(listing.Files) {
					rows = append(rows, []string{"file", name})
				}
				printTable(stdout, []string{"Type", "Name"}, rows)
				return nil
			})
		},
	}
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "Output the listing as JSON")

	var infoJSON bool
	infoCmd := &cobra.Command{
		Use:   "info <dir> <name>",
		Short: "Show metadata for a stored job file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				resp, err := client.FileInfo(callCtx, args[0], args[1])
				if err != nil {
					return err
				}
				if infoJSON {
					return writeJSON(cmd, resp.Info)
				}
				info := resp.Info
				rows := [][]string{{"path", info.Path}, {"name", info.Name}}
				if info.Size != nil {
					rows = append(rows, []string{"size", fmt.Sprintf("%.0f", *info.Size)})
				}
				keys := make([]string, 0, len(info.Fields))
				for key := range info.Fields {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					rows = append(rows, []string{key, info.Fields[key]})
				}
				printTable(cmd.OutOrStdout(), []string{"Field", "Value"}, rows)
				return nil
			})
		},
	}
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output file info as JSON")

	var previewOutput string
	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Save the current job's preview image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				resp, err := client.Preview(callCtx)
				if err != nil {
					return err
				}
				if len(resp.Image) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No preview available")
					return nil
				}
				if err := os.WriteFile(previewOutput, resp.Image, 0o644); err != nil {
					return fmt.Errorf("write preview: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Preview written to %s (%d bytes)\n", previewOutput, len(resp.Image))
				return nil
			})
		},
	}
	previewCmd.Flags().StringVarP(&previewOutput, "output", "o", "preview.png", "File to write the preview image to")

	printCmd := &cobra.Command{
		Use:   "print <file>",
		Short: "Upload a job file to the selected printer and start it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := absolutePath(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Uploading %s...\n", filepath.Base(path))
				resp, err := client.Print(callCtx, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d bytes; printer is %s\n", resp.Bytes, resp.State)
				return nil
			})
		},
	}

	return []*cobra.Command{lsCmd, infoCmd, previewCmd, printCmd}
}

// absolutePath resolves path against the CLI's working directory, since the
// daemon reads files from its own.
func absolutePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
