package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"printlink/internal/ipc"
	"printlink/internal/protocol"
)

const defaultPruneAge = 30 * 24 * time.Hour

func newDeviceCommands(ctx *commandContext) []*cobra.Command {
	var devicesJSON bool
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List known printers and their connection state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				resp, err := client.Devices(callCtx)
				if err != nil {
					return err
				}
				if devicesJSON {
					return writeJSON(cmd, resp.Devices)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Devices) == 0 {
					fmt.Fprintln(stdout, "No devices discovered")
					return nil
				}
				printTable(stdout,
					[]string{"", "ID", "Name", "Connection", "State", "Password", "Last Seen"},
					buildDeviceRows(resp.Devices),
				)
				return nil
			})
		},
	}
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "Output devices as JSON")

	var password string
	selectCmd := &cobra.Command{
		Use:   "select <id|name>",
		Short: "Select the printer that later commands act on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				return selectDevice(callCtx, cmd, client, args[0], password)
			})
		},
	}
	selectCmd.Flags().StringVar(&password, "password", "", "Device password (prompted for when required and omitted)")

	rescanCmd := &cobra.Command{
		Use:   "rescan",
		Short: "Ask the discovery feed to announce devices again",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				resp, err := client.Rescan(callCtx)
				if err != nil {
					return err
				}
				if resp.Triggered {
					fmt.Fprintln(cmd.OutOrStdout(), "Rescan requested")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Discovery is not running")
				}
				return nil
			})
		},
	}

	var maxAge time.Duration
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Forget devices that have not been seen recently",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				resp, err := client.Prune(callCtx, maxAge)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d device(s)\n", resp.Removed)
				return nil
			})
		},
	}
	pruneCmd.Flags().DurationVar(&maxAge, "max-age", defaultPruneAge, "Remove devices not seen within this duration")

	return []*cobra.Command{devicesCmd, selectCmd, rescanCmd, pruneCmd}
}

// selectDevice selects ref, prompting for a password for as long as the
// device keeps asking for one. An empty answer abandons the attempt.
func selectDevice(ctx context.Context, cmd *cobra.Command, client *ipc.Client, ref, password string) error {
	stdout := cmd.OutOrStdout()
	prompter := newPasswordPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())

	resp, err := client.Select(ctx, ref, password)
	for err == nil && resp.Status == protocol.ConnAuthRequired {
		name := displayName(resp.Name, resp.ID)
		if resp.Rejected {
			fmt.Fprintf(cmd.ErrOrStderr(), "Password rejected by %s\n", name)
		}
		answer, promptErr := prompter.read(fmt.Sprintf("Password for %s: ", name))
		if promptErr != nil {
			return promptErr
		}
		if answer == "" {
			return fmt.Errorf("select %s: device requires a password", name)
		}
		resp, err = client.Select(ctx, ref, answer)
	}
	if err != nil {
		return err
	}

	name := displayName(resp.Name, resp.ID)
	switch resp.Status {
	case protocol.ConnConnected:
		fmt.Fprintf(stdout, "Selected %s (%s)\n", name, resp.ID)
	default:
		fmt.Fprintf(stdout, "Selected %s (%s): %s\n", name, resp.ID, resp.Status)
	}
	return nil
}

func buildDeviceRows(devices []ipc.DeviceInfo) [][]string {
	rows := make([][]string, 0, len(devices))
	for _, dev := range devices {
		marker := ""
		if dev.Selected {
			marker = "*"
		}
		state := string(dev.State)
		if state == "" {
			state = "-"
		}
		connection := string(dev.Connection)
		if dev.LastError != "" {
			connection = fmt.Sprintf("%s (%s)", connection, dev.LastError)
		}
		rows = append(rows, []string{
			marker,
			dev.ID,
			strings.TrimSpace(dev.Name),
			connection,
			state,
			yesNo(dev.PasswordRequired),
			formatSeen(dev.LastSeen),
		})
	}
	return rows
}

func formatSeen(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04")
}
