package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"printlink/internal/ipc"
	"printlink/internal/protocol"
)

func newJobCommands(ctx *commandContext) []*cobra.Command {
	var reportJSON bool
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Show the selected printer's job status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				resp, err := client.Command(callCtx, "report")
				if err != nil {
					return err
				}
				if reportJSON {
					return writeJSON(cmd, resp)
				}
				printReport(cmd, resp)
				return nil
			})
		},
	}
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Output the report as JSON")

	commands := []*cobra.Command{reportCmd}
	for _, entry := range []struct {
		name  string
		short string
	}{
		{"pause", "Pause the running job"},
		{"resume", "Resume a paused job"},
		{"abort", "Abort the current job"},
		{"quit", "Return the printer to idle after a job"},
	} {
		commands = append(commands, newJobControlCommand(ctx, entry.name, entry.short))
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear a finished or aborted job so the printer accepts a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				resp, err := client.Clear(callCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Printer is %s\n", resp.State)
				return nil
			})
		},
	}
	return append(commands, clearCmd)
}

func newJobControlCommand(ctx *commandContext, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				resp, err := client.Command(callCtx, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: printer is %s\n", resp.Command, resp.State)
				return nil
			})
		},
	}
}

func printReport(cmd *cobra.Command, resp *ipc.CommandResponse) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)
	for _, line := range renderSectionHeader("Job", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if resp.Report == nil {
		fmt.Fprintln(stdout, renderStatusLine("State", statusInfo, string(resp.State), colorize))
		return
	}
	report := resp.Report
	fmt.Fprintln(stdout, renderStatusLine("State", stateKind(report.State), string(report.State), colorize))
	if report.Progress != nil {
		fmt.Fprintln(stdout, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%.0f%%", *report.Progress*100), colorize))
	}
	if report.Temperature != nil {
		temp := fmt.Sprintf("%.1f°C", *report.Temperature)
		if report.TargetTemperature != nil {
			temp += fmt.Sprintf(" / %.1f°C", *report.TargetTemperature)
		}
		fmt.Fprintln(stdout, renderStatusLine("Temperature", statusInfo, temp, colorize))
	}
	if len(report.ErrorLabels) > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Errors", statusError, strings.Join(report.ErrorLabels, ", "), colorize))
	}
	if report.Sanitized {
		fmt.Fprintln(stdout, renderStatusLine("Payload", statusWarn, "report was malformed; some fields were dropped", colorize))
	}
}

func stateKind(state protocol.OperationalState) statusKind {
	switch state {
	case protocol.StateRunning, protocol.StateCompleted:
		return statusOK
	case protocol.StatePaused:
		return statusWarn
	case protocol.StateAborted:
		return statusError
	default:
		return statusInfo
	}
}
