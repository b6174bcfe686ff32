package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"printlink/internal/daemonctl"
	"printlink/internal/ipc"
)

const (
	startWaitTimeout = 10 * time.Second
	stopGracePeriod  = 5 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the printlink daemon and its device session",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				cmd.Context(),
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx),
				startWaitTimeout,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the printlink daemon (closes every device connection)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(cmd.Context(), ctx.configValue(), stopGracePeriod)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.StopAcknowledged {
				fmt.Fprintln(stdout, "Closing device connections...")
			} else {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and device session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(callCtx context.Context, client *ipc.Client) error {
				status, err := client.Status(callCtx)
				if err != nil {
					return err
				}
				if statusJSON {
					return writeJSON(cmd, status)
				}
				printStatus(cmd, status)
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func printStatus(cmd *cobra.Command, status *ipc.StatusResponse) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if status.Running {
		fmt.Fprintln(stdout, renderStatusLine("Session", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(stdout, renderStatusLine("Session", statusWarn, "stopped; run `printlink start`", colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Bridge", statusInfo, status.BridgeURL, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Discovery", discoveryKind(status.DiscoveryRunning), yesNo(status.DiscoveryRunning), colorize))
	fmt.Fprintln(stdout, renderStatusLine("USB hotplug", statusInfo, yesNo(status.HotplugRunning), colorize))
	if status.BackendPort > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Slicing backend", statusOK, fmt.Sprintf("port %d", status.BackendPort), colorize))
	}
	if status.APIAddress != "" {
		fmt.Fprintln(stdout, renderStatusLine("Status API", statusOK, "http://"+status.APIAddress, colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Catalog", statusInfo, status.CatalogPath, colorize))
	if status.LogPath != "" {
		fmt.Fprintln(stdout, renderStatusLine("Log", statusInfo, status.LogPath, colorize))
	}
	fmt.Fprintln(stdout)

	if len(status.Dependencies) > 0 {
		for _, line := range renderSectionHeader("Dependencies", colorize) {
			fmt.Fprintln(stdout, line)
		}
		for _, line := range dependencyLines(status.Dependencies, colorize) {
			fmt.Fprintln(stdout, line)
		}
		fmt.Fprintln(stdout)
	}

	for _, line := range renderSectionHeader("Devices", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if len(status.Devices) == 0 {
		fmt.Fprintln(stdout, "No devices in session")
		return
	}
	for _, dev := range status.Devices {
		label := displayName(dev.Name, dev.ID)
		if dev.Selected {
			label = "* " + label
		}
		message := string(dev.Status)
		if dev.State != "" {
			message += " / " + string(dev.State)
		}
		fmt.Fprintln(stdout, renderStatusLine(label, connectionKind(dev.Status), message, colorize))
	}
}

func dependencyLines(deps []ipc.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(deps))
	for _, dep := range deps {
		if dep.Available {
			lines = append(lines, renderStatusLine(dep.Name, statusOK, fmt.Sprintf("Ready (command: %s)", dep.Command), colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
			detail += " (optional)"
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}

func discoveryKind(running bool) statusKind {
	if running {
		return statusOK
	}
	return statusInfo
}

func displayName(name, id string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return id
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: flagValue(ctx.configFlag),
		SocketPath: flagValue(ctx.socketFlag),
		LogLevel:   ctx.logLevel(),
	}
}
