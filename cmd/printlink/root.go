package main

import (
	"github.com/spf13/cobra"
)

var commandGroups = []*cobra.Group{
	{ID: "daemon", Title: "Daemon:"},
	{ID: "devices", Title: "Devices:"},
	{ID: "jobs", Title: "Jobs:"},
	{ID: "files", Title: "Printer storage:"},
	{ID: "tools", Title: "Tools:"},
}

func newRootCommand() *cobra.Command {
	var socketFlag, configFlag, logLevelFlag string
	ctx := newCommandContext(&socketFlag, &configFlag, &logLevelFlag)

	rootCmd := &cobra.Command{
		Use:           "printlink",
		Short:         "Control 3D printers and the slicing backend through the local bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&socketFlag, "socket", "", "Path to the printlink daemon socket")
	flags.StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	flags.StringVar(&logLevelFlag, "log-level", "", "Daemon log level (debug, info, warn, error)")

	rootCmd.AddGroup(commandGroups...)
	grouped := map[string][]*cobra.Command{
		"daemon":  append(newDaemonCommands(ctx), newLogsCommand(ctx)),
		"devices": append(newDeviceCommands(ctx), newCameraCommand(ctx)),
		"jobs":    newJobCommands(ctx),
		"files":   newFileCommands(ctx),
		"tools":   {newSliceCommand(ctx), newTestNotifyCommand(ctx), newConfigCommand(ctx)},
	}
	for id, cmds := range grouped {
		for _, cmd := range cmds {
			cmd.GroupID = id
			rootCmd.AddCommand(cmd)
		}
	}
	rootCmd.AddCommand(newDaemonRunCommand(ctx))
	return rootCmd
}
