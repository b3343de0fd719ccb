// Package cli implements the usblog command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/ardnew/usblog/config"
)

// NewRootCommand returns the usblog command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "usblog",
		Short:         "usblog device simulator and log decoder",
		Long:          "usblog streams binary log frames over USB CDC-ACM. This CLI runs a simulated device and host, and decodes captured streams.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logConfig(cmd, config.Default().Log).Apply()
		},
	}
	root.PersistentFlags().String("log-level", "", "Diagnostic log level: debug|info|warn|error")
	root.PersistentFlags().String("log-format", "", "Diagnostic log format: text|json")

	root.AddCommand(newSimCommand())
	root.AddCommand(newDecodeCommand())
	return root
}

// logConfig overrides base with the log flags the user set.
func logConfig(cmd *cobra.Command, base config.LogConfig) config.LogConfig {
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		base.Level = f.Value.String()
	}
	if f := cmd.Flags().Lookup("log-format"); f != nil && f.Changed {
		base.Format = f.Value.String()
	}
	return base
}
