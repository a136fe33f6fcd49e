package commands

import (
	"github.com/spf13/cobra"

	"github.com/simple-efficient/toolfactory/internal/config"
)

var logLevelOverride string

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toolfactory",
		Short: "Toolfactory - MCP tool server connection manager",
		Long:  `Toolfactory connects declared MCP tool servers and exposes their operations as invokable tools.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewToolsCmd(),
		NewCallCmd(),
		NewStatusCmd(),
		NewVersionCmd(),
	)

	return cmd
}
