package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/simple-efficient/toolfactory/internal/config"
	"github.com/simple-efficient/toolfactory/internal/mcp"
	"github.com/simple-efficient/toolfactory/internal/tools"
)

func NewCallCmd() *cobra.Command {
	var configPath string
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "call <tool-name>",
		Short: "Invoke one tool on a configured MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			registry := newRegistry(cfg)
			defer registry.Shutdown()
			loader := mcp.NewLoader(registry)

			adapted, err := loadAdapters(cmd.Context(), loader, cfg, configPath)
			if err != nil {
				return err
			}

			catalog := tools.NewRegistry()
			for _, t := range adapted {
				if err := catalog.Register(t); err != nil {
					return err
				}
			}

			result, err := catalog.Execute(cmd.Context(), args[0], argsJSON)
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Server config file (defaults to the configured server directory)")
	cmd.Flags().StringVarP(&argsJSON, "args", "a", "{}", "Tool arguments as a JSON object")

	return cmd
}
