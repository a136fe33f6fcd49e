package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/simple-efficient/toolfactory/internal/config"
	"github.com/simple-efficient/toolfactory/internal/mcp"
	"github.com/simple-efficient/toolfactory/internal/tools"
)

func NewToolsCmd() *cobra.Command {
	var configPath string
	var check bool
	var showSchema bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List tools exposed by the configured MCP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools(cmd.Context(), configPath, check, showSchema)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Server config file (defaults to the configured server directory)")
	cmd.Flags().BoolVar(&check, "check", false, "Check every tool schema and description for completeness")
	cmd.Flags().BoolVar(&showSchema, "schema", false, "Print the schema of the first declared tool as JSON")

	return cmd
}

func runTools(ctx context.Context, configPath string, check, showSchema bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	registry := newRegistry(cfg)
	defer registry.Shutdown()
	loader := mcp.NewLoader(registry)

	adapted, err := loadAdapters(ctx, loader, cfg, configPath)
	if err != nil {
		return err
	}
	if len(adapted) == 0 {
		fmt.Println("No tools found")
		return nil
	}

	if showSchema {
		if configPath == "" {
			return fmt.Errorf("--schema requires --config")
		}
		schemaMap, err := loader.Schema(ctx, configPath)
		if err != nil {
			return err
		}
		encoded, err := json.MarshalIndent(schemaMap, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}

	catalog := tools.NewRegistry()
	byName := make(map[string]*mcp.Tool, len(adapted))
	for _, t := range adapted {
		if err := catalog.Register(t); err != nil {
			return err
		}
		byName[t.Name()] = t
	}

	for _, name := range catalog.Names() {
		t := byName[name]
		fmt.Printf("%s\n    %s\n", name, truncate(t.Description(), 120))
		if check {
			printChecks(t)
		}
	}
	return nil
}

func printChecks(t *mcp.Tool) {
	schemaReport := mcp.CheckToolSchema(t.Parameters())
	descReport := mcp.CheckToolDescription(t.Description())
	if schemaReport.Valid && descReport.Valid {
		fmt.Println("    check: ok")
		return
	}
	for i, issue := range schemaReport.Issues {
		fmt.Printf("    issue: %s (%s)\n", issue, schemaReport.Suggestions[i])
	}
	for i, issue := range descReport.Issues {
		fmt.Printf("    issue: %s (%s)\n", issue, descReport.Suggestions[i])
	}
}

// loadAdapters resolves the tool set from an explicit config file or from
// every *.json document under the configured server directory.
func loadAdapters(ctx context.Context, loader *mcp.Loader, cfg *config.Config, configPath string) ([]*mcp.Tool, error) {
	if configPath != "" {
		return loader.Tools(ctx, configPath)
	}
	merged, err := loader.LoadDir(ctx, cfg.MCP.ConfigDir)
	if err != nil {
		return nil, err
	}
	adapted := make([]*mcp.Tool, 0, len(merged))
	for _, t := range merged {
		adapted = append(adapted, t)
	}
	return adapted, nil
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
