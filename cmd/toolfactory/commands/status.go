package commands

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/simple-efficient/toolfactory/internal/config"
	"github.com/simple-efficient/toolfactory/internal/mcp"
)

func NewStatusCmd() *cobra.Command {
	var configPath string
	var probe bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configured MCP servers and their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, probe)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Server config file (defaults to the configured server directory)")
	cmd.Flags().BoolVar(&probe, "probe", false, "Connect to every server and report its tool count")

	return cmd
}

type serverStatus struct {
	Name      string
	Transport string
	Target    string
	State     string
	ToolCount int
}

func runStatus(cmd *cobra.Command, configPath string, probe bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	paths, err := serverConfigPaths(cfg, configPath)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Println("No server config files found")
		return nil
	}

	var rows []serverStatus
	for _, path := range paths {
		doc, err := config.LoadServersFile(path)
		if err != nil {
			fmt.Printf("skipping %s: %v\n", path, err)
			continue
		}

		names := make([]string, 0, len(doc.Servers))
		for name := range doc.Servers {
			names = append(names, name)
		}
		sort.Strings(names)

		toolCounts := map[string]int{}
		var probeErr error
		if probe {
			toolCounts, probeErr = probeServers(cmd, cfg, path)
		}

		for _, name := range names {
			serverCfg := doc.Servers[name]
			row := serverStatus{
				Name:      name,
				Transport: serverCfg.Transport(),
				Target:    serverTarget(serverCfg),
				State:     "declared",
			}
			if probe {
				if probeErr != nil {
					row.State = "error: " + probeErr.Error()
				} else {
					row.State = "connected"
					row.ToolCount = toolCounts[name]
				}
			}
			rows = append(rows, row)
		}
	}

	renderStatusTable(rows, probe)
	return nil
}

// probeServers connects every server in one config file and reports adapter
// counts per server.
func probeServers(cmd *cobra.Command, cfg *config.Config, path string) (map[string]int, error) {
	registry := newRegistry(cfg)
	defer registry.Shutdown()
	loader := mcp.NewLoader(registry)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.MCP.ProbeTimeout)*time.Second)
	defer cancel()

	adapted, err := loader.Tools(ctx, path)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, t := range adapted {
		counts[t.ServerName()]++
	}
	return counts, nil
}

func serverTarget(serverCfg config.ServerConfig) string {
	if serverCfg.URL != "" {
		return serverCfg.URL
	}
	return strings.TrimSpace(serverCfg.Command + " " + strings.Join(serverCfg.Args, " "))
}

func serverConfigPaths(cfg *config.Config, configPath string) ([]string, error) {
	if configPath != "" {
		return []string{configPath}, nil
	}
	var paths []string
	err := filepath.WalkDir(cfg.MCP.ConfigDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func renderStatusTable(rows []serverStatus, probe bool) {
	var (
		headerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#8E4EC6")).
				Padding(0, 1).
				MarginBottom(1)

		wName      = 22
		wTransport = 17
		wTarget    = 40
		wState     = 24

		colHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#8E4EC6")).
				Bold(true).
				MarginRight(1)

		nameStyle = lipgloss.NewStyle().
				Width(wName).
				MarginRight(1)

		transportStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Width(wTransport).
				MarginRight(1)

		targetStyle = lipgloss.NewStyle().
				Width(wTarget).
				MarginRight(1)

		stateStyleBase = lipgloss.NewStyle().
				Width(wState).
				MarginRight(1)

		connectedColor = lipgloss.Color("#2E8B57")
		errorColor     = lipgloss.Color("#CD5C5C")
		declaredColor  = lipgloss.Color("241")
	)

	fmt.Println(headerStyle.Render("MCP Servers"))

	headers := lipgloss.JoinHorizontal(lipgloss.Top,
		colHeaderStyle.Width(wName).Render("NAME"),
		colHeaderStyle.Width(wTransport).Render("TRANSPORT"),
		colHeaderStyle.Width(wTarget).Render("TARGET"),
		colHeaderStyle.Width(wState).Render("STATE"),
	)
	fmt.Println(headers)

	for _, row := range rows {
		stateColor := declaredColor
		state := row.State
		switch {
		case row.State == "connected":
			stateColor = connectedColor
			if probe {
				state = fmt.Sprintf("connected (%d tools)", row.ToolCount)
			}
		case strings.HasPrefix(row.State, "error"):
			stateColor = errorColor
		}

		line := lipgloss.JoinHorizontal(lipgloss.Top,
			nameStyle.Render(truncate(row.Name, wName)),
			transportStyle.Render(row.Transport),
			targetStyle.Render(truncate(row.Target, wTarget)),
			stateStyleBase.Foreground(stateColor).Render(truncate(state, wState)),
		)
		fmt.Println(line)
	}
}
