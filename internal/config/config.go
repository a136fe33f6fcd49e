package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Log LogConfig `mapstructure:"log"`
	MCP MCPConfig `mapstructure:"mcp"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// MCPConfig tool-server manager settings
type MCPConfig struct {
	// ConfigDir is scanned recursively for *.json server documents by the
	// tools/call/status commands when no --config flag is given.
	ConfigDir string `mapstructure:"config_dir"`
	// ProbeTimeout bounds one liveness probe, in seconds.
	ProbeTimeout int `mapstructure:"probe_timeout"`
	// ShutdownGrace bounds the graceful session close sweep, in seconds.
	ShutdownGrace int `mapstructure:"shutdown_grace"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
		MCP: MCPConfig{
			ConfigDir:     filepath.Join(ConfigDir(), "servers"),
			ProbeTimeout:  8,
			ShutdownGrace: 1,
		},
	}
}

// ConfigDir returns the toolfactory config directory
func ConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".toolfactory")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load loads config from file or returns defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("TOOLFACTORY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to file
func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	if c.MCP.ProbeTimeout < 0 {
		return fmt.Errorf("mcp.probe_timeout must not be negative, got %d", c.MCP.ProbeTimeout)
	}
	if c.MCP.ProbeTimeout == 0 {
		c.MCP.ProbeTimeout = 8
	}

	if c.MCP.ShutdownGrace < 0 {
		return fmt.Errorf("mcp.shutdown_grace must not be negative, got %d", c.MCP.ShutdownGrace)
	}
	if c.MCP.ShutdownGrace == 0 {
		c.MCP.ShutdownGrace = 1
	}

	return nil
}
