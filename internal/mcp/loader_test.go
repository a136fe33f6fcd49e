package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/simple-efficient/toolfactory/internal/config"
)

func writeHelperConfig(t *testing.T, dir, name string) string {
	t.Helper()

	cfg := helperServerConfig()
	doc := map[string]any{
		"mcpServers": map[string]any{
			"local": map[string]any{
				"command": cfg.Command,
				"args":    cfg.Args,
				"env":     cfg.Env,
			},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoaderLoad_CacheHitReturnsIdenticalMap(t *testing.T) {
	registry := NewRegistry()
	defer registry.Shutdown()
	loader := NewLoader(registry)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := writeHelperConfig(t, t.TempDir(), "servers.json")

	first, err := loader.Load(ctx, path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected one adapter, got %d", len(first))
	}

	second, err := loader.Load(ctx, path)
	if err != nil {
		t.Fatalf("second Load() error: %v", err)
	}
	if reflect.ValueOf(first).Pointer() != reflect.ValueOf(second).Pointer() {
		t.Fatal("expected the cached map object on a repeat load")
	}
}

func TestLoaderLoad_MalformedConfigs(t *testing.T) {
	registry := NewRegistry()
	defer registry.Shutdown()
	loader := NewLoader(registry)

	dir := t.TempDir()
	cases := map[string]string{
		"missing_servers.json":  `{"servers":{}}`,
		"entry_not_object.json": `{"mcpServers":{"bad":42}}`,
		"command_no_args.json":  `{"mcpServers":{"bad":{"command":"echo"}}}`,
	}

	for name, content := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}

		_, err := loader.Load(context.Background(), path)
		var cfgErr *config.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s: expected ConfigError, got %v", name, err)
		}
	}
}

func TestLoaderLoadDir_SkipsBrokenFiles(t *testing.T) {
	registry := NewRegistry()
	defer registry.Shutdown()
	loader := NewLoader(registry)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dir := t.TempDir()
	writeHelperConfig(t, dir, "good.json")
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"mcpServers":`), 0644); err != nil {
		t.Fatalf("write broken config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	merged, err := loader.LoadDir(ctx, dir)
	if err != nil {
		t.Fatalf("LoadDir() error: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected one adapter from the good file, got %d", len(merged))
	}
	if _, ok := merged["local-echo"]; !ok {
		t.Fatalf("expected local-echo adapter, got %v", merged)
	}
}

func TestLoaderLoadDir_MissingDirIsEmpty(t *testing.T) {
	registry := NewRegistry()
	defer registry.Shutdown()
	loader := NewLoader(registry)

	merged, err := loader.LoadDir(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("LoadDir() error: %v", err)
	}
	if len(merged) != 0 {
		t.Fatalf("expected no adapters for a missing directory, got %d", len(merged))
	}
}

func TestLoaderSchema_FirstToolOnly(t *testing.T) {
	registry := NewRegistry()
	defer registry.Shutdown()
	loader := NewLoader(registry)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := writeHelperConfig(t, t.TempDir(), "servers.json")

	schemaMap, err := loader.Schema(ctx, path)
	if err != nil {
		t.Fatalf("Schema() error: %v", err)
	}
	if len(schemaMap) != 1 {
		t.Fatalf("expected the first tool only, got %v", schemaMap)
	}
	entry, ok := schemaMap["local-echo"]
	if !ok {
		t.Fatalf("expected local-echo entry, got %v", schemaMap)
	}
	if entry.Description != "Echo tool" {
		t.Fatalf("unexpected description: %q", entry.Description)
	}
	if _, ok := entry.Parameters["properties"]; !ok {
		t.Fatalf("expected sanitized parameters, got %v", entry.Parameters)
	}
}

func TestSchemaOf(t *testing.T) {
	adapter := newTool(nil, "files_x", "files", ToolDefinition{
		Name:        "read",
		Description: "Reads a file.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	})

	schemaMap := SchemaOf(adapter)
	entry, ok := schemaMap["files-read"]
	if !ok {
		t.Fatalf("expected files-read entry, got %v", schemaMap)
	}
	if entry.Description != "Reads a file." {
		t.Fatalf("unexpected description: %q", entry.Description)
	}
}
