package mcp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/simple-efficient/toolfactory/internal/config"
)

// Loader turns server config files into connected adapter sets, with a
// read-through cache keyed by config path. Cache entries are immutable once
// populated, so repeat loads of the same path return the identical map
// without touching the registry again.
type Loader struct {
	registry *Registry

	mu    sync.Mutex
	cache map[string]*loadResult
}

type loadResult struct {
	tools  []*Tool
	byName map[string]*Tool
}

// ToolSchema is the introspection view of one adapted tool.
type ToolSchema struct {
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description"`
}

func NewLoader(registry *Registry) *Loader {
	return &Loader{
		registry: registry,
		cache:    make(map[string]*loadResult),
	}
}

// Load reads the config at path, connects every declared server and returns
// the adapters keyed by display name.
func (l *Loader) Load(ctx context.Context, path string) (map[string]*Tool, error) {
	result, err := l.load(ctx, path)
	if err != nil {
		return nil, err
	}
	return result.byName, nil
}

// Tools is Load preserving declaration order.
func (l *Loader) Tools(ctx context.Context, path string) ([]*Tool, error) {
	result, err := l.load(ctx, path)
	if err != nil {
		return nil, err
	}
	return result.tools, nil
}

func (l *Loader) load(ctx context.Context, path string) (*loadResult, error) {
	key := cacheKey(path)

	l.mu.Lock()
	if cached, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return cached, nil
	}
	l.mu.Unlock()

	doc, err := config.LoadServersFile(path)
	if err != nil {
		return nil, err
	}
	tools, err := l.registry.Initialize(ctx, doc)
	if err != nil {
		return nil, err
	}

	result := &loadResult{
		tools:  tools,
		byName: make(map[string]*Tool, len(tools)),
	}
	for _, t := range tools {
		result.byName[t.Name()] = t
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// A racing load of the same path wins if it populated first.
	if cached, ok := l.cache[key]; ok {
		return cached, nil
	}
	l.cache[key] = result
	return result, nil
}

// LoadDir walks dir for *.json config files and merges their adapters.
// Files that fail to load or connect are skipped with a warning; a config
// directory that does not exist yet yields no tools, same as an empty one.
func (l *Loader) LoadDir(ctx context.Context, dir string) (map[string]*Tool, error) {
	merged := make(map[string]*Tool)
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		loaded, loadErr := l.Load(ctx, path)
		if loadErr != nil {
			slog.Warn("skipping tool config", "path", path, "error", loadErr)
			return nil
		}
		for name, t := range loaded {
			merged[name] = t
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk config dir %q: %w", dir, err)
	}
	return merged, nil
}

// Schema loads the config at path and returns the schema of the first
// declared tool only, keyed by its display name.
func (l *Loader) Schema(ctx context.Context, path string) (map[string]ToolSchema, error) {
	tools, err := l.Tools(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(tools) == 0 {
		return map[string]ToolSchema{}, nil
	}
	return SchemaOf(tools[0]), nil
}

// SchemaOf returns the introspection view of one tool.
func SchemaOf(t *Tool) map[string]ToolSchema {
	return map[string]ToolSchema{
		t.Name(): {
			Parameters:  t.Parameters(),
			Description: t.Description(),
		},
	}
}

func cacheKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
