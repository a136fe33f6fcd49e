package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Transport kinds derived from a server entry's shape.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

// ServerConfig declares one tool server. Entries with a command spawn a
// subprocess; entries with a url connect over HTTP (SSE by default,
// streamable HTTP when type says so). Immutable once loaded.
type ServerConfig struct {
	Command string            `json:"command,omitempty" mapstructure:"command"`
	Args    []string          `json:"args,omitempty" mapstructure:"args"`
	Env     map[string]string `json:"env,omitempty" mapstructure:"env"`

	URL            string            `json:"url,omitempty" mapstructure:"url"`
	Type           string            `json:"type,omitempty" mapstructure:"type"`
	Headers        map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	SSEReadTimeout int               `json:"sse_read_timeout,omitempty" mapstructure:"sse_read_timeout"` // seconds, 0 means 300
}

// Transport reports which transport this entry selects.
func (s ServerConfig) Transport() string {
	if strings.TrimSpace(s.URL) != "" {
		if strings.TrimSpace(s.Type) == TransportStreamableHTTP {
			return TransportStreamableHTTP
		}
		return TransportSSE
	}
	return TransportStdio
}

// ServersDocument is one declarative multi-server configuration:
// {"mcpServers": {<name>: <ServerConfig>, ...}}.
type ServersDocument struct {
	Servers map[string]ServerConfig
}

// ConfigError reports a missing, malformed, or invalid server document.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid server config: %v", e.Err)
	}
	return fmt.Sprintf("invalid server config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LoadServersFile reads and validates one mcpServers document.
func LoadServersFile(path string) (*ServersDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	doc, err := ParseServersDocument(data)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return doc, nil
}

// ParseServersDocument validates the raw shape of a document and decodes it.
// Shape rules: the top-level "mcpServers" key must map names to objects; a
// "command" entry must be a string and carry an "args" list; a "url" entry
// must be a string with an optional "headers" object; "env", when present,
// must be an object.
func ParseServersDocument(data []byte) (*ServersDocument, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	serversValue, ok := raw["mcpServers"]
	if !ok {
		return nil, fmt.Errorf("missing mcpServers key")
	}
	servers, ok := serversValue.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("mcpServers must be an object")
	}

	for name, entryValue := range servers {
		entry, ok := entryValue.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("server %q must be an object", name)
		}
		_, hasCommand := entry["command"]
		_, hasURL := entry["url"]
		if !hasCommand && !hasURL {
			return nil, fmt.Errorf("server %q: requires a command or a url", name)
		}
		if command, present := entry["command"]; present {
			if _, ok := command.(string); !ok {
				return nil, fmt.Errorf("server %q: command must be a string", name)
			}
			args, present := entry["args"]
			if !present {
				return nil, fmt.Errorf("server %q: command requires an args list", name)
			}
			if _, ok := args.([]any); !ok {
				return nil, fmt.Errorf("server %q: args must be a list", name)
			}
		}
		if url, present := entry["url"]; present {
			if _, ok := url.(string); !ok {
				return nil, fmt.Errorf("server %q: url must be a string", name)
			}
			if headers, present := entry["headers"]; present {
				if _, ok := headers.(map[string]any); !ok {
					return nil, fmt.Errorf("server %q: headers must be an object", name)
				}
			}
		}
		if env, present := entry["env"]; present {
			if _, ok := env.(map[string]any); !ok {
				return nil, fmt.Errorf("server %q: env must be an object", name)
			}
		}
	}

	// Decode via mapstructure so key matching stays tolerant of the same
	// variations the app config accepts. Server names keep their case,
	// which viper's lower-casing would destroy.
	decoded := make(map[string]ServerConfig, len(servers))
	for name, entryValue := range servers {
		var cfg ServerConfig
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName: "mapstructure",
			Result:  &cfg,
			MatchName: func(mapKey, fieldName string) bool {
				return normalizeKey(mapKey) == normalizeKey(fieldName)
			},
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", name, err)
		}
		if err := dec.Decode(entryValue); err != nil {
			return nil, fmt.Errorf("server %q: %w", name, err)
		}
		decoded[name] = cfg
	}

	return &ServersDocument{Servers: decoded}, nil
}
