package mcp

import (
	"errors"
	"fmt"
	"strings"
)

// ToolDefinition describes one operation discovered from a tool server.
// InputSchema is the sanitized parameter schema (type/properties/required).
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Resource describes one URI-addressed data item a server exposes.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

func (r Resource) String() string {
	out := r.URI
	if strings.TrimSpace(r.Name) != "" {
		out += " (" + r.Name + ")"
	}
	if strings.TrimSpace(r.Description) != "" {
		out += ": " + r.Description
	}
	return out
}

// SchemaError reports an upstream operation advertising an incomplete
// parameter schema. Such an operation is never registered.
type SchemaError struct {
	Tool    string
	Missing []string
}

func (e *SchemaError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("missing required fields in schema: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("tool %s: missing required fields in schema: %s", e.Tool, strings.Join(e.Missing, ", "))
}

// ErrRegistryClosed is returned by registry operations after Shutdown.
var ErrRegistryClosed = errors.New("mcp registry is closed")
