package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/simple-efficient/toolfactory/internal/config"
)

// Session is one live connection to a tool server. It remembers the
// descriptor it was built from so the registry can rebuild it when a
// liveness probe fails.
type Session struct {
	serverName   string
	clientID     string
	descriptor   config.ServerConfig
	transport    rpcTransport
	tools        []ToolDefinition
	hasResources bool
}

// connectSession dials the server, runs the protocol handshake and fetches
// the tool list. Any failure tears the transport down before returning.
func connectSession(ctx context.Context, serverName, clientID string, cfg config.ServerConfig) (*Session, error) {
	transport, err := dialTransport(ctx, serverName, cfg)
	if err != nil {
		return nil, err
	}

	session := &Session{
		serverName: serverName,
		clientID:   clientID,
		descriptor: cfg,
		transport:  transport,
	}

	if err := initializeTransport(ctx, transport); err != nil {
		session.Close()
		return nil, fmt.Errorf("initialize server %q: %w", serverName, err)
	}

	tools, err := session.fetchTools(ctx)
	if err != nil {
		session.Close()
		return nil, err
	}
	session.tools = tools
	session.hasResources = session.probeResources(ctx)

	slog.Debug("mcp session established",
		"server", serverName,
		"client_id", clientID,
		"transport", cfg.Transport(),
		"tools", len(tools))
	return session, nil
}

func dialTransport(ctx context.Context, serverName string, cfg config.ServerConfig) (rpcTransport, error) {
	switch cfg.Transport() {
	case config.TransportStdio:
		return newStdioTransport(serverName, cfg)
	case config.TransportSSE:
		return newSSETransport(ctx, serverName, cfg)
	case config.TransportStreamableHTTP:
		return newStreamableTransport(serverName, cfg)
	default:
		return nil, fmt.Errorf("server %q: unknown transport %q", serverName, cfg.Transport())
	}
}

func (s *Session) ServerName() string { return s.serverName }

func (s *Session) ClientID() string { return s.clientID }

// Descriptor returns the immutable configuration the session was built from.
func (s *Session) Descriptor() config.ServerConfig { return s.descriptor }

// Tools returns the sanitized tool definitions captured during connect.
func (s *Session) Tools() []ToolDefinition { return s.tools }

func (s *Session) HasResources() bool { return s.hasResources }

// Process returns the subprocess handle for stdio sessions, nil otherwise.
func (s *Session) Process() *os.Process {
	type processHolder interface{ process() *os.Process }
	if holder, ok := s.transport.(processHolder); ok {
		return holder.process()
	}
	return nil
}

// fetchTools lists the server's tools and sanitizes every input schema. A
// schema missing its type or properties keys fails the whole connect: a tool
// that cannot be safely invoked must not be registered.
func (s *Session) fetchTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := s.transport.invoke(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("list tools for server %q: %w", s.serverName, err)
	}
	tools, err := decodeToolDefinitions(result)
	if err != nil {
		return nil, fmt.Errorf("list tools for server %q: %w", s.serverName, err)
	}
	for i := range tools {
		sanitized, err := sanitizeInputSchema(tools[i].Name, tools[i].InputSchema)
		if err != nil {
			return nil, err
		}
		tools[i].InputSchema = sanitized
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools, nil
}

// probeResources is best effort: servers without resource support commonly
// reject the method outright.
func (s *Session) probeResources(ctx context.Context) bool {
	result, err := s.transport.invoke(ctx, "resources/list", map[string]any{})
	if err != nil {
		slog.Debug("server does not expose resources", "server", s.serverName, "error", err)
		return false
	}
	resources, err := decodeResources(result)
	if err != nil {
		return false
	}
	return len(resources) > 0
}

// Ping probes session liveness before an execute is dispatched.
func (s *Session) Ping(ctx context.Context) error {
	if _, err := s.transport.invoke(ctx, "ping", map[string]any{}); err != nil {
		return fmt.Errorf("ping server %q: %w", s.serverName, err)
	}
	return nil
}

// Execute runs one operation against the server. The synthetic resource
// operations turn their own failures into plain result strings so a broken
// resource listing never aborts a caller; forwarded tool calls propagate
// transport errors.
func (s *Session) Execute(ctx context.Context, toolName string, args map[string]any) (string, error) {
	switch toolName {
	case "list_resources":
		return s.executeListResources(ctx), nil
	case "read_resource":
		return s.executeReadResource(ctx, args), nil
	default:
		return s.executeCall(ctx, toolName, args)
	}
}

func (s *Session) executeListResources(ctx context.Context) string {
	result, err := s.transport.invoke(ctx, "resources/list", map[string]any{})
	if err != nil {
		slog.Info("listing resources failed", "server", s.serverName, "error", err)
		return fmt.Sprintf("Error: %v", err)
	}
	resources, err := decodeResources(result)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if len(resources) == 0 {
		return "No resources found"
	}
	lines := make([]string, 0, len(resources))
	for _, resource := range resources {
		lines = append(lines, resource.String())
	}
	return strings.Join(lines, "\n\n")
}

func (s *Session) executeReadResource(ctx context.Context, args map[string]any) string {
	uri, _ := args["uri"].(string)
	if uri == "" {
		return "Error: URI is required for read_resource"
	}
	result, err := s.transport.invoke(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		slog.Info("reading resource failed", "server", s.serverName, "uri", uri, "error", err)
		return fmt.Sprintf("Error: %v", err)
	}
	if text := extractTextParts(result, "contents"); text != "" {
		return text
	}
	return "Failed to read resource"
}

func (s *Session) executeCall(ctx context.Context, toolName string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := s.transport.invoke(ctx, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("call tool %q on server %q: %w", toolName, s.serverName, err)
	}
	if callResultIsError(result) {
		slog.Debug("tool reported an error result", "server", s.serverName, "tool", toolName)
	}
	if text := extractTextParts(result, "content"); text != "" {
		return text, nil
	}
	return "execute error", nil
}

// Close releases the underlying transport. Safe to call more than once and
// after a half-finished connect.
func (s *Session) Close() error {
	if s.transport == nil {
		return nil
	}
	return s.transport.close()
}
