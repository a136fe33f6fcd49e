package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/simple-efficient/toolfactory/internal/version"
)

const jsonRPCVersion = "2.0"

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcTransport is the duplex channel a session talks through. Exactly one
// transport exists per live session; all calls happen on the registry loop.
type rpcTransport interface {
	invoke(ctx context.Context, method string, params any) (any, error)
	notify(ctx context.Context, method string, params any) error
	close() error
}

func initializeTransport(ctx context.Context, transport rpcTransport) error {
	if _, err := transport.invoke(ctx, "initialize", buildInitializeParams()); err != nil {
		return fmt.Errorf("initialize mcp session: %w", err)
	}
	if err := transport.notify(ctx, "notifications/initialized", map[string]any{}); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

func buildInitializeParams() map[string]any {
	return map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "toolfactory",
			"version": version.Version,
		},
	}
}

func decodeToolDefinitions(result any) ([]ToolDefinition, error) {
	if result == nil {
		return nil, nil
	}

	var toolsValue any
	switch value := result.(type) {
	case map[string]any:
		toolsValue = value["tools"]
	default:
		toolsValue = value
	}

	items, ok := toolsValue.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected tools/list result shape")
	}

	defs := make([]ToolDefinition, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(stringValue(obj["name"]))
		if name == "" {
			continue
		}
		schema, _ := obj["inputSchema"].(map[string]any)
		defs = append(defs, ToolDefinition{
			Name:        name,
			Description: strings.TrimSpace(stringValue(obj["description"])),
			InputSchema: schema,
		})
	}
	return defs, nil
}

func decodeResources(result any) ([]Resource, error) {
	if result == nil {
		return nil, nil
	}

	obj, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected resources/list result shape")
	}
	items, ok := obj["resources"].([]any)
	if !ok {
		return nil, nil
	}

	resources := make([]Resource, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		uri := strings.TrimSpace(stringValue(entry["uri"]))
		if uri == "" {
			continue
		}
		resources = append(resources, Resource{
			URI:         uri,
			Name:        strings.TrimSpace(stringValue(entry["name"])),
			Description: strings.TrimSpace(stringValue(entry["description"])),
			MimeType:    strings.TrimSpace(stringValue(entry["mimeType"])),
		})
	}
	return resources, nil
}

// extractTextParts collects the text-typed content parts of a tools/call or
// resources/read result, joined with a blank line.
func extractTextParts(v any, key string) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	items, ok := obj[key].([]any)
	if !ok {
		return ""
	}

	parts := make([]string, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if typ := strings.ToLower(strings.TrimSpace(stringValue(entry["type"]))); typ != "" && typ != "text" {
			continue
		}
		text := stringValue(entry["text"])
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}

func callResultIsError(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	isErr, _ := obj["isError"].(bool)
	return isErr
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	switch value := v.(type) {
	case string:
		return value
	default:
		return fmt.Sprint(v)
	}
}

func decodeRPCResponse(payload []byte, expectedID int64) (any, bool, error) {
	var envelope map[string]any
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, false, fmt.Errorf("decode json-rpc response: %w", err)
	}

	// Notifications/messages without ID can be ignored while waiting for the response.
	if _, hasID := envelope["id"]; !hasID {
		return nil, false, nil
	}

	if normalizeRPCID(envelope["id"]) != normalizeRPCID(expectedID) {
		return nil, false, nil
	}

	if errValue, ok := envelope["error"]; ok && errValue != nil {
		parsedErr := rpcError{}
		if raw, err := json.Marshal(errValue); err == nil {
			_ = json.Unmarshal(raw, &parsedErr)
		}
		msg := strings.TrimSpace(parsedErr.Message)
		if msg == "" {
			msg = strings.TrimSpace(fmt.Sprint(errValue))
		}
		if msg == "" {
			msg = "json-rpc request failed"
		}
		return nil, true, errors.New(msg)
	}

	return envelope["result"], true, nil
}

func normalizeRPCID(id any) string {
	switch value := id.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case float64:
		return fmt.Sprintf("%.0f", value)
	case int:
		return fmt.Sprintf("%d", value)
	case int64:
		return fmt.Sprintf("%d", value)
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}
