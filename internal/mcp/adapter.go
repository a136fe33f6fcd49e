package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const (
	listResourcesDescription = "Servers expose a list of concrete resources through this tool. " +
		"By invoking it, you can discover the available resources and obtain resource templates, which help clients understand how to construct valid URIs. " +
		"These URI formats will be used as input parameters for the read_resource function."
	readResourceDescription = "Request to access a resource provided by a connected MCP server. " +
		"Resources represent data sources that can be used as context, such as files, API responses, or system information."
)

// Tool adapts one remote operation into an invokable tool. It binds the
// display name, description and parameter schema to the registry routing key
// needed to dispatch a call back to the owning session.
type Tool struct {
	registry   *Registry
	clientID   string
	serverName string
	operation  string
	name       string
	desc       string
	params     map[string]any
}

var _ tool.InvokableTool = (*Tool)(nil)

func newTool(registry *Registry, clientID, serverName string, def ToolDefinition) *Tool {
	return &Tool{
		registry:   registry,
		clientID:   clientID,
		serverName: serverName,
		operation:  def.Name,
		name:       serverName + "-" + def.Name,
		desc:       def.Description,
		params:     def.InputSchema,
	}
}

// syntheticResourceTools builds the two resource operations advertised for
// every session that reports resource support.
func syntheticResourceTools(registry *Registry, clientID, serverName string) []*Tool {
	return []*Tool{
		{
			registry:   registry,
			clientID:   clientID,
			serverName: serverName,
			operation:  "list_resources",
			name:       serverName + "-list_resources",
			desc:       listResourcesDescription,
			params: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
				"required":   []any{},
			},
		},
		{
			registry:   registry,
			clientID:   clientID,
			serverName: serverName,
			operation:  "read_resource",
			name:       serverName + "-read_resource",
			desc:       readResourceDescription,
			params: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"uri": map[string]any{
						"type":        "string",
						"description": "The URI identifying the specific resource to access",
					},
				},
				"required": []any{"uri"},
			},
		},
	}
}

func (t *Tool) Name() string { return t.name }

func (t *Tool) Description() string { return t.desc }

// Parameters returns the sanitized JSON schema of the tool's input.
func (t *Tool) Parameters() map[string]any { return t.params }

func (t *Tool) ClientID() string { return t.clientID }

func (t *Tool) ServerName() string { return t.serverName }

func (t *Tool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        t.name,
		Desc:        t.desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(paramsFromSchema(t.params)),
	}, nil
}

// InvokableRun dispatches the call through the registry. Every failure is
// folded into the result string so callers never see an error from an
// adapted tool.
func (t *Tool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	args, err := canonicalArguments(argumentsInJSON)
	if err != nil {
		return fmt.Sprintf("Tool call error: %v", err), nil
	}
	result, err := t.registry.CallTool(ctx, t.clientID, t.operation, args)
	if err != nil {
		return fmt.Sprintf("Tool call error: %v", err), nil
	}
	return result, nil
}

// canonicalArguments normalizes the argument encodings seen in the wild into
// one flat object. Callers either pass the object directly or smuggle it
// through string-typed "args"/"kwargs" members, sometimes with = in place
// of : between keys and values.
func canonicalArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}

	argsRaw, hasArgs := decoded["args"].(string)
	kwargsRaw, hasKwargs := decoded["kwargs"].(string)
	if !hasArgs || !hasKwargs {
		return decoded, nil
	}

	params := map[string]any{}
	if fragment := strings.TrimSpace(kwargsRaw); fragment != "" {
		var kwargs map[string]any
		if err := json.Unmarshal([]byte(fragment), &kwargs); err != nil {
			repaired := strings.ReplaceAll(fragment, `="`, `:"`)
			repaired = strings.ReplaceAll(repaired, `"="`, `":"`)
			if err := json.Unmarshal([]byte(repaired), &kwargs); err == nil {
				for key, value := range kwargs {
					params[key] = value
				}
			}
		} else {
			for key, value := range kwargs {
				params[key] = value
			}
		}
	}
	if fragment := strings.TrimSpace(argsRaw); fragment != "" {
		var args map[string]any
		if err := json.Unmarshal([]byte(fragment), &args); err == nil {
			for key, value := range args {
				params[key] = value
			}
		}
	}
	return params, nil
}

// paramsFromSchema converts a sanitized JSON schema into the parameter form
// the tool-calling layer consumes.
func paramsFromSchema(schemaMap map[string]any) map[string]*schema.ParameterInfo {
	properties, _ := schemaMap["properties"].(map[string]any)
	required := map[string]bool{}
	if list, ok := schemaMap["required"].([]any); ok {
		for _, entry := range list {
			if name, ok := entry.(string); ok {
				required[name] = true
			}
		}
	}

	params := make(map[string]*schema.ParameterInfo, len(properties))
	for name, rawProp := range properties {
		prop, ok := rawProp.(map[string]any)
		if !ok {
			continue
		}
		info := parameterInfo(prop)
		info.Required = required[name]
		params[name] = info
	}
	return params
}

func parameterInfo(prop map[string]any) *schema.ParameterInfo {
	info := &schema.ParameterInfo{
		Type: dataTypeOf(stringValue(prop["type"])),
	}
	if desc, ok := prop["description"].(string); ok {
		info.Desc = desc
	}
	if enum, ok := prop["enum"].([]any); ok {
		for _, entry := range enum {
			if value, ok := entry.(string); ok {
				info.Enum = append(info.Enum, value)
			}
		}
	}
	switch info.Type {
	case schema.Array:
		if items, ok := prop["items"].(map[string]any); ok {
			info.ElemInfo = parameterInfo(items)
		} else {
			info.ElemInfo = &schema.ParameterInfo{Type: schema.String}
		}
	case schema.Object:
		if nested, ok := prop["properties"].(map[string]any); ok {
			sub := make(map[string]*schema.ParameterInfo, len(nested))
			nestedRequired := map[string]bool{}
			if list, ok := prop["required"].([]any); ok {
				for _, entry := range list {
					if name, ok := entry.(string); ok {
						nestedRequired[name] = true
					}
				}
			}
			for name, rawSub := range nested {
				subProp, ok := rawSub.(map[string]any)
				if !ok {
					continue
				}
				subInfo := parameterInfo(subProp)
				subInfo.Required = nestedRequired[name]
				sub[name] = subInfo
			}
			info.SubParams = sub
		}
	}
	return info
}

func dataTypeOf(schemaType string) schema.DataType {
	switch schemaType {
	case "string":
		return schema.String
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	case "null":
		return schema.Null
	default:
		return schema.String
	}
}
