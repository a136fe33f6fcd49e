package mcp

import (
	"fmt"
	"sort"
	"strings"
)

// Report is the structured result of a schema or description check. Checks
// never fail with an error; every finding pairs one issue with one
// suggestion so a caller can surface both to whoever maintains the tool.
type Report struct {
	Valid       bool
	Issues      []string
	Suggestions []string
	Parameters  map[string]any
}

func (r *Report) addIssue(issue, suggestion string) {
	r.Valid = false
	r.Issues = append(r.Issues, issue)
	r.Suggestions = append(r.Suggestions, suggestion)
}

// CheckToolSchema inspects a tool's parameter schema for completeness:
// the top-level type/properties/required fields, a type on every declared
// property, and required entries that actually exist under properties.
func CheckToolSchema(params map[string]any) Report {
	report := Report{Valid: true, Parameters: params}

	if params == nil {
		report.addIssue(
			"No parameters found, unable to check parameter format.",
			"Please add a parameters schema to the tool.",
		)
		return report
	}

	for _, field := range []string{"type", "properties", "required"} {
		if _, ok := params[field]; !ok {
			report.addIssue(
				fmt.Sprintf("Missing top-level field: %s", field),
				fmt.Sprintf("Please add the %s field in parameters.", field),
			)
		}
	}

	if props, ok := params["properties"].(map[string]any); ok {
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sub, _ := props[name].(map[string]any)
			if _, ok := sub["type"]; !ok {
				report.addIssue(
					fmt.Sprintf("Parameter %s is missing the type field.", name),
					fmt.Sprintf("Please add the type field for parameter %s.", name),
				)
			}
		}
	}

	if required, ok := params["required"].([]any); ok {
		props, _ := params["properties"].(map[string]any)
		for _, entry := range required {
			name := stringValue(entry)
			if _, declared := props[name]; !declared {
				report.addIssue(
					fmt.Sprintf("Required parameter %s is not defined in properties.", name),
					fmt.Sprintf("Please add the required parameter %s in properties.", name),
				)
			}
		}
	}

	return report
}

// CheckToolDescription inspects a tool description for presence and enough
// substance to be useful to a model choosing between tools.
func CheckToolDescription(description string) Report {
	report := Report{Valid: true}

	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		report.addIssue(
			"Description is missing or empty.",
			"Please add a description for the tool, briefly explaining its function and usage.",
		)
		return report
	}
	if len(trimmed) < 6 {
		report.addIssue(
			"Description is too short to fully reflect the tool's function and usage.",
			"Please provide a more detailed description, explaining the tool's function, input/output, and typical usage.",
		)
	}

	return report
}

// IsToolSchema reports whether a full tool descriptor conforms to the
// strict contract: exactly name/description/parameters, and parameters
// carrying exactly an object type, a properties map, and a required list
// that is a subset of properties.
func IsToolSchema(descriptor map[string]any) bool {
	if len(descriptor) != 3 {
		return false
	}
	name, ok := descriptor["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return false
	}
	if _, ok := descriptor["description"].(string); !ok {
		return false
	}
	params, ok := descriptor["parameters"].(map[string]any)
	if !ok || len(params) != 3 {
		return false
	}
	if typ, ok := params["type"].(string); !ok || typ != "object" {
		return false
	}
	props, ok := params["properties"].(map[string]any)
	if !ok {
		return false
	}
	required, ok := params["required"].([]any)
	if !ok {
		if typed, okTyped := params["required"].([]string); okTyped {
			for _, entry := range typed {
				if _, declared := props[entry]; !declared {
					return false
				}
			}
			return true
		}
		return false
	}
	for _, entry := range required {
		name, ok := entry.(string)
		if !ok {
			return false
		}
		if _, declared := props[name]; !declared {
			return false
		}
	}
	return true
}

// sanitizeInputSchema reduces an upstream inputSchema to the three fields
// the adapter contract allows, defaulting required to empty. A schema with
// no type or properties cannot be invoked safely and is rejected.
func sanitizeInputSchema(toolName string, raw map[string]any) (map[string]any, error) {
	if raw == nil {
		return nil, &SchemaError{Tool: toolName, Missing: []string{"properties", "type"}}
	}

	missing := make([]string, 0, 2)
	for _, field := range []string{"properties", "type"} {
		if _, ok := raw[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Tool: toolName, Missing: missing}
	}

	required, ok := raw["required"]
	if !ok || required == nil {
		required = []any{}
	}
	return map[string]any{
		"type":       raw["type"],
		"properties": raw["properties"],
		"required":   required,
	}, nil
}
