package mcp

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestCanonicalArguments_EncodingsMatch(t *testing.T) {
	direct, err := canonicalArguments(`{"a":1,"b":"x"}`)
	if err != nil {
		t.Fatalf("direct object: %v", err)
	}
	fragments, err := canonicalArguments(`{"args":"{\"a\":1}","kwargs":"{\"b\":\"x\"}"}`)
	if err != nil {
		t.Fatalf("args/kwargs fragments: %v", err)
	}

	directJSON, _ := json.Marshal(direct)
	fragmentsJSON, _ := json.Marshal(fragments)
	if string(directJSON) != string(fragmentsJSON) {
		t.Fatalf("canonical payloads differ: %s vs %s", directJSON, fragmentsJSON)
	}
}

func TestCanonicalArguments_RepairsEqualsSign(t *testing.T) {
	args, err := canonicalArguments(`{"args":"","kwargs":"{\"b\"=\"x\"}"}`)
	if err != nil {
		t.Fatalf("canonicalArguments() error: %v", err)
	}
	if args["b"] != "x" {
		t.Fatalf("expected repaired kwargs fragment, got %v", args)
	}
}

func TestCanonicalArguments_DropsUnparseableFragments(t *testing.T) {
	args, err := canonicalArguments(`{"args":"not json","kwargs":"also {{ not json"}`)
	if err != nil {
		t.Fatalf("canonicalArguments() error: %v", err)
	}
	if len(args) != 0 {
		t.Fatalf("expected empty payload, got %v", args)
	}
}

func TestCanonicalArguments_ArgsOverrideKwargs(t *testing.T) {
	args, err := canonicalArguments(`{"args":"{\"a\":2}","kwargs":"{\"a\":1,\"b\":\"x\"}"}`)
	if err != nil {
		t.Fatalf("canonicalArguments() error: %v", err)
	}
	if args["a"] != float64(2) || args["b"] != "x" {
		t.Fatalf("expected args to win over kwargs, got %v", args)
	}
}

func TestCanonicalArguments_Invalid(t *testing.T) {
	if _, err := canonicalArguments(`[1,2,3]`); err == nil {
		t.Fatal("expected error for non-object payload")
	}
	if args, err := canonicalArguments("  "); err != nil || len(args) != 0 {
		t.Fatalf("expected empty payload for blank input, got %v / %v", args, err)
	}
}

func TestToolInfo(t *testing.T) {
	adapter := newTool(nil, "search_abc", "search", ToolDefinition{
		Name:        "web_search",
		Description: "Searches the web.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"q":     map[string]any{"type": "string", "description": "Query text"},
				"count": map[string]any{"type": "integer"},
				"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []any{"q"},
		},
	})

	if adapter.Name() != "search-web_search" {
		t.Fatalf("unexpected adapter name: %q", adapter.Name())
	}

	info, err := adapter.Info(context.Background())
	if err != nil {
		t.Fatalf("Info() error: %v", err)
	}
	if info.Name != "search-web_search" || info.Desc != "Searches the web." {
		t.Fatalf("unexpected tool info: %+v", info)
	}
	if info.ParamsOneOf == nil {
		t.Fatal("expected parameter info")
	}
}

func TestParamsFromSchema(t *testing.T) {
	params := paramsFromSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"q": map[string]any{"type": "string"},
			"filter": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"lang": map[string]any{"type": "string"},
				},
				"required": []any{"lang"},
			},
		},
		"required": []any{"q"},
	})

	if !params["q"].Required || params["q"].Type != schema.String {
		t.Fatalf("unexpected q parameter: %+v", params["q"])
	}
	filter := params["filter"]
	if filter.Type != schema.Object || len(filter.SubParams) != 1 || !filter.SubParams["lang"].Required {
		t.Fatalf("unexpected filter parameter: %+v", filter)
	}
}

func TestInvokableRun_SoftFailure(t *testing.T) {
	registry := NewRegistry()
	defer registry.Shutdown()

	adapter := newTool(registry, "ghost_id", "ghost", ToolDefinition{Name: "noop"})
	result, err := adapter.InvokableRun(context.Background(), `{}`)
	if err != nil {
		t.Fatalf("expected soft failure, got error: %v", err)
	}
	if !strings.HasPrefix(result, "Tool call error: ") {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestSyntheticResourceTools(t *testing.T) {
	synthetic := syntheticResourceTools(nil, "files_abc", "files")
	if len(synthetic) != 2 {
		t.Fatalf("expected two synthetic tools, got %d", len(synthetic))
	}

	byName := map[string]*Tool{}
	for _, tool := range synthetic {
		byName[tool.Name()] = tool
		report := CheckToolSchema(tool.Parameters())
		if !report.Valid {
			t.Errorf("%s: schema check failed: %v", tool.Name(), report.Issues)
		}
		if descReport := CheckToolDescription(tool.Description()); !descReport.Valid {
			t.Errorf("%s: description check failed: %v", tool.Name(), descReport.Issues)
		}
	}

	reader, ok := byName["files-read_resource"]
	if !ok {
		t.Fatal("missing files-read_resource")
	}
	want := []any{"uri"}
	if !reflect.DeepEqual(reader.Parameters()["required"], want) {
		t.Fatalf("expected uri to be required, got %v", reader.Parameters()["required"])
	}
}
