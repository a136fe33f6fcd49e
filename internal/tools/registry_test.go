package tools

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

type stubTool struct {
	name   string
	result string
	err    error
}

func (s *stubTool) Info(context.Context) (*schema.ToolInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &schema.ToolInfo{Name: s.name, Desc: "stub"}, nil
}

func (s *stubTool) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	return s.result + ":" + args, nil
}

func TestRegistryRegisterAndExecute(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(&stubTool{name: "echo", result: "ok"}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	result, err := registry.Execute(context.Background(), "echo", `{"a":1}`)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != `ok:{"a":1}` {
		t.Fatalf("unexpected result: %q", result)
	}

	if _, err := registry.Execute(context.Background(), "missing", "{}"); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestRegistryRejectsDuplicatesAndBadInfo(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(&stubTool{name: "echo"}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := registry.Register(&stubTool{name: "echo"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := registry.Register(&stubTool{name: ""}); err == nil {
		t.Fatal("expected registration without a name to fail")
	}
	if err := registry.Register(&stubTool{name: "x", err: fmt.Errorf("no info")}); err == nil {
		t.Fatal("expected registration to surface Info errors")
	}
}

func TestRegistryNamesAreSorted(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := registry.Register(&stubTool{name: name}); err != nil {
			t.Fatalf("Register(%s) error: %v", name, err)
		}
	}

	want := []string{"alpha", "mid", "zeta"}
	if got := registry.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	if tools := registry.List(); len(tools) != 3 {
		t.Fatalf("List() returned %d tools", len(tools))
	}
}
