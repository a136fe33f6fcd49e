package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeTransport struct {
	pingErr error
	results map[string]any
	errs    map[string]error
	calls   []string
	closed  bool
}

func (f *fakeTransport) invoke(_ context.Context, method string, _ any) (any, error) {
	f.calls = append(f.calls, method)
	if method == "ping" && f.pingErr != nil {
		return nil, f.pingErr
	}
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	if result, ok := f.results[method]; ok {
		return result, nil
	}
	return map[string]any{}, nil
}

func (f *fakeTransport) notify(context.Context, string, any) error { return nil }

func (f *fakeTransport) close() error {
	f.closed = true
	return nil
}

func fakeSession(transport rpcTransport) *Session {
	return &Session{
		serverName: "files",
		clientID:   "files_test",
		transport:  transport,
	}
}

func TestSessionExecute_ListResources(t *testing.T) {
	session := fakeSession(&fakeTransport{
		results: map[string]any{
			"resources/list": map[string]any{
				"resources": []any{
					map[string]any{"uri": "file:///a.txt", "name": "a", "description": "first file"},
					map[string]any{"uri": "file:///b.txt"},
				},
			},
		},
	})

	result, err := session.Execute(context.Background(), "list_resources", nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	want := "file:///a.txt (a): first file\n\nfile:///b.txt"
	if result != want {
		t.Fatalf("unexpected result:\n%q\nwant:\n%q", result, want)
	}
}

func TestSessionExecute_ListResourcesEmpty(t *testing.T) {
	session := fakeSession(&fakeTransport{
		results: map[string]any{
			"resources/list": map[string]any{"resources": []any{}},
		},
	})

	result, err := session.Execute(context.Background(), "list_resources", nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != "No resources found" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestSessionExecute_ListResourcesFailureIsSoft(t *testing.T) {
	session := fakeSession(&fakeTransport{
		errs: map[string]error{"resources/list": errors.New("boom")},
	})

	result, err := session.Execute(context.Background(), "list_resources", nil)
	if err != nil {
		t.Fatalf("expected soft failure, got error: %v", err)
	}
	if !strings.HasPrefix(result, "Error: ") {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestSessionExecute_ReadResource(t *testing.T) {
	session := fakeSession(&fakeTransport{
		results: map[string]any{
			"resources/read": map[string]any{
				"contents": []any{
					map[string]any{"uri": "file:///a.txt", "text": "hello"},
					map[string]any{"uri": "file:///a.txt", "text": "world"},
				},
			},
		},
	})

	result, err := session.Execute(context.Background(), "read_resource", map[string]any{"uri": "file:///a.txt"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != "hello\n\nworld" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestSessionExecute_ReadResourceRequiresURI(t *testing.T) {
	session := fakeSession(&fakeTransport{})

	result, err := session.Execute(context.Background(), "read_resource", map[string]any{})
	if err != nil {
		t.Fatalf("expected soft failure, got error: %v", err)
	}
	if result != "Error: URI is required for read_resource" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestSessionExecute_ReadResourceNoText(t *testing.T) {
	session := fakeSession(&fakeTransport{
		results: map[string]any{
			"resources/read": map[string]any{"contents": []any{}},
		},
	})

	result, err := session.Execute(context.Background(), "read_resource", map[string]any{"uri": "file:///a.bin"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != "Failed to read resource" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestSessionExecute_ForwardedCall(t *testing.T) {
	transport := &fakeTransport{
		results: map[string]any{
			"tools/call": map[string]any{
				"content": []any{
					map[string]any{"type": "text", "text": "part one"},
					map[string]any{"type": "image", "data": "ignored"},
					map[string]any{"type": "text", "text": "part two"},
				},
			},
		},
	}
	session := fakeSession(transport)

	result, err := session.Execute(context.Background(), "echo", map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != "part one\n\npart two" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestSessionExecute_ForwardedCallNoText(t *testing.T) {
	session := fakeSession(&fakeTransport{
		results: map[string]any{
			"tools/call": map[string]any{"content": []any{}},
		},
	})

	result, err := session.Execute(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result != "execute error" {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestSessionPingAndClose(t *testing.T) {
	transport := &fakeTransport{}
	session := fakeSession(transport)

	if err := session.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}

	transport.pingErr = errors.New("gone")
	if err := session.Ping(context.Background()); err == nil {
		t.Fatal("expected ping failure")
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !transport.closed {
		t.Fatal("expected transport to be closed")
	}
}
