package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeTool struct {
	name   string
	result string
	err    error
	args   map[string]any
}

func (f *fakeTool) Name() string                { return f.name }
func (f *fakeTool) Description() string         { return "a fake tool" }
func (f *fakeTool) Parameters() map[string]any  { return map[string]any{"type": "object"} }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	f.args = args
	return f.result, f.err
}

func TestRegistryUnknownToolSentinel(t *testing.T) {
	r := NewRegistry(nil, nil)
	got := r.Execute(context.Background(), "nope", nil)
	if got != `Tool "nope" not found` {
		t.Errorf("result = %q", got)
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(nil, nil)
	ft := &fakeTool{name: "echo", result: "hello"}
	r.Register(ft)

	got := r.Execute(context.Background(), "echo", map[string]any{"query": "x"})
	if got != "hello" {
		t.Errorf("result = %q, want hello", got)
	}
	if ft.args["query"] != "x" {
		t.Errorf("args not forwarded: %v", ft.args)
	}
}

func TestRegistryConvertsErrorsToText(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register(&fakeTool{name: "flaky", err: errors.New("socket timeout")})

	got := r.Execute(context.Background(), "flaky", nil)
	if !strings.Contains(got, "flaky failed") || !strings.Contains(got, "socket timeout") {
		t.Errorf("result = %q, want textual failure", got)
	}
}

func TestRegistryDefinitionsInRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register(&fakeTool{name: "b"})
	r.Register(&fakeTool{name: "a"})
	r.Register(&fakeTool{name: "c"})

	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions, want 3", len(defs))
	}
	for i, want := range []string{"b", "a", "c"} {
		if defs[i].Name != want {
			t.Errorf("defs[%d].Name = %q, want %q", i, defs[i].Name, want)
		}
	}
	if defs[0].Parameters == nil {
		t.Error("definition missing parameters schema")
	}
}

func TestRegistryReRegisterReplaces(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register(&fakeTool{name: "x", result: "old"})
	r.Register(&fakeTool{name: "x", result: "new"})

	if got := r.Execute(context.Background(), "x", nil); got != "new" {
		t.Errorf("result = %q, want new", got)
	}
	if got := len(r.Definitions()); got != 1 {
		t.Errorf("definitions = %d, want 1", got)
	}
}
