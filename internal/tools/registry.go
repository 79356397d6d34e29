// Package tools implements the function-calling tools offered to the
// language model and the registry that dispatches them.
//
// Tool failures never propagate as errors into a conversational turn: the
// registry converts every failure, including unknown tool names, into a
// textual result the model can read and react to. A single bad tool call must
// not abort a live conversation.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ckocel/voxtutor/internal/observe"
	"github.com/ckocel/voxtutor/pkg/types"
)

// Tool is a single function-calling capability.
//
// Execute receives the parsed tool-call arguments plus caller context values
// injected by the conversation engine ("user_id", "doc_ids"). It returns a
// plain-text digest for the model, or an error which the registry converts to
// a textual failure message.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry is a name-keyed mapping of tools. Registration happens once at
// startup; lookups and execution are concurrent.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	log     *slog.Logger
	metrics *observe.Metrics
}

// NewRegistry builds an empty Registry.
func NewRegistry(logger *slog.Logger, metrics *observe.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		log:     logger.With("component", "tools"),
		metrics: metrics,
	}
}

// Register adds a tool. A tool with an existing name replaces the previous
// registration.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool registered under name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all registered tools in the schema form consumed by
// the LLM provider, in registration order.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, types.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute dispatches a tool call by name and always returns text. Unknown
// names return a sentinel string; tool errors are converted to a textual
// failure message for the model to read.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) string {
	t := r.Get(name)
	if t == nil {
		r.metrics.RecordToolCall(ctx, name, "unknown")
		return fmt.Sprintf("Tool %q not found", name)
	}

	start := time.Now()
	result, err := t.Execute(ctx, args)
	r.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		r.log.Warn("tool execution failed", "tool", name, "error", err)
		r.metrics.RecordToolCall(ctx, name, "error")
		return fmt.Sprintf("%s failed: %v", name, err)
	}
	r.metrics.RecordToolCall(ctx, name, "ok")
	return result
}

// stringArg extracts a string argument, tolerating absence.
func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// stringSliceArg extracts a []string argument that may arrive as []any after
// JSON decoding.
func stringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
