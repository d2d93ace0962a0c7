// Package tools provides the tool implementations agents can call during a
// response cycle (bash, text editing, persistent memory) plus the registry
// and the executor that runs tool batches off the actor loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"salon/pkg/proto"
)

// Tool is one callable tool. Exec returns the content handed back to the LLM;
// a non-nil error marks the result is_error without aborting the batch.
type Tool interface {
	Name() string
	Spec() proto.ToolSpec
	Exec(ctx context.Context, tctx proto.ToolContext, input json.RawMessage) (string, error)
}

// Registry holds the tool set for one server instance.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return tool, nil
}

// Catalog returns every registered tool's spec in name order. The interpreter
// filters this against each persona's allowed set when building requests.
func (r *Registry) Catalog() map[string]proto.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]proto.ToolSpec, len(r.tools))
	for name, tool := range r.tools {
		out[name] = tool.Spec()
	}
	return out
}

// Names returns the registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
