package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/neboloop/bingus/internal/agent/ai"
	"github.com/neboloop/bingus/internal/logging"
)

// ErrUnknownTool is returned by Call for a name nothing is registered under.
var ErrUnknownTool = errors.New("unknown tool")

var registryLog = logging.Named("tools")

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Tool interface that all tools must implement
type Tool interface {
	// Name returns the tool's unique name
	Name() string

	// Description returns a description for the AI
	Description() string

	// Schema returns the JSON schema for the tool's input
	Schema() json.RawMessage

	// Execute runs the tool with the given input
	Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error)
}

// Registry manages available tools
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tools[tool.Name()]; ok {
		registryLog.Warnf("tool %q already registered (%T), overwritten by %T", tool.Name(), existing, tool)
	}
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names, sorted
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

// List returns all tools as AI tool definitions, sorted by name so the
// request is stable across calls.
func (r *Registry) List() []ai.ToolDefinition {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ai.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		defs = append(defs, ai.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	return defs
}

// Call runs the named tool and returns its text. A tool that reports
// IsError comes back as an error carrying the tool's message.
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s (available: %s)", ErrUnknownTool, name, strings.Join(r.Names(), ", "))
	}
	if len(input) == 0 || string(input) == "null" {
		input = json.RawMessage("{}")
	}

	registryLog.Debugf("executing tool: %s", name)
	result, err := tool.Execute(ctx, input)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	if result.IsError {
		return "", errors.New(result.Content)
	}
	return result.Content, nil
}
