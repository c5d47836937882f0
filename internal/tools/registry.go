// ABOUTME: Tool registry mapping names to schemas and in-process handlers
// ABOUTME: Produces completion tool definitions and dispatches model tool calls

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/YubinMoon/servant-bot/internal/completion"
)

var (
	// ErrToolCollision is returned when a tool name is registered twice.
	ErrToolCollision = errors.New("tool name collision")

	// ErrUnknownTool is returned when the model calls a tool that does not exist.
	ErrUnknownTool = errors.New("unknown tool")
)

// Handler executes a tool with the model's JSON arguments.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool is one callable function.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Handler     Handler
}

// Registry holds the tools offered to the model.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds tools. Nothing is registered if any name is taken.
func (r *Registry) Register(tools ...*Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		if _, exists := r.tools[t.Name]; exists || seen[t.Name] {
			return fmt.Errorf("%w: %s", ErrToolCollision, t.Name)
		}
		seen[t.Name] = true
	}
	for _, t := range tools {
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
		r.logger.Debug("tool registered", "name", t.Name)
	}
	return nil
}

// Names lists registered tools in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions describes every tool for the completion request.
func (r *Registry) Definitions() []completion.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return nil
	}
	defs := make([]completion.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, completion.Tool{
			Type: "function",
			Function: completion.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return defs
}

// Call runs the named tool. Empty arguments are treated as an empty object.
func (r *Registry) Call(ctx context.Context, name, arguments string) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	arguments = strings.TrimSpace(arguments)
	if arguments == "" {
		arguments = "{}"
	}
	if !json.Valid([]byte(arguments)) {
		return "", fmt.Errorf("invalid arguments for %s: %q", name, arguments)
	}

	r.logger.Info("calling tool", "name", name)
	out, err := t.Handler(ctx, json.RawMessage(arguments))
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
