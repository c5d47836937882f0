// ABOUTME: Registry constructor for the built-in tools
// ABOUTME: Filters by the enabled list and applies clock and fetch options

package tools

import (
	"fmt"
	"log/slog"
	"time"
)

// Options selects and configures the built-in tools.
type Options struct {
	// Enabled lists tool names to offer; empty enables all built-ins.
	Enabled  []string
	Timezone string
	Fetch    FetchConfig
}

// NewBuiltinRegistry creates a registry holding the enabled built-in tools.
func NewBuiltinRegistry(opts Options, logger *slog.Logger) (*Registry, error) {
	loc := time.Local
	if opts.Timezone != "" {
		l, err := time.LoadLocation(opts.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading time zone: %w", err)
		}
		loc = l
	}

	all := []*Tool{
		CurrentTime(loc, nil),
		FetchURL(opts.Fetch),
	}

	enabled := make(map[string]bool, len(opts.Enabled))
	for _, name := range opts.Enabled {
		enabled[name] = true
	}

	known := make(map[string]bool, len(all))
	for _, t := range all {
		known[t.Name] = true
	}
	for name := range enabled {
		if !known[name] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
		}
	}

	r := NewRegistry(logger)
	for _, t := range all {
		if len(enabled) > 0 && !enabled[t.Name] {
			continue
		}
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
