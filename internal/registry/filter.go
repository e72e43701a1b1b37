package registry

import (
    "context"
    "os"
    "strings"

    "github.com/mark3labs/mcp-go/mcp"
)

// WriteToolFilter conditionally hides write/transform tools unless explicitly enabled.
// Enable by setting environment variable MCPXCEL_ENABLE_WRITES=true.
type WriteToolFilter struct {
    allowWrites bool
}

// NewWriteToolFilterFromEnv constructs a filter using MCPXCEL_ENABLE_WRITES.
func NewWriteToolFilterFromEnv() *WriteToolFilter {
    v := strings.ToLower(strings.TrimSpace(os.Getenv("MCPXCEL_ENABLE_WRITES")))
    allow := v == "1" || v == "true" || v == "yes"
    return &WriteToolFilter{allowWrites: allow}
}

// mutatingTools names tools that mutate a fork's working copy or its
// on-disk persistence but whose names don't match the write_/update_/
// transform_ prefix heuristic below.
var mutatingTools = map[string]bool{
    "create_fork":           true,
    "edit_batch":            true,
    "style_batch":           true,
    "structure_batch":       true,
    "column_size_batch":     true,
    "layout_batch":          true,
    "rules_batch":           true,
    "apply_formula_pattern": true,
    "create_checkpoint":     true,
    "restore_checkpoint":    true,
    "apply_staged_change":   true,
    "discard_staged_change": true,
    "save_fork":             true,
}

// FilterTools implements server tool filtering semantics.
// When writes are disabled, tools with prefixes commonly used for writes
// (write_, update_, transform_) and the explicit mutatingTools set are
// excluded from discovery.
func (f *WriteToolFilter) FilterTools(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
    if f.allowWrites {
        return tools
    }
    out := make([]mcp.Tool, 0, len(tools))
    for _, t := range tools {
        name := strings.ToLower(t.Name)
        if strings.HasPrefix(name, "write_") || strings.HasPrefix(name, "update_") || strings.HasPrefix(name, "transform_") {
            continue
        }
        if mutatingTools[name] {
            continue
        }
        out = append(out, t)
    }
    return out
}

