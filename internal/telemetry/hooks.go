package telemetry

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Hooks centralizes the structured-logging side effects of mcp-go server
// lifecycle callbacks. Wiring lives in cmd/server, which has access to the
// actual mcp-go hook registration points; this package only decides what
// gets logged and tracks a handful of running counters an operator can read
// back via Snapshot without standing up a separate metrics backend.
type Hooks struct {
	logger zerolog.Logger

	toolCalls      atomic.Int64
	toolErrors     atomic.Int64
	resourceReads  atomic.Int64
	activeSessions atomic.Int64
}

// NewHooks constructs a Hooks instance with the provided logger.
func NewHooks(logger zerolog.Logger) *Hooks {
	return &Hooks{logger: logger}
}

// Snapshot reports running totals since process start, useful for a quick
// health check without wiring a dedicated metrics scrape endpoint.
type Snapshot struct {
	ToolCalls      int64
	ToolErrors     int64
	ResourceReads  int64
	ActiveSessions int64
}

func (h *Hooks) Snapshot() Snapshot {
	return Snapshot{
		ToolCalls:      h.toolCalls.Load(),
		ToolErrors:     h.toolErrors.Load(),
		ResourceReads:  h.resourceReads.Load(),
		ActiveSessions: h.activeSessions.Load(),
	}
}

// OnServerStart is called when the server begins accepting connections.
func (h *Hooks) OnServerStart() {
	h.logger.Info().Msg("MCP server starting")
}

// OnServerStop is called during server shutdown.
func (h *Hooks) OnServerStop() {
	snap := h.Snapshot()
	h.logger.Info().
		Int64("tool_calls", snap.ToolCalls).
		Int64("tool_errors", snap.ToolErrors).
		Int64("resource_reads", snap.ResourceReads).
		Msg("MCP server stopping")
}

// OnSessionStart records the start of a client session.
func (h *Hooks) OnSessionStart(sessionID string) {
	active := h.activeSessions.Add(1)
	h.logger.Info().Str("session_id", sessionID).Int64("active_sessions", active).Msg("session started")
}

// OnSessionEnd records the end of a client session.
func (h *Hooks) OnSessionEnd(sessionID string) {
	active := h.activeSessions.Add(-1)
	h.logger.Info().Str("session_id", sessionID).Int64("active_sessions", active).Msg("session ended")
}

// OnToolCall logs a completed tool invocation. isError reflects the tool
// result's own IsError flag, not a transport-level Go error.
func (h *Hooks) OnToolCall(toolName string, isError bool) {
	h.toolCalls.Add(1)
	if isError {
		h.toolErrors.Add(1)
		h.logger.Warn().Str("tool", toolName).Msg("tool call returned an error result")
		return
	}
	h.logger.Info().Str("tool", toolName).Msg("tool call completed")
}

// OnResourceRead logs a completed resource read.
func (h *Hooks) OnResourceRead(uri string) {
	h.resourceReads.Add(1)
	h.logger.Info().Str("uri", uri).Msg("resource read completed")
}

// OnListTools logs a tools/list response.
func (h *Hooks) OnListTools(count int) {
	h.logger.Info().Int("tools", count).Msg("list_tools served")
}

// OnRequestError logs a transport/protocol-level error surfaced by mcp-go,
// as opposed to a tool-level error result handled by OnToolCall.
func (h *Hooks) OnRequestError(method string, err error) {
	h.logger.Error().Str("method", method).Err(err).Msg("request error")
}
