package telemetry

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestHooks() *Hooks {
	return NewHooks(zerolog.Nop())
}

func TestHooks_OnToolCall_TracksCallsAndErrorsSeparately(t *testing.T) {
	h := newTestHooks()

	h.OnToolCall("list_sheets", false)
	h.OnToolCall("edit_batch", true)
	h.OnToolCall("edit_batch", false)

	snap := h.Snapshot()
	require.Equal(t, int64(3), snap.ToolCalls)
	require.Equal(t, int64(1), snap.ToolErrors)
}

func TestHooks_OnResourceRead_IncrementsCounter(t *testing.T) {
	h := newTestHooks()

	h.OnResourceRead("workbook://abc/sheets")
	h.OnResourceRead("workbook://abc/sheets")

	require.Equal(t, int64(2), h.Snapshot().ResourceReads)
}

func TestHooks_SessionStartAndEnd_TrackActiveCount(t *testing.T) {
	h := newTestHooks()

	h.OnSessionStart("s1")
	h.OnSessionStart("s2")
	require.Equal(t, int64(2), h.Snapshot().ActiveSessions)

	h.OnSessionEnd("s1")
	require.Equal(t, int64(1), h.Snapshot().ActiveSessions)
}

func TestHooks_OnRequestError_DoesNotPanicOnNilError(t *testing.T) {
	h := newTestHooks()
	require.NotPanics(t, func() { h.OnRequestError("tools/call", nil) })
	require.NotPanics(t, func() { h.OnRequestError("tools/call", errors.New("boom")) })
}

func TestHooks_OnServerStop_ReadsBackAccumulatedCounters(t *testing.T) {
	h := newTestHooks()
	h.OnToolCall("list_sheets", false)
	h.OnResourceRead("workbook://abc/sheets")

	require.NotPanics(t, h.OnServerStop)
}
