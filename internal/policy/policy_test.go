package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultForCommandClass(t *testing.T) {
	require.Equal(t, Fail, DefaultForCommandClass("single_write"))
	require.Equal(t, Warn, DefaultForCommandClass("batch_write"))
	require.Equal(t, Warn, DefaultForCommandClass("read_analysis"))
	require.Equal(t, Warn, DefaultForCommandClass("unknown"))
}

func TestCollector_OffModeNeverRecords(t *testing.T) {
	c := NewCollector(Off)
	c.Record("Sheet1", "A1", "=BAD(", errors.New("parse error"))
	require.False(t, c.FailFast)
	require.Empty(t, c.Groups())
}

func TestCollector_FailModeStopsAtFirstFailure(t *testing.T) {
	c := NewCollector(Fail)
	c.Record("Sheet1", "A1", "=BAD(", errors.New("unexpected token"))
	require.True(t, c.FailFast)
	require.Error(t, c.FirstFailure())
	require.Contains(t, c.FirstFailure().Error(), "formula parse failed: Sheet1!A1")

	c.Record("Sheet1", "B1", "=ALSO_BAD(", errors.New("second error"))
	require.Contains(t, c.FirstFailure().Error(), "unexpected token", "first failure must not be overwritten")
}

func TestCollector_WarnModeGroupsByKey(t *testing.T) {
	c := NewCollector(Warn)
	for i := 0; i < 3; i++ {
		c.Record("Sheet1", "A1", "=BAD(", errors.New("same error"))
	}
	c.Record("Sheet2", "B2", "=OTHER(", errors.New("same error"))

	groups := c.Groups()
	require.Len(t, groups, 2)

	var sheet1Group *Group
	for i := range groups {
		if groups[i].Sheet == "Sheet1" {
			sheet1Group = &groups[i]
		}
	}
	require.NotNil(t, sheet1Group)
	require.Equal(t, 3, sheet1Group.Count)
}

func TestCollector_CapsSamplesPerGroup(t *testing.T) {
	c := NewCollector(Warn)
	for i := 0; i < 10; i++ {
		c.Record("Sheet1", "A1", "=BAD(", errors.New("same error"))
	}
	groups := c.Groups()
	require.Len(t, groups, 1)
	require.Equal(t, 10, groups[0].Count)
	require.Len(t, groups[0].SampleAddrs, samplesPerGroup)
}

func TestCollector_CapsGroupsAt50AndSetsTruncated(t *testing.T) {
	c := NewCollector(Warn)
	for i := 0; i < 60; i++ {
		c.Record("Sheet1", "A1", strings.Repeat("x", i+1), errors.New("err"))
	}
	require.Len(t, c.Groups(), maxGroups)
	require.True(t, c.GroupsTruncated())
}

func TestTruncatePreview_TruncatesAtByteLimitOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := truncatePreview(long)
	require.True(t, strings.HasSuffix(got, "…"))
	require.LessOrEqual(t, len(got), previewByteLimit+len("…"))
}

func TestTruncatePreview_ShortFormulaUnchanged(t *testing.T) {
	require.Equal(t, "=A1+B1", truncatePreview("=A1+B1"))
}
