package ops

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyColumnSizeOp_ExplicitWidth(t *testing.T) {
	f := newTestFile(t)

	summary, err := ApplyColumnSizeOp(f, ColumnSizeOp{
		Kind:     ColumnSizeWidth,
		Sheet:    "Sheet1",
		StartCol: "A",
		EndCol:   "C",
		Width:    22.5,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Counts["width_ops"])
	require.Equal(t, uint64(1), summary.Counts["columns_sized"])

	width, err := f.GetColWidth("Sheet1", "B")
	require.NoError(t, err)
	require.InDelta(t, 22.5, width, 0.01)
}

func TestApplyColumnSizeOp_ExplicitWidthRejectsNonPositive(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplyColumnSizeOp(f, ColumnSizeOp{
		Kind:     ColumnSizeWidth,
		Sheet:    "Sheet1",
		StartCol: "A",
		EndCol:   "A",
		Width:    0,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestApplyColumnSizeOp_AutoFitClampsToBounds(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "a very very long piece of text that exceeds the max width"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "x"))

	summary, err := ApplyColumnSizeOp(f, ColumnSizeOp{
		Kind:     ColumnSizeAuto,
		Sheet:    "Sheet1",
		StartCol: "A",
		EndCol:   "B",
		MinWidth: 5,
		MaxWidth: 15,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), summary.Counts["columns_sized"])
	require.Equal(t, uint64(1), summary.Counts["auto_ops"])

	wA, err := f.GetColWidth("Sheet1", "A")
	require.NoError(t, err)
	require.InDelta(t, 15, wA, 0.01, "long cell text should clamp to max_width")

	wB, err := f.GetColWidth("Sheet1", "B")
	require.NoError(t, err)
	require.InDelta(t, 5, wB, 0.01, "short cell text should clamp to min_width")
}

func TestApplyColumnSizeOp_MissingFieldsRejected(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplyColumnSizeOp(f, ColumnSizeOp{Kind: ColumnSizeAuto, Sheet: "Sheet1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestApplyColumnSizeOp_UnknownKindRejected(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplyColumnSizeOp(f, ColumnSizeOp{
		Kind:     ColumnSizeKind("bogus"),
		Sheet:    "Sheet1",
		StartCol: "A",
		EndCol:   "A",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}
