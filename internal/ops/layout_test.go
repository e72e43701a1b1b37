package ops

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplySheetLayoutOp_FreezePanes(t *testing.T) {
	f := newTestFile(t)

	summary, err := ApplySheetLayoutOp(f, SheetLayoutOp{
		Kind:       LayoutFreezePanes,
		Sheet:      "Sheet1",
		FreezeRows: 1,
		SplitCell:  "A2",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Counts["panes_set"])
}

func TestApplySheetLayoutOp_SetZoomRejectsOutOfRange(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplySheetLayoutOp(f, SheetLayoutOp{
		Kind:      LayoutSetZoom,
		Sheet:     "Sheet1",
		ZoomScale: 900,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestApplySheetLayoutOp_SetZoomWithinRange(t *testing.T) {
	f := newTestFile(t)

	summary, err := ApplySheetLayoutOp(f, SheetLayoutOp{
		Kind:      LayoutSetZoom,
		Sheet:     "Sheet1",
		ZoomScale: 150,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Counts["zoom_set"])
}

func TestApplySheetLayoutOp_PageMarginsRejectsNegative(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplySheetLayoutOp(f, SheetLayoutOp{
		Kind:  LayoutPageMargins,
		Sheet: "Sheet1",
		Top:   -1,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestApplySheetLayoutOp_PageSetupDefaultsToPortrait(t *testing.T) {
	f := newTestFile(t)

	summary, err := ApplySheetLayoutOp(f, SheetLayoutOp{
		Kind:  LayoutPageSetup,
		Sheet: "Sheet1",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Counts["page_setup_set"])
}

func TestApplySheetLayoutOp_PageSetupRejectsBadOrientation(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplySheetLayoutOp(f, SheetLayoutOp{
		Kind:        LayoutPageSetup,
		Sheet:       "Sheet1",
		Orientation: "sideways",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestApplySheetLayoutOp_PrintAreaRequiresRange(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplySheetLayoutOp(f, SheetLayoutOp{
		Kind:  LayoutPrintArea,
		Sheet: "Sheet1",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestApplySheetLayoutOp_PrintAreaSetsDefinedName(t *testing.T) {
	f := newTestFile(t)

	summary, err := ApplySheetLayoutOp(f, SheetLayoutOp{
		Kind:       LayoutPrintArea,
		Sheet:      "Sheet1",
		PrintRange: "A1:D10",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Counts["print_area_set"])
	require.Contains(t, summary.AffectedBounds, "A1:D10")
}

func TestApplySheetLayoutOp_PageBreaksRejectsInvalidIndex(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplySheetLayoutOp(f, SheetLayoutOp{
		Kind:      LayoutPageBreaks,
		Sheet:     "Sheet1",
		RowBreaks: []int{0},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestApplySheetLayoutOp_PageBreaksCountsRowsAndCols(t *testing.T) {
	f := newTestFile(t)

	summary, err := ApplySheetLayoutOp(f, SheetLayoutOp{
		Kind:      LayoutPageBreaks,
		Sheet:     "Sheet1",
		RowBreaks: []int{5, 10},
		ColBreaks: []int{3},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3), summary.Counts["page_breaks_set"])
}

func TestApplySheetLayoutOp_UnknownKindRejected(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplySheetLayoutOp(f, SheetLayoutOp{Kind: SheetLayoutKind("bogus"), Sheet: "Sheet1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestApplySheetLayoutOp_MissingSheetRejected(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplySheetLayoutOp(f, SheetLayoutOp{Kind: LayoutSetGridlines})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}
