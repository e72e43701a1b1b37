package ops

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyStructureOp_InsertRowsShiftsFormulas(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.SetCellValue("Sheet1", "A1", 1))
	require.NoError(t, f.SetCellFormula("Sheet1", "B5", "A1+1"))

	summary, err := ApplyStructureOp(f, StructureOp{Kind: StructInsertRows, Sheet: "Sheet1", At: 2, Count: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Counts["rows_inserted"])
	require.True(t, summary.Flags["recalc_needed"])

	shifted, err := f.GetCellFormula("Sheet1", "B6")
	require.NoError(t, err)
	require.Equal(t, "A1+1", shifted)
}

func TestApplyStructureOp_InsertRowsRejectsBadParams(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplyStructureOp(f, StructureOp{Kind: StructInsertRows, Sheet: "Sheet1", At: 0, Count: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestApplyStructureOp_DeleteRows(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "keep"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "drop"))
	require.NoError(t, f.SetCellValue("Sheet1", "A3", "keep-too"))

	summary, err := ApplyStructureOp(f, StructureOp{Kind: StructDeleteRows, Sheet: "Sheet1", At: 2, Count: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Counts["rows_deleted"])

	v, err := f.GetCellValue("Sheet1", "A2")
	require.NoError(t, err)
	require.Equal(t, "keep-too", v)
}

func TestApplyStructureOp_InsertCols(t *testing.T) {
	f := newTestFile(t)

	summary, err := ApplyStructureOp(f, StructureOp{Kind: StructInsertCols, Sheet: "Sheet1", At: 2, Count: 2})
	require.NoError(t, err)
	require.Equal(t, uint64(2), summary.Counts["cols_inserted"])
}

func TestApplyStructureOp_DeleteCols(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "a"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "b"))
	require.NoError(t, f.SetCellValue("Sheet1", "C1", "c"))

	summary, err := ApplyStructureOp(f, StructureOp{Kind: StructDeleteCols, Sheet: "Sheet1", At: 2, Count: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Counts["cols_deleted"])

	v, err := f.GetCellValue("Sheet1", "B1")
	require.NoError(t, err)
	require.Equal(t, "c", v)
}

func TestApplyStructureOp_RenameSheetRequiresBothNames(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplyStructureOp(f, StructureOp{Kind: StructRenameSheet, OldName: "Sheet1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestApplyStructureOp_RenameSheetRewritesFormulaReferences(t *testing.T) {
	f := newTestFile(t)
	_, err := f.NewSheet("Other")
	require.NoError(t, err)
	require.NoError(t, f.SetCellFormula("Other", "A1", "Sheet1!A1"))

	summary, err := ApplyStructureOp(f, StructureOp{Kind: StructRenameSheet, OldName: "Sheet1", NewName: "Renamed"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Counts["sheets_renamed"])
	require.Contains(t, summary.AffectedSheets, "Renamed")

	got, err := f.GetCellFormula("Other", "A1")
	require.NoError(t, err)
	require.Equal(t, "Renamed!A1", got)
}

func TestApplyStructureOp_CreateSheetRequiresName(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplyStructureOp(f, StructureOp{Kind: StructCreateSheet})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestApplyStructureOp_CreateSheet(t *testing.T) {
	f := newTestFile(t)

	summary, err := ApplyStructureOp(f, StructureOp{Kind: StructCreateSheet, Name: "NewSheet"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Counts["sheets_created"])
	require.Contains(t, f.GetSheetList(), "NewSheet")
}

func TestApplyStructureOp_DeleteSheetRequiresSheet(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplyStructureOp(f, StructureOp{Kind: StructDeleteSheet})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestApplyStructureOp_CopyRangeDuplicatesValuesAndKeepsSource(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "hello"))

	summary, err := ApplyStructureOp(f, StructureOp{
		Kind:        StructCopyRange,
		SourceSheet: "Sheet1",
		SourceRange: "A1:A1",
		DestSheet:   "Sheet1",
		DestAnchor:  "C1",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Counts["cells_copied"])

	src, err := f.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	require.Equal(t, "hello", src)

	dst, err := f.GetCellValue("Sheet1", "C1")
	require.NoError(t, err)
	require.Equal(t, "hello", dst)
}

func TestApplyStructureOp_MoveRangeClearsSource(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "move-me"))

	summary, err := ApplyStructureOp(f, StructureOp{
		Kind:        StructMoveRange,
		SourceSheet: "Sheet1",
		SourceRange: "A1:A1",
		DestSheet:   "Sheet1",
		DestAnchor:  "D1",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), summary.Counts["cells_moved"])

	src, err := f.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	require.Empty(t, src)

	dst, err := f.GetCellValue("Sheet1", "D1")
	require.NoError(t, err)
	require.Equal(t, "move-me", dst)
}

func TestApplyStructureOp_MoveRangeRejectsOverlapOnSameSheet(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplyStructureOp(f, StructureOp{
		Kind:        StructMoveRange,
		SourceSheet: "Sheet1",
		SourceRange: "A1:B2",
		DestSheet:   "Sheet1",
		DestAnchor:  "B2",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "overlapping")
}

func TestApplyStructureOp_UnknownKindRejected(t *testing.T) {
	f := newTestFile(t)

	_, err := ApplyStructureOp(f, StructureOp{Kind: StructureKind("bogus")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}
