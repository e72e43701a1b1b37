package diff

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newWorkbook(t *testing.T) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestDiff_CellAddedAndDeleted(t *testing.T) {
	base := newWorkbook(t)
	require.NoError(t, base.SetCellValue("Sheet1", "A1", "old"))

	working := newWorkbook(t)
	require.NoError(t, working.SetCellValue("Sheet1", "B1", "new"))

	result, err := Diff(base, working, Options{})
	require.NoError(t, err)
	require.Len(t, result.Changes, 2)

	require.Equal(t, KindCell, result.Changes[0].Kind)
	require.Equal(t, "A1", result.Changes[0].Cell.Address)
	require.Equal(t, DiffDeleted, result.Changes[0].Cell.Diff)
	require.Equal(t, "old", result.Changes[0].Cell.Old.Value)

	require.Equal(t, "B1", result.Changes[1].Cell.Address)
	require.Equal(t, DiffAdded, result.Changes[1].Cell.Diff)
	require.Equal(t, "new", result.Changes[1].Cell.New.Value)

	require.Equal(t, 1, result.Counts[string(DiffAdded)])
	require.Equal(t, 1, result.Counts[string(DiffDeleted)])
}

func TestDiff_ClassifyModified_FormulaEditTakesPrecedence(t *testing.T) {
	base := newWorkbook(t)
	require.NoError(t, base.SetCellFormula("Sheet1", "A1", "=1+1"))
	require.NoError(t, base.SetCellValue("Sheet1", "A1", 2))

	working := newWorkbook(t)
	require.NoError(t, working.SetCellFormula("Sheet1", "A1", "=2+2"))
	require.NoError(t, working.SetCellValue("Sheet1", "A1", 4))

	result, err := Diff(base, working, Options{})
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	require.Equal(t, SubtypeFormulaEdit, result.Changes[0].Cell.Subtype)
}

func TestDiff_ClassifyModified_RecalcResultWhenFormulaUnchangedButCachedValueDrifts(t *testing.T) {
	base := newWorkbook(t)
	require.NoError(t, base.SetCellFormula("Sheet1", "A1", "=SUM(B1:B2)"))
	require.NoError(t, base.SetCellValue("Sheet1", "A1", 10))

	working := newWorkbook(t)
	require.NoError(t, working.SetCellFormula("Sheet1", "A1", "=SUM(B1:B2)"))
	require.NoError(t, working.SetCellValue("Sheet1", "A1", 20))

	result, err := Diff(base, working, Options{})
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	require.Equal(t, SubtypeRecalcResult, result.Changes[0].Cell.Subtype)
}

func TestDiff_ClassifyModified_ValueEditWhenNoFormulaInvolved(t *testing.T) {
	base := newWorkbook(t)
	require.NoError(t, base.SetCellValue("Sheet1", "A1", "foo"))

	working := newWorkbook(t)
	require.NoError(t, working.SetCellValue("Sheet1", "A1", "bar"))

	result, err := Diff(base, working, Options{})
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	require.Equal(t, SubtypeValueEdit, result.Changes[0].Cell.Subtype)
}

func TestDiff_ClassifyModified_StyleEditWhenOnlyStyleDiffers(t *testing.T) {
	base := newWorkbook(t)
	require.NoError(t, base.SetCellValue("Sheet1", "A1", "same"))

	working := newWorkbook(t)
	require.NoError(t, working.SetCellValue("Sheet1", "A1", "same"))
	boldStyle, err := working.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	require.NoError(t, err)
	require.NoError(t, working.SetCellStyle("Sheet1", "A1", "A1", boldStyle))

	result, err := Diff(base, working, Options{})
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	require.Equal(t, SubtypeStyleEdit, result.Changes[0].Cell.Subtype)
}

func TestDiff_UnchangedCellsEmitNothing(t *testing.T) {
	base := newWorkbook(t)
	require.NoError(t, base.SetCellValue("Sheet1", "A1", "same"))

	working := newWorkbook(t)
	require.NoError(t, working.SetCellValue("Sheet1", "A1", "same"))

	result, err := Diff(base, working, Options{})
	require.NoError(t, err)
	require.Empty(t, result.Changes)
	require.Equal(t, 0, result.Total)
}

func TestDiff_TablesAddedDeletedModified(t *testing.T) {
	base := newWorkbook(t)
	require.NoError(t, base.SetCellValue("Sheet1", "A1", "h"))
	require.NoError(t, base.AddTable("Sheet1", &excelize.Table{Range: "A1:B2", Name: "Shrinking"}))
	require.NoError(t, base.AddTable("Sheet1", &excelize.Table{Range: "D1:E2", Name: "Dropped"}))

	working := newWorkbook(t)
	require.NoError(t, working.SetCellValue("Sheet1", "A1", "h"))
	require.NoError(t, working.AddTable("Sheet1", &excelize.Table{Range: "A1:B5", Name: "Shrinking"}))
	require.NoError(t, working.AddTable("Sheet1", &excelize.Table{Range: "G1:H2", Name: "Fresh"}))

	result, err := Diff(base, working, Options{})
	require.NoError(t, err)

	var added, deleted, modified *TableChange
	for _, c := range result.Changes {
		if c.Kind != KindTable {
			continue
		}
		switch c.Table.Diff {
		case DiffAdded:
			added = c.Table
		case DiffDeleted:
			deleted = c.Table
		case DiffModified:
			modified = c.Table
		}
	}
	require.NotNil(t, added)
	require.Equal(t, "Fresh", added.Name)
	require.NotNil(t, deleted)
	require.Equal(t, "Dropped", deleted.Name)
	require.NotNil(t, modified)
	require.Equal(t, "Shrinking", modified.Name)
	require.Equal(t, "A1:B2", modified.OldRange)
	require.Equal(t, "A1:B5", modified.NewRange)
}

func TestDiff_DefinedNamesAddedDeletedModified(t *testing.T) {
	base := newWorkbook(t)
	require.NoError(t, base.SetDefinedName(&excelize.DefinedName{Name: "Stable", RefersTo: "Sheet1!$A$1"}))
	require.NoError(t, base.SetDefinedName(&excelize.DefinedName{Name: "Gone", RefersTo: "Sheet1!$B$1"}))

	working := newWorkbook(t)
	require.NoError(t, working.SetDefinedName(&excelize.DefinedName{Name: "Stable", RefersTo: "Sheet1!$A$2"}))
	require.NoError(t, working.SetDefinedName(&excelize.DefinedName{Name: "New", RefersTo: "Sheet1!$C$1"}))

	result, err := Diff(base, working, Options{})
	require.NoError(t, err)

	var added, deleted, modified *NameChange
	for _, c := range result.Changes {
		if c.Kind != KindName {
			continue
		}
		switch c.Name.Diff {
		case DiffAdded:
			added = c.Name
		case DiffDeleted:
			deleted = c.Name
		case DiffModified:
			modified = c.Name
		}
	}
	require.NotNil(t, added)
	require.Equal(t, "New", added.Name)
	require.NotNil(t, deleted)
	require.Equal(t, "Gone", deleted.Name)
	require.NotNil(t, modified)
	require.Equal(t, "Stable", modified.Name)
	require.Equal(t, "Sheet1!$A$1", modified.OldRefersTo)
	require.Equal(t, "Sheet1!$A$2", modified.NewRefersTo)
}

func TestDiff_SheetFilterRestrictsComparison(t *testing.T) {
	base := newWorkbook(t)
	_, err := base.NewSheet("Sheet2")
	require.NoError(t, err)
	require.NoError(t, base.SetCellValue("Sheet1", "A1", "one-old"))
	require.NoError(t, base.SetCellValue("Sheet2", "A1", "two-old"))

	working := newWorkbook(t)
	_, err = working.NewSheet("Sheet2")
	require.NoError(t, err)
	require.NoError(t, working.SetCellValue("Sheet1", "A1", "one-new"))
	require.NoError(t, working.SetCellValue("Sheet2", "A1", "two-new"))

	result, err := Diff(base, working, Options{SheetFilter: []string{"Sheet1"}})
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	require.Equal(t, "Sheet1", result.Changes[0].Cell.Sheet)
}

func TestDiff_IncludeExcludeFilterButCountsStayOverFullSet(t *testing.T) {
	base := newWorkbook(t)
	working := newWorkbook(t)
	require.NoError(t, working.SetCellValue("Sheet1", "A1", "added-value"))
	require.NoError(t, working.SetCellFormula("Sheet1", "A2", "=1"))

	result, err := Diff(base, working, Options{Include: map[string]bool{"added": true}})
	require.NoError(t, err)
	// both cells are additions; include=added keeps them both regardless of
	// subtype (subtype is only set on Modified changes).
	require.Len(t, result.Changes, 2)
	require.Equal(t, 2, result.Counts[string(DiffAdded)])

	excluded, err := Diff(base, working, Options{Exclude: map[string]bool{"cell": true}})
	require.NoError(t, err)
	require.Empty(t, excluded.Changes)
	require.Equal(t, 2, excluded.Counts[string(DiffAdded)])
}

func TestDiff_PagingLimitOffsetAndTruncation(t *testing.T) {
	base := newWorkbook(t)
	working := newWorkbook(t)
	for i := 1; i <= 5; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i)
		require.NoError(t, err)
		require.NoError(t, working.SetCellValue("Sheet1", cell, i))
	}

	page1, err := Diff(base, working, Options{Limit: 2, Offset: 0})
	require.NoError(t, err)
	require.Len(t, page1.Changes, 2)
	require.True(t, page1.Truncated)
	require.Equal(t, 5, page1.Total)

	page3, err := Diff(base, working, Options{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page3.Changes, 1)
	require.False(t, page3.Truncated)
}

func TestDiff_SummaryOnlySkipsChangesButKeepsCounts(t *testing.T) {
	base := newWorkbook(t)
	working := newWorkbook(t)
	require.NoError(t, working.SetCellValue("Sheet1", "A1", "x"))

	result, err := Diff(base, working, Options{SummaryOnly: true})
	require.NoError(t, err)
	require.Empty(t, result.Changes)
	require.Equal(t, 1, result.Total)
	require.Equal(t, 1, result.Counts[string(DiffAdded)])
}

func TestDiff_StableOrdering_RowMajorWithinSheet(t *testing.T) {
	base := newWorkbook(t)
	working := newWorkbook(t)
	require.NoError(t, working.SetCellValue("Sheet1", "B1", "b1"))
	require.NoError(t, working.SetCellValue("Sheet1", "A2", "a2"))
	require.NoError(t, working.SetCellValue("Sheet1", "A1", "a1"))

	result, err := Diff(base, working, Options{})
	require.NoError(t, err)
	require.Len(t, result.Changes, 3)
	require.Equal(t, "A1", result.Changes[0].Cell.Address)
	require.Equal(t, "B1", result.Changes[1].Cell.Address)
	require.Equal(t, "A2", result.Changes[2].Cell.Address)
}

func TestDiff_StableOrdering_SheetOrderMatchesWorkbookNotAlphabetical(t *testing.T) {
	base := newWorkbook(t)
	working := newWorkbook(t)
	require.NoError(t, working.SetSheetName("Sheet1", "Totals"))
	_, err := working.NewSheet("Raw Data")
	require.NoError(t, err)
	require.NoError(t, working.SetCellValue("Raw Data", "A1", "raw"))
	require.NoError(t, working.SetCellValue("Totals", "A1", "tot"))
	require.Equal(t, []string{"Totals", "Raw Data"}, working.GetSheetList())

	result, err := Diff(base, working, Options{})
	require.NoError(t, err)
	require.Len(t, result.Changes, 2)
	require.Equal(t, "Totals", result.Changes[0].Cell.Sheet, "sheet order must follow the workbook's sheet list, not alphabetical order")
	require.Equal(t, "Raw Data", result.Changes[1].Cell.Sheet)
}

func TestParseSheetFilter_RejectsUnknownSheet(t *testing.T) {
	working := newWorkbook(t)
	_, err := ParseSheetFilter(working, []string{"DoesNotExist"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SHEET_NOT_FOUND")
}

func TestParseSheetFilter_EmptyMeansAllSheets(t *testing.T) {
	working := newWorkbook(t)
	got, err := ParseSheetFilter(working, nil)
	require.NoError(t, err)
	require.Nil(t, got)
}
