package formula

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheetforge/workbookd/internal/addr"
)

func mustCoord(t *testing.T, token string) addr.Coord {
	t.Helper()
	c, err := addr.ParseCoord(token)
	require.NoError(t, err)
	return c
}

func TestApplyFormulaPatternExcelMode(t *testing.T) {
	c2 := mustCoord(t, "C2")
	c3 := mustCoord(t, "C3")
	c4 := mustCoord(t, "C4")

	out, err := ApplyFormulaPattern("B2*2", c2, c2, ModeExcel)
	require.NoError(t, err)
	require.Equal(t, "B2*2", out)

	out, err = ApplyFormulaPattern("B2*2", c2, c3, ModeExcel)
	require.NoError(t, err)
	require.Equal(t, "B3*2", out)

	out, err = ApplyFormulaPattern("B2*2", c2, c4, ModeExcel)
	require.NoError(t, err)
	require.Equal(t, "B4*2", out)
}

func TestApplyFormulaPatternAbsCols(t *testing.T) {
	c2 := mustCoord(t, "C2")
	c3 := mustCoord(t, "C3")

	out, err := ApplyFormulaPattern("B2*2", c2, c3, ModeAbsCols)
	require.NoError(t, err)
	require.Equal(t, "$B3*2", out)
}

func TestApplyFormulaPatternSheetQualifiedNeverShifts(t *testing.T) {
	c2 := mustCoord(t, "C2")
	c4 := mustCoord(t, "C4")
	out, err := ApplyFormulaPattern("Sheet2!B2*2", c2, c4, ModeExcel)
	require.NoError(t, err)
	require.Equal(t, "Sheet2!B2*2", out)
}

func TestRewriteForStructuralEditInsertRows(t *testing.T) {
	edit := StructuralEdit{Sheet: "Sheet1", Kind: InsertRows, At: 2, Count: 1}
	out, changed, err := RewriteForStructuralEdit("Sheet1!B2*2", "Sheet2", edit)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "Sheet1!B3*2", out)
}

func TestRewriteForStructuralEditDeleteRowsCollapsesToRef(t *testing.T) {
	edit := StructuralEdit{Sheet: "Sheet1", Kind: DeleteRows, At: 2, Count: 1}
	out, changed, err := RewriteForStructuralEdit("Sheet1!B2+1", "Sheet2", edit)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "#REF!+1", out)
}

func TestRewriteForStructuralEditDeleteRowsRangeEndpointCollapse(t *testing.T) {
	edit := StructuralEdit{Sheet: "Sheet1", Kind: DeleteRows, At: 2, Count: 1}
	out, changed, err := RewriteForStructuralEdit("Sheet1!A2:A5", "Sheet2", edit)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "#REF!", out)
}

func TestRewriteForStructuralEditUnaffectedSheetUnchanged(t *testing.T) {
	edit := StructuralEdit{Sheet: "Sheet1", Kind: InsertRows, At: 2, Count: 1}
	out, changed, err := RewriteForStructuralEdit("Sheet3!B2*2", "Sheet2", edit)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, "Sheet3!B2*2", out)
}

func TestRewriteSheetRefQuotesWhenNeeded(t *testing.T) {
	out, changed, err := RewriteSheetRef("Sheet1!B3*2", "Sheet1", "Q1 Actuals")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "'Q1 Actuals'!B3*2", out)
}

func TestNeedsQuoting(t *testing.T) {
	require.False(t, NeedsQuoting("Sheet1"))
	require.True(t, NeedsQuoting("Q1 Actuals"))
	require.True(t, NeedsQuoting("1stQuarter"))
	require.True(t, NeedsQuoting("TRUE"))
}
