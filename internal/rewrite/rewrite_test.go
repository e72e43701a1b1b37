package rewrite

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sheetforge/workbookd/internal/formula"
)

func TestApplyStructuralEdit_ShiftsFormulaReferencesBelowInsertPoint(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "B10", 1))
	require.NoError(t, f.SetCellFormula("Sheet1", "A1", "=B10+1"))

	res, err := ApplyStructuralEdit(f, formula.StructuralEdit{Sheet: "Sheet1", Kind: formula.InsertRows, At: 5, Count: 2})
	require.NoError(t, err)
	require.Equal(t, 1, res.FormulasRewritten)

	got, err := f.GetCellFormula("Sheet1", "A1")
	require.NoError(t, err)
	require.Equal(t, "B12+1", got)
}

func TestApplyStructuralEdit_DeletedReferenceBecomesRefError(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellFormula("Sheet1", "A1", "=B5+1"))

	res, err := ApplyStructuralEdit(f, formula.StructuralEdit{Sheet: "Sheet1", Kind: formula.DeleteRows, At: 5, Count: 1})
	require.NoError(t, err)
	require.Equal(t, 1, res.FormulasRewritten)

	got, err := f.GetCellFormula("Sheet1", "A1")
	require.NoError(t, err)
	require.Contains(t, got, "#REF!")
}

func TestApplyStructuralEdit_UnaffectedFormulasLeftAlone(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellFormula("Sheet1", "A1", "=C1+1"))

	res, err := ApplyStructuralEdit(f, formula.StructuralEdit{Sheet: "Sheet1", Kind: formula.InsertRows, At: 50, Count: 3})
	require.NoError(t, err)
	require.Equal(t, 0, res.FormulasRewritten)

	got, err := f.GetCellFormula("Sheet1", "A1")
	require.NoError(t, err)
	require.Equal(t, "C1+1", got)
}

func TestApplyStructuralEdit_RewritesDefinedNameRefersTo(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetDefinedName(&excelize.DefinedName{Name: "Total", RefersTo: "Sheet1!$B$10"}))

	res, err := ApplyStructuralEdit(f, formula.StructuralEdit{Sheet: "Sheet1", Kind: formula.InsertRows, At: 5, Count: 2})
	require.NoError(t, err)
	require.Equal(t, 1, res.DefinedNamesRewritten)

	var got string
	for _, dn := range f.GetDefinedName() {
		if dn.Name == "Total" {
			got = dn.RefersTo
		}
	}
	require.Equal(t, "Sheet1!$B$12", got)
}

func TestApplySheetRename_RewritesQualifiedFormulaReferences(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	_, err := f.NewSheet("Data")
	require.NoError(t, err)
	require.NoError(t, f.SetCellFormula("Sheet1", "A1", "=Data!A1+1"))

	res, err := ApplySheetRename(f, "Data", "Inputs")
	require.NoError(t, err)
	require.Equal(t, 1, res.FormulasRewritten)

	got, err := f.GetCellFormula("Sheet1", "A1")
	require.NoError(t, err)
	require.Equal(t, "Inputs!A1+1", got)
}

func TestApplySheetRename_UnrelatedSheetReferencesUntouched(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	_, err := f.NewSheet("Data")
	require.NoError(t, err)
	require.NoError(t, f.SetCellFormula("Sheet1", "A1", "=Data!A1+1"))

	res, err := ApplySheetRename(f, "Other", "Inputs")
	require.NoError(t, err)
	require.Equal(t, 0, res.FormulasRewritten)

	got, err := f.GetCellFormula("Sheet1", "A1")
	require.NoError(t, err)
	require.Equal(t, "Data!A1+1", got)
}

func TestApplySheetRename_RewritesDefinedNameScopeWhenItMatchesOldSheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	_, err := f.NewSheet("Data")
	require.NoError(t, err)
	require.NoError(t, f.SetDefinedName(&excelize.DefinedName{Name: "LocalTotal", Scope: "Data", RefersTo: "Data!$A$1"}))

	res, err := ApplySheetRename(f, "Data", "Inputs")
	require.NoError(t, err)
	require.Equal(t, 1, res.DefinedNamesRewritten)

	var scope, refersTo string
	for _, dn := range f.GetDefinedName() {
		if dn.Name == "LocalTotal" {
			scope, refersTo = dn.Scope, dn.RefersTo
		}
	}
	require.Equal(t, "Inputs", scope)
	require.Equal(t, "Inputs!$A$1", refersTo)
}
