// Package rewrite orchestrates the structural rewriter: after a sheet's
// geometry changes (row/col insert or delete) or a sheet is renamed, every
// formula cell and defined name across the workbook is revisited so
// references to the affected sheet stay correct (or collapse to #REF!).
// The rewrite is best-effort, per spec §4.5, and always reports the
// standing warning string so callers can surface it once per batch.
package rewrite

import (
	"fmt"

	"github.com/sheetforge/workbookd/internal/formula"
	"github.com/xuri/excelize/v2"
)

// StandingWarning is the fixed, spec-mandated caveat surfaced whenever a
// structural op ran the rewriter.
const StandingWarning = "Structural edits may not fully rewrite formulas/named ranges in every edge case; review formulas referencing the affected sheet."

// Result reports how many formula cells and defined names were touched.
type Result struct {
	FormulasRewritten    int
	DefinedNamesRewritten int
}

// ApplyStructuralEdit rewrites every formula cell in the workbook and every
// defined name whose RefersTo references edit.Sheet, shifting ranges through
// edit. It does not touch cell values, only formula text and defined-name
// RefersTo strings.
func ApplyStructuralEdit(f *excelize.File, edit formula.StructuralEdit) (Result, error) {
	var res Result

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return res, fmt.Errorf("rewrite: read rows of %q: %w", sheet, err)
		}
		for ri := range rows {
			for ci := range rows[ri] {
				cellName, err := excelize.CoordinatesToCellName(ci+1, ri+1)
				if err != nil {
					continue
				}
				cur, err := f.GetCellFormula(sheet, cellName)
				if err != nil || cur == "" {
					continue
				}
				rewritten, changed, err := formula.RewriteForStructuralEdit(cur, sheet, edit)
				if err != nil || !changed {
					continue
				}
				if err := f.SetCellFormula(sheet, cellName, rewritten); err != nil {
					return res, fmt.Errorf("rewrite: set formula %s!%s: %w", sheet, cellName, err)
				}
				res.FormulasRewritten++
			}
		}
	}

	names := f.GetDefinedName()
	for _, dn := range names {
		refersTo := dn.RefersTo
		scopeSheet := dn.Scope
		rewritten, changed, err := formula.RewriteForStructuralEdit(refersTo, scopeSheet, edit)
		if err != nil || !changed {
			continue
		}
		updated := dn
		updated.RefersTo = rewritten
		if err := f.DeleteDefinedName(&excelize.DefinedName{Name: dn.Name, Scope: dn.Scope}); err != nil {
			return res, fmt.Errorf("rewrite: delete defined name %q: %w", dn.Name, err)
		}
		if err := f.SetDefinedName(&updated); err != nil {
			return res, fmt.Errorf("rewrite: set defined name %q: %w", dn.Name, err)
		}
		res.DefinedNamesRewritten++
	}

	return res, nil
}

// ApplySheetRename rewrites every formula cell and defined name qualified to
// oldName so it now qualifies to newName, quoting newName when required.
func ApplySheetRename(f *excelize.File, oldName, newName string) (Result, error) {
	var res Result

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return res, fmt.Errorf("rewrite: read rows of %q: %w", sheet, err)
		}
		for ri := range rows {
			for ci := range rows[ri] {
				cellName, err := excelize.CoordinatesToCellName(ci+1, ri+1)
				if err != nil {
					continue
				}
				cur, err := f.GetCellFormula(sheet, cellName)
				if err != nil || cur == "" {
					continue
				}
				rewritten, changed, err := formula.RewriteSheetRef(cur, oldName, newName)
				if err != nil || !changed {
					continue
				}
				if err := f.SetCellFormula(sheet, cellName, rewritten); err != nil {
					return res, fmt.Errorf("rewrite: set formula %s!%s: %w", sheet, cellName, err)
				}
				res.FormulasRewritten++
			}
		}
	}

	names := f.GetDefinedName()
	for _, dn := range names {
		rewritten, changed, err := formula.RewriteSheetRef(dn.RefersTo, oldName, newName)
		if err != nil || !changed {
			continue
		}
		updated := dn
		updated.RefersTo = rewritten
		if updated.Scope == oldName {
			updated.Scope = newName
		}
		if err := f.DeleteDefinedName(&excelize.DefinedName{Name: dn.Name, Scope: dn.Scope}); err != nil {
			return res, fmt.Errorf("rewrite: delete defined name %q: %w", dn.Name, err)
		}
		if err := f.SetDefinedName(&updated); err != nil {
			return res, fmt.Errorf("rewrite: set defined name %q: %w", dn.Name, err)
		}
		res.DefinedNamesRewritten++
	}

	return res, nil
}
