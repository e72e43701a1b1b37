package ops

import (
	"fmt"

	"github.com/sheetforge/workbookd/internal/formula"
	"github.com/sheetforge/workbookd/internal/policy"
	"github.com/xuri/excelize/v2"
)

// ApplyCellEdits writes a batch of CellEdit entries to sheet in array order,
// gating formula edits through the given policy collector. It returns a
// ChangeSummary and an error: the first formula-parse failure under Fail
// mode, or the first cell write that fails; nil otherwise.
func ApplyCellEdits(f *excelize.File, sheet string, edits []CellEdit, col *policy.Collector) (*ChangeSummary, error) {
	summary := NewChangeSummary()
	summary.addOpKind("edit_batch")
	summary.touchSheet(sheet)

	for _, e := range edits {
		if e.IsFormula {
			if _, err := formula.Tokenize(e.Value); err != nil {
				col.Record(sheet, e.Address, e.Value, err)
				if col.FailFast {
					return summary, col.FirstFailure()
				}
				continue
			}
			if err := f.SetCellFormula(sheet, e.Address, e.Value); err != nil {
				return summary, fmt.Errorf("set formula %s!%s: %w", sheet, e.Address, err)
			}
			summary.bump("cells_formula_set", 1)
			summary.setFlag("recalc_needed", true)
		} else {
			if err := f.SetCellValue(sheet, e.Address, e.Value); err != nil {
				return summary, fmt.Errorf("set value %s!%s: %w", sheet, e.Address, err)
			}
			summary.bump("cells_value_set", 1)
		}
		summary.bump("cells_touched", 1)
		summary.touchBounds(e.Address)
	}
	return summary, nil
}
