package ops

import (
	"fmt"

	"github.com/sheetforge/workbookd/internal/policy"
	"github.com/xuri/excelize/v2"
)

// BatchItemKind tags which op family a BatchItem carries.
type BatchItemKind string

const (
	ItemCellEdit       BatchItemKind = "cell_edit"
	ItemClearRange     BatchItemKind = "clear_range"
	ItemFillRange      BatchItemKind = "fill_range"
	ItemReplaceInRange BatchItemKind = "replace_in_range"
	ItemStyle          BatchItemKind = "style"
	ItemStructure      BatchItemKind = "structure"
	ItemColumnSize     BatchItemKind = "column_size"
	ItemLayout         BatchItemKind = "layout"
	ItemRules          BatchItemKind = "rules"
	ItemFormulaPattern BatchItemKind = "formula_pattern"
)

// BatchItem is one array-order entry of a batch request. Exactly one of the
// pointer/slice fields matching Kind is populated.
type BatchItem struct {
	Kind  BatchItemKind `json:"kind"`
	Sheet string        `json:"sheet,omitempty"`

	CellEdits      []CellEdit             `json:"cell_edits,omitempty"`
	ClearRange     *ClearRange            `json:"clear_range,omitempty"`
	FillRange      *FillRange             `json:"fill_range,omitempty"`
	ReplaceInRange *ReplaceInRange        `json:"replace_in_range,omitempty"`
	StyleOp        *StyleOp               `json:"style_op,omitempty"`
	StructureOp    *StructureOp           `json:"structure_op,omitempty"`
	ColumnSizeOp   *ColumnSizeOp          `json:"column_size_op,omitempty"`
	LayoutOp       *SheetLayoutOp         `json:"layout_op,omitempty"`
	RulesOp        *RulesOp               `json:"rules_op,omitempty"`
	PatternOp      *ApplyFormulaPatternOp `json:"pattern_op,omitempty"`
}

// RunBatch applies every item in array order against f, accumulating one
// merged ChangeSummary. Ops after the first fatal error under Fail-mode
// formula parsing, or any op returning a hard error, are not run; the
// caller (fork layer) decides whether a partial batch result is surfaced.
// formulaMode governs every op in the batch that carries formula text; a
// single Collector is shared across the whole batch so diagnostics group
// across op boundaries.
func RunBatch(f *excelize.File, items []BatchItem, formulaMode policy.Mode) (*ChangeSummary, *policy.Collector, error) {
	batch := NewChangeSummary()
	col := policy.NewCollector(formulaMode)

	for i, item := range items {
		var (
			summary *ChangeSummary
			err     error
		)
		switch item.Kind {
		case ItemCellEdit:
			summary, err = ApplyCellEdits(f, item.Sheet, item.CellEdits, col)
		case ItemClearRange:
			if item.ClearRange == nil {
				err = fmt.Errorf("INVALID_PARAMS: batch item %d missing clear_range payload", i)
				break
			}
			summary, err = ApplyClearRange(f, item.Sheet, *item.ClearRange)
		case ItemFillRange:
			if item.FillRange == nil {
				err = fmt.Errorf("INVALID_PARAMS: batch item %d missing fill_range payload", i)
				break
			}
			summary, err = ApplyFillRange(f, item.Sheet, *item.FillRange, col)
		case ItemReplaceInRange:
			if item.ReplaceInRange == nil {
				err = fmt.Errorf("INVALID_PARAMS: batch item %d missing replace_in_range payload", i)
				break
			}
			summary, err = ApplyReplaceInRange(f, item.Sheet, *item.ReplaceInRange)
		case ItemStyle:
			if item.StyleOp == nil {
				err = fmt.Errorf("INVALID_PARAMS: batch item %d missing style payload", i)
				break
			}
			summary, err = ApplyStyleOp(f, item.Sheet, *item.StyleOp)
		case ItemStructure:
			if item.StructureOp == nil {
				err = fmt.Errorf("INVALID_PARAMS: batch item %d missing structure payload", i)
				break
			}
			summary, err = ApplyStructureOp(f, *item.StructureOp)
		case ItemColumnSize:
			if item.ColumnSizeOp == nil {
				err = fmt.Errorf("INVALID_PARAMS: batch item %d missing column_size payload", i)
				break
			}
			summary, err = ApplyColumnSizeOp(f, *item.ColumnSizeOp)
		case ItemLayout:
			if item.LayoutOp == nil {
				err = fmt.Errorf("INVALID_PARAMS: batch item %d missing layout payload", i)
				break
			}
			summary, err = ApplySheetLayoutOp(f, *item.LayoutOp)
		case ItemRules:
			if item.RulesOp == nil {
				err = fmt.Errorf("INVALID_PARAMS: batch item %d missing rules payload", i)
				break
			}
			summary, err = ApplyRulesOp(f, *item.RulesOp, formulaMode == policy.Off)
		case ItemFormulaPattern:
			if item.PatternOp == nil {
				err = fmt.Errorf("INVALID_PARAMS: batch item %d missing formula_pattern payload", i)
				break
			}
			summary, err = ApplyFormulaPattern(f, *item.PatternOp)
		default:
			err = fmt.Errorf("INVALID_PARAMS: batch item %d has unknown kind %q", i, item.Kind)
		}

		if summary != nil {
			batch.merge(summary)
		}
		if err != nil {
			return batch, col, fmt.Errorf("batch item %d (%s): %w", i, item.Kind, err)
		}
		if col.FailFast {
			return batch, col, col.FirstFailure()
		}
	}

	if col.Mode() == policy.Warn && len(col.Groups()) > 0 {
		batch.warn("WARN_FORMULA_PARSE_SKIPPED", "one or more formulas in this batch failed to parse and were left unapplied")
	}

	return batch, col, nil
}
