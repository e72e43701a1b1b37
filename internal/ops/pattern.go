package ops

import (
	"fmt"

	"github.com/sheetforge/workbookd/internal/addr"
	"github.com/sheetforge/workbookd/internal/formula"
	"github.com/xuri/excelize/v2"
)

// FormulaPatternDirection names which axis a formula pattern fans out along.
type FormulaPatternDirection string

const (
	PatternDown  FormulaPatternDirection = "down"
	PatternRight FormulaPatternDirection = "right"
	PatternBoth  FormulaPatternDirection = "both"
)

// ApplyFormulaPatternOp replicates a single anchor formula across a range
// (one-dimensional for down/right, any rectangle for both), shifting
// relative references per cell.
type ApplyFormulaPatternOp struct {
	Sheet     string                  `json:"sheet"`
	Anchor    string                  `json:"anchor"`
	Formula   string                  `json:"formula"`
	Range     string                  `json:"range"`
	Direction FormulaPatternDirection `json:"direction"`
	Mode      formula.RelativeMode    `json:"mode,omitempty"`
}

// ApplyFormulaPattern validates that the anchor is the range's top-left
// corner and that, for down/right, the range is one-dimensional along the
// requested direction, then writes the shifted pattern formula into every
// cell of the range, the anchor included.
func ApplyFormulaPattern(f *excelize.File, op ApplyFormulaPatternOp) (*ChangeSummary, error) {
	s := NewChangeSummary()
	s.addOpKind("apply_formula_pattern")
	s.touchSheet(op.Sheet)

	bounds, err := addr.ParseBounds(op.Range)
	if err != nil {
		return s, fmt.Errorf("INVALID_RANGE: %w", err)
	}
	anchor, err := addr.ParseCoord(op.Anchor)
	if err != nil {
		return s, fmt.Errorf("INVALID_RANGE: %w", err)
	}
	if anchor.Col != bounds.Start.Col || anchor.Row != bounds.Start.Row {
		return s, fmt.Errorf("INVALID_PARAMS: anchor must equal the range's top-left cell")
	}

	switch op.Direction {
	case PatternDown:
		if bounds.Width() != 1 {
			return s, fmt.Errorf("INVALID_PARAMS: direction down requires a single-column range")
		}
	case PatternRight:
		if bounds.Height() != 1 {
			return s, fmt.Errorf("INVALID_PARAMS: direction right requires a single-row range")
		}
	case PatternBoth:
		// any rectangular shape is acceptable; both axes fan out from anchor.
	default:
		return s, fmt.Errorf("INVALID_PARAMS: unknown direction %q", op.Direction)
	}

	mode := op.Mode
	if mode == "" {
		mode = formula.ModeExcel
	}

	s.touchBounds(op.Range)
	for r := bounds.Start.Row; r <= bounds.End.Row; r++ {
		for c := bounds.Start.Col; c <= bounds.End.Col; c++ {
			target := addr.Coord{Col: c, Row: r}
			cellName, err := addr.FormatCoord(target)
			if err != nil {
				return s, err
			}
			shifted, err := formula.ApplyFormulaPattern(op.Formula, anchor, target, mode)
			if err != nil {
				return s, fmt.Errorf("FORMULA_PARSE_FAILED: %w", err)
			}
			if err := f.SetCellFormula(op.Sheet, cellName, shifted); err != nil {
				return s, fmt.Errorf("WRITE_FAILED: set formula %s!%s: %w", op.Sheet, cellName, err)
			}
			s.bump("cells_formula_set", 1)
			s.bump("cells_touched", 1)
		}
	}
	s.setFlag("recalc_needed", true)
	return s, nil
}
