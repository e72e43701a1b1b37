package ops

import (
	"fmt"

	"github.com/sheetforge/workbookd/internal/style"
	"github.com/xuri/excelize/v2"
)

// StyleOp patches a cell-level style descriptor over a resolved target using
// the merge/set/clear patch algebra in internal/style.
type StyleOp struct {
	Target TransformTarget  `json:"target"`
	Patch  style.Descriptor `json:"patch"`
	OpMode style.OpMode     `json:"op_mode"`
}

// ApplyStyleOp applies op to every cell in the resolved target, counting a
// cell as changed only when its stable style id differs before and after.
func ApplyStyleOp(f *excelize.File, sheet string, op StyleOp) (*ChangeSummary, error) {
	summary := NewChangeSummary()
	summary.addOpKind("style_batch")
	summary.touchSheet(sheet)

	cells, bounds, err := ResolveTarget(f, sheet, op.Target)
	if err != nil {
		return summary, err
	}
	summary.touchBounds(bounds)

	// styleCache avoids re-minting an identical excelize style id per distinct
	// resulting descriptor within this op.
	styleCache := map[string]int{}

	for _, cell := range cells {
		curStyleID, err := f.GetCellStyle(sheet, cell)
		if err != nil {
			return summary, fmt.Errorf("read style %s!%s: %w", sheet, cell, err)
		}
		curExcelStyle, err := f.GetStyle(curStyleID)
		if err != nil {
			// No style set yet; treat as the zero-value style.
			curExcelStyle = &excelize.Style{}
		}
		before := style.FromExcelStyle(curExcelStyle)
		beforeID := before.ID()

		after := style.Apply(before, op.Patch, op.OpMode)
		afterID := after.ID()

		summary.bump("cells_touched", 1)
		if afterID == beforeID {
			continue
		}

		newStyleID, ok := styleCache[afterID]
		if !ok {
			newStyleID, err = f.NewStyle(style.ToExcelStyle(after))
			if err != nil {
				return summary, fmt.Errorf("mint style for %s!%s: %w", sheet, cell, err)
			}
			styleCache[afterID] = newStyleID
		}
		if err := f.SetCellStyle(sheet, cell, cell, newStyleID); err != nil {
			return summary, fmt.Errorf("set style %s!%s: %w", sheet, cell, err)
		}
		summary.bump("cells_style_changed", 1)
	}
	return summary, nil
}
