package ops

import (
	"fmt"

	"github.com/sheetforge/workbookd/internal/addr"
	"github.com/xuri/excelize/v2"
)

// ColumnSizeKind selects between an explicit width and an auto-fit heuristic.
type ColumnSizeKind string

const (
	ColumnSizeAuto  ColumnSizeKind = "auto"
	ColumnSizeWidth ColumnSizeKind = "width"
)

// ColumnSizeOp resizes one or more columns on a sheet.
type ColumnSizeOp struct {
	Kind      ColumnSizeKind `json:"kind"`
	Sheet     string         `json:"sheet"`
	StartCol  string         `json:"start_col"`
	EndCol    string         `json:"end_col"`
	Width     float64        `json:"width,omitempty"`
	MinWidth  float64        `json:"min_width,omitempty"`
	MaxWidth  float64        `json:"max_width,omitempty"`
}

const (
	defaultAutoMinWidth = 8.0
	defaultAutoMaxWidth = 80.0
	charsToWidthFactor  = 0.9
)

// ApplyColumnSizeOp sets an explicit width or computes a best-effort
// autofit width from the widest cell text in each column. excelize has no
// built-in autofit, so the heuristic scans cell text length per column and
// converts characters to width units, clamped to [min_width,max_width].
func ApplyColumnSizeOp(f *excelize.File, op ColumnSizeOp) (*ChangeSummary, error) {
	s := NewChangeSummary()
	s.addOpKind("column_size_batch")
	s.touchSheet(op.Sheet)

	if op.Sheet == "" || op.StartCol == "" || op.EndCol == "" {
		return s, fmt.Errorf("INVALID_PARAMS: column_size requires sheet, start_col, end_col")
	}

	switch op.Kind {
	case ColumnSizeWidth:
		if op.Width <= 0 {
			return s, fmt.Errorf("INVALID_PARAMS: width must be positive")
		}
		if err := f.SetColWidth(op.Sheet, op.StartCol, op.EndCol, op.Width); err != nil {
			return s, fmt.Errorf("WRITE_FAILED: set col width: %w", err)
		}
		s.bump("columns_sized", 1)
		s.bump("width_ops", 1)
		s.touchBounds(op.StartCol + ":" + op.EndCol)
		return s, nil

	case ColumnSizeAuto:
		minW, maxW := op.MinWidth, op.MaxWidth
		if minW <= 0 {
			minW = defaultAutoMinWidth
		}
		if maxW <= 0 {
			maxW = defaultAutoMaxWidth
		}

		rows, err := f.GetRows(op.Sheet)
		if err != nil {
			return s, fmt.Errorf("READ_FAILED: %w", err)
		}
		startIdx, err := addr.ColumnLettersToIndex(op.StartCol)
		if err != nil {
			return s, fmt.Errorf("INVALID_PARAMS: %w", err)
		}
		endIdx, err := addr.ColumnLettersToIndex(op.EndCol)
		if err != nil {
			return s, fmt.Errorf("INVALID_PARAMS: %w", err)
		}

		for col := startIdx; col <= endIdx; col++ {
			maxLen := 0
			for _, row := range rows {
				if col-1 < len(row) && len(row[col-1]) > maxLen {
					maxLen = len(row[col-1])
				}
			}
			width := float64(maxLen) * charsToWidthFactor
			if width < minW {
				width = minW
			}
			if width > maxW {
				width = maxW
			}
			colLetter, err := addr.IndexToColumnLetters(col)
			if err != nil {
				return s, fmt.Errorf("INVALID_PARAMS: %w", err)
			}
			if err := f.SetColWidth(op.Sheet, colLetter, colLetter, width); err != nil {
				return s, fmt.Errorf("WRITE_FAILED: set col width: %w", err)
			}
			s.bump("columns_sized", 1)
		}
		s.bump("auto_ops", 1)
		s.touchBounds(op.StartCol + ":" + op.EndCol)
		return s, nil

	default:
		return s, fmt.Errorf("INVALID_PARAMS: unknown column_size kind %q", op.Kind)
	}
}
