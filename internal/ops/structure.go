package ops

import (
	"fmt"

	"github.com/sheetforge/workbookd/internal/addr"
	"github.com/sheetforge/workbookd/internal/formula"
	"github.com/sheetforge/workbookd/internal/rewrite"
	"github.com/xuri/excelize/v2"
)

// StructureKind tags which structural edit a StructureOp carries.
type StructureKind string

const (
	StructInsertRows  StructureKind = "insert_rows"
	StructDeleteRows  StructureKind = "delete_rows"
	StructInsertCols  StructureKind = "insert_cols"
	StructDeleteCols  StructureKind = "delete_cols"
	StructRenameSheet StructureKind = "rename_sheet"
	StructCreateSheet StructureKind = "create_sheet"
	StructDeleteSheet StructureKind = "delete_sheet"
	StructCopyRange   StructureKind = "copy_range"
	StructMoveRange   StructureKind = "move_range"
)

// isStructuralOpKind reports whether kind (an OpKinds entry) names one of
// the StructureKind variants rather than a cell/style/layout op kind.
func isStructuralOpKind(kind string) bool {
	switch StructureKind(kind) {
	case StructInsertRows, StructDeleteRows, StructInsertCols, StructDeleteCols,
		StructRenameSheet, StructCreateSheet, StructDeleteSheet, StructCopyRange, StructMoveRange:
		return true
	default:
		return false
	}
}

// StructureOp is the tagged-union payload for one structural edit.
type StructureOp struct {
	Kind StructureKind `json:"kind"`

	Sheet string `json:"sheet,omitempty"`
	At    int    `json:"at,omitempty"`
	Count int    `json:"count,omitempty"`

	OldName string `json:"old_name,omitempty"`
	NewName string `json:"new_name,omitempty"`

	Name     string `json:"name,omitempty"`
	Position *int   `json:"position,omitempty"`

	SourceSheet     string `json:"source_sheet,omitempty"`
	SourceRange     string `json:"source_range,omitempty"`
	DestSheet       string `json:"dest_sheet,omitempty"`
	DestAnchor      string `json:"dest_anchor,omitempty"`
	IncludeFormulas bool   `json:"include_formulas,omitempty"`
}

// ApplyStructureOp mutates f according to op and returns its summary.
// Each op kind runs against the state left by the previous op in the batch,
// per spec §4.3's ordering guarantee.
func ApplyStructureOp(f *excelize.File, op StructureOp) (*ChangeSummary, error) {
	switch op.Kind {
	case StructInsertRows:
		return applyInsertRows(f, op)
	case StructDeleteRows:
		return applyDeleteRows(f, op)
	case StructInsertCols:
		return applyInsertCols(f, op)
	case StructDeleteCols:
		return applyDeleteCols(f, op)
	case StructRenameSheet:
		return applyRenameSheet(f, op)
	case StructCreateSheet:
		return applyCreateSheet(f, op)
	case StructDeleteSheet:
		return applyDeleteSheet(f, op)
	case StructCopyRange:
		return applyCopyOrMoveRange(f, op, false)
	case StructMoveRange:
		return applyCopyOrMoveRange(f, op, true)
	default:
		return nil, fmt.Errorf("INVALID_PARAMS: unknown structure op kind %q", op.Kind)
	}
}

func applyInsertRows(f *excelize.File, op StructureOp) (*ChangeSummary, error) {
	s := NewChangeSummary()
	s.addOpKind(string(StructInsertRows))
	s.touchSheet(op.Sheet)
	if op.At < 1 || op.Count < 1 {
		return s, fmt.Errorf("INVALID_PARAMS: insert_rows requires at>=1 and count>=1")
	}
	if err := f.InsertRows(op.Sheet, op.At, op.Count); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: insert rows: %w", err)
	}
	s.bump("rows_inserted", uint64(op.Count))
	s.setFlag("recalc_needed", true)
	if _, err := rewrite.ApplyStructuralEdit(f, formula.StructuralEdit{Sheet: op.Sheet, Kind: formula.InsertRows, At: op.At, Count: op.Count}); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: rewrite formulas after insert_rows: %w", err)
	}
	s.warn("WARN_STRUCTURAL_REWRITE_BEST_EFFORT", rewrite.StandingWarning)
	return s, nil
}

func applyDeleteRows(f *excelize.File, op StructureOp) (*ChangeSummary, error) {
	s := NewChangeSummary()
	s.addOpKind(string(StructDeleteRows))
	s.touchSheet(op.Sheet)
	if op.At < 1 || op.Count < 1 {
		return s, fmt.Errorf("INVALID_PARAMS: delete_rows requires at>=1 and count>=1")
	}
	for i := 0; i < op.Count; i++ {
		if err := f.RemoveRow(op.Sheet, op.At); err != nil {
			return s, fmt.Errorf("WRITE_FAILED: delete rows: %w", err)
		}
	}
	s.bump("rows_deleted", uint64(op.Count))
	s.setFlag("recalc_needed", true)
	if _, err := rewrite.ApplyStructuralEdit(f, formula.StructuralEdit{Sheet: op.Sheet, Kind: formula.DeleteRows, At: op.At, Count: op.Count}); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: rewrite formulas after delete_rows: %w", err)
	}
	s.warn("WARN_STRUCTURAL_REWRITE_BEST_EFFORT", rewrite.StandingWarning)
	return s, nil
}

func applyInsertCols(f *excelize.File, op StructureOp) (*ChangeSummary, error) {
	s := NewChangeSummary()
	s.addOpKind(string(StructInsertCols))
	s.touchSheet(op.Sheet)
	if op.At < 1 || op.Count < 1 {
		return s, fmt.Errorf("INVALID_PARAMS: insert_cols requires at>=1 and count>=1")
	}
	colLetters, err := addr.IndexToColumnLetters(op.At)
	if err != nil {
		return s, fmt.Errorf("INVALID_PARAMS: %w", err)
	}
	if err := f.InsertCols(op.Sheet, colLetters, op.Count); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: insert cols: %w", err)
	}
	s.bump("cols_inserted", uint64(op.Count))
	s.setFlag("recalc_needed", true)
	if _, err := rewrite.ApplyStructuralEdit(f, formula.StructuralEdit{Sheet: op.Sheet, Kind: formula.InsertCols, At: op.At, Count: op.Count}); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: rewrite formulas after insert_cols: %w", err)
	}
	s.warn("WARN_STRUCTURAL_REWRITE_BEST_EFFORT", rewrite.StandingWarning)
	return s, nil
}

func applyDeleteCols(f *excelize.File, op StructureOp) (*ChangeSummary, error) {
	s := NewChangeSummary()
	s.addOpKind(string(StructDeleteCols))
	s.touchSheet(op.Sheet)
	if op.At < 1 || op.Count < 1 {
		return s, fmt.Errorf("INVALID_PARAMS: delete_cols requires at>=1 and count>=1")
	}
	colLetters, err := addr.IndexToColumnLetters(op.At)
	if err != nil {
		return s, fmt.Errorf("INVALID_PARAMS: %w", err)
	}
	for i := 0; i < op.Count; i++ {
		if err := f.RemoveCol(op.Sheet, colLetters); err != nil {
			return s, fmt.Errorf("WRITE_FAILED: delete cols: %w", err)
		}
	}
	s.bump("cols_deleted", uint64(op.Count))
	s.setFlag("recalc_needed", true)
	if _, err := rewrite.ApplyStructuralEdit(f, formula.StructuralEdit{Sheet: op.Sheet, Kind: formula.DeleteCols, At: op.At, Count: op.Count}); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: rewrite formulas after delete_cols: %w", err)
	}
	s.warn("WARN_STRUCTURAL_REWRITE_BEST_EFFORT", rewrite.StandingWarning)
	return s, nil
}

func applyRenameSheet(f *excelize.File, op StructureOp) (*ChangeSummary, error) {
	s := NewChangeSummary()
	s.addOpKind(string(StructRenameSheet))
	s.touchSheet(op.OldName)
	if op.OldName == "" || op.NewName == "" {
		return s, fmt.Errorf("INVALID_PARAMS: rename_sheet requires old_name and new_name")
	}
	if err := f.SetSheetName(op.OldName, op.NewName); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: rename sheet: %w", err)
	}
	s.bump("sheets_renamed", 1)
	if _, err := rewrite.ApplySheetRename(f, op.OldName, op.NewName); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: rewrite formulas after rename_sheet: %w", err)
	}
	s.touchSheet(op.NewName)
	s.warn("WARN_STRUCTURAL_REWRITE_BEST_EFFORT", rewrite.StandingWarning)
	return s, nil
}

func applyCreateSheet(f *excelize.File, op StructureOp) (*ChangeSummary, error) {
	s := NewChangeSummary()
	s.addOpKind(string(StructCreateSheet))
	if op.Name == "" {
		return s, fmt.Errorf("INVALID_PARAMS: create_sheet requires name")
	}
	if _, err := f.NewSheet(op.Name); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: create sheet: %w", err)
	}
	if op.Position != nil {
		order := f.GetSheetList()
		idx, err := f.GetSheetIndex(op.Name)
		if err == nil {
			_ = idx
			_ = order
			// excelize orders sheets by insertion; explicit reordering beyond
			// creation position is not exposed publicly, so `position` is
			// honoured only as a best-effort hint captured in the summary.
			s.warn("WARN_CREATE_SHEET_POSITION_BEST_EFFORT", "explicit sheet position is not guaranteed; sheet appended in workbook order")
		}
	}
	s.touchSheet(op.Name)
	s.bump("sheets_created", 1)
	return s, nil
}

func applyDeleteSheet(f *excelize.File, op StructureOp) (*ChangeSummary, error) {
	s := NewChangeSummary()
	s.addOpKind(string(StructDeleteSheet))
	s.touchSheet(op.Sheet)
	if op.Sheet == "" {
		return s, fmt.Errorf("INVALID_PARAMS: delete_sheet requires sheet")
	}
	if err := f.DeleteSheet(op.Sheet); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: delete sheet: %w", err)
	}
	s.bump("sheets_deleted", 1)
	return s, nil
}

func applyCopyOrMoveRange(f *excelize.File, op StructureOp, move bool) (*ChangeSummary, error) {
	kind := StructCopyRange
	if move {
		kind = StructMoveRange
	}
	s := NewChangeSummary()
	s.addOpKind(string(kind))
	s.touchSheet(op.SourceSheet)
	if op.DestSheet != "" {
		s.touchSheet(op.DestSheet)
	}

	destSheet := op.DestSheet
	if destSheet == "" {
		destSheet = op.SourceSheet
	}
	srcBounds, err := addr.ParseBounds(op.SourceRange)
	if err != nil {
		return s, fmt.Errorf("INVALID_RANGE: %w", err)
	}
	anchor, err := addr.ParseCoord(op.DestAnchor)
	if err != nil {
		return s, fmt.Errorf("INVALID_RANGE: %w", err)
	}
	dCol := anchor.Col - srcBounds.Start.Col
	dRow := anchor.Row - srcBounds.Start.Row

	if move && destSheet == op.SourceSheet {
		destBounds := addr.Bounds{
			Start: addr.Coord{Col: anchor.Col, Row: anchor.Row},
			End:   addr.Coord{Col: anchor.Col + srcBounds.Width() - 1, Row: anchor.Row + srcBounds.Height() - 1},
		}
		if srcBounds.Overlaps(destBounds) {
			return s, fmt.Errorf("INVALID_PARAMS: move_range forbids overlapping source/destination on the same sheet")
		}
	}

	for r := srcBounds.Start.Row; r <= srcBounds.End.Row; r++ {
		for c := srcBounds.Start.Col; c <= srcBounds.End.Col; c++ {
			srcName, err := addr.FormatCoord(addr.Coord{Col: c, Row: r})
			if err != nil {
				return s, err
			}
			dstName, err := addr.FormatCoord(addr.Coord{Col: c + dCol, Row: r + dRow})
			if err != nil {
				return s, err
			}

			if op.IncludeFormulas {
				if f1, _ := f.GetCellFormula(op.SourceSheet, srcName); f1 != "" {
					shifted, perr := formula.ApplyFormulaPattern(f1, addr.Coord{Col: srcBounds.Start.Col, Row: srcBounds.Start.Row}, addr.Coord{Col: srcBounds.Start.Col + dCol, Row: srcBounds.Start.Row + dRow}, formula.ModeExcel)
					if perr == nil {
						if err := f.SetCellFormula(destSheet, dstName, shifted); err != nil {
							return s, fmt.Errorf("WRITE_FAILED: %w", err)
						}
						s.setFlag("recalc_needed", true)
						goto counted
					}
				}
			}
			{
				v, _ := f.GetCellValue(op.SourceSheet, srcName)
				if err := f.SetCellValue(destSheet, dstName, v); err != nil {
					return s, fmt.Errorf("WRITE_FAILED: %w", err)
				}
			}
		counted:
			styleID, _ := f.GetCellStyle(op.SourceSheet, srcName)
			if styleID != 0 {
				_ = f.SetCellStyle(destSheet, dstName, dstName, styleID)
			}
			if move {
				_ = f.SetCellValue(op.SourceSheet, srcName, nil)
				_ = f.SetCellFormula(op.SourceSheet, srcName, "")
			}
		}
	}

	destA1, _ := addr.FormatBounds(addr.Bounds{
		Start: addr.Coord{Col: anchor.Col, Row: anchor.Row},
		End:   addr.Coord{Col: anchor.Col + srcBounds.Width() - 1, Row: anchor.Row + srcBounds.Height() - 1},
	})
	s.touchBounds(op.SourceRange)
	s.touchBounds(destA1)
	n := uint64(srcBounds.CellCount())
	if move {
		s.bump("cells_moved", n)
		s.bump("ranges_moved", 1)
	} else {
		s.bump("cells_copied", n)
		s.bump("ranges_copied", 1)
	}
	return s, nil
}
