package formula

import (
	"regexp"
	"strings"

	"github.com/sheetforge/workbookd/internal/addr"
)

// RelativeMode controls how pattern-fill shifting treats absolute ($) lock bits.
type RelativeMode string

const (
	// ModeExcel shifts only relative components; absolute components are untouched.
	ModeExcel RelativeMode = "excel"
	// ModeAbsCols forces column components absolute and never shifts them.
	ModeAbsCols RelativeMode = "abs_cols"
	// ModeAbsRows forces row components absolute and never shifts them.
	ModeAbsRows RelativeMode = "abs_rows"
)

// ShiftCoordRelative applies a (dCol,dRow) pattern-fill delta to c under mode.
// Sheet-qualified and external references are never shifted by the caller
// (checked before invoking this), per spec: "Sheet-qualified references and
// external references never shift."
func ShiftCoordRelative(c addr.Coord, dCol, dRow int, mode RelativeMode) addr.Coord {
	out := c
	switch mode {
	case ModeAbsCols:
		out.ColLock = true
		if !c.RowLock {
			out.Row = c.Row + dRow
		}
	case ModeAbsRows:
		out.RowLock = true
		if !c.ColLock {
			out.Col = c.Col + dCol
		}
	default: // ModeExcel
		if !c.ColLock {
			out.Col = c.Col + dCol
		}
		if !c.RowLock {
			out.Row = c.Row + dRow
		}
	}
	return out
}

// ShiftBoundsRelative applies ShiftCoordRelative to both endpoints of a range.
func ShiftBoundsRelative(b addr.Bounds, dCol, dRow int, mode RelativeMode) addr.Bounds {
	return addr.Bounds{
		Start: ShiftCoordRelative(b.Start, dCol, dRow, mode),
		End:   ShiftCoordRelative(b.End, dCol, dRow, mode),
	}
}

// ApplyFormulaPattern shifts every non-sheet-qualified, non-external range
// token in baseFormula by the delta between target and anchor, under mode,
// and returns the result without a leading '='. Sheet-qualified and
// external reference tokens are copied through unchanged.
func ApplyFormulaPattern(baseFormula string, anchor, target addr.Coord, mode RelativeMode) (string, error) {
	text := strings.TrimPrefix(baseFormula, "=")
	tokens, err := Tokenize(text)
	if err != nil {
		return "", err
	}
	dCol := target.Col - anchor.Col
	dRow := target.Row - anchor.Row
	out := EmitWithRewrites(tokens, func(t Token) (string, bool) {
		if t.Sheet != "" || t.IsExternal {
			return "", false
		}
		shifted := ShiftBoundsRelative(t.Bounds, dCol, dRow, mode)
		newText, ferr := addr.FormatBounds(shifted)
		if ferr != nil {
			return "", false
		}
		return newText, true
	})
	return out, nil
}

// EditKind enumerates the structural edits the reference shifter understands.
type EditKind int

const (
	InsertRows EditKind = iota
	DeleteRows
	InsertCols
	DeleteCols
)

// StructuralEdit describes a single row/column insert or delete on one sheet.
type StructuralEdit struct {
	Sheet string
	Kind  EditKind
	At    int // 1-based row or column where the edit begins
	Count int // number of rows/columns inserted or deleted
}

// shiftIndex maps a single row or column index through edit, reporting
// refErr=true when the index falls inside a deleted span (becomes #REF!).
func shiftIndex(idx int, kind EditKind, at, count int, isInsert bool) (newIdx int, refErr bool) {
	if isInsert {
		if idx >= at {
			return idx + count, false
		}
		return idx, false
	}
	// delete
	if idx >= at && idx <= at+count-1 {
		return 0, true
	}
	if idx > at+count-1 {
		return idx - count, false
	}
	return idx, false
}

// ShiftCoordForEdit shifts a single coordinate through a structural edit on
// the same sheet context. refErr reports the coordinate fell inside a
// deleted row/column span and must render as #REF!.
func ShiftCoordForEdit(c addr.Coord, edit StructuralEdit) (out addr.Coord, refErr bool) {
	out = c
	switch edit.Kind {
	case InsertRows:
		newRow, _ := shiftIndex(c.Row, edit.Kind, edit.At, edit.Count, true)
		out.Row = newRow
	case DeleteRows:
		newRow, isRef := shiftIndex(c.Row, edit.Kind, edit.At, edit.Count, false)
		if isRef {
			return c, true
		}
		out.Row = newRow
	case InsertCols:
		newCol, _ := shiftIndex(c.Col, edit.Kind, edit.At, edit.Count, true)
		out.Col = newCol
	case DeleteCols:
		newCol, isRef := shiftIndex(c.Col, edit.Kind, edit.At, edit.Count, false)
		if isRef {
			return c, true
		}
		out.Col = newCol
	}
	return out, false
}

// ShiftBoundsForEdit shifts both endpoints of a range through a structural
// edit. If either endpoint collapses to #REF!, the whole reference becomes
// #REF! per spec §4.5.
func ShiftBoundsForEdit(b addr.Bounds, edit StructuralEdit) (out addr.Bounds, refErr bool) {
	start, refErr1 := ShiftCoordForEdit(b.Start, edit)
	end, refErr2 := ShiftCoordForEdit(b.End, edit)
	if refErr1 || refErr2 {
		return addr.Bounds{}, true
	}
	return addr.Bounds{Start: start, End: end}, false
}

// reservedSheetTokens are bare words that Excel requires quoting for even
// without spaces or leading digits, because they collide with literals.
var reservedSheetTokens = map[string]struct{}{
	"TRUE": {}, "FALSE": {}, "N/A": {}, "NULL": {},
}

var bareSheetNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// NeedsQuoting reports whether sheetName requires single-quoting when used
// as a formula sheet qualifier: digits-first, spaces or other special
// characters, or a reserved token like TRUE/N/A.
func NeedsQuoting(sheetName string) bool {
	if sheetName == "" {
		return true
	}
	if _, reserved := reservedSheetTokens[strings.ToUpper(sheetName)]; reserved {
		return true
	}
	if !bareSheetNameRe.MatchString(sheetName) {
		return true
	}
	if sheetName[0] >= '0' && sheetName[0] <= '9' {
		return true
	}
	return false
}

// QuoteSheetName renders a sheet qualifier, quoting (and escaping embedded
// single quotes) only when NeedsQuoting reports true.
func QuoteSheetName(sheetName string) string {
	if !NeedsQuoting(sheetName) {
		return sheetName
	}
	escaped := strings.ReplaceAll(sheetName, "'", "''")
	return "'" + escaped + "'"
}

// RewriteSheetRef rewrites every Range token in formulaText whose sheet
// qualifier equals affectedSheet into newSheet's quoted form. It reports
// whether anything changed. Non-range tokens and ranges qualified to other
// sheets are preserved byte-for-byte.
func RewriteSheetRef(formulaText, affectedSheet, newSheet string) (string, bool, error) {
	tokens, err := Tokenize(formulaText)
	if err != nil {
		return formulaText, false, err
	}
	changed := false
	out := EmitWithRewrites(tokens, func(t Token) (string, bool) {
		if t.IsExternal || t.Sheet != affectedSheet {
			return "", false
		}
		changed = true
		prefix := QuoteSheetName(newSheet)
		return prefix + "!" + t.RefText, true
	})
	return out, changed, nil
}

// RewriteForStructuralEdit rewrites every Range token in formulaText whose
// effective sheet (its own qualifier, or currentSheet when unqualified)
// equals edit.Sheet, shifting it through edit. Tokens whose shift collapses
// to #REF! are rendered as the literal "#REF!" (always unqualified, per
// Excel convention). It reports whether anything changed.
func RewriteForStructuralEdit(formulaText, currentSheet string, edit StructuralEdit) (string, bool, error) {
	tokens, err := Tokenize(formulaText)
	if err != nil {
		return formulaText, false, err
	}
	changed := false
	out := EmitWithRewrites(tokens, func(t Token) (string, bool) {
		if t.IsExternal {
			return "", false
		}
		effectiveSheet := t.Sheet
		if effectiveSheet == "" {
			effectiveSheet = currentSheet
		}
		if effectiveSheet != edit.Sheet {
			return "", false
		}
		shifted, refErr := ShiftBoundsForEdit(t.Bounds, edit)
		changed = true
		if refErr {
			return "#REF!", true
		}
		newRef, ferr := addr.FormatBounds(shifted)
		if ferr != nil {
			return "", false
		}
		if t.Sheet != "" {
			return QuoteSheetName(t.Sheet) + "!" + newRef, true
		}
		return newRef, true
	})
	return out, changed, nil
}
