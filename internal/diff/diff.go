// Package diff implements the change-set engine: it compares a fork's base
// and working files side by side and emits a classified, stably-ordered,
// paginated sequence of cell/table/name changes.
package diff

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"
)

// ChangeKind is the coarse type filter over a Change.
type ChangeKind string

const (
	KindCell  ChangeKind = "cell"
	KindTable ChangeKind = "table"
	KindName  ChangeKind = "name"
)

// DiffKind tags whether a change is an addition, deletion, or modification.
type DiffKind string

const (
	DiffAdded    DiffKind = "added"
	DiffDeleted  DiffKind = "deleted"
	DiffModified DiffKind = "modified"
)

// ModifiedSubtype classifies a modified cell pair, per the fixed precedence
// order: formula text first, then cached-value drift under an unchanged
// formula, then raw value, then style.
type ModifiedSubtype string

const (
	SubtypeFormulaEdit  ModifiedSubtype = "formula_edit"
	SubtypeRecalcResult ModifiedSubtype = "recalc_result"
	SubtypeValueEdit    ModifiedSubtype = "value_edit"
	SubtypeStyleEdit    ModifiedSubtype = "style_edit"
)

// CellState captures one side of a cell comparison.
type CellState struct {
	Value   string `json:"value,omitempty"`
	Formula string `json:"formula,omitempty"`
	StyleID int    `json:"style_id,omitempty"`
}

// CellChange is one Cell{sheet,address,diff} variant.
type CellChange struct {
	Sheet   string          `json:"sheet"`
	Address string          `json:"address"`
	Diff    DiffKind        `json:"diff"`
	Subtype ModifiedSubtype `json:"subtype,omitempty"`
	Old     *CellState      `json:"old,omitempty"`
	New     *CellState      `json:"new,omitempty"`
}

// TableChange is one Table{Added|Deleted|Modified} variant.
type TableChange struct {
	Sheet     string   `json:"sheet"`
	Name      string   `json:"name"`
	Diff      DiffKind `json:"diff"`
	OldRange  string   `json:"old_range,omitempty"`
	NewRange  string   `json:"new_range,omitempty"`
}

// NameChange is one Name{Added|Deleted|Modified} variant (a defined name).
type NameChange struct {
	ScopeSheet  string   `json:"scope_sheet"`
	Name        string   `json:"name"`
	Diff        DiffKind `json:"diff"`
	OldRefersTo string   `json:"old_refers_to,omitempty"`
	NewRefersTo string   `json:"new_refers_to,omitempty"`
}

// Change is the tagged union of the three diff variants; exactly one of
// Cell/Table/Name is populated according to Kind.
type Change struct {
	Kind  ChangeKind   `json:"kind"`
	Cell  *CellChange  `json:"cell,omitempty"`
	Table *TableChange `json:"table,omitempty"`
	Name  *NameChange  `json:"name,omitempty"`
}

// Options controls filtering and paging of a Diff call.
type Options struct {
	SheetFilter []string
	Limit       int // clamped to [1,2000]; 0 means "use the default page size"
	Offset      int
	SummaryOnly bool
	Include     map[string]bool // coarse kind/diff/subtype tokens to keep; nil/empty means "all"
	Exclude     map[string]bool // coarse kind/diff/subtype tokens to drop
}

const (
	defaultLimit = 500
	maxLimit     = 2000
)

// Result is the paginated, classified output of a Diff call.
type Result struct {
	Changes   []Change       `json:"changes"`
	Counts    map[string]int `json:"counts"`
	Total     int            `json:"total"`
	Truncated bool           `json:"truncated"`
}

// Diff compares base and working, optionally restricted to sheetFilter
// (nil/empty means every sheet in the union of both workbooks), and
// returns a stably-ordered, filtered, paginated Result.
func Diff(base, working *excelize.File, opts Options) (*Result, error) {
	var all []Change

	cellChanges, err := diffCells(base, working, opts.SheetFilter)
	if err != nil {
		return nil, err
	}
	all = append(all, cellChanges...)

	tableChanges, err := diffTables(base, working, opts.SheetFilter)
	if err != nil {
		return nil, err
	}
	all = append(all, tableChanges...)

	nameChanges := diffNames(base, working)
	all = append(all, nameChanges...)

	counts := countByToken(all)
	filtered := applyFilters(all, opts, unionSheets(base, working))

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	total := len(filtered)
	truncated := false
	var page []Change
	if opts.SummaryOnly {
		page = nil
	} else if offset < total {
		end := offset + limit
		if end > total {
			end = total
		} else if end < total {
			truncated = true
		}
		page = filtered[offset:end]
	} else {
		page = []Change{}
	}

	return &Result{Changes: page, Counts: counts, Total: total, Truncated: truncated}, nil
}

func sheetAllowed(sheet string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, s := range filter {
		if s == sheet {
			return true
		}
	}
	return false
}

func unionSheets(base, working *excelize.File) []string {
	seen := map[string]bool{}
	var order []string
	for _, sh := range working.GetSheetList() {
		if !seen[sh] {
			seen[sh] = true
			order = append(order, sh)
		}
	}
	for _, sh := range base.GetSheetList() {
		if !seen[sh] {
			seen[sh] = true
			order = append(order, sh)
		}
	}
	return order
}

func diffCells(base, working *excelize.File, sheetFilter []string) ([]Change, error) {
	var out []Change
	for _, sheet := range unionSheets(base, working) {
		if !sheetAllowed(sheet, sheetFilter) {
			continue
		}
		baseRows, baseErr := base.GetRows(sheet)
		workRows, workErr := working.GetRows(sheet)
		if baseErr != nil && workErr != nil {
			continue // sheet absent on both sides after all (shouldn't happen from unionSheets)
		}

		maxRow := len(baseRows)
		if len(workRows) > maxRow {
			maxRow = len(workRows)
		}

		for ri := 0; ri < maxRow; ri++ {
			maxCol := 0
			if ri < len(baseRows) && len(baseRows[ri]) > maxCol {
				maxCol = len(baseRows[ri])
			}
			if ri < len(workRows) && len(workRows[ri]) > maxCol {
				maxCol = len(workRows[ri])
			}
			for ci := 0; ci < maxCol; ci++ {
				cellName, err := excelize.CoordinatesToCellName(ci+1, ri+1)
				if err != nil {
					continue
				}
				change, ok, err := diffOneCell(base, working, sheet, cellName, baseErr == nil, workErr == nil)
				if err != nil {
					return nil, err
				}
				if ok {
					out = append(out, change)
				}
			}
		}
	}
	return out, nil
}

func diffOneCell(base, working *excelize.File, sheet, cell string, baseSheetExists, workSheetExists bool) (Change, bool, error) {
	var oldState, newState *CellState
	var oldPresent, newPresent bool

	if baseSheetExists {
		v, _ := base.GetCellValue(sheet, cell)
		f, _ := base.GetCellFormula(sheet, cell)
		styleID, _ := base.GetCellStyle(sheet, cell)
		if v != "" || f != "" {
			oldState = &CellState{Value: v, Formula: f, StyleID: styleID}
			oldPresent = true
		}
	}
	if workSheetExists {
		v, _ := working.GetCellValue(sheet, cell)
		f, _ := working.GetCellFormula(sheet, cell)
		styleID, _ := working.GetCellStyle(sheet, cell)
		if v != "" || f != "" {
			newState = &CellState{Value: v, Formula: f, StyleID: styleID}
			newPresent = true
		}
	}

	switch {
	case !oldPresent && !newPresent:
		return Change{}, false, nil
	case oldPresent && !newPresent:
		return Change{Kind: KindCell, Cell: &CellChange{Sheet: sheet, Address: cell, Diff: DiffDeleted, Old: oldState}}, true, nil
	case !oldPresent && newPresent:
		return Change{Kind: KindCell, Cell: &CellChange{Sheet: sheet, Address: cell, Diff: DiffAdded, New: newState}}, true, nil
	default:
		subtype, changed := classifyModified(oldState, newState)
		if !changed {
			return Change{}, false, nil
		}
		return Change{Kind: KindCell, Cell: &CellChange{
			Sheet: sheet, Address: cell, Diff: DiffModified, Subtype: subtype, Old: oldState, New: newState,
		}}, true, nil
	}
}

// classifyModified applies the fixed precedence order for a Modified cell
// pair: formula text, then cached value under an unchanged formula
// (recalculation drift), then raw value, then style id.
func classifyModified(old, new *CellState) (ModifiedSubtype, bool) {
	if old.Formula != new.Formula {
		return SubtypeFormulaEdit, true
	}
	if old.Formula != "" && new.Formula != "" && old.Value != new.Value {
		return SubtypeRecalcResult, true
	}
	if old.Value != new.Value {
		return SubtypeValueEdit, true
	}
	if old.StyleID != new.StyleID {
		return SubtypeStyleEdit, true
	}
	return "", false
}

func diffTables(base, working *excelize.File, sheetFilter []string) ([]Change, error) {
	type tableEntry struct {
		sheet string
		table excelize.Table
	}
	collect := func(f *excelize.File) (map[string]tableEntry, error) {
		out := map[string]tableEntry{}
		for _, sheet := range f.GetSheetList() {
			if !sheetAllowed(sheet, sheetFilter) {
				continue
			}
			tables, err := f.GetTables(sheet)
			if err != nil {
				continue // sheet may not support tables; treat as none
			}
			for _, t := range tables {
				out[sheet+"\x00"+t.Name] = tableEntry{sheet: sheet, table: t}
			}
		}
		return out, nil
	}

	baseTables, err := collect(base)
	if err != nil {
		return nil, err
	}
	workTables, err := collect(working)
	if err != nil {
		return nil, err
	}

	keys := map[string]bool{}
	for k := range baseTables {
		keys[k] = true
	}
	for k := range workTables {
		keys[k] = true
	}

	var out []Change
	for k := range keys {
		b, inBase := baseTables[k]
		w, inWork := workTables[k]
		switch {
		case inBase && !inWork:
			out = append(out, Change{Kind: KindTable, Table: &TableChange{Sheet: b.sheet, Name: b.table.Name, Diff: DiffDeleted, OldRange: b.table.Range}})
		case !inBase && inWork:
			out = append(out, Change{Kind: KindTable, Table: &TableChange{Sheet: w.sheet, Name: w.table.Name, Diff: DiffAdded, NewRange: w.table.Range}})
		default:
			if b.table.Range != w.table.Range {
				out = append(out, Change{Kind: KindTable, Table: &TableChange{Sheet: w.sheet, Name: w.table.Name, Diff: DiffModified, OldRange: b.table.Range, NewRange: w.table.Range}})
			}
		}
	}
	return out, nil
}

func diffNames(base, working *excelize.File) []Change {
	baseNames := map[string]excelize.DefinedName{}
	for _, dn := range base.GetDefinedName() {
		baseNames[dn.Scope+"\x00"+dn.Name] = dn
	}
	workNames := map[string]excelize.DefinedName{}
	for _, dn := range working.GetDefinedName() {
		workNames[dn.Scope+"\x00"+dn.Name] = dn
	}

	keys := map[string]bool{}
	for k := range baseNames {
		keys[k] = true
	}
	for k := range workNames {
		keys[k] = true
	}

	var out []Change
	for k := range keys {
		b, inBase := baseNames[k]
		w, inWork := workNames[k]
		switch {
		case inBase && !inWork:
			out = append(out, Change{Kind: KindName, Name: &NameChange{ScopeSheet: b.Scope, Name: b.Name, Diff: DiffDeleted, OldRefersTo: b.RefersTo}})
		case !inBase && inWork:
			out = append(out, Change{Kind: KindName, Name: &NameChange{ScopeSheet: w.Scope, Name: w.Name, Diff: DiffAdded, NewRefersTo: w.RefersTo}})
		default:
			if b.RefersTo != w.RefersTo {
				out = append(out, Change{Kind: KindName, Name: &NameChange{ScopeSheet: w.Scope, Name: w.Name, Diff: DiffModified, OldRefersTo: b.RefersTo, NewRefersTo: w.RefersTo}})
			}
		}
	}
	return out
}

func countByToken(changes []Change) map[string]int {
	counts := map[string]int{}
	for _, c := range changes {
		counts[string(c.Kind)]++
		switch c.Kind {
		case KindCell:
			counts[string(c.Cell.Diff)]++
			if c.Cell.Subtype != "" {
				counts[string(c.Cell.Subtype)]++
			}
		case KindTable:
			counts[string(c.Table.Diff)]++
		case KindName:
			counts[string(c.Name.Diff)]++
		}
	}
	return counts
}

func tokensFor(c Change) []string {
	switch c.Kind {
	case KindCell:
		toks := []string{string(c.Kind), string(c.Cell.Diff)}
		if c.Cell.Subtype != "" {
			toks = append(toks, string(c.Cell.Subtype))
		}
		return toks
	case KindTable:
		return []string{string(c.Kind), string(c.Table.Diff)}
	case KindName:
		return []string{string(c.Kind), string(c.Name.Diff)}
	default:
		return nil
	}
}

func applyFilters(changes []Change, opts Options, sheetOrder []string) []Change {
	filtered := make([]Change, 0, len(changes))
	for _, c := range changes {
		toks := tokensFor(c)
		if len(opts.Include) > 0 && !anyTokenIn(toks, opts.Include) {
			continue
		}
		if len(opts.Exclude) > 0 && anyTokenIn(toks, opts.Exclude) {
			continue
		}
		filtered = append(filtered, c)
	}
	sortStable(filtered, sheetOrder)
	return filtered
}

func anyTokenIn(tokens []string, set map[string]bool) bool {
	for _, t := range tokens {
		if set[t] {
			return true
		}
	}
	return false
}

// sortStable orders changes: sheet order as in the workbook (sheetOrder is
// working's sheet list with any base-only sheets appended, from
// unionSheets), then row-major by cell address within a sheet, then table
// names lexicographic, then name entries lexicographic by (scope_sheet,
// name). Cells sort before tables sort before names, matching the variant
// declaration order in the data model.
func sortStable(changes []Change, sheetOrder []string) {
	rank := func(c Change) int {
		switch c.Kind {
		case KindCell:
			return 0
		case KindTable:
			return 1
		default:
			return 2
		}
	}
	sheetRank := make(map[string]int, len(sheetOrder))
	for i, sh := range sheetOrder {
		sheetRank[sh] = i
	}
	rankOfSheet := func(sheet string) int {
		if r, ok := sheetRank[sheet]; ok {
			return r
		}
		return len(sheetOrder)
	}
	sort.SliceStable(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if rank(a) != rank(b) {
			return rank(a) < rank(b)
		}
		switch a.Kind {
		case KindCell:
			if ar, br := rankOfSheet(a.Cell.Sheet), rankOfSheet(b.Cell.Sheet); ar != br {
				return ar < br
			}
			ar, ac, _ := excelize.CellNameToCoordinates(a.Cell.Address)
			br, bc, _ := excelize.CellNameToCoordinates(b.Cell.Address)
			if ar != br {
				return ar < br
			}
			return ac < bc
		case KindTable:
			return a.Table.Name < b.Table.Name
		default:
			if a.Name.ScopeSheet != b.Name.ScopeSheet {
				return a.Name.ScopeSheet < b.Name.ScopeSheet
			}
			return a.Name.Name < b.Name.Name
		}
	})
}

// ParseSheetFilter validates a user-supplied sheet filter against the
// working file's sheet list, returning SHEET_NOT_FOUND on an unknown sheet.
func ParseSheetFilter(working *excelize.File, sheets []string) ([]string, error) {
	if len(sheets) == 0 {
		return nil, nil
	}
	known := map[string]bool{}
	for _, sh := range working.GetSheetList() {
		known[sh] = true
	}
	for _, sh := range sheets {
		if !known[sh] {
			return nil, fmt.Errorf("SHEET_NOT_FOUND: %q", sh)
		}
	}
	return sheets, nil
}
