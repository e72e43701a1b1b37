package ops

import (
	"fmt"
	"strings"

	"github.com/sheetforge/workbookd/internal/formula"
	"github.com/sheetforge/workbookd/internal/policy"
	"github.com/xuri/excelize/v2"
)

// ApplyClearRange blanks values and/or formulas across the resolved target.
func ApplyClearRange(f *excelize.File, sheet string, op ClearRange) (*ChangeSummary, error) {
	summary := NewChangeSummary()
	summary.addOpKind("clear_range")
	summary.touchSheet(sheet)

	cells, bounds, err := ResolveTarget(f, sheet, op.Target)
	if err != nil {
		return summary, err
	}
	summary.touchBounds(bounds)

	for _, cell := range cells {
		hasFormula, _ := f.GetCellFormula(sheet, cell)
		if op.ClearFormulas && hasFormula != "" {
			if err := f.SetCellFormula(sheet, cell, ""); err != nil {
				return summary, fmt.Errorf("clear formula %s!%s: %w", sheet, cell, err)
			}
			summary.bump("cells_formula_cleared", 1)
		}
		if op.ClearValues {
			if err := f.SetCellValue(sheet, cell, nil); err != nil {
				return summary, fmt.Errorf("clear value %s!%s: %w", sheet, cell, err)
			}
			summary.bump("cells_value_cleared", 1)
		}
		summary.bump("cells_touched", 1)
	}
	return summary, nil
}

// ApplyFillRange writes a single value or formula into every cell of the
// resolved target, honouring OverwriteFormulas (skip cells that already
// carry a formula when false).
func ApplyFillRange(f *excelize.File, sheet string, op FillRange, col *policy.Collector) (*ChangeSummary, error) {
	summary := NewChangeSummary()
	summary.addOpKind("fill_range")
	summary.touchSheet(sheet)

	cells, bounds, err := ResolveTarget(f, sheet, op.Target)
	if err != nil {
		return summary, err
	}
	summary.touchBounds(bounds)

	if op.IsFormula {
		if _, err := formula.Tokenize(op.Value); err != nil {
			col.Record(sheet, bounds, op.Value, err)
			if col.FailFast {
				return summary, col.FirstFailure()
			}
			return summary, nil
		}
	}

	for _, cell := range cells {
		if !op.OverwriteFormulas {
			if existing, _ := f.GetCellFormula(sheet, cell); existing != "" {
				summary.bump("cells_skipped_keep_formulas", 1)
				continue
			}
		}
		if op.IsFormula {
			if err := f.SetCellFormula(sheet, cell, op.Value); err != nil {
				return summary, fmt.Errorf("fill formula %s!%s: %w", sheet, cell, err)
			}
			summary.setFlag("recalc_needed", true)
		} else {
			if err := f.SetCellValue(sheet, cell, op.Value); err != nil {
				return summary, fmt.Errorf("fill value %s!%s: %w", sheet, cell, err)
			}
		}
		summary.bump("cells_filled", 1)
		summary.bump("cells_touched", 1)
	}
	return summary, nil
}

// ApplyReplaceInRange performs a find/replace over cell text (and, when
// requested, formula text) within the resolved target.
func ApplyReplaceInRange(f *excelize.File, sheet string, op ReplaceInRange) (*ChangeSummary, error) {
	summary := NewChangeSummary()
	summary.addOpKind("replace_in_range")
	summary.touchSheet(sheet)

	cells, bounds, err := ResolveTarget(f, sheet, op.Target)
	if err != nil {
		return summary, err
	}
	summary.touchBounds(bounds)

	matches := func(haystack string) bool {
		h, n := haystack, op.Find
		if !op.CaseSensitive {
			h, n = strings.ToLower(h), strings.ToLower(n)
		}
		switch op.MatchMode {
		case MatchContains:
			return strings.Contains(h, n)
		default:
			return h == n
		}
	}
	replaceIn := func(s string) string {
		if !op.CaseSensitive {
			// Case-insensitive replace: walk and splice on lower-cased match.
			lower, needle := strings.ToLower(s), strings.ToLower(op.Find)
			var b strings.Builder
			i := 0
			for {
				idx := strings.Index(lower[i:], needle)
				if idx < 0 {
					b.WriteString(s[i:])
					break
				}
				b.WriteString(s[i : i+idx])
				b.WriteString(op.Replace)
				i += idx + len(needle)
			}
			return b.String()
		}
		return strings.ReplaceAll(s, op.Find, op.Replace)
	}

	for _, cell := range cells {
		summary.bump("cells_touched", 1)
		if op.IncludeFormulas {
			if f1, _ := f.GetCellFormula(sheet, cell); f1 != "" {
				if matches(f1) {
					if err := f.SetCellFormula(sheet, cell, replaceIn(f1)); err != nil {
						return summary, fmt.Errorf("replace formula %s!%s: %w", sheet, cell, err)
					}
					summary.bump("cells_formula_replaced", 1)
					summary.setFlag("recalc_needed", true)
				}
				continue
			}
		}
		v, _ := f.GetCellValue(sheet, cell)
		if v == "" || !matches(v) {
			continue
		}
		if err := f.SetCellValue(sheet, cell, replaceIn(v)); err != nil {
			return summary, fmt.Errorf("replace value %s!%s: %w", sheet, cell, err)
		}
		summary.bump("cells_value_replaced", 1)
	}
	return summary, nil
}
