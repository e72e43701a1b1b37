package ops

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// RulesKind selects a data-validation or conditional-format operation.
type RulesKind string

const (
	RulesSetDataValidation       RulesKind = "set_data_validation"
	RulesAddConditionalFormat    RulesKind = "add_conditional_format"
	RulesSetConditionalFormat    RulesKind = "set_conditional_format"
	RulesClearConditionalFormats RulesKind = "clear_conditional_formats"
)

const (
	defaultCFFillARGB = "FFFFE0E0"
	defaultCFFontARGB = "FF000000"
)

// DataValidationSpec describes a single-range (v1) data validation rule.
type DataValidationSpec struct {
	Sqref     string   `json:"sqref"`
	Type      string   `json:"type"` // "list" | "whole" | "decimal" | "date" | "text_length" | "custom"
	Operator  string   `json:"operator,omitempty"`
	Formula1  string   `json:"formula1,omitempty"`
	Formula2  string   `json:"formula2,omitempty"`
	ListItems []string `json:"list_items,omitempty"`
}

// ConditionalFormatRule is the (kind, operator, formula) identity plus its
// style used for dedup and replacement decisions.
type ConditionalFormatRule struct {
	Sqref     string `json:"sqref"`
	Kind      string `json:"kind"`
	Operator  string `json:"operator,omitempty"`
	Formula   string `json:"formula,omitempty"`
	FillARGB  string `json:"fill_argb,omitempty"`
	FontARGB  string `json:"font_argb,omitempty"`
	Bold      bool   `json:"bold,omitempty"`
}

// RulesOp is the tagged-union payload for a rules-batch entry.
type RulesOp struct {
	Kind  RulesKind `json:"kind"`
	Sheet string    `json:"sheet"`

	DataValidation *DataValidationSpec    `json:"data_validation,omitempty"`
	ConditionalFmt *ConditionalFormatRule `json:"conditional_format,omitempty"`
	ClearSqref     string                 `json:"clear_sqref,omitempty"`
}

func normalizeSqref(sqref string) string {
	return strings.ToUpper(strings.ReplaceAll(sqref, " ", ""))
}

func stripLeadingEquals(formula string) (string, bool) {
	if strings.HasPrefix(formula, "=") {
		return strings.TrimPrefix(formula, "="), true
	}
	return formula, false
}

// ApplyRulesOp mutates sheet's data-validation or conditional-format
// collection for op.
func ApplyRulesOp(f *excelize.File, op RulesOp, formulaPolicyOff bool) (*ChangeSummary, error) {
	s := NewChangeSummary()
	s.addOpKind(string(op.Kind))
	s.touchSheet(op.Sheet)

	if op.Sheet == "" {
		return s, fmt.Errorf("INVALID_PARAMS: sheet is required")
	}

	switch op.Kind {
	case RulesSetDataValidation:
		return applySetDataValidation(f, op, s, formulaPolicyOff)
	case RulesAddConditionalFormat:
		return applyAddConditionalFormat(f, op, s)
	case RulesSetConditionalFormat:
		return applySetConditionalFormat(f, op, s)
	case RulesClearConditionalFormats:
		return applyClearConditionalFormats(f, op, s)
	default:
		return s, fmt.Errorf("INVALID_PARAMS: unknown rules kind %q", op.Kind)
	}
}

func applySetDataValidation(f *excelize.File, op RulesOp, s *ChangeSummary, formulaPolicyOff bool) (*ChangeSummary, error) {
	spec := op.DataValidation
	if spec == nil {
		return s, fmt.Errorf("INVALID_PARAMS: data_validation is required")
	}
	sqref := normalizeSqref(spec.Sqref)
	s.touchBounds(sqref)

	existingDVs, err := f.GetDataValidations(op.Sheet)
	if err != nil {
		return s, fmt.Errorf("READ_FAILED: %w", err)
	}
	hadExisting := false
	for _, dv := range existingDVs {
		if normalizeSqref(dv.Sqref) == sqref {
			hadExisting = true
			break
		}
	}

	// Replace any existing DV on the same normalised sqref.
	if err := f.DeleteDataValidation(op.Sheet, sqref); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: clear existing validation: %w", err)
	}

	dv := excelize.NewDataValidation(true)
	dv.Sqref = sqref

	f1, stripped1 := stripLeadingEquals(spec.Formula1)
	f2, stripped2 := stripLeadingEquals(spec.Formula2)
	if stripped1 || stripped2 {
		s.warn("WARN_VALIDATION_FORMULA_PREFIX", "leading '=' stripped from data validation formula")
	}

	switch spec.Type {
	case "list":
		dv.SetDropList(spec.ListItems)
	case "whole":
		op := defaultedOperator(spec.Operator, f2)
		if err := dv.SetRange(f1, f2, excelize.DataValidationTypeWhole, op); err != nil {
			return s, fmt.Errorf("INVALID_PARAMS: %w", err)
		}
	case "decimal":
		op := defaultedOperator(spec.Operator, f2)
		if err := dv.SetRange(f1, f2, excelize.DataValidationTypeDecimal, op); err != nil {
			return s, fmt.Errorf("INVALID_PARAMS: %w", err)
		}
	case "date":
		op := defaultedOperator(spec.Operator, f2)
		if err := dv.SetRange(f1, f2, excelize.DataValidationTypeDate, op); err != nil {
			return s, fmt.Errorf("INVALID_PARAMS: %w", err)
		}
	case "text_length":
		op := defaultedOperator(spec.Operator, f2)
		if err := dv.SetRange(f1, f2, excelize.DataValidationTypeTextLength, op); err != nil {
			return s, fmt.Errorf("INVALID_PARAMS: %w", err)
		}
	case "custom":
		dv.Formula1 = f1
	default:
		return s, fmt.Errorf("INVALID_PARAMS: unknown data validation type %q", spec.Type)
	}

	if formulaPolicyOff {
		s.warn("WARN_FORMULA_POLICY_OFF", "data validation formulas are not checked for parse errors while formula policy is off")
	}

	if err := f.AddDataValidation(op.Sheet, dv); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: add data validation: %w", err)
	}
	if hadExisting {
		s.bump("validations_replaced", 1)
	} else {
		s.bump("validations_set", 1)
	}
	return s, nil
}

func defaultedOperator(operator, formula2 string) excelize.DataValidationOperator {
	switch operator {
	case "between":
		return excelize.DataValidationOperatorBetween
	case "not_between":
		return excelize.DataValidationOperatorNotBetween
	case "equal":
		return excelize.DataValidationOperatorEqual
	case "not_equal":
		return excelize.DataValidationOperatorNotEqual
	case "greater_than":
		return excelize.DataValidationOperatorGreaterThan
	case "greater_than_or_equal":
		return excelize.DataValidationOperatorGreaterThanOrEqual
	case "less_than":
		return excelize.DataValidationOperatorLessThan
	case "less_than_or_equal":
		return excelize.DataValidationOperatorLessThanOrEqual
	default:
		if formula2 != "" {
			return excelize.DataValidationOperatorBetween
		}
		return excelize.DataValidationOperatorEqual
	}
}

func ruleWithDefaults(r *ConditionalFormatRule) ConditionalFormatRule {
	out := *r
	if out.FillARGB == "" {
		out.FillARGB = defaultCFFillARGB
	}
	if out.FontARGB == "" {
		out.FontARGB = defaultCFFontARGB
	}
	return out
}

func cfRuleToOptions(r ConditionalFormatRule, newStyle func(*excelize.Style) (int, error)) (excelize.ConditionalFormatOptions, error) {
	styleID, err := newStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{r.FillARGB}},
		Font: &excelize.Font{Color: r.FontARGB, Bold: r.Bold},
	})
	if err != nil {
		return excelize.ConditionalFormatOptions{}, err
	}
	return excelize.ConditionalFormatOptions{
		Type:     r.Kind,
		Criteria: r.Operator,
		Value:    r.Formula,
		Format:   &styleID,
	}, nil
}

func coreEquals(a excelize.ConditionalFormatOptions, r ConditionalFormatRule) bool {
	return a.Type == r.Kind && a.Criteria == r.Operator && a.Value == r.Formula
}

func applyAddConditionalFormat(f *excelize.File, op RulesOp, s *ChangeSummary) (*ChangeSummary, error) {
	rule := op.ConditionalFmt
	if rule == nil {
		return s, fmt.Errorf("INVALID_PARAMS: conditional_format is required")
	}
	full := ruleWithDefaults(rule)
	sqref := normalizeSqref(full.Sqref)
	s.touchBounds(sqref)

	existing, err := f.GetConditionalFormats(op.Sheet)
	if err != nil {
		return s, fmt.Errorf("READ_FAILED: %w", err)
	}
	for _, cfo := range existing[sqref] {
		if coreEquals(cfo, full) {
			s.bump("conditional_formats_skipped", 1)
			return s, nil
		}
	}

	opts := append([]excelize.ConditionalFormatOptions{}, existing[sqref]...)
	newOpt, err := cfRuleToOptions(full, f.NewStyle)
	if err != nil {
		return s, fmt.Errorf("WRITE_FAILED: mint conditional format style: %w", err)
	}
	opts = append(opts, newOpt)
	if err := f.SetConditionalFormat(op.Sheet, sqref, opts); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: set conditional format: %w", err)
	}
	s.bump("conditional_formats_added", 1)
	return s, nil
}

func applySetConditionalFormat(f *excelize.File, op RulesOp, s *ChangeSummary) (*ChangeSummary, error) {
	rule := op.ConditionalFmt
	if rule == nil {
		return s, fmt.Errorf("INVALID_PARAMS: conditional_format is required")
	}
	full := ruleWithDefaults(rule)
	sqref := normalizeSqref(full.Sqref)
	s.touchBounds(sqref)

	existing, err := f.GetConditionalFormats(op.Sheet)
	if err != nil {
		return s, fmt.Errorf("READ_FAILED: %w", err)
	}
	if cur, ok := existing[sqref]; ok && len(cur) == 1 && coreEquals(cur[0], full) {
		if cur[0].Format != nil {
			if style, err := f.GetStyle(*cur[0].Format); err == nil {
				fillMatches := len(style.Fill.Color) > 0 && style.Fill.Color[0] == full.FillARGB
				fontMatches := style.Font != nil && style.Font.Color == full.FontARGB && style.Font.Bold == full.Bold
				if fillMatches && fontMatches {
					s.bump("conditional_formats_set_skipped", 1)
					return s, nil
				}
			}
		}
	}

	newOpt, err := cfRuleToOptions(full, f.NewStyle)
	if err != nil {
		return s, fmt.Errorf("WRITE_FAILED: mint conditional format style: %w", err)
	}
	if err := f.SetConditionalFormat(op.Sheet, sqref, []excelize.ConditionalFormatOptions{newOpt}); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: set conditional format: %w", err)
	}
	s.bump("conditional_formats_set", 1)
	if len(existing[sqref]) > 0 {
		s.bump("conditional_formats_replaced", 1)
	}
	s.warn("WARN_CF_NOT_STRUCTURAL_REWRITTEN", "conditional format formulas are not rewritten by structural edits")
	return s, nil
}

func applyClearConditionalFormats(f *excelize.File, op RulesOp, s *ChangeSummary) (*ChangeSummary, error) {
	sqref := normalizeSqref(op.ClearSqref)
	if sqref == "" {
		return s, fmt.Errorf("INVALID_PARAMS: clear_sqref is required")
	}
	s.touchBounds(sqref)
	if err := f.UnsetConditionalFormat(op.Sheet, sqref); err != nil {
		return s, fmt.Errorf("WRITE_FAILED: clear conditional formats: %w", err)
	}
	s.bump("conditional_formats_cleared", 1)
	return s, nil
}
