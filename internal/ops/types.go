// Package ops implements the batch operation appliers: one family per op
// kind, each resolving targets against a live workbook, validating,
// mutating, and summarising into a ChangeSummary.
package ops

// Mode selects whether a batch is applied against a throwaway snapshot
// (Preview) or committed in place (Apply).
type Mode string

const (
	ModePreview Mode = "preview"
	ModeApply   Mode = "apply"
)

// Warning is an additive, non-gating diagnostic attached to a ChangeSummary.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChangeSummary is the result of applying one op batch.
type ChangeSummary struct {
	OpKinds        []string          `json:"op_kinds"`
	AffectedSheets []string          `json:"affected_sheets"`
	AffectedBounds []string          `json:"affected_bounds"`
	Counts         map[string]uint64 `json:"counts"`
	Warnings       []Warning         `json:"warnings"`
	Flags          map[string]bool   `json:"flags"`
}

// NewChangeSummary returns a zero-valued summary ready for accumulation.
func NewChangeSummary() *ChangeSummary {
	return &ChangeSummary{
		Counts: map[string]uint64{},
		Flags:  map[string]bool{},
	}
}

func (s *ChangeSummary) addOpKind(kind string) {
	for _, k := range s.OpKinds {
		if k == kind {
			return
		}
	}
	s.OpKinds = append(s.OpKinds, kind)
}

func (s *ChangeSummary) touchSheet(sheet string) {
	for _, sh := range s.AffectedSheets {
		if sh == sheet {
			return
		}
	}
	s.AffectedSheets = append(s.AffectedSheets, sheet)
}

func (s *ChangeSummary) touchBounds(a1 string) {
	s.AffectedBounds = append(s.AffectedBounds, a1)
}

func (s *ChangeSummary) bump(counter string, n uint64) {
	s.Counts[counter] += n
}

func (s *ChangeSummary) warn(code, message string) {
	s.Warnings = append(s.Warnings, Warning{Code: code, Message: message})
}

func (s *ChangeSummary) setFlag(name string, v bool) {
	s.Flags[name] = v
}

// HasStructuralOp reports whether any op folded into s was a structural
// edit (row/column insert or delete, sheet rename/create/delete, range
// move or copy) — the kinds that can shift what an address or range means.
func (s *ChangeSummary) HasStructuralOp() bool {
	for _, k := range s.OpKinds {
		if isStructuralOpKind(k) {
			return true
		}
	}
	return false
}

// merge folds other into s, used to accumulate per-op summaries across a batch.
func (s *ChangeSummary) merge(other *ChangeSummary) {
	if other == nil {
		return
	}
	for _, k := range other.OpKinds {
		s.addOpKind(k)
	}
	for _, sh := range other.AffectedSheets {
		s.touchSheet(sh)
	}
	s.AffectedBounds = append(s.AffectedBounds, other.AffectedBounds...)
	for k, v := range other.Counts {
		s.Counts[k] += v
	}
	s.Warnings = append(s.Warnings, other.Warnings...)
	for k, v := range other.Flags {
		if v {
			s.Flags[k] = true
		} else if _, ok := s.Flags[k]; !ok {
			s.Flags[k] = false
		}
	}
}

// TransformTarget names what a transform op acts on: an explicit range, a
// detector-assigned region, or an explicit cell list.
type TransformTarget struct {
	Range    string   `json:"range,omitempty"`
	RegionID *int     `json:"region_id,omitempty"`
	Cells    []string `json:"cells,omitempty"`
}

// MatchMode selects how ReplaceInRange compares cell text against Find.
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchContains MatchMode = "contains"
)

// CellEdit is the smallest declarative mutation: set one cell's value or
// formula, optionally via the `A1=value` / `A1==formula` shorthand.
type CellEdit struct {
	Address   string `json:"address"`
	Value     string `json:"value"`
	IsFormula bool   `json:"is_formula"`
}

// ClearRange blanks values and/or formulas across a target.
type ClearRange struct {
	Target        TransformTarget `json:"target"`
	ClearValues   bool            `json:"clear_values"`
	ClearFormulas bool            `json:"clear_formulas"`
}

// FillRange writes one value or formula into every cell of a target.
type FillRange struct {
	Target            TransformTarget `json:"target"`
	Value             string          `json:"value"`
	IsFormula         bool            `json:"is_formula"`
	OverwriteFormulas bool            `json:"overwrite_formulas"`
}

// ReplaceInRange performs a find/replace over cell text within a target.
type ReplaceInRange struct {
	Target          TransformTarget `json:"target"`
	Find            string          `json:"find"`
	Replace         string          `json:"replace"`
	MatchMode       MatchMode       `json:"match_mode"`
	CaseSensitive   bool            `json:"case_sensitive"`
	IncludeFormulas bool            `json:"include_formulas"`
}
