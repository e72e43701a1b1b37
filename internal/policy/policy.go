// Package policy implements the shared formula-parse diagnostic collector
// used by every batch operation family that touches formula text: a
// per-batch mode (Fail/Warn/Off) plus grouped, capped diagnostics.
package policy

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// Mode selects how a batch reacts to a formula that fails to parse.
type Mode string

const (
	Fail Mode = "fail"
	Warn Mode = "warn"
	Off  Mode = "off"
)

// DefaultForCommandClass returns the mode a command class uses when the
// caller does not override it, per the single-write/batch-write/read-only
// default split.
func DefaultForCommandClass(class string) Mode {
	switch class {
	case "single_write":
		return Fail
	case "batch_write":
		return Warn
	case "read_analysis":
		return Warn
	default:
		return Warn
	}
}

const (
	previewByteLimit = 80
	samplesPerGroup  = 5
	maxGroups        = 50
)

// groupKey identifies one diagnostics bucket.
type groupKey struct {
	Sheet           string
	ErrorMessage    string
	FormulaPreview  string
}

// Group is one diagnostics bucket in the reported collection.
type Group struct {
	Sheet          string   `json:"sheet"`
	ErrorMessage   string   `json:"error_message"`
	FormulaPreview string   `json:"formula_preview"`
	Count          int      `json:"count"`
	SampleAddrs    []string `json:"sample_addresses"`
}

// Collector accumulates formula-parse failures for one batch under a fixed
// Mode. FailFast is set once the first failure under Fail mode is recorded;
// callers should stop processing further ops as soon as it is true.
type Collector struct {
	mode             Mode
	groups           map[groupKey]*Group
	order            []groupKey
	groupsTruncated  bool
	FailFast         bool
	firstFailure     error
}

// NewCollector constructs a Collector for the given mode.
func NewCollector(mode Mode) *Collector {
	return &Collector{mode: mode, groups: make(map[groupKey]*Group)}
}

// Mode reports the collector's configured mode.
func (c *Collector) Mode() Mode { return c.mode }

// Record reports a formula parse failure at (sheet, address) with the raw
// formula text and the underlying error. Under Off, Record is a no-op (the
// caller should not invoke the parser at all under Off, but Record
// tolerates being called anyway). Under Fail, Record sets FailFast and
// FirstFailure and the caller must abort the batch. Under Warn, the
// failure is grouped and the caller skips only this formula.
func (c *Collector) Record(sheet, address, formula string, err error) {
	if c.mode == Off {
		return
	}
	if c.mode == Fail {
		if !c.FailFast {
			c.FailFast = true
			c.firstFailure = fmt.Errorf("formula parse failed: %s!%s: %w", sheet, address, err)
		}
		return
	}

	key := groupKey{Sheet: sheet, ErrorMessage: err.Error(), FormulaPreview: truncatePreview(formula)}
	g, ok := c.groups[key]
	if !ok {
		if len(c.order) >= maxGroups {
			c.groupsTruncated = true
			return
		}
		g = &Group{Sheet: sheet, ErrorMessage: err.Error(), FormulaPreview: key.FormulaPreview}
		c.groups[key] = g
		c.order = append(c.order, key)
	}
	g.Count++
	if len(g.SampleAddrs) < samplesPerGroup {
		g.SampleAddrs = append(g.SampleAddrs, address)
	}
}

// FirstFailure returns the first recorded failure under Fail mode, or nil.
func (c *Collector) FirstFailure() error { return c.firstFailure }

// Groups returns the collected diagnostics groups in first-seen order.
func (c *Collector) Groups() []Group {
	out := make([]Group, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, *c.groups[k])
	}
	return out
}

// GroupsTruncated reports whether more than maxGroups distinct groups were
// seen and some were dropped.
func (c *Collector) GroupsTruncated() bool { return c.groupsTruncated }

// SortedBySheetThenMessage is a stable presentation order for callers that
// want deterministic diagnostics output regardless of insertion order.
func (c *Collector) SortedBySheetThenMessage() []Group {
	groups := c.Groups()
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Sheet != groups[j].Sheet {
			return groups[i].Sheet < groups[j].Sheet
		}
		return groups[i].ErrorMessage < groups[j].ErrorMessage
	})
	return groups
}

// truncatePreview truncates formula to previewByteLimit UTF-8 bytes on a
// rune boundary, appending an ellipsis when truncated.
func truncatePreview(formula string) string {
	if len(formula) <= previewByteLimit {
		return formula
	}
	b := []byte(formula)[:previewByteLimit]
	for len(b) > 0 && !utf8.RuneStart(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return string(b) + "…"
}
