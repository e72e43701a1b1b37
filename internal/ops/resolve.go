package ops

import (
	"fmt"

	"github.com/sheetforge/workbookd/internal/addr"
	"github.com/sheetforge/workbookd/internal/region"
	"github.com/xuri/excelize/v2"
)

// ResolveTarget expands a TransformTarget into a list of cell addresses plus
// the A1 bounds string used for ChangeSummary.AffectedBounds. A range or
// region yields its cells in row-major order and its own bounds. An explicit
// cell list is returned as given, neither deduplicated nor reordered, and its
// first cell is returned as the bounds string.
func ResolveTarget(f *excelize.File, sheet string, t TransformTarget) ([]string, string, error) {
	switch {
	case len(t.Cells) > 0:
		cells := make([]string, len(t.Cells))
		copy(cells, t.Cells)
		return cells, t.Cells[0], nil
	case t.RegionID != nil:
		regions, _, err := region.Detect(f, sheet, region.Options{})
		if err != nil {
			return nil, "", fmt.Errorf("region detection failed: %w", err)
		}
		r, ok := region.ByID(regions, *t.RegionID)
		if !ok {
			return nil, "", fmt.Errorf("REGION_NOT_FOUND: no region %d on sheet %q", *t.RegionID, sheet)
		}
		b, err := addr.ParseBounds(r.RangeA1)
		if err != nil {
			return nil, "", fmt.Errorf("region %d has unparsable range %q: %w", *t.RegionID, r.RangeA1, err)
		}
		cells, err := expandBounds(b)
		if err != nil {
			return nil, "", err
		}
		a1, _ := addr.FormatBounds(b)
		return cells, a1, nil
	case t.Range != "":
		b, err := addr.ParseBounds(t.Range)
		if err != nil {
			return nil, "", fmt.Errorf("INVALID_RANGE: %w", err)
		}
		cells, err := expandBounds(b)
		if err != nil {
			return nil, "", err
		}
		a1, _ := addr.FormatBounds(b)
		return cells, a1, nil
	default:
		return nil, "", fmt.Errorf("INVALID_PARAMS: empty transform target")
	}
}

func expandBounds(b addr.Bounds) ([]string, error) {
	if b.CellCount() <= 0 {
		return nil, fmt.Errorf("INVALID_RANGE: empty target")
	}
	cells := make([]string, 0, b.CellCount())
	for r := b.Start.Row; r <= b.End.Row; r++ {
		for c := b.Start.Col; c <= b.End.Col; c++ {
			name, err := addr.FormatCoord(addr.Coord{Col: c, Row: r})
			if err != nil {
				return nil, err
			}
			cells = append(cells, name)
		}
	}
	return cells, nil
}

// ResolveBounds is like ResolveTarget but returns the numeric bounds too,
// for ops that need row/col extents directly (e.g. pattern fill anchoring).
func ResolveBounds(f *excelize.File, sheet string, t TransformTarget) (addr.Bounds, error) {
	switch {
	case t.Range != "":
		return addr.ParseBounds(t.Range)
	case t.RegionID != nil:
		regions, _, err := region.Detect(f, sheet, region.Options{})
		if err != nil {
			return addr.Bounds{}, err
		}
		r, ok := region.ByID(regions, *t.RegionID)
		if !ok {
			return addr.Bounds{}, fmt.Errorf("REGION_NOT_FOUND: no region %d on sheet %q", *t.RegionID, sheet)
		}
		return addr.ParseBounds(r.RangeA1)
	default:
		return addr.Bounds{}, fmt.Errorf("INVALID_PARAMS: target has no range or region for bounds resolution")
	}
}
