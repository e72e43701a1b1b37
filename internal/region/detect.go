// Package region detects contiguous data regions on a sheet and assigns
// them stable, sequential region ids for the lifetime of one workbook open.
package region

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Region describes one contiguous rectangular block of non-empty cells.
type Region struct {
	ID         int      `json:"region_id"`
	Sheet      string   `json:"sheet"`
	RangeA1    string   `json:"range"`
	Rows       int      `json:"rows"`
	Cols       int      `json:"cols"`
	Header     []string `json:"header,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Options bounds the scan so detection never exceeds the engine's cell budget.
type Options struct {
	MaxScanRows   int
	MaxScanCols   int
	MaxCellBudget int
	HeaderRow     int // optional 1-based hint
}

// Detect scans sheet for contiguous non-empty blocks (4-directional adjacency,
// minimum 2x2) and returns them ordered by reading position (top-to-bottom,
// left-to-right of the block's top-left corner). The returned ids are 1-based
// and stable for this call only: a fresh open recomputes them from scratch.
func Detect(f *excelize.File, sheet string, opts Options) ([]Region, bool, error) {
	usedCols, usedRows := 0, 0
	if dim, err := f.GetSheetDimension(sheet); err == nil && dim != "" {
		parts := strings.Split(dim, ":")
		if len(parts) == 2 {
			x1, y1, e1 := excelize.CellNameToCoordinates(parts[0])
			x2, y2, e2 := excelize.CellNameToCoordinates(parts[1])
			if e1 == nil && e2 == nil && x2 >= x1 && y2 >= y1 {
				usedCols, usedRows = x2, y2
			}
		}
	}
	if usedCols <= 0 {
		usedCols = 256
	}
	if usedRows <= 0 {
		usedRows = 200
	}

	scanRows := opts.MaxScanRows
	if scanRows <= 0 || scanRows > usedRows {
		scanRows = usedRows
	}
	scanCols := opts.MaxScanCols
	if scanCols <= 0 || scanCols > usedCols {
		if usedCols > 256 {
			scanCols = 256
		} else {
			scanCols = usedCols
		}
	}
	budget := opts.MaxCellBudget
	if budget <= 0 {
		budget = 10000
	}
	for scanRows*scanCols > budget && (scanRows > 1 || scanCols > 1) {
		if scanRows > scanCols {
			scanRows--
		} else {
			scanCols--
		}
	}

	present := make([][]bool, scanRows)
	vals := make([][]string, scanRows)
	for i := range present {
		present[i] = make([]bool, scanCols)
		vals[i] = make([]string, scanCols)
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	rowIdx := 0
	for rows.Next() {
		rowIdx++
		if rowIdx > scanRows {
			break
		}
		rowVals, cerr := rows.Columns()
		if cerr != nil {
			return nil, false, cerr
		}
		for c := 0; c < scanCols && c < len(rowVals); c++ {
			v := strings.TrimSpace(rowVals[c])
			if v != "" {
				present[rowIdx-1][c] = true
				vals[rowIdx-1][c] = v
			}
		}
	}
	if err := rows.Error(); err != nil {
		return nil, false, err
	}

	type rect struct{ r1, c1, r2, c2 int }
	visited := make([][]bool, scanRows)
	for i := range visited {
		visited[i] = make([]bool, scanCols)
	}

	var comps []rect
	var queue [][2]int
	for r := 0; r < scanRows; r++ {
		for c := 0; c < scanCols; c++ {
			if !present[r][c] || visited[r][c] {
				continue
			}
			visited[r][c] = true
			queue = queue[:0]
			queue = append(queue, [2]int{r, c})
			rr1, cc1, rr2, cc2 := r, c, r, c
			for len(queue) > 0 {
				cur := queue[0]
				queue = queue[1:]
				cr, cc := cur[0], cur[1]
				if cr < rr1 {
					rr1 = cr
				}
				if cr > rr2 {
					rr2 = cr
				}
				if cc < cc1 {
					cc1 = cc
				}
				if cc > cc2 {
					cc2 = cc
				}
				if cr > 0 && present[cr-1][cc] && !visited[cr-1][cc] {
					visited[cr-1][cc] = true
					queue = append(queue, [2]int{cr - 1, cc})
				}
				if cr+1 < scanRows && present[cr+1][cc] && !visited[cr+1][cc] {
					visited[cr+1][cc] = true
					queue = append(queue, [2]int{cr + 1, cc})
				}
				if cc > 0 && present[cr][cc-1] && !visited[cr][cc-1] {
					visited[cr][cc-1] = true
					queue = append(queue, [2]int{cr, cc - 1})
				}
				if cc+1 < scanCols && present[cr][cc+1] && !visited[cr][cc+1] {
					visited[cr][cc+1] = true
					queue = append(queue, [2]int{cr, cc + 1})
				}
			}
			if (rr2-rr1+1) >= 2 && (cc2-cc1+1) >= 2 {
				comps = append(comps, rect{rr1, cc1, rr2, cc2})
			}
		}
	}

	// Reading order: top-to-bottom, then left-to-right, gives deterministic,
	// stable region ids for this open regardless of scan order.
	sort.Slice(comps, func(i, j int) bool {
		if comps[i].r1 != comps[j].r1 {
			return comps[i].r1 < comps[j].r1
		}
		return comps[i].c1 < comps[j].c1
	})

	out := make([]Region, 0, len(comps))
	for i, rc := range comps {
		hdrRow := rc.r1
		if opts.HeaderRow > 0 && opts.HeaderRow-1 >= rc.r1 && opts.HeaderRow-1 <= rc.r2 {
			hdrRow = opts.HeaderRow - 1
		}
		header := make([]string, 0, rc.c2-rc.c1+1)
		for c := rc.c1; c <= rc.c2; c++ {
			header = append(header, vals[hdrRow][c])
		}
		tl, _ := excelize.CoordinatesToCellName(rc.c1+1, rc.r1+1)
		br, _ := excelize.CoordinatesToCellName(rc.c2+1, rc.r2+1)
		out = append(out, Region{
			ID:         i + 1,
			Sheet:      sheet,
			RangeA1:    tl + ":" + br,
			Rows:       rc.r2 - rc.r1 + 1,
			Cols:       rc.c2 - rc.c1 + 1,
			Header:     trimTrailingEmpties(header),
			Confidence: round3(headerConfidence(header)),
		})
	}

	truncated := scanRows < usedRows || scanCols < usedCols
	return out, truncated, nil
}

// ByID returns the region with the given id, or false if out of range.
func ByID(regions []Region, id int) (Region, bool) {
	for _, r := range regions {
		if r.ID == id {
			return r, true
		}
	}
	return Region{}, false
}

func headerConfidence(hdr []string) float64 {
	nonEmpty, numeric := 0, 0
	uniq := map[string]struct{}{}
	for _, v := range hdr {
		s := strings.TrimSpace(v)
		if s == "" {
			continue
		}
		nonEmpty++
		if _, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
			numeric++
		}
		uniq[strings.ToLower(s)] = struct{}{}
	}
	if nonEmpty == 0 {
		return 0
	}
	uniqRatio := float64(len(uniq)) / float64(nonEmpty)
	numericRatio := float64(numeric) / float64(nonEmpty)
	return clamp01(0.5*uniqRatio + 0.5*(1.0-numericRatio))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func round3(x float64) float64 { return math.Round(x*1000) / 1000 }

func trimTrailingEmpties(xs []string) []string {
	i := len(xs)
	for i > 0 && strings.TrimSpace(xs[i-1]) == "" {
		i--
	}
	return xs[:i]
}
