package ops

import (
	"fmt"

	"github.com/sheetforge/workbookd/internal/addr"
	"github.com/xuri/excelize/v2"
)

// SheetLayoutKind selects which view/page-layout property a SheetLayoutOp
// touches.
type SheetLayoutKind string

const (
	LayoutFreezePanes  SheetLayoutKind = "freeze_panes"
	LayoutSetZoom      SheetLayoutKind = "set_zoom"
	LayoutSetGridlines SheetLayoutKind = "set_gridlines"
	LayoutPageMargins  SheetLayoutKind = "set_page_margins"
	LayoutPageSetup    SheetLayoutKind = "set_page_setup"
	LayoutPrintArea    SheetLayoutKind = "set_print_area"
	LayoutPageBreaks   SheetLayoutKind = "set_page_breaks"
)

const (
	minZoomScale = 10
	maxZoomScale = 400
)

// SheetLayoutOp is the tagged-union payload for one sheet-view or
// page-layout edit.
type SheetLayoutOp struct {
	Kind  SheetLayoutKind `json:"kind"`
	Sheet string          `json:"sheet"`

	// freeze_panes
	SplitCell  string `json:"split_cell,omitempty"`
	FreezeRows int    `json:"freeze_rows,omitempty"`
	FreezeCols int    `json:"freeze_cols,omitempty"`
	Unfreeze   bool   `json:"unfreeze,omitempty"`

	// set_zoom
	ZoomScale int `json:"zoom_scale,omitempty"`

	// set_gridlines
	ShowGridlines bool `json:"show_gridlines,omitempty"`

	// set_page_margins (inches)
	Top    float64 `json:"top,omitempty"`
	Bottom float64 `json:"bottom,omitempty"`
	Left   float64 `json:"left,omitempty"`
	Right  float64 `json:"right,omitempty"`
	Header float64 `json:"header,omitempty"`
	Footer float64 `json:"footer,omitempty"`

	// set_page_setup
	Orientation string `json:"orientation,omitempty"` // "portrait" | "landscape"
	PaperSize   int    `json:"paper_size,omitempty"`

	// set_print_area
	PrintRange string `json:"print_range,omitempty"`

	// set_page_breaks
	RowBreaks []int `json:"row_breaks,omitempty"`
	ColBreaks []int `json:"col_breaks,omitempty"`
}

// ApplySheetLayoutOp mutates a sheet's view or page-layout properties.
func ApplySheetLayoutOp(f *excelize.File, op SheetLayoutOp) (*ChangeSummary, error) {
	s := NewChangeSummary()
	s.addOpKind(string(op.Kind))
	s.touchSheet(op.Sheet)

	if op.Sheet == "" {
		return s, fmt.Errorf("INVALID_PARAMS: sheet is required")
	}

	switch op.Kind {
	case LayoutFreezePanes:
		panes := &excelize.Panes{Freeze: !op.Unfreeze}
		if !op.Unfreeze {
			cell := op.SplitCell
			if cell == "" {
				cell = "A1"
			}
			panes.XSplit = op.FreezeCols
			panes.YSplit = op.FreezeRows
			panes.TopLeftCell = cell
			panes.ActivePane = "bottomRight"
		}
		if err := f.SetPanes(op.Sheet, panes); err != nil {
			return s, fmt.Errorf("WRITE_FAILED: set panes: %w", err)
		}
		s.bump("panes_set", 1)
		return s, nil

	case LayoutSetZoom:
		if op.ZoomScale < minZoomScale || op.ZoomScale > maxZoomScale {
			return s, fmt.Errorf("INVALID_PARAMS: zoom_scale must be between %d and %d", minZoomScale, maxZoomScale)
		}
		zoom := float64(op.ZoomScale)
		if err := f.SetSheetView(op.Sheet, 0, &excelize.ViewOptions{ZoomScale: &zoom}); err != nil {
			return s, fmt.Errorf("WRITE_FAILED: set zoom: %w", err)
		}
		s.bump("zoom_set", 1)
		return s, nil

	case LayoutSetGridlines:
		show := op.ShowGridlines
		if err := f.SetSheetView(op.Sheet, 0, &excelize.ViewOptions{ShowGridLines: &show}); err != nil {
			return s, fmt.Errorf("WRITE_FAILED: set gridlines: %w", err)
		}
		s.bump("gridlines_set", 1)
		return s, nil

	case LayoutPageMargins:
		for _, v := range []float64{op.Top, op.Bottom, op.Left, op.Right, op.Header, op.Footer} {
			if v < 0 {
				return s, fmt.Errorf("INVALID_PARAMS: page margins must be non-negative")
			}
		}
		if err := f.SetPageMargins(op.Sheet, &excelize.PageLayoutMarginsOptions{
			Top:    &op.Top,
			Bottom: &op.Bottom,
			Left:   &op.Left,
			Right:  &op.Right,
			Header: &op.Header,
			Footer: &op.Footer,
		}); err != nil {
			return s, fmt.Errorf("WRITE_FAILED: set page margins: %w", err)
		}
		s.bump("page_margins_set", 1)
		return s, nil

	case LayoutPageSetup:
		orientation := op.Orientation
		if orientation == "" {
			orientation = "portrait"
		}
		if orientation != "portrait" && orientation != "landscape" {
			return s, fmt.Errorf("INVALID_PARAMS: orientation must be portrait or landscape")
		}
		opts := &excelize.PageLayoutOptions{Orientation: &orientation}
		if op.PaperSize > 0 {
			size := op.PaperSize
			opts.Size = &size
		}
		if err := f.SetPageLayout(op.Sheet, opts); err != nil {
			return s, fmt.Errorf("WRITE_FAILED: set page setup: %w", err)
		}
		s.bump("page_setup_set", 1)
		return s, nil

	case LayoutPrintArea:
		if op.PrintRange == "" {
			return s, fmt.Errorf("INVALID_PARAMS: print_range is required")
		}
		if err := f.SetDefinedName(&excelize.DefinedName{
			Name:     "_xlnm.Print_Area",
			RefersTo: fmt.Sprintf("'%s'!%s", op.Sheet, op.PrintRange),
			Scope:    op.Sheet,
		}); err != nil {
			return s, fmt.Errorf("WRITE_FAILED: set print area: %w", err)
		}
		s.bump("print_area_set", 1)
		s.touchBounds(op.PrintRange)
		return s, nil

	case LayoutPageBreaks:
		for _, row := range op.RowBreaks {
			if row < 1 {
				return s, fmt.Errorf("INVALID_PARAMS: page break rows must be >= 1")
			}
			if err := f.InsertPageBreak(op.Sheet, fmt.Sprintf("A%d", row)); err != nil {
				return s, fmt.Errorf("WRITE_FAILED: insert row page break: %w", err)
			}
			s.bump("page_breaks_set", 1)
		}
		for _, col := range op.ColBreaks {
			if col < 1 {
				return s, fmt.Errorf("INVALID_PARAMS: page break cols must be >= 1")
			}
			colLetter, err := addr.IndexToColumnLetters(col)
			if err != nil {
				return s, fmt.Errorf("INVALID_PARAMS: %w", err)
			}
			if err := f.InsertPageBreak(op.Sheet, colLetter+"1"); err != nil {
				return s, fmt.Errorf("WRITE_FAILED: insert col page break: %w", err)
			}
			s.bump("page_breaks_set", 1)
		}
		return s, nil

	default:
		return s, fmt.Errorf("INVALID_PARAMS: unknown sheet layout kind %q", op.Kind)
	}
}
