package style

import (
	"strings"

	"github.com/xuri/excelize/v2"
)

// FromExcelStyle converts an excelize.Style into a Descriptor with Present
// fields only where excelize reports a non-zero-value setting. This is
// best-effort: excelize's Style does not itself distinguish "explicitly set
// to false/zero" from "never set", so a leaf such as Font.Bold==false is
// read back as Omitted rather than Present(false). Cells that need an
// explicit "not bold" must go through a style patch (Cleared or
// Present(false) via the op layer), not round-tripping through this
// reader.
func FromExcelStyle(s *excelize.Style) Descriptor {
	var d Descriptor
	if s == nil {
		return d
	}
	if s.Font != nil {
		f := s.Font
		if f.Bold {
			d.Font.Bold = present(true)
		}
		if f.Italic {
			d.Font.Italic = present(true)
		}
		if f.Underline != "" {
			d.Font.Underline = present(true)
		}
		if f.Strike {
			d.Font.Strike = present(true)
		}
		if f.Size > 0 {
			d.Font.Size = present(f.Size)
		}
		if f.Family != "" {
			d.Font.Name = present(f.Family)
		}
		if f.Color != "" {
			if norm, _, err := NormalizeColor(f.Color); err == nil {
				d.Font.Color = present(norm)
			}
		}
	}
	if len(s.Fill.Color) > 0 || s.Fill.Type != "" {
		d.Fill.State = Present
		d.Fill.Kind = FillKindPattern
		if s.Fill.Type != "" {
			d.Fill.PatternType = present(s.Fill.Type)
		}
		if len(s.Fill.Color) > 0 {
			if norm, _, err := NormalizeColor(s.Fill.Color[0]); err == nil {
				d.Fill.FG = present(norm)
			}
		}
		if len(s.Fill.Color) > 1 {
			if norm, _, err := NormalizeColor(s.Fill.Color[1]); err == nil {
				d.Fill.BG = present(norm)
			}
		}
	}
	for _, b := range s.Border {
		assignBorderSide(&d.Borders, b)
	}
	if s.Alignment != nil {
		a := s.Alignment
		if a.Horizontal != "" {
			d.Alignment.Horizontal = present(a.Horizontal)
		}
		if a.Vertical != "" {
			d.Alignment.Vertical = present(a.Vertical)
		}
		if a.WrapText {
			d.Alignment.WrapText = present(true)
		}
		if a.Indent != 0 {
			d.Alignment.Indent = present(a.Indent)
		}
		if a.TextRotation != 0 {
			d.Alignment.Rotation = present(a.TextRotation)
		}
	}
	if s.CustomNumFmt != nil && *s.CustomNumFmt != "" {
		d.NumberFormat.Code = present(*s.CustomNumFmt)
	}
	return d
}

// assignBorderSide maps an excelize.Border entry onto the Descriptor side
// named by its Type ("left", "right", "top" or "bottom", case-insensitive).
// An entry with any other Type is ignored; its position in the slice is
// not used.
func assignBorderSide(b *Borders, entry excelize.Border) {
	style := present(borderStyleName(entry.Style))
	var color Field[string]
	if entry.Color != "" {
		if norm, _, err := NormalizeColor(entry.Color); err == nil {
			color = present(norm)
		}
	}
	switch strings.ToLower(entry.Type) {
	case "left":
		b.Left.Style, b.Left.Color = style, color
	case "right":
		b.Right.Style, b.Right.Color = style, color
	case "top":
		b.Top.Style, b.Top.Color = style, color
	case "bottom":
		b.Bottom.Style, b.Bottom.Color = style, color
	}
}

// ToExcelStyle renders a Descriptor into an excelize.Style suitable for
// excelize.NewStyle / SetCellStyle. Cleared and Omitted leaves are left at
// their excelize zero value, which removes that piece of direct formatting
// when the resulting style is applied.
func ToExcelStyle(d Descriptor) *excelize.Style {
	out := &excelize.Style{}

	font := &excelize.Font{}
	hasFont := false
	if d.Font.Bold.State == Present {
		font.Bold = d.Font.Bold.Value
		hasFont = true
	}
	if d.Font.Italic.State == Present {
		font.Italic = d.Font.Italic.Value
		hasFont = true
	}
	if d.Font.Underline.State == Present {
		if d.Font.Underline.Value {
			font.Underline = "single"
		}
		hasFont = true
	}
	if d.Font.Strike.State == Present {
		font.Strike = d.Font.Strike.Value
		hasFont = true
	}
	if d.Font.Size.State == Present {
		font.Size = d.Font.Size.Value
		hasFont = true
	}
	if d.Font.Name.State == Present {
		font.Family = d.Font.Name.Value
		hasFont = true
	}
	if d.Font.Color.State == Present {
		font.Color = d.Font.Color.Value
		hasFont = true
	}
	if hasFont {
		out.Font = font
	}

	if d.Fill.State == Present && d.Fill.Kind == FillKindPattern {
		fill := excelize.Fill{Type: "pattern", Pattern: 1}
		if d.Fill.PatternType.State == Present {
			fill.Type = d.Fill.PatternType.Value
		}
		var colors []string
		if d.Fill.FG.State == Present {
			colors = append(colors, d.Fill.FG.Value)
		}
		if d.Fill.BG.State == Present {
			if len(colors) == 0 {
				colors = append(colors, "")
			}
			colors = append(colors, d.Fill.BG.Value)
		}
		fill.Color = colors
		out.Fill = fill
	}

	var borders []excelize.Border
	borders = appendBorderIfSet(borders, "left", d.Borders.Left)
	borders = appendBorderIfSet(borders, "right", d.Borders.Right)
	borders = appendBorderIfSet(borders, "top", d.Borders.Top)
	borders = appendBorderIfSet(borders, "bottom", d.Borders.Bottom)
	if len(borders) > 0 {
		out.Border = borders
	}

	align := &excelize.Alignment{}
	hasAlign := false
	if d.Alignment.Horizontal.State == Present {
		align.Horizontal = d.Alignment.Horizontal.Value
		hasAlign = true
	}
	if d.Alignment.Vertical.State == Present {
		align.Vertical = d.Alignment.Vertical.Value
		hasAlign = true
	}
	if d.Alignment.WrapText.State == Present {
		align.WrapText = d.Alignment.WrapText.Value
		hasAlign = true
	}
	if d.Alignment.Indent.State == Present {
		align.Indent = d.Alignment.Indent.Value
		hasAlign = true
	}
	if d.Alignment.Rotation.State == Present {
		align.TextRotation = d.Alignment.Rotation.Value
		hasAlign = true
	}
	if hasAlign {
		out.Alignment = align
	}

	if d.NumberFormat.Code.State == Present {
		code := d.NumberFormat.Code.Value
		out.CustomNumFmt = &code
	}

	return out
}

func appendBorderIfSet(borders []excelize.Border, pos string, side BorderSide) []excelize.Border {
	if side.Style.State != Present && side.Color.State != Present {
		return borders
	}
	b := excelize.Border{Type: pos, Style: 1}
	if side.Style.State == Present {
		b.Style = borderStyleCode(side.Style.Value)
	}
	if side.Color.State == Present {
		b.Color = side.Color.Value
	}
	return append(borders, b)
}

// borderStyleNames mirrors excelize's numeric border style codes (1-13).
var borderStyleNames = []string{
	"", "thin", "medium", "dashed", "dotted", "thick", "double", "hair",
	"mediumDashed", "dashDot", "mediumDashDot", "dashDotDot", "mediumDashDotDot", "slantDashDot",
}

func borderStyleCode(name string) int {
	for i, n := range borderStyleNames {
		if n == name {
			return i
		}
	}
	return 1
}

func borderStyleName(code int) string {
	if code >= 0 && code < len(borderStyleNames) {
		return borderStyleNames[code]
	}
	return "thin"
}
