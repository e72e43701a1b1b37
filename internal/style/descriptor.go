// Package style implements the engine's canonical style descriptor: a
// nested, hash-stable value object with tri-state fields (Omitted /
// Present / Cleared) and a merge/set/clear patch algebra, generalized from
// how the teacher models typed, JSON-friendly value objects throughout
// pkg/validation and internal/registry (e.g. PreviewSheetInput's bounded,
// validated fields), applied here to excelize.Style instead of tool
// parameters.
package style

// State is the tri-state value a style field can hold in a patch.
type State int

const (
	// Omitted leaves the existing value untouched.
	Omitted State = iota
	// Present sets the value.
	Present
	// Cleared removes the value (the leaf reverts to "not set").
	Cleared
)

// Field is one tri-state leaf of the descriptor.
type Field[T comparable] struct {
	State State
	Value T
}

func present[T comparable](v T) Field[T] { return Field[T]{State: Present, Value: v} }
func cleared[T comparable]() Field[T]    { return Field[T]{State: Cleared} }

// Equal reports whether two fields carry the same state and (when present) value.
func (f Field[T]) Equal(o Field[T]) bool {
	if f.State != o.State {
		return false
	}
	if f.State == Present {
		return f.Value == o.Value
	}
	return true
}

// mergeField implements merge-mode leaf combination: Omitted keeps base,
// Present overwrites, Cleared removes.
func mergeField[T comparable](base, patch Field[T]) Field[T] {
	switch patch.State {
	case Present:
		return patch
	case Cleared:
		return Field[T]{State: Cleared}
	default:
		return base
	}
}

// setField implements set-mode leaf combination: the patch fully defines
// the result; anything the patch does not explicitly set becomes Cleared.
func setField[T comparable](patch Field[T]) Field[T] {
	if patch.State == Present {
		return patch
	}
	return Field[T]{State: Cleared}
}

// Font holds the tri-state font leaves.
type Font struct {
	Bold      Field[bool]
	Italic    Field[bool]
	Underline Field[bool]
	Strike    Field[bool]
	Size      Field[float64]
	Name      Field[string]
	Color     Field[string] // normalized #AARRGGBB
}

// GradientStop is one stop of a gradient fill.
type GradientStop struct {
	Position float64
	Color    string
}

// FillKind distinguishes solid-pattern fills from gradient fills.
type FillKind string

const (
	FillKindNone     FillKind = ""
	FillKindPattern  FillKind = "pattern"
	FillKindGradient FillKind = "gradient"
)

// Fill holds the tri-state fill leaves. Kind selects which sub-shape
// (pattern or gradient) Present values apply to.
type Fill struct {
	State         State
	Kind          FillKind
	PatternType   Field[string]
	FG            Field[string] // normalized #AARRGGBB
	BG            Field[string] // normalized #AARRGGBB
	GradientStops []GradientStop
}

// BorderSide holds the tri-state leaves for one border edge.
type BorderSide struct {
	Style Field[string]
	Color Field[string] // normalized #AARRGGBB
}

// Borders holds all four sides.
type Borders struct {
	Top    BorderSide
	Bottom BorderSide
	Left   BorderSide
	Right  BorderSide
}

// Alignment holds the tri-state alignment leaves.
type Alignment struct {
	Horizontal Field[string]
	Vertical   Field[string]
	WrapText   Field[bool]
	Indent     Field[int]
	Rotation   Field[int]
}

// NumberFormat holds the tri-state number-format leaf. Value is always a
// resolved format code (named kinds like "currency" are resolved to a code
// by normalization before the descriptor is built).
type NumberFormat struct {
	Code Field[string]
}

// Descriptor is the canonical, hash-stable view of a cell's direct formatting.
type Descriptor struct {
	Font         Font
	Fill         Fill
	Borders      Borders
	Alignment    Alignment
	NumberFormat NumberFormat
}

// OpMode selects the patch algebra used by Apply.
type OpMode string

const (
	OpMerge OpMode = "merge"
	OpSet   OpMode = "set"
	OpClear OpMode = "clear"
)

// Apply combines base with patch under mode, implementing spec §4.6's
// three algebras:
//   - merge: leaf-wise combine (Omitted keeps existing, Present overwrites,
//     Cleared removes the leaf only).
//   - set: the patch fully defines the result; unset fields are cleared.
//   - clear: all direct style is removed; patch is ignored.
func Apply(base, patch Descriptor, mode OpMode) Descriptor {
	switch mode {
	case OpClear:
		return Descriptor{}
	case OpSet:
		return Descriptor{
			Font: Font{
				Bold:      setField(patch.Font.Bold),
				Italic:    setField(patch.Font.Italic),
				Underline: setField(patch.Font.Underline),
				Strike:    setField(patch.Font.Strike),
				Size:      setField(patch.Font.Size),
				Name:      setField(patch.Font.Name),
				Color:     setField(patch.Font.Color),
			},
			Fill:    setFill(patch.Fill),
			Borders: Borders{
				Top:    setBorderSide(patch.Borders.Top),
				Bottom: setBorderSide(patch.Borders.Bottom),
				Left:   setBorderSide(patch.Borders.Left),
				Right:  setBorderSide(patch.Borders.Right),
			},
			Alignment: Alignment{
				Horizontal: setField(patch.Alignment.Horizontal),
				Vertical:   setField(patch.Alignment.Vertical),
				WrapText:   setField(patch.Alignment.WrapText),
				Indent:     setField(patch.Alignment.Indent),
				Rotation:   setField(patch.Alignment.Rotation),
			},
			NumberFormat: NumberFormat{Code: setField(patch.NumberFormat.Code)},
		}
	default: // OpMerge
		return Descriptor{
			Font: Font{
				Bold:      mergeField(base.Font.Bold, patch.Font.Bold),
				Italic:    mergeField(base.Font.Italic, patch.Font.Italic),
				Underline: mergeField(base.Font.Underline, patch.Font.Underline),
				Strike:    mergeField(base.Font.Strike, patch.Font.Strike),
				Size:      mergeField(base.Font.Size, patch.Font.Size),
				Name:      mergeField(base.Font.Name, patch.Font.Name),
				Color:     mergeField(base.Font.Color, patch.Font.Color),
			},
			Fill: mergeFill(base.Fill, patch.Fill),
			Borders: Borders{
				Top:    mergeBorderSide(base.Borders.Top, patch.Borders.Top),
				Bottom: mergeBorderSide(base.Borders.Bottom, patch.Borders.Bottom),
				Left:   mergeBorderSide(base.Borders.Left, patch.Borders.Left),
				Right:  mergeBorderSide(base.Borders.Right, patch.Borders.Right),
			},
			Alignment: Alignment{
				Horizontal: mergeField(base.Alignment.Horizontal, patch.Alignment.Horizontal),
				Vertical:   mergeField(base.Alignment.Vertical, patch.Alignment.Vertical),
				WrapText:   mergeField(base.Alignment.WrapText, patch.Alignment.WrapText),
				Indent:     mergeField(base.Alignment.Indent, patch.Alignment.Indent),
				Rotation:   mergeField(base.Alignment.Rotation, patch.Alignment.Rotation),
			},
			NumberFormat: NumberFormat{Code: mergeField(base.NumberFormat.Code, patch.NumberFormat.Code)},
		}
	}
}

func mergeBorderSide(base, patch BorderSide) BorderSide {
	return BorderSide{
		Style: mergeField(base.Style, patch.Style),
		Color: mergeField(base.Color, patch.Color),
	}
}

func setBorderSide(patch BorderSide) BorderSide {
	return BorderSide{Style: setField(patch.Style), Color: setField(patch.Color)}
}

func mergeFill(base, patch Fill) Fill {
	if patch.State == Cleared {
		return Fill{}
	}
	if patch.State != Present {
		return base
	}
	// Present patch: it fully replaces the fill shape (pattern vs gradient
	// are mutually exclusive union members, so "merging" a new shape in
	// means taking the patch's shape wholesale).
	return patch
}

func setFill(patch Fill) Fill {
	if patch.State != Present {
		return Fill{}
	}
	return patch
}

// ID computes a stable hash over the descriptor's canonical serialisation.
// Two cells are style-equal iff their ids match; see hash.go.
func (d Descriptor) ID() string { return canonicalHash(d) }
