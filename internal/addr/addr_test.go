package addr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColumnLettersRoundTrip(t *testing.T) {
	cases := map[string]int{"A": 1, "Z": 26, "AA": 27, "AZ": 52, "BA": 53}
	for letters, idx := range cases {
		got, err := ColumnLettersToIndex(letters)
		require.NoError(t, err)
		require.Equal(t, idx, got, letters)

		back, err := IndexToColumnLetters(idx)
		require.NoError(t, err)
		require.Equal(t, letters, back)
	}
}

func TestParseCoordLockBits(t *testing.T) {
	c, err := ParseCoord("$B$2")
	require.NoError(t, err)
	require.Equal(t, Coord{Col: 2, Row: 2, ColLock: true, RowLock: true}, c)

	c, err = ParseCoord("C3")
	require.NoError(t, err)
	require.Equal(t, Coord{Col: 3, Row: 3}, c)

	_, err = ParseCoord("A1:B2")
	require.Error(t, err)

	_, err = ParseCoord("1A")
	require.Error(t, err)
}

func TestFormatCoordRoundTrip(t *testing.T) {
	for _, token := range []string{"A1", "$A1", "A$1", "$A$1", "AZ100"} {
		c, err := ParseCoord(token)
		require.NoError(t, err)
		out, err := FormatCoord(c)
		require.NoError(t, err)
		require.Equal(t, token, out)
	}
}

func TestParseBoundsSingleCellAlias(t *testing.T) {
	b, err := ParseBounds("A1")
	require.NoError(t, err)
	require.Equal(t, b.Start, b.End)

	out, err := FormatBounds(b)
	require.NoError(t, err)
	require.Equal(t, "A1", out)
}

func TestParseBoundsNormalisesOrder(t *testing.T) {
	b, err := ParseBounds("C3:A1")
	require.NoError(t, err)
	require.Equal(t, 1, b.Start.Col)
	require.Equal(t, 1, b.Start.Row)
	require.Equal(t, 3, b.End.Col)
	require.Equal(t, 3, b.End.Row)
}

func TestParseBoundsMalformed(t *testing.T) {
	_, err := ParseBounds("A1:B2:C3")
	require.Error(t, err)
	var rangeErr *InvalidRangeError
	require.ErrorAs(t, err, &rangeErr)
}

func TestBoundsOverlapsAndContains(t *testing.T) {
	a, _ := ParseBounds("A1:C3")
	b, _ := ParseBounds("C3:D4")
	c, _ := ParseBounds("D5:E6")
	require.True(t, a.Overlaps(b))
	require.False(t, a.Overlaps(c))

	coord, _ := ParseCoord("B2")
	require.True(t, a.Contains(coord))
}

func TestParseColumnSpan(t *testing.T) {
	for _, tok := range []string{"A:C", "A-C"} {
		span, err := ParseColumnSpan(tok)
		require.NoError(t, err)
		require.Equal(t, ColumnSpan{Start: 1, End: 3}, span)
	}
	span, err := ParseColumnSpan("B")
	require.NoError(t, err)
	require.Equal(t, ColumnSpan{Start: 2, End: 2}, span)
}

func TestCellCount(t *testing.T) {
	b, _ := ParseBounds("A1:C4")
	require.Equal(t, 3, b.Width())
	require.Equal(t, 4, b.Height())
	require.Equal(t, 12, b.CellCount())
}
