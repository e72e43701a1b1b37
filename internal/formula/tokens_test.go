package formula

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenizeRoundTrip(t *testing.T) {
	cases := []string{
		"B2*2",
		"SUM(A1:A10)+LOG10(B2)",
		"Sheet1!B2*2",
		"'Q1 Actuals'!B2+1",
		`IF(A1="x","yes","no")`,
		"[Book1.xlsx]Sheet1!A1",
	}
	for _, f := range cases {
		toks, err := Tokenize(f)
		require.NoError(t, err)
		var rebuilt string
		for _, tk := range toks {
			rebuilt += tk.Text
		}
		require.Equal(t, f, rebuilt, f)
	}
}

func TestTokenizeDistinguishesFunctionFromRange(t *testing.T) {
	toks, err := Tokenize("LOG10(B2)")
	require.NoError(t, err)
	require.Equal(t, TokenOther, toks[0].Kind)
	require.Equal(t, "LOG10", toks[0].Text)
}

func TestTokenizeRangeWithSheetQualifier(t *testing.T) {
	toks, err := Tokenize("Sheet1!B2*2")
	require.NoError(t, err)
	require.Equal(t, TokenRange, toks[0].Kind)
	require.Equal(t, "Sheet1", toks[0].Sheet)
	require.Equal(t, "B2", toks[0].RefText)
}

func TestTokenizeQuotedSheetWithSpace(t *testing.T) {
	toks, err := Tokenize("'Q1 Actuals'!B3*2")
	require.NoError(t, err)
	require.Equal(t, TokenRange, toks[0].Kind)
	require.Equal(t, "Q1 Actuals", toks[0].Sheet)
	require.True(t, toks[0].SheetQuoted)
}

func TestTokenizeIgnoresRangeInsideStringLiteral(t *testing.T) {
	toks, err := Tokenize(`CONCAT("A1", B2)`)
	require.NoError(t, err)
	var rangeTexts []string
	for _, tk := range toks {
		if tk.Kind == TokenRange {
			rangeTexts = append(rangeTexts, tk.Text)
		}
	}
	require.Equal(t, []string{"B2"}, rangeTexts)
}

func TestTokenizeExternalReferenceNeverShiftsFlag(t *testing.T) {
	toks, err := Tokenize("[Book1.xlsx]Sheet1!A1")
	require.NoError(t, err)
	require.Equal(t, TokenRange, toks[0].Kind)
	require.True(t, toks[0].IsExternal)
}
