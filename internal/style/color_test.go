package style

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeColor_ExpandsShortHexWithDefaultAlpha(t *testing.T) {
	got, warned, err := NormalizeColor("#0F0")
	require.NoError(t, err)
	require.Equal(t, "#FF00FF00", got)
	require.True(t, warned)
}

func TestNormalizeColor_ExpandsSixDigitWithDefaultAlpha(t *testing.T) {
	got, warned, err := NormalizeColor("ff8800")
	require.NoError(t, err)
	require.Equal(t, "#FFFF8800", got)
	require.True(t, warned)
}

func TestNormalizeColor_EightDigitPassesThroughNoWarning(t *testing.T) {
	got, warned, err := NormalizeColor("#80FF8800")
	require.NoError(t, err)
	require.Equal(t, "#80FF8800", got)
	require.False(t, warned)
}

func TestNormalizeColor_RejectsInvalid(t *testing.T) {
	_, _, err := NormalizeColor("not-a-color")
	require.Error(t, err)

	_, _, err = NormalizeColor("#12345")
	require.Error(t, err)

	_, _, err = NormalizeColor("")
	require.Error(t, err)
}

func TestNormalizeColor_Idempotent(t *testing.T) {
	once, err := NormalizeColorIdempotent("#abc")
	require.NoError(t, err)

	twice, err := NormalizeColorIdempotent(once)
	require.NoError(t, err)

	require.Equal(t, once, twice)
}
