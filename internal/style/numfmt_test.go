package style

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveNumberFormat_ExplicitCodeOverridesNamedKind(t *testing.T) {
	code, ok := ResolveNumberFormat("currency", "0.0000")
	require.True(t, ok)
	require.Equal(t, "0.0000", code)
}

func TestResolveNumberFormat_NamedKindCaseInsensitive(t *testing.T) {
	code, ok := ResolveNumberFormat("PERCENT", "")
	require.True(t, ok)
	require.Equal(t, "0.00%", code)
}

func TestResolveNumberFormat_UnknownKindAndNoCode(t *testing.T) {
	_, ok := ResolveNumberFormat("not_a_kind", "")
	require.False(t, ok)
}

func TestResolveNumberFormat_AllNamedKindsResolve(t *testing.T) {
	for _, kind := range []string{"currency", "percent", "date_iso", "accounting", "integer"} {
		code, ok := ResolveNumberFormat(kind, "")
		require.True(t, ok, kind)
		require.NotEmpty(t, code, kind)
	}
}
