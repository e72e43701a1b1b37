package region

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func createWorkbookWithTwoTables(t *testing.T) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	sh := "Sheet1"
	require.NoError(t, f.SetSheetRow(sh, "A1", &[]string{"Name", "Value", "Date"}))
	require.NoError(t, f.SetSheetRow(sh, "A2", &[]string{"A", "10", "2024-01-01"}))
	require.NoError(t, f.SetSheetRow(sh, "A3", &[]string{"B", "20", "2024-01-02"}))
	require.NoError(t, f.SetSheetRow(sh, "A4", &[]string{"C", "30", "2024-01-03"}))

	require.NoError(t, f.SetSheetRow(sh, "E6", &[]string{"Prod", "Qty", "When"}))
	require.NoError(t, f.SetSheetRow(sh, "E7", &[]string{"X", "5", "2024-01-01"}))
	require.NoError(t, f.SetSheetRow(sh, "E8", &[]string{"Y", "7", "2024-01-02"}))
	return f
}

func TestDetect_FindsRegionsInReadingOrder(t *testing.T) {
	f := createWorkbookWithTwoTables(t)
	defer f.Close()

	regions, truncated, err := Detect(f, "Sheet1", Options{})
	require.NoError(t, err)
	require.False(t, truncated)
	require.Len(t, regions, 2)

	// Reading order: A1:C4 sits above E6:G8, so it gets region_id 1.
	require.Equal(t, 1, regions[0].ID)
	require.Equal(t, "A1:C4", regions[0].RangeA1)
	require.Equal(t, 2, regions[1].ID)
	require.Equal(t, "E6:G8", regions[1].RangeA1)

	for _, r := range regions {
		require.GreaterOrEqual(t, r.Confidence, 0.0)
		require.LessOrEqual(t, r.Confidence, 1.0)
	}
}

func TestDetect_StableIdsAcrossCalls(t *testing.T) {
	f := createWorkbookWithTwoTables(t)
	defer f.Close()

	r1, _, err := Detect(f, "Sheet1", Options{})
	require.NoError(t, err)
	r2, _, err := Detect(f, "Sheet1", Options{})
	require.NoError(t, err)
	require.Equal(t, r1, r2)
}

func TestByID(t *testing.T) {
	regions := []Region{{ID: 1, RangeA1: "A1:B2"}, {ID: 2, RangeA1: "C1:D2"}}
	r, ok := ByID(regions, 2)
	require.True(t, ok)
	require.Equal(t, "C1:D2", r.RangeA1)
	_, ok = ByID(regions, 99)
	require.False(t, ok)
}
