package ops

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheetforge/workbookd/internal/policy"
)

func TestRunBatch_AppliesItemsInOrderAndMergesSummary(t *testing.T) {
	f := newTestFile(t)

	items := []BatchItem{
		{
			Kind:  ItemCellEdit,
			Sheet: "Sheet1",
			CellEdits: []CellEdit{
				{Address: "A1", Value: "10"},
				{Address: "A2", Value: "20"},
			},
		},
		{
			Kind:  ItemFillRange,
			Sheet: "Sheet1",
			FillRange: &FillRange{
				Target: TransformTarget{Range: "B1:B2"},
				Value:  "filled",
			},
		},
	}

	summary, col, err := RunBatch(f, items, policy.Warn)
	require.NoError(t, err)
	require.Empty(t, col.Groups())
	require.ElementsMatch(t, []string{"edit_batch", "fill_range"}, summary.OpKinds)
	require.Equal(t, uint64(2), summary.Counts["cells_value_set"])
	require.Equal(t, uint64(2), summary.Counts["cells_filled"])
	require.Equal(t, uint64(4), summary.Counts["cells_touched"])

	v, _ := f.GetCellValue("Sheet1", "B1")
	require.Equal(t, "filled", v)
}

func TestRunBatch_StopsAtFirstItemError(t *testing.T) {
	f := newTestFile(t)

	items := []BatchItem{
		{Kind: ItemClearRange, Sheet: "Sheet1", ClearRange: &ClearRange{Target: TransformTarget{Range: "not-a-range"}}},
		{Kind: ItemCellEdit, Sheet: "Sheet1", CellEdits: []CellEdit{{Address: "A1", Value: "never runs"}}},
	}

	_, _, err := RunBatch(f, items, policy.Warn)
	require.Error(t, err)

	v, _ := f.GetCellValue("Sheet1", "A1")
	require.Empty(t, v, "batch items after a fatal error must not run")
}

func TestRunBatch_MissingPayloadIsInvalidParams(t *testing.T) {
	f := newTestFile(t)

	items := []BatchItem{{Kind: ItemFillRange, Sheet: "Sheet1"}}
	_, _, err := RunBatch(f, items, policy.Warn)
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}

func TestRunBatch_UnknownKindIsInvalidParams(t *testing.T) {
	f := newTestFile(t)

	items := []BatchItem{{Kind: BatchItemKind("nonsense"), Sheet: "Sheet1"}}
	_, _, err := RunBatch(f, items, policy.Warn)
	require.Error(t, err)
	require.Contains(t, err.Error(), "INVALID_PARAMS")
}
