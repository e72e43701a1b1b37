package fork

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/sheetforge/workbookd/internal/ops"
	"github.com/sheetforge/workbookd/internal/policy"
)

func stagedOpsFor(t *testing.T, items ...ops.BatchItem) []StagedOp {
	t.Helper()
	out := make([]StagedOp, 0, len(items))
	for _, item := range items {
		payload, err := json.Marshal(item)
		require.NoError(t, err)
		out = append(out, StagedOp{Kind: string(item.Kind), SchemaVersion: 1, Payload: payload})
	}
	return out
}

func warningCodes(warnings []ops.Warning) []string {
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.Code
	}
	return out
}

func writeWorkbook(t *testing.T, path string) {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "base"))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
}

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	reg, err := NewRegistry(root)
	require.NoError(t, err)
	basePath := filepath.Join(t.TempDir(), "base.xlsx")
	writeWorkbook(t, basePath)
	return reg, basePath
}

func TestCreateFork_CopiesBaseIntoWorkingFile(t *testing.T) {
	reg, basePath := newTestRegistry(t)

	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)
	require.NotEmpty(t, ctx.ForkID)
	require.Equal(t, basePath, ctx.BasePath)
	require.FileExists(t, ctx.WorkPath)

	f, err := excelize.OpenFile(ctx.WorkPath)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	require.Equal(t, "base", v)
}

func TestRegistry_Get_ColdLoadsFromDisk(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	cold, err := NewRegistry(reg.root)
	require.NoError(t, err)
	loaded, err := cold.Get(ctx.ForkID)
	require.NoError(t, err)
	require.Equal(t, ctx.ForkID, loaded.ForkID)
	require.Equal(t, basePath, loaded.BasePath)
}

func TestRegistry_Get_UnknownForkReturnsNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Get("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWithForkMut_RecordEditAndPersist(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		c.RecordEdit("cell_edit", "set A1")
		return nil
	})
	require.NoError(t, err)

	cold, err := NewRegistry(reg.root)
	require.NoError(t, err)
	loaded, err := cold.Get(ctx.ForkID)
	require.NoError(t, err)
	edits := loaded.Edits()
	require.Len(t, edits, 1)
	require.Equal(t, "cell_edit", edits[0].OpKind)
	require.Equal(t, "set A1", edits[0].Summary)
}

func TestWithForkMut_ErrorDoesNotPersistMetadata(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		c.RecordEdit("cell_edit", "should not be saved")
		return errTestFailure
	})
	require.ErrorIs(t, err, errTestFailure)

	require.Empty(t, ctx.Edits())
}

func TestAddStagedChange_LeavesWorkingFileUntouched(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	var sc StagedChange
	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		var aerr error
		sc, aerr = c.AddStagedChange("preview edit", nil, string(policy.Warn), func(snapshotPath string) (*ops.ChangeSummary, error) {
			f, oerr := excelize.OpenFile(snapshotPath)
			if oerr != nil {
				return nil, oerr
			}
			defer f.Close()
			if serr := f.SetCellValue("Sheet1", "A1", "staged"); serr != nil {
				return nil, serr
			}
			if serr := f.SaveAs(snapshotPath); serr != nil {
				return nil, serr
			}
			summary := ops.NewChangeSummary()
			return summary, nil
		})
		return aerr
	})
	require.NoError(t, err)
	require.NotEmpty(t, sc.ChangeID)
	require.FileExists(t, sc.SnapshotPath)

	working, err := excelize.OpenFile(ctx.WorkPath)
	require.NoError(t, err)
	defer working.Close()
	v, err := working.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	require.Equal(t, "base", v, "working.xlsx must not change until the staged change is applied")

	staged := ctx.StagedChanges()
	require.Len(t, staged, 1)
	require.Equal(t, "preview edit", staged[0].Label)
}

// stageCellEdit records a staged change with both real Ops (for replay) and
// a snapshot produced by actually running those ops, mirroring what
// runBatchStaged does in the registry layer.
func stageCellEdit(t *testing.T, ctx *Context, label, address, value string) string {
	t.Helper()
	items := []ops.BatchItem{{
		Kind:      ops.ItemCellEdit,
		Sheet:     "Sheet1",
		CellEdits: []ops.CellEdit{{Address: address, Value: value}},
	}}
	sc, aerr := ctx.AddStagedChange(label, stagedOpsFor(t, items...), string(policy.Warn), func(snapshotPath string) (*ops.ChangeSummary, error) {
		f, oerr := excelize.OpenFile(snapshotPath)
		if oerr != nil {
			return nil, oerr
		}
		defer f.Close()
		summary, _, rerr := ops.RunBatch(f, items, policy.Warn)
		if rerr != nil {
			return nil, rerr
		}
		if serr := f.SaveAs(snapshotPath); serr != nil {
			return nil, serr
		}
		return summary, nil
	})
	require.NoError(t, aerr)
	return sc.ChangeID
}

func TestApplyStagedChange_ReplaysOpsAgainstCurrentWorkingFileAndRemovesEntry(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	var changeID string
	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		changeID = stageCellEdit(t, c, "apply me", "A1", "applied")
		return nil
	})
	require.NoError(t, err)

	var summary *ops.ChangeSummary
	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		s, aerr := c.ApplyStagedChange(changeID)
		summary = s
		return aerr
	})
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.NotContains(t, warningCodes(summary.Warnings), "WARN_STAGED_REPLAY_AFTER_STRUCTURE")

	working, err := excelize.OpenFile(ctx.WorkPath)
	require.NoError(t, err)
	defer working.Close()
	v, err := working.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	require.Equal(t, "applied", v)

	require.Empty(t, ctx.StagedChanges())
}

func TestApplyStagedChange_ReplaysAgainstInterveningEditsToOtherCells(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	var changeID string
	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		changeID = stageCellEdit(t, c, "apply me", "B1", "staged-value")
		return nil
	})
	require.NoError(t, err)

	// a direct edit lands on working.xlsx after staging, touching a
	// different cell than the staged change.
	f, err := excelize.OpenFile(ctx.WorkPath)
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "direct-edit"))
	require.NoError(t, f.SaveAs(ctx.WorkPath))
	require.NoError(t, f.Close())

	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		_, aerr := c.ApplyStagedChange(changeID)
		return aerr
	})
	require.NoError(t, err)

	working, err := excelize.OpenFile(ctx.WorkPath)
	require.NoError(t, err)
	defer working.Close()
	a1, err := working.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	require.Equal(t, "direct-edit", a1, "replay must preserve intervening direct edits, not overwrite them with a stale snapshot")
	b1, err := working.GetCellValue("Sheet1", "B1")
	require.NoError(t, err)
	require.Equal(t, "staged-value", b1)
}

func TestApplyStagedChange_WarnsWhenStructuralOpAdvancedSinceStaging(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	var changeID string
	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		changeID = stageCellEdit(t, c, "apply me", "A1", "applied")
		return nil
	})
	require.NoError(t, err)

	// a structural op lands on working.xlsx after staging.
	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		f, oerr := excelize.OpenFile(c.WorkPath)
		if oerr != nil {
			return oerr
		}
		defer f.Close()
		summary, _, rerr := ops.RunBatch(f, []ops.BatchItem{{
			Kind:        ops.ItemStructure,
			StructureOp: &ops.StructureOp{Kind: ops.StructInsertRows, Sheet: "Sheet1", At: 1, Count: 1},
		}}, policy.Warn)
		if rerr != nil {
			return rerr
		}
		if summary.HasStructuralOp() {
			c.BumpStructuralOpCount()
		}
		return f.SaveAs(c.WorkPath)
	})
	require.NoError(t, err)

	var summary *ops.ChangeSummary
	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		s, aerr := c.ApplyStagedChange(changeID)
		summary = s
		return aerr
	})
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.Contains(t, warningCodes(summary.Warnings), "WARN_STAGED_REPLAY_AFTER_STRUCTURE")
}

func TestApplyStagedChange_UnknownIDReturnsNotFound(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		_, aerr := c.ApplyStagedChange("unknown")
		return aerr
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAndRestoreCheckpoint(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	var cp Checkpoint
	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		var cerr error
		cp, cerr = c.CreateCheckpoint("before edits")
		return cerr
	})
	require.NoError(t, err)
	require.FileExists(t, cp.SnapshotPath)

	// mutate working.xlsx directly, as a batch apply would.
	f, err := excelize.OpenFile(ctx.WorkPath)
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "mutated"))
	require.NoError(t, f.SaveAs(ctx.WorkPath))
	require.NoError(t, f.Close())

	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		c.SetRecalcNeeded(true)
		return c.RestoreCheckpoint(cp.CheckpointID)
	})
	require.NoError(t, err)

	restored, err := excelize.OpenFile(ctx.WorkPath)
	require.NoError(t, err)
	defer restored.Close()
	v, err := restored.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	require.Equal(t, "base", v)
	require.False(t, ctx.RecalcNeeded())
}

func TestRestoreCheckpoint_DiscardsStagedChangesCreatedAfterIt(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	var cp Checkpoint
	var snapshotPath string
	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		var cerr error
		cp, cerr = c.CreateCheckpoint("cp1")
		if cerr != nil {
			return cerr
		}
		sc, aerr := c.AddStagedChange("stale preview", nil, string(policy.Warn), func(sp string) (*ops.ChangeSummary, error) {
			snapshotPath = sp
			return ops.NewChangeSummary(), nil
		})
		if aerr != nil {
			return aerr
		}
		require.FileExists(t, sc.SnapshotPath)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, ctx.StagedChanges(), 1)

	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		return c.RestoreCheckpoint(cp.CheckpointID)
	})
	require.NoError(t, err)
	require.Empty(t, ctx.StagedChanges())
	require.NoFileExists(t, snapshotPath)
}

func TestRestoreCheckpoint_PreservesStagedChangesCreatedBeforeIt(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	var scID string
	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		sc, aerr := c.AddStagedChange("early preview", nil, string(policy.Warn), func(sp string) (*ops.ChangeSummary, error) {
			return ops.NewChangeSummary(), nil
		})
		scID = sc.ChangeID
		return aerr
	})
	require.NoError(t, err)

	var cp Checkpoint
	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		var cerr error
		cp, cerr = c.CreateCheckpoint("after the staged change")
		return cerr
	})
	require.NoError(t, err)

	err = reg.WithForkMut(ctx.ForkID, func(c *Context) error {
		return c.RestoreCheckpoint(cp.CheckpointID)
	})
	require.NoError(t, err)

	staged := ctx.StagedChanges()
	require.Len(t, staged, 1)
	require.Equal(t, scID, staged[0].ChangeID, "a staged change created before the restored checkpoint must survive")
}

func TestRegistry_Save_RefusesOverwriteWithoutFlag(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "out.xlsx")
	writeWorkbook(t, target)

	err = reg.Save(ctx.ForkID, target, false, false)
	require.ErrorIs(t, err, ErrOutputExists)
}

func TestRegistry_Save_WritesWorkingFileAndOptionallyDropsFork(t *testing.T) {
	reg, basePath := newTestRegistry(t)
	ctx, err := reg.CreateFork(basePath)
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "out.xlsx")
	err = reg.Save(ctx.ForkID, target, false, true)
	require.NoError(t, err)
	require.FileExists(t, target)

	_, err = reg.Get(ctx.ForkID)
	require.ErrorIs(t, err, ErrNotFound)
}

var errTestFailure = &testError{"deliberate failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
