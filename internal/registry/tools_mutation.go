package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sheetforge/workbookd/internal/diff"
	"github.com/sheetforge/workbookd/internal/fork"
	"github.com/sheetforge/workbookd/internal/ops"
	"github.com/sheetforge/workbookd/internal/policy"
	"github.com/sheetforge/workbookd/internal/security"
	"github.com/sheetforge/workbookd/internal/txfile"
	"github.com/sheetforge/workbookd/pkg/mcperr"
	"github.com/sheetforge/workbookd/pkg/validation"
	"github.com/xuri/excelize/v2"
)

// forkResolver opens and validates a filesystem path the same way the
// foundation discovery tools do, without placing the result in the
// workbook cache: fork working copies are mutated far more often than a
// cache entry's LRU bookkeeping is meant for, and every mutation already
// goes through internal/txfile's atomic replace.
type forkResolver struct {
	sec *security.Manager
	reg *fork.Registry
}

func (fr *forkResolver) validatePath(p string) (string, error) {
	canonical, err := fr.sec.ValidateOpenPath(p)
	if err != nil {
		return "", fmt.Errorf("%s: %w", mcperr.OpenFailed, err)
	}
	return canonical, nil
}

func formulaModeFromString(s string) policy.Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail":
		return policy.Fail
	case "off":
		return policy.Off
	case "", "warn":
		return policy.Warn
	default:
		return policy.Warn
	}
}

// runBatchDirect mutates a fork's working.xlsx atomically in place.
func runBatchDirect(ctx *fork.Context, items []ops.BatchItem, mode policy.Mode) (*ops.ChangeSummary, *policy.Collector, error) {
	var summary *ops.ChangeSummary
	var col *policy.Collector
	err := txfile.ApplyInPlace(ctx.WorkPath, "edit", func(tempPath string) error {
		return applyInPlaceExcel(tempPath, func(f *excelize.File) (*excelize.File, error) {
			s, c, rerr := ops.RunBatch(f, items, mode)
			summary, col = s, c
			return f, rerr
		})
	})
	return summary, col, err
}

// runBatchStaged runs items against a fresh staged-change snapshot, leaving
// working.xlsx untouched. The items and formula mode are recorded on the
// resulting StagedChange so a later apply_staged_change can replay them
// against the fork's then-current working.xlsx.
func runBatchStaged(ctx *fork.Context, label string, items []ops.BatchItem, mode policy.Mode) (fork.StagedChange, error) {
	stagedOps, err := stagedOpsFromItems(items)
	if err != nil {
		return fork.StagedChange{}, fmt.Errorf("%s: %w", mcperr.InvalidParams, err)
	}
	return ctx.AddStagedChange(label, stagedOps, string(mode), func(snapshotPath string) (*ops.ChangeSummary, error) {
		var summary *ops.ChangeSummary
		err := applyInPlaceExcel(snapshotPath, func(f *excelize.File) (*excelize.File, error) {
			s, _, rerr := ops.RunBatch(f, items, mode)
			summary = s
			return f, rerr
		})
		return summary, err
	})
}

// stagedOpsFromItems encodes each batch item whole into a StagedOp payload,
// so apply_staged_change can decode and replay them later; Kind and
// SchemaVersion are metadata tags only, the payload round-trips the full
// tagged-union item.
func stagedOpsFromItems(items []ops.BatchItem) ([]fork.StagedOp, error) {
	out := make([]fork.StagedOp, 0, len(items))
	for _, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode staged op %q: %w", item.Kind, err)
		}
		out = append(out, fork.StagedOp{
			Kind:          string(item.Kind),
			SchemaVersion: 1,
			Payload:       payload,
		})
	}
	return out, nil
}

// applyInPlaceExcel opens path, runs mutate, and saves the file back to the
// same path. Atomicity against a crash mid-write is already provided one
// layer up: runBatchDirect wraps this call in internal/txfile.ApplyInPlace,
// so the path it passes is a scratch temp copy of working.xlsx, and a save
// failure here just fails the temp copy and never touches the fork's real
// working.xlsx.
func applyInPlaceExcel(path string, mutate func(*excelize.File) (*excelize.File, error)) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", mcperr.OpenFailed, err)
	}
	f, err = mutate(f)
	if err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("%s: %w", mcperr.WriteFailed, err)
	}
	return nil
}

// batchErrorResult renders an error from ops.RunBatch/resolve.go. Those
// layers already prefix their errors with a catalog code ("INVALID_PARAMS: ...",
// "INVALID_RANGE: ...", etc.) via fmt.Errorf, so mcperr.FromText re-parses
// that prefix and enriches it with the catalog's next-steps guidance instead
// of every call site needing to classify the error itself.
func batchErrorResult(err error) *mcp.CallToolResult {
	msg := err.Error()
	switch {
	case strings.Contains(msg, string(mcperr.InvalidParams)),
		strings.Contains(msg, string(mcperr.InvalidRange)),
		strings.Contains(msg, string(mcperr.RegionNotFound)),
		strings.Contains(msg, string(mcperr.SheetNotFound)),
		strings.Contains(msg, string(mcperr.Validation)):
		return mcperr.FromText(msg)
	default:
		return mcperr.Wrapf(mcperr.BatchFailed, "%v", err)
	}
}

func forkErrorResult(err error) *mcp.CallToolResult {
	if err == fork.ErrNotFound {
		return mcperr.New(mcperr.ForkNotFound, "")
	}
	return mcperr.Wrapf(mcperr.ForkOpFailed, "%v", err)
}

// BatchResult is the common output shape for every *_batch and
// apply_formula_pattern tool: the merged change summary plus, when the
// request ran in preview mode, the staged change it produced.
type BatchResult struct {
	ForkID        string             `json:"fork_id"`
	Mode          string             `json:"mode"`
	Summary       *ops.ChangeSummary `json:"summary"`
	ChangeID      string             `json:"change_id,omitempty"`
	FormulaGroups []policy.Group     `json:"formula_parse_groups,omitempty"`
}

// BatchRequest is the shared input shape for every batch-of-ops tool.
type BatchRequest struct {
	ForkID      string          `json:"fork_id" validate:"required" jsonschema_description:"Fork to mutate, from create_fork"`
	Mode        string          `json:"mode,omitempty" validate:"omitempty,oneof=apply preview" jsonschema_description:"'apply' (default, mutate working.xlsx in place) or 'preview' (stage a snapshot without touching working.xlsx)"`
	Label       string          `json:"label,omitempty" jsonschema_description:"Optional human label recorded on the fork's edit log or staged change"`
	FormulaMode string          `json:"formula_mode,omitempty" validate:"omitempty,oneof=fail warn off" jsonschema_description:"'fail' (default for single-item edit_batch and apply_formula_pattern requests), 'warn' (default for every other request), or 'off'"`
	Items       []ops.BatchItem `json:"items" validate:"required,min=1" jsonschema_description:"Ordered batch items; exactly one payload field per item must match its kind"`
}

func runBatchRequest(fr *forkResolver, in BatchRequest, defaultClass string) (*BatchResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return nil, errors.New(msg)
	}
	mode := strings.ToLower(strings.TrimSpace(in.Mode))
	if mode == "" {
		mode = "apply"
	}
	fmode := in.FormulaMode
	if fmode == "" {
		class := defaultClass
		if len(in.Items) > 1 {
			class = "batch_write"
		}
		fmode = string(policy.DefaultForCommandClass(class))
	}
	pmode := formulaModeFromString(fmode)

	out := &BatchResult{ForkID: in.ForkID, Mode: mode}

	err := fr.reg.WithForkMut(in.ForkID, func(ctx *fork.Context) error {
		if mode == "preview" {
			sc, serr := runBatchStaged(ctx, in.Label, in.Items, pmode)
			if serr != nil {
				return serr
			}
			out.ChangeID = sc.ChangeID
			out.Summary = sc.Summary
			return nil
		}

		summary, col, berr := runBatchDirect(ctx, in.Items, pmode)
		out.Summary = summary
		if col != nil {
			out.FormulaGroups = col.Groups()
		}
		if berr != nil {
			return berr
		}
		if summary != nil && summary.Flags["recalc_needed"] {
			ctx.SetRecalcNeeded(true)
		}
		if summary != nil && summary.HasStructuralOp() {
			ctx.BumpStructuralOpCount()
		}
		opKinds := "batch"
		if summary != nil && len(summary.OpKinds) > 0 {
			opKinds = strings.Join(summary.OpKinds, ",")
		}
		ctx.RecordEdit(opKinds, in.Label)
		return nil
	})
	if err != nil {
		return out, err
	}
	return out, nil
}

// RegisterMutationTools wires the fork lifecycle, the full batch operation
// surface, and the diff engine as MCP tools.
func RegisterMutationTools(s *server.MCPServer, reg *Registry, sec *security.Manager, forks *fork.Registry) {
	fr := &forkResolver{sec: sec, reg: forks}

	// create_fork
	type CreateForkInput struct {
		Path string `json:"path" validate:"required,filepath_ext" jsonschema_description:"Absolute or allowed path to the base Excel workbook"`
	}
	type CreateForkOutput struct {
		ForkID   string `json:"fork_id"`
		BasePath string `json:"base_path"`
	}
	createFork := mcp.NewTool(
		"create_fork",
		mcp.WithDescription("Create a working fork of a workbook; every mutation tool operates on a fork, never on the original file"),
		mcp.WithInputSchema[CreateForkInput](),
		mcp.WithOutputSchema[CreateForkOutput](),
	)
	s.AddTool(createFork, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in CreateForkInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		canonical, err := fr.validatePath(strings.TrimSpace(in.Path))
		if err != nil {
			return mcperr.FromText(err.Error()), nil
		}
		fctx, err := forks.CreateFork(canonical)
		if err != nil {
			return forkErrorResult(err), nil
		}
		out := CreateForkOutput{ForkID: fctx.ForkID, BasePath: fctx.BasePath}
		return mcp.NewToolResultStructured(out, fmt.Sprintf("fork %s created from %s", out.ForkID, out.BasePath)), nil
	}))
	reg.Register(createFork)

	registerBatchTool(s, reg, fr, "edit_batch", "Apply cell_edit batch items (set a cell's value or formula) to a fork", "single_write")
	registerBatchTool(s, reg, fr, "transform_batch", "Apply clear_range/fill_range/replace_in_range batch items to a fork", "batch_write")
	registerBatchTool(s, reg, fr, "style_batch", "Apply style batch items (tri-state merge/set/clear style patches) to a fork", "batch_write")
	registerBatchTool(s, reg, fr, "structure_batch", "Apply structural edits (row/col insert-delete, sheet rename/create/delete, range copy/move) to a fork, rewriting formulas and defined names that reference shifted cells", "batch_write")
	registerBatchTool(s, reg, fr, "column_size_batch", "Apply column width/autofit batch items to a fork", "batch_write")
	registerBatchTool(s, reg, fr, "layout_batch", "Apply sheet view and page layout batch items (freeze panes, zoom, gridlines, margins, page setup, print area, page breaks) to a fork", "batch_write")
	registerBatchTool(s, reg, fr, "rules_batch", "Apply data validation and conditional formatting batch items to a fork", "batch_write")
	registerBatchTool(s, reg, fr, "apply_formula_pattern", "Fan a single anchor formula out across a row, column, or rectangular range, shifting relative references per cell", "single_write")

	// create_checkpoint
	type CreateCheckpointInput struct {
		ForkID string `json:"fork_id" validate:"required"`
		Label  string `json:"label,omitempty"`
	}
	createCheckpoint := mcp.NewTool(
		"create_checkpoint",
		mcp.WithDescription("Snapshot a fork's current working.xlsx as a named, restorable checkpoint"),
		mcp.WithInputSchema[CreateCheckpointInput](),
		mcp.WithOutputSchema[fork.Checkpoint](),
	)
	s.AddTool(createCheckpoint, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in CreateCheckpointInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		var cp fork.Checkpoint
		err := forks.WithForkMut(in.ForkID, func(fctx *fork.Context) error {
			var cerr error
			cp, cerr = fctx.CreateCheckpoint(in.Label)
			return cerr
		})
		if err != nil {
			return forkErrorResult(err), nil
		}
		return mcp.NewToolResultStructured(cp, fmt.Sprintf("checkpoint %s created", cp.CheckpointID)), nil
	}))
	reg.Register(createCheckpoint)

	// restore_checkpoint
	type RestoreCheckpointInput struct {
		ForkID       string `json:"fork_id" validate:"required"`
		CheckpointID string `json:"checkpoint_id" validate:"required"`
	}
	restoreCheckpoint := mcp.NewTool(
		"restore_checkpoint",
		mcp.WithDescription("Restore a fork's working.xlsx to a previously created checkpoint, discarding any staged changes created after it"),
		mcp.WithInputSchema[RestoreCheckpointInput](),
	)
	s.AddTool(restoreCheckpoint, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in RestoreCheckpointInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		err := forks.WithForkMut(in.ForkID, func(fctx *fork.Context) error {
			return fctx.RestoreCheckpoint(in.CheckpointID)
		})
		if err != nil {
			if err == fork.ErrNotFound {
				return mcperr.New(mcperr.CheckpointMissing, ""), nil
			}
			return forkErrorResult(err), nil
		}
		return mcp.NewToolResultStructured(map[string]string{"fork_id": in.ForkID, "checkpoint_id": in.CheckpointID}, "checkpoint restored"), nil
	}))
	reg.Register(restoreCheckpoint)

	// list_staged_changes
	type ListStagedInput struct {
		ForkID string `json:"fork_id" validate:"required"`
	}
	type ListStagedOutput struct {
		ForkID string              `json:"fork_id"`
		Staged []fork.StagedChange `json:"staged"`
	}
	listStaged := mcp.NewTool(
		"list_staged_changes",
		mcp.WithDescription("List a fork's pending staged changes (results of preview-mode batches not yet applied)"),
		mcp.WithInputSchema[ListStagedInput](),
		mcp.WithOutputSchema[ListStagedOutput](),
	)
	s.AddTool(listStaged, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in ListStagedInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		fctx, err := forks.Get(in.ForkID)
		if err != nil {
			return forkErrorResult(err), nil
		}
		out := ListStagedOutput{ForkID: in.ForkID, Staged: fctx.StagedChanges()}
		return mcp.NewToolResultStructured(out, fmt.Sprintf("staged=%d", len(out.Staged))), nil
	}))
	reg.Register(listStaged)

	// apply_staged_change
	type ApplyStagedInput struct {
		ForkID   string `json:"fork_id" validate:"required"`
		ChangeID string `json:"change_id" validate:"required"`
	}
	applyStaged := mcp.NewTool(
		"apply_staged_change",
		mcp.WithDescription("Commit a previously staged (preview-mode) batch's result into the fork's working.xlsx"),
		mcp.WithInputSchema[ApplyStagedInput](),
		mcp.WithOutputSchema[ops.ChangeSummary](),
	)
	s.AddTool(applyStaged, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in ApplyStagedInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		var summary *ops.ChangeSummary
		err := forks.WithForkMut(in.ForkID, func(fctx *fork.Context) error {
			var aerr error
			summary, aerr = fctx.ApplyStagedChange(in.ChangeID)
			return aerr
		})
		if err != nil {
			if err == fork.ErrNotFound {
				return mcperr.New(mcperr.ChangeNotFound, ""), nil
			}
			return forkErrorResult(err), nil
		}
		return mcp.NewToolResultStructured(summary, "staged change applied"), nil
	}))
	reg.Register(applyStaged)

	// discard_staged_change
	type DiscardStagedInput struct {
		ForkID   string `json:"fork_id" validate:"required"`
		ChangeID string `json:"change_id" validate:"required"`
	}
	discardStaged := mcp.NewTool(
		"discard_staged_change",
		mcp.WithDescription("Drop a staged (preview-mode) batch result without applying it"),
		mcp.WithInputSchema[DiscardStagedInput](),
	)
	s.AddTool(discardStaged, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in DiscardStagedInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		err := forks.WithForkMut(in.ForkID, func(fctx *fork.Context) error {
			return fctx.DiscardStagedChange(in.ChangeID)
		})
		if err != nil {
			if err == fork.ErrNotFound {
				return mcperr.New(mcperr.ChangeNotFound, ""), nil
			}
			return forkErrorResult(err), nil
		}
		return mcp.NewToolResultStructured(map[string]string{"fork_id": in.ForkID, "change_id": in.ChangeID}, "staged change discarded"), nil
	}))
	reg.Register(discardStaged)

	// save_fork
	type SaveForkInput struct {
		ForkID     string `json:"fork_id" validate:"required"`
		TargetPath string `json:"target_path" validate:"required,filepath_ext" jsonschema_description:"Absolute or allowed output path"`
		Overwrite  bool   `json:"overwrite,omitempty"`
		DropFork   bool   `json:"drop_fork,omitempty" jsonschema_description:"Delete the fork's working directory after a successful save"`
	}
	saveFork := mcp.NewTool(
		"save_fork",
		mcp.WithDescription("Save a fork's working.xlsx to an output path"),
		mcp.WithInputSchema[SaveForkInput](),
	)
	s.AddTool(saveFork, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in SaveForkInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		target := strings.TrimSpace(in.TargetPath)
		canonicalTarget, verr := fr.sec.ValidateSavePath(target)
		if verr != nil {
			return mcperr.Wrapf(mcperr.PermissionDenied, "target_path rejected: %v", verr), nil
		}
		if !in.Overwrite {
			if _, openErr := fr.sec.ValidateOpenPath(canonicalTarget); openErr == nil {
				return mcperr.New(mcperr.OutputExists, ""), nil
			}
		}
		if err := forks.Save(in.ForkID, canonicalTarget, in.Overwrite, in.DropFork); err != nil {
			if err == fork.ErrOutputExists {
				return mcperr.New(mcperr.OutputExists, ""), nil
			}
			if err == fork.ErrNotFound {
				return mcperr.New(mcperr.ForkNotFound, ""), nil
			}
			return mcperr.Wrapf(mcperr.SaveFailed, "%v", err), nil
		}
		return mcp.NewToolResultStructured(map[string]string{"fork_id": in.ForkID, "target_path": canonicalTarget}, "fork saved"), nil
	}))
	reg.Register(saveFork)

	// diff_workbook
	type DiffWorkbookInput struct {
		ForkID      string   `json:"fork_id" validate:"required" jsonschema_description:"Fork whose working.xlsx is compared against its base_path"`
		Sheets      []string `json:"sheets,omitempty" jsonschema_description:"Restrict the diff to these sheets; omitted means every sheet"`
		Limit       int      `json:"limit,omitempty" jsonschema_description:"Max changes to return (1-2000, default 500)"`
		Offset      int      `json:"offset,omitempty"`
		SummaryOnly bool     `json:"summary_only,omitempty" jsonschema_description:"Return only counts/total, skip the change list"`
		Include     []string `json:"include,omitempty" jsonschema_description:"Coarse kind/diff/subtype tokens to keep (e.g. cell, modified, formula_edit)"`
		Exclude     []string `json:"exclude,omitempty"`
	}
	diffWorkbook := mcp.NewTool(
		"diff_workbook",
		mcp.WithDescription("Compare a fork's working.xlsx against its base workbook and return a classified, paginated change set"),
		mcp.WithInputSchema[DiffWorkbookInput](),
		mcp.WithOutputSchema[diff.Result](),
	)
	s.AddTool(diffWorkbook, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in DiffWorkbookInput) (*mcp.CallToolResult, error) {
		if msg := validation.ValidateStruct(in); msg != "" {
			return mcperr.FromText(msg), nil
		}
		fctx, err := forks.Get(in.ForkID)
		if err != nil {
			return forkErrorResult(err), nil
		}
		base, err := excelize.OpenFile(fctx.BasePath)
		if err != nil {
			return mcperr.Wrapf(mcperr.OpenFailed, "base workbook: %v", err), nil
		}
		working, err := excelize.OpenFile(fctx.WorkPath)
		if err != nil {
			return mcperr.Wrapf(mcperr.OpenFailed, "fork working copy: %v", err), nil
		}
		sheetFilter, err := diff.ParseSheetFilter(working, in.Sheets)
		if err != nil {
			return mcperr.FromText(err.Error()), nil
		}

		include := toTokenSet(in.Include)
		exclude := toTokenSet(in.Exclude)
		result, err := diff.Diff(base, working, diff.Options{
			SheetFilter: sheetFilter,
			Limit:       in.Limit,
			Offset:      in.Offset,
			SummaryOnly: in.SummaryOnly,
			Include:     include,
			Exclude:     exclude,
		})
		if err != nil {
			return mcperr.Wrapf(mcperr.DiffFailed, "%v", err), nil
		}
		return mcp.NewToolResultStructured(result, fmt.Sprintf("total=%d returned=%d truncated=%v", result.Total, len(result.Changes), result.Truncated)), nil
	}))
	reg.Register(diffWorkbook)
}

func toTokenSet(tokens []string) map[string]bool {
	if len(tokens) == 0 {
		return nil
	}
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		out[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return out
}

// registerBatchTool registers one of the *_batch / apply_formula_pattern
// tools, all of which share BatchRequest/BatchResult and differ only in
// name, description, and the command class their formula-parse policy
// defaults from.
func registerBatchTool(s *server.MCPServer, reg *Registry, fr *forkResolver, name, description, defaultClass string) {
	tool := mcp.NewTool(
		name,
		mcp.WithDescription(description),
		mcp.WithInputSchema[BatchRequest](),
		mcp.WithOutputSchema[BatchResult](),
	)
	s.AddTool(tool, mcp.NewTypedToolHandler(func(ctx context.Context, req mcp.CallToolRequest, in BatchRequest) (*mcp.CallToolResult, error) {
		out, err := runBatchRequest(fr, in, defaultClass)
		if err != nil {
			if err == fork.ErrNotFound {
				return mcperr.New(mcperr.ForkNotFound, ""), nil
			}
			return batchErrorResult(err), nil
		}
		summary := fmt.Sprintf("mode=%s", out.Mode)
		if out.Summary != nil {
			summary = fmt.Sprintf("%s op_kinds=%v counts=%v", summary, out.Summary.OpKinds, out.Summary.Counts)
		}
		if out.ChangeID != "" {
			summary = fmt.Sprintf("%s change_id=%s", summary, out.ChangeID)
		}
		return mcp.NewToolResultStructured(out, summary), nil
	}))
	reg.Register(tool)
}
