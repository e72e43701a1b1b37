// Package fork implements the fork registry: fork/checkpoint/staged-change
// lifecycle over a durable on-disk layout, one directory per fork holding a
// working copy, a snapshots directory for staged-change previews, a
// checkpoints directory for point-in-time restores, and a JSON metadata
// file recording the fork's edit log and lineage.
package fork

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sheetforge/workbookd/internal/ops"
	"github.com/sheetforge/workbookd/internal/policy"
	"github.com/sheetforge/workbookd/internal/txfile"
	"github.com/xuri/excelize/v2"
)

// ErrNotFound indicates an unknown fork, checkpoint, or staged-change id.
var ErrNotFound = errors.New("fork: not found")

// ErrOutputExists is returned by Save when target exists and overwrite was
// not requested.
var ErrOutputExists = txfile.ErrOutputExists

const (
	metadataFileName    = "metadata.json"
	workingFileName     = "working.xlsx"
	snapshotsDirName    = "snapshots"
	checkpointsDirName  = "checkpoints"
)

// EditRecord is one append-only entry in a fork's cell-level intent log.
type EditRecord struct {
	At      time.Time `json:"at"`
	OpKind  string    `json:"op_kind"`
	Summary string    `json:"summary"`
}

// StagedOp is one typed op's opaque payload inside a StagedChange, tagged by
// kind and schema-versioned so future op revisions can coexist.
type StagedOp struct {
	Kind          string          `json:"kind"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// StagedChange is a preview-mode batch result: the ops that produced it,
// their summary, and the path to the snapshot file holding the result.
// StructuralOpCountAtCreation records the fork's structural-op counter at
// staging time, so a later ApplyStagedChange can detect whether a
// structural edit has landed on working.xlsx since and warn accordingly.
type StagedChange struct {
	ChangeID                    string             `json:"change_id"`
	CreatedAt                   time.Time          `json:"created_at"`
	Label                       string             `json:"label,omitempty"`
	Ops                         []StagedOp         `json:"ops"`
	FormulaMode                 string             `json:"formula_mode"`
	StructuralOpCountAtCreation int                `json:"structural_op_count_at_creation"`
	Summary                     *ops.ChangeSummary `json:"summary"`
	SnapshotPath                string             `json:"snapshot_path"`
}

// Checkpoint is a point-in-time snapshot of a fork's working file.
type Checkpoint struct {
	CheckpointID string    `json:"checkpoint_id"`
	CreatedAt    time.Time `json:"created_at"`
	Label        string    `json:"label,omitempty"`
	SnapshotPath string    `json:"snapshot_path"`
	RecalcNeeded bool      `json:"recalc_needed"`
}

// metadata is the on-disk, JSON-serialised shape of a ForkContext, minus
// its runtime-only mutation lock.
type metadata struct {
	ForkID            string         `json:"fork_id"`
	BasePath          string         `json:"base_path"`
	CreatedAt         time.Time      `json:"created_at"`
	Edits             []EditRecord   `json:"edits"`
	Staged            []StagedChange `json:"staged"`
	Checkpoints       []Checkpoint   `json:"checkpoints"`
	RecalcNeeded      bool           `json:"recalc_needed"`
	StructuralOpCount int            `json:"structural_op_count"`
}

// Context is the in-memory view of one fork's registry entry, mirroring
// spec's ForkContext: base_path is never mutated by fork operations,
// work_path always points at a readable XLSX.
type Context struct {
	ForkID   string
	BasePath string
	WorkPath string
	dir      string

	mu   sync.Mutex // exclusive per-fork mutation lock (with_fork_mut)
	meta metadata
}

// Registry owns every fork's directory under root and serialises creation.
type Registry struct {
	root string

	mu    sync.Mutex
	forks map[string]*Context
}

// NewRegistry constructs a Registry rooted at root, creating it if absent.
func NewRegistry(root string) (*Registry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fork: create root %q: %w", root, err)
	}
	return &Registry{root: root, forks: make(map[string]*Context)}, nil
}

// CreateFork copies basePath into a new fork's working.xlsx, mints a
// fork_id, and persists metadata.
func (r *Registry) CreateFork(basePath string) (*Context, error) {
	forkID := uuid.NewString()
	dir := filepath.Join(r.root, forkID)
	if err := os.MkdirAll(filepath.Join(dir, snapshotsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("fork: create dirs: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, checkpointsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("fork: create dirs: %w", err)
	}

	workPath := filepath.Join(dir, workingFileName)
	if err := txfile.CopyFile(basePath, workPath); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("fork: copy base into working file: %w", err)
	}

	ctx := &Context{
		ForkID:   forkID,
		BasePath: basePath,
		WorkPath: workPath,
		dir:      dir,
		meta: metadata{
			ForkID:    forkID,
			BasePath:  basePath,
			CreatedAt: time.Now(),
		},
	}
	if err := ctx.persistLocked(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	r.mu.Lock()
	r.forks[forkID] = ctx
	r.mu.Unlock()
	return ctx, nil
}

// Get returns the in-memory Context for forkID, loading it from disk on a
// cold registry (e.g. after process restart) if not already resident.
func (r *Registry) Get(forkID string) (*Context, error) {
	r.mu.Lock()
	ctx, ok := r.forks[forkID]
	r.mu.Unlock()
	if ok {
		return ctx, nil
	}

	dir := filepath.Join(r.root, forkID)
	metaPath := filepath.Join(dir, metadataFileName)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fork: read metadata: %w", err)
	}
	var m metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("fork: parse metadata: %w", err)
	}
	ctx = &Context{
		ForkID:   forkID,
		BasePath: m.BasePath,
		WorkPath: filepath.Join(dir, workingFileName),
		dir:      dir,
		meta:     m,
	}
	r.mu.Lock()
	r.forks[forkID] = ctx
	r.mu.Unlock()
	return ctx, nil
}

// WithForkMut acquires the fork's exclusive mutation lock, runs fn, and
// persists metadata before returning. If fn fails, the in-memory metadata
// is restored to its state before fn ran and nothing is persisted. Only one
// mutation proceeds at a time per fork; the lock is process-local, matching
// the single-process deployment this engine targets.
func (r *Registry) WithForkMut(forkID string, fn func(ctx *Context) error) error {
	ctx, err := r.Get(forkID)
	if err != nil {
		return err
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	saved := ctx.meta
	saved.Edits = append([]EditRecord(nil), ctx.meta.Edits...)
	saved.Staged = append([]StagedChange(nil), ctx.meta.Staged...)
	saved.Checkpoints = append([]Checkpoint(nil), ctx.meta.Checkpoints...)
	if err := fn(ctx); err != nil {
		ctx.meta = saved
		return err
	}
	return ctx.persistLocked()
}

// persistLocked writes metadata to disk. Callers must hold ctx.mu.
func (ctx *Context) persistLocked() error {
	data, err := json.MarshalIndent(ctx.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("fork: marshal metadata: %w", err)
	}
	metaPath := filepath.Join(ctx.dir, metadataFileName)
	tmp := metaPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("fork: write metadata: %w", err)
	}
	if err := os.Rename(tmp, metaPath); err != nil {
		return fmt.Errorf("fork: rename metadata into place: %w", err)
	}
	return nil
}

// RecordEdit appends an edit-log entry; callers must hold ctx.mu (i.e. call
// from within a WithForkMut closure).
func (ctx *Context) RecordEdit(opKind, summary string) {
	ctx.meta.Edits = append(ctx.meta.Edits, EditRecord{At: time.Now(), OpKind: opKind, Summary: summary})
}

// SetRecalcNeeded sets the fork's recalc_needed flag. Apply paths only ever
// set it true; RestoreCheckpoint resets it to the checkpoint's saved value.
func (ctx *Context) SetRecalcNeeded(v bool) { ctx.meta.RecalcNeeded = v }

// RecalcNeeded reports the fork's current recalc_needed flag.
func (ctx *Context) RecalcNeeded() bool { return ctx.meta.RecalcNeeded }

// BumpStructuralOpCount advances the fork's structural-op counter, marking
// that a structural edit (row/col insert or delete, sheet rename/create/
// delete, range move or copy) has landed on working.xlsx. Staged changes
// record this counter at staging time to detect later drift.
func (ctx *Context) BumpStructuralOpCount() { ctx.meta.StructuralOpCount++ }

// StructuralOpCount reports the fork's current structural-op counter.
func (ctx *Context) StructuralOpCount() int { return ctx.meta.StructuralOpCount }

// Edits returns a copy of the fork's append-only edit log.
func (ctx *Context) Edits() []EditRecord {
	out := make([]EditRecord, len(ctx.meta.Edits))
	copy(out, ctx.meta.Edits)
	return out
}

// StagedChanges returns a copy of the fork's ordered staged-change list.
func (ctx *Context) StagedChanges() []StagedChange {
	out := make([]StagedChange, len(ctx.meta.Staged))
	copy(out, ctx.meta.Staged)
	return out
}

// Checkpoints returns a copy of the fork's ordered checkpoint list.
func (ctx *Context) Checkpoints() []Checkpoint {
	out := make([]Checkpoint, len(ctx.meta.Checkpoints))
	copy(out, ctx.meta.Checkpoints)
	return out
}

// AddStagedChange snapshots the fork's current working file into
// snapshots/<change_id>.xlsx, applies mutate against that snapshot copy,
// and appends a StagedChange entry referencing it. The fork's working.xlsx
// is never touched. Callers must hold ctx.mu (i.e. call from within
// WithForkMut).
func (ctx *Context) AddStagedChange(label string, stagedOps []StagedOp, formulaMode string, mutate func(snapshotPath string) (*ops.ChangeSummary, error)) (StagedChange, error) {
	changeID := uuid.NewString()
	snapPath := filepath.Join(ctx.dir, snapshotsDirName, changeID+".xlsx")

	if err := txfile.CopyFile(ctx.WorkPath, snapPath); err != nil {
		return StagedChange{}, fmt.Errorf("fork: snapshot working file: %w", err)
	}
	summary, err := mutate(snapPath)
	if err != nil {
		_ = os.Remove(snapPath)
		return StagedChange{}, err
	}

	sc := StagedChange{
		ChangeID:                    changeID,
		CreatedAt:                   time.Now(),
		Label:                       label,
		Ops:                         stagedOps,
		FormulaMode:                 formulaMode,
		StructuralOpCountAtCreation: ctx.meta.StructuralOpCount,
		Summary:                     summary,
		SnapshotPath:                snapPath,
	}
	ctx.meta.Staged = append(ctx.meta.Staged, sc)
	return sc, nil
}

// DiscardStagedChange removes a staged change's metadata entry and deletes
// its snapshot file. Callers must hold ctx.mu.
func (ctx *Context) DiscardStagedChange(changeID string) error {
	for i, sc := range ctx.meta.Staged {
		if sc.ChangeID == changeID {
			_ = os.Remove(sc.SnapshotPath)
			ctx.meta.Staged = append(ctx.meta.Staged[:i], ctx.meta.Staged[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// ApplyStagedChange re-applies a staged change's recorded ops against the
// fork's *current* working.xlsx — a best-effort replay, not a restore of
// the stale preview snapshot — so any structural edits made to working.xlsx
// since the change was staged are reflected in the result. Callers must
// hold ctx.mu. The caller is responsible for invalidating any cache entry
// keyed to ctx.WorkPath after this returns.
//
// If the fork's structural-op counter has advanced since the change was
// staged, the returned summary carries a WARN_STAGED_REPLAY_AFTER_STRUCTURE
// warning: the replayed ops' addresses and ranges were resolved against the
// workbook shape at staging time and may no longer mean what they meant.
func (ctx *Context) ApplyStagedChange(changeID string) (*ops.ChangeSummary, error) {
	var target *StagedChange
	idx := -1
	for i := range ctx.meta.Staged {
		if ctx.meta.Staged[i].ChangeID == changeID {
			target = &ctx.meta.Staged[i]
			idx = i
			break
		}
	}
	if target == nil {
		return nil, ErrNotFound
	}

	items := make([]ops.BatchItem, 0, len(target.Ops))
	for _, op := range target.Ops {
		var item ops.BatchItem
		if err := json.Unmarshal(op.Payload, &item); err != nil {
			return nil, fmt.Errorf("fork: decode staged op %q: %w", op.Kind, err)
		}
		items = append(items, item)
	}

	mode := policy.Mode(target.FormulaMode)
	if mode == "" {
		mode = policy.Warn
	}

	var summary *ops.ChangeSummary
	if err := txfile.ApplyInPlace(ctx.WorkPath, "apply-staged", func(tempPath string) error {
		f, err := excelize.OpenFile(tempPath)
		if err != nil {
			return fmt.Errorf("open working copy for replay: %w", err)
		}
		s, _, rerr := ops.RunBatch(f, items, mode)
		summary = s
		if rerr != nil {
			return rerr
		}
		return f.SaveAs(tempPath)
	}); err != nil {
		return nil, fmt.Errorf("fork: apply staged change: %w", err)
	}

	if summary == nil {
		summary = ops.NewChangeSummary()
	}
	if target.StructuralOpCountAtCreation != ctx.meta.StructuralOpCount {
		summary.Warnings = append(summary.Warnings, ops.Warning{
			Code:    "WARN_STAGED_REPLAY_AFTER_STRUCTURE",
			Message: "this staged change was replayed against working.xlsx after a structural edit; replayed addresses and ranges may not match what was originally staged",
		})
	}
	if summary.Flags["recalc_needed"] {
		ctx.meta.RecalcNeeded = true
	}
	if summary.HasStructuralOp() {
		ctx.meta.StructuralOpCount++
	}
	ctx.RecordEdit("apply_staged_change", fmt.Sprintf("applied staged change %s", changeID))
	_ = os.Remove(target.SnapshotPath)
	ctx.meta.Staged = append(ctx.meta.Staged[:idx], ctx.meta.Staged[idx+1:]...)
	return summary, nil
}

// CreateCheckpoint copies the current working.xlsx into
// checkpoints/<id>.xlsx and appends an entry. Callers must hold ctx.mu.
func (ctx *Context) CreateCheckpoint(label string) (Checkpoint, error) {
	checkpointID := uuid.NewString()
	snapPath := filepath.Join(ctx.dir, checkpointsDirName, checkpointID+".xlsx")
	if err := txfile.CopyFile(ctx.WorkPath, snapPath); err != nil {
		return Checkpoint{}, fmt.Errorf("fork: snapshot working file: %w", err)
	}
	cp := Checkpoint{
		CheckpointID: checkpointID,
		CreatedAt:    time.Now(),
		Label:        label,
		SnapshotPath: snapPath,
		RecalcNeeded: ctx.meta.RecalcNeeded,
	}
	ctx.meta.Checkpoints = append(ctx.meta.Checkpoints, cp)
	return cp, nil
}

// RestoreCheckpoint atomically replaces working.xlsx with the checkpoint's
// snapshot, truncates every staged change created after it (deleting their
// snapshot files), and resets recalc_needed from the checkpoint's recorded
// value. The caller is responsible for invalidating any cache entry keyed
// to ctx.WorkPath after this returns. Callers must hold ctx.mu.
func (ctx *Context) RestoreCheckpoint(checkpointID string) error {
	idx := -1
	var target Checkpoint
	for i, cp := range ctx.meta.Checkpoints {
		if cp.CheckpointID == checkpointID {
			idx = i
			target = cp
			break
		}
	}
	if idx == -1 {
		return ErrNotFound
	}

	if err := txfile.ApplyInPlace(ctx.WorkPath, "restore-checkpoint", func(tempPath string) error {
		return txfile.CopyFile(target.SnapshotPath, tempPath)
	}); err != nil {
		return fmt.Errorf("fork: restore checkpoint: %w", err)
	}

	remaining := make([]StagedChange, 0, len(ctx.meta.Staged))
	for _, sc := range ctx.meta.Staged {
		if sc.CreatedAt.After(target.CreatedAt) {
			_ = os.Remove(sc.SnapshotPath)
			continue
		}
		remaining = append(remaining, sc)
	}
	ctx.meta.Staged = remaining
	ctx.meta.RecalcNeeded = target.RecalcNeeded
	ctx.RecordEdit("restore_checkpoint", fmt.Sprintf("restored checkpoint %s", checkpointID))
	return nil
}

// Save copies working.xlsx to targetPath using the transactional file
// path, optionally dropping the fork's entire directory afterward.
// Overwrite of an existing target is refused unless allowOverwrite.
func (r *Registry) Save(forkID, targetPath string, allowOverwrite, dropFork bool) error {
	ctx, err := r.Get(forkID)
	if err != nil {
		return err
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if err := txfile.ApplyToOutput(ctx.WorkPath, targetPath, allowOverwrite, nil); err != nil {
		return fmt.Errorf("fork: save: %w", err)
	}

	if dropFork {
		r.mu.Lock()
		delete(r.forks, forkID)
		r.mu.Unlock()
		if err := os.RemoveAll(ctx.dir); err != nil {
			return fmt.Errorf("fork: remove fork directory: %w", err)
		}
	}
	return nil
}
