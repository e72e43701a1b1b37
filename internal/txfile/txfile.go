// Package txfile implements the engine's transactional file primitives:
// scoped temp files, atomic rename, parent-directory fsync, and the
// overwrite/symlink guards used by the fork registry and the batch
// appliers whenever a workbook file is replaced on disk.
package txfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrOutputExists is returned by ApplyToOutput when target already exists
// and overwrite was not requested.
var ErrOutputExists = errors.New("txfile: output already exists")

// ErrSameFile is returned when the resolved input and output paths name the
// same file (directly or through a symlink).
var ErrSameFile = errors.New("txfile: input and output resolve to the same file")

// NewTemp creates a temp file in dir (the target file's parent directory)
// named "<prefix>-*.tmp.xlsx" and returns its path. The caller owns cleanup;
// Cleanup is safe to call unconditionally on every exit path, including a
// panic recovery, since it ignores a missing file.
func NewTemp(dir, prefix string) (string, error) {
	f, err := os.CreateTemp(dir, prefix+"-*.tmp.xlsx")
	if err != nil {
		return "", fmt.Errorf("txfile: create temp: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("txfile: close temp: %w", err)
	}
	return path, nil
}

// Cleanup removes path if it still exists. Intended to run via defer
// immediately after NewTemp, before and after a successful rename (the
// rename consumes the temp path, so a post-rename Cleanup is a no-op).
func Cleanup(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// CopyFile copies src to dst, overwriting dst, then fsyncs dst before
// closing it so the copy is durable before any subsequent rename.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("txfile: open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("txfile: open dest: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("txfile: copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("txfile: fsync dest: %w", err)
	}
	return out.Close()
}

// FsyncDir fsyncs a directory's entry table, needed on POSIX after a rename
// so the rename itself is durable across a crash. Best-effort on platforms
// where opening a directory for sync is not supported.
func FsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("txfile: open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("txfile: fsync dir: %w", err)
	}
	return nil
}

// ApplyInPlace runs the sequence: copy target into a fresh temp file in
// target's directory, invoke apply(tempPath) to mutate it, fsync, rename
// the temp file over target, then fsync target's parent directory. temp is
// always cleaned up, whether or not the rename happened.
func ApplyInPlace(target string, prefix string, apply func(tempPath string) error) error {
	dir := filepath.Dir(target)
	temp, err := NewTemp(dir, prefix)
	if err != nil {
		return err
	}
	defer Cleanup(temp)

	if err := CopyFile(target, temp); err != nil {
		return err
	}
	if err := apply(temp); err != nil {
		return err
	}
	tf, err := os.OpenFile(temp, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("txfile: open temp for fsync: %w", err)
	}
	if err := tf.Sync(); err != nil {
		tf.Close()
		return fmt.Errorf("txfile: fsync temp: %w", err)
	}
	if err := tf.Close(); err != nil {
		return fmt.Errorf("txfile: close temp: %w", err)
	}
	if err := os.Rename(temp, target); err != nil {
		return fmt.Errorf("txfile: rename into place: %w", err)
	}
	if err := FsyncDir(dir); err != nil {
		return err
	}
	return nil
}

// ApplyToOutput runs the same sequence as ApplyInPlace but against a
// distinct output path, guarding against clobbering an existing file
// (unless force) and against input==output via symlink resolution.
func ApplyToOutput(source, target string, force bool, apply func(tempPath string) error) error {
	if !force {
		if _, err := os.Stat(target); err == nil {
			return ErrOutputExists
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("txfile: stat target: %w", err)
		}
	}

	same, err := sameFile(source, target)
	if err != nil {
		return err
	}
	if same {
		return ErrSameFile
	}

	dir := filepath.Dir(target)
	temp, err := NewTemp(dir, "save")
	if err != nil {
		return err
	}
	defer Cleanup(temp)

	if err := CopyFile(source, temp); err != nil {
		return err
	}
	if apply != nil {
		if err := apply(temp); err != nil {
			return err
		}
	}
	if err := os.Rename(temp, target); err != nil {
		return fmt.Errorf("txfile: rename into place: %w", err)
	}
	return FsyncDir(dir)
}

// sameFile reports whether a and b resolve (after symlink evaluation) to
// the same path. A target that does not yet exist is never "the same file".
func sameFile(a, b string) (bool, error) {
	ra, errA := filepath.EvalSymlinks(a)
	if errA != nil {
		if os.IsNotExist(errA) {
			return false, nil
		}
		return false, fmt.Errorf("txfile: resolve %s: %w", a, errA)
	}
	rb, errB := filepath.EvalSymlinks(b)
	if errB != nil {
		if os.IsNotExist(errB) {
			return false, nil
		}
		return false, fmt.Errorf("txfile: resolve %s: %w", b, errB)
	}
	return ra == rb, nil
}
