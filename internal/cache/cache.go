// Package cache implements the workbook cache and identity layer: a
// bounded-LRU, content/path-addressed handle cache over excelize.File,
// with per-entry locking and single-flight open coalescing so at most one
// parse is ever in flight per cache key.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound indicates an unknown or evicted cache key.
var ErrNotFound = errors.New("cache: entry not found")

// ErrHandleNotFound is an alias of ErrNotFound kept for callers migrating
// from the handle-oriented naming of the superseded TTL cache.
var ErrHandleNotFound = ErrNotFound

// errBorrowed names the condition of an eviction candidate that is
// currently held by a reader or writer. No function returns it: the
// eviction loop skips borrowed entries and falls through to the next LRU
// candidate instead.
var errBorrowed = errors.New("cache: entry is borrowed")

// Metrics holds the derived, immutable-after-open view of a workbook's
// shape, computed once on a cache miss.
type Metrics struct {
	SheetCount   int
	SheetBounds  map[string]string // sheet name -> A1 bounds of used range
	FormulaCount int
}

// Entry is the cached, lockable view of one opened workbook or fork working
// file. Entry.File must only be read or mutated while holding mu via
// Manager.WithRead/WithWrite.
type Entry struct {
	ID          string
	Path        string
	Fingerprint string
	File        *excelize.File
	Metrics     Metrics

	mu sync.RWMutex
}

// Gate abstracts the runtime's open-workbook capacity limiter.
type Gate interface {
	AcquireWorkbook(ctx context.Context) error
	ReleaseWorkbook()
}

// Opener loads a workbook from a filesystem path. Swappable in tests.
type Opener func(path string) (*excelize.File, error)

func defaultOpener(path string) (*excelize.File, error) { return excelize.OpenFile(path) }

// PathValidator abstracts filesystem path validation (allow-list
// containment, extension checks). Implementations return a canonical
// absolute path when the request is permitted.
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

// Manager is the bounded-LRU workbook cache. The zero value is not usable;
// construct with NewManager.
type Manager struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*Entry
	elems    map[string]*list.Element // key -> LRU list element (most-recent at Front)
	order    *list.List               // holds string keys
	borrowed map[string]int           // key -> active WithRead/WithWrite count

	gate      Gate
	sf        singleflight.Group
	opener    Opener
	validator PathValidator
}

// NewManager constructs a Manager with the given LRU capacity (entry
// count, not bytes). capacity <= 0 disables eviction (unbounded).
func NewManager(capacity int, gate Gate) *Manager {
	return &Manager{
		capacity: capacity,
		entries:  make(map[string]*Entry),
		elems:    make(map[string]*list.Element),
		order:    list.New(),
		borrowed: make(map[string]int),
		gate:     gate,
		opener:   defaultOpener,
	}
}

// SetValidator installs a path validator; when set, Open and
// GetOrOpenByPath route the requested path through it before any file
// access, and the validator's canonical path becomes the cache key.
func (m *Manager) SetValidator(v PathValidator) { m.validator = v }

// SetOpener overrides the file-opening function, for tests.
func (m *Manager) SetOpener(o Opener) { m.opener = o }

// WorkbookID derives a stable identifier from a workbook's absolute,
// cleaned filesystem path. Two opens of the same path always yield the
// same id; the id does not change across content edits to that path (a
// fork's working.xlsx keeps the same id as long as it lives at the same
// path), matching spec §3's "content- or path-derived" identity contract.
func WorkbookID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cache: resolve path: %w", err)
	}
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return hex.EncodeToString(sum[:]), nil
}

// ShortID returns the first n characters of a full id, for listings.
func ShortID(id string, n int) string {
	if n <= 0 || n >= len(id) {
		return id
	}
	return id[:n]
}

// fingerprint derives a cheap last-modified signature from file size and
// mtime, used to detect when a cache entry has gone stale relative to disk.
func fingerprint(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("cache: stat: %w", err)
	}
	return fmt.Sprintf("%d-%d", fi.Size(), fi.ModTime().UnixNano()), nil
}

// Open resolves path to a WorkbookID, returning the cached entry's id on a
// hit (refreshing its LRU position) or parsing and inserting on a miss.
// Opens are serialised per id via singleflight: concurrent callers for the
// same path share one parse.
func (m *Manager) Open(ctx context.Context, path string) (string, error) {
	if m.validator != nil {
		canonical, err := m.validator.ValidateOpenPath(path)
		if err != nil {
			return "", err
		}
		path = canonical
	}
	id, err := WorkbookID(path)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if _, ok := m.entries[id]; ok {
		m.touchLocked(id)
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	_, err, _ = m.sf.Do(id, func() (interface{}, error) {
		m.mu.Lock()
		if _, ok := m.entries[id]; ok {
			m.touchLocked(id)
			m.mu.Unlock()
			return nil, nil
		}
		m.mu.Unlock()

		if m.gate != nil {
			if err := m.gate.AcquireWorkbook(ctx); err != nil {
				return nil, err
			}
		}

		f, err := m.opener(path)
		if err != nil {
			if m.gate != nil {
				m.gate.ReleaseWorkbook()
			}
			return nil, fmt.Errorf("cache: open %s: %w", path, err)
		}
		fp, err := fingerprint(path)
		if err != nil {
			_ = f.Close()
			if m.gate != nil {
				m.gate.ReleaseWorkbook()
			}
			return nil, err
		}

		entry := &Entry{ID: id, Path: path, Fingerprint: fp, File: f, Metrics: deriveMetrics(f)}

		m.mu.Lock()
		m.insertLocked(entry)
		m.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetOrOpenByPath canonicalises path to an absolute, cleaned form and
// returns its cache id, opening on a miss. Read-only discovery tools use
// this as their single entry point so that cursors and error messages can
// always be reported against the canonical path rather than whatever
// relative form the caller supplied.
func (m *Manager) GetOrOpenByPath(ctx context.Context, path string) (id string, canonical string, err error) {
	if m.validator != nil {
		canonical, err = m.validator.ValidateOpenPath(path)
		if err != nil {
			return "", "", err
		}
	} else {
		canonical, err = filepath.Abs(path)
		if err != nil {
			return "", "", fmt.Errorf("cache: resolve path: %w", err)
		}
		canonical = filepath.Clean(canonical)
	}
	id, err = m.Open(ctx, canonical)
	if err != nil {
		return "", "", err
	}
	return id, canonical, nil
}

// Adopt registers an already-open excelize.File under a caller-supplied id
// (e.g. a fork's working-file path hashed the same way as Open would), for
// callers that construct the file themselves (fork creation, restore).
func (m *Manager) Adopt(id, path string, f *excelize.File) error {
	if f == nil {
		return errors.New("cache: nil file")
	}
	fp, _ := fingerprint(path) // best-effort; absent file yields empty fingerprint
	entry := &Entry{ID: id, Path: path, Fingerprint: fp, File: f, Metrics: deriveMetrics(f)}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.entries[id]; ok {
		_ = old.File.Close()
		if m.gate != nil {
			m.gate.ReleaseWorkbook()
		}
	}
	m.insertLocked(entry)
	return nil
}

func (m *Manager) insertLocked(entry *Entry) {
	m.entries[entry.ID] = entry
	el := m.order.PushFront(entry.ID)
	m.elems[entry.ID] = el
	m.evictOverflowLocked()
}

func (m *Manager) touchLocked(id string) {
	if el, ok := m.elems[id]; ok {
		m.order.MoveToFront(el)
	}
}

// evictOverflowLocked evicts least-recently-used unborrowed entries until
// the cache is at or under capacity. Must be called with m.mu held.
func (m *Manager) evictOverflowLocked() {
	if m.capacity <= 0 {
		return
	}
	for len(m.entries) > m.capacity {
		victim := m.pickEvictionCandidateLocked()
		if victim == "" {
			return // everything remaining is borrowed; cannot shrink further
		}
		m.closeAndRemoveLocked(victim)
	}
}

func (m *Manager) pickEvictionCandidateLocked() string {
	for el := m.order.Back(); el != nil; el = el.Prev() {
		key := el.Value.(string)
		if m.borrowed[key] == 0 {
			return key
		}
	}
	return ""
}

func (m *Manager) closeAndRemoveLocked(id string) {
	entry, ok := m.entries[id]
	if !ok {
		return
	}
	entry.mu.Lock()
	_ = entry.File.Close()
	entry.mu.Unlock()

	delete(m.entries, id)
	if el, ok := m.elems[id]; ok {
		m.order.Remove(el)
		delete(m.elems, id)
	}
	delete(m.borrowed, id)
	if m.gate != nil {
		m.gate.ReleaseWorkbook()
	}
}

// Get returns the entry for id, refreshing its LRU position.
func (m *Manager) Get(id string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	m.touchLocked(id)
	return entry, true
}

// WithRead borrows the entry under a shared lock for the duration of fn.
// The entry is exempt from eviction while borrowed. fn additionally
// receives the file's current on-disk modification time (Unix seconds,
// re-read from the path on each call, 0 if the stat fails), which read
// tools use to bind pagination cursors to a specific file version.
func (m *Manager) WithRead(id string, fn func(f *excelize.File, mtimeUnix int64) error) error {
	entry, ok := m.borrow(id)
	if !ok {
		return ErrNotFound
	}
	defer m.unborrow(id)
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	var mtime int64
	if fi, err := os.Stat(entry.Path); err == nil {
		mtime = fi.ModTime().Unix()
	}
	return fn(entry.File, mtime)
}

// WithWrite borrows the entry under an exclusive lock for the duration of
// fn. Per spec §4.1, batch appliers mutate files directly rather than
// through the cache; WithWrite exists for in-memory-only callers (tests,
// read-modify-in-place tools that do not go through the fork's temp-file
// pipeline).
func (m *Manager) WithWrite(id string, fn func(*excelize.File) error) error {
	entry, ok := m.borrow(id)
	if !ok {
		return ErrNotFound
	}
	defer m.unborrow(id)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.File)
}

func (m *Manager) borrow(id string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	m.touchLocked(id)
	m.borrowed[id]++
	return entry, true
}

func (m *Manager) unborrow(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.borrowed[id] > 0 {
		m.borrowed[id]--
	}
	if m.borrowed[id] == 0 {
		delete(m.borrowed, id)
	}
}

// Invalidate closes and drops the cache entry for id. Any mutation path
// that writes to a fork's work_path must call this before reporting success
// to callers (apply batches, restore_checkpoint, save_fork), so the next
// read re-parses from disk.
func (m *Manager) Invalidate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeAndRemoveLocked(id)
}

// EvictByPath invalidates whatever entry is currently cached for path,
// if any.
func (m *Manager) EvictByPath(path string) error {
	id, err := WorkbookID(path)
	if err != nil {
		return err
	}
	m.Invalidate(id)
	return nil
}

// Count returns the number of currently cached entries.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close closes every cached entry, ignoring borrow state (intended for
// server shutdown only).
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.entries {
		m.closeAndRemoveLocked(id)
	}
	return nil
}

func deriveMetrics(f *excelize.File) Metrics {
	sheets := f.GetSheetList()
	bounds := make(map[string]string, len(sheets))
	formulaCount := 0
	for _, sheet := range sheets {
		if dim, err := f.GetSheetDimension(sheet); err == nil && dim != "" {
			bounds[sheet] = dim
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for r := range rows {
			for c := range rows[r] {
				addr, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					continue
				}
				if formula, _ := f.GetCellFormula(sheet, addr); formula != "" {
					formulaCount++
				}
			}
		}
	}
	return Metrics{SheetCount: len(sheets), SheetBounds: bounds, FormulaCount: formulaCount}
}
