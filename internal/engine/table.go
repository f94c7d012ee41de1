package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"xeondb/internal/codec"
	"xeondb/internal/config"
)

// ScanOrder selects ascending or descending primary-key iteration for Scan.
type ScanOrder int

const (
	ScanAscending ScanOrder = iota
	ScanDescending
)

// tableState is the immutable snapshot read operations traverse without
// taking the write lock: the active memtable plus every flushed SSTable,
// oldest first.
type tableState struct {
	active   *memtable
	sstables []*sstable
}

// Table is the per-table storage engine: one WAL, one active memtable
// and zero or more immutable SSTables, merged newest-wins on every read.
// Writes are serialized through a single exclusive lock so only one
// goroutine ever mutates a table at a time; reads load a lock-free
// atomic snapshot of the current state instead of taking that lock.
type Table struct {
	dir string

	writeMu sync.Mutex // serializes Put/Delete/Flush/Truncate/Drop
	w       *wal
	walSeq  int64
	sstSeq  int64

	pkTag codec.Tag

	walPolicy        config.FsyncPolicy
	walIntervalMs    int
	walDirtyBytes    int64
	memtableMaxBytes int64
	indexStride      int

	state atomic.Pointer[tableState]
}

// OpenTable opens (or creates) the table rooted at dir: it loads any
// existing SSTables, replays the WAL into a fresh memtable, and
// discards a torn WAL tail left by a prior crash.
func OpenTable(dir string, pkTag codec.Tag, cfg *config.Config) (*Table, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	t := &Table{
		dir:              dir,
		pkTag:            pkTag,
		walPolicy:        cfg.WALFsync,
		walIntervalMs:    cfg.WALFsyncIntervalMs,
		walDirtyBytes:    cfg.WALFsyncBytes,
		memtableMaxBytes: cfg.MemtableMaxBytes,
		indexStride:      cfg.SSTableIndexStride,
	}

	sstables, err := discoverSSTables(dir)
	if err != nil {
		return nil, fmt.Errorf("table %s: discover sstables: %w", dir, err)
	}
	for _, s := range sstables {
		if s.seq >= t.sstSeq {
			t.sstSeq = s.seq + 1
		}
	}

	walSeq, stale, err := discoverWALs(dir)
	if err != nil {
		return nil, fmt.Errorf("table %s: discover wal: %w", dir, err)
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("table %s: remove stale wal %s: %w", dir, path, err)
		}
	}
	if walSeq < 0 {
		walSeq = 0
	}

	w, err := openWAL(dir, walSeq, t.walPolicy, t.walIntervalMs, t.walDirtyBytes)
	if err != nil {
		return nil, fmt.Errorf("table %s: open wal: %w", dir, err)
	}
	t.w = w
	t.walSeq = walSeq

	active := newMemtable(t.memtableMaxBytes)
	if err := w.replay(func(rec codec.Record) error {
		switch rec.Kind {
		case codec.KindPut:
			active.put(rec.PK, rec.Cols)
		case codec.KindDelete:
			active.delete(rec.PK)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("table %s: replay wal: %w", dir, err)
	}

	t.state.Store(&tableState{active: active, sstables: sstables})
	return t, nil
}

// discoverWALs finds the highest-numbered wal-*.log segment in dir
// (the live one to reopen) and any lower-numbered leftovers, which can
// only be stale segments an earlier flush failed to remove.
func discoverWALs(dir string) (latest int64, stale []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return -1, nil, nil
		}
		return -1, nil, err
	}

	latest = -1
	type found struct {
		seq  int64
		path string
	}
	var all []found
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var seq int64
		if _, serr := fmt.Sscanf(e.Name(), "wal-%06d.log", &seq); serr != nil {
			continue
		}
		all = append(all, found{seq, filepath.Join(dir, e.Name())})
		if seq > latest {
			latest = seq
		}
	}
	for _, a := range all {
		if a.seq != latest {
			stale = append(stale, a.path)
		}
	}
	return latest, stale, nil
}

// PKTag reports the primary key column type this table was opened with.
func (t *Table) PKTag() codec.Tag { return t.pkTag }

// Put upserts the row for pk.
func (t *Table) Put(pk codec.Value, cols []codec.Column) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.w.append(codec.Record{Kind: codec.KindPut, PK: pk, Cols: cols}); err != nil {
		return err
	}

	st := t.state.Load()
	st.active.put(pk, cols)

	if st.active.isFull() {
		return t.flushLocked()
	}
	return nil
}

// Delete stores a tombstone for pk.
func (t *Table) Delete(pk codec.Value) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.w.append(codec.Record{Kind: codec.KindDelete, PK: pk}); err != nil {
		return err
	}

	st := t.state.Load()
	st.active.delete(pk)

	if st.active.isFull() {
		return t.flushLocked()
	}
	return nil
}

// Get returns the live row for pk, or found=false if it is absent or
// shadowed by a tombstone. Lock-free: it reads one atomic snapshot of
// the current state, newest source first.
func (t *Table) Get(pk codec.Value) (cols []codec.Column, found bool, err error) {
	st := t.state.Load()

	if cols, tomb, ok := st.active.get(pk); ok {
		if tomb {
			return nil, false, nil
		}
		return cols, true, nil
	}

	for i := len(st.sstables) - 1; i >= 0; i-- {
		cols, tomb, ok, err := st.sstables[i].get(pk)
		if err != nil {
			return nil, false, err
		}
		if ok {
			if tomb {
				return nil, false, nil
			}
			return cols, true, nil
		}
	}
	return nil, false, nil
}

// Row is one merged, live result row returned by Scan.
type Row struct {
	PK   codec.Value
	Cols []codec.Column
}

// Scan merges the memtable and every SSTable k-way in the requested
// direction: sources are ranked oldest SSTable first with the memtable
// newest, the newest version of each primary key wins, and tombstones
// suppress the key. limit 0 yields no rows; negative means unbounded.
func (t *Table) Scan(order ScanOrder, limit int) ([]Row, error) {
	st := t.state.Load()

	sources := make([]*scanCursor, 0, len(st.sstables)+1)
	for _, s := range st.sstables {
		recs, err := s.scanAll()
		if err != nil {
			return nil, err
		}
		rows := make([]mergeRow, len(recs))
		for i, rec := range recs {
			rows[i] = mergeRow{
				key:       codec.EncodeKey(rec.PK),
				pk:        rec.PK,
				cols:      rec.Cols,
				tombstone: rec.Kind == codec.KindDelete,
			}
		}
		sources = append(sources, newScanCursor(rows, order))
	}

	memRows := st.active.sortedRows()
	rows := make([]mergeRow, len(memRows))
	for i, r := range memRows {
		rows[i] = mergeRow{key: codec.EncodeKey(r.pk), pk: r.pk, cols: r.cols, tombstone: r.tombstone}
	}
	sources = append(sources, newScanCursor(rows, order))

	return mergeScan(sources, order, limit), nil
}

// Flush forces the active memtable to an immutable SSTable, the same
// operation the FLUSH statement triggers.
func (t *Table) Flush() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.flushLocked()
}

func (t *Table) flushLocked() error {
	st := t.state.Load()
	rows := st.active.sortedRows()
	if len(rows) == 0 {
		return nil
	}

	seq := t.sstSeq
	t.sstSeq++
	sst, err := writeSSTable(t.dir, seq, rows, t.indexStride)
	if err != nil {
		return fmt.Errorf("table %s: flush: %w", t.dir, err)
	}

	oldWAL := t.w
	t.walSeq++
	newWAL, err := openWAL(t.dir, t.walSeq, t.walPolicy, t.walIntervalMs, t.walDirtyBytes)
	if err != nil {
		return fmt.Errorf("table %s: flush: open new wal: %w", t.dir, err)
	}

	newSSTables := append(append([]*sstable{}, st.sstables...), sst)
	t.state.Store(&tableState{active: newMemtable(t.memtableMaxBytes), sstables: newSSTables})
	t.w = newWAL

	if err := oldWAL.close(); err != nil {
		return fmt.Errorf("table %s: flush: close old wal: %w", t.dir, err)
	}
	return oldWAL.remove()
}

// Truncate discards every row: all SSTables and the current WAL are
// removed and a fresh, empty WAL is opened in their place.
func (t *Table) Truncate() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	st := t.state.Load()
	for _, s := range st.sstables {
		if err := s.remove(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("table %s: truncate: %w", t.dir, err)
		}
	}

	if err := t.w.close(); err != nil {
		return err
	}
	if err := t.w.remove(); err != nil && !os.IsNotExist(err) {
		return err
	}

	t.walSeq++
	newWAL, err := openWAL(t.dir, t.walSeq, t.walPolicy, t.walIntervalMs, t.walDirtyBytes)
	if err != nil {
		return err
	}
	t.w = newWAL
	t.state.Store(&tableState{active: newMemtable(t.memtableMaxBytes), sstables: nil})
	return nil
}

// Drop closes the table and removes its entire on-disk directory.
func (t *Table) Drop() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.w.close(); err != nil {
		return err
	}
	return os.RemoveAll(t.dir)
}

// Close releases the WAL's file handle and background fsync scheduler
// without altering any on-disk state.
func (t *Table) Close() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.w.close()
}
