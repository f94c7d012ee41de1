package engine

import (
	"sort"
	"sync"

	"xeondb/internal/codec"
)

// memRow is one memtable slot: either a live row (tombstone == false, Cols
// populated) or a delete marker that shadows anything older for the same
// primary key.
type memRow struct {
	pk        codec.Value
	cols      []codec.Column
	tombstone bool
	size      int64
}

// memtable is the ordered, in-memory map of the active generation. Rows
// are addressed by the order-preserving byte encoding of their primary
// key (codec.EncodeKey) so ascending/descending scans are a sort over
// plain Go strings rather than a type switch per comparison.
type memtable struct {
	mu      sync.RWMutex
	rows    map[string]*memRow
	size    int64
	maxSize int64
}

func newMemtable(maxSize int64) *memtable {
	return &memtable{
		rows:    make(map[string]*memRow),
		maxSize: maxSize,
	}
}

func rowSize(pk codec.Value, cols []codec.Column) int64 {
	n := int64(len(codec.EncodeKey(pk)))
	for _, c := range cols {
		n += int64(len(c.Name))
		switch c.Val.Tag {
		case codec.TagVarchar:
			n += int64(len(c.Val.Str))
		case codec.TagBinary:
			n += int64(len(c.Val.Bin))
		default:
			n += 8
		}
	}
	return n
}

// put upserts a live row, overwriting any prior value or tombstone.
func (m *memtable) put(pk codec.Value, cols []codec.Column) {
	key := codec.EncodeKey(pk)
	sz := rowSize(pk, cols)

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.rows[key]; ok {
		m.size -= old.size
	}
	m.rows[key] = &memRow{pk: pk, cols: cols, size: sz}
	m.size += sz
}

// delete stores a tombstone for pk, overwriting any prior value.
func (m *memtable) delete(pk codec.Value) {
	key := codec.EncodeKey(pk)
	sz := int64(len(key))

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.rows[key]; ok {
		m.size -= old.size
	}
	m.rows[key] = &memRow{pk: pk, tombstone: true, size: sz}
	m.size += sz
}

// get reports the row for pk: (cols, tombstone=false, found=true) for a
// live row, (nil, tombstone=true, found=true) for a delete marker, or
// found=false if the memtable has no entry at all for pk.
func (m *memtable) get(pk codec.Value) (cols []codec.Column, tombstone bool, found bool) {
	key := codec.EncodeKey(pk)
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[key]
	if !ok {
		return nil, false, false
	}
	return row.cols, row.tombstone, true
}

func (m *memtable) sizeBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *memtable) isFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size >= m.maxSize
}

// sortedRows returns every row (including tombstones) ordered ascending
// by primary key, for flush-to-SSTable and for the merge scan.
func (m *memtable) sortedRows() []*memRow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*memRow, len(keys))
	for i, k := range keys {
		out[i] = m.rows[k]
	}
	return out
}
