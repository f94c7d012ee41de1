package engine

import (
	"container/heap"

	"xeondb/internal/codec"
)

// mergeRow is one entry of a scan source, with its order-preserving key
// precomputed so the merge compares plain strings.
type mergeRow struct {
	key       string
	pk        codec.Value
	cols      []codec.Column
	tombstone bool
}

// scanCursor walks one source's rows (sorted ascending by key) in the
// requested direction.
type scanCursor struct {
	rows []mergeRow
	pos  int
	step int
}

func newScanCursor(rows []mergeRow, order ScanOrder) *scanCursor {
	c := &scanCursor{rows: rows, pos: 0, step: 1}
	if order == ScanDescending {
		c.pos = len(rows) - 1
		c.step = -1
	}
	return c
}

func (c *scanCursor) valid() bool       { return c.pos >= 0 && c.pos < len(c.rows) }
func (c *scanCursor) current() mergeRow { return c.rows[c.pos] }
func (c *scanCursor) advance()          { c.pos += c.step }

// heapEntry is one source's head in the merge heap. rank is the source's
// freshness: higher rank means newer, and on equal keys the newest wins.
type heapEntry struct {
	key  string
	rank int
}

type scanHeap struct {
	entries []heapEntry
	desc    bool
}

func (h *scanHeap) Len() int { return len(h.entries) }

func (h *scanHeap) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if a.key != b.key {
		if h.desc {
			return a.key > b.key
		}
		return a.key < b.key
	}
	return a.rank > b.rank
}

func (h *scanHeap) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }

func (h *scanHeap) Push(x any) { h.entries = append(h.entries, x.(heapEntry)) }

func (h *scanHeap) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	h.entries = old[:n-1]
	return e
}

// mergeScan performs the k-way merge across sources (index = freshness
// rank, higher = newer): for each distinct key the newest source wins,
// tombstones suppress the key entirely, and the walk stops once limit
// live rows have been produced. limit 0 yields nothing; negative means
// unbounded.
func mergeScan(sources []*scanCursor, order ScanOrder, limit int) []Row {
	if limit == 0 {
		return nil
	}
	h := &scanHeap{desc: order == ScanDescending}
	for rank, c := range sources {
		if c.valid() {
			h.entries = append(h.entries, heapEntry{key: c.current().key, rank: rank})
		}
	}
	heap.Init(h)

	var out []Row
	for h.Len() > 0 {
		top := heap.Pop(h).(heapEntry)
		winner := sources[top.rank].current()
		sources[top.rank].advance()
		if sources[top.rank].valid() {
			heap.Push(h, heapEntry{key: sources[top.rank].current().key, rank: top.rank})
		}

		// Drain older versions of the same key.
		for h.Len() > 0 && h.entries[0].key == top.key {
			e := heap.Pop(h).(heapEntry)
			sources[e.rank].advance()
			if sources[e.rank].valid() {
				heap.Push(h, heapEntry{key: sources[e.rank].current().key, rank: e.rank})
			}
		}

		if winner.tombstone {
			continue
		}
		out = append(out, Row{PK: winner.pk, Cols: winner.cols})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
