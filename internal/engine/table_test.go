package engine

import (
	"os"
	"testing"

	"xeondb/internal/codec"
	"xeondb/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		WALFsync:           config.FsyncAlways,
		WALFsyncIntervalMs: 1000,
		WALFsyncBytes:      1 << 20,
		MemtableMaxBytes:   1 << 20,
		SSTableIndexStride: 4,
	}
}

func col(name string, v codec.Value) codec.Column {
	return codec.Column{Name: name, Val: v}
}

func TestTablePutGetDelete(t *testing.T) {
	dir := t.TempDir()
	tbl, err := OpenTable(dir, codec.TagInt64, testConfig())
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	defer tbl.Close()

	pk := codec.Int64(1)
	cols := []codec.Column{col("name", codec.Varchar("alice"))}
	if err := tbl.Put(pk, cols); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, found, err := tbl.Get(pk)
	if err != nil || !found {
		t.Fatalf("Get after Put: found=%v err=%v", found, err)
	}
	if got[0].Val.Str != "alice" {
		t.Fatalf("Get returned %v, want alice", got[0].Val.Str)
	}

	if err := tbl.Delete(pk); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, found, err = tbl.Get(pk)
	if err != nil {
		t.Fatalf("Get after Delete: %v", err)
	}
	if found {
		t.Fatalf("Get after Delete: found a tombstoned row")
	}
}

func TestTableRecoversFromWAL(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()

	tbl, err := OpenTable(dir, codec.TagInt64, cfg)
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	for i := int64(0); i < 5; i++ {
		if err := tbl.Put(codec.Int64(i), []codec.Column{col("n", codec.Int64(i*10))}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if err := tbl.Delete(codec.Int64(2)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenTable(dir, codec.TagInt64, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	rows, err := reopened.Scan(ScanAscending, -1)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("Scan after recovery: got %d rows, want 4", len(rows))
	}
	for _, r := range rows {
		if r.PK.I64 == 2 {
			t.Fatalf("Scan after recovery: tombstoned row 2 resurfaced")
		}
	}
}

func TestTableFlushAndScanMergesSSTableAndMemtable(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	tbl, err := OpenTable(dir, codec.TagInt64, cfg)
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	defer tbl.Close()

	for i := int64(0); i < 10; i++ {
		if err := tbl.Put(codec.Int64(i), []codec.Column{col("n", codec.Int64(i))}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if err := tbl.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Overwrite one flushed row and add a new one in the active memtable.
	if err := tbl.Put(codec.Int64(3), []codec.Column{col("n", codec.Int64(999))}); err != nil {
		t.Fatalf("overwrite Put: %v", err)
	}
	if err := tbl.Put(codec.Int64(10), []codec.Column{col("n", codec.Int64(10))}); err != nil {
		t.Fatalf("new Put: %v", err)
	}
	if err := tbl.Delete(codec.Int64(5)); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	rows, err := tbl.Scan(ScanAscending, -1)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("Scan: got %d rows, want 10 (11 distinct keys - 1 delete)", len(rows))
	}
	for _, r := range rows {
		switch r.PK.I64 {
		case 3:
			if r.Cols[0].Val.I64 != 999 {
				t.Fatalf("row 3: memtable overwrite did not shadow sstable value, got %d", r.Cols[0].Val.I64)
			}
		case 5:
			t.Fatalf("row 5: tombstoned row resurfaced in merge")
		}
	}
}

func TestTableScanDescendingAndLimit(t *testing.T) {
	dir := t.TempDir()
	tbl, err := OpenTable(dir, codec.TagInt64, testConfig())
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	defer tbl.Close()

	for i := int64(0); i < 5; i++ {
		if err := tbl.Put(codec.Int64(i), nil); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	rows, err := tbl.Scan(ScanDescending, 2)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rows) != 2 || rows[0].PK.I64 != 4 || rows[1].PK.I64 != 3 {
		t.Fatalf("Scan descending limit 2: got %+v", rows)
	}
}

func TestTableTruncateRemovesAllRows(t *testing.T) {
	dir := t.TempDir()
	tbl, err := OpenTable(dir, codec.TagInt64, testConfig())
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	defer tbl.Close()

	for i := int64(0); i < 3; i++ {
		if err := tbl.Put(codec.Int64(i), nil); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if err := tbl.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := tbl.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	rows, err := tbl.Scan(ScanAscending, -1)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("Scan after Truncate: got %d rows, want 0", len(rows))
	}
}

func TestTableDropRemovesDirectory(t *testing.T) {
	dir := t.TempDir()
	tbl, err := OpenTable(dir, codec.TagInt64, testConfig())
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	if err := tbl.Put(codec.Int64(1), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tbl.Drop(); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("Drop: directory %s still present (stat err=%v)", dir, err)
	}
}
