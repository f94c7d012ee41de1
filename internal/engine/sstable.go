package engine

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"xeondb/internal/codec"
)

// sstable is the immutable, sorted on-disk segment:
//
//	header  := u32(magic) u32(version)
//	body    := { record }   (ascending by primary key)
//	index   := { varuint(keyLen) key u64(offset) }   (every indexStride records)
//	footer  := u64(indexOffset) u64(indexCount) u64(recordCount) u32(magic)
type sstable struct {
	path        string
	seq         int64
	index       []sstIndexEntry // sorted ascending by key
	recordCount uint64
	dataEnd     int64 // offset where the record body ends and the index begins
}

type sstIndexEntry struct {
	key    string
	offset int64
}

const (
	sstMagic         = 0x5845444e // "XEDN"
	sstVersion       = 1
	sstHeaderSize    = 8
	sstFooterSize    = 28
	sstDefaultStride = 10
)

func sstablePath(dir string, seq int64) string {
	return filepath.Join(dir, fmt.Sprintf("sst-%06d.dat", seq))
}

// writeSSTable writes rows (already sorted ascending by codec.EncodeKey)
// to a new immutable file, fsyncing and renaming into place only once
// the file is complete. The rename is the sole commit point; a partial
// file is treated as absent.
func writeSSTable(dir string, seq int64, rows []*memRow, indexStride int) (*sstable, error) {
	if indexStride <= 0 {
		indexStride = sstDefaultStride
	}
	final := sstablePath(dir, seq)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriter(f)
	var header [sstHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], sstMagic)
	binary.LittleEndian.PutUint32(header[4:8], sstVersion)
	if _, err := w.Write(header[:]); err != nil {
		f.Close()
		return nil, err
	}

	sst := &sstable{path: final, seq: seq}
	offset := int64(sstHeaderSize)

	for i, row := range rows {
		if i%indexStride == 0 {
			sst.index = append(sst.index, sstIndexEntry{key: codec.EncodeKey(row.pk), offset: offset})
		}

		rec := codec.Record{PK: row.pk, Cols: row.cols}
		if row.tombstone {
			rec.Kind = codec.KindDelete
		} else {
			rec.Kind = codec.KindPut
		}

		buf := recordBufferPool.get()
		if err := codec.EncodeRecord(buf, rec); err != nil {
			recordBufferPool.put(buf)
			f.Close()
			return nil, err
		}
		n, err := w.Write(buf.Bytes())
		recordBufferPool.put(buf)
		if err != nil {
			f.Close()
			return nil, err
		}
		offset += int64(n)
		sst.recordCount++
	}

	indexOffset := offset
	sst.dataEnd = indexOffset
	for _, ie := range sst.index {
		if err := writeIndexEntry(w, ie); err != nil {
			f.Close()
			return nil, err
		}
	}

	var footer [sstFooterSize]byte
	binary.LittleEndian.PutUint64(footer[0:8], uint64(indexOffset))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(sst.index)))
	binary.LittleEndian.PutUint64(footer[16:24], sst.recordCount)
	binary.LittleEndian.PutUint32(footer[24:28], sstMagic)
	if _, err := w.Write(footer[:]); err != nil {
		f.Close()
		return nil, err
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, final); err != nil {
		return nil, err
	}

	return sst, nil
}

func writeIndexEntry(w *bufio.Writer, ie sstIndexEntry) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(ie.key)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	if _, err := w.WriteString(ie.key); err != nil {
		return err
	}
	var offBuf [8]byte
	binary.LittleEndian.PutUint64(offBuf[:], uint64(ie.offset))
	_, err := w.Write(offBuf[:])
	return err
}

// openSSTable loads an existing file's footer and sparse index without
// reading its record body.
func openSSTable(path string, seq int64) (*sstable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() < sstHeaderSize+sstFooterSize {
		return nil, fmt.Errorf("sstable: %s too small to be valid", path)
	}

	var footer [sstFooterSize]byte
	if _, err := f.ReadAt(footer[:], stat.Size()-sstFooterSize); err != nil {
		return nil, err
	}
	indexOffset := int64(binary.LittleEndian.Uint64(footer[0:8]))
	indexCount := binary.LittleEndian.Uint64(footer[8:16])
	recordCount := binary.LittleEndian.Uint64(footer[16:24])
	magic := binary.LittleEndian.Uint32(footer[24:28])
	if magic != sstMagic {
		return nil, fmt.Errorf("sstable: %s has bad footer magic", path)
	}

	if _, err := f.Seek(indexOffset, io.SeekStart); err != nil {
		return nil, err
	}
	r := bufio.NewReader(f)
	index := make([]sstIndexEntry, 0, indexCount)
	for i := uint64(0); i < indexCount; i++ {
		keyLen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		keyBytes := make([]byte, keyLen)
		if _, err := io.ReadFull(r, keyBytes); err != nil {
			return nil, err
		}
		var offBuf [8]byte
		if _, err := io.ReadFull(r, offBuf[:]); err != nil {
			return nil, err
		}
		index = append(index, sstIndexEntry{key: string(keyBytes), offset: int64(binary.LittleEndian.Uint64(offBuf[:]))})
	}

	return &sstable{path: path, seq: seq, index: index, recordCount: recordCount, dataEnd: indexOffset}, nil
}

// get performs a binary-search-then-scan-forward lookup.
func (s *sstable) get(pk codec.Value) (cols []codec.Column, tombstone bool, found bool, err error) {
	target := codec.EncodeKey(pk)
	if len(s.index) == 0 {
		return nil, false, false, nil
	}

	i := sort.Search(len(s.index), func(i int) bool { return s.index[i].key > target })
	if i == 0 {
		// target is before every indexed key; nothing to find.
		return nil, false, false, nil
	}
	startOffset := s.index[i-1].offset

	f, err := os.Open(s.path)
	if err != nil {
		return nil, false, false, err
	}
	defer f.Close()
	if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
		return nil, false, false, err
	}
	// Bound the scan to the record body so it never runs into the index.
	r := bufio.NewReader(io.LimitReader(f, s.dataEnd-startOffset))

	for {
		rec, err := codec.DecodeRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, false, err
		}
		key := codec.EncodeKey(rec.PK)
		if key == target {
			return rec.Cols, rec.Kind == codec.KindDelete, true, nil
		}
		if key > target {
			break
		}
	}
	return nil, false, false, nil
}

// scanAll reads every record in ascending on-disk order. Tombstones are
// included; the caller (the per-table merge) is responsible for
// suppressing them against newer sources.
func (s *sstable) scanAll() ([]codec.Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(sstHeaderSize, io.SeekStart); err != nil {
		return nil, err
	}
	r := bufio.NewReader(io.LimitReader(f, s.dataEnd-sstHeaderSize))

	out := make([]codec.Record, 0, s.recordCount)
	for {
		rec, err := codec.DecodeRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *sstable) remove() error {
	return os.Remove(s.path)
}

// discoverSSTables scans dir for sst-*.dat files (ignoring leftover
// .tmp files from an interrupted write), returning them sorted ascending
// by sequence number (oldest first).
func discoverSSTables(dir string) ([]*sstable, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []*sstable
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "sst-") || !strings.HasSuffix(name, ".dat") {
			continue // not an sst file, or a stray .tmp left by an interrupted flush
		}
		var seq int64
		if _, err := fmt.Sscanf(name, "sst-%06d.dat", &seq); err != nil {
			continue
		}
		sst, err := openSSTable(filepath.Join(dir, name), seq)
		if err != nil {
			return nil, fmt.Errorf("sstable: open %s: %w", name, err)
		}
		out = append(out, sst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}
