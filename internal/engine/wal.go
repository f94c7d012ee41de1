package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"xeondb/internal/codec"
	"xeondb/internal/config"
)

// wal is the append-only, per-table write-ahead log. append() blocks
// until durable per the configured fsync policy; replay() streams
// records back in append order.
type wal struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
	fsync  *fsyncScheduler
}

func walPath(dir string, seq int64) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%06d.log", seq))
}

// openWAL creates or reopens the WAL segment at seq inside dir.
func openWAL(dir string, seq int64, policy config.FsyncPolicy, intervalMs int, dirtyBytesLimit int64) (*wal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := walPath(dir, seq)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	w := &wal{
		file:   f,
		writer: bufio.NewWriter(f),
		path:   path,
	}
	w.fsync = newFsyncScheduler(policy, time.Duration(intervalMs)*time.Millisecond, dirtyBytesLimit, w.syncNow)
	return w, nil
}

// append writes one record and blocks until it is durable per policy.
func (w *wal) append(rec codec.Record) error {
	w.mu.Lock()
	buf := recordBufferPool.get()
	defer recordBufferPool.put(buf)

	if err := codec.EncodeRecord(buf, rec); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("wal: encode: %w", err)
	}
	n := buf.Len()
	if _, err := w.writer.Write(buf.Bytes()); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("wal: write: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("wal: flush: %w", err)
	}
	w.mu.Unlock()

	return w.fsync.onAppend(int64(n))
}

// syncNow fsyncs the underlying file. Safe to call concurrently with
// append; os.File.Sync is itself safe for concurrent use.
func (w *wal) syncNow() error {
	return w.file.Sync()
}

// replay streams every surviving record from the start of the file,
// invoking visit for each. A torn tail record (a partial length prefix,
// or a declared length longer than the remaining bytes) stops replay
// and truncates the file to the last intact record.
func (w *wal) replay(visit func(codec.Record) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(w.file)

	var goodOffset int64
	for {
		rec, err := codec.DecodeRecord(r)
		if err == io.EOF {
			break
		}
		if err == codec.ErrTornRecord {
			break
		}
		if err != nil {
			return err
		}
		if err := visit(rec); err != nil {
			return err
		}
		goodOffset = w.consumedOffset(r)
	}

	if err := w.file.Truncate(goodOffset); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	w.writer = bufio.NewWriter(w.file)
	return nil
}

// consumedOffset reports how far into the file has been consumed through
// the buffered reader r, by asking the OS for the current fd offset and
// backing out whatever is still buffered but unconsumed.
func (w *wal) consumedOffset(r *bufio.Reader) int64 {
	cur, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return cur - int64(r.Buffered())
}

// rotateTo closes the current segment (flushed and fsynced) and opens a
// new, empty one at the next sequence number.
func (w *wal) rotateTo(dir string, seq int64, policy config.FsyncPolicy, intervalMs int, dirtyBytesLimit int64) (*wal, error) {
	if err := w.close(); err != nil {
		return nil, err
	}
	return openWAL(dir, seq, policy, intervalMs, dirtyBytesLimit)
}

func (w *wal) close() error {
	w.fsync.stop()
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

func (w *wal) remove() error {
	return os.Remove(w.path)
}
