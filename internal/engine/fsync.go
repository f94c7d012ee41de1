package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"xeondb/internal/config"
)

// fsyncScheduler collapses the three WAL durability policies into one
// dirty-byte counter, one last-sync timestamp and one background tick:
// "always" syncs after every append; "periodic" syncs at most every
// interval, or immediately once more than dirtyBytesLimit has been
// written since the last sync; "off" never syncs (the OS flushes the
// buffered writer's underlying file on its own schedule).
type fsyncScheduler struct {
	policy   config.FsyncPolicy
	interval time.Duration
	limit    int64
	syncFn   func() error

	dirty    atomic.Int64
	mu       sync.Mutex // guards syncFn invocation ordering, not dirty
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newFsyncScheduler(policy config.FsyncPolicy, interval time.Duration, dirtyBytesLimit int64, syncFn func() error) *fsyncScheduler {
	s := &fsyncScheduler{
		policy:   policy,
		interval: interval,
		limit:    dirtyBytesLimit,
		syncFn:   syncFn,
		stopCh:   make(chan struct{}),
	}
	if policy == config.FsyncPeriodic {
		go s.run()
	}
	return s
}

// onAppend is called after every WAL append with the number of bytes
// just written; it applies the predicate for the configured policy.
func (s *fsyncScheduler) onAppend(n int64) error {
	switch s.policy {
	case config.FsyncAlways:
		return s.syncNow()
	case config.FsyncOff:
		return nil
	case config.FsyncPeriodic:
		if s.dirty.Add(n) > s.limit {
			return s.syncNow()
		}
		return nil
	default:
		return nil
	}
}

func (s *fsyncScheduler) syncNow() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncFn(); err != nil {
		return err
	}
	s.dirty.Store(0)
	return nil
}

func (s *fsyncScheduler) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.dirty.Load() > 0 {
				_ = s.syncNow()
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *fsyncScheduler) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}
