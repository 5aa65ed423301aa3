package memory

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"morpho-filters/internal/logger"
	"morpho-filters/internal/opencv/safe"
)

// DefaultLimit caps live native Mat memory at 2 GiB.
const DefaultLimit int64 = 2 * 1024 * 1024 * 1024

type AllocationInfo struct {
	ID          uint64
	Size        int64
	Tag         string
	AllocatedAt time.Time
}

type Stats struct {
	TotalAllocated   int64
	TotalDeallocated int64
	ActiveMats       int64
	AllocationCount  int64
	UntrackedFrees   int64
	Limit            int64
}

// Tracker records every Mat created through the safe package. It is shared by all
// filters of a pipeline so leaks show up in one place.
type Tracker struct {
	allocations  map[uint64]AllocationInfo
	mu           sync.RWMutex
	limit        int64
	totalAlloc   int64
	totalDealloc int64
	allocCount   int64
	untracked    int64
}

var _ safe.MemoryTracker = (*Tracker)(nil)

// NewTracker creates a tracker; a limit of zero or less means DefaultLimit.
func NewTracker(limit int64) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Tracker{
		allocations: make(map[uint64]AllocationInfo),
		limit:       limit,
	}
}

func (t *Tracker) TrackAllocation(id uint64, size int64, tag string) {
	atomic.AddInt64(&t.totalAlloc, size)
	atomic.AddInt64(&t.allocCount, 1)

	t.mu.Lock()
	t.allocations[id] = AllocationInfo{
		ID:          id,
		Size:        size,
		Tag:         tag,
		AllocatedAt: time.Now(),
	}
	t.mu.Unlock()
}

func (t *Tracker) TrackDeallocation(id uint64, tag string) {
	t.mu.Lock()
	info, exists := t.allocations[id]
	if exists {
		delete(t.allocations, id)
	}
	t.mu.Unlock()

	if exists {
		atomic.AddInt64(&t.totalDealloc, info.Size)
	} else {
		atomic.AddInt64(&t.untracked, 1)
	}
}

// InUse is the number of bytes held by live Mats.
func (t *Tracker) InUse() int64 {
	return atomic.LoadInt64(&t.totalAlloc) - atomic.LoadInt64(&t.totalDealloc)
}

// CheckLimit fails once live Mats exceed the configured limit.
func (t *Tracker) CheckLimit() error {
	if inUse := t.InUse(); inUse > t.limit {
		return fmt.Errorf("memory limit exceeded: %d bytes held by live Mats, limit %d", inUse, t.limit)
	}
	return nil
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	active := int64(len(t.allocations))
	t.mu.RUnlock()

	return Stats{
		TotalAllocated:   atomic.LoadInt64(&t.totalAlloc),
		TotalDeallocated: atomic.LoadInt64(&t.totalDealloc),
		ActiveMats:       active,
		AllocationCount:  atomic.LoadInt64(&t.allocCount),
		UntrackedFrees:   atomic.LoadInt64(&t.untracked),
		Limit:            t.limit,
	}
}

func (t *Tracker) ActiveMats() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.allocations)
}

// DetectLeaks lists allocations older than olderThan, oldest first.
func (t *Tracker) DetectLeaks(olderThan time.Duration) []AllocationInfo {
	t.mu.RLock()
	threshold := time.Now().Add(-olderThan)
	var leaks []AllocationInfo
	for _, info := range t.allocations {
		if !info.AllocatedAt.After(threshold) {
			leaks = append(leaks, info)
		}
	}
	t.mu.RUnlock()

	sort.Slice(leaks, func(i, j int) bool { return leaks[i].ID < leaks[j].ID })
	return leaks
}

// Report logs the counters, and a warning per Mat still alive.
func (t *Tracker) Report(log logger.Logger) {
	stats := t.Stats()
	log.Debug("MemoryTracker", "native memory summary", map[string]interface{}{
		"allocations":     stats.AllocationCount,
		"bytes_allocated": stats.TotalAllocated,
		"bytes_released":  stats.TotalDeallocated,
		"active_mats":     stats.ActiveMats,
	})

	for _, leak := range t.DetectLeaks(0) {
		log.Warning("MemoryTracker", "Mat still alive", map[string]interface{}{
			"id":   leak.ID,
			"tag":  leak.Tag,
			"size": leak.Size,
			"age":  time.Since(leak.AllocatedAt).String(),
		})
	}
}
