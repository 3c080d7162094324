package protect

import (
	"sync"
	"time"
)

// Snapshot is one pre-mutation backup of a store's committed state.
type Snapshot struct {
	Op      string    `json:"op"`
	TakenAt time.Time `json:"takenAt"`
	Size    int       `json:"size"`
	Data    []byte    `json:"-"`
}

// SnapshotRing is a fixed-capacity ring buffer of snapshots: the retention
// bound caps memory use no matter how many mutations run. Oldest evicted
// first.
type SnapshotRing struct {
	mu    sync.Mutex
	buf   []Snapshot
	next  int
	count int
}

// NewSnapshotRing creates a ring holding at most capacity snapshots.
func NewSnapshotRing(capacity int) *SnapshotRing {
	if capacity <= 0 {
		capacity = 10
	}
	return &SnapshotRing{buf: make([]Snapshot, capacity)}
}

// Push records a snapshot, evicting the oldest when full.
func (r *SnapshotRing) Push(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Latest returns the most recent snapshot, or false when the ring is empty.
func (r *SnapshotRing) Latest() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return Snapshot{}, false
	}
	idx := (r.next - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// Len returns the number of retained snapshots.
func (r *SnapshotRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// List returns retained snapshots newest first.
func (r *SnapshotRing) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.next - 1 - i + 2*len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
