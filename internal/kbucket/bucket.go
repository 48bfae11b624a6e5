package kbucket

import (
	"sync"
	"time"

	"github.com/vael/warren/internal/id"
)

// K is the maximum number of entries a single bucket holds.
const K = 8

// RefreshInterval is the default for how long a bucket can go
// unchanged before a random lookup into its range is due; callers may
// tune it per node through their config.
const RefreshInterval = 15 * time.Minute

// Bucket holds the entries whose Id falls under Prefix, ordered
// oldest-first (index 0 is the least-recently-seen entry and the
// first eviction candidate).
type Bucket struct {
	mut     sync.RWMutex
	Prefix  id.Prefix
	IsHome  bool
	entries []*Entry

	lastChanged time.Time
}

// NewBucket creates an empty bucket covering prefix.
func NewBucket(prefix id.Prefix, isHome bool) *Bucket {
	return &Bucket{
		Prefix:      prefix,
		IsHome:      isHome,
		entries:     make([]*Entry, 0, K),
		lastChanged: time.Now(),
	}
}

// Len reports the number of entries currently held.
func (b *Bucket) Len() int {
	b.mut.RLock()
	defer b.mut.RUnlock()
	return len(b.entries)
}

// IsFull reports whether the bucket is at capacity.
func (b *Bucket) IsFull() bool {
	b.mut.RLock()
	defer b.mut.RUnlock()
	return len(b.entries) >= K
}

// Get returns the entry for nodeID, if present.
func (b *Bucket) Get(nodeID id.Id) *Entry {
	b.mut.RLock()
	defer b.mut.RUnlock()
	for _, e := range b.entries {
		if e.Node.ID == nodeID {
			return e
		}
	}
	return nil
}

// All returns a snapshot of the bucket's entries.
func (b *Bucket) All() []*Entry {
	b.mut.RLock()
	defer b.mut.RUnlock()
	out := make([]*Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// touch moves the entry at index i to the back (most-recently-seen
// position). Caller must hold the write lock.
func (b *Bucket) touch(i int) {
	e := b.entries[i]
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	b.entries = append(b.entries, e)
	b.lastChanged = time.Now()
}

// Upsert inserts node as a new entry, or merges it into an existing
// entry describing the identical peer (see NodeInfo.Identical), moving
// it to the most-recently-seen position. It reports whether the node
// was admitted in some form.
//
// An existing entry that Matches node (same Id or same address) but
// is not Identical to it is a conflict signal — a probable
// impersonation attempt or address change — and is rejected outright:
// the existing entry is left untouched and node is refused, without
// falling through to plain insertion or the replacement policy.
//
// A false return with no conflicting entry means the bucket had no
// room; the caller must consult the replacement policy.
func (b *Bucket) Upsert(node NodeInfo) bool {
	b.mut.Lock()
	defer b.mut.Unlock()

	for i, e := range b.entries {
		if e.Node.Identical(node) {
			e.Node = node
			e.LastSeen = time.Now()
			b.touch(i)
			return true
		}
		if e.Node.Matches(node) {
			return false
		}
	}

	if len(b.entries) >= K {
		return false
	}

	b.entries = append(b.entries, NewEntry(node))
	b.lastChanged = time.Now()
	return true
}

// Conflicts reports whether node collides with an existing entry that
// Matches it (same Id or same address) but is not Identical to it —
// the impersonation/address-change signal that must be rejected
// outright rather than split or replaced into.
func (b *Bucket) Conflicts(node NodeInfo) bool {
	b.mut.RLock()
	defer b.mut.RUnlock()
	for _, e := range b.entries {
		if e.Node.Matches(node) && !e.Node.Identical(node) {
			return true
		}
	}
	return false
}

// ReplaceWorst evicts the least-recently-seen entry that
// NeedsReplacement and inserts node in its place. Reports whether a
// replacement occurred.
func (b *Bucket) ReplaceWorst(node NodeInfo) bool {
	b.mut.Lock()
	defer b.mut.Unlock()

	for i, e := range b.entries {
		if e.NeedsReplacement() {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			b.entries = append(b.entries, NewEntry(node))
			b.lastChanged = time.Now()
			return true
		}
	}
	return false
}

// Remove deletes the entry for nodeID, if present.
func (b *Bucket) Remove(nodeID id.Id) bool {
	b.mut.Lock()
	defer b.mut.Unlock()

	for i, e := range b.entries {
		if e.Node.ID == nodeID {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			b.lastChanged = time.Now()
			return true
		}
	}
	return false
}

// OnTimeout records a failed RPC against nodeID, returning the entry
// so the caller can inspect NeedsReplacement afterward.
func (b *Bucket) OnTimeout(nodeID id.Id) *Entry {
	b.mut.Lock()
	defer b.mut.Unlock()
	for _, e := range b.entries {
		if e.Node.ID == nodeID {
			e.OnTimeout()
			return e
		}
	}
	return nil
}

// NeedsRefresh reports whether the bucket has gone untouched longer
// than interval and so warrants a random lookup into its range. A
// non-positive interval falls back to RefreshInterval.
func (b *Bucket) NeedsRefresh(interval time.Duration) bool {
	if interval <= 0 {
		interval = RefreshInterval
	}
	b.mut.RLock()
	defer b.mut.RUnlock()
	return time.Since(b.lastChanged) > interval
}

// CandidatesForPing returns entries due for an active liveness probe.
func (b *Bucket) CandidatesForPing() []*Entry {
	b.mut.RLock()
	defer b.mut.RUnlock()
	var out []*Entry
	for _, e := range b.entries {
		if e.NeedsPing() {
			out = append(out, e)
		}
	}
	return out
}

// Split partitions the bucket's entries by whether they fall under
// the high or low child prefix, returning two new buckets. The
// caller is responsible for discarding b afterward.
func (b *Bucket) Split() (low, high *Bucket) {
	b.mut.RLock()
	defer b.mut.RUnlock()

	lowPrefix := b.Prefix.SplitBranch(false)
	highPrefix := b.Prefix.SplitBranch(true)
	low = NewBucket(lowPrefix, false)
	high = NewBucket(highPrefix, false)

	for _, e := range b.entries {
		if highPrefix.Contains(e.Node.ID) {
			high.entries = append(high.entries, e)
		} else {
			low.entries = append(low.entries, e)
		}
	}
	return low, high
}
