package kbucket

import (
	"sort"
	"sync"
	"time"

	"github.com/vael/warren/internal/id"
)

// HomeSplitSlack (C) extends the "only split buckets on the path to
// home" rule by this many extra levels: a bucket may also split if
// its prefix depth is within HomeSplitSlack of the deepest bucket
// currently on the home path, not only when it strictly contains the
// local Id. This is the implementation's choice for the split-depth
// constant the routing table's splitting rule leaves open; it keeps
// the buckets neighboring home from bottlenecking on a single replace
// policy while still bounding table growth away from home.
const HomeSplitSlack = 2

// node is an entry in the routing table's binary trie. Exactly one of
// bucket (leaf) or low/high (split) is non-nil.
type node struct {
	prefix id.Prefix
	bucket *Bucket
	low    *node
	high   *node
}

func newLeaf(prefix id.Prefix, isHome bool) *node {
	return &node{prefix: prefix, bucket: NewBucket(prefix, isHome)}
}

// RoutingTable is the binary-trie routing table keyed by XOR distance
// from the local Id. Buckets split lazily, starting from a single
// root bucket covering the whole id space.
type RoutingTable struct {
	mut     sync.RWMutex
	localID id.Id
	root    *node
}

// NewRoutingTable creates a table with a single root bucket.
func NewRoutingTable(localID id.Id) *RoutingTable {
	return &RoutingTable{
		localID: localID,
		root:    newLeaf(id.Root(), true),
	}
}

// ID returns the local node's Id.
func (rt *RoutingTable) ID() id.Id { return rt.localID }

// leafFor descends the trie to the leaf node covering target.
func leafFor(n *node, target id.Id) *node {
	for n.bucket == nil {
		if n.high.prefix.Contains(target) {
			n = n.high
		} else {
			n = n.low
		}
	}
	return n
}

// homeDepth returns the depth of the deepest bucket on the path to the
// local Id.
func (rt *RoutingTable) homeDepth() int {
	n := rt.root
	for n.bucket == nil {
		if n.high.prefix.Contains(rt.localID) {
			n = n.high
		} else {
			n = n.low
		}
	}
	return n.prefix.Depth
}

// Insert records a sighting of node, splitting buckets along the home
// path (and within HomeSplitSlack of it) as needed, and falling back
// to the stale-entry replacement policy elsewhere. A contact that
// conflicts with an existing entry (same Id or address, but not both —
// a probable impersonation or address change) is rejected outright,
// leaving the existing entry untouched. Only the bucket that covers
// the contact's Id is checked for conflicts; entries in other buckets
// are not. It reports whether the contact was admitted.
func (rt *RoutingTable) Insert(contact NodeInfo) bool {
	if contact.ID == rt.localID {
		return false
	}

	rt.mut.Lock()
	defer rt.mut.Unlock()

	for {
		leaf := leafFor(rt.root, contact.ID)

		if leaf.bucket.Conflicts(contact) {
			return false
		}

		if leaf.bucket.Upsert(contact) {
			return true
		}

		if rt.canSplit(leaf) {
			rt.split(leaf)
			continue
		}

		return leaf.bucket.ReplaceWorst(contact)
	}
}

func (rt *RoutingTable) canSplit(n *node) bool {
	if !n.prefix.IsSplittable() {
		return false
	}
	if n.prefix.Contains(rt.localID) {
		return true
	}
	return n.prefix.Depth <= rt.homeDepth()+HomeSplitSlack
}

func (rt *RoutingTable) split(n *node) {
	low, high := n.bucket.Split()
	n.low = &node{prefix: low.Prefix, bucket: low}
	n.high = &node{prefix: high.Prefix, bucket: high}
	n.low.bucket.IsHome = n.low.prefix.Contains(rt.localID)
	n.high.bucket.IsHome = n.high.prefix.Contains(rt.localID)
	n.bucket = nil
}

// Remove deletes nodeID's entry, wherever it lives.
func (rt *RoutingTable) Remove(nodeID id.Id) bool {
	rt.mut.Lock()
	defer rt.mut.Unlock()
	leaf := leafFor(rt.root, nodeID)
	return leaf.bucket.Remove(nodeID)
}

// Get returns the entry for nodeID, if present.
func (rt *RoutingTable) Get(nodeID id.Id) *Entry {
	rt.mut.RLock()
	defer rt.mut.RUnlock()
	leaf := leafFor(rt.root, nodeID)
	return leaf.bucket.Get(nodeID)
}

// OnTimeout records a failed RPC against nodeID.
func (rt *RoutingTable) OnTimeout(nodeID id.Id) *Entry {
	rt.mut.Lock()
	defer rt.mut.Unlock()
	leaf := leafFor(rt.root, nodeID)
	return leaf.bucket.OnTimeout(nodeID)
}

func walk(n *node, fn func(*Bucket)) {
	if n.bucket != nil {
		fn(n.bucket)
		return
	}
	walk(n.low, fn)
	walk(n.high, fn)
}

// FindClosestK returns the k entries closest to target by XOR
// distance, across the whole table.
func (rt *RoutingTable) FindClosestK(target id.Id, k int) []NodeInfo {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	var all []*Entry
	walk(rt.root, func(b *Bucket) {
		all = append(all, b.All()...)
	})

	sort.Slice(all, func(i, j int) bool {
		return id.CompareDistance(target, all[i].Node.ID, all[j].Node.ID) < 0
	})

	if len(all) > k {
		all = all[:k]
	}

	out := make([]NodeInfo, len(all))
	for i, e := range all {
		out[i] = e.Node
	}
	return out
}

// Size returns the total number of entries across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	count := 0
	walk(rt.root, func(b *Bucket) { count += b.Len() })
	return count
}

// BucketsNeedingRefresh returns the prefixes of buckets that have gone
// untouched past interval and so need a random lookup.
func (rt *RoutingTable) BucketsNeedingRefresh(interval time.Duration) []id.Prefix {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	var out []id.Prefix
	walk(rt.root, func(b *Bucket) {
		if b.Len() > 0 && b.NeedsRefresh(interval) {
			out = append(out, b.Prefix)
		}
	})
	return out
}

// CandidatesForPing returns every entry across the table that is due
// for an active liveness probe.
func (rt *RoutingTable) CandidatesForPing() []*Entry {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	var out []*Entry
	walk(rt.root, func(b *Bucket) {
		out = append(out, b.CandidatesForPing()...)
	})
	return out
}

// SnapshotEntry is one persisted contact: the NodeInfo plus when it
// was last heard from, so a reloaded table resumes staleness tracking
// where the previous run left off instead of treating every cached
// contact as freshly seen.
type SnapshotEntry struct {
	Node     NodeInfo
	LastSeen time.Time
}

// Snapshot is the gob-serializable form of a routing table, used to
// persist the cache between runs.
type Snapshot struct {
	LocalID id.Id
	Nodes   []SnapshotEntry
}

// Snapshot captures every known contact for persistence. On reload,
// ReplayInto rebuilds the trie from scratch via ordinary Inserts, so
// the split shape need not be preserved exactly.
func (rt *RoutingTable) Snapshot() Snapshot {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	var nodes []SnapshotEntry
	walk(rt.root, func(b *Bucket) {
		for _, e := range b.All() {
			nodes = append(nodes, SnapshotEntry{Node: e.Node, LastSeen: e.LastSeen})
		}
	})
	return Snapshot{LocalID: rt.localID, Nodes: nodes}
}

// ReplayInto inserts every node from a snapshot into rt, restoring
// each admitted entry's persisted LastSeen.
func (rt *RoutingTable) ReplayInto(snap Snapshot) {
	for _, se := range snap.Nodes {
		if !rt.Insert(se.Node) {
			continue
		}
		if e := rt.Get(se.Node.ID); e != nil && !se.LastSeen.IsZero() {
			e.LastSeen = se.LastSeen
		}
	}
}
