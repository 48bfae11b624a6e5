package kbucket

import (
	"testing"

	"github.com/vael/warren/internal/id"
)

func TestBucket_InsertFillsUpToK(t *testing.T) {
	b := NewBucket(id.Root(), true)
	for i := 0; i < K; i++ {
		if !b.Upsert(newNode(t)) {
			t.Fatalf("insert %d should have succeeded under capacity", i)
		}
	}
	if !b.IsFull() {
		t.Fatalf("bucket should report full at K entries")
	}
	if b.Upsert(newNode(t)) {
		t.Fatalf("insert past K should be rejected")
	}
}

func TestBucket_UpsertExistingMovesToBack(t *testing.T) {
	b := NewBucket(id.Root(), true)
	first := newNode(t)
	b.Upsert(first)
	for i := 0; i < K-1; i++ {
		b.Upsert(newNode(t))
	}

	b.Upsert(first)
	all := b.All()
	if all[len(all)-1].Node.ID != first.ID {
		t.Fatalf("re-inserting an existing contact should move it to the most-recently-seen slot")
	}
}

func TestBucket_ReplaceWorstOnlyReplacesBadEntries(t *testing.T) {
	b := NewBucket(id.Root(), true)
	var nodes []NodeInfo
	for i := 0; i < K; i++ {
		n := newNode(t)
		nodes = append(nodes, n)
		b.Upsert(n)
	}

	candidate := newNode(t)
	if b.ReplaceWorst(candidate) {
		t.Fatalf("no entry is bad yet, replacement should fail")
	}

	e := b.Get(nodes[0].ID)
	e.OnTimeout()
	e.OnTimeout()

	if !b.ReplaceWorst(candidate) {
		t.Fatalf("a NeedsReplacement entry should be evicted")
	}
	if b.Get(nodes[0].ID) != nil {
		t.Fatalf("evicted entry should be gone")
	}
	if b.Get(candidate.ID) == nil {
		t.Fatalf("candidate should have taken the evicted slot")
	}
}

func TestBucket_UpsertRejectsAddressConflict(t *testing.T) {
	b := NewBucket(id.Root(), true)
	original := newNode(t)
	b.Upsert(original)

	impostor := original
	impostor.ID, _ = id.Random()

	if b.Upsert(impostor) {
		t.Fatalf("an entry reusing an existing address under a different id should be rejected")
	}
	if e := b.Get(original.ID); e == nil || e.Node.Addr != original.Addr {
		t.Fatalf("the original entry should survive an address-conflicting upsert untouched")
	}
	if b.Get(impostor.ID) != nil {
		t.Fatalf("the impostor id should not have been admitted")
	}
}

func TestBucket_UpsertRejectsIdConflict(t *testing.T) {
	b := NewBucket(id.Root(), true)
	original := newNode(t)
	b.Upsert(original)

	spoofed := original
	spoofed.Addr = newTestAddr()

	if b.Upsert(spoofed) {
		t.Fatalf("an entry reusing an existing id from a different address should be rejected")
	}
	if e := b.Get(original.ID); e == nil || e.Node.Addr != original.Addr {
		t.Fatalf("the original entry should survive an id-conflicting upsert untouched")
	}
}

func TestBucket_UpsertMergesIdenticalNode(t *testing.T) {
	b := NewBucket(id.Root(), true)
	original := newNode(t)
	b.Upsert(original)

	resighted := original
	resighted.Version = original.Version + 1

	if !b.Upsert(resighted) {
		t.Fatalf("re-upserting the identical node (same id and address) should merge, not reject")
	}
	e := b.Get(original.ID)
	if e == nil || e.Node.Version != resighted.Version {
		t.Fatalf("merge should adopt the resighted node's fields")
	}
}

func TestBucket_SplitPartitionsByChildPrefix(t *testing.T) {
	root := id.Root()
	b := NewBucket(root, true)

	var highWant, lowWant int
	lowPrefix := root.SplitBranch(false)
	highPrefix := root.SplitBranch(true)

	for i := 0; i < K; i++ {
		n := newNode(t)
		b.Upsert(n)
		if highPrefix.Contains(n.ID) {
			highWant++
		} else {
			lowWant++
		}
	}

	low, high := b.Split()
	if low.Len() != lowWant || high.Len() != highWant {
		t.Fatalf("split counts mismatch: low=%d want %d, high=%d want %d", low.Len(), lowWant, high.Len(), highWant)
	}
	if low.Prefix != lowPrefix || high.Prefix != highPrefix {
		t.Fatalf("split child prefixes mismatch")
	}
}
