package kbucket

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vael/warren/internal/id"
)

var testAddrPort int32

// newTestAddr returns a fresh loopback address unique to this test
// process, so that distinct test nodes never spuriously collide under
// NodeInfo.Matches' address check the way two zero-value addresses
// would.
func newTestAddr() *net.UDPAddr {
	port := int(atomic.AddInt32(&testAddrPort, 1))
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func newNode(t *testing.T) NodeInfo {
	t.Helper()
	nid, err := id.Random()
	if err != nil {
		t.Fatalf("random id: %v", err)
	}
	return NodeInfo{ID: nid, Addr: newTestAddr()}
}

func TestEntry_FreshDoesNotNeedPing(t *testing.T) {
	e := NewEntry(newNode(t))
	if e.NeedsPing() {
		t.Fatalf("freshly created entry should not need a ping")
	}
}

func TestEntry_StaleWithNoFailuresNeedsPing(t *testing.T) {
	e := NewEntry(newNode(t))
	e.LastSeen = time.Now().Add(-2 * OldAndStaleThreshold)
	if !e.NeedsPing() {
		t.Fatalf("stale entry should need a ping")
	}
}

func TestEntry_RecentlySeenOverridesFailures(t *testing.T) {
	e := NewEntry(newNode(t))
	e.FailedRequests = 5
	e.LastSeen = time.Now()
	if e.NeedsPing() {
		t.Fatalf("recently seen entry should not need a ping regardless of failures")
	}
}

func TestEntry_BackoffWindowSuppressesRepeatedPings(t *testing.T) {
	e := NewEntry(newNode(t))
	e.LastSeen = time.Now().Add(-2 * OldAndStaleThreshold)
	e.FailedRequests = 1
	e.LastSent = time.Now()
	if e.NeedsPing() {
		t.Fatalf("entry pinged moments ago should be within its backoff window")
	}
}

func TestEntry_NeverReachableNeedsReplacementAfterTwoFailures(t *testing.T) {
	e := NewEntry(newNode(t))
	e.OnTimeout()
	if e.NeedsReplacement() {
		t.Fatalf("single failure should not trigger replacement")
	}
	e.OnTimeout()
	if !e.NeedsReplacement() {
		t.Fatalf("two failures with no prior response should trigger replacement")
	}
}

func TestEntry_ReachableToleratesMoreFailuresUntilStale(t *testing.T) {
	e := NewEntry(newNode(t))
	e.OnResponse()
	for i := 0; i < MaxTimeouts; i++ {
		e.OnTimeout()
	}
	if e.NeedsReplacement() {
		t.Fatalf("reachable entry within the timeout budget should not need replacement yet")
	}

	e.OnTimeout()
	e.LastSeen = time.Now().Add(-2 * OldAndStaleThreshold)
	if !e.NeedsReplacement() {
		t.Fatalf("reachable entry past the timeout budget and stale should need replacement")
	}
}

func TestEntry_OnResponseIsSticky(t *testing.T) {
	e := NewEntry(newNode(t))
	e.OnResponse()
	e.OnTimeout()
	e.OnTimeout()
	if !e.Reachable {
		t.Fatalf("reachable should remain true once set, even after later failures")
	}
}

func TestEntry_MergeTakesMaxTimestampsAndMinFailures(t *testing.T) {
	node := newNode(t)
	older := NewEntry(node)
	older.FailedRequests = 3

	newer := NewEntry(node)
	newer.LastSeen = older.LastSeen.Add(time.Hour)
	newer.FailedRequests = 1
	newer.Reachable = true

	older.Merge(newer)

	if !older.LastSeen.Equal(newer.LastSeen) {
		t.Fatalf("merge should adopt the later LastSeen")
	}
	if older.FailedRequests != 1 {
		t.Fatalf("merge should take the minimum failure count when both are positive, got %d", older.FailedRequests)
	}
	if !older.Reachable {
		t.Fatalf("merge should make reachability sticky")
	}
}

func TestEntry_MergeResetsFailuresWhenOtherSucceeded(t *testing.T) {
	node := newNode(t)
	e := NewEntry(node)
	e.FailedRequests = 4

	fresh := NewEntry(node)
	fresh.LastSeen = e.LastSeen.Add(time.Minute)

	e.Merge(fresh)
	if e.FailedRequests != 0 {
		t.Fatalf("merging in a zero-failure observation should clear failures, got %d", e.FailedRequests)
	}
}
