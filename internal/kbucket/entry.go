package kbucket

import (
	"time"
)

// Tuning constants for liveness classification.
const (
	// RecentlySeenWindow: an entry heard from within this window does
	// not need pinging regardless of its failure history.
	RecentlySeenWindow = 15 * time.Minute

	// OldAndStaleThreshold: an entry whose last_seen predates this is
	// "old" for the purposes of needs_ping/needs_replacement.
	OldAndStaleThreshold = 15 * time.Minute

	// MaxFailuresNeverReachable: an entry that has never responded and
	// has failed this many consecutive sends needs replacing outright.
	MaxFailuresNeverReachable = 2

	// MaxTimeouts: an entry that has responded before tolerates more
	// failures, but still needs replacing once both old-and-stale and
	// past this many timeouts.
	MaxTimeouts = 3

	// BackoffBase is the unit exponential backoff applies to
	// failed_requests when deciding whether a ping is already due.
	BackoffBase = 30 * time.Second

	// BackoffMaxExponent bounds the exponential backoff growth.
	BackoffMaxExponent = 6
)

// Entry wraps a NodeInfo with liveness bookkeeping.
type Entry struct {
	Node           NodeInfo
	Created        time.Time
	LastSeen       time.Time
	LastSent       time.Time
	Reachable      bool
	FailedRequests int
}

// NewEntry creates a fresh, not-yet-reachable entry for node.
func NewEntry(node NodeInfo) *Entry {
	now := time.Now()
	return &Entry{Node: node, Created: now, LastSeen: now}
}

// OnSend timestamps LastSent, called when an RPC is dispatched to this
// entry.
func (e *Entry) OnSend() {
	e.LastSent = time.Now()
}

// OnResponse marks the entry as having replied, resetting its failure
// count and setting Reachable permanently: once an entry has responded
// at all, it stays Reachable regardless of later timeouts.
func (e *Entry) OnResponse() {
	e.LastSeen = time.Now()
	e.FailedRequests = 0
	e.Reachable = true
}

// OnTimeout increments the failure counter. Callers should remove the
// entry afterward if NeedsReplacement.
func (e *Entry) OnTimeout() {
	e.FailedRequests++
}

// inBackoffWindow reports whether e was pinged recently enough,
// relative to its failure count, that another ping is not yet due.
func (e *Entry) inBackoffWindow() bool {
	if e.LastSent.IsZero() {
		return false
	}
	exp := e.FailedRequests
	if exp > BackoffMaxExponent {
		exp = BackoffMaxExponent
	}
	backoff := BackoffBase << uint(exp)
	return time.Since(e.LastSent) < backoff
}

func (e *Entry) recentlySeen() bool {
	return time.Since(e.LastSeen) < RecentlySeenWindow
}

func (e *Entry) oldAndStale() bool {
	return time.Since(e.LastSeen) >= OldAndStaleThreshold
}

// NeedsPing reports whether the entry should be actively probed.
func (e *Entry) NeedsPing() bool {
	if e.recentlySeen() {
		return false
	}
	if e.inBackoffWindow() {
		return false
	}
	return e.FailedRequests > 0 || e.oldAndStale()
}

// NeedsReplacement reports whether the entry is bad enough that a
// fresh candidate should displace it outright.
func (e *Entry) NeedsReplacement() bool {
	if !e.Reachable && e.FailedRequests >= MaxFailuresNeverReachable {
		return true
	}
	return e.FailedRequests > MaxTimeouts && e.oldAndStale()
}

// Merge folds other into e under the assumption both describe the
// same identity: timestamps take the element-wise maximum,
// FailedRequests takes the minimum of the two when both are positive
// (a success anywhere is evidence of liveness), and Reachable is
// sticky (true once, true forever).
func (e *Entry) Merge(other *Entry) {
	if other.LastSeen.After(e.LastSeen) {
		e.LastSeen = other.LastSeen
	}
	if other.LastSent.After(e.LastSent) {
		e.LastSent = other.LastSent
	}
	if other.Created.Before(e.Created) {
		e.Created = other.Created
	}

	switch {
	case e.FailedRequests > 0 && other.FailedRequests > 0:
		if other.FailedRequests < e.FailedRequests {
			e.FailedRequests = other.FailedRequests
		}
	case other.FailedRequests == 0:
		e.FailedRequests = 0
	}

	e.Reachable = e.Reachable || other.Reachable
}
