// Package lookup implements the iterative α-parallel lookup driver
// shared by find_node, find_value, and find_peer, plus the
// announce-after-lookup fan-out. A Task runs entirely on the owning
// Server's I/O goroutine: every state transition happens inside a
// server.Endpoint.SendRequest completion callback, so no task needs
// its own locking.
package lookup

import (
	"sort"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/kbucket"
	"github.com/vael/warren/internal/record"
	"github.com/vael/warren/internal/rpc"
	"github.com/vael/warren/internal/server"
	"github.com/vael/warren/internal/wire"
)

// ClosestNode is a confirmed-responded node paired with the token, if
// any, it returned: needed by an announce that follows the lookup.
type ClosestNode struct {
	Node  kbucket.NodeInfo
	Token []byte
}

// Result is what a Task hands to its caller on completion.
type Result struct {
	Closest []ClosestNode
	Exact   *kbucket.NodeInfo
	Value   *record.Value
	Peers   []*record.Peer
}

type candidate struct {
	node     kbucket.NodeInfo
	dist     id.Id
	token    []byte
	pinged   int
	failed   int
	inFlight bool
	queried  bool
}

// BodyHandler processes one response body as it arrives. It returns
// true to end the task immediately with whatever Result fields it has
// already populated via the closure capturing the Task's constructor.
type BodyHandler func(t *Task, from kbucket.NodeInfo, body *wire.ResponseBody, token []byte) (stop bool)

// Task drives one iterative lookup to completion.
type Task struct {
	ep     *server.Endpoint
	target id.Id
	method wire.Method
	k      int
	alpha  int
	want   byte

	candidates []*candidate
	closest    []*candidate
	inFlight   int
	staleRuns  int

	buildBody func(want byte) *wire.RequestBody
	onBody    BodyHandler

	result     Result
	completed  bool
	onComplete func(Result)
}

func newTask(ep *server.Endpoint, target id.Id, method wire.Method, k, alpha int, want byte, buildBody func(byte) *wire.RequestBody, onBody BodyHandler) *Task {
	return &Task{
		ep:        ep,
		target:    target,
		method:    method,
		k:         k,
		alpha:     alpha,
		want:      want,
		buildBody: buildBody,
		onBody:    onBody,
	}
}

// Run seeds the candidate set from seed (typically the local routing
// table's K closest to target) and starts issuing requests, reporting
// the final Result to onComplete once the task terminates. onComplete
// fires synchronously on the Server's I/O goroutine.
func (t *Task) Run(seed []kbucket.NodeInfo, onComplete func(Result)) {
	t.onComplete = onComplete
	for _, n := range seed {
		t.addCandidate(n)
	}
	t.fillSlots()
	if len(t.candidates) == 0 && t.inFlight == 0 {
		t.complete()
	}
}

// addCandidate records a sighting of n, deduped against both the
// candidate and closest sets (a node already confirmed-responded
// should not be re-queried just because it was echoed back by a peer).
// The local node is never a candidate.
func (t *Task) addCandidate(n kbucket.NodeInfo) {
	if n.ID == t.ep.LocalID {
		return
	}
	for _, c := range t.candidates {
		if c.node.Matches(n) {
			return
		}
	}
	for _, c := range t.closest {
		if c.node.Matches(n) {
			return
		}
	}

	t.candidates = append(t.candidates, &candidate{node: n, dist: id.Distance(t.target, n.ID)})
	sort.Slice(t.candidates, func(i, j int) bool {
		return t.candidates[i].dist.Cmp(t.candidates[j].dist) < 0
	})

	maxCandidates := 3 * t.k
	if len(t.candidates) > maxCandidates {
		for i := len(t.candidates) - 1; i >= 0; i-- {
			if !t.candidates[i].inFlight {
				t.candidates = append(t.candidates[:i], t.candidates[i+1:]...)
				break
			}
		}
	}
}

// fillSlots issues requests while fewer than alpha are outstanding.
func (t *Task) fillSlots() {
	for !t.completed && t.inFlight < t.alpha {
		next := t.nextCandidate()
		if next == nil {
			break
		}
		t.dispatch(next)
	}

	if !t.completed && t.inFlight == 0 && t.nextCandidate() == nil {
		t.complete()
	}
}

// nextCandidate returns the unqueried, not-in-flight candidate with
// minimum distance, tie-broken by fewer pings so far.
func (t *Task) nextCandidate() *candidate {
	var best *candidate
	for _, c := range t.candidates {
		if c.inFlight || c.queried {
			continue
		}
		if best == nil {
			best = c
			continue
		}
		cmp := c.dist.Cmp(best.dist)
		if cmp < 0 || (cmp == 0 && c.pinged < best.pinged) {
			best = c
		}
	}
	return best
}

func (t *Task) dispatch(c *candidate) {
	c.inFlight = true
	c.pinged++
	t.inFlight++

	body := t.buildBody(t.want)
	_, err := t.ep.SendRequest(c.node.Addr, c.node.ID, t.method, body, func(call *rpc.Call, resp *wire.Message) {
		t.inFlight--
		c.inFlight = false

		if call.State != rpc.Responsed || resp == nil || resp.Response == nil {
			t.onFailure(c)
			return
		}
		t.onResponse(c, resp.Response)
	})
	if err != nil {
		t.inFlight--
		c.inFlight = false
		t.onFailure(c)
	}
}

func (t *Task) onFailure(c *candidate) {
	c.failed++
	if c.failed >= t.alpha {
		t.removeCandidate(c)
	}
	t.fillSlots()
}

func (t *Task) removeCandidate(c *candidate) {
	for i, other := range t.candidates {
		if other == c {
			t.candidates = append(t.candidates[:i], t.candidates[i+1:]...)
			return
		}
	}
}

func (t *Task) onResponse(c *candidate, body *wire.ResponseBody) {
	c.queried = true
	if len(body.Token) > 0 {
		c.token = body.Token
	}

	t.removeCandidate(c)
	improved := t.insertClosest(c)
	if improved {
		t.staleRuns = 0
	} else {
		t.staleRuns++
	}

	for _, n := range wire.DecodeNodeInfos(body.NodesV4) {
		t.addCandidate(n)
	}
	for _, n := range wire.DecodeNodeInfos(body.NodesV6) {
		t.addCandidate(n)
	}

	if t.onBody != nil && t.onBody(t, c.node, body, c.token) {
		t.complete()
		return
	}

	if t.shouldTerminate() {
		t.complete()
		return
	}

	t.fillSlots()
}

// insertClosest adds c to the closest set (capped at k, sorted by
// distance) and reports whether it improved the set's head (the
// closest known node to target).
func (t *Task) insertClosest(c *candidate) bool {
	prevHead := id.Max
	if len(t.closest) > 0 {
		prevHead = t.closest[0].dist
	}

	t.closest = append(t.closest, c)
	sort.Slice(t.closest, func(i, j int) bool {
		return t.closest[i].dist.Cmp(t.closest[j].dist) < 0
	})
	if len(t.closest) > t.k {
		t.closest = t.closest[:t.k]
	}

	return len(t.closest) > 0 && t.closest[0].dist.Cmp(prevHead) < 0
}

// shouldTerminate reports whether the lookup has converged: no
// candidates remain, or the closest set is full, its tail is no worse
// than the best remaining candidate, and K consecutive insertions
// failed to improve the head.
func (t *Task) shouldTerminate() bool {
	if t.nextCandidate() == nil && t.inFlight == 0 {
		return true
	}
	if len(t.closest) < t.k {
		return false
	}
	tail := t.closest[len(t.closest)-1].dist
	best := t.nextCandidate()
	if best == nil {
		return true
	}
	if best.dist.Cmp(tail) < 0 {
		return false
	}
	return t.staleRuns >= t.k
}

func (t *Task) complete() {
	if t.completed {
		return
	}
	t.completed = true

	t.result.Closest = make([]ClosestNode, len(t.closest))
	for i, c := range t.closest {
		t.result.Closest[i] = ClosestNode{Node: c.node, Token: c.token}
	}
	if t.onComplete != nil {
		t.onComplete(t.result)
	}
}
