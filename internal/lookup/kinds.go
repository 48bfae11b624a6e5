package lookup

import (
	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/kbucket"
	"github.com/vael/warren/internal/record"
	"github.com/vael/warren/internal/server"
	"github.com/vael/warren/internal/wire"
)

// FindNode issues an iterative node lookup for target, completing
// immediately if any response's NodeInfo exactly matches target.
func FindNode(ep *server.Endpoint, target id.Id, k, alpha int, want byte) *Task {
	onBody := func(t *Task, from kbucket.NodeInfo, body *wire.ResponseBody, token []byte) bool {
		for _, n := range wire.DecodeNodeInfos(body.NodesV4) {
			if n.ID == t.target {
				exact := n
				t.result.Exact = &exact
				return true
			}
		}
		for _, n := range wire.DecodeNodeInfos(body.NodesV6) {
			if n.ID == t.target {
				exact := n
				t.result.Exact = &exact
				return true
			}
		}
		return false
	}

	return newTask(ep, target, wire.MethodFindNode, k, alpha, want, func(want byte) *wire.RequestBody {
		return &wire.RequestBody{Target: target.Bytes(), Want: want}
	}, onBody)
}

// FindValue issues an iterative value lookup. A valid immutable value
// completes the task on first sighting; a valid mutable value is
// tracked by highest sequence number and the task runs to normal
// termination, returning the best one seen.
func FindValue(ep *server.Endpoint, target id.Id, knownSeq *uint32, k, alpha int, want byte) *Task {
	var best *record.Value

	onBody := func(t *Task, from kbucket.NodeInfo, body *wire.ResponseBody, token []byte) bool {
		if len(body.Value) == 0 {
			return false
		}
		v := decodeValue(body)
		if v == nil || !v.IsValid() {
			return false
		}
		if !v.IsMutable() {
			t.result.Value = v
			return true
		}
		if best == nil || v.SequenceNumber > best.SequenceNumber {
			best = v
			t.result.Value = v
		}
		return false
	}

	return newTask(ep, target, wire.MethodFindValue, k, alpha, want, func(want byte) *wire.RequestBody {
		body := &wire.RequestBody{Target: target.Bytes(), Want: want}
		if knownSeq != nil {
			body.Seq = knownSeq
		}
		return body
	}, onBody)
}

// FindPeer issues an iterative peer lookup, accumulating every valid
// peer announcement seen across all responses.
func FindPeer(ep *server.Endpoint, target id.Id, k, alpha int, want byte) *Task {
	seen := make(map[string]bool)

	onBody := func(t *Task, from kbucket.NodeInfo, body *wire.ResponseBody, token []byte) bool {
		if body.Peers == nil {
			return false
		}
		for _, a := range body.Peers.Announcements {
			p := decodePeerAnnouncement(body.Peers.PeerID, a)
			if p == nil || !p.IsValid() {
				continue
			}
			key := p.ID().String() + "|" + p.NodeID.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			t.result.Peers = append(t.result.Peers, p)
		}
		return false
	}

	return newTask(ep, target, wire.MethodFindPeer, k, alpha, want, func(want byte) *wire.RequestBody {
		return &wire.RequestBody{Target: target.Bytes(), Want: want}
	}, onBody)
}
