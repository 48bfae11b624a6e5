package lookup

import (
	"github.com/vael/warren/internal/record"
	"github.com/vael/warren/internal/rpc"
	"github.com/vael/warren/internal/server"
	"github.com/vael/warren/internal/wire"
)

// AnnounceTask fans a store_value or announce_peer RPC out to a set of
// K-closest responders gathered by a prior find_node/find_peer Task,
// retrying each recipient independently on transient failure.
type AnnounceTask struct {
	ep      *server.Endpoint
	method  wire.Method
	body    func(token []byte) *wire.RequestBody
	retries int

	pending    int
	succeeded  int
	onComplete func(succeeded int)
}

// NewValueAnnounce builds an AnnounceTask that stores v (optionally
// under a compare-and-swap sequence number) at each target, retrying a
// target up to retries times.
func NewValueAnnounce(ep *server.Endpoint, v *record.Value, cas *uint32, retries int) *AnnounceTask {
	target := v.ID()
	body := func(token []byte) *wire.RequestBody {
		b := &wire.RequestBody{
			Target: target.Bytes(),
			Token:  token,
			Value:  v.Data,
			Seq:    &v.SequenceNumber,
		}
		if cas != nil {
			b.Cas = cas
		}
		if v.IsMutable() {
			b.PublicKey = v.PublicKey.Bytes()
			b.Nonce = v.Nonce[:]
			b.Signature = v.Signature
			if v.IsEncrypted() {
				b.Recipient = v.Recipient.Bytes()
			}
		}
		return b
	}
	return &AnnounceTask{ep: ep, method: wire.MethodStoreValue, body: body, retries: retries}
}

// NewPeerAnnounce builds an AnnounceTask that announces p at each
// target, optionally on behalf of a delegating origin.
func NewPeerAnnounce(ep *server.Endpoint, p *record.Peer, retries int) *AnnounceTask {
	target := p.ID()
	body := func(token []byte) *wire.RequestBody {
		b := &wire.RequestBody{
			Target:         target.Bytes(),
			Token:          token,
			PublicKey:      p.PublicKey.Bytes(),
			Port:           p.Port,
			AlternativeURL: p.AlternativeURL,
			PeerSignature:  p.Signature,
		}
		if p.Origin != nil {
			b.Origin = p.Origin.Bytes()
		}
		return b
	}
	return &AnnounceTask{ep: ep, method: wire.MethodAnnouncePeer, body: body, retries: retries}
}

// Run sends the announce RPC to every target concurrently, retrying a
// target up to its retry budget on transient failure, and reports how many
// targets ultimately acknowledged the announce. onComplete fires
// synchronously on the Server's I/O goroutine once every target has
// either succeeded or exhausted its retries.
func (a *AnnounceTask) Run(targets []ClosestNode, onComplete func(succeeded int)) {
	a.onComplete = onComplete
	if len(targets) == 0 {
		onComplete(0)
		return
	}

	a.pending = len(targets)
	for _, target := range targets {
		a.send(target, 1)
	}
}

func (a *AnnounceTask) send(target ClosestNode, attempt int) {
	req := a.body(target.Token)
	_, err := a.ep.SendRequest(target.Node.Addr, target.Node.ID, a.method, req, func(call *rpc.Call, resp *wire.Message) {
		if call.State == rpc.Responsed {
			a.succeeded++
			a.finishOne()
			return
		}
		if attempt <= a.retries {
			a.send(target, attempt+1)
			return
		}
		a.finishOne()
	})
	if err != nil {
		if attempt <= a.retries {
			a.send(target, attempt+1)
			return
		}
		a.finishOne()
	}
}

func (a *AnnounceTask) finishOne() {
	a.pending--
	if a.pending == 0 && a.onComplete != nil {
		a.onComplete(a.succeeded)
	}
}
