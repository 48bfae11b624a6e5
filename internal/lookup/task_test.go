package lookup

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/kbucket"
	"github.com/vael/warren/internal/record"
	"github.com/vael/warren/internal/server"
	"github.com/vael/warren/internal/wire"
	"github.com/vael/warren/internal/xcrypto"
)

type fixedDispatcher struct {
	handle func(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message)
}

func (d *fixedDispatcher) HandleRequest(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
	d.handle(ep, from, addr, req)
}
func (d *fixedDispatcher) OnSend(id.Id)                  {}
func (d *fixedDispatcher) OnResponse(id.Id, *net.UDPAddr) {}
func (d *fixedDispatcher) OnTimeout(id.Id)                {}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// newNode starts a real in-process server bound to 127.0.0.1, so Task
// exercises the full SendRequest/HandleRequest/Complete path rather
// than a mocked transport.
func newNode(t *testing.T, handle func(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message)) (*server.Endpoint, id.Id, ed25519.PrivateKey) {
	t.Helper()

	ident, err := xcrypto.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	localID := ident.ID()
	xpriv, err := ident.X25519Private()
	if err != nil {
		t.Fatalf("x25519 private: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	s := server.New(logger, xpriv, 4096, 200*time.Millisecond, 700*time.Millisecond, time.Minute)
	ep, err := s.AddEndpoint("ipv4", "127.0.0.1:0", localID, "udp4")
	if err != nil {
		t.Fatalf("add endpoint: %v", err)
	}
	if handle == nil {
		handle = func(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
			resp := wire.NewResponse(req.Method, req.Txid, server.ProtocolVersion, &wire.ResponseBody{})
			ep.SendResponse(resp, addr)
		}
	}
	ep.Dispatcher = &fixedDispatcher{handle: handle}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)

	return ep, localID, ident.Private
}

func awaitResult(t *testing.T, run func(onComplete func(Result))) Result {
	t.Helper()
	done := make(chan Result, 1)
	run(func(r Result) { done <- r })
	select {
	case r := <-done:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("lookup task did not complete in time")
		return Result{}
	}
}

func TestFindNode_ExactMatchCompletesImmediately(t *testing.T) {
	seeker, _, _ := newNode(t, nil)

	responderEp, responderID, _ := newNode(t, nil)
	responderEp.Dispatcher = &fixedDispatcher{handle: func(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
		self := wire.FromNodeInfo(kbucket.NodeInfo{ID: responderID, Addr: ep.LocalAddr(), Version: 1})
		resp := wire.NewResponse(req.Method, req.Txid, server.ProtocolVersion, &wire.ResponseBody{
			NodesV4: []wire.NodeInfo{self},
		})
		ep.SendResponse(resp, addr)
	}}

	seeker.NotePeer(responderEp.LocalAddr(), responderID)

	task := FindNode(seeker, responderID, 8, 3, wire.WantIPv4)
	seed := []kbucket.NodeInfo{{ID: responderID, Addr: responderEp.LocalAddr(), Version: 1}}

	result := awaitResult(t, func(onComplete func(Result)) { task.Run(seed, onComplete) })
	if result.Exact == nil {
		t.Fatalf("expected exact match, got none")
	}
	if result.Exact.ID != responderID {
		t.Fatalf("exact match id mismatch")
	}
}

func TestFindNode_GathersClosestSet(t *testing.T) {
	seeker, _, _ := newNode(t, nil)
	responderEp, responderID, _ := newNode(t, nil)
	target, _ := id.Random()

	seeker.NotePeer(responderEp.LocalAddr(), responderID)

	task := FindNode(seeker, target, 8, 3, wire.WantIPv4)
	seed := []kbucket.NodeInfo{{ID: responderID, Addr: responderEp.LocalAddr(), Version: 1}}

	result := awaitResult(t, func(onComplete func(Result)) { task.Run(seed, onComplete) })
	if len(result.Closest) != 1 {
		t.Fatalf("expected 1 closest entry, got %d", len(result.Closest))
	}
	if result.Closest[0].Node.ID != responderID {
		t.Fatalf("closest entry id mismatch")
	}
}

func TestFindValue_ImmutableCompletesOnFirstSighting(t *testing.T) {
	seeker, _, _ := newNode(t, nil)

	value := &record.Value{Data: []byte("hello world")}
	target := value.ID()

	responderEp, responderID, _ := newNode(t, func(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
		resp := wire.NewResponse(req.Method, req.Txid, server.ProtocolVersion, &wire.ResponseBody{
			Value: value.Data,
		})
		ep.SendResponse(resp, addr)
	})

	seeker.NotePeer(responderEp.LocalAddr(), responderID)

	task := FindValue(seeker, target, nil, 8, 3, wire.WantIPv4)
	seed := []kbucket.NodeInfo{{ID: responderID, Addr: responderEp.LocalAddr(), Version: 1}}

	result := awaitResult(t, func(onComplete func(Result)) { task.Run(seed, onComplete) })
	if result.Value == nil {
		t.Fatalf("expected a value, got none")
	}
	if string(result.Value.Data) != "hello world" {
		t.Fatalf("unexpected value data: %q", result.Value.Data)
	}
}

func TestFindValue_MutableValueDecodedAndValidated(t *testing.T) {
	seeker, _, _ := newNode(t, nil)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubID, err := id.FromBytes(pub)
	if err != nil {
		t.Fatalf("public key id: %v", err)
	}

	v := &record.Value{PublicKey: &pubID, Data: []byte("mutable"), SequenceNumber: 7}
	if err := v.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	target := v.ID()

	responderEp, responderID, _ := newNode(t, func(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
		seq := v.SequenceNumber
		resp := wire.NewResponse(req.Method, req.Txid, server.ProtocolVersion, &wire.ResponseBody{
			Value:     v.Data,
			PublicKey: v.PublicKey.Bytes(),
			Nonce:     v.Nonce[:],
			Signature: v.Signature,
			Seq:       &seq,
		})
		ep.SendResponse(resp, addr)
	})

	seeker.NotePeer(responderEp.LocalAddr(), responderID)

	task := FindValue(seeker, target, nil, 8, 3, wire.WantIPv4)
	seed := []kbucket.NodeInfo{{ID: responderID, Addr: responderEp.LocalAddr(), Version: 1}}

	result := awaitResult(t, func(onComplete func(Result)) { task.Run(seed, onComplete) })
	if result.Value == nil {
		t.Fatalf("expected a value, got none")
	}
	if result.Value.SequenceNumber != 7 {
		t.Fatalf("expected seq 7, got %d", result.Value.SequenceNumber)
	}
	if !result.Value.IsValid() {
		t.Fatalf("decoded value should verify under its signature")
	}
}

func TestFindPeer_AccumulatesValidAnnouncements(t *testing.T) {
	seeker, _, _ := newNode(t, nil)

	peerPub, peerPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate peer key: %v", err)
	}
	peerID, err := id.FromBytes(peerPub)
	if err != nil {
		t.Fatalf("peer id: %v", err)
	}

	responderEp, responderID, _ := newNode(t, nil)
	peer := record.NewPeer(peerID, responderID, nil, 6881, "")
	if err := peer.Sign(peerPriv); err != nil {
		t.Fatalf("sign peer: %v", err)
	}

	responderEp.Dispatcher = &fixedDispatcher{handle: func(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
		resp := wire.NewResponse(req.Method, req.Txid, server.ProtocolVersion, &wire.ResponseBody{
			Peers: &wire.PeerGroup{
				PeerID: peer.PublicKey.Bytes(),
				Announcements: []wire.PeerAnnouncement{{
					NodeID:         peer.NodeID.Bytes(),
					Port:           peer.Port,
					AlternativeURL: peer.AlternativeURL,
					Signature:      peer.Signature,
				}},
			},
		})
		ep.SendResponse(resp, addr)
	}}

	seeker.NotePeer(responderEp.LocalAddr(), responderID)

	task := FindPeer(seeker, peerID, 8, 3, wire.WantIPv4)
	seed := []kbucket.NodeInfo{{ID: responderID, Addr: responderEp.LocalAddr(), Version: 1}}

	result := awaitResult(t, func(onComplete func(Result)) { task.Run(seed, onComplete) })
	if len(result.Peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(result.Peers))
	}
	if result.Peers[0].ID() != peerID {
		t.Fatalf("peer id mismatch")
	}
}

func TestFindNode_NoSeedCompletesImmediatelyEmpty(t *testing.T) {
	seeker, _, _ := newNode(t, nil)
	target, _ := id.Random()

	task := FindNode(seeker, target, 8, 3, wire.WantIPv4)
	result := awaitResult(t, func(onComplete func(Result)) { task.Run(nil, onComplete) })
	if len(result.Closest) != 0 || result.Exact != nil {
		t.Fatalf("expected an empty result for an empty seed, got %+v", result)
	}
}
