package lookup

import (
	"crypto/ed25519"
	"net"
	"testing"
	"time"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/kbucket"
	"github.com/vael/warren/internal/record"
	"github.com/vael/warren/internal/server"
	"github.com/vael/warren/internal/wire"
)

func TestAnnounceTask_StoreValueRoundTrip(t *testing.T) {
	seeker, _, _ := newNode(t, nil)

	v := &record.Value{Data: []byte("immutable payload")}

	var gotTarget, gotToken []byte
	responderEp, responderID, _ := newNode(t, func(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
		gotTarget = req.Request.Target
		gotToken = req.Request.Token
		resp := wire.NewResponse(req.Method, req.Txid, server.ProtocolVersion, &wire.ResponseBody{})
		ep.SendResponse(resp, addr)
	})

	seeker.NotePeer(responderEp.LocalAddr(), responderID)

	task := NewValueAnnounce(seeker, v, nil, 3)
	targets := []ClosestNode{{
		Node:  kbucket.NodeInfo{ID: responderID, Addr: responderEp.LocalAddr(), Version: 1},
		Token: []byte("token-from-find-node"),
	}}

	done := make(chan int, 1)
	task.Run(targets, func(succeeded int) { done <- succeeded })

	select {
	case succeeded := <-done:
		if succeeded != 1 {
			t.Fatalf("expected 1 successful announce, got %d", succeeded)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("announce task did not complete in time")
	}

	wantTarget := v.ID()
	if string(gotTarget) != string(wantTarget.Bytes()) {
		t.Fatalf("responder did not receive the value's id as target")
	}
	if string(gotToken) != "token-from-find-node" {
		t.Fatalf("responder did not receive the token returned by the prior lookup")
	}
}

func TestAnnounceTask_AnnouncePeerRoundTrip(t *testing.T) {
	seeker, _, _ := newNode(t, nil)

	peerPub, peerPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate peer key: %v", err)
	}
	peerID, err := id.FromBytes(peerPub)
	if err != nil {
		t.Fatalf("peer id: %v", err)
	}

	var receivedPort uint16
	responderEp, responderID, _ := newNode(t, func(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
		receivedPort = req.Request.Port
		resp := wire.NewResponse(req.Method, req.Txid, server.ProtocolVersion, &wire.ResponseBody{})
		ep.SendResponse(resp, addr)
	})

	seeker.NotePeer(responderEp.LocalAddr(), responderID)

	peer := record.NewPeer(peerID, responderID, nil, 6881, "")
	if err := peer.Sign(peerPriv); err != nil {
		t.Fatalf("sign peer: %v", err)
	}

	task := NewPeerAnnounce(seeker, peer, 3)
	targets := []ClosestNode{{
		Node:  kbucket.NodeInfo{ID: responderID, Addr: responderEp.LocalAddr(), Version: 1},
		Token: []byte("another-token"),
	}}

	done := make(chan int, 1)
	task.Run(targets, func(succeeded int) { done <- succeeded })

	select {
	case succeeded := <-done:
		if succeeded != 1 {
			t.Fatalf("expected 1 successful announce, got %d", succeeded)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("announce task did not complete in time")
	}

	if receivedPort != 6881 {
		t.Fatalf("expected port 6881, got %d", receivedPort)
	}
}

func TestAnnounceTask_EmptyTargetsCompletesImmediately(t *testing.T) {
	seeker, _, _ := newNode(t, nil)
	v := &record.Value{Data: []byte("x")}
	task := NewValueAnnounce(seeker, v, nil, 3)

	done := make(chan int, 1)
	task.Run(nil, func(succeeded int) { done <- succeeded })

	select {
	case succeeded := <-done:
		if succeeded != 0 {
			t.Fatalf("expected 0 successes with no targets, got %d", succeeded)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("announce task did not complete in time")
	}
}
