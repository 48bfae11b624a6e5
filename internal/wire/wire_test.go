package wire

import (
	"net"
	"reflect"
	"testing"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/kbucket"
)

func TestTypeByte_RoundTripsAllMethodsAndKinds(t *testing.T) {
	kinds := []Kind{KindError, KindRequest, KindResponse}
	methods := []Method{MethodPing, MethodFindNode, MethodAnnouncePeer, MethodFindPeer, MethodStoreValue, MethodFindValue}

	for _, k := range kinds {
		for _, m := range methods {
			b := TypeByte(k, m)
			gotK, gotM := SplitTypeByte(b)
			if gotK != k || gotM != m {
				t.Fatalf("roundtrip mismatch for kind=%#02x method=%#02x: got kind=%#02x method=%#02x", k, m, gotK, gotM)
			}
		}
	}
}

func TestEncodeDecode_FindNodeRequest(t *testing.T) {
	target, _ := id.Random()
	req := &RequestBody{Target: target.Bytes(), Want: WantIPv4 | WantToken}
	msg := NewRequest(MethodFindNode, 42, 1, req)

	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.Kind != KindRequest || got.Method != MethodFindNode || got.Txid != 42 || got.Version != 1 {
		t.Fatalf("envelope mismatch: %+v", got)
	}
	if !reflect.DeepEqual(got.Request.Target, req.Target) {
		t.Fatalf("target mismatch")
	}
	if got.Request.Want != req.Want {
		t.Fatalf("want bitmask mismatch")
	}
}

func TestEncodeDecode_FindNodeResponseWithNodes(t *testing.T) {
	nid, _ := id.Random()
	node := kbucket.NodeInfo{ID: nid, Addr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1").To4(), Port: 6881}, Version: 2}

	resp := &ResponseBody{
		NodesV4: EncodeNodeInfos([]kbucket.NodeInfo{node}),
		Token:   []byte("tok-bytes"),
	}
	msg := NewResponse(MethodFindNode, 7, 1, resp)

	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	decoded := DecodeNodeInfos(got.Response.NodesV4)
	if len(decoded) != 1 {
		t.Fatalf("expected one node, got %d", len(decoded))
	}
	if decoded[0].ID != node.ID {
		t.Fatalf("node id mismatch")
	}
	if decoded[0].Addr.Port != 6881 {
		t.Fatalf("node port mismatch: %d", decoded[0].Addr.Port)
	}
}

func TestEncodeDecode_ErrorMessage(t *testing.T) {
	msg := NewErrorMessage(MethodPing, 9, 1, 203, "bad token")

	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindError || got.Error.Code != 203 || got.Error.Message != "bad token" {
		t.Fatalf("error body mismatch: %+v", got.Error)
	}
}

func TestPeerGroup_RoundTrip(t *testing.T) {
	nodeID, _ := id.Random()
	origin, _ := id.Random()
	peerID, _ := id.Random()

	resp := &ResponseBody{
		Peers: &PeerGroup{
			PeerID: peerID.Bytes(),
			Announcements: []PeerAnnouncement{
				{NodeID: nodeID.Bytes(), Origin: origin.Bytes(), Port: 443, AlternativeURL: "https://example.com", Signature: []byte("sig")},
			},
		},
	}
	msg := NewResponse(MethodFindPeer, 1, 1, resp)

	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.Response.Peers == nil {
		t.Fatalf("expected peer group")
	}
	if !reflect.DeepEqual(got.Response.Peers.PeerID, resp.Peers.PeerID) {
		t.Fatalf("peer id mismatch")
	}
	if len(got.Response.Peers.Announcements) != 1 {
		t.Fatalf("expected one announcement, got %d", len(got.Response.Peers.Announcements))
	}
	ann := got.Response.Peers.Announcements[0]
	if ann.Port != 443 || ann.AlternativeURL != "https://example.com" {
		t.Fatalf("announcement mismatch: %+v", ann)
	}
}

func TestPeerGroup_EmptyRoundTrip(t *testing.T) {
	resp := &ResponseBody{Peers: &PeerGroup{}}
	msg := NewResponse(MethodFindPeer, 2, 1, resp)

	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Response.Peers == nil {
		t.Fatalf("expected non-nil peer group even when empty")
	}
	if len(got.Response.Peers.Announcements) != 0 {
		t.Fatalf("expected no announcements, got %d", len(got.Response.Peers.Announcements))
	}
}
