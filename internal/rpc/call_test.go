package rpc

import (
	"net"
	"testing"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/wire"
)

func newTestRequest(txid uint32) *wire.Message {
	return wire.NewRequest(wire.MethodPing, txid, 1, &wire.RequestBody{})
}

func TestCall_HappyPathResponsed(t *testing.T) {
	target, _ := id.Random()
	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881}

	var gotResp *wire.Message
	done := 0
	c := New(newTestRequest(1), target, dest, func(call *Call, resp *wire.Message) {
		done++
		gotResp = resp
	})

	c.MarkSent()
	if c.State != Sent {
		t.Fatalf("expected Sent, got %s", c.State)
	}

	resp := wire.NewResponse(wire.MethodPing, 1, 1, &wire.ResponseBody{})
	c.Complete(resp)
	if c.State != Responsed {
		t.Fatalf("expected Responsed, got %s", c.State)
	}
	if done != 1 {
		t.Fatalf("expected callback exactly once, got %d", done)
	}
	if gotResp != resp {
		t.Fatalf("callback should receive the response message")
	}

	// A second completion must be a no-op.
	c.Complete(wire.NewResponse(wire.MethodPing, 1, 1, &wire.ResponseBody{}))
	if done != 1 {
		t.Fatalf("callback should not fire twice, got %d calls", done)
	}
}

func TestCall_ErrorKindTransitionsToErr(t *testing.T) {
	target, _ := id.Random()
	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881}
	c := New(newTestRequest(2), target, dest, nil)
	c.MarkSent()

	c.Complete(wire.NewErrorMessage(wire.MethodPing, 2, 1, 201, "bad token"))
	if c.State != Err {
		t.Fatalf("expected Err, got %s", c.State)
	}
}

func TestCall_StallThenTimeoutFiresOnce(t *testing.T) {
	target, _ := id.Random()
	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881}

	fired := 0
	c := New(newTestRequest(3), target, dest, func(call *Call, resp *wire.Message) { fired++ })
	c.MarkSent()
	c.MarkStalled()
	if c.State != Stalled {
		t.Fatalf("expected Stalled, got %s", c.State)
	}

	c.MarkTimeout()
	if c.State != Timeout {
		t.Fatalf("expected Timeout, got %s", c.State)
	}
	if fired != 1 {
		t.Fatalf("expected timeout callback exactly once, got %d", fired)
	}

	// A late response must not resurrect a terminal call.
	c.Complete(wire.NewResponse(wire.MethodPing, 3, 1, &wire.ResponseBody{}))
	if c.State != Timeout {
		t.Fatalf("terminal call should not transition again, got %s", c.State)
	}
	if fired != 1 {
		t.Fatalf("late response must not re-fire the callback, got %d calls", fired)
	}
}

func TestCall_CancelIsTerminalAndIdempotent(t *testing.T) {
	target, _ := id.Random()
	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881}
	fired := 0
	c := New(newTestRequest(4), target, dest, func(call *Call, resp *wire.Message) { fired++ })
	c.MarkSent()
	c.Cancel()
	if c.State != Canceled {
		t.Fatalf("expected Canceled, got %s", c.State)
	}
	c.MarkTimeout()
	if c.State != Canceled || fired != 1 {
		t.Fatalf("cancel should block later transitions, state=%s fired=%d", c.State, fired)
	}
}

func TestTable_NextTxidNeverZeroAndUnique(t *testing.T) {
	tb := NewTable()
	seen := make(map[uint32]bool)
	for i := 0; i < 100; i++ {
		txid := tb.NextTxid()
		if txid == 0 {
			t.Fatalf("txid must never be zero")
		}
		if seen[txid] {
			t.Fatalf("txid %d generated twice without registration colliding", txid)
		}
		seen[txid] = true
	}
}

func TestTable_RegisterGetRemove(t *testing.T) {
	tb := NewTable()
	target, _ := id.Random()
	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881}
	c := New(newTestRequest(5), target, dest, nil)

	tb.Register(c)
	if tb.Len() != 1 {
		t.Fatalf("expected 1 registered call, got %d", tb.Len())
	}

	got, ok := tb.Get(5)
	if !ok || got != c {
		t.Fatalf("expected to retrieve the registered call")
	}

	tb.Remove(5)
	if tb.Len() != 0 {
		t.Fatalf("expected table to be empty after removal")
	}
	if _, ok := tb.Get(5); ok {
		t.Fatalf("removed call should not be retrievable")
	}
}
