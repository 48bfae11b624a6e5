// Package rpc implements the per-transaction state machine a Server
// drives while a request is outstanding: Unsent through Sent to a
// terminal state (Responsed, Err, Timeout, or Canceled), with soft and
// hard deadlines scheduled on the Server's scheduler.
package rpc

import (
	"net"
	"time"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/wire"
)

// State is a Call's position in its lifecycle.
type State int

const (
	Unsent State = iota
	Sent
	Stalled
	Responsed
	Err
	Timeout
	Canceled
)

func (s State) String() string {
	switch s {
	case Unsent:
		return "unsent"
	case Sent:
		return "sent"
	case Stalled:
		return "stalled"
	case Responsed:
		return "responsed"
	case Err:
		return "err"
	case Timeout:
		return "timeout"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// terminal reports whether s admits no further transitions.
func (s State) terminal() bool {
	switch s {
	case Responsed, Err, Timeout, Canceled:
		return true
	default:
		return false
	}
}

// Done is invoked exactly once, when a Call reaches a terminal state.
// resp is nil unless State == Responsed.
type Done func(call *Call, resp *wire.Message)

// Call tracks one outstanding request awaiting a matching response.
type Call struct {
	Txid     uint32
	Method   wire.Method
	TargetID id.Id
	Dest     *net.UDPAddr
	Request  *wire.Message

	State       State
	SentAt      time.Time
	RespondedAt time.Time

	onDone Done
}

// New builds a Call in the Unsent state.
func New(req *wire.Message, targetID id.Id, dest *net.UDPAddr, onDone Done) *Call {
	return &Call{
		Txid:     req.Txid,
		Method:   req.Method,
		TargetID: targetID,
		Dest:     dest,
		Request:  req,
		State:    Unsent,
		onDone:   onDone,
	}
}

// MarkSent transitions Unsent -> Sent.
func (c *Call) MarkSent() {
	if c.State != Unsent {
		return
	}
	c.State = Sent
	c.SentAt = time.Now()
}

// MarkStalled transitions Sent -> Stalled at the soft deadline. A noop
// once the call has already reached a terminal state.
func (c *Call) MarkStalled() {
	if c.State == Sent {
		c.State = Stalled
	}
}

// MarkTimeout transitions Stalled -> Timeout at the hard deadline and
// fires the completion callback.
func (c *Call) MarkTimeout() {
	if c.State.terminal() {
		return
	}
	c.State = Timeout
	c.finish(nil)
}

// Cancel transitions any non-terminal call to Canceled. A response
// that arrives afterward is discarded by the caller (the Table no
// longer holds this txid once canceled).
func (c *Call) Cancel() {
	if c.State.terminal() {
		return
	}
	c.State = Canceled
	c.finish(nil)
}

// Complete resolves the call with an inbound message whose source
// address was verified to equal Dest: Responsed for a response body,
// Err for an error body.
func (c *Call) Complete(resp *wire.Message) {
	if c.State.terminal() {
		return
	}
	c.RespondedAt = time.Now()
	if resp.Kind == wire.KindError {
		c.State = Err
	} else {
		c.State = Responsed
	}
	c.finish(resp)
}

func (c *Call) finish(resp *wire.Message) {
	if c.onDone != nil {
		c.onDone(c, resp)
	}
}
