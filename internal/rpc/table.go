package rpc

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// Table is a DHT's live transaction set, keyed by txid. Only the
// owning I/O thread ever touches it, but the mutex guards against
// accidental cross-goroutine access during refactors rather than being
// load-bearing for correctness.
type Table struct {
	mut   sync.Mutex
	calls map[uint32]*Call
}

// NewTable creates an empty transaction table.
func NewTable() *Table {
	return &Table{calls: make(map[uint32]*Call)}
}

// NextTxid draws a random nonzero txid not already in use.
func (t *Table) NextTxid() uint32 {
	t.mut.Lock()
	defer t.mut.Unlock()

	for {
		var buf [4]byte
		rand.Read(buf[:])
		txid := binary.BigEndian.Uint32(buf[:])
		if txid == 0 {
			continue
		}
		if _, exists := t.calls[txid]; exists {
			continue
		}
		return txid
	}
}

// Register records an in-flight call under its txid.
func (t *Table) Register(c *Call) {
	t.mut.Lock()
	defer t.mut.Unlock()
	t.calls[c.Txid] = c
}

// Get looks up a call by txid.
func (t *Table) Get(txid uint32) (*Call, bool) {
	t.mut.Lock()
	defer t.mut.Unlock()
	c, ok := t.calls[txid]
	return c, ok
}

// Remove drops a txid from the table, e.g. once terminal.
func (t *Table) Remove(txid uint32) {
	t.mut.Lock()
	defer t.mut.Unlock()
	delete(t.calls, txid)
}

// Len reports the number of in-flight calls.
func (t *Table) Len() int {
	t.mut.Lock()
	defer t.mut.Unlock()
	return len(t.calls)
}

// All returns a snapshot slice of every in-flight call, for periodic
// sweeps (e.g. canceling on shutdown).
func (t *Table) All() []*Call {
	t.mut.Lock()
	defer t.mut.Unlock()
	out := make([]*Call, 0, len(t.calls))
	for _, c := range t.calls {
		out = append(out, c)
	}
	return out
}
