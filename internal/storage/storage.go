// Package storage implements the value/peer persistence contract the
// DHT controller calls from its single I/O thread: an in-memory
// backend for tests and ephemeral nodes, and a boltdb-backed backend
// for durable ones.
package storage

import (
	"time"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/record"
)

// Storage is the persistence contract a DHT controller consumes.
// Implementations are only ever called from the owning DHT's I/O
// thread and need not be safe for concurrent use from elsewhere.
type Storage interface {
	GetValue(valueID id.Id) (*record.Value, bool, error)
	PutValue(v *record.Value, persistent bool) error
	RemoveValue(valueID id.Id) error
	UpdateValueLastAnnounce(valueID id.Id) error
	GetPersistentValues(olderThan time.Time) ([]*record.Value, error)
	GetAllValues() ([]*record.Value, error)

	GetPeers(peerID id.Id, max int) ([]*record.Peer, error)
	GetPeer(peerID id.Id, origin id.Id) (*record.Peer, bool, error)
	PutPeer(p *record.Peer, persistent bool, updateLastAnnounce bool) error
	RemovePeer(peerID id.Id, origin id.Id) error
	UpdatePeerLastAnnounce(peerID id.Id, origin id.Id) error
	GetPersistentPeers(olderThan time.Time) ([]*record.Peer, error)
	GetAllPeerIDs() ([]id.Id, error)

	Close() error
}

// valueEntry bundles a Value with the bookkeeping storage needs but
// the wire format doesn't carry.
type valueEntry struct {
	Value         *record.Value
	Persistent    bool
	LastAnnounced time.Time
}

// peerEntry is the peer-side equivalent of valueEntry.
type peerEntry struct {
	Peer          *record.Peer
	Persistent    bool
	LastAnnounced time.Time
}

// peerOrigin resolves the origin key a Peer is stored/looked-up
// under: its own NodeID when non-delegated, the Peer's declared
// Origin otherwise. Two delegated announcements for the same
// PublicKey from different origins are distinct entries.
func peerOrigin(p *record.Peer) id.Id {
	if p.Origin != nil {
		return *p.Origin
	}
	return p.NodeID
}
