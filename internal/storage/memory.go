package storage

import (
	"sync"
	"time"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/record"
)

type peerKey struct {
	peer   id.Id
	origin id.Id
}

// Memory is an in-process Storage backend: no persistence across
// restarts, used for tests and nodes that opt out of durable caching.
type Memory struct {
	mut    sync.RWMutex
	values map[id.Id]*valueEntry
	peers  map[peerKey]*peerEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[id.Id]*valueEntry),
		peers:  make(map[peerKey]*peerEntry),
	}
}

func (m *Memory) GetValue(valueID id.Id) (*record.Value, bool, error) {
	m.mut.RLock()
	defer m.mut.RUnlock()
	e, ok := m.values[valueID]
	if !ok {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (m *Memory) PutValue(v *record.Value, persistent bool) error {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.values[v.ID()] = &valueEntry{Value: v, Persistent: persistent, LastAnnounced: time.Now()}
	return nil
}

func (m *Memory) RemoveValue(valueID id.Id) error {
	m.mut.Lock()
	defer m.mut.Unlock()
	delete(m.values, valueID)
	return nil
}

func (m *Memory) UpdateValueLastAnnounce(valueID id.Id) error {
	m.mut.Lock()
	defer m.mut.Unlock()
	if e, ok := m.values[valueID]; ok {
		e.LastAnnounced = time.Now()
	}
	return nil
}

func (m *Memory) GetPersistentValues(olderThan time.Time) ([]*record.Value, error) {
	m.mut.RLock()
	defer m.mut.RUnlock()
	var out []*record.Value
	for _, e := range m.values {
		if e.Persistent && e.LastAnnounced.Before(olderThan) {
			out = append(out, e.Value)
		}
	}
	return out, nil
}

func (m *Memory) GetAllValues() ([]*record.Value, error) {
	m.mut.RLock()
	defer m.mut.RUnlock()
	out := make([]*record.Value, 0, len(m.values))
	for _, e := range m.values {
		out = append(out, e.Value)
	}
	return out, nil
}

func (m *Memory) GetPeers(peerID id.Id, max int) ([]*record.Peer, error) {
	m.mut.RLock()
	defer m.mut.RUnlock()
	var out []*record.Peer
	for k, e := range m.peers {
		if k.peer != peerID {
			continue
		}
		out = append(out, e.Peer)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

func (m *Memory) GetPeer(peerID id.Id, origin id.Id) (*record.Peer, bool, error) {
	m.mut.RLock()
	defer m.mut.RUnlock()
	e, ok := m.peers[peerKey{peer: peerID, origin: origin}]
	if !ok {
		return nil, false, nil
	}
	return e.Peer, true, nil
}

func (m *Memory) PutPeer(p *record.Peer, persistent bool, updateLastAnnounce bool) error {
	m.mut.Lock()
	defer m.mut.Unlock()

	key := peerKey{peer: p.ID(), origin: peerOrigin(p)}
	entry, exists := m.peers[key]
	if !exists {
		entry = &peerEntry{}
		m.peers[key] = entry
	}
	entry.Peer = p
	entry.Persistent = persistent
	if updateLastAnnounce || !exists {
		entry.LastAnnounced = time.Now()
	}
	return nil
}

func (m *Memory) RemovePeer(peerID id.Id, origin id.Id) error {
	m.mut.Lock()
	defer m.mut.Unlock()
	delete(m.peers, peerKey{peer: peerID, origin: origin})
	return nil
}

func (m *Memory) UpdatePeerLastAnnounce(peerID id.Id, origin id.Id) error {
	m.mut.Lock()
	defer m.mut.Unlock()
	if e, ok := m.peers[peerKey{peer: peerID, origin: origin}]; ok {
		e.LastAnnounced = time.Now()
	}
	return nil
}

func (m *Memory) GetPersistentPeers(olderThan time.Time) ([]*record.Peer, error) {
	m.mut.RLock()
	defer m.mut.RUnlock()
	var out []*record.Peer
	for _, e := range m.peers {
		if e.Persistent && e.LastAnnounced.Before(olderThan) {
			out = append(out, e.Peer)
		}
	}
	return out, nil
}

func (m *Memory) GetAllPeerIDs() ([]id.Id, error) {
	m.mut.RLock()
	defer m.mut.RUnlock()
	seen := make(map[id.Id]struct{})
	for k := range m.peers {
		seen[k.peer] = struct{}{}
	}
	out := make([]id.Id, 0, len(seen))
	for peerID := range seen {
		out = append(out, peerID)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
