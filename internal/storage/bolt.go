package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/record"
)

var (
	valuesBucket = []byte("values")
	peersBucket  = []byte("peers")
)

// Bolt is a boltdb-backed Storage implementation: every value and
// peer entry is gob-encoded and written under its own key, giving
// crash-safe persistence across restarts without requiring any
// compaction or write-ahead log of our own.
type Bolt struct {
	db *bolt.DB
}

// Open creates or opens the node.db file at path, ensuring both
// buckets exist.
func Open(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(valuesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(peersBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func peerDBKey(peerID, origin id.Id) []byte {
	out := make([]byte, 0, id.Size*2)
	out = append(out, peerID.Bytes()...)
	out = append(out, origin.Bytes()...)
	return out
}

func (b *Bolt) GetValue(valueID id.Id) (*record.Value, bool, error) {
	var entry valueEntry
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(valuesBucket).Get(valueID[:])
		if data == nil {
			return nil
		}
		found = true
		return decodeGob(data, &entry)
	})
	if err != nil || !found {
		return nil, false, err
	}
	return entry.Value, true, nil
}

func (b *Bolt) PutValue(v *record.Value, persistent bool) error {
	entry := valueEntry{Value: v, Persistent: persistent, LastAnnounced: time.Now()}
	data, err := encodeGob(entry)
	if err != nil {
		return fmt.Errorf("storage: encode value: %w", err)
	}
	valueID := v.ID()
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).Put(valueID[:], data)
	})
}

func (b *Bolt) RemoveValue(valueID id.Id) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).Delete(valueID[:])
	})
}

func (b *Bolt) UpdateValueLastAnnounce(valueID id.Id) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(valuesBucket)
		data := bucket.Get(valueID[:])
		if data == nil {
			return nil
		}
		var entry valueEntry
		if err := decodeGob(data, &entry); err != nil {
			return err
		}
		entry.LastAnnounced = time.Now()
		encoded, err := encodeGob(entry)
		if err != nil {
			return err
		}
		return bucket.Put(valueID[:], encoded)
	})
}

func (b *Bolt) GetPersistentValues(olderThan time.Time) ([]*record.Value, error) {
	var out []*record.Value
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).ForEach(func(_, data []byte) error {
			var entry valueEntry
			if err := decodeGob(data, &entry); err != nil {
				return err
			}
			if entry.Persistent && entry.LastAnnounced.Before(olderThan) {
				out = append(out, entry.Value)
			}
			return nil
		})
	})
	return out, err
}

func (b *Bolt) GetAllValues() ([]*record.Value, error) {
	var out []*record.Value
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).ForEach(func(_, data []byte) error {
			var entry valueEntry
			if err := decodeGob(data, &entry); err != nil {
				return err
			}
			out = append(out, entry.Value)
			return nil
		})
	})
	return out, err
}

func (b *Bolt) GetPeers(peerID id.Id, max int) ([]*record.Peer, error) {
	var out []*record.Peer
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucket).ForEach(func(k, data []byte) error {
			if len(k) < id.Size || !bytes.Equal(k[:id.Size], peerID[:]) {
				return nil
			}
			var entry peerEntry
			if err := decodeGob(data, &entry); err != nil {
				return err
			}
			out = append(out, entry.Peer)
			if max > 0 && len(out) >= max {
				return errStop
			}
			return nil
		})
	})
	if err == errStop {
		err = nil
	}
	return out, err
}

var errStop = fmt.Errorf("storage: stop iteration")

func (b *Bolt) GetPeer(peerID id.Id, origin id.Id) (*record.Peer, bool, error) {
	var entry peerEntry
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(peersBucket).Get(peerDBKey(peerID, origin))
		if data == nil {
			return nil
		}
		found = true
		return decodeGob(data, &entry)
	})
	if err != nil || !found {
		return nil, false, err
	}
	return entry.Peer, true, nil
}

func (b *Bolt) PutPeer(p *record.Peer, persistent bool, updateLastAnnounce bool) error {
	key := peerDBKey(p.ID(), peerOrigin(p))
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(peersBucket)

		entry := peerEntry{Peer: p, Persistent: persistent, LastAnnounced: time.Now()}
		if !updateLastAnnounce {
			if existing := bucket.Get(key); existing != nil {
				var prev peerEntry
				if err := decodeGob(existing, &prev); err == nil {
					entry.LastAnnounced = prev.LastAnnounced
				}
			}
		}

		data, err := encodeGob(entry)
		if err != nil {
			return err
		}
		return bucket.Put(key, data)
	})
}

func (b *Bolt) RemovePeer(peerID id.Id, origin id.Id) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucket).Delete(peerDBKey(peerID, origin))
	})
}

func (b *Bolt) UpdatePeerLastAnnounce(peerID id.Id, origin id.Id) error {
	key := peerDBKey(peerID, origin)
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(peersBucket)
		data := bucket.Get(key)
		if data == nil {
			return nil
		}
		var entry peerEntry
		if err := decodeGob(data, &entry); err != nil {
			return err
		}
		entry.LastAnnounced = time.Now()
		encoded, err := encodeGob(entry)
		if err != nil {
			return err
		}
		return bucket.Put(key, encoded)
	})
}

func (b *Bolt) GetPersistentPeers(olderThan time.Time) ([]*record.Peer, error) {
	var out []*record.Peer
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucket).ForEach(func(_, data []byte) error {
			var entry peerEntry
			if err := decodeGob(data, &entry); err != nil {
				return err
			}
			if entry.Persistent && entry.LastAnnounced.Before(olderThan) {
				out = append(out, entry.Peer)
			}
			return nil
		})
	})
	return out, err
}

func (b *Bolt) GetAllPeerIDs() ([]id.Id, error) {
	seen := make(map[id.Id]struct{})
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucket).ForEach(func(k, _ []byte) error {
			if len(k) < id.Size {
				return nil
			}
			peerID, err := id.FromBytes(k[:id.Size])
			if err != nil {
				return nil
			}
			seen[peerID] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]id.Id, 0, len(seen))
	for peerID := range seen {
		out = append(out, peerID)
	}
	return out, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
