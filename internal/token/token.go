// Package token implements the rotating MAC that gates announce_peer
// and store_value: a requester must present a token handed out by a
// recent find_node/find_peer/find_value response against the same
// node before it may announce.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/vael/warren/internal/id"
)

// Epoch is the default for how long a secret remains "current" before
// it rotates to "previous" and a fresh one is drawn. Tokens generated
// under either the current or the immediately preceding secret verify,
// giving callers up to 2*Epoch to redeem a token.
const Epoch = 5 * time.Minute

// Size is the length in bytes of a generated token.
const Size = 4

type epoch struct {
	secret [32]byte
	since  time.Time
}

// Manager is a stateless MAC keyed by a rotating secret. It is used
// from the Server's I/O thread, and one Manager is shared by both
// address families' DHTs; the mutex exists only because
// maintenance ticks and handler calls may interleave within that
// thread's reentrant call stack, not for cross-thread sharing.
type Manager struct {
	mut      sync.Mutex
	epoch    time.Duration
	current  epoch
	previous epoch
}

// New creates a Manager with a freshly drawn secret and the default
// Epoch.
func New() (*Manager, error) {
	return NewWithEpoch(Epoch)
}

// NewWithEpoch creates a Manager rotating its secret every d. A
// non-positive d falls back to the default Epoch.
func NewWithEpoch(d time.Duration) (*Manager, error) {
	if d <= 0 {
		d = Epoch
	}
	m := &Manager{epoch: d}
	now := time.Now()
	if err := randomEpoch(&m.current, now); err != nil {
		return nil, err
	}
	if err := randomEpoch(&m.previous, now.Add(-d)); err != nil {
		return nil, err
	}
	return m, nil
}

func randomEpoch(e *epoch, since time.Time) error {
	if _, err := rand.Read(e.secret[:]); err != nil {
		return err
	}
	e.since = since
	return nil
}

// rotateIfExpired advances the epoch when the current secret has
// outlived the rotation interval. A single shift is only correct when
// less than two intervals have passed; after a longer quiet gap both
// slots are redrawn, otherwise the stale secret would survive in
// previous and stretch a token's accepted window past 2*epoch.
// Caller must hold mut.
func (m *Manager) rotateIfExpired(now time.Time) {
	age := now.Sub(m.current.since)
	if age < m.epoch {
		return
	}

	if age >= 2*m.epoch {
		if err := randomEpoch(&m.previous, now.Add(-m.epoch)); err != nil {
			m.previous.since = now.Add(-m.epoch)
		}
	} else {
		m.previous = m.current
	}
	if err := randomEpoch(&m.current, now); err != nil {
		// Extremely unlikely (crypto/rand failure); keep the old
		// secret rather than leave the manager keyless.
		m.current.since = now
	}
}

// Generate computes a token for (senderID, senderAddr, targetID)
// under the current secret, rotating first if the current epoch has
// expired.
func (m *Manager) Generate(senderID id.Id, senderAddr *net.UDPAddr, targetID id.Id) []byte {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.rotateIfExpired(time.Now())
	return compute(senderID, senderAddr, targetID, m.current.secret, m.current.since)
}

// Verify reports whether token was generated for (senderID,
// senderAddr, targetID) under either the current or previous secret.
func (m *Manager) Verify(senderID id.Id, senderAddr *net.UDPAddr, targetID id.Id, token []byte) bool {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.rotateIfExpired(time.Now())

	want := compute(senderID, senderAddr, targetID, m.current.secret, m.current.since)
	if constantTimeEqual(token, want) {
		return true
	}
	want = compute(senderID, senderAddr, targetID, m.previous.secret, m.previous.since)
	return constantTimeEqual(token, want)
}

// compute implements the formula: first 32 bits of
// SHA-256(sender_id || port_le16 || target_id || ip_bytes ||
// timestamp_ms_le128 || secret), offset-folded by the low 5 bits of
// digest[0]. The 4-byte output window starts at that offset into the
// 32-byte digest and wraps around.
func compute(senderID id.Id, senderAddr *net.UDPAddr, targetID id.Id, secret [32]byte, epochStart time.Time) []byte {
	h := sha256.New()
	h.Write(senderID[:])

	var port [2]byte
	binary.LittleEndian.PutUint16(port[:], uint16(senderAddr.Port))
	h.Write(port[:])

	h.Write(targetID[:])

	ip := senderAddr.IP.To4()
	if ip == nil {
		ip = senderAddr.IP.To16()
	}
	h.Write(ip)

	var ts [16]byte
	binary.LittleEndian.PutUint64(ts[:8], uint64(epochStart.UnixMilli()))
	h.Write(ts[:])

	h.Write(secret[:])

	digest := h.Sum(nil)
	offset := int(digest[0] & 0x1f)

	out := make([]byte, Size)
	for i := 0; i < Size; i++ {
		out[i] = digest[(offset+i)%len(digest)]
	}
	return out
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
