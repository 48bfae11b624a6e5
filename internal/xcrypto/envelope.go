// Package xcrypto implements the node identity, signing, and
// encrypted-envelope primitives the DHT wire protocol builds on:
// Ed25519 signatures for node/value/peer authentication, and
// X25519 + XSalsa20-Poly1305 (NaCl "box") for the per-datagram
// encryption envelope every packet on the wire is sealed in.
package xcrypto

import (
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/pkg/syncmap"
)

// NonceSize is the width of the box nonce: the XOR distance between
// local and sender id, truncated to 24 bytes.
const NonceSize = 24

// KeyCache memoizes the per-peer symmetric key derived from
// X25519(localPriv, peerPub) so repeated exchanges with the same peer
// avoid a fresh scalar multiplication every datagram.
type KeyCache struct {
	localPriv [32]byte
	shared    *syncmap.Map[id.Id, *[32]byte]
}

// NewKeyCache builds a cache bound to the local X25519 private scalar.
func NewKeyCache(localPriv [32]byte) *KeyCache {
	return &KeyCache{
		localPriv: localPriv,
		shared:    syncmap.New[id.Id, *[32]byte](),
	}
}

// SharedKey returns the precomputed symmetric key for peerID,
// converting its Ed25519 Id to an X25519 public key and running
// box.Precompute on first use.
func (c *KeyCache) SharedKey(peerID id.Id) (*[32]byte, error) {
	if key, ok := c.shared.Get(peerID); ok {
		return key, nil
	}

	peerPub, err := EdPublicKeyToX25519(peerID[:])
	if err != nil {
		return nil, fmt.Errorf("xcrypto: peer %s: %w", peerID, err)
	}

	var key [32]byte
	box.Precompute(&key, &peerPub, &c.localPriv)
	c.shared.Put(peerID, &key)
	return &key, nil
}

// Forget evicts a peer's cached key, e.g. after a crypto failure that
// suggests the peer rotated its identity material.
func (c *KeyCache) Forget(peerID id.Id) {
	c.shared.Delete(peerID)
}

// EnvelopeNonce derives the per-peer static nonce: the XOR distance
// between the local and remote ids, truncated to NonceSize bytes.
func EnvelopeNonce(local, remote id.Id) [NonceSize]byte {
	d := id.Distance(local, remote)
	var nonce [NonceSize]byte
	copy(nonce[:], d[:NonceSize])
	return nonce
}

// Seal encrypts plaintext for remote using the cached shared key and
// the per-peer nonce, returning ciphertext with the 16-byte Poly1305
// tag appended (box's standard layout).
func (c *KeyCache) Seal(local, remote id.Id, plaintext []byte) ([]byte, error) {
	key, err := c.SharedKey(remote)
	if err != nil {
		return nil, err
	}
	nonce := EnvelopeNonce(local, remote)
	return box.SealAfterPrecomputation(nil, plaintext, &nonce, key), nil
}

// Open decrypts ciphertext received from remote, verifying the
// Poly1305 tag. A false return means the datagram must be dropped:
// either it was forged, corrupted, or the peer Id does not match the
// sender the packet actually came from.
func (c *KeyCache) Open(local, remote id.Id, ciphertext []byte) ([]byte, bool, error) {
	key, err := c.SharedKey(remote)
	if err != nil {
		return nil, false, err
	}
	nonce := EnvelopeNonce(local, remote)
	plaintext, ok := box.OpenAfterPrecomputation(nil, ciphertext, &nonce, key)
	return plaintext, ok, nil
}
