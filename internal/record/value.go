// Package record implements the two payload kinds the DHT stores:
// Values (signed/encrypted blobs addressed by content hash or public
// key) and Peers (signed service-announcement records). Both carry
// their own canonical-id derivation and signature verification,
// independent of the routing and RPC layers.
package record

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/vael/warren/internal/id"
)

// Value is a stored payload. Exactly one of two shapes applies:
//
//   - immutable: PublicKey is nil, Id = SHA-256(Data).
//   - mutable (optionally encrypted): PublicKey is set, Id =
//     SHA-256(PublicKey || Nonce), and Signature covers
//     (Recipient? || Nonce || SequenceNumber || Data).
type Value struct {
	PublicKey      *id.Id   // nil for immutable values
	Recipient      *id.Id   // set only for encrypted mutable values
	Nonce          [24]byte // required when PublicKey is set
	Signature      []byte   // required when PublicKey is set
	Data           []byte   // plaintext, or ciphertext when Recipient is set
	SequenceNumber uint32
}

// IsMutable reports whether v is a signed (public-key-addressed) value.
func (v *Value) IsMutable() bool {
	return v.PublicKey != nil
}

// IsEncrypted reports whether v's Data is ciphertext.
func (v *Value) IsEncrypted() bool {
	return v.Recipient != nil
}

// ID computes the value's canonical content address.
func (v *Value) ID() id.Id {
	if !v.IsMutable() {
		sum := sha256.Sum256(v.Data)
		out, _ := id.FromBytes(sum[:])
		return out
	}

	h := sha256.New()
	h.Write(v.PublicKey[:])
	h.Write(v.Nonce[:])
	sum := h.Sum(nil)
	out, _ := id.FromBytes(sum)
	return out
}

// signaturePayload builds the byte string a mutable value's Signature
// covers: recipient? || nonce || seq_le32 || data.
func (v *Value) signaturePayload() []byte {
	var buf []byte
	if v.Recipient != nil {
		buf = append(buf, v.Recipient[:]...)
	}
	buf = append(buf, v.Nonce[:]...)

	var seq [4]byte
	binary.LittleEndian.PutUint32(seq[:], v.SequenceNumber)
	buf = append(buf, seq[:]...)

	buf = append(buf, v.Data...)
	return buf
}

// Sign computes and stores the Ed25519 signature for a mutable value.
// priv must correspond to PublicKey.
func (v *Value) Sign(priv ed25519.PrivateKey) error {
	if !v.IsMutable() {
		return fmt.Errorf("record: cannot sign an immutable value")
	}
	v.Signature = ed25519.Sign(priv, v.signaturePayload())
	return nil
}

// IsValid checks structural and cryptographic validity: for immutable
// values, only that Data is non-empty; for mutable values, that the
// signature verifies under PublicKey.
func (v *Value) IsValid() bool {
	if !v.IsMutable() {
		return len(v.Data) > 0
	}
	if len(v.Signature) == 0 {
		return false
	}
	return ed25519.Verify(v.PublicKey[:], v.signaturePayload(), v.Signature)
}

// Encrypt replaces Data with the ciphertext of plaintext under
// X25519(senderPriv, recipientPub), keyed by v.Nonce, and records
// Recipient so verifiers can redo the key agreement. The signature
// must be (re)computed afterward, since it covers the ciphertext form.
func (v *Value) Encrypt(senderPriv [32]byte, recipientPub [32]byte, recipient id.Id, plaintext []byte) {
	v.Recipient = &recipient
	v.Data = box.Seal(nil, plaintext, &v.Nonce, &recipientPub, &senderPriv)
}

// Decrypt recovers the plaintext of an encrypted mutable value, given
// the recipient's private scalar and the sender's X25519 public key
// (derived from PublicKey by the caller).
func (v *Value) Decrypt(recipientPriv [32]byte, senderPub [32]byte) ([]byte, bool) {
	return box.Open(nil, v.Data, &v.Nonce, &senderPub, &recipientPriv)
}
