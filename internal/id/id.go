// Package id implements the 256-bit node/content identifier used
// throughout the DHT: routing table keys, value hashes, and public keys
// all share this type.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Size is the width of an Id in bytes (256 bits).
const Size = 32

// flickrAlphabet is the Base58 alphabet popularized by Flickr, used in
// preference to the Bitcoin alphabet so ids sort differently than coin
// addresses pasted from the same terminal.
const flickrAlphabet = "123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

var alphabet = base58.NewAlphabet(flickrAlphabet)

// ErrLength is returned when decoding input of the wrong size.
var ErrLength = errors.New("id: wrong length")

// Id is an unsigned 256-bit integer, big-endian, used as a node
// identity, a value's content address, or a peer's public key.
type Id [Size]byte

// Zero is the all-zero id, the identity element for XOR distance.
var Zero Id

// Max is the all-ones id, the farthest point from Zero.
var Max = func() Id {
	var m Id
	for i := range m {
		m[i] = 0xff
	}
	return m
}()

// Random returns a cryptographically random id.
func Random() (Id, error) {
	var out Id
	if _, err := rand.Read(out[:]); err != nil {
		return Id{}, fmt.Errorf("id: random: %w", err)
	}
	return out, nil
}

// FromBytes copies b into an Id, requiring an exact length match.
func FromBytes(b []byte) (Id, error) {
	var out Id
	if len(b) != Size {
		return out, ErrLength
	}
	copy(out[:], b)
	return out, nil
}

// FromHex decodes a 64-character lowercase hex string.
func FromHex(s string) (Id, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Id{}, fmt.Errorf("id: hex: %w", err)
	}
	return FromBytes(b)
}

// FromBase58 decodes a Flickr-alphabet Base58 string.
func FromBase58(s string) (Id, error) {
	b, err := base58.DecodeAlphabet(s, alphabet)
	if err != nil {
		return Id{}, fmt.Errorf("id: base58: %w", err)
	}
	return FromBytes(b)
}

// Bytes returns a copy of the id's raw bytes.
func (i Id) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, i[:])
	return out
}

// Hex returns the lowercase hex encoding.
func (i Id) Hex() string {
	return hex.EncodeToString(i[:])
}

// Base58 returns the Flickr-alphabet Base58 encoding.
func (i Id) Base58() string {
	return base58.EncodeAlphabet(i[:], alphabet)
}

func (i Id) String() string {
	return i.Hex()
}

// Equal reports whether two ids are identical.
func (i Id) Equal(o Id) bool {
	return i == o
}

// Cmp returns -1, 0, or 1 as i is less than, equal to, or greater than
// o, treating both as big-endian unsigned integers.
func (i Id) Cmp(o Id) int {
	for k := 0; k < Size; k++ {
		if i[k] != o[k] {
			if i[k] < o[k] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Bit returns the value of bit n, where bit 0 is the most significant
// bit of the identifier.
func (i Id) Bit(n int) int {
	if n < 0 || n >= Size*8 {
		return 0
	}
	byteIdx := n / 8
	bitIdx := uint(n % 8)
	return int((i[byteIdx] >> (7 - bitIdx)) & 1)
}

// WithBit returns a copy of i with bit n set to v (0 or 1).
func (i Id) WithBit(n int, v int) Id {
	out := i
	byteIdx := n / 8
	bitIdx := uint(n % 8)
	mask := byte(1) << (7 - bitIdx)
	if v != 0 {
		out[byteIdx] |= mask
	} else {
		out[byteIdx] &^= mask
	}
	return out
}
