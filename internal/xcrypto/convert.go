package xcrypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"
	"math/big"
)

// p is the field prime 2^255 - 19 underlying both Curve25519 and the
// Edwards curve Ed25519 is defined over, which is what makes the
// birational map between them possible.
var p = func() *big.Int {
	v := new(big.Int).Lsh(big.NewInt(1), 255)
	return v.Sub(v, big.NewInt(19))
}()

// EdPublicKeyToX25519 converts an Ed25519 public key (the node's Id)
// into its corresponding X25519 (Curve25519/Montgomery) public key,
// via the standard birational map u = (1+y)/(1-y) mod p between the
// twisted Edwards and Montgomery forms of the same curve.
func EdPublicKeyToX25519(pub ed25519.PublicKey) ([32]byte, error) {
	var out [32]byte
	if len(pub) != ed25519.PublicKeySize {
		return out, fmt.Errorf("xcrypto: ed25519 public key must be %d bytes", ed25519.PublicKeySize)
	}

	y := littleEndianToBig(pub, true)

	num := new(big.Int).Add(big.NewInt(1), y)
	num.Mod(num, p)

	den := new(big.Int).Sub(big.NewInt(1), y)
	den.Mod(den, p)
	den.ModInverse(den, p)

	u := num.Mul(num, den)
	u.Mod(u, p)

	bigToLittleEndian(u, out[:])
	return out, nil
}

// EdPrivateKeyToX25519 derives the X25519 private scalar matching
// EdPublicKeyToX25519(pub) for the same keypair, following the same
// seed-expansion-and-clamp rule the Ed25519 signing algorithm itself
// uses to turn a 32-byte seed into a scalar.
func EdPrivateKeyToX25519(priv ed25519.PrivateKey) ([32]byte, error) {
	var out [32]byte
	if len(priv) != ed25519.PrivateKeySize {
		return out, fmt.Errorf("xcrypto: ed25519 private key must be %d bytes", ed25519.PrivateKeySize)
	}

	seed := priv.Seed()
	h := sha512.Sum512(seed)
	copy(out[:], h[:32])

	out[0] &= 248
	out[31] &= 127
	out[31] |= 64

	return out, nil
}

// littleEndianToBig interprets b as a little-endian integer. When
// clearSignBit is set, the top bit of the final byte (the Ed25519
// compressed-point sign bit) is masked off first, as the birational
// map only needs the y-coordinate magnitude.
func littleEndianToBig(b []byte, clearSignBit bool) *big.Int {
	buf := make([]byte, len(b))
	copy(buf, b)
	if clearSignBit {
		buf[len(buf)-1] &= 0x7f
	}

	// big.Int.SetBytes expects big-endian, so reverse.
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}

	return new(big.Int).SetBytes(buf)
}

func bigToLittleEndian(v *big.Int, out []byte) {
	be := v.Bytes()
	for i := range out {
		out[i] = 0
	}
	for i := 0; i < len(be) && i < len(out); i++ {
		out[i] = be[len(be)-1-i]
	}
}
