package xcrypto

import (
	"bytes"
	"testing"

	"github.com/vael/warren/internal/id"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	ident, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	msg := []byte("hello, kademlia")
	sig := Sign(ident.Private, msg)

	if !Verify(ident.Public, msg, sig) {
		t.Fatalf("signature should verify")
	}
	if Verify(ident.Public, []byte("tampered"), sig) {
		t.Fatalf("signature should not verify over different data")
	}
}

func TestX25519ConversionProducesUsableKeyAgreement(t *testing.T) {
	alice, err := Generate()
	if err != nil {
		t.Fatalf("generate alice: %v", err)
	}
	bob, err := Generate()
	if err != nil {
		t.Fatalf("generate bob: %v", err)
	}

	aliceXPub, err := alice.X25519Public()
	if err != nil {
		t.Fatalf("alice x25519 public: %v", err)
	}
	aliceXPriv, err := alice.X25519Private()
	if err != nil {
		t.Fatalf("alice x25519 private: %v", err)
	}
	bobXPub, err := bob.X25519Public()
	if err != nil {
		t.Fatalf("bob x25519 public: %v", err)
	}
	bobXPriv, err := bob.X25519Private()
	if err != nil {
		t.Fatalf("bob x25519 private: %v", err)
	}

	aliceCache := NewKeyCache(aliceXPriv)
	bobCache := NewKeyCache(bobXPriv)

	var aliceID, bobID id.Id
	copy(aliceID[:], alice.Public)
	copy(bobID[:], bob.Public)
	_ = aliceXPub
	_ = bobXPub

	plaintext := []byte("store this value")
	ciphertext, err := aliceCache.Seal(aliceID, bobID, plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	got, ok, err := bobCache.Open(bobID, aliceID, ciphertext)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !ok {
		t.Fatalf("open should succeed with matching key agreement")
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("decrypted plaintext mismatch: got %q want %q", got, plaintext)
	}
}

func TestEnvelopeOpen_RejectsTamperedCiphertext(t *testing.T) {
	alice, _ := Generate()
	bob, _ := Generate()

	aliceXPriv, _ := alice.X25519Private()
	bobXPriv, _ := bob.X25519Private()

	aliceCache := NewKeyCache(aliceXPriv)
	bobCache := NewKeyCache(bobXPriv)

	var aliceID, bobID id.Id
	copy(aliceID[:], alice.Public)
	copy(bobID[:], bob.Public)

	ciphertext, err := aliceCache.Seal(aliceID, bobID, []byte("hello"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	ciphertext[0] ^= 0xff

	_, ok, err := bobCache.Open(bobID, aliceID, ciphertext)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if ok {
		t.Fatalf("tampered ciphertext must not decrypt")
	}
}
