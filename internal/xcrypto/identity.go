package xcrypto

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vael/warren/internal/id"
)

// Identity is a node's (or a value/peer author's) Ed25519 keypair; the
// public half, byte-for-byte, is the node Id.
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// ID returns the identity's public key reinterpreted as an Id.
func (ident Identity) ID() id.Id {
	var out id.Id
	copy(out[:], ident.Public)
	return out
}

// Generate creates a fresh random identity.
func Generate() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return Identity{}, fmt.Errorf("xcrypto: generate identity: %w", err)
	}
	return Identity{Public: pub, Private: priv}, nil
}

// LoadOrCreate reads the 64-byte Ed25519 private key from
// <dir>/key, generating and persisting a fresh one (plus the textual
// <dir>/id hex file) if it does not exist yet, per the on-disk key
// material layout.
func LoadOrCreate(dir string) (Identity, error) {
	keyPath := filepath.Join(dir, "key")
	idPath := filepath.Join(dir, "id")

	raw, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(raw) != ed25519.PrivateKeySize {
			return Identity{}, fmt.Errorf("xcrypto: %s: expected %d bytes, got %d", keyPath, ed25519.PrivateKeySize, len(raw))
		}
		priv := ed25519.PrivateKey(raw)
		pub := priv.Public().(ed25519.PublicKey)
		return Identity{Public: pub, Private: priv}, nil

	case os.IsNotExist(err):
		ident, genErr := Generate()
		if genErr != nil {
			return Identity{}, genErr
		}
		if mkErr := os.MkdirAll(dir, 0o700); mkErr != nil {
			return Identity{}, fmt.Errorf("xcrypto: create %s: %w", dir, mkErr)
		}
		if wErr := os.WriteFile(keyPath, ident.Private, 0o600); wErr != nil {
			return Identity{}, fmt.Errorf("xcrypto: write %s: %w", keyPath, wErr)
		}
		if wErr := os.WriteFile(idPath, []byte(ident.ID().Hex()), 0o644); wErr != nil {
			return Identity{}, fmt.Errorf("xcrypto: write %s: %w", idPath, wErr)
		}
		return ident, nil

	default:
		return Identity{}, fmt.Errorf("xcrypto: read %s: %w", keyPath, err)
	}
}

// X25519Public returns the identity's Id converted for encryption.
func (ident Identity) X25519Public() ([32]byte, error) {
	return EdPublicKeyToX25519(ident.Public)
}

// X25519Private returns the identity's private scalar for encryption.
func (ident Identity) X25519Private() ([32]byte, error) {
	return EdPrivateKeyToX25519(ident.Private)
}
