package record

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/vael/warren/internal/id"
)

// Peer is a signed service-announcement record pointing at a
// host:port the announcer controls. PublicKey is the peer's own
// identity keypair, independent from NodeID, the DHT node that
// performed the announce_peer RPC; Origin, when set, names a third
// party this is a delegated announcement on behalf of.
type Peer struct {
	PublicKey      id.Id // the peer identity; also the lookup key
	NodeID         id.Id // announcing DHT node
	Origin         *id.Id
	Port           uint16
	AlternativeURL string // stored in Unicode NFC form
	Signature      []byte
}

// NewPeer builds a Peer, normalizing alternativeURL to NFC as required
// by the wire format.
func NewPeer(publicKey, nodeID id.Id, origin *id.Id, port uint16, alternativeURL string) *Peer {
	return &Peer{
		PublicKey:      publicKey,
		NodeID:         nodeID,
		Origin:         origin,
		Port:           port,
		AlternativeURL: norm.NFC.String(alternativeURL),
	}
}

// ID is the peer's lookup key.
func (p *Peer) ID() id.Id {
	return p.PublicKey
}

// IsDelegated reports whether this is an announcement the DHT node
// made on behalf of a different service owner.
func (p *Peer) IsDelegated() bool {
	return p.Origin != nil && *p.Origin != p.NodeID
}

// signaturePayload builds the bytes the peer identity's signature
// covers: origin? || node_id || port_le16 || alt?.
func (p *Peer) signaturePayload() []byte {
	var buf []byte
	if p.Origin != nil {
		buf = append(buf, p.Origin[:]...)
	}
	buf = append(buf, p.NodeID[:]...)

	var port [2]byte
	binary.LittleEndian.PutUint16(port[:], p.Port)
	buf = append(buf, port[:]...)

	if p.AlternativeURL != "" {
		buf = append(buf, []byte(p.AlternativeURL)...)
	}
	return buf
}

// Sign computes and stores the peer identity's signature. priv must
// correspond to PublicKey, not NodeID: a Peer is signed by the service
// owner, not by the announcing DHT node.
func (p *Peer) Sign(priv ed25519.PrivateKey) error {
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("record: invalid peer private key size")
	}
	p.Signature = ed25519.Sign(priv, p.signaturePayload())
	return nil
}

// IsValid verifies the peer identity's signature.
func (p *Peer) IsValid() bool {
	if len(p.Signature) == 0 {
		return false
	}
	return ed25519.Verify(p.PublicKey[:], p.signaturePayload(), p.Signature)
}
