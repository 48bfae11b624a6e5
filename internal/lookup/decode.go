package lookup

import (
	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/record"
	"github.com/vael/warren/internal/wire"
)

// decodeValue reconstructs a record.Value from a find_value response
// body. It returns nil on a malformed id-length field; IsValid is left
// to the caller, since an invalid signature is a normal (if hostile)
// response rather than a decode failure.
func decodeValue(body *wire.ResponseBody) *record.Value {
	v := &record.Value{Data: body.Value}

	if len(body.PublicKey) == 0 {
		return v
	}

	pub, err := id.FromBytes(body.PublicKey)
	if err != nil {
		return nil
	}
	v.PublicKey = &pub
	v.Signature = body.Signature
	if len(body.Nonce) != len(v.Nonce) {
		return nil
	}
	copy(v.Nonce[:], body.Nonce)
	if body.Seq != nil {
		v.SequenceNumber = *body.Seq
	}
	if len(body.Recipient) > 0 {
		rec, err := id.FromBytes(body.Recipient)
		if err != nil {
			return nil
		}
		v.Recipient = &rec
	}
	return v
}

// decodePeerAnnouncement reconstructs a record.Peer from one
// PeerAnnouncement and the peer identity's public key it belongs to.
// It returns nil on a malformed id-length field.
func decodePeerAnnouncement(peerIDBytes []byte, a wire.PeerAnnouncement) *record.Peer {
	pub, err := id.FromBytes(peerIDBytes)
	if err != nil {
		return nil
	}
	nodeID, err := id.FromBytes(a.NodeID)
	if err != nil {
		return nil
	}

	var origin *id.Id
	if len(a.Origin) > 0 {
		o, err := id.FromBytes(a.Origin)
		if err != nil {
			return nil
		}
		origin = &o
	}

	return &record.Peer{
		PublicKey:      pub,
		NodeID:         nodeID,
		Origin:         origin,
		Port:           a.Port,
		AlternativeURL: a.AlternativeURL,
		Signature:      a.Signature,
	}
}
