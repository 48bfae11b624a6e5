package wire

import "github.com/fxamacker/cbor/v2"

// RequestBody carries the union of fields any request method might
// populate; handlers read only the fields relevant to Method.
type RequestBody struct {
	Target         []byte  `cbor:"t,omitempty"`
	Want           byte    `cbor:"w,omitempty"`
	Token          []byte  `cbor:"tok,omitempty"`
	Seq            *uint32 `cbor:"seq,omitempty"`
	Cas            *uint32 `cbor:"cas,omitempty"`
	PublicKey      []byte  `cbor:"k,omitempty"`
	Recipient      []byte  `cbor:"rec,omitempty"`
	Nonce          []byte  `cbor:"n,omitempty"`
	Signature      []byte  `cbor:"s,omitempty"`
	Value          []byte  `cbor:"v,omitempty"`
	Port           uint16  `cbor:"p,omitempty"`
	Origin         []byte  `cbor:"x,omitempty"`
	AlternativeURL string  `cbor:"alt,omitempty"`
	PeerSignature  []byte  `cbor:"sig,omitempty"`
}

// Want bitmask values for RequestBody.Want.
const (
	WantIPv4  byte = 1 << 0
	WantIPv6  byte = 1 << 1
	WantToken byte = 1 << 2
)

// ResponseBody mirrors RequestBody's value fields and adds the
// closest-node and peer-group fields only a response carries.
type ResponseBody struct {
	NodesV4 []NodeInfo `cbor:"n4,omitempty"`
	NodesV6 []NodeInfo `cbor:"n6,omitempty"`
	Token   []byte     `cbor:"tok,omitempty"`
	Peers   *PeerGroup `cbor:"p,omitempty"`

	Seq       *uint32 `cbor:"seq,omitempty"`
	PublicKey []byte  `cbor:"k,omitempty"`
	Recipient []byte  `cbor:"rec,omitempty"`
	Nonce     []byte  `cbor:"n,omitempty"`
	Signature []byte  `cbor:"s,omitempty"`
	Value     []byte  `cbor:"v,omitempty"`
}

// ErrorBody is the typed payload of a kind=error message.
type ErrorBody struct {
	Code    int    `cbor:"code"`
	Message string `cbor:"message"`
}

// PeerAnnouncement is one entry in a PeerGroup: a single DHT node's
// announcement of a peer identity, possibly delegated on behalf of
// Origin.
type PeerAnnouncement struct {
	_              struct{} `cbor:",toarray"`
	NodeID         []byte
	Origin         []byte
	Port           uint16
	AlternativeURL string
	Signature      []byte
}

// PeerGroup is the wire shape of the response "p" field: a flat CBOR
// array whose first element is the peer identity's public key and
// whose remaining elements are that identity's announcements, one per
// announcing node.
type PeerGroup struct {
	PeerID        []byte
	Announcements []PeerAnnouncement
}

// MarshalCBOR encodes g as [peer_id, announcement, announcement, ...].
func (g PeerGroup) MarshalCBOR() ([]byte, error) {
	items := make([]any, 0, 1+len(g.Announcements))
	items = append(items, g.PeerID)
	for _, a := range g.Announcements {
		items = append(items, a)
	}
	return cbor.Marshal(items)
}

// UnmarshalCBOR decodes the flat array form back into g.
func (g *PeerGroup) UnmarshalCBOR(data []byte) error {
	var raw []cbor.RawMessage
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		g.PeerID = nil
		g.Announcements = nil
		return nil
	}

	if err := cbor.Unmarshal(raw[0], &g.PeerID); err != nil {
		return err
	}

	g.Announcements = make([]PeerAnnouncement, 0, len(raw)-1)
	for _, item := range raw[1:] {
		var a PeerAnnouncement
		if err := cbor.Unmarshal(item, &a); err != nil {
			return err
		}
		g.Announcements = append(g.Announcements, a)
	}
	return nil
}
