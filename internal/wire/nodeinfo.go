package wire

import (
	"fmt"
	"net"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/kbucket"
)

// NodeInfo is the wire encoding of a kbucket.NodeInfo: a CBOR array
// of [id_bytes, ip_bytes, port, version?]. IP is 4 bytes for an IPv4
// address and 16 bytes for IPv6; Version is always encoded and is zero
// when the sender doesn't advertise one.
type NodeInfo struct {
	_       struct{} `cbor:",toarray"`
	ID      []byte
	IP      []byte
	Port    uint16
	Version int
}

// FromNodeInfo converts a routing-table NodeInfo to its wire form.
func FromNodeInfo(n kbucket.NodeInfo) NodeInfo {
	ip := n.Addr.IP.To4()
	if ip == nil {
		ip = n.Addr.IP.To16()
	}
	return NodeInfo{
		ID:      n.ID.Bytes(),
		IP:      append([]byte(nil), ip...),
		Port:    uint16(n.Addr.Port),
		Version: n.Version,
	}
}

// ToNodeInfo converts a wire NodeInfo back into routing-table form.
func (n NodeInfo) ToNodeInfo() (kbucket.NodeInfo, error) {
	anID, err := id.FromBytes(n.ID)
	if err != nil {
		return kbucket.NodeInfo{}, fmt.Errorf("wire: node id: %w", err)
	}
	if len(n.IP) != net.IPv4len && len(n.IP) != net.IPv6len {
		return kbucket.NodeInfo{}, fmt.Errorf("wire: node ip: invalid length %d", len(n.IP))
	}

	return kbucket.NodeInfo{
		ID:      anID,
		Addr:    &net.UDPAddr{IP: net.IP(append([]byte(nil), n.IP...)), Port: int(n.Port)},
		Version: n.Version,
	}, nil
}

// EncodeNodeInfos converts a slice of routing-table NodeInfos for
// embedding in a response body.
func EncodeNodeInfos(nodes []kbucket.NodeInfo) []NodeInfo {
	out := make([]NodeInfo, len(nodes))
	for i, n := range nodes {
		out[i] = FromNodeInfo(n)
	}
	return out
}

// DecodeNodeInfos converts wire NodeInfos back, skipping malformed
// entries rather than failing the whole response.
func DecodeNodeInfos(nodes []NodeInfo) []kbucket.NodeInfo {
	out := make([]kbucket.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		decoded, err := n.ToNodeInfo()
		if err != nil {
			continue
		}
		out = append(out, decoded)
	}
	return out
}
