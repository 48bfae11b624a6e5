// Package kbucket implements the Kademlia routing table: a binary
// tree of fixed-capacity buckets, split on demand, tracking which
// peers are live, stale, or due for replacement.
package kbucket

import (
	"net"

	"github.com/vael/warren/internal/id"
)

// NodeInfo identifies a peer: its Id, socket address, and the highest
// protocol version it has been observed speaking.
type NodeInfo struct {
	ID      id.Id
	Addr    *net.UDPAddr
	Version int
}

// Matches reports whether n and o are candidates for the same
// identity: either their Id or their socket address coincide. Two
// NodeInfos that match but are not identical are the routing table's
// conflict signal (address change or impersonation attempt).
func (n NodeInfo) Matches(o NodeInfo) bool {
	return n.ID == o.ID || addrEqual(n.Addr, o.Addr)
}

// Identical reports whether n and o describe the same peer entirely.
func (n NodeInfo) Identical(o NodeInfo) bool {
	return n.ID == o.ID && addrEqual(n.Addr, o.Addr)
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port && a.Zone == b.Zone
}
