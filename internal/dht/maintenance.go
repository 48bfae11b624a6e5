package dht

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/kbucket"
	"github.com/vael/warren/internal/lookup"
	"github.com/vael/warren/internal/record"
	"github.com/vael/warren/internal/rpc"
	"github.com/vael/warren/internal/wire"
)

// bootstrapNow parses every configured "<node-id>@host:port" bootstrap
// entry, seeds the Endpoint's address book so the outbound ping can be
// encrypted to the peer's key, and pings each one; the self-lookup
// that actually populates the routing table runs once the node is
// first observed reachable (see onReachable).
func (d *DHT) bootstrapNow() {
	for _, entry := range d.bootstrap {
		nodeID, addr, err := d.parseBootstrap(entry)
		if err != nil {
			d.logger.Warn("dht: bad bootstrap entry", "entry", entry, "error", err)
			continue
		}
		d.ep.NotePeer(addr, nodeID)
		d.pingBootstrap(nodeID, addr)
	}
}

// parseBootstrap splits "<node-id>@host:port", accepting the id in
// either hex or Base58 form.
func (d *DHT) parseBootstrap(entry string) (id.Id, *net.UDPAddr, error) {
	idStr, addrStr, ok := strings.Cut(entry, "@")
	if !ok {
		return id.Id{}, nil, fmt.Errorf("missing node id (want <id>@host:port)")
	}

	nodeID, err := id.FromHex(idStr)
	if err != nil {
		nodeID, err = id.FromBase58(idStr)
		if err != nil {
			return id.Id{}, nil, fmt.Errorf("node id is neither hex nor base58")
		}
	}

	addr, err := net.ResolveUDPAddr(d.network(), addrStr)
	if err != nil {
		return id.Id{}, nil, err
	}
	return nodeID, addr, nil
}

func (d *DHT) network() string {
	if d.family == wire.WantIPv6 {
		return "udp6"
	}
	return "udp4"
}

// pingBootstrap sends a bare ping; the seed routing-table entry is
// created when the reply arrives, via the normal OnResponse path.
func (d *DHT) pingBootstrap(nodeID id.Id, addr *net.UDPAddr) {
	_, err := d.ep.SendRequest(addr, nodeID, wire.MethodPing, &wire.RequestBody{}, func(call *rpc.Call, resp *wire.Message) {})
	if err != nil {
		d.logger.Debug("dht: bootstrap ping failed", "addr", addr, "error", err)
	}
}

// update is the 1s maintenance tick: it issues active pings for every
// routing-table entry overdue for one, which is how stale-but-not-yet-
// replaced entries get a chance to prove themselves live again before
// NeedsReplacement evicts them.
func (d *DHT) update() {
	for _, entry := range d.rt.CandidatesForPing() {
		d.pingEntry(entry.Node)
	}

	if !d.reachable {
		if d.ep.Reachable() {
			d.reachable = true
			d.onReachable()
		}
	}
}

func (d *DHT) pingEntry(node kbucket.NodeInfo) {
	_, err := d.ep.SendRequest(node.Addr, node.ID, wire.MethodPing, &wire.RequestBody{}, func(call *rpc.Call, resp *wire.Message) {})
	if err != nil {
		d.logger.Debug("dht: liveness ping failed", "to", node.Addr, "error", err)
	}
}

// onReachable fires a one-time self-lookup the first time this DHT
// observes itself reachable, so a freshly-reachable node fills its own
// home bucket promptly rather than waiting for the next random-lookup
// tick.
func (d *DHT) onReachable() {
	d.lookupFindNode(d.ep.LocalID)
}

// randomLookup is the 10-minute tick: every bucket that has gone
// untouched past its refresh interval gets a lookup for a random id
// under its prefix, which both exercises it and, on completion, stamps
// its last-refreshed time via the bucket's own activity tracking.
func (d *DHT) randomLookup() {
	for _, prefix := range d.rt.BucketsNeedingRefresh(d.cfg.BucketRefreshInterval) {
		target, err := prefix.RandomIDUnder()
		if err != nil {
			d.logger.Warn("dht: random lookup id generation failed", "error", err)
			continue
		}
		d.lookupFindNode(target)
	}
}

// randomPing pings up to eight of the entries due for a liveness
// probe, taken in routing-table walk order; update() pings the same
// set of due entries on every tick. It is the active probe of a struggling
// neighbor that the protocol's random_ping job performs.
func (d *DHT) randomPing() {
	candidates := d.rt.CandidatesForPing()
	if len(candidates) == 0 {
		return
	}
	const batch = 8
	if len(candidates) > batch {
		candidates = candidates[:batch]
	}
	for _, entry := range candidates {
		d.pingEntry(entry.Node)
	}
}

// persistentAnnounce is the 5-minute tick: every value and peer this
// node itself authored and is responsible for keeping alive in the
// network gets a fresh lookup and re-announce, always relooking up
// rather than reusing a stale closest-set.
func (d *DHT) persistentAnnounce() {
	cutoff := time.Now().Add(-d.cfg.ReAnnounceInterval)

	values, err := d.store.GetPersistentValues(cutoff)
	if err != nil {
		d.logger.Warn("dht: persistent values scan failed", "error", err)
	}
	for _, v := range values {
		d.reannounceValue(v)
	}

	peers, err := d.store.GetPersistentPeers(cutoff)
	if err != nil {
		d.logger.Warn("dht: persistent peers scan failed", "error", err)
	}
	for _, p := range peers {
		d.reannouncePeer(p)
	}
}

func (d *DHT) reannounceValue(v *record.Value) {
	target := v.ID()
	want := d.family | wire.WantToken
	task := lookup.FindNode(d.ep, target, d.cfg.BucketSize, d.cfg.LookupConcurrency, want)
	task.Run(d.rt.FindClosestK(target, d.cfg.BucketSize), func(res lookup.Result) {
		announce := lookup.NewValueAnnounce(d.ep, v, nil, d.cfg.AnnounceRetries)
		announce.Run(res.Closest, func(succeeded int) {
			if succeeded > 0 {
				if err := d.store.UpdateValueLastAnnounce(target); err != nil {
					d.logger.Warn("dht: value re-announce bookkeeping failed", "error", err)
				}
			}
		})
	})
}

func (d *DHT) reannouncePeer(p *record.Peer) {
	target := p.ID()
	want := d.family | wire.WantToken
	task := lookup.FindNode(d.ep, target, d.cfg.BucketSize, d.cfg.LookupConcurrency, want)
	task.Run(d.rt.FindClosestK(target, d.cfg.BucketSize), func(res lookup.Result) {
		announce := lookup.NewPeerAnnounce(d.ep, p, d.cfg.AnnounceRetries)
		announce.Run(res.Closest, func(succeeded int) {
			if succeeded > 0 {
				if err := d.store.UpdatePeerLastAnnounce(target, peerOriginOf(p)); err != nil {
					d.logger.Warn("dht: peer re-announce bookkeeping failed", "error", err)
				}
			}
		})
	})
}

// peerOriginOf mirrors storage's own peerOrigin helper (unexported
// there): the key a delegated announcement is stored/looked-up under.
func peerOriginOf(p *record.Peer) id.Id {
	if p.Origin != nil {
		return *p.Origin
	}
	return p.NodeID
}

// lookupFindNode runs a bare find_node lookup to completion, for the
// maintenance jobs that only care about populating the routing table
// as a side effect of Task.Run's response handling (every node that
// answers one of the lookup's requests is inserted through the
// Server's OnResponse hook; nodes only named in a response are not).
func (d *DHT) lookupFindNode(target id.Id) {
	task := lookup.FindNode(d.ep, target, d.cfg.BucketSize, d.cfg.LookupConcurrency, d.family)
	task.Run(d.rt.FindClosestK(target, d.cfg.BucketSize), func(lookup.Result) {})
}
