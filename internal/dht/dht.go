// Package dht implements the per-address-family controller described
// in the node protocol: it owns a RoutingTable, a token.Manager, and
// the Storage a single Endpoint's requests are served against, and
// implements server.Dispatcher so the server package never needs to
// know this package exists.
package dht

import (
	"log/slog"
	"net"

	"github.com/vael/warren/internal/config"
	"github.com/vael/warren/internal/kbucket"
	"github.com/vael/warren/internal/scheduler"
	"github.com/vael/warren/internal/server"
	"github.com/vael/warren/internal/storage"
	"github.com/vael/warren/internal/token"
	"github.com/vael/warren/internal/wire"

	"github.com/vael/warren/internal/id"
)

// DHT is one address family's controller: ipv4 and ipv6 each get
// their own DHT sharing the same Storage (the value/peer namespace is
// address-family independent) but distinct routing tables, since
// liveness and distance are measured per socket.
type DHT struct {
	ep     *server.Endpoint
	logger *slog.Logger
	rt     *kbucket.RoutingTable
	tokens *token.Manager
	store  storage.Storage
	cfg    config.Config

	// family is the Want bit (wire.WantIPv4 or wire.WantIPv6) this
	// controller answers find_node/find_peer/find_value requests
	// with; a request's Want bits for the other family are always
	// answered empty by this controller; the command layer merges
	// across both DHTs when a node runs dual-stack.
	family byte

	bootstrap []string
	reachable bool
}

// New builds a DHT controller bound to ep. tokens is shared across
// every address family's controller: token secrets are the one piece
// of state the v4 and v6 DHTs have in common, so a token handed out by
// one family's find_* response verifies no matter which family the
// later announce arrives on. The caller must still set ep.Dispatcher
// to the returned value: wiring it here would require Endpoint to
// exist before its own Dispatcher, which AddEndpoint already defers to
// its caller for the same reason.
func New(logger *slog.Logger, ep *server.Endpoint, store storage.Storage, tokens *token.Manager, cfg config.Config, family byte) *DHT {
	return &DHT{
		ep:        ep,
		logger:    logger,
		rt:        kbucket.NewRoutingTable(ep.LocalID),
		tokens:    tokens,
		store:     store,
		cfg:       cfg,
		family:    family,
		bootstrap: cfg.BootstrapNodes,
	}
}

// RoutingTable exposes the table for cache persistence and the
// command layer's lookup seeding.
func (d *DHT) RoutingTable() *kbucket.RoutingTable { return d.rt }

// Endpoint exposes the bound transport for the command layer's
// lookup/announce task construction.
func (d *DHT) Endpoint() *server.Endpoint { return d.ep }

// Family reports which address family this controller answers for.
func (d *DHT) Family() byte { return d.family }

// Config returns the tunables this controller was built with.
func (d *DHT) Config() config.Config { return d.cfg }

// Start registers this DHT's periodic maintenance jobs on sched and
// kicks off bootstrap. Call once per controller, after any persisted
// routing-table cache has been replayed into RoutingTable().
func (d *DHT) Start(sched *scheduler.Scheduler) {
	sched.SchedulePeriodic(d.cfg.UpdateInterval, d.update)
	sched.SchedulePeriodic(d.cfg.RandomLookupInterval, d.randomLookup)
	sched.SchedulePeriodic(d.cfg.RandomPingInterval, d.randomPing)
	sched.SchedulePeriodic(d.cfg.ReAnnounceInterval, d.persistentAnnounce)
	d.bootstrapNow()
}

// signalResponse records a sighting of (from, addr) in the routing
// table; called for every inbound request and response, matching the
// protocol's "signal_response" step in every handler.
func (d *DHT) signalResponse(from id.Id, addr *net.UDPAddr, version int) {
	d.rt.Insert(kbucket.NodeInfo{ID: from, Addr: addr, Version: version})
}

// HandleRequest implements server.Dispatcher.
func (d *DHT) HandleRequest(ep *server.Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message) {
	d.signalResponse(from, addr, req.Version)

	switch req.Method {
	case wire.MethodPing:
		d.handlePing(ep, from, addr, req)
	case wire.MethodFindNode:
		d.handleFindNode(ep, from, addr, req)
	case wire.MethodFindPeer:
		d.handleFindPeer(ep, from, addr, req)
	case wire.MethodFindValue:
		d.handleFindValue(ep, from, addr, req)
	case wire.MethodStoreValue:
		d.handleStoreValue(ep, from, addr, req)
	case wire.MethodAnnouncePeer:
		d.handleAnnouncePeer(ep, from, addr, req)
	default:
		d.sendError(ep, req, addr, errCodeProtocol, "unknown method")
	}
}

// OnSend implements server.Dispatcher.
func (d *DHT) OnSend(peerID id.Id) {
	if e := d.rt.Get(peerID); e != nil {
		e.OnSend()
	}
}

// OnResponse implements server.Dispatcher. Unlike a request sighting,
// a matched response proves the peer answers us, so the entry is
// marked reachable, which is sticky for its lifetime.
func (d *DHT) OnResponse(peerID id.Id, addr *net.UDPAddr) {
	d.rt.Insert(kbucket.NodeInfo{ID: peerID, Addr: addr})
	if e := d.rt.Get(peerID); e != nil {
		e.OnResponse()
	}
}

// OnTimeout implements server.Dispatcher.
func (d *DHT) OnTimeout(peerID id.Id) {
	entry := d.rt.OnTimeout(peerID)
	if entry != nil && entry.NeedsReplacement() {
		d.rt.Remove(peerID)
	}
}

const (
	errCodeProtocol = 203
	errCodeCAS      = 301
	errCodeStorage  = 500
)

func (d *DHT) sendError(ep *server.Endpoint, req *wire.Message, addr *net.UDPAddr, code int, msg string) {
	resp := wire.NewErrorMessage(req.Method, req.Txid, server.ProtocolVersion, code, msg)
	if err := ep.SendResponse(resp, addr); err != nil {
		d.logger.Warn("dht: failed to send error response", "to", addr, "error", err)
	}
}

// fillNodes populates the response body's address-family-appropriate
// field with nodes, leaving the other family's field untouched.
func (d *DHT) fillNodes(body *wire.ResponseBody, nodes []kbucket.NodeInfo) {
	wireNodes := wire.EncodeNodeInfos(nodes)
	if d.family == wire.WantIPv6 {
		body.NodesV6 = wireNodes
	} else {
		body.NodesV4 = wireNodes
	}
}
