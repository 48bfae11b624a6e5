// Package server implements the single-threaded I/O reactor described
// in the node protocol's Server component: one event loop per process
// multiplexing every address family's socket plus the scheduler,
// decrypting and parsing inbound datagrams, matching responses against
// outstanding calls, and dispatching requests to the owning DHT.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vael/warren/internal/id"
	"github.com/vael/warren/internal/kademlia"
	"github.com/vael/warren/internal/rpc"
	"github.com/vael/warren/internal/scheduler"
	"github.com/vael/warren/internal/wire"
	"github.com/vael/warren/internal/xcrypto"
)

// ProtocolVersion is stamped into every outbound message's v field.
const ProtocolVersion = 1

// Dispatcher is the per-address-family collaborator a DHT controller
// implements; the Server calls it for inbound requests and to keep
// routing-table liveness statistics current. Kept narrow so this
// package never imports the dht package, breaking what would
// otherwise be a DHT/Server/Task ownership cycle.
type Dispatcher interface {
	HandleRequest(ep *Endpoint, from id.Id, addr *net.UDPAddr, req *wire.Message)
	OnSend(peerID id.Id)
	OnResponse(peerID id.Id, addr *net.UDPAddr)
	OnTimeout(peerID id.Id)
}

// Endpoint binds one UDP socket, one address family's Dispatcher, and
// the transaction table for calls sent on this socket.
type Endpoint struct {
	Name       string
	Conn       *net.UDPConn
	LocalID    id.Id
	Dispatcher Dispatcher
	Calls      *rpc.Table

	server *Server

	mu         sync.Mutex
	peerByAddr map[string]id.Id
}

// LocalAddr returns the bound UDP address.
func (ep *Endpoint) LocalAddr() *net.UDPAddr {
	return ep.Conn.LocalAddr().(*net.UDPAddr)
}

// Reachable reports whether the owning Server has received a non-error
// inbound message within its reachability window. The heuristic is
// shared across every Endpoint on one Server, since it reflects
// whether the node's listening path works at all, not any one address
// family's routing-table health.
func (ep *Endpoint) Reachable() bool {
	return ep.server.Reachable()
}

func (ep *Endpoint) send(msg *wire.Message, dst *net.UDPAddr) error {
	return ep.server.sendTo(ep, msg, dst)
}

// SendRequest dispatches a request to dst, registers the matching
// Call, and arms its soft/hard deadlines on the Server's scheduler.
// onDone fires exactly once, when the call reaches a terminal state.
func (ep *Endpoint) SendRequest(dst *net.UDPAddr, targetID id.Id, method wire.Method, body *wire.RequestBody, onDone rpc.Done) (*rpc.Call, error) {
	txid := ep.Calls.NextTxid()
	req := wire.NewRequest(method, txid, ProtocolVersion, body)

	var call *rpc.Call
	call = rpc.New(req, targetID, dst, func(c *rpc.Call, resp *wire.Message) {
		ep.Calls.Remove(c.Txid)
		switch c.State {
		case rpc.Responsed:
			ep.Dispatcher.OnResponse(c.TargetID, c.Dest)
		case rpc.Err, rpc.Timeout, rpc.Canceled:
			ep.Dispatcher.OnTimeout(c.TargetID)
		}
		if onDone != nil {
			onDone(c, resp)
		}
	})

	ep.Calls.Register(call)
	ep.notePeer(dst, targetID)
	if err := ep.send(req, dst); err != nil {
		ep.Calls.Remove(txid)
		return nil, kademlia.New(kademlia.KindIO, "server.SendRequest", err)
	}
	call.MarkSent()
	ep.Dispatcher.OnSend(targetID)

	ep.server.armDeadlines(call)
	return call, nil
}

// SendResponse serializes and sends a pre-built response/error message.
func (ep *Endpoint) SendResponse(msg *wire.Message, dst *net.UDPAddr) error {
	return ep.send(msg, dst)
}

type rawPacket struct {
	ep   *Endpoint
	addr *net.UDPAddr
	data []byte
}

// Server is the single I/O reactor owning every Endpoint's socket read
// loop and the shared scheduler driving periodic jobs and call
// deadlines.
type Server struct {
	logger *slog.Logger
	keys   *xcrypto.KeyCache
	sched  *scheduler.Scheduler

	maxPacketSize int
	softTimeout   time.Duration
	hardTimeout   time.Duration

	endpoints []*Endpoint
	incoming  chan rawPacket
	submitted chan func()

	reachabilityWindow time.Duration
	lastInbound        atomic.Int64 // unix nanos
	dropped            atomic.Uint64
}

// New builds a Server bound to no endpoints yet; call AddEndpoint for
// each address family before Run.
func New(logger *slog.Logger, localXPriv [32]byte, maxPacketSize int, softTimeout, hardTimeout, reachabilityWindow time.Duration) *Server {
	return &Server{
		logger:             logger,
		keys:               xcrypto.NewKeyCache(localXPriv),
		sched:              scheduler.New(),
		maxPacketSize:      maxPacketSize,
		softTimeout:        softTimeout,
		hardTimeout:        hardTimeout,
		reachabilityWindow: reachabilityWindow,
		incoming:           make(chan rawPacket, 256),
		submitted:          make(chan func(), 64),
	}
}

// Submit queues fn to run on the I/O goroutine at the next opportunity,
// the one safe way for a Command API running on caller goroutines to
// touch DHT/routing-table/storage state that otherwise only the Run
// loop ever mutates. Submit itself may be called from any goroutine; fn
// must not block, the same rule Run's own select cases follow.
func (s *Server) Submit(fn func()) {
	s.submitted <- fn
}

// Scheduler exposes the shared scheduler so DHT controllers can
// register their own periodic jobs on it.
func (s *Server) Scheduler() *scheduler.Scheduler { return s.sched }

// AddEndpoint binds a UDP listener at listenAddr and registers it
// under name ("ipv4"/"ipv6"), deferring Dispatcher wiring to the
// caller (the node package calls this, builds a dht.DHT on the
// returned Endpoint, then sets that DHT as the Endpoint's Dispatcher).
func (s *Server) AddEndpoint(name string, listenAddr string, localID id.Id, network string) (*Endpoint, error) {
	addr, err := net.ResolveUDPAddr(network, listenAddr)
	if err != nil {
		return nil, kademlia.New(kademlia.KindNetwork, "server.AddEndpoint", err)
	}
	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, kademlia.New(kademlia.KindIO, "server.AddEndpoint", err)
	}

	ep := &Endpoint{
		Name:    name,
		Conn:    conn,
		LocalID: localID,
		Calls:   rpc.NewTable(),
		server:  s,
	}
	s.endpoints = append(s.endpoints, ep)
	return ep, nil
}

// armDeadlines schedules a call's soft stall and hard timeout jobs.
func (s *Server) armDeadlines(call *rpc.Call) {
	s.sched.ScheduleOnce(time.Now().Add(s.softTimeout), func() {
		call.MarkStalled()
	})
	s.sched.ScheduleOnce(time.Now().Add(s.hardTimeout), func() {
		call.MarkTimeout()
	})
}

func (s *Server) sendTo(ep *Endpoint, msg *wire.Message, dst *net.UDPAddr) error {
	plaintext, err := wire.Encode(msg)
	if err != nil {
		return kademlia.New(kademlia.KindProtocol, "server.sendTo", err)
	}

	ciphertext, err := s.encryptFor(ep, dst, plaintext)
	if err != nil {
		return err
	}

	out := make([]byte, 0, id.Size+len(ciphertext))
	out = append(out, ep.LocalID.Bytes()...)
	out = append(out, ciphertext...)

	_, err = ep.Conn.WriteToUDP(out, dst)
	if err != nil {
		return kademlia.New(kademlia.KindIO, "server.sendTo", err)
	}
	return nil
}

// encryptFor requires knowing the destination's claimed Id. Since the
// envelope's sender id is the only identity carried on the wire, this
// package relies on callers (DHT request handlers, lookup tasks, and
// SendRequest's targetID) always supplying the Id of the peer at dst;
// SendRequest already threads that through targetID.
func (s *Server) encryptFor(ep *Endpoint, dst *net.UDPAddr, plaintext []byte) ([]byte, error) {
	peerID, ok := ep.pendingPeerID(dst)
	if !ok {
		return nil, kademlia.New(kademlia.KindProtocol, "server.encryptFor", fmt.Errorf("no known id for destination %s", dst))
	}
	ciphertext, err := s.keys.Seal(ep.LocalID, peerID, plaintext)
	if err != nil {
		return nil, kademlia.New(kademlia.KindCrypto, "server.encryptFor", err)
	}
	return ciphertext, nil
}

// pendingPeerID records send contexts so sendTo can look up the
// destination's claimed id without changing every call site's
// signature; see Endpoint.notePeer.
func (ep *Endpoint) pendingPeerID(dst *net.UDPAddr) (id.Id, bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	peerID, ok := ep.peerByAddr[dst.String()]
	return peerID, ok
}

// notePeer remembers the most recently observed identity for addr, so
// a later outbound send to the same addr can derive its encryption
// key. Called whenever a peer's id is learned: inbound datagram,
// SendRequest's targetID, or routing-table insert.
func (ep *Endpoint) notePeer(addr *net.UDPAddr, peerID id.Id) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.peerByAddr == nil {
		ep.peerByAddr = make(map[string]id.Id)
	}
	ep.peerByAddr[addr.String()] = peerID
}

// Run starts every endpoint's read goroutine and blocks, driving the
// single select-style event loop until ctx is canceled. The read
// goroutines are joined through an errgroup so a read loop's own
// failure (as opposed to context cancellation) also unwinds Run.
func (s *Server) Run(ctx context.Context) error {
	if len(s.endpoints) == 0 {
		return kademlia.New(kademlia.KindState, "server.Run", fmt.Errorf("no endpoints registered"))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range s.endpoints {
		ep := ep
		g.Go(func() error {
			s.readLoop(gctx, ep)
			if gctx.Err() == nil {
				return kademlia.New(kademlia.KindIO, "server.Run", fmt.Errorf("%s read loop stopped", ep.Name))
			}
			return nil
		})
	}

	for {
		timer := time.NewTimer(time.Until(s.sched.NextTime()))
		select {
		case <-ctx.Done():
			timer.Stop()
			for _, ep := range s.endpoints {
				ep.Conn.Close()
			}
			g.Wait()
			return ctx.Err()

		case <-gctx.Done():
			timer.Stop()
			for _, ep := range s.endpoints {
				ep.Conn.Close()
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return ctx.Err()

		case pkt := <-s.incoming:
			timer.Stop()
			s.handlePacket(pkt)

		case fn := <-s.submitted:
			timer.Stop()
			fn()

		case <-timer.C:
			s.sched.Run(time.Now())
		}
	}
}

func (s *Server) readLoop(ctx context.Context, ep *Endpoint) {
	buf := make([]byte, max(s.maxPacketSize, 2048))

	for {
		ep.Conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := ep.Conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}
		if n > s.maxPacketSize {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case s.incoming <- rawPacket{ep: ep, addr: addr, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handlePacket(pkt rawPacket) {
	ep, addr, data := pkt.ep, pkt.addr, pkt.data

	if len(data) < id.Size {
		s.drop()
		s.logger.Warn("datagram too short for sender id", "from", addr)
		return
	}
	senderID, err := id.FromBytes(data[:id.Size])
	if err != nil {
		s.drop()
		s.logger.Warn("malformed sender id", "from", addr)
		return
	}

	plaintext, ok, err := s.keys.Open(ep.LocalID, senderID, data[id.Size:])
	if err != nil {
		s.drop()
		s.logger.Info("envelope key derivation failed", "from", addr, "error", err)
		return
	}
	if !ok {
		s.drop()
		s.logger.Info("envelope authentication failed, dropping", "from", addr)
		return
	}

	msg, err := wire.Decode(plaintext)
	if err != nil {
		s.drop()
		s.logger.Warn("malformed message, dropping", "from", addr, "error", err)
		return
	}

	if msg.Txid == 0 && msg.Kind != wire.KindError {
		s.drop()
		s.logger.Warn("txid=0 on non-error message, dropping", "from", addr)
		return
	}

	ep.notePeer(addr, senderID)
	if msg.Kind != wire.KindError {
		s.lastInbound.Store(time.Now().UnixNano())
	}

	switch msg.Kind {
	case wire.KindRequest:
		ep.Dispatcher.HandleRequest(ep, senderID, addr, msg)

	case wire.KindResponse, wire.KindError:
		call, ok := ep.Calls.Get(msg.Txid)
		if !ok {
			s.drop()
			s.logger.Debug("response for unknown transaction", "from", addr, "txid", msg.Txid)
			return
		}
		if call.Dest.String() != addr.String() {
			s.drop()
			s.logger.Warn("response source mismatch, stalling call", "expected", call.Dest, "got", addr)
			call.MarkStalled()
			return
		}
		call.Complete(msg)

	default:
		s.drop()
		s.logger.Warn("unknown message kind, dropping", "from", addr)
	}
}

func (s *Server) drop() {
	s.dropped.Add(1)
}

// Dropped reports how many inbound datagrams have been discarded since
// start: short/malformed packets, failed decryptions, zero txids, and
// responses that matched no live transaction.
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

// Reachable reports whether any non-error inbound message arrived
// within the reachability window.
func (s *Server) Reachable() bool {
	last := s.lastInbound.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) < s.reachabilityWindow
}

// NotePeer lets a DHT controller register a peer's id/address mapping
// up front (e.g. from a routing-table insert or a bootstrap entry)
// before any request needs to encrypt a datagram to it.
func (ep *Endpoint) NotePeer(addr *net.UDPAddr, peerID id.Id) {
	ep.notePeer(addr, peerID)
}
