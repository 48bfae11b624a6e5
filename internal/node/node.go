// Package node wires one process's identity, storage, Server, and
// per-address-family DHT controllers together and exposes the
// thread-safe Command API described in the node protocol: callers on
// any goroutine submit find-node/find-value/find-peer/store-value/
// announce-peer commands, which run to completion on the single I/O
// thread and report back through a channel.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/vael/warren/internal/config"
	"github.com/vael/warren/internal/dht"
	"github.com/vael/warren/internal/server"
	"github.com/vael/warren/internal/storage"
	"github.com/vael/warren/internal/token"
	"github.com/vael/warren/internal/wire"
	"github.com/vael/warren/internal/xcrypto"
)

// Typed Command failures, per the node protocol's external-interface
// contract: callers branch on these with errors.Is rather than
// inspecting kademlia.Error kinds meant for the I/O-thread-internal
// layers.
var (
	ErrTimeout      = errors.New("node: command timed out")
	ErrNotFound     = errors.New("node: not found")
	ErrInvalidInput = errors.New("node: invalid input")
	ErrClosed       = errors.New("node: stopped")
)

// Node owns one process's identity and both address families' DHT
// controllers, sharing a single Storage and Server between them.
type Node struct {
	logger   *slog.Logger
	cfg      config.Config
	identity xcrypto.Identity
	store    storage.Storage
	srv      *server.Server

	v4 *dht.DHT
	v6 *dht.DHT

	closed chan struct{}
}

// New constructs a Node from cfg: loads or creates the on-disk
// identity, binds whichever address families cfg enables, and
// replays each family's routing-table cache if one exists. Call
// Start, then Run, to bring the node up.
func New(logger *slog.Logger, cfg config.Config, store storage.Storage) (*Node, error) {
	if cfg.ListenAddrV4 == "" && cfg.ListenAddrV6 == "" {
		return nil, fmt.Errorf("node: no address family enabled")
	}

	identity, err := xcrypto.LoadOrCreate(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("node: load identity: %w", err)
	}
	xpriv, err := identity.X25519Private()
	if err != nil {
		return nil, fmt.Errorf("node: derive x25519 key: %w", err)
	}

	srv := server.New(logger, xpriv, cfg.MaxPacketSize, cfg.SoftTimeout, cfg.HardTimeout, cfg.ReachabilityTimeout)

	// One rotating token secret for the whole process: token secrets
	// are the single piece of state both address families share.
	tokens, err := token.NewWithEpoch(cfg.TokenEpoch)
	if err != nil {
		return nil, fmt.Errorf("node: init token secret: %w", err)
	}

	n := &Node{
		logger:   logger,
		cfg:      cfg,
		identity: identity,
		store:    store,
		srv:      srv,
		closed:   make(chan struct{}),
	}

	if cfg.ListenAddrV4 != "" {
		n.v4, err = n.addFamily(srv, tokens, "ipv4", cfg.ListenAddrV4, "udp4", wire.WantIPv4, "dht4.cache")
		if err != nil {
			return nil, err
		}
	}
	if cfg.ListenAddrV6 != "" {
		n.v6, err = n.addFamily(srv, tokens, "ipv6", cfg.ListenAddrV6, "udp6", wire.WantIPv6, "dht6.cache")
		if err != nil {
			return nil, err
		}
	}

	return n, nil
}

func (n *Node) addFamily(srv *server.Server, tokens *token.Manager, name, addr, network string, want byte, cacheFile string) (*dht.DHT, error) {
	ep, err := srv.AddEndpoint(name, addr, n.identity.ID(), network)
	if err != nil {
		return nil, fmt.Errorf("node: bind %s: %w", name, err)
	}

	d := dht.New(n.logger, ep, n.store, tokens, n.cfg, want)
	ep.Dispatcher = d

	cachePath := filepath.Join(n.cfg.StorageDir, cacheFile)
	if err := storage.LoadRoutingTable(d.RoutingTable(), cachePath); err != nil {
		n.logger.Warn("node: routing table cache load failed", "family", name, "error", err)
	}

	return d, nil
}

// families returns the address-family controllers this node actually
// bound, in a stable order.
func (n *Node) families() []*dht.DHT {
	var out []*dht.DHT
	if n.v4 != nil {
		out = append(out, n.v4)
	}
	if n.v6 != nil {
		out = append(out, n.v6)
	}
	return out
}

// Start registers every bound family's maintenance jobs and kicks off
// bootstrap. Call once, before Run.
func (n *Node) Start() {
	sched := n.srv.Scheduler()
	for _, d := range n.families() {
		d.Start(sched)
	}
}

// Run blocks, driving the I/O reactor until ctx is canceled or a fatal
// transport error occurs, then persists each family's routing-table
// cache before returning.
func (n *Node) Run(ctx context.Context) error {
	err := n.srv.Run(ctx)
	close(n.closed)

	for _, d := range n.families() {
		cacheFile := "dht4.cache"
		if d.Family() == wire.WantIPv6 {
			cacheFile = "dht6.cache"
		}
		path := filepath.Join(n.cfg.StorageDir, cacheFile)
		if saveErr := storage.SaveRoutingTable(d.RoutingTable(), path); saveErr != nil {
			n.logger.Warn("node: routing table cache save failed", "error", saveErr)
		}
	}

	return err
}

// Identity returns the node's own keypair and id.
func (n *Node) Identity() xcrypto.Identity { return n.identity }

// submit queues fn on the I/O thread and waits for it to run, for any
// command's single synchronous setup step (building and Run-ing a
// lookup.Task); the Task's own completion is reported asynchronously
// through whatever channel the caller's onComplete closure writes to.
func (n *Node) submit(ctx context.Context, fn func()) error {
	select {
	case <-n.closed:
		return ErrClosed
	default:
	}

	done := make(chan struct{})
	go func() {
		n.srv.Submit(fn)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-n.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
