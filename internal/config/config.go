// Package config defines the node's tunables: storage locations,
// listen addresses, bootstrap peers, and the timing constants the
// scheduler's periodic jobs run on.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Config holds everything a node needs to start: where its identity
// and caches live on disk, which address families to serve, who to
// bootstrap from, and the timing knobs for routing-table maintenance.
type Config struct {
	// ========== Identity / Storage ==========

	// StorageDir holds the node's key material (key, id), routing
	// table caches (dht4.cache, dht6.cache), and value/peer database
	// (node.db). Created on first start if missing.
	StorageDir string

	// ========== Networking ==========

	// ListenAddrV4 is the UDP address the IPv4 DHT binds, e.g.
	// "0.0.0.0:6881". Empty disables the IPv4 DHT.
	ListenAddrV4 string

	// ListenAddrV6 is the UDP address the IPv6 DHT binds. Empty
	// disables the IPv6 DHT.
	ListenAddrV6 string

	// BootstrapNodes are "<node-id>@host:port" strings resolved and
	// pinged at startup to seed the routing table. The node id (hex or
	// Base58) must be known up front: the datagram envelope is
	// encrypted to the destination's public key, so a peer cannot be
	// contacted by address alone.
	BootstrapNodes []string

	// MaxPacketSize bounds a single inbound datagram; larger packets
	// are dropped before decryption is attempted.
	MaxPacketSize int

	// ========== Routing Table ==========

	// BucketSize (K) is the maximum number of entries per k-bucket.
	BucketSize int

	// LookupConcurrency (alpha) is the number of in-flight RPCs a
	// single iterative lookup keeps outstanding.
	LookupConcurrency int

	// BucketRefreshInterval is how long a bucket may sit untouched
	// before a random lookup into its range is scheduled.
	BucketRefreshInterval time.Duration

	// ========== Scheduler Intervals ==========

	// UpdateInterval drives the DHT's `update` job: pinging
	// routing-table entries due for a liveness probe and checking
	// reachability.
	UpdateInterval time.Duration

	// RandomLookupInterval is how often a random-id lookup is issued
	// to keep distant buckets populated.
	RandomLookupInterval time.Duration

	// RandomPingInterval is how often the DHT pings a batch of
	// questionable entries across the routing table.
	RandomPingInterval time.Duration

	// ReAnnounceInterval governs the persistent_announce job: values
	// and peers whose last_announced predates this are re-announced.
	ReAnnounceInterval time.Duration

	// ========== RPC / Reliability ==========

	// SoftTimeout is the stall deadline: no response by this point
	// marks the call Stalled but keeps it alive until HardTimeout.
	SoftTimeout time.Duration

	// HardTimeout is the deadline at which a Stalled call becomes
	// Timeout and is abandoned.
	HardTimeout time.Duration

	// ReachabilityTimeout bounds how long since the last inbound
	// non-error message the node still considers itself reachable.
	ReachabilityTimeout time.Duration

	// TokenEpoch is how long a store_value/announce_peer token
	// remains valid under its issuing secret before rotation (tokens
	// from the prior epoch remain valid for one more TokenEpoch).
	TokenEpoch time.Duration

	// AnnounceRetries caps retransmission attempts per recipient
	// during an announce fan-out.
	AnnounceRetries int

	// ========== Observability ==========

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string

	// PrettyLog turns on ANSI color in the console log handler; when
	// false the same one-line format is written without color.
	PrettyLog bool
}

// Default returns the configuration used when no file is supplied:
// both address families enabled on the standard DHT port, an empty
// bootstrap list, and the interval values named in the
// node protocol (1s update / 10min random lookup / 10s random ping /
// 5min re-announce and token epoch).
func Default() Config {
	return Config{
		StorageDir:            defaultStorageDir(),
		ListenAddrV4:          "0.0.0.0:6881",
		ListenAddrV6:          "[::]:6881",
		BootstrapNodes:        nil,
		MaxPacketSize:         1500,
		BucketSize:            8,
		LookupConcurrency:     3,
		BucketRefreshInterval: 15 * time.Minute,
		UpdateInterval:        1 * time.Second,
		RandomLookupInterval:  10 * time.Minute,
		RandomPingInterval:    10 * time.Second,
		ReAnnounceInterval:    5 * time.Minute,
		SoftTimeout:           2 * time.Second,
		HardTimeout:           5 * time.Second,
		ReachabilityTimeout:   15 * time.Minute,
		TokenEpoch:            5 * time.Minute,
		AnnounceRetries:       3,
		LogLevel:              "info",
		PrettyLog:             true,
	}
}

// Validate reports the first structural problem found, if any: this
// is the boundary where caller-side Argument errors are raised,
// before anything touches the network or disk.
func (c Config) Validate() error {
	if c.ListenAddrV4 == "" && c.ListenAddrV6 == "" {
		return fmt.Errorf("config: at least one of ListenAddrV4/ListenAddrV6 must be set")
	}
	if c.ListenAddrV4 != "" {
		if _, err := net.ResolveUDPAddr("udp4", c.ListenAddrV4); err != nil {
			return fmt.Errorf("config: ListenAddrV4: %w", err)
		}
	}
	if c.ListenAddrV6 != "" {
		if _, err := net.ResolveUDPAddr("udp6", c.ListenAddrV6); err != nil {
			return fmt.Errorf("config: ListenAddrV6: %w", err)
		}
	}
	if c.BucketSize <= 0 {
		return fmt.Errorf("config: BucketSize must be positive")
	}
	if c.LookupConcurrency <= 0 {
		return fmt.Errorf("config: LookupConcurrency must be positive")
	}
	if c.SoftTimeout <= 0 || c.HardTimeout <= 0 || c.SoftTimeout > c.HardTimeout {
		return fmt.Errorf("config: SoftTimeout must be positive and <= HardTimeout")
	}
	return nil
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if cwd, err := os.Getwd(); err == nil {
			return filepath.Join(cwd, ".warren")
		}
		return ".warren"
	}
	return filepath.Join(home, ".local", "share", "warren")
}
