// Package config exposes the node's Config as process-wide state
// behind an atomic.Value, so the I/O thread can Update it (e.g. after
// a config-reload signal) without callers on other goroutines holding
// a lock across the read.
package config

import (
	"sync/atomic"

	"github.com/vael/warren/internal/config"
)

var cfg atomic.Value

// Init stores config.Default() as the global config.
func Init() {
	c := config.Default()
	cfg.Store(&c)
}

// Load returns the current config. Treat the returned value as
// read-only; mutate via Update or Swap.
func Load() *config.Config {
	return cfg.Load().(*config.Config)
}

// Update applies mut to a copy of the current config and swaps it in
// atomically.
func Update(mut func(*config.Config)) *config.Config {
	curr := Load()
	next := *curr
	mut(&next)
	cfg.Store(&next)
	return &next
}

// Swap replaces the global config outright.
func Swap(next config.Config) *config.Config {
	cfg.Store(&next)
	return &next
}
