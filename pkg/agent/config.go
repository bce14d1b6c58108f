package agent

import (
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/clocknet/pkg/clock"
	"github.com/ryandielhenn/clocknet/pkg/events"
	"github.com/ryandielhenn/clocknet/pkg/protocol"
	"github.com/ryandielhenn/clocknet/pkg/transport"
	"github.com/ryandielhenn/clocknet/pkg/wire"
)

// Fanout decides what a multi-peer step does when one peer fails.
type Fanout int

const (
	// AbortOnFirstFailure stops the step at the first failing peer and
	// leaves it partially applied.
	AbortOnFirstFailure Fanout = iota
	// BestEffort contacts every peer and reports all failures together.
	BestEffort
)

func (f Fanout) String() string {
	if f == BestEffort {
		return "best-effort"
	}
	return "abort"
}

// ParseFanout accepts "abort" and "best-effort".
func ParseFanout(s string) (Fanout, bool) {
	switch s {
	case "", "abort":
		return AbortOnFirstFailure, true
	case "best-effort", "besteffort":
		return BestEffort, true
	}
	return AbortOnFirstFailure, false
}

type Config struct {
	// Host is the address to bind; the port is always chosen by the OS.
	Host string
	// Seed is the initial clock value.
	Seed int64
	// TickInterval of zero means clock.DefaultInterval; a negative interval
	// freezes the clock.
	TickInterval time.Duration
	RPCTimeout   time.Duration
	SyncTimeout  time.Duration
	Fanout       Fanout
	Transport    transport.Transport
	Sink         events.Sink
	Logger       *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = wire.LoopbackAddress
	}
	if c.TickInterval == 0 {
		c.TickInterval = clock.DefaultInterval
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = protocol.DefaultRPCTimeout
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = protocol.DefaultSyncTimeout
	}
	if c.Transport == nil {
		c.Transport = transport.TCP()
	}
	if c.Sink == nil {
		c.Sink = events.Discard
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
