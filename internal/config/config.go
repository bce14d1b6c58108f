// Package config reads the control plane settings from the environment,
// with command-line flags taking precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/ryandielhenn/clocknet/pkg/agent"
	"github.com/ryandielhenn/clocknet/pkg/clock"
	"github.com/ryandielhenn/clocknet/pkg/protocol"
	"github.com/ryandielhenn/clocknet/pkg/registry"
)

type Config struct {
	HTTPAddr     string
	Transport    string
	TickInterval time.Duration
	RPCTimeout   time.Duration
	SyncTimeout  time.Duration
	Fanout       agent.Fanout
	LogFormat    string
	Verbose      bool
	JournalBytes int

	// JournalRetention of zero keeps entries until evicted by size.
	JournalRetention time.Duration

	EtcdEndpoints []string
	EtcdPrefix    string
	EtcdTTL       int64
}

func Default() Config {
	return Config{
		HTTPAddr:     ":8080",
		Transport:    "tcp",
		TickInterval: clock.DefaultInterval,
		RPCTimeout:   protocol.DefaultRPCTimeout,
		SyncTimeout:  protocol.DefaultSyncTimeout,
		Fanout:       agent.AbortOnFirstFailure,
		LogFormat:    "json",
		Verbose:      true,
		JournalBytes: 1 << 20,
		EtcdPrefix:   registry.DefaultPrefix,
		EtcdTTL:      registry.DefaultTTL,
	}
}

// Load starts from Default, applies the environment seen through getenv and
// then args. Parse errors name the offending variable or flag.
func Load(args []string, getenv func(string) string) (Config, error) {
	c := Default()
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := c.fromEnv(getenv); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("clocknet", flag.ContinueOnError)
	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "control panel listen address")
	fs.StringVar(&c.Transport, "transport", c.Transport, "agent transport: tcp or quic")
	fs.DurationVar(&c.TickInterval, "tick", c.TickInterval, "clock tick interval; negative freezes clocks")
	fs.DurationVar(&c.RPCTimeout, "rpc-timeout", c.RPCTimeout, "timeout of one protocol request")
	fs.DurationVar(&c.SyncTimeout, "sync-timeout", c.SyncTimeout, "timeout of a SYN request")
	fanout := fs.String("fanout", c.Fanout.String(), "multi-peer failure policy: abort or best-effort")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json or console")
	fs.BoolVar(&c.Verbose, "verbose", c.Verbose, "log protocol events at info")
	fs.IntVar(&c.JournalBytes, "journal-bytes", c.JournalBytes, "activity journal capacity in bytes")
	fs.DurationVar(&c.JournalRetention, "journal-retention", c.JournalRetention, "drop journal entries older than this")
	etcd := fs.String("etcd", strings.Join(c.EtcdEndpoints, ","), "comma separated etcd endpoints; empty disables the directory")
	fs.StringVar(&c.EtcdPrefix, "etcd-prefix", c.EtcdPrefix, "etcd key prefix")
	fs.Int64Var(&c.EtcdTTL, "etcd-ttl", c.EtcdTTL, "etcd lease TTL in seconds")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	f, ok := agent.ParseFanout(*fanout)
	if !ok {
		return Config{}, fmt.Errorf("config: -fanout: unknown policy %q", *fanout)
	}
	c.Fanout = f
	c.EtcdEndpoints = splitList(*etcd)
	return c, c.Validate()
}

func (c *Config) fromEnv(getenv func(string) string) error {
	var errs error
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int64) {
		if v := getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("HTTP_ADDR", &c.HTTPAddr)
	str("TRANSPORT", &c.Transport)
	dur("TICK_INTERVAL", &c.TickInterval)
	dur("RPC_TIMEOUT", &c.RPCTimeout)
	dur("SYNC_TIMEOUT", &c.SyncTimeout)
	str("LOG_FORMAT", &c.LogFormat)
	dur("JOURNAL_RETENTION", &c.JournalRetention)
	str("ETCD_PREFIX", &c.EtcdPrefix)
	integer("ETCD_TTL", &c.EtcdTTL)

	if v := getenv("FANOUT"); v != "" {
		f, ok := agent.ParseFanout(v)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("config: FANOUT: unknown policy %q", v))
		}
		c.Fanout = f
	}
	if v := getenv("VERBOSE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("config: VERBOSE: %w", err))
		}
		c.Verbose = b
	}
	journal := int64(c.JournalBytes)
	integer("JOURNAL_BYTES", &journal)
	c.JournalBytes = int(journal)
	if v := getenv("ETCD_ENDPOINTS"); v != "" {
		c.EtcdEndpoints = splitList(v)
	}
	return errs
}

func (c Config) Validate() error {
	switch c.Transport {
	case "tcp", "quic":
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.RPCTimeout <= 0 || c.SyncTimeout <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	if c.JournalBytes < 0 {
		return errors.New("config: journal size must not be negative")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
