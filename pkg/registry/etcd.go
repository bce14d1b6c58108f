// Package registry publishes live agents in etcd so other processes can
// find an introducer. Each agent is a key under a prefix, bound to a lease
// that is kept alive while the agent runs.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/clocknet/pkg/wire"
)

const (
	DefaultPrefix = "/clocknet/agents/"
	DefaultTTL    = 10 // seconds
	dialTimeout   = 5 * time.Second
)

var ErrNoEndpoints = errors.New("registry: no etcd endpoints")

type registration struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc
}

// Directory is an etcd-backed set of agent identities.
type Directory struct {
	cli    *clientv3.Client
	prefix string
	ttl    int64
	log    *zap.Logger

	mu   sync.Mutex
	regs map[wire.Identity]registration
}

func New(endpoints []string, prefix string, ttl int64, log *zap.Logger) (*Directory, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      log.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect: %w", err)
	}
	return &Directory{
		cli:    cli,
		prefix: prefix,
		ttl:    ttl,
		log:    log.Named("registry"),
		regs:   make(map[wire.Identity]registration),
	}, nil
}

// Key is the etcd key an identity is stored under.
func Key(prefix string, id wire.Identity) string {
	return prefix + id.String()
}

// IdentityFromKey inverts Key.
func IdentityFromKey(prefix, key string) (wire.Identity, error) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return wire.Identity{}, fmt.Errorf("registry: key %q outside %q", key, prefix)
	}
	return wire.ParseIdentity(rest)
}

// Register puts id under a fresh lease and keeps the lease alive until
// Deregister or Close.
func (d *Directory) Register(ctx context.Context, id wire.Identity) error {
	lease, err := d.cli.Grant(ctx, d.ttl)
	if err != nil {
		return fmt.Errorf("registry: grant: %w", err)
	}
	if _, err := d.cli.Put(ctx, Key(d.prefix, id), id.String(), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", id, err)
	}

	kctx, cancel := context.WithCancel(context.Background())
	ch, err := d.cli.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("registry: keepalive %s: %w", id, err)
	}
	go func() {
		for range ch {
		}
		d.log.Debug("keepalive ended", zap.Stringer("agent", id))
	}()

	d.mu.Lock()
	if old, ok := d.regs[id]; ok {
		old.cancel()
	}
	d.regs[id] = registration{lease: lease.ID, cancel: cancel}
	d.mu.Unlock()
	return nil
}

// Deregister revokes id's lease, which deletes its key.
func (d *Directory) Deregister(ctx context.Context, id wire.Identity) error {
	d.mu.Lock()
	reg, ok := d.regs[id]
	delete(d.regs, id)
	d.mu.Unlock()
	if !ok {
		_, err := d.cli.Delete(ctx, Key(d.prefix, id))
		return err
	}
	reg.cancel()
	if _, err := d.cli.Revoke(ctx, reg.lease); err != nil {
		return fmt.Errorf("registry: revoke %s: %w", id, err)
	}
	return nil
}

// Peers lists every registered identity, including ones registered by
// other processes.
func (d *Directory) Peers(ctx context.Context) ([]wire.Identity, error) {
	resp, err := d.cli.Get(ctx, d.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	ids := make([]wire.Identity, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id, err := IdentityFromKey(d.prefix, string(kv.Key))
		if err != nil {
			d.log.Warn("skipping foreign key", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type Change struct {
	ID      wire.Identity
	Removed bool
}

// Watch calls fn for every registration and removal under the prefix until
// ctx is done.
func (d *Directory) Watch(ctx context.Context, fn func(Change)) error {
	for resp := range d.cli.Watch(ctx, d.prefix, clientv3.WithPrefix()) {
		if err := resp.Err(); err != nil {
			return fmt.Errorf("registry: watch: %w", err)
		}
		for _, ev := range resp.Events {
			id, err := IdentityFromKey(d.prefix, string(ev.Kv.Key))
			if err != nil {
				continue
			}
			fn(Change{ID: id, Removed: ev.Type == mvccpb.DELETE})
		}
	}
	return ctx.Err()
}

// Close stops every keepalive and closes the etcd client. Leases expire on
// their own after the TTL.
func (d *Directory) Close() error {
	d.mu.Lock()
	for id, reg := range d.regs {
		reg.cancel()
		delete(d.regs, id)
	}
	d.mu.Unlock()
	return d.cli.Close()
}
