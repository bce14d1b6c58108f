// Package control owns the agents hosted by one process and exposes them
// through an HTTP panel.
package control

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ryandielhenn/clocknet/pkg/agent"
	"github.com/ryandielhenn/clocknet/pkg/protocol"
	"github.com/ryandielhenn/clocknet/pkg/transport"
	"github.com/ryandielhenn/clocknet/pkg/wire"
)

var (
	ErrUnknownAgent        = errors.New("control: unknown agent")
	ErrAlreadyBootstrapped = errors.New("control: network already has agents")
)

// Directory is told about agents entering and leaving the registry.
type Directory interface {
	Register(ctx context.Context, id wire.Identity) error
	Deregister(ctx context.Context, id wire.Identity) error
}

type AgentInfo struct {
	ID      string   `json:"id"`
	Address string   `json:"address"`
	Port    int      `json:"port"`
	Clock   int64    `json:"clock"`
	Members []string `json:"members"`
	State   string   `json:"state"`
}

// Registry holds the agents created through the panel in creation order.
type Registry struct {
	template  agent.Config
	directory Directory
	log       *zap.Logger

	mu     sync.RWMutex
	agents []*agent.Agent
}

// NewRegistry creates agents from template; only Seed changes per agent.
// directory may be nil.
func NewRegistry(template agent.Config, directory Directory, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if template.Transport == nil {
		template.Transport = transport.TCP()
	}
	return &Registry{template: template, directory: directory, log: log.Named("registry")}
}

// AddFirst starts the first agent with a zero clock.
func (r *Registry) AddFirst(ctx context.Context) (*agent.Agent, error) {
	r.mu.Lock()
	if len(r.agents) > 0 {
		r.mu.Unlock()
		return nil, ErrAlreadyBootstrapped
	}
	cfg := r.template
	cfg.Seed = 0
	a, err := agent.Start(cfg)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.agents = append(r.agents, a)
	r.mu.Unlock()

	r.log.Info("first agent added", zap.Stringer("agent", a))
	r.announce(ctx, a)
	return a, nil
}

// AddJoining starts an agent with the given seed that joins through the
// loopback agent listening on introducerPort.
func (r *Registry) AddJoining(ctx context.Context, seed int64, introducerPort int) (*agent.Agent, error) {
	introducer := wire.Identity{Address: wire.LoopbackAddress, Port: introducerPort}
	cfg := r.template
	cfg.Seed = seed
	a, err := agent.Join(ctx, cfg, introducer)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.agents = append(r.agents, a)
	r.mu.Unlock()

	r.log.Info("agent joined", zap.Stringer("agent", a), zap.Stringer("introducer", introducer), zap.Int64("seed", seed))
	r.announce(ctx, a)
	return a, nil
}

// Sync sends a SYN segment to the named agent over the wire, as any peer
// would.
func (r *Registry) Sync(ctx context.Context, id string) error {
	a, err := r.Get(id)
	if err != nil {
		return err
	}
	cl := protocol.NewClient(a.Identity(), r.template.Transport, protocol.ClientOptions{
		RPCTimeout:  r.template.RPCTimeout,
		SyncTimeout: r.template.SyncTimeout,
		Sink:        r.template.Sink,
	})
	return cl.RequestSync(ctx, a.Identity())
}

// Remove drops the agent from the registry and makes it leave the network.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	i := slices.IndexFunc(r.agents, func(a *agent.Agent) bool { return a.String() == id })
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	a := r.agents[i]
	r.agents = slices.Delete(r.agents, i, i+1)
	r.mu.Unlock()

	err := a.Leave(ctx)
	if r.directory != nil {
		if derr := r.directory.Deregister(ctx, a.Identity()); derr != nil {
			r.log.Warn("directory deregister failed", zap.Stringer("agent", a), zap.Error(derr))
		}
	}
	if err != nil {
		return err
	}
	r.log.Info("agent removed", zap.Stringer("agent", a))
	return nil
}

func (r *Registry) Get(id string) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.agents {
		if a.String() == id {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) List() []AgentInfo {
	r.mu.RLock()
	agents := slices.Clone(r.agents)
	r.mu.RUnlock()

	out := make([]AgentInfo, 0, len(agents))
	for _, a := range agents {
		out = append(out, infoOf(a))
	}
	return out
}

func infoOf(a *agent.Agent) AgentInfo {
	return AgentInfo{
		ID:      a.String(),
		Address: a.Address(),
		Port:    a.Port(),
		Clock:   a.Clock(),
		Members: wire.Strings(a.Members()),
		State:   a.State().String(),
	}
}

// Close stops every agent without notifying peers and deregisters them.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	agents := r.agents
	r.agents = nil
	r.mu.Unlock()

	var err error
	for _, a := range agents {
		a.Stop()
		if r.directory != nil {
			err = multierr.Append(err, r.directory.Deregister(ctx, a.Identity()))
		}
	}
	return err
}

func (r *Registry) announce(ctx context.Context, a *agent.Agent) {
	if r.directory == nil {
		return
	}
	if err := r.directory.Register(ctx, a.Identity()); err != nil {
		r.log.Warn("directory register failed", zap.Stringer("agent", a), zap.Error(err))
	}
}

// LogLevel is the verbose switch of the panel: Info while verbose, Warn
// while quiet.
type LogLevel struct {
	level zap.AtomicLevel
}

func NewLogLevel(verbose bool) *LogLevel {
	l := &LogLevel{level: zap.NewAtomicLevel()}
	l.Set(verbose)
	return l
}

// Level is the level to build loggers with.
func (l *LogLevel) Level() zap.AtomicLevel { return l.level }

func (l *LogLevel) Verbose() bool { return l.level.Enabled(zapcore.InfoLevel) }

func (l *LogLevel) Set(verbose bool) {
	if verbose {
		l.level.SetLevel(zapcore.InfoLevel)
		return
	}
	l.level.SetLevel(zapcore.WarnLevel)
}

// Toggle flips verbosity and returns the new setting.
func (l *LogLevel) Toggle() bool {
	v := !l.Verbose()
	l.Set(v)
	return v
}
