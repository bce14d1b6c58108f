// Package agent runs one node of the counter network: a logical clock
// advanced by a tick loop, a membership view, a protocol server answering
// peers, and the join and leave sequences that keep every peer's view and
// clock in step.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ryandielhenn/clocknet/pkg/clock"
	"github.com/ryandielhenn/clocknet/pkg/events"
	"github.com/ryandielhenn/clocknet/pkg/membership"
	"github.com/ryandielhenn/clocknet/pkg/protocol"
	"github.com/ryandielhenn/clocknet/pkg/wire"
)

type State int32

const (
	Joining State = iota
	Active
	Leaving
	Stopped
)

func (s State) String() string {
	switch s {
	case Joining:
		return "joining"
	case Active:
		return "active"
	case Leaving:
		return "leaving"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// ErrNotActive is returned by Leave on an agent that is not Active.
var ErrNotActive = errors.New("agent: not active")

type Agent struct {
	cfg     Config
	self    wire.Identity
	clock   *clock.Clock
	members *membership.List
	client  *protocol.Client
	server  *protocol.Server
	sink    events.Sink
	log     *zap.Logger
	state   atomic.Int32

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Start creates the first agent of a network: empty membership, clock at
// cfg.Seed, loops running, Active.
func Start(cfg Config) (*Agent, error) {
	a, err := launch(cfg)
	if err != nil {
		return nil, err
	}
	a.state.Store(int32(Active))
	a.emit(events.Event{Kind: events.AgentStarted, Value: a.clock.Read()})
	return a, nil
}

// Join creates an agent that enters the network through introducer. Its
// loops run from the start so peers can query it while it joins. On any
// failure the agent is stopped and the error returned; peers already
// told about it are not rolled back.
func Join(ctx context.Context, cfg Config, introducer wire.Identity) (*Agent, error) {
	a, err := launch(cfg)
	if err != nil {
		return nil, err
	}
	a.emit(events.Event{Kind: events.AgentStarted, Value: a.clock.Read()})
	if err := a.join(ctx, introducer); err != nil {
		a.emit(events.Event{Kind: events.JoinFailed, Peer: introducer.String(), Err: err})
		a.Stop()
		return nil, fmt.Errorf("agent: join through %s: %w", introducer, err)
	}
	a.state.Store(int32(Active))
	a.emit(events.Event{Kind: events.JoinCompleted, Members: a.members.Len(), Value: a.clock.Read()})
	return a, nil
}

func launch(cfg Config) (*Agent, error) {
	cfg = cfg.withDefaults()
	ln, err := cfg.Transport.Listen(net.JoinHostPort(cfg.Host, "0"))
	if err != nil {
		return nil, fmt.Errorf("agent: listen: %w", err)
	}
	self, err := wire.IdentityFromAddr(ln.Addr())
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	a := &Agent{
		cfg:     cfg,
		self:    self,
		clock:   clock.New(cfg.Seed),
		members: membership.New(),
		sink:    cfg.Sink,
		log:     cfg.Logger.Named("agent").With(zap.Stringer("self", self)),
		stop:    make(chan struct{}),
	}
	a.state.Store(int32(Joining))
	a.client = protocol.NewClient(self, cfg.Transport, protocol.ClientOptions{
		RPCTimeout:  cfg.RPCTimeout,
		SyncTimeout: cfg.SyncTimeout,
		Sink:        cfg.Sink,
	})
	a.server = protocol.NewServer(ln, a, protocol.ServerOptions{
		RPCTimeout:  cfg.RPCTimeout,
		SyncTimeout: cfg.SyncTimeout,
		Sink:        cfg.Sink,
	})

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.clock.Run(a.stop, cfg.TickInterval)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.server.Serve(); err != nil {
			a.log.Error("server loop exited", zap.Error(err))
		}
	}()
	a.log.Debug("agent launched", zap.String("transport", cfg.Transport.Name()), zap.Int64("seed", cfg.Seed))
	return a, nil
}

func (a *Agent) join(ctx context.Context, introducer wire.Identity) error {
	a.emit(events.Event{Kind: events.JoinStarted, Peer: introducer.String()})

	known, err := a.client.FetchMembership(ctx, introducer)
	if err != nil {
		return err
	}
	view := make([]wire.Identity, 0, len(known)+1)
	for _, id := range known {
		if id != a.self {
			view = append(view, id)
		}
	}
	view = append(view, introducer)
	a.members.Replace(view)
	members := a.members.Snapshot()

	if err := a.fanout(ctx, members, a.client.AnnounceSelf); err != nil {
		return err
	}

	// The average is computed over the seed and committed only after every
	// peer has synchronized, so peers average against the seed as well.
	avg, err := a.client.NetworkAverage(ctx, a.clock.Read(), members)
	if err != nil {
		return err
	}
	if err := a.fanout(ctx, members, a.client.RequestSync); err != nil {
		return err
	}
	a.clock.Set(avg)
	return nil
}

// Leave deregisters the agent from every member, asks the remaining
// members to synchronize and stops the loops. A failure aborts the
// remaining notifications (or, with BestEffort, is collected) and the
// agent is stopped regardless.
func (a *Agent) Leave(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(Active), int32(Leaving)) {
		return ErrNotActive
	}
	defer a.Stop()

	members := a.members.Snapshot()
	a.emit(events.Event{Kind: events.LeaveStarted, Members: len(members)})

	err := a.fanout(ctx, members, a.client.RequestRemoval)
	if err != nil && a.cfg.Fanout == AbortOnFirstFailure {
		return fmt.Errorf("agent: leave: %w", err)
	}
	if serr := a.fanout(ctx, members, a.client.RequestSync); serr != nil {
		err = multierr.Append(err, serr)
	}
	if err != nil {
		return fmt.Errorf("agent: leave: %w", err)
	}
	a.emit(events.Event{Kind: events.LeaveCompleted})
	return nil
}

// Stop halts the tick and server loops without telling any peer. It waits
// for an in-flight connection to finish. Safe to call more than once.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
		a.server.Stop()
		a.wg.Wait()
		a.state.Store(int32(Stopped))
		a.emit(events.Event{Kind: events.AgentStopped, Value: a.clock.Read()})
	})
}

// Synchronize sets the clock to the average over this agent's own view.
func (a *Agent) Synchronize(ctx context.Context) (int64, error) {
	avg, err := a.client.NetworkAverage(ctx, a.clock.Read(), a.members.Snapshot())
	if err != nil {
		return 0, err
	}
	a.clock.Set(avg)
	return avg, nil
}

func (a *Agent) fanout(ctx context.Context, peers []wire.Identity, call func(context.Context, wire.Identity) error) error {
	var errs error
	for _, p := range peers {
		if err := call(ctx, p); err != nil {
			if a.cfg.Fanout == AbortOnFirstFailure {
				return err
			}
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (a *Agent) emit(e events.Event) {
	e.Time = time.Now()
	e.Agent = a.self.String()
	a.sink.Emit(e)
}

// Handler implementation for the protocol server.

func (a *Agent) Members() []wire.Identity { return a.members.Snapshot() }

func (a *Agent) Clock() int64 { return a.clock.Read() }

func (a *Agent) AddMember(id wire.Identity) bool {
	if id == a.self {
		return false
	}
	return a.members.Add(id)
}

func (a *Agent) RemoveMember(id wire.Identity) bool { return a.members.Remove(id) }

func (a *Agent) Identity() wire.Identity { return a.self }

func (a *Agent) Address() string { return a.self.Address }

func (a *Agent) Port() int { return a.self.Port }

func (a *Agent) State() State { return State(a.state.Load()) }

// SetClock overwrites the clock, as an operator would on the panel.
func (a *Agent) SetClock(v int64) { a.clock.Set(v) }

func (a *Agent) String() string { return a.self.String() }
