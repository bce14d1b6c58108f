package protocol

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ryandielhenn/clocknet/pkg/events"
	"github.com/ryandielhenn/clocknet/pkg/transport"
	"github.com/ryandielhenn/clocknet/pkg/wire"
)

// Handler is the agent state the server reads and mutates.
type Handler interface {
	Members() []wire.Identity
	Clock() int64
	// Synchronize sets the clock to the network average over the handler's
	// own membership view and returns the new value.
	Synchronize(ctx context.Context) (int64, error)
	AddMember(id wire.Identity) bool
	RemoveMember(id wire.Identity) bool
}

type ServerOptions struct {
	// RPCTimeout bounds reading the request and writing the reply.
	RPCTimeout time.Duration
	// SyncTimeout bounds the fan-out triggered by an inbound SYN.
	SyncTimeout time.Duration
	Sink        events.Sink
}

type State int32

const (
	StateIdle State = iota
	StateListening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Server accepts one connection at a time, decodes the segment, dispatches
// on its flag, replies and closes before accepting the next one. This is
// the only serialization of inbound membership mutations.
type Server struct {
	ln      transport.Listener
	h       Handler
	opts    ServerOptions
	sink    events.Sink
	self    string
	state   atomic.Int32
	stopped atomic.Bool
	done    chan struct{}
	once    sync.Once

	dispatch map[wire.Flag]func(context.Context, transport.Conn, wire.Segment, string) error
}

func NewServer(ln transport.Listener, h Handler, opts ServerOptions) *Server {
	if opts.RPCTimeout <= 0 {
		opts.RPCTimeout = DefaultRPCTimeout
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = DefaultSyncTimeout
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.Discard
	}
	s := &Server{
		ln:   ln,
		h:    h,
		opts: opts,
		sink: sink,
		self: ln.Addr().String(),
		done: make(chan struct{}),
	}
	s.dispatch = map[wire.Flag]func(context.Context, transport.Conn, wire.Segment, string) error{
		wire.FlagNet: s.handleNet,
		wire.FlagClk: s.handleClk,
		wire.FlagSyn: s.handleSyn,
		wire.FlagUpd: s.handleUpd,
		wire.FlagDel: s.handleDel,
	}
	return s
}

func (s *Server) State() State { return State(s.state.Load()) }

// Serve runs the accept loop until Stop. It returns nil after Stop and the
// accept error otherwise.
func (s *Server) Serve() error {
	defer close(s.done)
	defer s.state.Store(int32(StateStopped))
	s.state.Store(int32(StateListening))
	for {
		if s.stopped.Load() {
			return nil
		}
		s.emit(events.Event{Kind: events.ServerWaiting})
		conn, err := s.ln.Accept()
		if err != nil {
			if s.stopped.Load() || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		s.serveConn(conn)
	}
}

// Stop stops accepting, lets the in-flight connection finish and waits for
// Serve to return. It must not be called from a handler.
func (s *Server) Stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		_ = s.ln.Close()
	})
	if s.State() == StateIdle {
		return
	}
	<-s.done
}

func (s *Server) serveConn(conn transport.Conn) {
	connID := uuid.NewString()
	remote := ""
	if ra := conn.RemoteAddr(); ra != nil {
		remote = ra.String()
	}
	defer conn.Close()
	s.emit(events.Event{Kind: events.ConnAccepted, Peer: remote, ConnID: connID})

	_ = conn.SetDeadline(time.Now().Add(s.opts.RPCTimeout))
	raw, err := wire.ReadText(conn)
	if err != nil {
		s.emit(events.Event{Kind: events.MalformedSegment, Peer: remote, ConnID: connID, Err: err})
		return
	}
	seg, err := wire.DecodeSegment(raw)
	switch {
	case errors.Is(err, wire.ErrUnknownFlag):
		s.emit(events.Event{Kind: events.IncorrectFlag, Peer: seg.Sender.String(), Flag: string(seg.Flag), ConnID: connID})
		_ = wire.SendText(conn, wire.IncorrectFlag)
		s.emit(events.Event{Kind: events.ConnFinished, Peer: seg.Sender.String(), ConnID: connID})
		return
	case err != nil:
		s.emit(events.Event{Kind: events.MalformedSegment, Peer: remote, ConnID: connID, Err: err})
		return
	}

	sender := seg.Sender.String()
	s.emit(events.Event{Kind: events.FlagReceived, Peer: sender, Flag: string(seg.Flag), ConnID: connID})
	if err := s.dispatch[seg.Flag](context.Background(), conn, seg, connID); err != nil {
		s.emit(events.Event{Kind: events.RequestFailed, Peer: sender, Flag: string(seg.Flag), ConnID: connID, Err: err})
	}
	s.emit(events.Event{Kind: events.ConnFinished, Peer: sender, ConnID: connID})
}

// replyDeadline resets the conn deadline before a reply; handlers such as
// SYN may have spent most of the read budget.
func (s *Server) replyDeadline(conn transport.Conn) {
	_ = conn.SetDeadline(time.Now().Add(s.opts.RPCTimeout))
}

func (s *Server) handleNet(_ context.Context, conn transport.Conn, seg wire.Segment, connID string) error {
	members := s.h.Members()
	s.replyDeadline(conn)
	if err := wire.SendValue(conn, wire.Strings(members)); err != nil {
		return err
	}
	s.emit(events.Event{Kind: events.MembershipSent, Peer: seg.Sender.String(), Members: len(members), ConnID: connID})
	return nil
}

func (s *Server) handleClk(_ context.Context, conn transport.Conn, seg wire.Segment, connID string) error {
	v := s.h.Clock()
	s.replyDeadline(conn)
	if err := wire.SendValue(conn, v); err != nil {
		return err
	}
	s.emit(events.Event{Kind: events.ClockSent, Peer: seg.Sender.String(), Value: v, ConnID: connID})
	return nil
}

func (s *Server) handleSyn(ctx context.Context, conn transport.Conn, seg wire.Segment, connID string) error {
	// The caller's SYN deadline must cover our own CLK fan-out.
	_ = conn.SetDeadline(time.Now().Add(s.opts.SyncTimeout))
	ctx, cancel := context.WithTimeout(ctx, s.opts.SyncTimeout)
	defer cancel()
	v, err := s.h.Synchronize(ctx)
	if err != nil {
		// No reply: the requester sees the failure as an unreachable peer.
		return err
	}
	s.emit(events.Event{Kind: events.ClockSynchronized, Peer: seg.Sender.String(), Value: v, ConnID: connID})
	s.replyDeadline(conn)
	return wire.SendText(conn, wire.Ack)
}

func (s *Server) handleUpd(_ context.Context, conn transport.Conn, seg wire.Segment, connID string) error {
	if s.h.AddMember(seg.Sender) {
		s.emit(events.Event{Kind: events.MemberAdded, Peer: seg.Sender.String(), ConnID: connID})
	}
	s.replyDeadline(conn)
	return wire.SendText(conn, wire.Ack)
}

func (s *Server) handleDel(_ context.Context, conn transport.Conn, seg wire.Segment, connID string) error {
	if s.h.RemoveMember(seg.Sender) {
		s.emit(events.Event{Kind: events.MemberRemoved, Peer: seg.Sender.String(), ConnID: connID})
	}
	s.replyDeadline(conn)
	return wire.SendText(conn, wire.Ack)
}

func (s *Server) emit(e events.Event) {
	e.Time = time.Now()
	e.Agent = s.self
	s.sink.Emit(e)
}
