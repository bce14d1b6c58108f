package protocol

import (
	"context"
	"time"

	"github.com/ryandielhenn/clocknet/pkg/events"
	"github.com/ryandielhenn/clocknet/pkg/transport"
	"github.com/ryandielhenn/clocknet/pkg/wire"
)

const (
	DefaultRPCTimeout  = 5 * time.Second
	DefaultSyncTimeout = 30 * time.Second
)

type ClientOptions struct {
	// RPCTimeout bounds NET, CLK, UPD and DEL round trips.
	RPCTimeout time.Duration
	// SyncTimeout bounds SYN, whose receiver polls every member before it
	// answers.
	SyncTimeout time.Duration
	Sink        events.Sink
}

// Client issues outbound requests on behalf of one agent. Each request is
// one connection: dial, send segment, read reply, close.
type Client struct {
	self  wire.Identity
	tr    transport.Transport
	opts  ClientOptions
	sink  events.Sink
	label string
}

func NewClient(self wire.Identity, tr transport.Transport, opts ClientOptions) *Client {
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
	return &Client{self: self, tr: tr, opts: opts, sink: sink, label: self.String()}
}

func (c *Client) Self() wire.Identity { return c.self }

// FetchMembership asks the introducer for its membership list (NET).
func (c *Client) FetchMembership(ctx context.Context, introducer wire.Identity) ([]wire.Identity, error) {
	var raw []string
	err := c.do(ctx, introducer, wire.FlagNet, c.opts.RPCTimeout, func(conn transport.Conn) error {
		return wire.ReadValue(conn, &raw)
	})
	if err != nil {
		return nil, err
	}
	ids, err := wire.ParseIdentities(raw)
	if err != nil {
		return nil, peerErr(introducer, wire.FlagNet, err)
	}
	c.emit(events.Event{Kind: events.MembershipReceived, Peer: introducer.String(), Members: len(ids)})
	return ids, nil
}

// FetchClock reads a peer's clock value (CLK).
func (c *Client) FetchClock(ctx context.Context, peer wire.Identity) (int64, error) {
	var v int64
	err := c.do(ctx, peer, wire.FlagClk, c.opts.RPCTimeout, func(conn transport.Conn) error {
		return wire.ReadValue(conn, &v)
	})
	return v, err
}

// RequestSync tells a peer to recompute its clock from its own view (SYN).
func (c *Client) RequestSync(ctx context.Context, peer wire.Identity) error {
	return c.do(ctx, peer, wire.FlagSyn, c.opts.SyncTimeout, expectAck)
}

// AnnounceSelf asks a peer to add this agent to its list (UPD).
func (c *Client) AnnounceSelf(ctx context.Context, peer wire.Identity) error {
	return c.do(ctx, peer, wire.FlagUpd, c.opts.RPCTimeout, expectAck)
}

// RequestRemoval asks a peer to drop this agent from its list (DEL).
func (c *Client) RequestRemoval(ctx context.Context, peer wire.Identity) error {
	return c.do(ctx, peer, wire.FlagDel, c.opts.RPCTimeout, expectAck)
}

// NetworkAverage sums selfClock with the clock of every member and floor
// divides by len(members)+1. The first unreachable member aborts it.
func (c *Client) NetworkAverage(ctx context.Context, selfClock int64, members []wire.Identity) (int64, error) {
	values := make([]int64, 0, len(members)+1)
	values = append(values, selfClock)
	for _, m := range members {
		v, err := c.FetchClock(ctx, m)
		if err != nil {
			return 0, err
		}
		values = append(values, v)
	}
	avg := Average(values)
	c.emit(events.Event{Kind: events.AverageComputed, Members: len(members), Value: avg})
	return avg, nil
}

func expectAck(conn transport.Conn) error {
	reply, err := wire.ReadText(conn)
	if err != nil {
		return err
	}
	if reply != wire.Ack {
		return &wire.ReplyError{Text: reply}
	}
	return nil
}

func (c *Client) do(ctx context.Context, peer wire.Identity, flag wire.Flag, timeout time.Duration, read func(transport.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()

	err := func() error {
		conn, err := c.tr.Dial(ctx, peer.String())
		if err != nil {
			return err
		}
		defer conn.Close()
		if dl, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(dl)
		}
		if err := wire.SendText(conn, wire.EncodeSegment(flag, c.self)); err != nil {
			return err
		}
		return read(conn)
	}()
	if err != nil {
		cause := classify(err)
		c.emit(events.Event{Kind: events.RequestFailed, Peer: peer.String(), Flag: string(flag), Duration: time.Since(start), Err: cause})
		return &PeerError{Peer: peer, Flag: flag, Err: cause}
	}
	c.emit(events.Event{Kind: events.RequestSent, Peer: peer.String(), Flag: string(flag), Duration: time.Since(start)})
	return nil
}

func (c *Client) emit(e events.Event) {
	e.Time = time.Now()
	e.Agent = c.label
	c.sink.Emit(e)
}
