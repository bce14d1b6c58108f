// Package transport carries protocol segments between agents over a
// point-to-point byte stream. Every request uses a fresh connection: the
// client dials, writes one segment, reads one reply and closes.
//
// Two implementations are provided: plain TCP (the default) and QUIC, where
// each request is one QUIC connection with a single bidirectional stream.
// Agents and the protocol layer only see the interfaces below, so the
// transport can be swapped without touching membership or clock logic.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrClosed is returned by Accept once the listener has been closed.
var ErrClosed = errors.New("transport: listener closed")

type Conn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

type Listener interface {
	// Accept blocks until a peer connects or the listener is closed.
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

type Transport interface {
	Name() string
	Listen(addr string) (Listener, error)
	Dial(ctx context.Context, addr string) (Conn, error)
}

// ByName returns the transport registered under name ("tcp" or "quic").
func ByName(name string) (Transport, error) {
	switch name {
	case "", "tcp":
		return TCP(), nil
	case "quic":
		return QUIC(), nil
	default:
		return nil, fmt.Errorf("transport: unknown transport %q", name)
	}
}
