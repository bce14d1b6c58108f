package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	quic "github.com/quic-go/quic-go"
)

const (
	quicMaxIdleTimeout   = 30 * time.Second
	quicHandshakeTimeout = 5 * time.Second
	// quicLinger bounds how long a server conn waits for the client to
	// close after the reply was sent.
	quicLinger = 2 * time.Second
)

var (
	serverTLS = sync.OnceValues(serverTLSConfig)
	clientTLS = sync.OnceValues(clientTLSConfig)
)

type quicTransport struct {
	conf *quic.Config
}

// QUIC returns a transport running one QUIC connection per request.
func QUIC() Transport {
	return &quicTransport{conf: &quic.Config{
		MaxIdleTimeout:       quicMaxIdleTimeout,
		HandshakeIdleTimeout: quicHandshakeTimeout,
	}}
}

func (t *quicTransport) Name() string { return "quic" }

func (t *quicTransport) Listen(addr string) (Listener, error) {
	tlsConf, err := serverTLS()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, t.conf)
	if err != nil {
		return nil, err
	}
	return &quicListener{ln: ln}, nil
}

func (t *quicTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	tlsConf, err := clientTLS()
	if err != nil {
		return nil, err
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf.Clone(), t.conf)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(dl)
	}
	return &quicConn{conn: conn, stream: stream}, nil
}

type quicListener struct {
	ln     *quic.Listener
	closed atomic.Bool
}

// Accept waits for the next connection and its first stream. A connection
// that never opens a stream is dropped and Accept keeps waiting.
func (l *quicListener) Accept() (Conn, error) {
	for {
		conn, err := l.ln.Accept(context.Background())
		if err != nil {
			if l.closed.Load() {
				return nil, ErrClosed
			}
			return nil, err
		}
		ctx, cancel := context.WithTimeout(conn.Context(), quicHandshakeTimeout)
		stream, err := conn.AcceptStream(ctx)
		cancel()
		if err != nil {
			_ = conn.CloseWithError(0, "no stream")
			if l.closed.Load() {
				return nil, ErrClosed
			}
			continue
		}
		return &quicConn{conn: conn, stream: stream, server: true}, nil
	}
}

func (l *quicListener) Close() error {
	l.closed.Store(true)
	return l.ln.Close()
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

type quicConn struct {
	conn   *quic.Conn
	stream *quic.Stream
	server bool
	once   sync.Once
}

func (c *quicConn) Read(p []byte) (int, error) { return c.stream.Read(p) }

func (c *quicConn) Write(p []byte) (int, error) { return c.stream.Write(p) }

func (c *quicConn) SetDeadline(t time.Time) error { return c.stream.SetDeadline(t) }

func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close finishes the stream and tears the connection down. The server side
// lingers until the client has closed, so the reply is not cut off.
func (c *quicConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.stream.Close()
		if c.server {
			select {
			case <-c.conn.Context().Done():
			case <-time.After(quicLinger):
			}
		}
		if cerr := c.conn.CloseWithError(0, ""); err == nil {
			err = cerr
		}
	})
	return err
}
