package transport

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ryandielhenn/clocknet/pkg/wire"
)

func transports() []Transport { return []Transport{TCP(), QUIC()} }

// echoOnce accepts one connection, reads one text frame and replies with it
// prefixed by "echo:".
func echoOnce(t *testing.T, ln Listener) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		defer c.Close()
		_ = c.SetDeadline(time.Now().Add(5 * time.Second))
		msg, err := wire.ReadText(c)
		if err != nil {
			errCh <- err
			return
		}
		errCh <- wire.SendText(c, "echo:"+msg)
	}()
	return errCh
}

func TestRequestReply(t *testing.T) {
	for _, tr := range transports() {
		t.Run(tr.Name(), func(t *testing.T) {
			ln, err := tr.Listen("127.0.0.1:0")
			if err != nil {
				t.Fatalf("Listen: %v", err)
			}
			defer ln.Close()
			id, err := wire.IdentityFromAddr(ln.Addr())
			if err != nil || id.Address != wire.LoopbackAddress || id.Port == 0 {
				t.Fatalf("listener identity = (%v,%v)", id, err)
			}

			srvErr := echoOnce(t, ln)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			c, err := tr.Dial(ctx, id.String())
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			if err := wire.SendText(c, "CLK->127.0.0.1:1"); err != nil {
				t.Fatalf("SendText: %v", err)
			}
			got, err := wire.ReadText(c)
			if err != nil || got != "echo:CLK->127.0.0.1:1" {
				t.Fatalf("ReadText = (%q,%v)", got, err)
			}
			_ = c.Close()
			if err := <-srvErr; err != nil {
				t.Fatalf("server: %v", err)
			}
		})
	}
}

func TestAcceptAfterClose(t *testing.T) {
	for _, tr := range transports() {
		t.Run(tr.Name(), func(t *testing.T) {
			ln, err := tr.Listen("127.0.0.1:0")
			if err != nil {
				t.Fatalf("Listen: %v", err)
			}
			done := make(chan error, 1)
			go func() {
				_, err := ln.Accept()
				done <- err
			}()
			time.Sleep(20 * time.Millisecond)
			_ = ln.Close()
			select {
			case err := <-done:
				if !errors.Is(err, ErrClosed) {
					t.Fatalf("Accept err = %v, want ErrClosed", err)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("Accept did not unblock after Close")
			}
		})
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := TCP().Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := TCP().Dial(ctx, addr); err == nil {
		t.Fatal("Dial to closed port succeeded")
	}
}

func TestReadHonorsDeadline(t *testing.T) {
	ln, err := TCP().Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			time.Sleep(500 * time.Millisecond)
			c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c, err := TCP().Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	start := time.Now()
	_, err = wire.ReadText(c)
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("ReadText err = %v, want timeout", err)
	}
	if time.Since(start) > 400*time.Millisecond {
		t.Fatal("read was not bounded by the dial context deadline")
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "tcp", "quic"} {
		tr, err := ByName(name)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if name != "" && tr.Name() != name {
			t.Fatalf("ByName(%q).Name() = %q", name, tr.Name())
		}
	}
	if _, err := ByName("udp"); err == nil {
		t.Fatal("ByName(udp) should fail")
	}
}
