package protocol

import (
	"errors"
	"fmt"

	"github.com/ryandielhenn/clocknet/pkg/wire"
)

// ErrPeerUnreachable wraps dial, read and write failures towards a peer.
var ErrPeerUnreachable = errors.New("peer unreachable")

// PeerError reports which peer and which request failed.
type PeerError struct {
	Peer wire.Identity
	Flag wire.Flag
	Err  error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("%s to %s: %v", e.Flag, e.Peer, e.Err)
}

func (e *PeerError) Unwrap() error { return e.Err }

func peerErr(peer wire.Identity, flag wire.Flag, err error) error {
	if err == nil {
		return nil
	}
	return &PeerError{Peer: peer, Flag: flag, Err: classify(err)}
}

// classify keeps codec errors as they are and marks everything else as a
// transport failure.
func classify(err error) error {
	switch {
	case errors.Is(err, wire.ErrMalformedFrame),
		errors.Is(err, wire.ErrMalformedSegment),
		errors.Is(err, wire.ErrUnexpectedReply),
		errors.Is(err, ErrPeerUnreachable):
		return err
	}
	return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
}
