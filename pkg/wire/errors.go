package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedSegment covers truncated segments, a missing separator and
	// unparsable sender identities.
	ErrMalformedSegment = errors.New("malformed segment")
	// ErrUnknownFlag is returned for a well-formed segment whose flag is not
	// part of the protocol.
	ErrUnknownFlag = errors.New("unknown flag")
	// ErrMalformedFrame covers bad frame lengths, kinds and value bodies.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnexpectedReply is returned when a frame of the wrong kind, or an
	// unexpected text, arrives as a reply.
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// ReplyError carries the text a peer sent where a value was expected.
type ReplyError struct {
	Text string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("unexpected reply: %q", e.Text)
}

func (e *ReplyError) Is(target error) bool { return target == ErrUnexpectedReply }
