package wire

import "fmt"

// Flag is the fixed-width opcode at the head of every request segment.
type Flag string

const (
	FlagNet Flag = "NET" // membership snapshot
	FlagClk Flag = "CLK" // clock value
	FlagSyn Flag = "SYN" // synchronize to the network average
	FlagUpd Flag = "UPD" // add sender to membership
	FlagDel Flag = "DEL" // remove sender from membership
)

const (
	FlagWidth = 3
	Separator = "->"

	// Ack and IncorrectFlag are the only text replies a server sends.
	Ack           = "ACK"
	IncorrectFlag = "INCORRECT FLAG"
)

func (f Flag) Known() bool {
	switch f {
	case FlagNet, FlagClk, FlagSyn, FlagUpd, FlagDel:
		return true
	}
	return false
}

// Segment is one decoded request: a flag and the sender's identity.
type Segment struct {
	Flag   Flag
	Sender Identity
}

func (s Segment) String() string { return EncodeSegment(s.Flag, s.Sender) }

// EncodeSegment renders "<flag>-><address>:<port>".
func EncodeSegment(flag Flag, sender Identity) string {
	return string(flag) + Separator + sender.String()
}

// DecodeFlag returns the fixed-width flag prefix. It fails with
// ErrMalformedSegment when the header is truncated or the separator is
// missing; it does not judge whether the flag is known.
func DecodeFlag(segment string) (Flag, error) {
	if len(segment) < FlagWidth+len(Separator) {
		return "", fmt.Errorf("%w: truncated %q", ErrMalformedSegment, segment)
	}
	if segment[FlagWidth:FlagWidth+len(Separator)] != Separator {
		return "", fmt.Errorf("%w: no separator in %q", ErrMalformedSegment, segment)
	}
	return Flag(segment[:FlagWidth]), nil
}

// DecodeIdentity returns the sender identity after the separator.
func DecodeIdentity(segment string) (Identity, error) {
	if _, err := DecodeFlag(segment); err != nil {
		return Identity{}, err
	}
	return ParseIdentity(segment[FlagWidth+len(Separator):])
}

// DecodeSegment decodes flag and identity together. A well-formed segment
// with an unknown flag is returned alongside ErrUnknownFlag so the caller
// still knows who sent it.
func DecodeSegment(segment string) (Segment, error) {
	flag, err := DecodeFlag(segment)
	if err != nil {
		return Segment{}, err
	}
	sender, err := DecodeIdentity(segment)
	if err != nil {
		return Segment{}, err
	}
	seg := Segment{Flag: flag, Sender: sender}
	if !flag.Known() {
		return seg, fmt.Errorf("%w: %q", ErrUnknownFlag, string(flag))
	}
	return seg, nil
}
