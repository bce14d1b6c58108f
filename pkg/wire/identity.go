package wire

import (
	"fmt"
	"net"
	"strconv"
)

// LoopbackAddress is the address every agent binds to.
const LoopbackAddress = "127.0.0.1"

// Identity names an agent on the network for its whole lifetime.
type Identity struct {
	Address string
	Port    int
}

func (id Identity) String() string {
	return net.JoinHostPort(id.Address, strconv.Itoa(id.Port))
}

func (id Identity) IsZero() bool { return id.Address == "" && id.Port == 0 }

// ParseIdentity is the inverse of Identity.String.
func ParseIdentity(s string) (Identity, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: identity %q: %v", ErrMalformedSegment, s, err)
	}
	if host == "" {
		return Identity{}, fmt.Errorf("%w: identity %q: empty address", ErrMalformedSegment, s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Identity{}, fmt.Errorf("%w: identity %q: bad port", ErrMalformedSegment, s)
	}
	return Identity{Address: host, Port: port}, nil
}

// IdentityFromAddr converts a listener address into an Identity.
func IdentityFromAddr(addr net.Addr) (Identity, error) {
	if addr == nil {
		return Identity{}, fmt.Errorf("%w: nil address", ErrMalformedSegment)
	}
	return ParseIdentity(addr.String())
}

// Strings renders identities in order, the form used by membership snapshots.
func Strings(ids []Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// ParseIdentities is the inverse of Strings.
func ParseIdentities(ss []string) ([]Identity, error) {
	out := make([]Identity, 0, len(ss))
	for _, s := range ss {
		id, err := ParseIdentity(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
