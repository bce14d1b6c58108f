package registry

import (
	"errors"
	"testing"

	"github.com/ryandielhenn/clocknet/pkg/wire"
)

func TestKeyRoundTrip(t *testing.T) {
	id := wire.Identity{Address: "127.0.0.1", Port: 40123}
	key := Key(DefaultPrefix, id)
	if key != "/clocknet/agents/127.0.0.1:40123" {
		t.Fatalf("key = %q", key)
	}
	got, err := IdentityFromKey(DefaultPrefix, key)
	if err != nil || got != id {
		t.Fatalf("IdentityFromKey = (%v, %v), want %v", got, err, id)
	}
}

func TestIdentityFromKeyRejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"other prefix", "/other/nodes/127.0.0.1:1"},
		{"no port", DefaultPrefix + "127.0.0.1"},
		{"bad port", DefaultPrefix + "127.0.0.1:0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := IdentityFromKey(DefaultPrefix, tc.key); err == nil {
				t.Fatalf("IdentityFromKey(%q) succeeded", tc.key)
			}
		})
	}
}

func TestNewWithoutEndpoints(t *testing.T) {
	if _, err := New(nil, "", 0, nil); !errors.Is(err, ErrNoEndpoints) {
		t.Fatalf("err = %v, want ErrNoEndpoints", err)
	}
}
