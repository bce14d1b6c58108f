package wire

import (
	"errors"
	"testing"
)

func TestSegmentRoundTrip(t *testing.T) {
	ids := []Identity{
		{Address: "127.0.0.1", Port: 1},
		{Address: "127.0.0.1", Port: 40123},
		{Address: "10.0.0.7", Port: 65535},
	}
	flags := []Flag{FlagNet, FlagClk, FlagSyn, FlagUpd, FlagDel}
	for _, id := range ids {
		for _, f := range flags {
			seg := EncodeSegment(f, id)
			gotFlag, err := DecodeFlag(seg)
			if err != nil || gotFlag != f {
				t.Fatalf("DecodeFlag(%q) = (%q,%v), want (%q,nil)", seg, gotFlag, err, f)
			}
			gotID, err := DecodeIdentity(seg)
			if err != nil || gotID != id {
				t.Fatalf("DecodeIdentity(%q) = (%v,%v), want (%v,nil)", seg, gotID, err, id)
			}
		}
	}
}

func TestEncodeSegmentFormat(t *testing.T) {
	got := EncodeSegment(FlagUpd, Identity{Address: "127.0.0.1", Port: 8888})
	if want := "UPD->127.0.0.1:8888"; got != want {
		t.Fatalf("EncodeSegment = %q, want %q", got, want)
	}
}

func TestDecodeSegmentMalformed(t *testing.T) {
	cases := []string{
		"",
		"NE",
		"NET",
		"NET-",
		"NET:127.0.0.1:80",
		"NETX->127.0.0.1:80",
		"NET->",
		"NET->127.0.0.1",
		"NET->127.0.0.1:notaport",
		"NET->127.0.0.1:0",
		"NET->127.0.0.1:70000",
		"NET->:80",
	}
	for _, c := range cases {
		if _, err := DecodeSegment(c); !errors.Is(err, ErrMalformedSegment) {
			t.Fatalf("DecodeSegment(%q) err = %v, want ErrMalformedSegment", c, err)
		}
	}
}

func TestDecodeSegmentUnknownFlag(t *testing.T) {
	seg, err := DecodeSegment("XYZ->127.0.0.1:9000")
	if !errors.Is(err, ErrUnknownFlag) {
		t.Fatalf("err = %v, want ErrUnknownFlag", err)
	}
	if errors.Is(err, ErrMalformedSegment) {
		t.Fatalf("unknown flag must not be reported as malformed")
	}
	if seg.Flag != "XYZ" || seg.Sender != (Identity{Address: "127.0.0.1", Port: 9000}) {
		t.Fatalf("segment = %+v", seg)
	}
}

func TestParseIdentities(t *testing.T) {
	ids := []Identity{{"127.0.0.1", 1000}, {"127.0.0.1", 1001}}
	got, err := ParseIdentities(Strings(ids))
	if err != nil {
		t.Fatalf("ParseIdentities: %v", err)
	}
	if len(got) != 2 || got[0] != ids[0] || got[1] != ids[1] {
		t.Fatalf("ParseIdentities = %v, want %v", got, ids)
	}
	if _, err := ParseIdentities([]string{"bogus"}); !errors.Is(err, ErrMalformedSegment) {
		t.Fatalf("err = %v, want ErrMalformedSegment", err)
	}
}
