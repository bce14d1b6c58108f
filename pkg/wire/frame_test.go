package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestTextFrames(t *testing.T) {
	var buf bytes.Buffer
	for _, s := range []string{"NET->127.0.0.1:5000", Ack, IncorrectFlag, "zażółć"} {
		if err := SendText(&buf, s); err != nil {
			t.Fatalf("SendText(%q): %v", s, err)
		}
	}
	for _, want := range []string{"NET->127.0.0.1:5000", Ack, IncorrectFlag, "zażółć"} {
		got, err := ReadText(&buf)
		if err != nil || got != want {
			t.Fatalf("ReadText = (%q,%v), want (%q,nil)", got, err, want)
		}
	}
	if _, err := ReadText(&buf); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadText on empty buffer err = %v, want EOF", err)
	}
}

func TestValueFrames(t *testing.T) {
	var buf bytes.Buffer
	if err := SendValue(&buf, int64(1234567890123)); err != nil {
		t.Fatal(err)
	}
	members := []string{"127.0.0.1:1", "127.0.0.1:2"}
	if err := SendValue(&buf, members); err != nil {
		t.Fatal(err)
	}

	var clk int64
	if err := ReadValue(&buf, &clk); err != nil || clk != 1234567890123 {
		t.Fatalf("ReadValue clock = (%d,%v)", clk, err)
	}
	var got []string
	if err := ReadValue(&buf, &got); err != nil {
		t.Fatalf("ReadValue members: %v", err)
	}
	if strings.Join(got, ",") != strings.Join(members, ",") {
		t.Fatalf("members = %v, want %v", got, members)
	}
}

func TestEmptyMembershipValue(t *testing.T) {
	var buf bytes.Buffer
	if err := SendValue(&buf, []string{}); err != nil {
		t.Fatal(err)
	}
	var got []string
	if err := ReadValue(&buf, &got); err != nil || len(got) != 0 {
		t.Fatalf("ReadValue = (%v,%v), want empty", got, err)
	}
}

func TestReadValueGetsText(t *testing.T) {
	var buf bytes.Buffer
	_ = SendText(&buf, IncorrectFlag)
	var v int64
	err := ReadValue(&buf, &v)
	var re *ReplyError
	if !errors.As(err, &re) || re.Text != IncorrectFlag {
		t.Fatalf("err = %v, want ReplyError{%q}", err, IncorrectFlag)
	}
	if !errors.Is(err, ErrUnexpectedReply) {
		t.Fatalf("ReplyError should match ErrUnexpectedReply")
	}
}

func TestReadTextGetsValue(t *testing.T) {
	var buf bytes.Buffer
	_ = SendValue(&buf, int64(5))
	if _, err := ReadText(&buf); !errors.Is(err, ErrUnexpectedReply) {
		t.Fatalf("err = %v, want ErrUnexpectedReply", err)
	}
}

func TestMalformedFrames(t *testing.T) {
	zero := []byte{0, 0, 0, 0}
	huge := make([]byte, 4)
	binary.BigEndian.PutUint32(huge, MaxFrameSize+1)
	badKind := []byte{0, 0, 0, 2, 'x', 'y'}
	badJSON := []byte{0, 0, 0, 3, 'v', '{', '{'}

	for name, in := range map[string][]byte{"zero": zero, "huge": huge, "kind": badKind} {
		if _, err := ReadText(bytes.NewReader(in)); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("%s: err = %v, want ErrMalformedFrame", name, err)
		}
	}
	var v int64
	if err := ReadValue(bytes.NewReader(badJSON), &v); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("bad json: err = %v, want ErrMalformedFrame", err)
	}
}

func TestTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	_ = SendText(&buf, "CLK->127.0.0.1:4000")
	cut := buf.Bytes()[:buf.Len()-3]
	if _, err := ReadText(bytes.NewReader(cut)); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want ErrUnexpectedEOF", err)
	}
}

func TestSendTextTooLarge(t *testing.T) {
	var buf bytes.Buffer
	big := strings.Repeat("a", MaxFrameSize)
	if err := SendText(&buf, big); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("oversized frame was partially written")
	}
}
