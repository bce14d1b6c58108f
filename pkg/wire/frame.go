package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds the body of a single frame.
const MaxFrameSize = 1 << 20

const (
	kindText  byte = 't'
	kindValue byte = 'v'
)

// Frame layout: 4-byte big-endian length of (kind + body), kind byte, body.
func encodeFrame(kind byte, body []byte) ([]byte, error) {
	if len(body)+1 > MaxFrameSize {
		return nil, fmt.Errorf("%w: payload too large (%d bytes)", ErrMalformedFrame, len(body))
	}
	out := make([]byte, 4+1+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(1+len(body)))
	out[4] = kind
	copy(out[5:], body)
	return out, nil
}

func writeFrame(w io.Writer, kind byte, body []byte) error {
	frame, err := encodeFrame(kind, body)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func readFrame(r io.Reader) (byte, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: invalid frame size %d", ErrMalformedFrame, n)
	}
	payload := make([]byte, int(n))
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	kind := payload[0]
	if kind != kindText && kind != kindValue {
		return 0, nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedFrame, kind)
	}
	return kind, payload[1:], nil
}

func SendText(w io.Writer, s string) error {
	return writeFrame(w, kindText, []byte(s))
}

func ReadText(r io.Reader) (string, error) {
	kind, body, err := readFrame(r)
	if err != nil {
		return "", err
	}
	if kind != kindText {
		return "", fmt.Errorf("%w: value frame where text was expected", ErrUnexpectedReply)
	}
	return string(body), nil
}

// SendValue writes v as one JSON value frame. Clock values are int64,
// membership snapshots []string.
func SendValue(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return writeFrame(w, kindValue, body)
}

// ReadValue decodes one value frame into v. A text frame in its place is
// returned as *ReplyError.
func ReadValue(r io.Reader, v any) error {
	kind, body, err := readFrame(r)
	if err != nil {
		return err
	}
	if kind != kindValue {
		return &ReplyError{Text: string(body)}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}
