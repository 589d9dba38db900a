package remote

import (
	"errors"
	"fmt"
)

// op is the first byte of every tunnel frame; the rest is payload.
type op byte

const (
	// client -> server
	opOpen  op = 'O'
	opRead  op = 'R'
	opClose op = 'C'

	// server -> client
	opOK   op = 'K'
	opData op = 'D'
	opEnd  op = 'E'
	opErr  op = 'X'
)

func (o op) String() string {
	switch o {
	case opOpen:
		return "open"
	case opRead:
		return "read"
	case opClose:
		return "close"
	case opOK:
		return "ok"
	case opData:
		return "data"
	case opEnd:
		return "end"
	case opErr:
		return "error"
	default:
		return fmt.Sprintf("op(%q)", byte(o))
	}
}

var errEmptyFrame = errors.New("remote: empty frame")

// Error is a source error reported by the serving side.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Op, e.Msg)
}

func encodeFrame(o op, payload []byte) []byte {
	b := make([]byte, 1+len(payload))
	b[0] = byte(o)
	copy(b[1:], payload)
	return b
}

func decodeFrame(b []byte) (op, []byte, error) {
	if len(b) == 0 {
		return 0, nil, errEmptyFrame
	}
	return op(b[0]), b[1:], nil
}

func errorFrame(err error) []byte {
	return encodeFrame(opErr, []byte(err.Error()))
}
