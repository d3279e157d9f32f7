// Package wire implements the peer-to-peer frame format (component D's
// encode/decode half): a big-endian, length-prefixed frame header
// followed by a self-describing tagged payload built with the
// protobuf wire encoding primitives, per spec.md §6.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/brokermesh/brokermesh/internal/brokererr"
)

// Type identifies a frame's payload kind.
type Type byte

const (
	TypeItem Type = iota + 1
	TypeSubUpdate
	TypePathUpdate
	TypeHeartbeat
	TypeAck
	TypeFin
)

func (t Type) String() string {
	switch t {
	case TypeItem:
		return "item"
	case TypeSubUpdate:
		return "sub_update"
	case TypePathUpdate:
		return "path_update"
	case TypeHeartbeat:
		return "heartbeat"
	case TypeAck:
		return "ack"
	case TypeFin:
		return "fin"
	default:
		return "unknown"
	}
}

// headerSize is 1 (type) + 8 (sequence) + 4 (length) bytes.
const headerSize = 1 + 8 + 4

// MaxPayloadSize bounds a single frame's payload to guard against a
// malicious or corrupt length prefix forcing an unbounded allocation.
const MaxPayloadSize = 16 << 20

// Frame is one decoded protocol frame.
type Frame struct {
	Type    Type
	Seq     uint64
	Payload []byte
}

// Encode appends the frame's wire representation to b and returns the
// extended slice.
func (f Frame) Encode(b []byte) []byte {
	var hdr [headerSize]byte
	hdr[0] = byte(f.Type)
	binary.BigEndian.PutUint64(hdr[1:9], f.Seq)
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(f.Payload)))
	b = append(b, hdr[:]...)
	b = append(b, f.Payload...)
	return b
}

// WriteTo writes the frame to w as a single Write of the header
// followed by the payload.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	buf := f.Encode(make([]byte, 0, headerSize+len(f.Payload)))
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrame reads and decodes one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	typ := Type(hdr[0])
	seq := binary.BigEndian.Uint64(hdr[1:9])
	length := binary.BigEndian.Uint32(hdr[9:13])
	if length > MaxPayloadSize {
		return Frame{}, fmt.Errorf("wire: frame payload %d exceeds max %d: %w", length, MaxPayloadSize, brokererr.ErrProtocolViolation)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: typ, Seq: seq, Payload: payload}, nil
}
