package wire

import (
	"encoding/binary"
	"fmt"
)

// ProtocolVersion is this build's wire protocol revision. Peers whose
// identifier does not match are refused per spec.md §6.
const ProtocolVersion = 1

// ProtocolIdentifier is exchanged during handshake before SYNCING.
func ProtocolIdentifier() string {
	return fmt.Sprintf("broker.v%d", ProtocolVersion)
}

// Handshake is the first message exchanged over a freshly dialed or
// accepted duplex channel, before any framing begins.
type Handshake struct {
	Protocol string
	PeerID   [16]byte
	Window   uint32
}

// EncodeHandshake renders a handshake for transmission: a 2-byte
// protocol-string length, the protocol string, 16 bytes of peer id,
// then a 4-byte initial credit window, all big-endian.
func EncodeHandshake(h Handshake) []byte {
	b := make([]byte, 0, 2+len(h.Protocol)+16+4)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(h.Protocol)))
	b = append(b, lenBuf[:]...)
	b = append(b, []byte(h.Protocol)...)
	b = append(b, h.PeerID[:]...)
	var winBuf [4]byte
	binary.BigEndian.PutUint32(winBuf[:], h.Window)
	b = append(b, winBuf[:]...)
	return b
}

// DecodeHandshake parses a payload produced by EncodeHandshake.
func DecodeHandshake(b []byte) (Handshake, error) {
	if len(b) < 2 {
		return Handshake{}, fmt.Errorf("wire: handshake too short")
	}
	plen := int(binary.BigEndian.Uint16(b[0:2]))
	b = b[2:]
	if len(b) < plen+16+4 {
		return Handshake{}, fmt.Errorf("wire: handshake truncated")
	}
	var h Handshake
	h.Protocol = string(b[:plen])
	b = b[plen:]
	copy(h.PeerID[:], b[:16])
	b = b[16:]
	h.Window = binary.BigEndian.Uint32(b[:4])
	return h, nil
}

// Ack is the dual-purpose payload of an ack frame: a credit grant, and
// optionally a NACK requesting retransmission from a given sequence —
// the wire format enumerates no separate nack frame type, so a
// sequence-gap notification rides the ack frame alongside the next
// credit grant.
type Ack struct {
	Credit  uint32
	HasNack bool
	NackSeq uint64
}

// EncodeAck renders an ack frame payload: 4 bytes credit, 1 byte
// has-nack flag, 8 bytes nack sequence (meaningful only if the flag is
// set).
func EncodeAck(a Ack) []byte {
	b := make([]byte, 4+1+8)
	binary.BigEndian.PutUint32(b[0:4], a.Credit)
	if a.HasNack {
		b[4] = 1
	}
	binary.BigEndian.PutUint64(b[5:13], a.NackSeq)
	return b
}

// DecodeAck parses a payload produced by EncodeAck.
func DecodeAck(b []byte) (Ack, error) {
	if len(b) != 13 {
		return Ack{}, fmt.Errorf("wire: ack payload must be 13 bytes, got %d", len(b))
	}
	return Ack{
		Credit:  binary.BigEndian.Uint32(b[0:4]),
		HasNack: b[4] != 0,
		NackSeq: binary.BigEndian.Uint64(b[5:13]),
	}, nil
}
