// Package brokererr defines the sentinel error kinds shared across the
// broker core, per the error kinds enumerated in the design document.
package brokererr

import "errors"

var (
	// ErrInvalidTopic is returned for malformed topic construction.
	ErrInvalidTopic = errors.New("invalid_topic")

	// ErrBackpressure is returned when a bounded queue is full; the
	// caller should retry or drop.
	ErrBackpressure = errors.New("backpressure")

	// ErrPeerUnavailable is returned when a configured peer could not
	// be reached after the retry budget was exhausted.
	ErrPeerUnavailable = errors.New("peer_unavailable")

	// ErrPeerIncompatible is returned on a protocol-version mismatch
	// during handshake.
	ErrPeerIncompatible = errors.New("peer_incompatible")

	// ErrProtocolViolation is returned for a malformed frame or
	// invalid advertisement received from a peer.
	ErrProtocolViolation = errors.New("protocol_violation")

	// ErrNackExhausted is returned when a retransmit buffer cannot
	// satisfy a NACK and the connection must be torn down.
	ErrNackExhausted = errors.New("nack_exhausted")

	// ErrShutdown is returned when an operation is rejected because
	// the endpoint is terminating.
	ErrShutdown = errors.New("shutdown")
)
