// Package brokerid defines the system-wide-unique endpoint identifier
// used to address endpoints throughout the mesh: routing table entries,
// peer records, and item origins all key off this type.
package brokerid

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Size is the fixed width of an endpoint identifier in bytes.
const Size = 16

// ID is a system-wide-unique, bytewise-comparable endpoint identifier.
type ID [Size]byte

// Nil is the zero-value identifier; never assigned to a real endpoint.
var Nil ID

// New derives a fresh identifier from a random UUIDv4, mirroring how the
// host actor-system node id is derived in the source system.
func New() ID {
	var id ID
	u := uuid.New()
	copy(id[:], u[:])
	return id
}

// Parse decodes a hex-encoded identifier, as accepted from configuration
// or the wire.
func Parse(s string) (ID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Nil, fmt.Errorf("brokerid: parse %q: %w", s, err)
	}
	if len(raw) != Size {
		return Nil, fmt.Errorf("brokerid: parse %q: want %d bytes, got %d", s, Size, len(raw))
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// String renders the identifier as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsNil reports whether id is the zero identifier.
func (id ID) IsNil() bool {
	return id == Nil
}

// Compare returns -1, 0, or 1 as id is less than, equal to, or greater
// than other, using bytewise order. This is the total order spec.md
// uses for routing tie-breaks.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// Less reports whether id sorts before other in the total order.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

// Equal reports bytewise equality.
func (id ID) Equal(other ID) bool {
	return id == other
}

// Contains reports whether id appears anywhere in path. Used for the
// loop-suppression invariant: an advertised or in-flight path vector
// that already contains the local id is dropped.
func Contains(path []ID, id ID) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}

// AppendUnique returns a copy of path with id appended, for building the
// path vector carried on rebroadcasts and forwarded items.
func AppendUnique(path []ID, id ID) []ID {
	out := make([]ID, len(path), len(path)+1)
	copy(out, path)
	return append(out, id)
}
