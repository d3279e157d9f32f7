package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/brokermesh/brokermesh/internal/brokererr"
	"github.com/brokermesh/brokermesh/pkg/topic"
)

const (
	subFieldVersion = protowire.Number(1)
	subFieldAdded   = protowire.Number(2)
	subFieldRemoved = protowire.Number(3)
)

// SubUpdate is a filter delta: topics added and removed since the last
// advertisement, plus the filter's new version.
type SubUpdate struct {
	Version uint64
	Added   []topic.Topic
	Removed []topic.Topic
}

// EncodeSubUpdate renders a filter delta for transmission.
func EncodeSubUpdate(u SubUpdate) []byte {
	var b []byte
	b = protowire.AppendTag(b, subFieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, u.Version)
	for _, t := range u.Added {
		b = protowire.AppendTag(b, subFieldAdded, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(t.String()))
	}
	for _, t := range u.Removed {
		b = protowire.AppendTag(b, subFieldRemoved, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(t.String()))
	}
	return b
}

// DecodeSubUpdate parses a payload produced by EncodeSubUpdate.
func DecodeSubUpdate(b []byte) (SubUpdate, error) {
	var out SubUpdate
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return SubUpdate{}, fmt.Errorf("wire: decode sub_update: bad tag: %w", brokererr.ErrProtocolViolation)
		}
		b = b[n:]
		switch num {
		case subFieldVersion:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return SubUpdate{}, fmt.Errorf("wire: decode sub_update version: %w", brokererr.ErrProtocolViolation)
			}
			out.Version = v
			b = b[n:]
		case subFieldAdded, subFieldRemoved:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return SubUpdate{}, fmt.Errorf("wire: decode sub_update topic: %w", brokererr.ErrProtocolViolation)
			}
			t, err := topic.New(string(v))
			if err != nil {
				return SubUpdate{}, fmt.Errorf("wire: decode sub_update topic: %w", brokererr.ErrProtocolViolation)
			}
			if num == subFieldAdded {
				out.Added = append(out.Added, t)
			} else {
				out.Removed = append(out.Removed, t)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return SubUpdate{}, fmt.Errorf("wire: decode sub_update: unknown field %d: %w", num, brokererr.ErrProtocolViolation)
			}
			b = b[n:]
		}
	}
	return out, nil
}
