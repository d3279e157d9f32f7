package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/brokermesh/brokermesh/internal/brokererr"
	"github.com/brokermesh/brokermesh/pkg/brokerid"
)

const (
	pathFieldDest    = protowire.Number(1)
	pathFieldVersion = protowire.Number(2)
	pathFieldPath    = protowire.Number(3)
	pathFieldWithdraw = protowire.Number(4)
)

// PathUpdate is a routing-table advertisement or withdrawal: the
// destination endpoint, its announcement version, and the path vector
// traversed so far.
type PathUpdate struct {
	Dest     brokerid.ID
	Version  uint64
	Path     []brokerid.ID
	Withdraw bool
}

// EncodePathUpdate renders an advertisement/withdrawal for transmission.
func EncodePathUpdate(u PathUpdate) []byte {
	var b []byte
	b = protowire.AppendTag(b, pathFieldDest, protowire.BytesType)
	b = protowire.AppendBytes(b, u.Dest[:])

	b = protowire.AppendTag(b, pathFieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, u.Version)

	for _, p := range u.Path {
		b = protowire.AppendTag(b, pathFieldPath, protowire.BytesType)
		b = protowire.AppendBytes(b, p[:])
	}

	if u.Withdraw {
		b = protowire.AppendTag(b, pathFieldWithdraw, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}

	return b
}

// DecodePathUpdate parses a payload produced by EncodePathUpdate.
func DecodePathUpdate(b []byte) (PathUpdate, error) {
	var out PathUpdate
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return PathUpdate{}, fmt.Errorf("wire: decode path_update: bad tag: %w", brokererr.ErrProtocolViolation)
		}
		b = b[n:]
		switch num {
		case pathFieldDest:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != brokerid.Size {
				return PathUpdate{}, fmt.Errorf("wire: decode path_update dest: %w", brokererr.ErrProtocolViolation)
			}
			copy(out.Dest[:], v)
			b = b[n:]
		case pathFieldVersion:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return PathUpdate{}, fmt.Errorf("wire: decode path_update version: %w", brokererr.ErrProtocolViolation)
			}
			out.Version = v
			b = b[n:]
		case pathFieldPath:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != brokerid.Size {
				return PathUpdate{}, fmt.Errorf("wire: decode path_update path entry: %w", brokererr.ErrProtocolViolation)
			}
			var id brokerid.ID
			copy(id[:], v)
			out.Path = append(out.Path, id)
			b = b[n:]
		case pathFieldWithdraw:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return PathUpdate{}, fmt.Errorf("wire: decode path_update withdraw: %w", brokererr.ErrProtocolViolation)
			}
			out.Withdraw = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return PathUpdate{}, fmt.Errorf("wire: decode path_update: unknown field %d: %w", num, brokererr.ErrProtocolViolation)
			}
			b = b[n:]
		}
	}
	return out, nil
}
