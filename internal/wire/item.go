package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/brokermesh/brokermesh/internal/brokererr"
	"github.com/brokermesh/brokermesh/pkg/brokerid"
	"github.com/brokermesh/brokermesh/pkg/message"
	"github.com/brokermesh/brokermesh/pkg/topic"
)

// Field numbers for the item payload's tagged encoding.
const (
	fieldKind = protowire.Number(1)
	fieldTopic = protowire.Number(2)
	fieldPayload = protowire.Number(3)
	fieldTTL = protowire.Number(4)
	fieldPath = protowire.Number(5)
	fieldOrigin = protowire.Number(6)
	fieldScope = protowire.Number(7)
	fieldCmdVerb = protowire.Number(8)
	fieldCmdKey = protowire.Number(9)
	fieldCmdValue = protowire.Number(10)
)

// EncodeItem renders a forwarded/published item's self-describing
// tagged payload: message variant, TTL, and path vector, per spec.md
// §6's wire format.
func EncodeItem(msg message.Message, ttl uint16, origin *brokerid.ID, scope message.Scope, path []brokerid.ID) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Kind))

	b = protowire.AppendTag(b, fieldTopic, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(msg.Topic.String()))

	switch msg.Kind {
	case message.KindData:
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.Payload)
	case message.KindCommand:
		b = protowire.AppendTag(b, fieldCmdVerb, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(msg.Command.Verb))
		b = protowire.AppendTag(b, fieldCmdKey, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(msg.Command.Key))
		b = protowire.AppendTag(b, fieldCmdValue, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.Command.Value)
	}

	b = protowire.AppendTag(b, fieldTTL, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ttl))

	for _, p := range path {
		b = protowire.AppendTag(b, fieldPath, protowire.BytesType)
		b = protowire.AppendBytes(b, p[:])
	}

	if origin != nil {
		b = protowire.AppendTag(b, fieldOrigin, protowire.BytesType)
		b = protowire.AppendBytes(b, origin[:])
	}

	b = protowire.AppendTag(b, fieldScope, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(scope))

	return b
}

// DecodedItem is the result of decoding an item payload off the wire.
type DecodedItem struct {
	Msg    message.Message
	TTL    uint16
	Origin *brokerid.ID
	Scope  message.Scope
	Path   []brokerid.ID
}

// DecodeItem parses a payload produced by EncodeItem.
func DecodeItem(b []byte) (DecodedItem, error) {
	var out DecodedItem
	var topicStr string
	var haveTopic bool
	var origin brokerid.ID
	var haveOrigin bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return DecodedItem{}, fmt.Errorf("wire: decode item: bad tag: %w", brokererr.ErrProtocolViolation)
		}
		b = b[n:]

		switch num {
		case fieldKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return DecodedItem{}, fmt.Errorf("wire: decode item kind: %w", brokererr.ErrProtocolViolation)
			}
			out.Msg.Kind = message.Kind(v)
			b = b[n:]
		case fieldTopic:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return DecodedItem{}, fmt.Errorf("wire: decode item topic: %w", brokererr.ErrProtocolViolation)
			}
			topicStr = string(v)
			haveTopic = true
			b = b[n:]
		case fieldPayload:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return DecodedItem{}, fmt.Errorf("wire: decode item payload: %w", brokererr.ErrProtocolViolation)
			}
			out.Msg.Payload = append([]byte{}, v...)
			b = b[n:]
		case fieldTTL:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return DecodedItem{}, fmt.Errorf("wire: decode item ttl: %w", brokererr.ErrProtocolViolation)
			}
			out.TTL = uint16(v)
			b = b[n:]
		case fieldPath:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != brokerid.Size {
				return DecodedItem{}, fmt.Errorf("wire: decode item path entry: %w", brokererr.ErrProtocolViolation)
			}
			var id brokerid.ID
			copy(id[:], v)
			out.Path = append(out.Path, id)
			b = b[n:]
		case fieldOrigin:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != brokerid.Size {
				return DecodedItem{}, fmt.Errorf("wire: decode item origin: %w", brokererr.ErrProtocolViolation)
			}
			copy(origin[:], v)
			haveOrigin = true
			b = b[n:]
		case fieldScope:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return DecodedItem{}, fmt.Errorf("wire: decode item scope: %w", brokererr.ErrProtocolViolation)
			}
			out.Scope = message.Scope(v)
			b = b[n:]
		case fieldCmdVerb:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return DecodedItem{}, fmt.Errorf("wire: decode item command verb: %w", brokererr.ErrProtocolViolation)
			}
			out.Msg.Command.Verb = string(v)
			b = b[n:]
		case fieldCmdKey:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return DecodedItem{}, fmt.Errorf("wire: decode item command key: %w", brokererr.ErrProtocolViolation)
			}
			out.Msg.Command.Key = string(v)
			b = b[n:]
		case fieldCmdValue:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return DecodedItem{}, fmt.Errorf("wire: decode item command value: %w", brokererr.ErrProtocolViolation)
			}
			out.Msg.Command.Value = append([]byte{}, v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return DecodedItem{}, fmt.Errorf("wire: decode item: unknown field %d: %w", num, brokererr.ErrProtocolViolation)
			}
			b = b[n:]
		}
	}

	if !haveTopic {
		return DecodedItem{}, fmt.Errorf("wire: decode item: missing topic: %w", brokererr.ErrProtocolViolation)
	}
	t, err := topic.New(topicStr)
	if err != nil {
		return DecodedItem{}, fmt.Errorf("wire: decode item: %w", brokererr.ErrProtocolViolation)
	}
	out.Msg.Topic = t
	if haveOrigin {
		out.Origin = &origin
	}
	return out, nil
}
