// Package message defines the tagged message variant that items carry:
// either a data message or a store command destined for the replicated
// key-value layer (out of core scope, see pkg/store).
package message

import "github.com/brokermesh/brokermesh/pkg/topic"

// Kind tags which variant a Message holds.
type Kind int

const (
	// KindData carries an opaque application payload.
	KindData Kind = iota
	// KindCommand carries a store command for the master/clone layer.
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Scope tags whether an item may leave the local endpoint.
type Scope int

const (
	// ScopeRoutable items may be forwarded to matching peers.
	ScopeRoutable Scope = iota
	// ScopeLocalOnly items are delivered to local subscribers only.
	ScopeLocalOnly
)

func (s Scope) String() string {
	switch s {
	case ScopeRoutable:
		return "routable"
	case ScopeLocalOnly:
		return "local_only"
	default:
		return "unknown"
	}
}

// StoreCommand is the opaque command payload for KindCommand messages.
// The core treats it as opaque bytes; the store package interprets it.
type StoreCommand struct {
	Verb  string
	Key   string
	Value []byte
}

// Message is the tagged variant carried by every item: a data_message
// or a command_message, per the data model.
type Message struct {
	Kind    Kind
	Topic   topic.Topic
	Payload []byte
	Command StoreCommand
}

// NewData builds a data_message.
func NewData(t topic.Topic, payload []byte) Message {
	return Message{Kind: KindData, Topic: t, Payload: payload}
}

// NewCommand builds a command_message.
func NewCommand(t topic.Topic, cmd StoreCommand) Message {
	return Message{Kind: KindCommand, Topic: t, Command: cmd}
}
