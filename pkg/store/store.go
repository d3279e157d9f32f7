// Package store defines the interface boundary to an optional
// replicated master/clone key-value layer (spec.md §1's "optional
// replicated key-value stores"). No master/clone actor lives in this
// repo: the broker core only needs to route command_message items to
// whatever implements Store, the way it routes any other message.
package store

import "context"

// Store is the operations a command_message can invoke against a
// replicated key-value layer.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Erase(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
}

// Dispatch routes a store command's verb to the corresponding Store
// method, shared by any future master/clone backend so the verb
// parsing logic is written once.
func Dispatch(ctx context.Context, s Store, verb, key string, value []byte) ([]byte, error) {
	switch verb {
	case "put":
		return nil, s.Put(ctx, key, value)
	case "get":
		v, ok, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return v, nil
	case "erase":
		return nil, s.Erase(ctx, key)
	case "clear":
		return nil, s.Clear(ctx)
	default:
		return nil, errUnknownVerb(verb)
	}
}

type errUnknownVerb string

func (e errUnknownVerb) Error() string { return "store: unknown command verb " + string(e) }
