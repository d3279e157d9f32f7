// Package topic implements the hierarchical topic and filter engine
// (component A): parsing and comparing topics, and matching a message's
// topic against a subscriber's filter set via longest-prefix matching.
package topic

import (
	"fmt"
	"strings"

	"github.com/brokermesh/brokermesh/internal/brokererr"
)

// Reserved is the sentinel component marking internal topics that never
// leave the local endpoint.
const Reserved = "<$>"

// Separator delimits topic components on the wire and in configuration.
const Separator = "/"

// Topic is an ordered, immutable sequence of non-empty components.
type Topic struct {
	raw   string
	parts []string
}

// Split parses s into its components. Empty components and the
// reserved sentinel (outside position zero) are rejected.
func Split(s string) ([]string, error) {
	if s == "" {
		return nil, fmt.Errorf("topic: empty literal: %w", brokererr.ErrInvalidTopic)
	}
	parts := strings.Split(s, Separator)
	for i, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("topic: empty component in %q: %w", s, brokererr.ErrInvalidTopic)
		}
		if p == Reserved && i != 0 {
			return nil, fmt.Errorf("topic: reserved component %q only valid as first component, in %q: %w", Reserved, s, brokererr.ErrInvalidTopic)
		}
	}
	return parts, nil
}

// Join builds a Topic from already-validated components. It does not
// re-validate; callers constructing from user input should use New.
func Join(components []string) Topic {
	return Topic{raw: strings.Join(components, Separator), parts: append([]string{}, components...)}
}

// New parses and validates a topic literal.
func New(s string) (Topic, error) {
	parts, err := Split(s)
	if err != nil {
		return Topic{}, err
	}
	return Join(parts), nil
}

// MustNew is New but panics on error; for internal literals known to be
// well-formed (e.g. the built-in internal topics).
func MustNew(s string) Topic {
	t, err := New(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the topic's canonical string form.
func (t Topic) String() string {
	return t.raw
}

// Parts returns the topic's components. The returned slice must not be
// mutated by the caller.
func (t Topic) Parts() []string {
	return t.parts
}

// IsZero reports whether t is the zero-value Topic (never constructed
// via New/Join).
func (t Topic) IsZero() bool {
	return t.parts == nil
}

// Child returns a new topic formed by concatenating t and other with
// separator normalization: no duplicate separators are introduced and
// no leading or trailing separator is produced.
func (t Topic) Child(other Topic) Topic {
	combined := append(append([]string{}, t.parts...), other.parts...)
	return Join(combined)
}

// PrefixOf reports whether a's components are a prefix of b's, at
// component boundaries (not character boundaries).
func PrefixOf(a, b Topic) bool {
	if len(a.parts) > len(b.parts) {
		return false
	}
	for i, p := range a.parts {
		if b.parts[i] != p {
			return false
		}
	}
	return true
}

// IsInternal reports whether t's first component is the reserved
// sentinel, marking a topic that must never cross a peer boundary.
func (t Topic) IsInternal() bool {
	return len(t.parts) > 0 && t.parts[0] == Reserved
}

// Less provides the lexicographic-on-string-form comparison topics use
// for ordering.
func (t Topic) Less(other Topic) bool {
	return t.raw < other.raw
}

// Equal reports whether two topics have identical string form.
func (t Topic) Equal(other Topic) bool {
	return t.raw == other.raw
}
