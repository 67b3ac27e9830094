// Package nodekey implements the canonical, deterministic encoding of
// concrete node identity (head, args) used as the persistent storage
// key and as the LRU cache key.
package nodekey

import (
	"encoding/json"
	"fmt"
)

// Key identifies a concrete node: a head symbol applied to an ordered
// list of ground, JSON-serializable argument values.
type Key struct {
	Head string        `json:"head"`
	Args []interface{} `json:"args"`
}

// New constructs a Key, normalizing a nil argument list to an empty
// one so that canonical encoding always produces "args":[] rather than
// "args":null for zero-arity heads.
func New(head string, args []interface{}) Key {
	if args == nil {
		args = []interface{}{}
	}
	return Key{Head: head, Args: args}
}

// canonicalForm mirrors Key but fixes field order at marshal time
// regardless of how Key's own fields are declared, and guarantees a
// non-null args array.
type canonicalForm struct {
	Head string        `json:"head"`
	Args []interface{} `json:"args"`
}

// Canonical returns the deterministic JSON encoding
// `{"head":"H","args":[...]}`. Determinism for nested object arguments
// relies on encoding/json's behavior of marshaling map[string]interface{}
// keys in sorted order.
func (k Key) Canonical() (string, error) {
	args := k.Args
	if args == nil {
		args = []interface{}{}
	}
	b, err := json.Marshal(canonicalForm{Head: k.Head, Args: args})
	if err != nil {
		return "", fmt.Errorf("nodekey: encode %q: %w", k.Head, err)
	}
	return string(b), nil
}

// MustCanonical is Canonical, panicking on error. Args are always
// JSON-serializable by construction (ground values substituted from
// parsed JSON literals or caller-supplied values), so this is safe to
// use in contexts, like log fields, where threading an error is noise.
func (k Key) MustCanonical() string {
	s, err := k.Canonical()
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses a canonical key string back into a Key. It fails if s
// is not a JSON object with a non-empty "head"; it does not check that
// s is in canonical form, so a JSON object with reordered or extra
// fields also decodes.
func Decode(s string) (Key, error) {
	var raw canonicalForm
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Key{}, fmt.Errorf("nodekey: decode %q: %w", s, err)
	}
	if raw.Head == "" {
		return Key{}, fmt.Errorf("nodekey: decode %q: missing head", s)
	}
	if raw.Args == nil {
		raw.Args = []interface{}{}
	}
	return Key{Head: raw.Head, Args: raw.Args}, nil
}

// Equal reports structural equality via canonical-form comparison.
func Equal(a, b Key) bool {
	ca, errA := a.Canonical()
	cb, errB := b.Canonical()
	if errA != nil || errB != nil {
		return false
	}
	return ca == cb
}
