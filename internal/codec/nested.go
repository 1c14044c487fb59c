// Package codec resolves graph record fields into typed values.
//
// The graph store keeps only scalars per field, so structured values travel
// as JSON text inside a string. Readers may also see an already-structured
// value when a backend hands over decoded JSON. Nested[T] models both shapes
// and resolves them in one place.
package codec

import (
	"fmt"

	"github.com/goccy/go-json"
)

type Kind uint8

const (
	KindEmpty Kind = iota
	KindEncoded
	KindDecoded
)

// Nested is either Encoded(string) or Decoded(T).
type Nested[T any] struct {
	kind    Kind
	encoded string
	decoded T
}

func Encoded[T any](s string) Nested[T] {
	return Nested[T]{kind: KindEncoded, encoded: s}
}

func Decoded[T any](v T) Nested[T] {
	return Nested[T]{kind: KindDecoded, decoded: v}
}

// FromField wraps a raw field value. Strings are treated as encoded JSON,
// values of type T are taken as decoded, and anything else is re-encoded so
// Resolve can coerce it into T.
func FromField[T any](v any) Nested[T] {
	switch x := v.(type) {
	case nil:
		return Nested[T]{}
	case string:
		return Encoded[T](x)
	case T:
		return Decoded(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return Encoded[T](fmt.Sprint(x))
		}
		return Encoded[T](string(b))
	}
}

func (n Nested[T]) Kind() Kind { return n.kind }

// Resolve returns the decoded value. Missing, empty and malformed input all
// yield def; malformed input also returns the parse error for reporting.
func (n Nested[T]) Resolve(def T) (T, error) {
	switch n.kind {
	case KindDecoded:
		return n.decoded, nil
	case KindEncoded:
		if n.encoded == "" || n.encoded == "null" {
			return def, nil
		}
		var v T
		if err := json.Unmarshal([]byte(n.encoded), &v); err != nil {
			return def, err
		}
		return v, nil
	default:
		return def, nil
	}
}

// Wire returns the transport form: JSON text.
func (n Nested[T]) Wire() (string, error) {
	switch n.kind {
	case KindEncoded:
		return n.encoded, nil
	case KindDecoded:
		b, err := json.Marshal(n.decoded)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", nil
	}
}

// Encode is shorthand for Decoded(v).Wire().
func Encode[T any](v T) (string, error) {
	return Decoded(v).Wire()
}
