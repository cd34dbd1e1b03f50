// Package idgen provides ID generation for docground entities.
//
// All identifiers are UUIDv7 (RFC 9562, time-sortable) with a short type
// prefix so an ID is self-describing in logs and API payloads:
//
//	txn_0190…  transaction
//	el_0190…   extraction element
//	cor_0190…  correction log entry
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the bare UUIDv7 generator. Prefixed variants compose on top.
var Default Generator = UUIDv7()

// Entity generators used across the service.
var (
	Transaction = Prefixed("txn_", Default)
	Element     = Prefixed("el_", Default)
	Correction  = Prefixed("cor_", Default)
)

// ValidatePrefixed checks that s carries the given prefix followed by a
// well-formed UUID. Used on IDs arriving from the HTTP boundary.
func ValidatePrefixed(prefix, s string) error {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return fmt.Errorf("idgen: missing %q prefix: %q", prefix, s)
	}
	if _, err := uuid.Parse(rest); err != nil {
		return fmt.Errorf("idgen: invalid ID %q: %w", s, err)
	}
	return nil
}
