package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7Unique(t *testing.T) {
	// WHAT: Consecutive IDs are distinct and well-formed.
	// WHY: Element IDs must be unique within a transaction.
	gen := UUIDv7()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen()
		if len(id) != 36 {
			t.Fatalf("unexpected ID length: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate ID: %q", id)
		}
		seen[id] = true
	}
}

func TestPrefixed(t *testing.T) {
	id := Transaction()
	if !strings.HasPrefix(id, "txn_") {
		t.Errorf("transaction ID missing prefix: %q", id)
	}
	if err := ValidatePrefixed("txn_", id); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidatePrefixedRejects(t *testing.T) {
	cases := []struct {
		prefix, id string
	}{
		{"txn_", "el_0190a9e0-0000-7000-8000-000000000000"},
		{"txn_", "txn_not-a-uuid"},
		{"txn_", ""},
	}
	for _, c := range cases {
		if err := ValidatePrefixed(c.prefix, c.id); err == nil {
			t.Errorf("ValidatePrefixed(%q, %q): expected error", c.prefix, c.id)
		}
	}
}
