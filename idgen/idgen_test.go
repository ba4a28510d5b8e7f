package idgen

import (
	"slices"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7_Version(t *testing.T) {
	id := UUIDv7()()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Fatalf("version = %d, want 7", u.Version())
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	ids := make([]string, 100)
	seen := make(map[string]bool, len(ids))
	for i := range ids {
		ids[i] = gen()
		if seen[ids[i]] {
			t.Fatalf("duplicate id %s", ids[i])
		}
		seen[ids[i]] = true
	}
	if !slices.IsSorted(ids) {
		t.Fatal("UUIDv7 ids not in creation order")
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("evt_", Default)()
	if !strings.HasPrefix(id, "evt_") {
		t.Fatalf("id = %q", id)
	}
	if _, err := Parse(strings.TrimPrefix(id, "evt_")); err != nil {
		t.Fatalf("suffix not a UUID: %v", err)
	}
}

func TestParse(t *testing.T) {
	got, err := Parse("0190A3B4-1C2D-7E8F-9A0B-1C2D3E4F5A6B")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != "0190a3b4-1c2d-7e8f-9a0b-1c2d3e4f5a6b" {
		t.Fatalf("canonical = %q", got)
	}
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error")
	}
}
