package match

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/gridstats/overlay/internal/stats"
)

func decode(t *testing.T, body string) []stats.Entry {
	t.Helper()
	entries, err := stats.Decode([]byte(body))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return entries
}

func TestFindStats_Flat(t *testing.T) {
	entries := decode(t, `[{"id": "5", "orderCount": 3, "orderValue": 12.5}]`)
	got, ok := New(Exact).FindStats("5", 0, entries)
	if !ok {
		t.Fatal("no match")
	}
	want := stats.Record{ID: "5", OrderCount: 3, OrderValue: 12.5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestFindStats_NestedTransformed(t *testing.T) {
	entries := decode(t, `[{"themeId": 5, "orders": {"count": 3, "value": 12.5}, "productName": "X"}]`)
	got, ok := New(Exact).FindStats("5", 0, entries)
	if !ok {
		t.Fatal("no match")
	}
	want := stats.Record{ID: "5", OrderCount: 3, OrderValue: 12.5, ProductName: "X"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestFindStats_NoMatch(t *testing.T) {
	entries := decode(t, `[{"id": "5"}, {"id": "6"}]`)
	m := New(Exact)
	for _, id := range []string{"7", "", "55"} {
		if r, ok := m.FindStats(id, 1, entries); ok {
			t.Errorf("FindStats(%q) = %+v, want no match", id, r)
		}
	}
	if _, ok := m.FindStats("5", 0, nil); ok {
		t.Error("match against empty entries")
	}
}

func TestFindStats_NumericEquivalence(t *testing.T) {
	entries := decode(t, `[{"themeId": 12, "orders": {"count": 1, "value": 2}}]`)
	if _, ok := New(Exact).FindStats("012", 0, entries); !ok {
		t.Error("012 should match numeric 12")
	}
}

func TestFindStats_Fuzzy(t *testing.T) {
	entries := decode(t, `[
		{"id": "alpha-100", "orderCount": 1},
		{"id": "beta", "orderCount": 2},
		{"id": "gamma", "orderCount": 3}
	]`)
	m := New(Fuzzy)

	tests := []struct {
		name  string
		id    string
		index int
		want  string
	}{
		{"exact first", "beta", 0, "beta"},
		{"key contains id", "100", 2, "alpha-100"},
		{"id contains key", "product-gamma-x", 0, "gamma"},
		{"positional", "zzz", 4, "beta"},
		{"empty id positional", "", 2, "gamma"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.FindStats(tt.id, tt.index, entries)
			if !ok {
				t.Fatal("fuzzy mode must always match a non-empty list")
			}
			if got.ID != tt.want {
				t.Errorf("ID = %q, want %q", got.ID, tt.want)
			}
		})
	}
}

func TestPlaceholder(t *testing.T) {
	p := Placeholder()
	if p.OrderCount != 0 || p.OrderValue != 0 || p.ProductName != "Unknown Product" {
		t.Errorf("Placeholder = %+v", p)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": Exact, "exact": Exact, "FUZZY": Fuzzy} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("loose"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
