package identity

import (
	"testing"

	"github.com/hazyhaar/gridstats/grid"
)

func TestDerive_Primary(t *testing.T) {
	r := New(Primary())

	tests := []struct {
		name   string
		tile   grid.Tile
		want   string
		wantOK bool
	}{
		{
			name:   "data-product-id wins",
			tile:   grid.Tile{Attrs: map[string]string{"data-product-id": "42", "data-id": "7"}, Href: "https://shop.test/x?themeId=9"},
			want:   "42",
			wantOK: true,
		},
		{
			name:   "data-id second",
			tile:   grid.Tile{Attrs: map[string]string{"data-id": "7"}},
			want:   "7",
			wantOK: true,
		},
		{
			name:   "empty attribute skipped",
			tile:   grid.Tile{Attrs: map[string]string{"data-product-id": ""}, Href: "https://shop.test/x?themeId=9"},
			want:   "9",
			wantOK: true,
		},
		{
			name:   "anchor query param",
			tile:   grid.Tile{Href: "https://shop.test/karten?themeId=1234&size=a5"},
			want:   "1234",
			wantOK: true,
		},
		{
			name:   "parseable url without param does not use path",
			tile:   grid.Tile{Href: "https://shop.test/product/abc"},
			wantOK: false,
		},
		{
			name:   "unparseable url falls back to path",
			tile:   grid.Tile{Href: "http://[::1/product/abc-9"},
			want:   "abc-9",
			wantOK: true,
		},
		{
			name:   "no anchor no attrs",
			tile:   grid.Tile{Classes: []string{"product-xyz"}},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Derive(tt.tile, 0)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (id %q)", ok, tt.wantOK, got)
			}
			if ok && got != tt.want {
				t.Errorf("id = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDerive_Degraded(t *testing.T) {
	r := New(Degraded())

	tests := []struct {
		name  string
		tile  grid.Tile
		index int
		want  string
	}{
		{"data-item-id", grid.Tile{Attrs: map[string]string{"data-item-id": "it-1"}}, 0, "it-1"},
		{"path always", grid.Tile{Href: "https://shop.test/p/55"}, 0, "55"},
		{"item path", grid.Tile{Href: "https://shop.test/item/x1?ref=a"}, 0, "x1"},
		{"class token", grid.Tile{Classes: []string{"cards-tile", "product-blue_7"}}, 0, "blue_7"},
		{"positional", grid.Tile{}, 4, "product-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Derive(tt.tile, tt.index)
			if !ok {
				t.Fatal("expected an identity")
			}
			if got != tt.want {
				t.Errorf("id = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_UsesAnnotation(t *testing.T) {
	r := New(Primary())
	tile := grid.Tile{
		Attrs:      map[string]string{"data-product-id": "new"},
		ResolvedID: "old",
		Annotated:  true,
	}
	got, ok := r.Resolve(tile, 0)
	if !ok || got != "old" {
		t.Fatalf("Resolve = %q,%v, want old,true", got, ok)
	}

	tile.ResolvedID = ""
	if _, ok := r.Resolve(tile, 0); ok {
		t.Error("empty annotation should resolve to no identity")
	}
}

func TestBatch(t *testing.T) {
	r := New(Primary())
	tiles := []grid.Tile{
		{Seq: 1, Attrs: map[string]string{"data-id": "a"}},
		{Seq: 2, ResolvedID: "b", Annotated: true},
		{Seq: 3},
	}

	ids, writes := r.Batch(tiles, false)
	if ids[1] != "a" || ids[2] != "b" || ids[3] != "" {
		t.Fatalf("ids = %v", ids)
	}
	if _, ok := writes[2]; ok {
		t.Error("annotated tile should not be rewritten")
	}
	if writes[1] != "a" {
		t.Errorf("writes[1] = %q, want a", writes[1])
	}
	if v, ok := writes[3]; !ok || v != "" {
		t.Errorf("unidentified tile should be annotated empty, got %q,%v", v, ok)
	}

	ids, writes = r.Batch(tiles, true)
	if ids[2] != "" {
		t.Errorf("rederive ids[2] = %q, want empty", ids[2])
	}
	if v, ok := writes[2]; !ok || v != "" {
		t.Errorf("rederive should rewrite stale annotation, got %q,%v", v, ok)
	}
}

func TestBatch_PositionalFallbackIgnoresReorder(t *testing.T) {
	r := New(Degraded())
	// Grid order after a drag: the third tile now leads.
	tiles := []grid.Tile{{Seq: 3}, {Seq: 1}, {Seq: 2}}

	ids, _ := r.Batch(tiles, true)
	want := map[int]string{1: "product-1", 2: "product-2", 3: "product-3"}
	for seq, id := range want {
		if ids[seq] != id {
			t.Errorf("ids[%d] = %q, want %q", seq, ids[seq], id)
		}
	}

	idx := NaturalIndex([]grid.Tile{{Seq: 9}, {Seq: 4}, {Seq: 6}})
	if idx[4] != 0 || idx[6] != 1 || idx[9] != 2 {
		t.Errorf("NaturalIndex = %v", idx)
	}
}
