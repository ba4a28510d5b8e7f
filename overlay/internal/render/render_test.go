package render

import (
	"strings"
	"testing"

	"github.com/hazyhaar/gridstats/overlay/internal/stats"
)

func TestOverlay(t *testing.T) {
	r := New("")
	out, err := r.Overlay(stats.Record{ID: "5", OrderCount: 3, OrderValue: 12.5, ProductName: "Blue card"})
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	for _, want := range []string{
		`class="product-stats-overlay"`,
		`title="Blue card"`,
		`Orders:</span><span class="stats-value">3</span>`,
		`€12.50`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("overlay missing %q:\n%s", want, out)
		}
	}
	if !strings.HasPrefix(out, "<div") || !strings.HasSuffix(out, "</div>") {
		t.Errorf("overlay must be a single root element:\n%s", out)
	}
}

func TestOverlay_Placeholder(t *testing.T) {
	out, err := New("").Overlay(stats.Record{ProductName: "Unknown Product"})
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if !strings.Contains(out, ">0</span>") || !strings.Contains(out, "€0.00") {
		t.Errorf("placeholder overlay:\n%s", out)
	}
}

func TestOverlay_HostileName(t *testing.T) {
	out, err := New("x").Overlay(stats.Record{ProductName: `"><script>alert(1)</script>`})
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if strings.Contains(out, "<script") {
		t.Errorf("script survived:\n%s", out)
	}
	if !strings.Contains(out, `class="x"`) {
		t.Errorf("custom class missing:\n%s", out)
	}
}

func TestPlainText(t *testing.T) {
	r := New("")
	tests := []struct {
		in, want string
	}{
		{"Blue card", "Blue card"},
		{"<b>Bold</b>  card\n", "Bold card"},
		{"Fish &amp; Chips", "Fish & Chips"},
		{`<img src=x onerror=alert(1)>Card`, "Card"},
	}
	for _, tt := range tests {
		if got := r.PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	out, _ := r.Overlay(stats.Record{ProductName: "<i>Fish</i> & Chips"})
	if !strings.Contains(out, `title="Fish &amp; Chips"`) {
		t.Errorf("title not reduced to escaped text:\n%s", out)
	}
}
