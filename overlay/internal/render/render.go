// Package render builds the overlay badge shown on each tile.
package render

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/gridstats/overlay/internal/stats"
)

// DefaultClass is the class of the overlay root element.
const DefaultClass = "product-stats-overlay"

var overlayTmpl = template.Must(template.New("overlay").Parse(
	`<div class="{{.Class}}" title="{{.Name}}">` +
		`<div class="stats-item"><span class="stats-label">Orders:</span><span class="stats-value">{{.Count}}</span></div>` +
		`<div class="stats-item"><span class="stats-label">Value:</span><span class="stats-value">€{{.Value}}</span></div>` +
		`</div>`))

// Renderer turns records into overlay markup. Product names come from the
// statistics endpoint and are reduced to plain text before templating.
type Renderer struct {
	class string
	strip *bluemonday.Policy
}

// New creates a Renderer. An empty class selects DefaultClass.
func New(class string) *Renderer {
	if class == "" {
		class = DefaultClass
	}
	return &Renderer{class: class, strip: bluemonday.StrictPolicy()}
}

// PlainText removes every tag from a remote product name and collapses its
// whitespace. Entities are decoded so the template escapes them once.
func (r *Renderer) PlainText(name string) string {
	text := html.UnescapeString(r.strip.Sanitize(name))
	return strings.Join(strings.Fields(text), " ")
}

// Overlay renders one record as a single root element.
func (r *Renderer) Overlay(rec stats.Record) (string, error) {
	var buf bytes.Buffer
	err := overlayTmpl.Execute(&buf, struct {
		Class string
		Name  string
		Count int
		Value string
	}{
		Class: r.class,
		Name:  r.PlainText(rec.ProductName),
		Count: rec.OrderCount,
		Value: fmt.Sprintf("%.2f", rec.OrderValue),
	})
	if err != nil {
		return "", fmt.Errorf("render: overlay: %w", err)
	}
	return buf.String(), nil
}
