// Package stats fetches per-product order statistics and keeps them in a
// time-bounded cache.
//
// The remote endpoint answers with one of two shapes:
//
//	flat:   [{"id": "5", "orderCount": 3, "orderValue": 12.5, "productName": "X"}]
//	nested: [{"themeId": 5, "orders": {"count": 3, "value": 12.5}, "productName": "X"}]
//
// Each element decodes into an Entry whose Shape is decided by the presence
// of an "orders" object. Matching and rendering work on the flat Record.
package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hazyhaar/gridstats/overlay/internal/fault"
)

// Shape discriminates the two remote schemas.
type Shape int

const (
	ShapeFlat Shape = iota
	ShapeNested
)

func (s Shape) String() string {
	if s == ShapeNested {
		return "nested"
	}
	return "flat"
}

// Record is the normalised statistics of one product.
type Record struct {
	ID          string  `json:"id"`
	OrderCount  int     `json:"orderCount"`
	OrderValue  float64 `json:"orderValue"`
	ProductName string  `json:"productName"`
}

// Flat is the flat remote shape.
type Flat struct {
	ID          any     `json:"id"`
	OrderCount  float64 `json:"orderCount"`
	OrderValue  float64 `json:"orderValue"`
	ProductName string  `json:"productName"`
}

// Nested is the nested remote shape.
type Nested struct {
	ThemeID any `json:"themeId"`
	Orders  struct {
		Count float64 `json:"count"`
		Value float64 `json:"value"`
	} `json:"orders"`
	ProductName string `json:"productName"`
}

// Entry is one remote element. Exactly one of Flat and Nested is set,
// according to Shape.
type Entry struct {
	Shape  Shape
	Flat   *Flat
	Nested *Nested
}

// Key returns the identity field of the entry as a string.
func (e Entry) Key() string {
	if e.Shape == ShapeNested {
		return idString(e.Nested.ThemeID)
	}
	return idString(e.Flat.ID)
}

// Normalize converts the entry to a Record. A nested entry without a
// product name is named after its theme.
func (e Entry) Normalize() Record {
	if e.Shape == ShapeNested {
		n := e.Nested
		name := n.ProductName
		if name == "" {
			name = "Theme " + idString(n.ThemeID)
		}
		return Record{
			ID:          idString(n.ThemeID),
			OrderCount:  clampCount(n.Orders.Count),
			OrderValue:  clampValue(n.Orders.Value),
			ProductName: name,
		}
	}
	f := e.Flat
	return Record{
		ID:          idString(f.ID),
		OrderCount:  clampCount(f.OrderCount),
		OrderValue:  clampValue(f.OrderValue),
		ProductName: f.ProductName,
	}
}

// UnmarshalJSON checks for a nested "orders" object before decoding.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["orders"]; ok && isObject(raw) {
		var n Nested
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*e = Entry{Shape: ShapeNested, Nested: &n}
		return nil
	}
	var f Flat
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*e = Entry{Shape: ShapeFlat, Flat: &f}
	return nil
}

// Decode parses a statistics payload. Anything other than a JSON array of
// objects is a data error.
func Decode(body []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("stats: payload is not a JSON array: %w", fault.ErrData)
	}
	var entries []Entry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("stats: decode payload: %v: %w", err, fault.ErrData)
	}
	return entries, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// idString renders a remote id. JSON numbers are formatted without a
// trailing ".0" so 5 and "5" compare equal.
func idString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func clampCount(f float64) int {
	if f < 0 {
		return 0
	}
	return int(f)
}

func clampValue(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}
