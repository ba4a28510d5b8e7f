package htmlgrid

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// compound is one parsed step of a selector: tag.class#id[attr=val].
type compound struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
	hasVal  bool
}

// parseCompound parses "tag.class", ".a.b", "#id", "tag[attr=val]", etc.
func parseCompound(sel string) compound {
	var c compound

	if i := strings.IndexByte(sel, '['); i >= 0 {
		attr := strings.TrimSuffix(sel[i+1:], "]")
		sel = sel[:i]
		if eq := strings.IndexByte(attr, '='); eq >= 0 {
			c.attrKey = attr[:eq]
			c.attrVal = strings.Trim(attr[eq+1:], `"'`)
			c.hasVal = true
		} else {
			c.attrKey = attr
		}
	}

	if i := strings.IndexByte(sel, '#'); i >= 0 {
		c.id = sel[i+1:]
		sel = sel[:i]
	}

	if i := strings.IndexByte(sel, '.'); i >= 0 {
		for _, cl := range strings.Split(sel[i+1:], ".") {
			if cl != "" {
				c.classes = append(c.classes, cl)
			}
		}
		sel = sel[:i]
	}

	c.tag = strings.ToLower(sel)
	return c
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" && attr(n, "id") != c.id {
		return false
	}
	for _, cl := range c.classes {
		if !hasClass(n, cl) {
			return false
		}
	}
	if c.attrKey != "" {
		v, ok := lookupAttr(n, c.attrKey)
		if !ok || (c.hasVal && v != c.attrVal) {
			return false
		}
	}
	return true
}

// queryAll returns descendants of root (root excluded) matching selector,
// in document order. Whitespace separates descendant steps.
func queryAll(root *html.Node, selector string) []*html.Node {
	steps := strings.Fields(selector)
	if len(steps) == 0 || root == nil {
		return nil
	}

	matches := []*html.Node{root}
	for _, step := range steps {
		c := parseCompound(step)
		var next []*html.Node
		seen := make(map[*html.Node]bool)
		for _, scope := range matches {
			walk(scope, func(n *html.Node) {
				if n != scope && !seen[n] && c.matches(n) {
					seen[n] = true
					next = append(next, n)
				}
			})
		}
		matches = next
	}
	return documentOrder(root, matches)
}

// query returns the first match of selector under root, or nil.
func query(root *html.Node, selector string) *html.Node {
	all := queryAll(root, selector)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// documentOrder sorts nodes by their pre-order position under root.
func documentOrder(root *html.Node, nodes []*html.Node) []*html.Node {
	if len(nodes) < 2 {
		return nodes
	}
	pos := make(map[*html.Node]int, len(nodes))
	i := 0
	walk(root, func(n *html.Node) {
		pos[n] = i
		i++
	})
	slices.SortStableFunc(nodes, func(a, b *html.Node) int { return pos[a] - pos[b] })
	return nodes
}

// walk visits n and its descendants in pre-order.
func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	n.Attr = slices.DeleteFunc(n.Attr, func(a html.Attribute) bool { return a.Key == key })
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(attr(n, "class")), class)
}

func addClass(n *html.Node, class string) {
	if hasClass(n, class) {
		return
	}
	setAttr(n, "class", strings.TrimSpace(attr(n, "class")+" "+class))
}

func removeClass(n *html.Node, class string) {
	fields := slices.DeleteFunc(strings.Fields(attr(n, "class")), func(c string) bool { return c == class })
	setAttr(n, "class", strings.Join(fields, " "))
}
