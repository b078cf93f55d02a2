package dom

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// InlineStyle parses the style attribute into lower-case property/value
// pairs. !important is stripped.
func InlineStyle(n *html.Node) map[string]string {
	raw, ok := Attr(n, "style")
	if !ok || raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, decl := range strings.Split(raw, ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "!important"))
		out[strings.ToLower(strings.TrimSpace(prop))] = strings.ToLower(val)
	}
	return out
}

// StaticVisible decides visibility from markup alone: the hidden attribute,
// inline display, visibility and opacity on the element or any ancestor
// (crossing shadow and frame boundaries), hidden inputs and an inline
// zero-size box. Live pages should ask the browser instead.
func (t *Tree) StaticVisible(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if IsTag(n, "input") {
		if typ, _ := Attr(n, "type"); strings.EqualFold(typ, "hidden") {
			return false
		}
	}
	style := InlineStyle(n)
	if isZero(style["width"]) && isZero(style["height"]) {
		return false
	}
	for cur := n; cur != nil; cur = t.ParentAcross(cur) {
		if cur.Type != html.ElementNode {
			continue
		}
		if skipText[cur.Data] || !selfVisible(cur) {
			return false
		}
	}
	return true
}

func selfVisible(n *html.Node) bool {
	if _, ok := Attr(n, "hidden"); ok {
		return false
	}
	style := InlineStyle(n)
	if style["display"] == "none" {
		return false
	}
	if v := style["visibility"]; v == "hidden" || v == "collapse" {
		return false
	}
	if op, ok := style["opacity"]; ok {
		if f, err := strconv.ParseFloat(op, 64); err == nil && f <= 0 {
			return false
		}
	}
	return true
}

func isZero(v string) bool {
	if v == "" {
		return false
	}
	v = strings.TrimSuffix(v, "px")
	f, err := strconv.ParseFloat(v, 64)
	return err == nil && f == 0
}
