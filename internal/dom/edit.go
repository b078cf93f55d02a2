package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// EditKind says how text can be entered into an element.
type EditKind int

const (
	EditNone EditKind = iota
	EditValue
	EditContent
)

func (k EditKind) String() string {
	switch k {
	case EditValue:
		return "value"
	case EditContent:
		return "contenteditable"
	default:
		return "none"
	}
}

var textInputTypes = map[string]bool{
	"": true, "text": true, "search": true, "email": true, "url": true,
	"tel": true, "password": true, "number": true, "date": true,
	"datetime-local": true, "month": true, "time": true, "week": true,
}

// Editability classifies n for typing. When the element cannot take text
// the returned reason says why.
func Editability(n *html.Node) (EditKind, string) {
	if n == nil || n.Type != html.ElementNode {
		return EditNone, "not an element"
	}
	switch n.Data {
	case "input", "textarea":
		if n.Data == "input" {
			typ, _ := Attr(n, "type")
			if !textInputTypes[strings.ToLower(typ)] {
				return EditNone, "input type " + strings.ToLower(typ) + " does not accept text"
			}
		}
		if _, ok := Attr(n, "disabled"); ok {
			return EditNone, "element is disabled"
		}
		if _, ok := Attr(n, "readonly"); ok {
			return EditNone, "element is read-only"
		}
		return EditValue, ""
	}
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		v, ok := Attr(cur, "contenteditable")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "true", "plaintext-only":
			return EditContent, ""
		default:
			return EditNone, "element is not editable"
		}
	}
	return EditNone, "element is not editable"
}
