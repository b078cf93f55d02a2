package dom

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// ImplicitRole returns the ARIA role an element has without a role
// attribute, or "" when it has none worth matching on.
func ImplicitRole(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	switch n.Data {
	case "a", "area":
		if _, ok := Attr(n, "href"); ok {
			return "link"
		}
	case "button", "summary":
		return "button"
	case "input":
		typ, _ := Attr(n, "type")
		switch strings.ToLower(typ) {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "range":
			return "slider"
		case "number":
			return "spinbutton"
		case "search":
			return "searchbox"
		case "hidden", "file", "color", "date", "datetime-local", "month", "time", "week", "password":
			return ""
		default:
			return "textbox"
		}
	case "textarea":
		return "textbox"
	case "select":
		if _, ok := Attr(n, "multiple"); ok {
			return "listbox"
		}
		if size, _ := Attr(n, "size"); size != "" {
			if v, err := strconv.Atoi(size); err == nil && v > 1 {
				return "listbox"
			}
		}
		return "combobox"
	case "option":
		return "option"
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	case "img":
		if alt, ok := Attr(n, "alt"); ok && alt == "" {
			return "presentation"
		}
		return "img"
	case "ul", "ol", "menu":
		return "list"
	case "li":
		return "listitem"
	case "nav":
		return "navigation"
	case "main":
		return "main"
	case "header":
		return "banner"
	case "footer":
		return "contentinfo"
	case "aside":
		return "complementary"
	case "form":
		return "form"
	case "dialog":
		return "dialog"
	case "table":
		return "table"
	case "tr":
		return "row"
	case "td":
		return "cell"
	case "th":
		return "columnheader"
	case "progress":
		return "progressbar"
	case "article":
		return "article"
	}
	return ""
}

// Role returns the first token of an explicit role attribute, falling back
// to the implicit role.
func Role(n *html.Node) string {
	if v, ok := Attr(n, "role"); ok {
		if fields := strings.Fields(strings.ToLower(v)); len(fields) > 0 {
			return fields[0]
		}
	}
	return ImplicitRole(n)
}

var labelable = map[string]bool{
	"input": true, "select": true, "textarea": true, "button": true,
	"meter": true, "output": true, "progress": true,
}

// IsLabelable reports whether a <label> can point at n.
func IsLabelable(n *html.Node) bool {
	if !IsTag(n, "input", "select", "textarea", "button", "meter", "output", "progress") {
		return false
	}
	if IsTag(n, "input") {
		typ, _ := Attr(n, "type")
		return !strings.EqualFold(typ, "hidden")
	}
	return true
}

// LabelTarget returns the control a <label> element labels: its for target
// within the scope, otherwise its first labelable descendant.
func LabelTarget(scopeRoot, label *html.Node) *html.Node {
	if id, ok := Attr(label, "for"); ok && id != "" {
		if n := ElementByID(scopeRoot, id); n != nil && IsLabelable(n) {
			return n
		}
		return nil
	}
	for _, n := range ElementsUnder(label) {
		if IsLabelable(n) {
			return n
		}
	}
	return nil
}

// LabelledByText joins the text of the elements named by aria-labelledby.
func LabelledByText(scopeRoot, n *html.Node) string {
	ids, ok := Attr(n, "aria-labelledby")
	if !ok {
		return ""
	}
	var parts []string
	for _, id := range strings.Fields(ids) {
		if ref := ElementByID(scopeRoot, id); ref != nil {
			parts = append(parts, Collapse(Text(ref)))
		}
	}
	return strings.Join(parts, " ")
}

// Labels returns the text of every <label> associated with control n.
func Labels(scopeRoot, n *html.Node) []string {
	var out []string
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if IsTag(cur, "label") {
			if _, hasFor := Attr(cur, "for"); !hasFor {
				out = append(out, Collapse(Text(cur)))
			}
			break
		}
	}
	if id, ok := Attr(n, "id"); ok && id != "" {
		for _, l := range ElementsUnder(scopeRoot) {
			if !IsTag(l, "label") {
				continue
			}
			if f, _ := Attr(l, "for"); f == id {
				out = append(out, Collapse(Text(l)))
			}
		}
	}
	return out
}

// AccessibleName approximates the accessible name computation: explicit
// labelling first, then associated labels, then content or alt text, then
// title and placeholder.
func AccessibleName(scopeRoot, n *html.Node) string {
	if s := LabelledByText(scopeRoot, n); s != "" {
		return s
	}
	if s, ok := Attr(n, "aria-label"); ok && strings.TrimSpace(s) != "" {
		return Collapse(s)
	}
	if IsLabelable(n) && !IsTag(n, "button") {
		if labels := Labels(scopeRoot, n); len(labels) > 0 {
			return strings.Join(labels, " ")
		}
	}
	switch {
	case IsTag(n, "input"):
		typ, _ := Attr(n, "type")
		switch strings.ToLower(typ) {
		case "button", "submit", "reset":
			if v, ok := Attr(n, "value"); ok {
				return Collapse(v)
			}
			if strings.EqualFold(typ, "submit") {
				return "Submit"
			}
		case "image":
			if v, ok := Attr(n, "alt"); ok {
				return Collapse(v)
			}
		}
	case IsTag(n, "img", "area"):
		if v, ok := Attr(n, "alt"); ok {
			return Collapse(v)
		}
	case nameFromContent(n):
		if s := Collapse(Text(n)); s != "" {
			return s
		}
	}
	if v, ok := Attr(n, "title"); ok && strings.TrimSpace(v) != "" {
		return Collapse(v)
	}
	if v, ok := Attr(n, "placeholder"); ok {
		return Collapse(v)
	}
	return ""
}

func nameFromContent(n *html.Node) bool {
	switch Role(n) {
	case "button", "link", "heading", "option", "tab", "menuitem", "checkbox",
		"radio", "cell", "columnheader", "row", "listitem", "switch", "treeitem":
		return true
	}
	return false
}
