package locator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/dgnsrekt/tablease/internal/dom"
)

// OutlineLimit caps the number of lines a page outline returns.
const OutlineLimit = 300

// Outline is a compact description of a page's interactive elements, each
// with a locator that finds it again.
type Outline struct {
	SelectorUsed string   `json:"selectorUsed"`
	URL          string   `json:"url,omitempty"`
	Lines        []string `json:"lines"`
	Truncated    bool     `json:"truncated,omitempty"`
}

// Text joins the outline lines.
func (o *Outline) Text() string { return strings.Join(o.Lines, "\n") }

var interactiveRoles = map[string]bool{
	"button": true, "link": true, "textbox": true, "searchbox": true,
	"checkbox": true, "radio": true, "combobox": true, "listbox": true,
	"slider": true, "spinbutton": true, "tab": true, "menuitem": true,
	"switch": true, "option": false,
}

var cssIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Outline lists headings and visible interactive elements across every
// reachable scope. Visibility is judged from markup so the outline costs a
// single document read.
func (e *Engine) Outline(ctx context.Context) (*Outline, error) {
	tree, err := e.page.Document(ctx)
	if err != nil {
		return nil, err
	}
	out := &Outline{URL: tree.URL}
	add := func(line string) bool {
		if len(out.Lines) == OutlineLimit {
			out.Truncated = true
			return false
		}
		out.Lines = append(out.Lines, line)
		return true
	}

	for _, sc := range tree.Scopes(e.maxDepth) {
		if sc.Kind != dom.ScopeDocument {
			if !add(fmt.Sprintf("-- %s in <%s> --", sc.Kind, sc.Host.Data)) {
				return out, nil
			}
		}
		for _, n := range dom.ElementsUnder(sc.Root) {
			if !tree.StaticVisible(n) {
				continue
			}
			line, ok := outlineLine(sc.Root, n)
			if !ok {
				continue
			}
			if !add(line) {
				return out, nil
			}
		}
	}
	return out, nil
}

func outlineLine(scopeRoot, n *html.Node) (string, bool) {
	role := dom.Role(n)
	if role == "heading" {
		return fmt.Sprintf("%s %s", strings.Repeat("#", headingLevel(n)), truncate(dom.Collapse(dom.Text(n)), 80)), true
	}
	editable, _ := dom.Editability(n)
	if !interactiveRoles[role] && editable != dom.EditContent {
		return "", false
	}
	name := truncate(dom.AccessibleName(scopeRoot, n), 80)
	label := role
	if label == "" {
		label = "editable"
	}
	line := fmt.Sprintf("[%s] %q -> %s", label, name, suggest(scopeRoot, n, role, name))
	if v, ok := dom.Attr(n, "value"); ok && v != "" && role == "textbox" {
		line += fmt.Sprintf(" value=%q", truncate(v, 40))
	}
	return line, true
}

func headingLevel(n *html.Node) int {
	if len(n.Data) == 2 && n.Data[0] == 'h' && n.Data[1] >= '1' && n.Data[1] <= '6' {
		return int(n.Data[1] - '0')
	}
	return 2
}

// suggest picks the most stable locator for n, preferring semantic kinds
// and falling back to an id or tag selector.
func suggest(scopeRoot, n *html.Node, role, name string) string {
	if labels := dom.Labels(scopeRoot, n); len(labels) > 0 && labels[0] != "" {
		return "label:" + labels[0]
	}
	if role != "" && name != "" && !strings.Contains(name, ",") {
		return "role:" + role + ":" + name
	}
	if v, ok := dom.Attr(n, "placeholder"); ok && v != "" {
		return "placeholder:" + dom.Collapse(v)
	}
	if v, ok := dom.Attr(n, "aria-label"); ok && v != "" {
		return "aria:" + dom.Collapse(v)
	}
	if v, ok := dom.Attr(n, "id"); ok && cssIdent.MatchString(v) {
		return "#" + v
	}
	if v, ok := dom.Attr(n, "name"); ok && v != "" {
		return "name:" + v
	}
	return n.Data
}
