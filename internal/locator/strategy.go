package locator

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/dgnsrekt/tablease/internal/dom"
	"github.com/dgnsrekt/tablease/internal/types"
)

const (
	scoreNone = iota
	scoreSubstring
	scoreExact
)

// score compares have against an already normalised want.
func score(have, want string) int {
	h := dom.Normalize(have)
	switch {
	case h == "" || want == "":
		return scoreNone
	case h == want:
		return scoreExact
	case strings.Contains(h, want):
		return scoreSubstring
	}
	return scoreNone
}

type hit struct {
	node  *html.Node
	scope dom.Scope
	score int
}

// compileCSS validates a selector.
func compileCSS(sel string) (cascadia.Selector, error) {
	compiled, err := cascadia.Compile(sel)
	if err != nil {
		return nil, types.NewError(types.CodeValidation, "invalid css selector "+sel, err)
	}
	return compiled, nil
}

// find returns every element matching loc across all reachable scopes in
// scope order then document order. For semantic kinds, exact matches
// replace substring matches when any exist.
func find(tree *dom.Tree, loc Locator, maxDepth int) ([]*dom.Element, error) {
	var sel cascadia.Selector
	if loc.Kind == KindCSS {
		var err error
		if sel, err = compileCSS(loc.Value); err != nil {
			return nil, err
		}
	}

	var hits []hit
	best := scoreNone
	for _, sc := range tree.Scopes(maxDepth) {
		var found []hit
		switch loc.Kind {
		case KindCSS:
			doc := goquery.NewDocumentFromNode(sc.Root)
			for _, n := range doc.FindMatcher(sel).Nodes {
				found = append(found, hit{node: n, score: scoreExact})
			}
		case KindLabel:
			found = findByLabel(sc.Root, dom.Normalize(loc.Value))
		case KindAria:
			found = findByAttr(sc.Root, "aria-label", dom.Normalize(loc.Value))
		case KindPlaceholder:
			found = findByAttr(sc.Root, "placeholder", dom.Normalize(loc.Value))
		case KindName:
			found = findByAttr(sc.Root, "name", dom.Normalize(loc.Value))
		case KindID:
			found = findByAttr(sc.Root, "id", dom.Normalize(loc.Value))
		case KindRole:
			role, name := RoleParts(loc.Value)
			found = findByRole(sc.Root, role, dom.Normalize(name))
		case KindText:
			found = findByText(sc.Root, dom.Normalize(loc.Value))
		default:
			return nil, types.Errorf(types.CodeValidation, "unknown locator kind %q", loc.Kind)
		}
		for _, h := range found {
			h.scope = sc
			hits = append(hits, h)
			if h.score > best {
				best = h.score
			}
		}
	}

	seen := make(map[*html.Node]bool, len(hits))
	var out []*dom.Element
	for _, h := range hits {
		if h.score != best || seen[h.node] {
			continue
		}
		seen[h.node] = true
		out = append(out, tree.Wrap(h.node, h.scope))
	}
	return out, nil
}

func findByAttr(root *html.Node, attr, want string) []hit {
	var out []hit
	for _, n := range dom.ElementsUnder(root) {
		v, ok := dom.Attr(n, attr)
		if !ok {
			continue
		}
		if s := score(v, want); s != scoreNone {
			out = append(out, hit{node: n, score: s})
		}
	}
	return out
}

// findByLabel matches <label> text (resolving to the for target or the
// nested control) and aria-labelledby text.
func findByLabel(root *html.Node, want string) []hit {
	var out []hit
	for _, n := range dom.ElementsUnder(root) {
		if dom.IsTag(n, "label") {
			if s := score(dom.Text(n), want); s != scoreNone {
				if target := dom.LabelTarget(root, n); target != nil {
					out = append(out, hit{node: target, score: s})
				}
			}
			continue
		}
		if _, ok := dom.Attr(n, "aria-labelledby"); ok {
			if s := score(dom.LabelledByText(root, n), want); s != scoreNone {
				out = append(out, hit{node: n, score: s})
			}
		}
	}
	return out
}

func findByRole(root *html.Node, role, name string) []hit {
	var out []hit
	for _, n := range dom.ElementsUnder(root) {
		if dom.Role(n) != role {
			continue
		}
		if name == "" {
			out = append(out, hit{node: n, score: scoreExact})
			continue
		}
		if s := score(dom.AccessibleName(root, n), name); s != scoreNone {
			out = append(out, hit{node: n, score: s})
		}
	}
	return out
}

// findByText returns the innermost elements whose text matches: an element
// is dropped when one of its child elements matches at the same strength.
func findByText(root *html.Node, want string) []hit {
	scores := make(map[*html.Node]int)
	var order []*html.Node
	for _, n := range dom.ElementsUnder(root) {
		if dom.IsTag(n, "html", "head", "body", "script", "style", "template", "noscript") {
			continue
		}
		if s := score(dom.Text(n), want); s != scoreNone {
			scores[n] = s
			order = append(order, n)
		}
	}
	var out []hit
	for _, n := range order {
		s := scores[n]
		inner := true
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && scores[c] >= s {
				inner = false
				break
			}
		}
		if inner {
			out = append(out, hit{node: n, score: s})
		}
	}
	return out
}
