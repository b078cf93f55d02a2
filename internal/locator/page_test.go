package locator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"golang.org/x/net/html"

	"github.com/dgnsrekt/tablease/internal/dom"
)

// memPage is a Page over a static tree. docs, when set, supplies the tree
// for each Document call so tests can make elements appear later.
type memPage struct {
	mu       sync.Mutex
	tree     *dom.Tree
	docs     func(call int) *dom.Tree
	calls    int
	pseudo   []string
	clicked  []*html.Node
	scrolled []*html.Node
	scrollDX int
	scrollDY int
	files    map[*html.Node][]string
}

func newMemPage(t *testing.T, src string) *memPage {
	t.Helper()
	tree, err := dom.FromHTML(src)
	if err != nil {
		t.Fatalf("dom.FromHTML() error = %v", err)
	}
	return &memPage{tree: tree, files: make(map[*html.Node][]string)}
}

func (p *memPage) Document(context.Context) (*dom.Tree, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.docs != nil {
		p.tree = p.docs(p.calls)
	}
	p.calls++
	return p.tree, nil
}

func (p *memPage) documentCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *memPage) Visible(_ context.Context, el *dom.Element) (bool, error) {
	return p.tree.StaticVisible(el.Node), nil
}

func (p *memPage) Value(_ context.Context, el *dom.Element) (string, error) {
	n := el.Node
	switch {
	case dom.IsTag(n, "textarea"):
		return dom.Text(n), nil
	case dom.IsTag(n, "select"):
		for _, o := range dom.ElementsUnder(n) {
			if _, ok := dom.Attr(o, "selected"); ok && dom.IsTag(o, "option") {
				v, _ := dom.Attr(o, "value")
				return v, nil
			}
		}
		return "", nil
	}
	v, _ := dom.Attr(n, "value")
	return v, nil
}

func (p *memPage) Property(ctx context.Context, el *dom.Element, name string) (any, error) {
	switch name {
	case "value":
		return p.Value(ctx, el)
	case "checked", "disabled":
		_, ok := dom.Attr(el.Node, name)
		return ok, nil
	case "tagName":
		return strings.ToUpper(el.Tag()), nil
	}
	if v, ok := dom.Attr(el.Node, name); ok {
		return v, nil
	}
	return nil, nil
}

func (p *memPage) PseudoContent(context.Context) ([]string, error) { return p.pseudo, nil }

func (p *memPage) Click(_ context.Context, el *dom.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicked = append(p.clicked, el.Node)
	return nil
}

func (p *memPage) Type(_ context.Context, el *dom.Element, kind dom.EditKind, text string, clear bool) error {
	switch kind {
	case dom.EditValue:
		cur, _ := dom.Attr(el.Node, "value")
		if clear {
			cur = ""
		}
		dom.SetAttr(el.Node, "value", cur+text)
	case dom.EditContent:
		if clear {
			for c := el.Node.FirstChild; c != nil; c = el.Node.FirstChild {
				el.Node.RemoveChild(c)
			}
		}
		el.Node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	return nil
}

func (p *memPage) SelectOption(_ context.Context, el *dom.Element, index int) error {
	i := 0
	for _, o := range dom.ElementsUnder(el.Node) {
		if !dom.IsTag(o, "option") {
			continue
		}
		dom.RemoveAttr(o, "selected")
		if i == index {
			dom.SetAttr(o, "selected", "")
		}
		i++
	}
	return nil
}

func (p *memPage) ScrollIntoView(_ context.Context, el *dom.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolled = append(p.scrolled, el.Node)
	return nil
}

func (p *memPage) ScrollBy(_ context.Context, dx, dy int) error {
	p.scrollDX += dx
	p.scrollDY += dy
	return nil
}

func (p *memPage) SetInputFiles(_ context.Context, el *dom.Element, files []string) error {
	p.files[el.Node] = files
	return nil
}

func mustCandidates(t *testing.T, v any) []Locator {
	t.Helper()
	c, err := Candidates(v)
	if err != nil {
		t.Fatalf("Candidates(%v) error = %v", v, err)
	}
	return c
}

func target(t *testing.T, sel string) Target {
	t.Helper()
	return Target{Candidates: mustCandidates(t, sel)}
}

func idOf(n *html.Node) string {
	v, _ := dom.Attr(n, "id")
	return v
}
