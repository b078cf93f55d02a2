package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// FromHTML parses a document. Declarative shadow roots
// (<template shadowrootmode="open">) become open shadow roots of their
// parent, closed ones are dropped, and <iframe srcdoc> documents are treated
// as same-origin frames. Iframes loaded from src are left empty, the way a
// cross-origin frame looks to the page. Every element gets a synthetic
// backend id so callers can address it the way they would a live node.
func FromHTML(src string) (*Tree, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	t := NewTree(root)

	docs := []*html.Node{root}
	for len(docs) > 0 {
		doc := docs[0]
		docs = docs[1:]

		var templates, frames []*html.Node
		for _, n := range ElementsUnder(doc) {
			switch {
			case IsTag(n, "template"):
				if _, ok := Attr(n, "shadowrootmode"); ok {
					templates = append(templates, n)
				}
			case IsTag(n, "iframe"):
				if _, ok := Attr(n, "srcdoc"); ok {
					frames = append(frames, n)
				}
			}
		}

		for _, tpl := range templates {
			host := tpl.Parent
			mode, _ := Attr(tpl, "shadowrootmode")
			host.RemoveChild(tpl)
			if !strings.EqualFold(mode, "open") || host.Type != html.ElementNode {
				continue
			}
			if t.ShadowRoot(host) != nil {
				continue
			}
			sr := &html.Node{Type: html.DocumentNode}
			for c := tpl.FirstChild; c != nil; {
				next := c.NextSibling
				tpl.RemoveChild(c)
				sr.AppendChild(c)
				c = next
			}
			t.AttachShadow(host, sr)
		}

		for _, frame := range frames {
			body, _ := Attr(frame, "srcdoc")
			sub, err := html.Parse(strings.NewReader(body))
			if err != nil {
				return nil, fmt.Errorf("parse iframe srcdoc: %w", err)
			}
			t.AttachFrame(frame, sub)
			docs = append(docs, sub)
		}
	}

	var next int64 = 1
	for _, sc := range t.Scopes(1 << 30) {
		for _, n := range ElementsUnder(sc.Root) {
			t.SetBackendID(n, next)
			next++
		}
	}
	return t, nil
}

// OuterHTML serialises n.
func OuterHTML(n *html.Node) (string, error) {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return "", err
	}
	return b.String(), nil
}
