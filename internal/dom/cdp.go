package dom

import (
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FromCDP converts a DOM.getDocument(depth:-1, pierce:true) result into a
// Tree. Open shadow roots and frame content documents are attached as
// scopes; closed and user-agent shadow roots, template content and pseudo
// elements are skipped. A frame whose document origin differs from the
// enclosing document's is left empty even when Chrome returns its content
// (same-site or same-process frames); about:blank and srcdoc frames inherit
// the parent origin.
func FromCDP(root *cdp.Node) *Tree {
	doc := &html.Node{Type: html.DocumentNode}
	t := NewTree(doc)
	if root == nil {
		return t
	}
	t.URL = root.DocumentURL

	type item struct {
		src    *cdp.Node
		parent *html.Node
		origin string
	}
	var stack []item
	push := func(parent *html.Node, origin string, children []*cdp.Node) {
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, item{src: children[i], parent: parent, origin: origin})
		}
	}
	push(doc, documentOrigin(root.DocumentURL, ""), root.Children)

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		src := it.src

		switch src.NodeType {
		case cdp.NodeTypeElement:
			n := convertElement(src)
			it.parent.AppendChild(n)
			t.SetBackendID(n, int64(src.BackendNodeID))

			if cd := src.ContentDocument; cd != nil {
				origin := documentOrigin(cd.DocumentURL, it.origin)
				if it.origin == "" || origin == it.origin {
					fdoc := &html.Node{Type: html.DocumentNode}
					t.AttachFrame(n, fdoc)
					push(fdoc, origin, cd.Children)
				}
			}
			for _, sr := range src.ShadowRoots {
				if sr.ShadowRootType != cdp.ShadowRootTypeOpen || t.ShadowRoot(n) != nil {
					continue
				}
				sdoc := &html.Node{Type: html.DocumentNode}
				t.AttachShadow(n, sdoc)
				push(sdoc, it.origin, sr.Children)
			}
			push(n, it.origin, src.Children)
		case cdp.NodeTypeText:
			it.parent.AppendChild(&html.Node{Type: html.TextNode, Data: src.NodeValue})
		case cdp.NodeTypeComment:
			it.parent.AppendChild(&html.Node{Type: html.CommentNode, Data: src.NodeValue})
		case cdp.NodeTypeDocumentType:
			it.parent.AppendChild(&html.Node{Type: html.DoctypeNode, Data: strings.ToLower(src.NodeName)})
		}
	}
	return t
}

// documentOrigin returns scheme://host[:port] of rawURL. Empty, about: and
// unparsable URLs inherit parent. Opaque origins (data:, blob: without a
// host) get a value that matches nothing.
func documentOrigin(rawURL, parent string) string {
	if rawURL == "" || strings.HasPrefix(rawURL, "about:") {
		return parent
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return parent
	}
	if u.Scheme == "blob" {
		if inner, err := url.Parse(u.Opaque); err == nil && inner.Host != "" {
			u = inner
		}
	}
	if u.Host == "" {
		return "opaque:" + rawURL
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func convertElement(src *cdp.Node) *html.Node {
	name := src.LocalName
	if name == "" {
		name = src.NodeName
	}
	if !src.IsSVG {
		name = strings.ToLower(name)
	}
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     name,
		DataAtom: atom.Lookup([]byte(name)),
	}
	for i := 0; i+1 < len(src.Attributes); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: src.Attributes[i], Val: src.Attributes[i+1]})
	}
	return n
}
