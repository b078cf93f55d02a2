// Package dom holds a page snapshot as x/net/html nodes plus the links the
// HTML tree cannot express on its own: open shadow roots, same-origin iframe
// documents and the backend node ids used to address elements in a live
// browser.
package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// ScopeKind says how a scope was reached from the top document.
type ScopeKind int

const (
	ScopeDocument ScopeKind = iota
	ScopeShadow
	ScopeFrame
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeShadow:
		return "shadow"
	case ScopeFrame:
		return "frame"
	default:
		return "document"
	}
}

// Scope is one searchable root: the top document, an open shadow root or a
// same-origin iframe document.
type Scope struct {
	Root  *html.Node
	Kind  ScopeKind
	Host  *html.Node
	Depth int
}

// Element is a resolved element together with the scope it was found in.
type Element struct {
	Node      *html.Node
	Scope     Scope
	BackendID int64
}

// Tag returns the lower-case tag name.
func (e *Element) Tag() string { return e.Node.Data }

// Tree is a page snapshot.
type Tree struct {
	Root *html.Node
	URL  string

	shadow  map[*html.Node]*html.Node
	frames  map[*html.Node]*html.Node
	hostOf  map[*html.Node]*html.Node
	backend map[*html.Node]int64
	byID    map[int64]*html.Node
}

// NewTree wraps a document node.
func NewTree(root *html.Node) *Tree {
	return &Tree{
		Root:    root,
		shadow:  make(map[*html.Node]*html.Node),
		frames:  make(map[*html.Node]*html.Node),
		hostOf:  make(map[*html.Node]*html.Node),
		backend: make(map[*html.Node]int64),
		byID:    make(map[int64]*html.Node),
	}
}

// AttachShadow records root as the open shadow root of host.
func (t *Tree) AttachShadow(host, root *html.Node) {
	t.shadow[host] = root
	t.hostOf[root] = host
}

// AttachFrame records doc as the document of a same-origin iframe element.
func (t *Tree) AttachFrame(iframe, doc *html.Node) {
	t.frames[iframe] = doc
	t.hostOf[doc] = iframe
}

// ShadowRoot returns the open shadow root of host, if any.
func (t *Tree) ShadowRoot(host *html.Node) *html.Node { return t.shadow[host] }

// FrameDocument returns the document of a same-origin iframe, if any.
func (t *Tree) FrameDocument(iframe *html.Node) *html.Node { return t.frames[iframe] }

// SetBackendID associates a browser backend node id with n.
func (t *Tree) SetBackendID(n *html.Node, id int64) {
	t.backend[n] = id
	t.byID[id] = n
}

// BackendID returns the backend node id of n, or 0.
func (t *Tree) BackendID(n *html.Node) int64 { return t.backend[n] }

// NodeByBackendID looks a node up by backend id.
func (t *Tree) NodeByBackendID(id int64) *html.Node { return t.byID[id] }

// Scopes returns the top document followed by every open shadow root and
// same-origin frame document reachable from it, breadth first, at most
// maxDepth levels below the document. The walk uses an explicit queue so a
// hostile page cannot drive recursion depth.
func (t *Tree) Scopes(maxDepth int) []Scope {
	queue := []Scope{{Root: t.Root, Kind: ScopeDocument}}
	var out []Scope
	for len(queue) > 0 {
		sc := queue[0]
		queue = queue[1:]
		out = append(out, sc)
		if sc.Depth >= maxDepth {
			continue
		}
		for _, n := range ElementsUnder(sc.Root) {
			if root := t.shadow[n]; root != nil {
				queue = append(queue, Scope{Root: root, Kind: ScopeShadow, Host: n, Depth: sc.Depth + 1})
			}
			if doc := t.frames[n]; doc != nil {
				queue = append(queue, Scope{Root: doc, Kind: ScopeFrame, Host: n, Depth: sc.Depth + 1})
			}
		}
	}
	return out
}

// Wrap builds an Element for n found in sc.
func (t *Tree) Wrap(n *html.Node, sc Scope) *Element {
	return &Element{Node: n, Scope: sc, BackendID: t.backend[n]}
}

// ParentAcross returns n's parent, stepping from a shadow root or frame
// document to its host element.
func (t *Tree) ParentAcross(n *html.Node) *html.Node {
	if n.Parent != nil {
		return n.Parent
	}
	return t.hostOf[n]
}

// ElementsUnder returns every element below root in document order, without
// entering shadow roots or frames.
func ElementsUnder(root *html.Node) []*html.Node {
	var out []*html.Node
	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n != root && n.Type == html.ElementNode {
			out = append(out, n)
		}
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return out
}

// ElementByID finds the element with the given id attribute under root.
func ElementByID(root *html.Node, id string) *html.Node {
	if id == "" {
		return nil
	}
	for _, n := range ElementsUnder(root) {
		if v, ok := Attr(n, "id"); ok && v == id {
			return n
		}
	}
	return nil
}

// Attr returns the value of an attribute.
func Attr(n *html.Node, name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

// RemoveAttr deletes an attribute if present.
func RemoveAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// IsTag reports whether n is an element with one of the given tag names.
func IsTag(n *html.Node, tags ...string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, tag := range tags {
		if n.Data == tag {
			return true
		}
	}
	return false
}
