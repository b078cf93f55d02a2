package dom

import (
	"strings"

	"golang.org/x/net/html"
)

var skipText = map[string]bool{
	"head": true, "script": true, "style": true, "template": true,
	"noscript": true, "title": true, "meta": true, "link": true,
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"br": true, "dd": true, "details": true, "dialog": true, "div": true,
	"dl": true, "dt": true, "fieldset": true, "figcaption": true,
	"figure": true, "footer": true, "form": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "header": true,
	"hr": true, "li": true, "main": true, "nav": true, "ol": true,
	"p": true, "pre": true, "section": true, "summary": true,
	"table": true, "tr": true, "ul": true, "option": true,
}

// Normalize lower-cases s and collapses runs of whitespace to one space.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Collapse collapses whitespace without changing case.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Text returns the light-DOM text of n with block boundaries as newlines.
// Script, style and template content is skipped.
func Text(n *html.Node) string {
	var b strings.Builder
	type item struct {
		n     *html.Node
		close bool
	}
	stack := []item{{n: n}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.close {
			b.WriteByte('\n')
			continue
		}
		switch it.n.Type {
		case html.TextNode:
			b.WriteString(it.n.Data)
			continue
		case html.ElementNode:
			if skipText[it.n.Data] {
				continue
			}
			if blockTags[it.n.Data] {
				b.WriteByte('\n')
				stack = append(stack, item{n: it.n, close: true})
			}
		case html.CommentNode, html.DoctypeNode:
			continue
		}
		for c := it.n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, item{n: c})
		}
	}
	return tidyLines(b.String())
}

// RenderText returns the visible text of the whole tree: hidden subtrees
// are pruned, open shadow roots are rendered in place of their host's
// children and same-origin frame documents in place of the iframe, down to
// maxDepth nested scopes.
func (t *Tree) RenderText(maxDepth int) string {
	var b strings.Builder
	type item struct {
		n     *html.Node
		depth int
		close bool
	}
	stack := []item{{n: t.Root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.close {
			b.WriteByte('\n')
			continue
		}
		n := it.n
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			continue
		case html.CommentNode, html.DoctypeNode:
			continue
		case html.ElementNode:
			if skipText[n.Data] || !selfVisible(n) {
				continue
			}
			if blockTags[n.Data] {
				b.WriteByte('\n')
				stack = append(stack, item{n: n, close: true})
			}
			if it.depth < maxDepth {
				if doc := t.frames[n]; doc != nil {
					stack = append(stack, item{n: doc, depth: it.depth + 1})
					continue
				}
			}
		}
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, item{n: c, depth: it.depth})
		}
		if sr := t.shadow[n]; sr != nil && it.depth < maxDepth {
			stack = append(stack, item{n: sr, depth: it.depth + 1})
		}
	}
	return tidyLines(b.String())
}

func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = Collapse(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
