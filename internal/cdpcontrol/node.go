package cdpcontrol

import "github.com/chromedp/cdproto/cdp"

// wireNode is the subset of a DOM.Node the snapshot needs, decoded with
// encoding/json and converted to a cdproto node afterwards.
type wireNode struct {
	NodeType        int64       `json:"nodeType"`
	NodeName        string      `json:"nodeName"`
	LocalName       string      `json:"localName"`
	NodeValue       string      `json:"nodeValue"`
	BackendNodeID   int64       `json:"backendNodeId"`
	Attributes      []string    `json:"attributes"`
	Children        []*wireNode `json:"children"`
	ShadowRoots     []*wireNode `json:"shadowRoots"`
	ShadowRootType  string      `json:"shadowRootType"`
	ContentDocument *wireNode   `json:"contentDocument"`
	DocumentURL     string      `json:"documentURL"`
	IsSVG           bool        `json:"isSVG"`
}

func (w *wireNode) node() *cdp.Node {
	if w == nil {
		return nil
	}
	n := &cdp.Node{
		NodeType:       cdp.NodeType(w.NodeType),
		NodeName:       w.NodeName,
		LocalName:      w.LocalName,
		NodeValue:      w.NodeValue,
		BackendNodeID:  cdp.BackendNodeID(w.BackendNodeID),
		Attributes:     w.Attributes,
		ShadowRootType: cdp.ShadowRootType(w.ShadowRootType),
		DocumentURL:    w.DocumentURL,
		IsSVG:          w.IsSVG,
	}
	for _, c := range w.Children {
		n.Children = append(n.Children, c.node())
	}
	for _, s := range w.ShadowRoots {
		n.ShadowRoots = append(n.ShadowRoots, s.node())
	}
	n.ContentDocument = w.ContentDocument.node()
	return n
}
