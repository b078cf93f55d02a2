package locator

import (
	"context"
	"regexp"
	"strings"

	"github.com/dgnsrekt/tablease/internal/dom"
	"github.com/dgnsrekt/tablease/internal/types"
)

// Query modes.
const (
	ModeText      = "text"
	ModeValue     = "value"
	ModeAttribute = "attribute"
	ModeProperty  = "property"
	ModeHTML      = "html"
	ModeList      = "list"
	ModeExists    = "exists"
	ModePageText  = "page_text"
)

const (
	ListLimit          = 200
	ListTextLimit      = 200
	DefaultPageChars   = 50000
	MaxPatternMatches  = 50
	maxFormFields      = 200
	formSectionHeader  = "[form values]"
	pseudoSectionTitle = "[generated content]"
)

// QuerySpec selects what a query reads.
type QuerySpec struct {
	Mode     string
	Name     string
	MaxChars int
	Pattern  string
}

// ListItem is one entry of a list query.
type ListItem struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Text  string `json:"text"`
	Label string `json:"label,omitempty"`
}

// QueryResult is the union of every query mode's output.
type QueryResult struct {
	SelectorUsed string     `json:"selectorUsed"`
	Mode         string     `json:"mode"`
	Value        any        `json:"value,omitempty"`
	Exists       *bool      `json:"exists,omitempty"`
	Count        int        `json:"count"`
	Items        []ListItem `json:"items,omitempty"`
	Text         string     `json:"text,omitempty"`
	Truncated    bool       `json:"truncated,omitempty"`
	Matches      []string   `json:"matches,omitempty"`
}

// Query reads from the page. page_text needs no target; every other mode
// resolves tgt first.
func (e *Engine) Query(ctx context.Context, tgt Target, spec QuerySpec) (*QueryResult, error) {
	mode := spec.Mode
	if mode == "" {
		mode = ModeText
	}
	switch mode {
	case ModePageText:
		return e.pageText(ctx, spec)
	case ModeExists:
		return e.exists(ctx, tgt)
	case ModeList:
		return e.list(ctx, tgt)
	case ModeAttribute, ModeProperty:
		if spec.Name == "" {
			return nil, types.Errorf(types.CodeValidation, "query mode %s needs a name", mode)
		}
	case ModeText, ModeValue, ModeHTML:
	default:
		return nil, types.Errorf(types.CodeValidation, "unknown query mode %q", mode)
	}

	r, err := e.resolve(ctx, tgt)
	if err != nil {
		return nil, err
	}
	res := &QueryResult{SelectorUsed: r.used.Raw, Mode: mode, Count: len(r.matches)}
	switch mode {
	case ModeText:
		res.Value = dom.Text(r.el.Node)
	case ModeValue:
		v, err := e.page.Value(ctx, r.el)
		if err != nil {
			return nil, err
		}
		res.Value = v
	case ModeAttribute:
		if v, ok := dom.Attr(r.el.Node, spec.Name); ok {
			res.Value = v
		}
	case ModeProperty:
		v, err := e.page.Property(ctx, r.el, spec.Name)
		if err != nil {
			return nil, err
		}
		res.Value = v
	case ModeHTML:
		s, err := dom.OuterHTML(r.el.Node)
		if err != nil {
			return nil, types.NewError(types.CodeToolFailure, "serialise element", err)
		}
		res.Value = s
	}
	return res, nil
}

// exists never fails on a miss: a timeout yields exists=false, count=0.
func (e *Engine) exists(ctx context.Context, tgt Target) (*QueryResult, error) {
	r, err := e.resolve(ctx, tgt)
	if types.IsCode(err, types.CodeNotFound) {
		no := false
		return &QueryResult{Mode: ModeExists, Exists: &no}, nil
	}
	if err != nil {
		return nil, err
	}
	yes := true
	return &QueryResult{SelectorUsed: r.used.Raw, Mode: ModeExists, Exists: &yes, Count: len(r.matches)}, nil
}

func (e *Engine) list(ctx context.Context, tgt Target) (*QueryResult, error) {
	tgt.Index = 0
	r, err := e.resolve(ctx, tgt)
	if err != nil {
		return nil, err
	}
	res := &QueryResult{SelectorUsed: r.used.Raw, Mode: ModeList, Count: len(r.matches)}
	for i, m := range r.matches {
		if i == ListLimit {
			res.Truncated = true
			break
		}
		res.Items = append(res.Items, ListItem{
			Index: i,
			Tag:   m.Tag(),
			Text:  truncate(dom.Collapse(dom.Text(m.Node)), ListTextLimit),
			Label: truncate(dom.AccessibleName(m.Scope.Root, m.Node), ListTextLimit),
		})
	}
	return res, nil
}

func (e *Engine) pageText(ctx context.Context, spec QuerySpec) (*QueryResult, error) {
	var re *regexp.Regexp
	if spec.Pattern != "" {
		var err error
		if re, err = regexp.Compile(spec.Pattern); err != nil {
			return nil, types.NewError(types.CodeValidation, "invalid pattern", err)
		}
	}
	maxChars := spec.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultPageChars
	}

	tree, err := e.page.Document(ctx)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString(tree.RenderText(e.maxDepth))

	fields, err := e.formValues(ctx, tree)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		b.WriteString("\n\n" + formSectionHeader + "\n")
		b.WriteString(strings.Join(fields, "\n"))
	}

	pseudo, err := e.page.PseudoContent(ctx)
	if err != nil {
		return nil, err
	}
	if len(pseudo) > 0 {
		b.WriteString("\n\n" + pseudoSectionTitle + "\n")
		b.WriteString(strings.Join(pseudo, "\n"))
	}

	full := b.String()
	res := &QueryResult{Mode: ModePageText}
	if re != nil {
		res.Matches = re.FindAllString(full, MaxPatternMatches)
		res.Count = len(res.Matches)
		return res, nil
	}
	res.Text = truncate(full, maxChars)
	res.Truncated = len([]rune(full)) > maxChars
	res.Count = len([]rune(res.Text))
	return res, nil
}

// formValues lists the current value of every visible, non-secret form
// control as "label: value".
func (e *Engine) formValues(ctx context.Context, tree *dom.Tree) ([]string, error) {
	var out []string
	for _, sc := range tree.Scopes(e.maxDepth) {
		for _, n := range dom.ElementsUnder(sc.Root) {
			if len(out) == maxFormFields {
				return out, nil
			}
			if !dom.IsTag(n, "input", "textarea", "select") || !tree.StaticVisible(n) {
				continue
			}
			typ, _ := dom.Attr(n, "type")
			switch strings.ToLower(typ) {
			case "password", "hidden", "submit", "button", "reset", "image", "file":
				continue
			}
			v, err := e.page.Value(ctx, tree.Wrap(n, sc))
			if err != nil {
				return nil, err
			}
			if v == "" {
				continue
			}
			label := dom.AccessibleName(sc.Root, n)
			if label == "" {
				label, _ = dom.Attr(n, "name")
			}
			if label == "" {
				label = n.Data
			}
			out = append(out, label+": "+v)
		}
	}
	return out, nil
}
