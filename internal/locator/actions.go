package locator

import (
	"context"
	"strconv"
	"strings"

	"github.com/dgnsrekt/tablease/internal/dom"
	"github.com/dgnsrekt/tablease/internal/types"
)

// ClickResult reports a click.
type ClickResult struct {
	SelectorUsed string `json:"selectorUsed"`
	Tag          string `json:"tag"`
	Text         string `json:"text,omitempty"`
}

// Click scrolls the element into view and clicks it.
func (e *Engine) Click(ctx context.Context, tgt Target) (*ClickResult, error) {
	r, err := e.resolve(ctx, tgt)
	if err != nil {
		return nil, err
	}
	if err := e.page.ScrollIntoView(ctx, r.el); err != nil {
		return nil, err
	}
	if err := e.page.Click(ctx, r.el); err != nil {
		return nil, err
	}
	return &ClickResult{
		SelectorUsed: r.used.Raw,
		Tag:          r.el.Tag(),
		Text:         truncate(dom.Collapse(dom.Text(r.el.Node)), 80),
	}, nil
}

// TypeResult reports text entry.
type TypeResult struct {
	SelectorUsed string `json:"selectorUsed"`
	Tag          string `json:"tag"`
	Mode         string `json:"mode"`
	Length       int    `json:"length"`
}

// Type enters text into a text control or contenteditable region.
func (e *Engine) Type(ctx context.Context, tgt Target, text string, clear bool) (*TypeResult, error) {
	r, err := e.resolve(ctx, tgt)
	if err != nil {
		return nil, err
	}
	kind, reason := dom.Editability(r.el.Node)
	if kind == dom.EditNone {
		return nil, unsupported(r.el, r.used, "cannot type: "+reason)
	}
	if err := e.page.ScrollIntoView(ctx, r.el); err != nil {
		return nil, err
	}
	if err := e.page.Type(ctx, r.el, kind, text, clear); err != nil {
		return nil, err
	}
	return &TypeResult{
		SelectorUsed: r.used.Raw,
		Tag:          r.el.Tag(),
		Mode:         kind.String(),
		Length:       len([]rune(text)),
	}, nil
}

// SelectSpec names the option to choose. Value is tried as an option value,
// then as option label text, then as an ordinal. Index, when set, is used
// only if Value is empty.
type SelectSpec struct {
	Value string
	Index *int
}

// SelectResult reports the chosen option.
type SelectResult struct {
	SelectorUsed string `json:"selectorUsed"`
	Value        string `json:"value"`
	Label        string `json:"label"`
	Index        int    `json:"index"`
	MatchedBy    string `json:"matchedBy"`
}

type option struct {
	value string
	label string
}

// Select chooses an option of a native <select>.
func (e *Engine) Select(ctx context.Context, tgt Target, spec SelectSpec) (*SelectResult, error) {
	if spec.Value == "" && spec.Index == nil {
		return nil, types.NewError(types.CodeValidation, "select needs a value or index", nil)
	}
	r, err := e.resolve(ctx, tgt)
	if err != nil {
		return nil, err
	}
	if !dom.IsTag(r.el.Node, "select") {
		return nil, unsupported(r.el, r.used, "select only works on a native <select> element")
	}
	if _, disabled := dom.Attr(r.el.Node, "disabled"); disabled {
		return nil, unsupported(r.el, r.used, "element is disabled")
	}
	opts := options(r.el)
	idx, by := chooseOption(opts, spec)
	if idx < 0 {
		want := spec.Value
		if want == "" {
			want = strconv.Itoa(*spec.Index)
		}
		return nil, types.Errorf(types.CodeNotFound, "no option matching %q in <select> matched by %q (%d options)", want, r.used.Raw, len(opts))
	}
	if err := e.page.SelectOption(ctx, r.el, idx); err != nil {
		return nil, err
	}
	return &SelectResult{
		SelectorUsed: r.used.Raw,
		Value:        opts[idx].value,
		Label:        opts[idx].label,
		Index:        idx,
		MatchedBy:    by,
	}, nil
}

func options(sel *dom.Element) []option {
	var out []option
	for _, n := range dom.ElementsUnder(sel.Node) {
		if !dom.IsTag(n, "option") {
			continue
		}
		label := dom.Collapse(dom.Text(n))
		if l, ok := dom.Attr(n, "label"); ok && l != "" {
			label = dom.Collapse(l)
		}
		value, ok := dom.Attr(n, "value")
		if !ok {
			value = label
		}
		out = append(out, option{value: value, label: label})
	}
	return out
}

func chooseOption(opts []option, spec SelectSpec) (int, string) {
	if spec.Value != "" {
		for i, o := range opts {
			if o.value == spec.Value {
				return i, "value"
			}
		}
		want := dom.Normalize(spec.Value)
		for i, o := range opts {
			if dom.Normalize(o.label) == want {
				return i, "label"
			}
		}
		if i, err := strconv.Atoi(strings.TrimSpace(spec.Value)); err == nil && i >= 0 && i < len(opts) {
			return i, "index"
		}
		return -1, ""
	}
	if i := *spec.Index; i >= 0 && i < len(opts) {
		return i, "index"
	}
	return -1, ""
}

// ScrollResult reports a scroll.
type ScrollResult struct {
	SelectorUsed string `json:"selectorUsed"`
	DX           int    `json:"dx,omitempty"`
	DY           int    `json:"dy,omitempty"`
}

// ScrollTo scrolls the target element into view.
func (e *Engine) ScrollTo(ctx context.Context, tgt Target) (*ScrollResult, error) {
	r, err := e.resolve(ctx, tgt)
	if err != nil {
		return nil, err
	}
	if err := e.page.ScrollIntoView(ctx, r.el); err != nil {
		return nil, err
	}
	return &ScrollResult{SelectorUsed: r.used.Raw}, nil
}

// ScrollBy scrolls the viewport.
func (e *Engine) ScrollBy(ctx context.Context, dx, dy int) (*ScrollResult, error) {
	if err := e.page.ScrollBy(ctx, dx, dy); err != nil {
		return nil, err
	}
	return &ScrollResult{DX: dx, DY: dy}, nil
}

// UploadResult reports a file upload.
type UploadResult struct {
	SelectorUsed string `json:"selectorUsed"`
	Files        int    `json:"files"`
}

// Upload sets the files of an <input type=file>.
func (e *Engine) Upload(ctx context.Context, tgt Target, files []string) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, types.NewError(types.CodeValidation, "upload needs at least one file", nil)
	}
	r, err := e.resolve(ctx, tgt)
	if err != nil {
		return nil, err
	}
	typ, _ := dom.Attr(r.el.Node, "type")
	if !dom.IsTag(r.el.Node, "input") || !strings.EqualFold(typ, "file") {
		return nil, unsupported(r.el, r.used, "upload only works on <input type=file>")
	}
	if _, multiple := dom.Attr(r.el.Node, "multiple"); !multiple && len(files) > 1 {
		return nil, unsupported(r.el, r.used, "input does not accept multiple files")
	}
	if err := e.page.SetInputFiles(ctx, r.el, files); err != nil {
		return nil, err
	}
	return &UploadResult{SelectorUsed: r.used.Raw, Files: len(files)}, nil
}

// WaitResult reports a wait that found its element.
type WaitResult struct {
	SelectorUsed string `json:"selectorUsed"`
	Tag          string `json:"tag"`
	Count        int    `json:"count"`
}

// Wait blocks until the target matches or the timeout passes.
func (e *Engine) Wait(ctx context.Context, tgt Target) (*WaitResult, error) {
	r, err := e.resolve(ctx, tgt)
	if err != nil {
		return nil, err
	}
	return &WaitResult{SelectorUsed: r.used.Raw, Tag: r.el.Tag(), Count: len(r.matches)}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
