package locator

import (
	"context"
	"strings"
	"testing"

	"github.com/dgnsrekt/tablease/internal/dom"
	"github.com/dgnsrekt/tablease/internal/types"
)

func TestClickScrollsThenClicks(t *testing.T) {
	page := newMemPage(t, fixture)
	eng := New(page)

	res, err := eng.Click(context.Background(), target(t, "role:button:Save draft"))
	if err != nil {
		t.Fatalf("Click() error = %v", err)
	}
	if res.SelectorUsed != "role:button:Save draft" || res.Tag != "button" || res.Text != "Save draft" {
		t.Fatalf("Click() = %+v; want draft button", res)
	}
	if len(page.clicked) != 1 || idOf(page.clicked[0]) != "draft" {
		t.Fatalf("clicked = %v; want [#draft]", page.clicked)
	}
	if len(page.scrolled) != 1 || page.scrolled[0] != page.clicked[0] {
		t.Fatalf("element was not scrolled into view before the click")
	}
}

func TestClickNotFoundNamesLocators(t *testing.T) {
	page := newMemPage(t, fixture)
	_, err := New(page).Click(context.Background(), target(t, "label:Nope, #nope"))
	if !types.IsCode(err, types.CodeNotFound) {
		t.Fatalf("Click() error = %v; want NOT_FOUND", err)
	}
	for _, want := range []string{`"label:Nope"`, `"#nope"`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Click() error = %q; want it to name %s", err, want)
		}
	}
}

func TestType(t *testing.T) {
	page := newMemPage(t, `<body>
		<input id="name" value="Ada">
		<div id="editor" contenteditable="true"><p>old</p></div>
	</body>`)
	eng := New(page)
	ctx := context.Background()

	res, err := eng.Type(ctx, target(t, "#name"), " Lovelace", false)
	if err != nil {
		t.Fatalf("Type(append) error = %v", err)
	}
	if res.Mode != "value" || res.Length != 9 {
		t.Fatalf("Type(append) = %+v; want mode value, length 9", res)
	}
	el, _, _ := eng.Resolve(ctx, target(t, "#name"))
	if v, _ := dom.Attr(el.Node, "value"); v != "Ada Lovelace" {
		t.Fatalf("value = %q; want %q", v, "Ada Lovelace")
	}

	if _, err := eng.Type(ctx, target(t, "#name"), "Grace", true); err != nil {
		t.Fatalf("Type(clear) error = %v", err)
	}
	if v, _ := dom.Attr(el.Node, "value"); v != "Grace" {
		t.Fatalf("value after clear = %q; want Grace", v)
	}

	res, err = eng.Type(ctx, target(t, "#editor"), "new text", true)
	if err != nil {
		t.Fatalf("Type(contenteditable) error = %v", err)
	}
	if res.Mode != "contenteditable" {
		t.Fatalf("Type(contenteditable).Mode = %q; want contenteditable", res.Mode)
	}
	ed, _, _ := eng.Resolve(ctx, target(t, "#editor"))
	if got := dom.Text(ed.Node); got != "new text" {
		t.Fatalf("editor text = %q; want %q", got, "new text")
	}
}

func TestTypeRejectsUnsupportedElements(t *testing.T) {
	page := newMemPage(t, `<body>
		<div id="plain">static</div>
		<input id="off" disabled>
		<textarea id="ro" readonly></textarea>
		<input id="box" type="checkbox">
	</body>`)
	eng := New(page)

	tests := []struct {
		sel  string
		want string
	}{
		{"#plain", "not editable"},
		{"#off", "disabled"},
		{"#ro", "read-only"},
		{"#box", "checkbox"},
	}
	for _, tt := range tests {
		_, err := eng.Type(context.Background(), target(t, tt.sel), "x", false)
		if !types.IsCode(err, types.CodeUnsupportedElement) {
			t.Fatalf("Type(%s) error = %v; want UNSUPPORTED_ELEMENT", tt.sel, err)
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("Type(%s) error = %q; want it to mention %q", tt.sel, err, tt.want)
		}
	}
}

func TestSelectOptionPriority(t *testing.T) {
	const src = `<body><select id="s">
		<option value="2">One</option>
		<option value="One">Two</option>
		<option value="x">Three</option>
	</select><div id="d">x</div></body>`

	tests := []struct {
		value     string
		wantIndex int
		wantBy    string
	}{
		{"One", 1, "value"},
		{"three", 2, "label"},
		{"0", 0, "index"},
		{"2", 0, "value"},
	}
	for _, tt := range tests {
		page := newMemPage(t, src)
		res, err := New(page).Select(context.Background(), target(t, "#s"), SelectSpec{Value: tt.value})
		if err != nil {
			t.Fatalf("Select(%q) error = %v", tt.value, err)
		}
		if res.Index != tt.wantIndex || res.MatchedBy != tt.wantBy {
			t.Fatalf("Select(%q) = index %d by %s; want index %d by %s", tt.value, res.Index, res.MatchedBy, tt.wantIndex, tt.wantBy)
		}
		el, _, _ := New(page).Resolve(context.Background(), target(t, "#s"))
		if v, _ := page.Value(context.Background(), el); v != res.Value {
			t.Fatalf("selected value = %q; want %q", v, res.Value)
		}
	}

	page := newMemPage(t, src)
	eng := New(page)
	if _, err := eng.Select(context.Background(), target(t, "#s"), SelectSpec{Value: "nope"}); !types.IsCode(err, types.CodeNotFound) {
		t.Fatalf("Select(nope) error = %v; want NOT_FOUND", err)
	}
	if _, err := eng.Select(context.Background(), target(t, "#d"), SelectSpec{Value: "x"}); !types.IsCode(err, types.CodeUnsupportedElement) {
		t.Fatalf("Select(div) error = %v; want UNSUPPORTED_ELEMENT", err)
	}
	idx := 2
	res, err := eng.Select(context.Background(), target(t, "#s"), SelectSpec{Index: &idx})
	if err != nil || res.Label != "Three" {
		t.Fatalf("Select(index 2) = %+v, %v; want Three", res, err)
	}
}

func TestScroll(t *testing.T) {
	page := newMemPage(t, fixture)
	eng := New(page)

	res, err := eng.ScrollBy(context.Background(), 0, 400)
	if err != nil {
		t.Fatalf("ScrollBy() error = %v", err)
	}
	if res.SelectorUsed != "" || page.scrollDY != 400 {
		t.Fatalf("ScrollBy() = %+v, dy %d; want dy 400", res, page.scrollDY)
	}

	res, err = eng.ScrollTo(context.Background(), target(t, "#docs"))
	if err != nil {
		t.Fatalf("ScrollTo() error = %v", err)
	}
	if res.SelectorUsed != "#docs" || len(page.scrolled) != 1 {
		t.Fatalf("ScrollTo() = %+v; want #docs scrolled", res)
	}
}

func TestUpload(t *testing.T) {
	page := newMemPage(t, `<body><input id="one" type="file"><input id="many" type="file" multiple><input id="txt"></body>`)
	eng := New(page)
	ctx := context.Background()

	res, err := eng.Upload(ctx, target(t, "#many"), []string{"/tmp/a.txt", "/tmp/b.txt"})
	if err != nil {
		t.Fatalf("Upload(multiple) error = %v", err)
	}
	if res.Files != 2 || res.SelectorUsed != "#many" {
		t.Fatalf("Upload(multiple) = %+v; want 2 files via #many", res)
	}
	if _, err := eng.Upload(ctx, target(t, "#one"), []string{"a", "b"}); !types.IsCode(err, types.CodeUnsupportedElement) {
		t.Fatalf("Upload(two files to single) error = %v; want UNSUPPORTED_ELEMENT", err)
	}
	if _, err := eng.Upload(ctx, target(t, "#txt"), []string{"a"}); !types.IsCode(err, types.CodeUnsupportedElement) {
		t.Fatalf("Upload(text input) error = %v; want UNSUPPORTED_ELEMENT", err)
	}
	if _, err := eng.Upload(ctx, target(t, "#one"), nil); !types.IsCode(err, types.CodeValidation) {
		t.Fatalf("Upload(no files) error = %v; want VALIDATION", err)
	}
}
