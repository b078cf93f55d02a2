package exthost

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/tablease/internal/cdpcontrol"
	"github.com/dgnsrekt/tablease/internal/dom"
	"github.com/dgnsrekt/tablease/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticPage serves a fixed tree and records what was done to it.
type staticPage struct {
	tree *dom.Tree

	mu        sync.Mutex
	clicked   []int64
	selected  []int
	scrolls   [][2]int
	files     []string
	downloads []string
}

func newStaticPage(t *testing.T, src string) *staticPage {
	t.Helper()
	tree, err := dom.FromHTML(src)
	if err != nil {
		t.Fatalf("dom.FromHTML() error = %v", err)
	}
	return &staticPage{tree: tree}
}

func (p *staticPage) Document(context.Context) (*dom.Tree, error) { return p.tree, nil }

func (p *staticPage) Visible(_ context.Context, el *dom.Element) (bool, error) {
	return p.tree.StaticVisible(el.Node), nil
}

func (p *staticPage) Value(_ context.Context, el *dom.Element) (string, error) {
	v, _ := dom.Attr(el.Node, "value")
	return v, nil
}

func (p *staticPage) Property(_ context.Context, el *dom.Element, name string) (any, error) {
	v, ok := dom.Attr(el.Node, name)
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (p *staticPage) PseudoContent(context.Context) ([]string, error) { return nil, nil }

func (p *staticPage) Click(_ context.Context, el *dom.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicked = append(p.clicked, el.BackendID)
	return nil
}

func (p *staticPage) Type(_ context.Context, el *dom.Element, _ dom.EditKind, text string, clear bool) error {
	cur, _ := dom.Attr(el.Node, "value")
	if clear {
		cur = ""
	}
	dom.SetAttr(el.Node, "value", cur+text)
	return nil
}

func (p *staticPage) SelectOption(_ context.Context, _ *dom.Element, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected = append(p.selected, index)
	return nil
}

func (p *staticPage) ScrollIntoView(context.Context, *dom.Element) error { return nil }

func (p *staticPage) ScrollBy(_ context.Context, dx, dy int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls = append(p.scrolls, [2]int{dx, dy})
	return nil
}

func (p *staticPage) SetInputFiles(_ context.Context, _ *dom.Element, files []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = append(p.files, files...)
	return nil
}

func (p *staticPage) StartDownload(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads = append(p.downloads, url)
	return nil
}

func (p *staticPage) clicks() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.clicked...)
}

// fakeBrowser keeps tabs in memory. Every tab shares one page.
type fakeBrowser struct {
	page *staticPage

	mu         sync.Mutex
	tabs       []types.TabInfo
	next       int
	openActive []bool
	shots      []cdpcontrol.ScreenshotOptions
	navigated  []string
	closed     []int
	downloadTo []string
	timeouts   []time.Duration
}

func newFakeBrowser(page *staticPage) *fakeBrowser {
	return &fakeBrowser{
		page: page,
		tabs: []types.TabInfo{{TabID: 1, URL: "https://a.test/", Title: "A", Active: true}},
		next: 2,
	}
}

func (b *fakeBrowser) Connected() bool { return true }

func (b *fakeBrowser) ListTabs(context.Context) ([]types.TabInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.TabInfo(nil), b.tabs...), nil
}

func (b *fakeBrowser) ActiveTab(context.Context) (types.TabInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tabs {
		if t.Active {
			return t, nil
		}
	}
	if len(b.tabs) == 0 {
		return types.TabInfo{}, types.NewError(types.CodeNotFound, "no open tabs", nil)
	}
	return b.tabs[0], nil
}

func (b *fakeBrowser) OpenTab(_ context.Context, url string, active bool) (types.TabInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if url == "" {
		url = "about:blank"
	}
	info := types.TabInfo{TabID: b.next, URL: url, Active: active}
	b.next++
	if active {
		for i := range b.tabs {
			b.tabs[i].Active = false
		}
	}
	b.tabs = append(b.tabs, info)
	b.openActive = append(b.openActive, active)
	return info, nil
}

func (b *fakeBrowser) CloseTab(_ context.Context, tabID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, t := range b.tabs {
		if t.TabID == tabID {
			b.tabs = append(b.tabs[:i], b.tabs[i+1:]...)
			b.closed = append(b.closed, tabID)
			return nil
		}
	}
	return types.Errorf(types.CodeNotFound, "tab %d not found", tabID)
}

func (b *fakeBrowser) Navigate(_ context.Context, tabID int, url string, _ time.Duration) (types.TabInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.navigated = append(b.navigated, url)
	return types.TabInfo{TabID: tabID, URL: url}, nil
}

func (b *fakeBrowser) Screenshot(_ context.Context, _ int, opts cdpcontrol.ScreenshotOptions) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shots = append(b.shots, opts)
	return []byte("\x89PNG-fake"), nil
}

func (b *fakeBrowser) Download(ctx context.Context, dir string, timeout time.Duration, trigger func(ctx context.Context) error) (cdpcontrol.DownloadResult, error) {
	if err := trigger(ctx); err != nil {
		return cdpcontrol.DownloadResult{}, err
	}
	b.mu.Lock()
	b.downloadTo = append(b.downloadTo, dir)
	b.timeouts = append(b.timeouts, timeout)
	b.mu.Unlock()
	return cdpcontrol.DownloadResult{GUID: "g1", Filename: "report.csv", Path: filepath.Join(dir, "report.csv"), Bytes: 42}, nil
}

func (b *fakeBrowser) TabPage(int) Page { return b.page }

const testHTML = `<html><body>
<h1>Orders</h1>
<button id="go">Go</button>
<label for="q">Search</label><input id="q" name="q" value="old">
<select name="size"><option value="s">Small</option><option value="l">Large</option></select>
<a id="dl" href="/report.csv">Report</a>
<input type="file" id="f">
</body></html>`

func newTestService(t *testing.T, opts Options) (*Service, *fakeBrowser) {
	t.Helper()
	b := newFakeBrowser(newStaticPage(t, testHTML))
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.ActionTimeout == 0 {
		opts.ActionTimeout = 50 * time.Millisecond
	}
	return NewService(b, opts), b
}
