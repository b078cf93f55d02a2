package exthost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/tablease/internal/snapshot"
	"github.com/dgnsrekt/tablease/internal/types"
)

func call(t *testing.T, s *Service, tool types.Tool, args types.ToolArgs) (types.ToolResult, error) {
	t.Helper()
	return s.Call(context.Background(), types.ToolCall{SessionID: "A", Tool: tool, Args: args})
}

func mustCall(t *testing.T, s *Service, tool types.Tool, args types.ToolArgs, out any) types.ToolResult {
	t.Helper()
	res, err := call(t, s, tool, args)
	if err != nil {
		t.Fatalf("Call(%s) error = %v", tool, err)
	}
	if out != nil {
		if err := json.Unmarshal(res.Result, out); err != nil {
			t.Fatalf("decode %s result %s: %v", tool, res.Result, err)
		}
	}
	return res
}

func TestCallRequiresTabID(t *testing.T) {
	s, _ := newTestService(t, Options{})
	for _, args := range []types.ToolArgs{nil, {"tabId": 0}, {"tabId": -3}, {"tabId": "x"}} {
		_, err := call(t, s, types.ToolClick, args)
		if !types.IsCode(err, types.CodeValidation) {
			t.Fatalf("Call(click, %v) error = %v; want %s", args, err, types.CodeValidation)
		}
	}
}

func TestCallRejectsUnknownTool(t *testing.T) {
	s, _ := newTestService(t, Options{})
	_, err := call(t, s, types.Tool("teleport"), nil)
	if !types.IsCode(err, types.CodeValidation) {
		t.Fatalf("Call(teleport) error = %v; want %s", err, types.CodeValidation)
	}
}

func TestGetTabsAndActiveTab(t *testing.T) {
	s, _ := newTestService(t, Options{})

	var tabs []types.TabInfo
	res := mustCall(t, s, types.ToolGetTabs, nil, &tabs)
	if len(tabs) != 1 || tabs[0].TabID != 1 {
		t.Fatalf("get_tabs = %+v; want tab 1", tabs)
	}
	if res.TabID != nil {
		t.Fatalf("get_tabs TabID = %d; want none", *res.TabID)
	}

	var active types.TabInfo
	res = mustCall(t, s, types.ToolGetActiveTab, nil, &active)
	if res.TabID == nil || *res.TabID != 1 || active.TabID != 1 {
		t.Fatalf("get_active_tab = %+v (TabID %v); want tab 1", active, res.TabID)
	}
}

func TestOpenTabDefaultsToActive(t *testing.T) {
	s, b := newTestService(t, Options{})

	res := mustCall(t, s, types.ToolOpenTab, types.ToolArgs{"url": " https://b.test/ "}, nil)
	if res.TabID == nil || *res.TabID != 2 {
		t.Fatalf("open_tab TabID = %v; want 2", res.TabID)
	}
	mustCall(t, s, types.ToolOpenTab, types.ToolArgs{"active": false}, nil)

	if len(b.openActive) != 2 || !b.openActive[0] || b.openActive[1] {
		t.Fatalf("OpenTab active flags = %v; want [true false]", b.openActive)
	}
	if got := b.tabs[1].URL; got != "https://b.test/" {
		t.Fatalf("opened url = %q; want trimmed https://b.test/", got)
	}
}

func TestCloseTab(t *testing.T) {
	s, b := newTestService(t, Options{})
	res := mustCall(t, s, types.ToolCloseTab, types.ToolArgs{"tabId": 1}, nil)
	if res.TabID == nil || *res.TabID != 1 || len(b.closed) != 1 {
		t.Fatalf("close_tab TabID = %v closed = %v; want tab 1 closed", res.TabID, b.closed)
	}
	_, err := call(t, s, types.ToolCloseTab, types.ToolArgs{"tabId": 1})
	if !types.IsCode(err, types.CodeNotFound) {
		t.Fatalf("second close_tab error = %v; want %s", err, types.CodeNotFound)
	}
}

func TestNavigateRequiresURL(t *testing.T) {
	s, b := newTestService(t, Options{})
	_, err := call(t, s, types.ToolNavigate, types.ToolArgs{"tabId": 1, "url": "  "})
	if !types.IsCode(err, types.CodeValidation) || !strings.Contains(err.Error(), "url is required") {
		t.Fatalf("navigate error = %v; want url is required", err)
	}
	mustCall(t, s, types.ToolNavigate, types.ToolArgs{"tabId": 1, "url": "https://c.test/"}, nil)
	if len(b.navigated) != 1 || b.navigated[0] != "https://c.test/" {
		t.Fatalf("navigated = %v; want [https://c.test/]", b.navigated)
	}
}

func TestClickTypeSelect(t *testing.T) {
	s, b := newTestService(t, Options{})

	var click struct {
		SelectorUsed string `json:"selectorUsed"`
		Tag          string `json:"tag"`
	}
	res := mustCall(t, s, types.ToolClick, types.ToolArgs{"tabId": 1, "selector": "#missing, text:Go"}, &click)
	if click.SelectorUsed != "text:Go" || click.Tag != "button" {
		t.Fatalf("click = %+v; want text:Go on button", click)
	}
	if res.TabID == nil || *res.TabID != 1 {
		t.Fatalf("click TabID = %v; want 1", res.TabID)
	}
	if got := b.page.clicks(); len(got) != 1 {
		t.Fatalf("clicks = %v; want one", got)
	}

	mustCall(t, s, types.ToolType, types.ToolArgs{"tabId": 1, "selector": "label:Search", "text": "new", "clear": true}, nil)
	var q struct {
		Value string `json:"value"`
	}
	mustCall(t, s, types.ToolQuery, types.ToolArgs{"tabId": 1, "selector": "#q", "mode": "value"}, &q)
	if q.Value != "new" {
		t.Fatalf("value after type = %q; want new", q.Value)
	}
	if _, err := call(t, s, types.ToolType, types.ToolArgs{"tabId": 1, "selector": "#q"}); !types.IsCode(err, types.CodeValidation) {
		t.Fatalf("type without text error = %v; want %s", err, types.CodeValidation)
	}

	var sel struct {
		Value     string `json:"value"`
		Index     int    `json:"index"`
		MatchedBy string `json:"matchedBy"`
	}
	mustCall(t, s, types.ToolSelect, types.ToolArgs{"tabId": 1, "selector": "name:size", "value": "Large"}, &sel)
	if sel.Value != "l" || sel.Index != 1 || sel.MatchedBy != "label" {
		t.Fatalf("select = %+v; want l/1 by label", sel)
	}
	mustCall(t, s, types.ToolSelect, types.ToolArgs{"tabId": 1, "selector": "name:size", "optionIndex": 0}, &sel)
	if sel.Value != "s" || sel.MatchedBy != "index" {
		t.Fatalf("select by optionIndex = %+v; want s by index", sel)
	}
	if _, err := call(t, s, types.ToolSelect, types.ToolArgs{"tabId": 1, "selector": "name:size"}); !types.IsCode(err, types.CodeValidation) {
		t.Fatalf("select without value error = %v; want %s", err, types.CodeValidation)
	}
}

func TestClickNotFound(t *testing.T) {
	s, _ := newTestService(t, Options{})
	_, err := call(t, s, types.ToolClick, types.ToolArgs{"tabId": 1, "selector": "#nope"})
	if !types.IsCode(err, types.CodeNotFound) {
		t.Fatalf("click error = %v; want %s", err, types.CodeNotFound)
	}
}

func TestScroll(t *testing.T) {
	s, b := newTestService(t, Options{})
	if _, err := call(t, s, types.ToolScroll, types.ToolArgs{"tabId": 1}); !types.IsCode(err, types.CodeValidation) {
		t.Fatalf("scroll without target error = %v; want %s", err, types.CodeValidation)
	}
	mustCall(t, s, types.ToolScroll, types.ToolArgs{"tabId": 1, "dy": 300}, nil)
	if len(b.page.scrolls) != 1 || b.page.scrolls[0] != [2]int{0, 300} {
		t.Fatalf("scrolls = %v; want [[0 300]]", b.page.scrolls)
	}
	var res struct {
		SelectorUsed string `json:"selectorUsed"`
	}
	mustCall(t, s, types.ToolScroll, types.ToolArgs{"tabId": 1, "selector": "#dl"}, &res)
	if res.SelectorUsed != "#dl" {
		t.Fatalf("scroll selectorUsed = %q; want #dl", res.SelectorUsed)
	}
}

func TestQueryPageText(t *testing.T) {
	s, _ := newTestService(t, Options{})
	var res struct {
		Text    string   `json:"text"`
		Matches []string `json:"matches"`
	}
	mustCall(t, s, types.ToolQuery, types.ToolArgs{"tabId": 1, "mode": "page_text"}, &res)
	if !strings.Contains(res.Text, "Orders") || !strings.Contains(res.Text, "[form values]") {
		t.Fatalf("page_text = %q; want Orders and the form values section", res.Text)
	}

	res.Text = ""
	mustCall(t, s, types.ToolQuery, types.ToolArgs{"tabId": 1, "mode": "page_text", "pattern": `Or\w+`}, &res)
	if len(res.Matches) != 1 || res.Matches[0] != "Orders" {
		t.Fatalf("matches = %v; want [Orders]", res.Matches)
	}
}

func TestUpload(t *testing.T) {
	s, b := newTestService(t, Options{})
	mustCall(t, s, types.ToolUpload, types.ToolArgs{"tabId": 1, "selector": "#f", "file": "/tmp/a.txt"}, nil)
	if len(b.page.files) != 1 || b.page.files[0] != "/tmp/a.txt" {
		t.Fatalf("files = %v; want [/tmp/a.txt]", b.page.files)
	}
}

func TestScreenshotInline(t *testing.T) {
	s, b := newTestService(t, Options{})
	var res ScreenshotResult
	mustCall(t, s, types.ToolScreenshot, types.ToolArgs{"tabId": 1, "format": "JPG", "selector": "#go"}, &res)
	if res.Format != "jpeg" || res.MimeType != "image/jpeg" || res.SelectorUsed != "#go" {
		t.Fatalf("screenshot = %+v; want jpeg clipped to #go", res)
	}
	img, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil || string(img) != "\x89PNG-fake" {
		t.Fatalf("screenshot data = %q, %v; want the captured bytes", img, err)
	}
	if len(b.shots) != 1 || b.shots[0].BackendID == 0 {
		t.Fatalf("shots = %+v; want one clipped to a backend node", b.shots)
	}
}

func TestScreenshotSave(t *testing.T) {
	store, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("snapshot.NewStore() error = %v", err)
	}
	s, _ := newTestService(t, Options{Snapshots: store})

	var res ScreenshotResult
	mustCall(t, s, types.ToolScreenshot, types.ToolArgs{"tabId": 1, "save": true, "fullPage": true}, &res)
	if res.Data != "" || res.Snapshot == nil {
		t.Fatalf("screenshot = %+v; want snapshot metadata instead of data", res)
	}
	if res.Snapshot.URL != "https://a.test/" || !res.Snapshot.FullPage || res.Snapshot.TabID != 1 {
		t.Fatalf("snapshot meta = %+v; want tab 1 full page of https://a.test/", res.Snapshot)
	}
	if _, err := store.Get(res.Snapshot.ID); err != nil {
		t.Fatalf("store.Get(%s) error = %v", res.Snapshot.ID, err)
	}

	noStore, _ := newTestService(t, Options{})
	if _, err := call(t, noStore, types.ToolScreenshot, types.ToolArgs{"tabId": 1, "save": true}); !types.IsCode(err, types.CodeValidation) {
		t.Fatalf("save without store error = %v; want %s", err, types.CodeValidation)
	}
}

func TestSnapshotOutline(t *testing.T) {
	s, _ := newTestService(t, Options{})
	var res struct {
		Lines []string `json:"lines"`
		Text  string   `json:"text"`
	}
	mustCall(t, s, types.ToolSnapshot, types.ToolArgs{"tabId": 1}, &res)
	if len(res.Lines) == 0 || res.Text != strings.Join(res.Lines, "\n") {
		t.Fatalf("snapshot = %+v; want outline lines and joined text", res)
	}
	if !strings.Contains(res.Text, "role:button:Go") {
		t.Fatalf("outline %q does not suggest role:button:Go", res.Text)
	}
}

func TestDownload(t *testing.T) {
	dir := t.TempDir()
	s, b := newTestService(t, Options{DownloadDir: dir})

	if _, err := call(t, s, types.ToolDownload, types.ToolArgs{"tabId": 1}); !types.IsCode(err, types.CodeValidation) {
		t.Fatalf("download without url error = %v; want %s", err, types.CodeValidation)
	}

	var res DownloadResult
	mustCall(t, s, types.ToolDownload, types.ToolArgs{"tabId": 1, "url": "https://a.test/report.csv"}, &res)
	if len(b.page.downloads) != 1 || b.page.downloads[0] != "https://a.test/report.csv" {
		t.Fatalf("StartDownload calls = %v; want the url", b.page.downloads)
	}
	if res.Filename != "report.csv" || len(b.downloadTo) != 1 || b.downloadTo[0] != dir {
		t.Fatalf("download = %+v into %v; want report.csv into %s", res, b.downloadTo, dir)
	}
	if b.timeouts[0] != DefaultDownloadTimeout {
		t.Fatalf("download timeout = %v; want %v", b.timeouts[0], DefaultDownloadTimeout)
	}

	mustCall(t, s, types.ToolDownload, types.ToolArgs{"tabId": 1, "selector": "text:Report", "timeoutMs": 90000}, &res)
	if res.SelectorUsed != "text:Report" || len(b.page.clicks()) != 1 {
		t.Fatalf("download by selector = %+v clicks = %v; want one click on text:Report", res, b.page.clicks())
	}
	if b.timeouts[1] != 90*time.Second {
		t.Fatalf("download timeout = %v; want timeoutMs override 90s", b.timeouts[1])
	}
}
