package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/tablease/internal/types"
)

func connectClient(t *testing.T, f *fakeCDP) *Client {
	t.Helper()
	c := NewClient(f.URL(), 2*time.Second)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func visibility(states map[string]string) func(fakeCall) (any, error) {
	return func(c fakeCall) (any, error) {
		switch expressionOf(c) {
		case exprVisibilityState:
			return byValue(states[c.SessionID]), nil
		}
		return byValue(nil), nil
	}
}

func TestConnectRequiresURL(t *testing.T) {
	err := NewClient("", 0).Connect(context.Background())
	if !types.IsCode(err, types.CodeCDPUnavailable) {
		t.Fatalf("Connect() error = %v; want %s", err, types.CodeCDPUnavailable)
	}
}

func TestListTabsAndActiveTab(t *testing.T) {
	f := newFakeCDP(t,
		pageTarget("A", "https://a.test/"),
		fakeTarget{ID: "W", Type: "service_worker", URL: "https://a.test/sw.js"},
		pageTarget("B", "https://b.test/"),
	)
	f.handle("Runtime.evaluate", visibility(map[string]string{
		"session-A": "hidden",
		"session-B": "visible",
	}))
	c := connectClient(t, f)

	tabs, err := c.ListTabs(context.Background())
	if err != nil {
		t.Fatalf("ListTabs() error = %v", err)
	}
	if len(tabs) != 2 {
		t.Fatalf("ListTabs() = %d tabs; want 2 (service workers skipped)", len(tabs))
	}
	if tabs[0].TabID != 1 || tabs[1].TabID != 2 {
		t.Fatalf("tab ids = %d,%d; want 1,2", tabs[0].TabID, tabs[1].TabID)
	}
	if tabs[0].Active || !tabs[1].Active {
		t.Fatalf("active flags = %v,%v; want false,true", tabs[0].Active, tabs[1].Active)
	}

	active, err := c.ActiveTab(context.Background())
	if err != nil {
		t.Fatalf("ActiveTab() error = %v", err)
	}
	if active.TabID != 2 || active.URL != "https://b.test/" {
		t.Fatalf("ActiveTab() = %+v; want tab 2 at b.test", active)
	}
}

func TestActiveTabFallsBackToFirstPage(t *testing.T) {
	f := newFakeCDP(t, pageTarget("A", "https://a.test/"), pageTarget("B", "https://b.test/"))
	f.handle("Runtime.evaluate", visibility(map[string]string{}))
	c := connectClient(t, f)

	active, err := c.ActiveTab(context.Background())
	if err != nil {
		t.Fatalf("ActiveTab() error = %v", err)
	}
	if active.TabID != 1 {
		t.Fatalf("ActiveTab().TabID = %d; want 1", active.TabID)
	}
}

func TestActiveTabWithNoPages(t *testing.T) {
	f := newFakeCDP(t)
	c := connectClient(t, f)

	_, err := c.ActiveTab(context.Background())
	if !types.IsCode(err, types.CodeNotFound) {
		t.Fatalf("ActiveTab() error = %v; want %s", err, types.CodeNotFound)
	}
}

func TestOpenTabInBackground(t *testing.T) {
	f := newFakeCDP(t, pageTarget("A", "https://a.test/"))
	f.handle("Target.createTarget", func(c fakeCall) (any, error) {
		f.setTargets(pageTarget("NEW", "https://new.test/"), pageTarget("A", "https://a.test/"))
		return map[string]string{"targetId": "NEW"}, nil
	})
	c := connectClient(t, f)

	info, err := c.OpenTab(context.Background(), "https://new.test/", false)
	if err != nil {
		t.Fatalf("OpenTab() error = %v", err)
	}
	if info.TabID != 2 || info.URL != "https://new.test/" {
		t.Fatalf("OpenTab() = %+v; want tab 2 at new.test", info)
	}

	created := f.callsTo("Target.createTarget")
	if len(created) != 1 {
		t.Fatalf("createTarget calls = %d; want 1", len(created))
	}
	var p struct {
		URL        string `json:"url"`
		Background bool   `json:"background"`
	}
	_ = json.Unmarshal(created[0].Params, &p)
	if !p.Background {
		t.Fatalf("createTarget background = false; want true")
	}
	if n := len(f.callsTo("Target.activateTarget")); n != 0 {
		t.Fatalf("activateTarget calls = %d; want 0", n)
	}
	if id, ok := c.Registry().ID("A"); !ok || id != 1 {
		t.Fatalf("existing tab id = %d,%v; want 1,true", id, ok)
	}
}

func TestOpenTabActivates(t *testing.T) {
	f := newFakeCDP(t)
	f.handle("Target.createTarget", func(c fakeCall) (any, error) {
		f.setTargets(pageTarget("NEW", "about:blank"))
		return map[string]string{"targetId": "NEW"}, nil
	})
	c := connectClient(t, f)

	info, err := c.OpenTab(context.Background(), "", true)
	if err != nil {
		t.Fatalf("OpenTab() error = %v", err)
	}
	if !info.Active {
		t.Fatalf("OpenTab().Active = false; want true")
	}
	if n := len(f.callsTo("Target.activateTarget")); n != 1 {
		t.Fatalf("activateTarget calls = %d; want 1", n)
	}
}

func TestCloseTabForgetsTab(t *testing.T) {
	f := newFakeCDP(t, pageTarget("A", "https://a.test/"), pageTarget("B", "https://b.test/"))
	f.handle("Target.closeTarget", func(c fakeCall) (any, error) {
		f.setTargets(pageTarget("B", "https://b.test/"))
		return map[string]bool{"success": true}, nil
	})
	c := connectClient(t, f)

	if err := c.CloseTab(context.Background(), 1); err != nil {
		t.Fatalf("CloseTab() error = %v", err)
	}
	if _, ok := c.Registry().Target(1); ok {
		t.Fatalf("tab 1 still registered after close")
	}
	err := c.CloseTab(context.Background(), 1)
	if !types.IsCode(err, types.CodeNotFound) {
		t.Fatalf("second CloseTab() error = %v; want %s", err, types.CodeNotFound)
	}
	if id, ok := c.Registry().ID("B"); !ok || id != 2 {
		t.Fatalf("tab B id = %d,%v; want 2,true", id, ok)
	}
}

func TestCloseTabRejectsBadID(t *testing.T) {
	c := connectClient(t, newFakeCDP(t))
	if err := c.CloseTab(context.Background(), 0); !types.IsCode(err, types.CodeValidation) {
		t.Fatalf("CloseTab(0) error = %v; want %s", err, types.CodeValidation)
	}
}

func TestNavigateWaitsForLoad(t *testing.T) {
	f := newFakeCDP(t, pageTarget("A", "about:blank"))
	var loads atomic.Int32
	f.handle("Runtime.evaluate", func(c fakeCall) (any, error) {
		if expressionOf(c) != exprLocation {
			return byValue(nil), nil
		}
		ready := "loading"
		if loads.Add(1) >= 3 {
			ready = "complete"
		}
		return byValue(map[string]string{"url": "https://a.test/done", "title": "Done", "ready": ready}), nil
	})
	c := connectClient(t, f)

	info, err := c.Navigate(context.Background(), 1, "https://a.test/", 5*time.Second)
	if err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if info.URL != "https://a.test/done" || info.Title != "Done" {
		t.Fatalf("Navigate() = %+v; want final url and title", info)
	}
	if n := loads.Load(); n != 3 {
		t.Fatalf("loads = %d; want 3", n)
	}
	nav := f.callsTo("Page.navigate")
	if len(nav) != 1 || nav[0].SessionID != "session-A" {
		t.Fatalf("Page.navigate calls = %+v; want one on session-A", nav)
	}
}

func TestNavigateReportsErrorText(t *testing.T) {
	f := newFakeCDP(t, pageTarget("A", "about:blank"))
	f.handle("Page.navigate", func(c fakeCall) (any, error) {
		return map[string]string{"frameId": "F", "errorText": "net::ERR_NAME_NOT_RESOLVED"}, nil
	})
	c := connectClient(t, f)

	_, err := c.Navigate(context.Background(), 1, "https://nope.invalid/", time.Second)
	if !types.IsCode(err, types.CodeToolFailure) || !strings.Contains(err.Error(), "ERR_NAME_NOT_RESOLVED") {
		t.Fatalf("Navigate() error = %v; want TOOL_FAILURE naming the net error", err)
	}
	if _, err := c.Navigate(context.Background(), 1, " ", time.Second); !types.IsCode(err, types.CodeValidation) {
		t.Fatalf("Navigate(empty) error = %v; want %s", err, types.CodeValidation)
	}
}

func TestScreenshot(t *testing.T) {
	f := newFakeCDP(t, pageTarget("A", "https://a.test/"))
	f.handle("Page.captureScreenshot", func(c fakeCall) (any, error) {
		return map[string]string{"data": base64.StdEncoding.EncodeToString([]byte("image-bytes"))}, nil
	})
	f.handle("DOM.getContentQuads", func(c fakeCall) (any, error) {
		return map[string]any{"quads": [][]float64{{10, 20, 110, 20, 110, 70, 10, 70}}}, nil
	})
	c := connectClient(t, f)

	img, err := c.Screenshot(context.Background(), 1, ScreenshotOptions{Format: "jpg", Quality: 70, BackendID: 42})
	if err != nil {
		t.Fatalf("Screenshot() error = %v", err)
	}
	if string(img) != "image-bytes" {
		t.Fatalf("Screenshot() = %q; want decoded bytes", img)
	}
	shots := f.callsTo("Page.captureScreenshot")
	var p struct {
		Format  string    `json:"format"`
		Quality int       `json:"quality"`
		Clip    *clipRect `json:"clip"`
	}
	_ = json.Unmarshal(shots[0].Params, &p)
	if p.Format != "jpeg" || p.Quality != 70 {
		t.Fatalf("format/quality = %s/%d; want jpeg/70", p.Format, p.Quality)
	}
	if p.Clip == nil || p.Clip.X != 10 || p.Clip.Y != 20 || p.Clip.Width != 100 || p.Clip.Height != 50 {
		t.Fatalf("clip = %+v; want 10,20 100x50", p.Clip)
	}

	if _, err := c.Screenshot(context.Background(), 1, ScreenshotOptions{Format: "gif"}); !types.IsCode(err, types.CodeValidation) {
		t.Fatalf("Screenshot(gif) error = %v; want %s", err, types.CodeValidation)
	}
}

func TestWithTabReconnectsAfterDrop(t *testing.T) {
	f := newFakeCDP(t, pageTarget("A", "https://a.test/"))
	var dropped atomic.Bool
	f.handle("DOM.getDocument", func(c fakeCall) (any, error) {
		if dropped.CompareAndSwap(false, true) {
			go f.dropConnections()
			time.Sleep(50 * time.Millisecond)
		}
		return map[string]any{"root": map[string]any{"nodeType": 9, "nodeName": "#document", "backendNodeId": 1}}, nil
	})
	c := connectClient(t, f)

	if _, err := c.Page(1).Document(context.Background()); err != nil {
		t.Fatalf("Document() error = %v; want recovery after reconnect", err)
	}
	if n := f.connectCount(); n != 2 {
		t.Fatalf("websocket connects = %d; want 2", n)
	}
	if id, ok := c.Registry().ID("A"); !ok || id != 1 {
		t.Fatalf("tab id after reconnect = %d,%v; want 1,true", id, ok)
	}
}

func TestCallErrorsAreToolFailures(t *testing.T) {
	f := newFakeCDP(t, pageTarget("A", "https://a.test/"))
	f.handle("DOM.getDocument", func(c fakeCall) (any, error) { return nil, errFake })
	c := connectClient(t, f)

	_, err := c.Page(1).Document(context.Background())
	if !types.IsCode(err, types.CodeToolFailure) || !strings.Contains(err.Error(), "fake failure") {
		t.Fatalf("Document() error = %v; want TOOL_FAILURE with cause", err)
	}
	if n := len(f.callsTo("DOM.getDocument")); n != 1 {
		t.Fatalf("getDocument calls = %d; want 1 (no retry)", n)
	}
}

func TestDownloadWaitsForCompletion(t *testing.T) {
	f := newFakeCDP(t, pageTarget("A", "https://a.test/"))
	dir := t.TempDir()
	c := connectClient(t, f)

	trigger := func(ctx context.Context) error {
		if err := os.WriteFile(filepath.Join(dir, "guid-1234567890"), []byte("report"), 0o644); err != nil {
			return err
		}
		go func() {
			f.emit("Browser.downloadWillBegin", map[string]any{"guid": "guid-1234567890", "url": "https://a.test/r.csv", "suggestedFilename": "r.csv"})
			f.emit("Browser.downloadProgress", map[string]any{"guid": "guid-1234567890", "receivedBytes": 6, "totalBytes": 6, "state": "inProgress"})
			f.emit("Browser.downloadProgress", map[string]any{"guid": "guid-1234567890", "receivedBytes": 6, "totalBytes": 6, "state": "completed"})
		}()
		return nil
	}
	res, err := c.Download(context.Background(), dir, 2*time.Second, trigger)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.Filename != "r.csv" || res.Bytes != 6 || res.Path != filepath.Join(dir, "r.csv") {
		t.Fatalf("Download() = %+v; want r.csv, 6 bytes, renamed", res)
	}
	if data, err := os.ReadFile(res.Path); err != nil || string(data) != "report" {
		t.Fatalf("downloaded file = %q, %v; want report", data, err)
	}
	if n := len(f.callsTo("Browser.setDownloadBehavior")); n != 1 {
		t.Fatalf("setDownloadBehavior calls = %d; want 1", n)
	}
}

func TestDownloadTimesOutWithoutStart(t *testing.T) {
	f := newFakeCDP(t, pageTarget("A", "https://a.test/"))
	c := connectClient(t, f)

	_, err := c.Download(context.Background(), t.TempDir(), 50*time.Millisecond, func(context.Context) error { return nil })
	if !types.IsCode(err, types.CodeRequestTimeout) {
		t.Fatalf("Download() error = %v; want %s", err, types.CodeRequestTimeout)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"cdp unavailable", types.NewError(types.CodeCDPUnavailable, "down", nil), true},
		{"transient cause", types.NewError(types.CodeToolFailure, "x", errString("rawcdp: connection closed")), true},
		{"page exception", types.NewError(types.CodeToolFailure, "x", errString("rawcdp: page exception: boom")), false},
		{"not found", types.NewError(types.CodeNotFound, "gone", nil), false},
		{"plain", errString("eof"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.err); got != tt.want {
				t.Fatalf("shouldRetry() = %v; want %v", got, tt.want)
			}
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
