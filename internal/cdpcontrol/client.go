package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/tablease/internal/types"
)

const (
	// DefaultCallTimeout bounds a single CDP command.
	DefaultCallTimeout = 15 * time.Second

	visibilityCheckTimeout = 2 * time.Second
	readyPollInterval      = 100 * time.Millisecond
)

type tabSession struct {
	mu        sync.Mutex
	sessionID string // CDP session ID from Target.attachToTarget
}

// Client drives browser tabs over a raw CDP websocket. Tab ids come from a
// TabRegistry and survive reconnects.
type Client struct {
	cdpURL      string
	callTimeout time.Duration

	mu          sync.Mutex
	cdp         *rawCDP
	registry    *TabRegistry
	sessions    map[target.ID]*tabSession
	downloadDir string

	tabLocksMu sync.Mutex
	tabLocks   map[int]*sync.Mutex
}

func NewClient(cdpURL string, callTimeout time.Duration) *Client {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Client{
		cdpURL:      cdpURL,
		callTimeout: callTimeout,
		registry:    NewTabRegistry(),
		sessions:    make(map[target.ID]*tabSession),
		tabLocks:    make(map[int]*sync.Mutex),
	}
}

// Registry exposes the tab id mapping.
func (c *Client) Registry() *TabRegistry { return c.registry }

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return types.NewError(types.CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return types.NewError(types.CodeCDPUnavailable, "connect to CDP failed", err)
	}

	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return types.NewError(types.CodeCDPUnavailable, "connect to CDP failed", err)
	}
	if c.downloadDir != "" {
		if err := c.cdp.setDownloadBehavior(ctx, c.downloadDir); err != nil {
			slog.Warn("cdpcontrol download behavior not restored", "dir", c.downloadDir, "error", err)
			c.downloadDir = ""
		}
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", c.registry.Count())
	return nil
}

// Connected reports whether the websocket is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cdp != nil && c.cdp.connected()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for _, session := range c.sessions {
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				_ = c.cdp.detachFromTarget(ctx, session.sessionID)
				cancel()
				session.sessionID = ""
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.sessions = make(map[target.ID]*tabSession)
}

// ListTabs returns every page target with the foreground one marked.
func (c *Client) ListTabs(ctx context.Context) ([]types.TabInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		return nil, err
	}
	c.detectActive(ctx)
	return c.registry.List(), nil
}

// ActiveTab returns the foreground tab: the first page target, in the
// browser's most-recently-used order, whose document is visible, or the
// first page target when none reports visible.
func (c *Client) ActiveTab(ctx context.Context) (types.TabInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		return types.TabInfo{}, err
	}
	id, ok := c.detectActive(ctx)
	if !ok {
		return types.TabInfo{}, types.NewError(types.CodeNotFound, "no open tabs", nil)
	}
	info, _ := c.registry.Get(id)
	return info, nil
}

func (c *Client) detectActive(ctx context.Context) (int, bool) {
	tabs := c.registry.List()
	if len(tabs) == 0 {
		return 0, false
	}
	chosen := tabs[0]
	for _, tab := range tabs {
		var state string
		checkCtx, cancel := context.WithTimeout(ctx, visibilityCheckTimeout)
		err := c.runOnTab(checkCtx, tab.TabID, func(ctx context.Context, rc *rawCDP, sid string) error {
			raw, err := rc.evaluate(ctx, sid, exprVisibilityState)
			if err != nil {
				return err
			}
			return json.Unmarshal(raw, &state)
		})
		cancel()
		if err != nil {
			slog.Debug("cdpcontrol visibility check failed", "tab_id", tab.TabID, "error", err)
			continue
		}
		if state == "visible" {
			chosen = tab
			break
		}
	}
	c.registry.SetActive(target.ID(chosen.TargetID))
	return chosen.TabID, true
}

// OpenTab creates a page. When active is false the new tab stays in the
// background.
func (c *Client) OpenTab(ctx context.Context, url string, active bool) (types.TabInfo, error) {
	if strings.TrimSpace(url) == "" {
		url = "about:blank"
	}
	rc, err := c.conn(ctx)
	if err != nil {
		return types.TabInfo{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	tid, err := rc.createTarget(callCtx, url, !active)
	if err != nil {
		return types.TabInfo{}, wrapCallErr(callCtx, "open tab", err)
	}
	id := c.registry.Register(tid)
	if active {
		if err := rc.activateTarget(callCtx, tid); err != nil {
			slog.Warn("cdpcontrol activate new tab failed", "tab_id", id, "error", err)
		} else {
			c.registry.SetActive(tid)
		}
	}
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdpcontrol tab refresh after open failed", "tab_id", id, "error", err)
	}
	info, ok := c.registry.Get(id)
	if !ok {
		info = types.TabInfo{TabID: id, TargetID: string(tid), URL: url, Active: active}
	}
	slog.Info("cdpcontrol tab opened", "tab_id", id, "url", url, "active", active)
	return info, nil
}

// CloseTab closes the page behind tabID.
func (c *Client) CloseTab(ctx context.Context, tabID int) error {
	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	tid, err := c.resolveTarget(ctx, tabID)
	if err != nil {
		return err
	}
	rc, err := c.conn(ctx)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	c.mu.Lock()
	session := c.sessions[tid]
	delete(c.sessions, tid)
	c.mu.Unlock()
	if session != nil {
		session.mu.Lock()
		if session.sessionID != "" {
			_ = rc.detachFromTarget(callCtx, session.sessionID)
			session.sessionID = ""
		}
		session.mu.Unlock()
	}
	if err := rc.closeTarget(callCtx, tid); err != nil {
		return wrapCallErr(callCtx, "close tab", err)
	}
	c.registry.Remove(tid)
	c.dropTabLock(tabID)
	slog.Info("cdpcontrol tab closed", "tab_id", tabID)
	return nil
}

// Navigate loads url in the tab and waits up to wait for the document to
// finish loading. The returned info carries the final URL and title.
func (c *Client) Navigate(ctx context.Context, tabID int, url string, wait time.Duration) (types.TabInfo, error) {
	if strings.TrimSpace(url) == "" {
		return types.TabInfo{}, types.NewError(types.CodeValidation, "url is required", nil)
	}
	var loc struct {
		URL   string `json:"url"`
		Title string `json:"title"`
		Ready string `json:"ready"`
	}
	err := c.withTab(ctx, tabID, func(ctx context.Context, rc *rawCDP, sid string) error {
		if err := rc.navigate(ctx, sid, url); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return types.TabInfo{}, err
	}

	deadline := time.Now().Add(wait)
	for {
		err := c.withTab(ctx, tabID, func(ctx context.Context, rc *rawCDP, sid string) error {
			raw, err := rc.evaluate(ctx, sid, exprLocation)
			if err != nil {
				return err
			}
			return json.Unmarshal(raw, &loc)
		})
		if err != nil {
			slog.Debug("cdpcontrol navigation check failed", "tab_id", tabID, "error", err)
		}
		if loc.Ready == "complete" || !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return types.TabInfo{}, types.NewError(types.CodeRequestTimeout, "navigation wait cancelled", ctx.Err())
		case <-time.After(readyPollInterval):
		}
	}

	info, ok := c.registry.Get(tabID)
	if !ok {
		info = types.TabInfo{TabID: tabID}
	}
	if loc.URL != "" {
		info.URL = loc.URL
	}
	info.Title = loc.Title
	return info, nil
}

// ScreenshotOptions selects the image format and area.
type ScreenshotOptions struct {
	Format   string
	Quality  int
	FullPage bool
	// BackendID clips the capture to one element when non-zero.
	BackendID int64
}

// Screenshot captures the tab and returns the decoded image bytes.
func (c *Client) Screenshot(ctx context.Context, tabID int, opts ScreenshotOptions) ([]byte, error) {
	format := strings.ToLower(opts.Format)
	switch format {
	case "":
		format = "png"
	case "jpg":
		format = "jpeg"
	case "png", "jpeg", "webp":
	default:
		return nil, types.Errorf(types.CodeValidation, "unsupported screenshot format %q", opts.Format)
	}

	var data string
	err := c.withTab(ctx, tabID, func(ctx context.Context, rc *rawCDP, sid string) error {
		var clip *clipRect
		if opts.BackendID != 0 {
			id := cdp.BackendNodeID(opts.BackendID)
			if err := rc.scrollIntoView(ctx, sid, id); err != nil {
				slog.Debug("cdpcontrol scroll before element screenshot failed", "tab_id", tabID, "error", err)
			}
			box, err := rc.contentBox(ctx, sid, id)
			if err != nil {
				return types.NewError(types.CodeUnsupportedElement, "element has no visible box", err)
			}
			clip = box
		}
		var err error
		data, err = rc.captureScreenshot(ctx, sid, format, opts.Quality, opts.FullPage && clip == nil, clip)
		return err
	})
	if err != nil {
		return nil, err
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, types.NewError(types.CodeToolFailure, "decode screenshot", err)
	}
	return img, nil
}

// Page returns the locator surface of a tab.
func (c *Client) Page(tabID int) *Page {
	return &Page{client: c, tabID: tabID}
}

// withTab runs fn on the tab's CDP session under the tab lock. A transient
// failure triggers one reconnect or tab refresh and a single retry.
func (c *Client) withTab(ctx context.Context, tabID int, fn func(ctx context.Context, rc *rawCDP, sessionID string) error) error {
	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	err := c.runOnTab(ctx, tabID, fn)
	if err == nil || ctx.Err() != nil || !shouldRetry(err) {
		return err
	}

	slog.Warn("cdpcontrol retry after transient failure", "tab_id", tabID, "error", err)
	if types.IsCode(err, types.CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "tab_id", tabID, "error", recErr)
			return recErr
		}
	} else if syncErr := c.refreshTabs(ctx); syncErr != nil {
		slog.Warn("cdpcontrol tab refresh failed during retry", "tab_id", tabID, "error", syncErr)
	}
	return c.runOnTab(ctx, tabID, fn)
}

func (c *Client) runOnTab(ctx context.Context, tabID int, fn func(ctx context.Context, rc *rawCDP, sessionID string) error) error {
	tid, err := c.resolveTarget(ctx, tabID)
	if err != nil {
		return err
	}
	rc, err := c.conn(ctx)
	if err != nil {
		return err
	}
	session := c.session(tid)
	sid, err := c.ensureSession(ctx, rc, session, tid)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	err = fn(callCtx, rc, sid)
	if err == nil {
		return nil
	}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		return err
	}
	slog.Warn("cdpcontrol call failed", "tab_id", tabID, "error", err)
	// Reset session so a fresh attach happens on retry.
	session.mu.Lock()
	if session.sessionID == sid {
		session.sessionID = ""
	}
	session.mu.Unlock()
	return wrapCallErr(callCtx, "cdp call failed", err)
}

// ensureSession returns a CDP session ID for the target, attaching if needed.
func (c *Client) ensureSession(ctx context.Context, rc *rawCDP, session *tabSession, targetID target.ID) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" {
		return session.sessionID, nil
	}

	sid, err := rc.attachToTarget(ctx, targetID)
	if err != nil {
		return "", types.NewError(types.CodeCDPUnavailable, "attach to target failed", err)
	}
	session.sessionID = sid
	slog.Debug("cdpcontrol session attached", "target_id", targetID, "session_id", sid)
	return sid, nil
}

func (c *Client) session(tid target.ID) *tabSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sessions[tid]
	if s == nil {
		s = &tabSession{}
		c.sessions[tid] = s
	}
	return s
}

func (c *Client) resolveTarget(ctx context.Context, tabID int) (target.ID, error) {
	if tabID <= 0 {
		return "", types.Errorf(types.CodeValidation, "tabId must be a positive integer, got %d", tabID)
	}
	if tid, ok := c.registry.Target(tabID); ok {
		return tid, nil
	}
	if err := c.refreshTabs(ctx); err != nil {
		return "", err
	}
	if tid, ok := c.registry.Target(tabID); ok {
		return tid, nil
	}
	return "", types.Errorf(types.CodeNotFound, "tab %d not found", tabID)
}

func (c *Client) conn(ctx context.Context) (*rawCDP, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp == nil {
		return nil, types.NewError(types.CodeCDPUnavailable, "CDP client not connected", nil)
	}
	return c.cdp, nil
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.syncTabsLocked(ctx)
	c.mu.Unlock()
	if err == nil {
		return nil
	}

	return types.NewError(types.CodeCDPUnavailable, "failed to list targets", err)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return types.NewError(types.CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return err
	}
	tabs := c.registry.Sync(targets)

	live := make(map[target.ID]bool, len(tabs))
	for _, t := range tabs {
		live[target.ID(t.TargetID)] = true
	}
	for tid := range c.sessions {
		if !live[tid] {
			delete(c.sessions, tid)
		}
	}

	slog.Debug("cdpcontrol tab sync", "targets", len(targets), "tabs", len(tabs))
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil && c.cdp.connected()
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) tabLock(tabID int) *sync.Mutex {
	c.tabLocksMu.Lock()
	defer c.tabLocksMu.Unlock()
	m, ok := c.tabLocks[tabID]
	if !ok {
		m = &sync.Mutex{}
		c.tabLocks[tabID] = m
	}
	return m
}

func (c *Client) dropTabLock(tabID int) {
	c.tabLocksMu.Lock()
	delete(c.tabLocks, tabID)
	c.tabLocksMu.Unlock()
}

func wrapCallErr(ctx context.Context, msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.CodeRequestTimeout, msg+": timed out", err)
	}
	return types.NewError(types.CodeToolFailure, msg, err)
}

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"target closed",
	"session closed",
	"session with given id not found",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"not connected",
}

func shouldRetry(err error) bool {
	var coded *types.CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case types.CodeCDPUnavailable:
		return true
	case types.CodeToolFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}
