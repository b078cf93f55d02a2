// Package exthost executes tool calls against a CDP-attached browser. The
// same Service backs tablease-host, which serves tool requests arriving from
// the relay, and the broker's in-process "cdp" backend.
package exthost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/tablease/internal/cdpcontrol"
	"github.com/dgnsrekt/tablease/internal/locator"
	"github.com/dgnsrekt/tablease/internal/snapshot"
	"github.com/dgnsrekt/tablease/internal/types"
)

// DefaultDownloadTimeout stays below the broker's 60s request budget so a
// stalled download reports its own error instead of a broker timeout. Longer
// downloads pass timeoutMs and need TABLEASE_REQUEST_TIMEOUT_MS raised to
// match.
const (
	DefaultActionTimeout   = 5 * time.Second
	DefaultNavigateWait    = 30 * time.Second
	DefaultDownloadTimeout = 45 * time.Second
)

// Page is a tab the locator engine can drive, plus the download trigger.
type Page interface {
	locator.Page
	StartDownload(ctx context.Context, url string) error
}

// Browser is the tab-level surface the service needs.
type Browser interface {
	Connected() bool
	ListTabs(ctx context.Context) ([]types.TabInfo, error)
	ActiveTab(ctx context.Context) (types.TabInfo, error)
	OpenTab(ctx context.Context, url string, active bool) (types.TabInfo, error)
	CloseTab(ctx context.Context, tabID int) error
	Navigate(ctx context.Context, tabID int, url string, wait time.Duration) (types.TabInfo, error)
	Screenshot(ctx context.Context, tabID int, opts cdpcontrol.ScreenshotOptions) ([]byte, error)
	Download(ctx context.Context, dir string, timeout time.Duration, trigger func(ctx context.Context) error) (cdpcontrol.DownloadResult, error)
	TabPage(tabID int) Page
}

// CDPBrowser adapts a cdpcontrol.Client to Browser.
type CDPBrowser struct {
	*cdpcontrol.Client
}

var _ Browser = CDPBrowser{}

func (b CDPBrowser) TabPage(tabID int) Page { return b.Client.Page(tabID) }

// Options configures a Service.
type Options struct {
	Snapshots     *snapshot.Store
	DownloadDir   string
	ActionTimeout time.Duration
	NavigateWait  time.Duration
	Logger        *slog.Logger
}

// Service runs tools. It implements broker.Upstream.
type Service struct {
	browser       Browser
	snaps         *snapshot.Store
	downloadDir   string
	actionTimeout time.Duration
	navigateWait  time.Duration
	logger        *slog.Logger
}

func NewService(browser Browser, opts Options) *Service {
	s := &Service{
		browser:       browser,
		snaps:         opts.Snapshots,
		downloadDir:   opts.DownloadDir,
		actionTimeout: opts.ActionTimeout,
		navigateWait:  opts.NavigateWait,
		logger:        opts.Logger,
	}
	if s.actionTimeout <= 0 {
		s.actionTimeout = DefaultActionTimeout
	}
	if s.navigateWait <= 0 {
		s.navigateWait = DefaultNavigateWait
	}
	if s.downloadDir == "" {
		s.downloadDir = "./downloads"
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Connected reports whether the browser connection is up.
func (s *Service) Connected() bool { return s.browser.Connected() }

// Call runs one tool. Tools that act on a tab report it in TabID.
func (s *Service) Call(ctx context.Context, call types.ToolCall) (types.ToolResult, error) {
	tool, err := types.ParseTool(call.Tool.String())
	if err != nil {
		return types.ToolResult{}, err
	}
	args := call.Args
	if args == nil {
		args = types.ToolArgs{}
	}

	var tabID int
	if tool.RequiresTab() {
		id, ok := args.TabID()
		if !ok || id <= 0 {
			return types.ToolResult{}, types.Errorf(types.CodeValidation, "%s needs a positive tabId", tool)
		}
		tabID = id
	}

	start := time.Now()
	out, reported, err := s.run(ctx, tool, tabID, args)
	if err != nil {
		s.logger.Debug("tool failed", "tool", tool, "tab_id", tabID, "elapsed", time.Since(start), "error", err)
		return types.ToolResult{}, err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return types.ToolResult{}, types.NewError(types.CodeToolFailure, "encode tool result", err)
	}
	s.logger.Debug("tool ok", "tool", tool, "tab_id", tabID, "elapsed", time.Since(start))

	res := types.ToolResult{Result: data}
	switch {
	case reported > 0:
		res.TabID = &reported
	case tabID > 0:
		res.TabID = &tabID
	}
	return res, nil
}

func (s *Service) run(ctx context.Context, tool types.Tool, tabID int, args types.ToolArgs) (any, int, error) {
	switch tool {
	case types.ToolGetTabs:
		tabs, err := s.browser.ListTabs(ctx)
		return tabs, 0, err
	case types.ToolGetActiveTab:
		info, err := s.browser.ActiveTab(ctx)
		return info, info.TabID, err
	case types.ToolOpenTab:
		return s.openTab(ctx, args)
	case types.ToolCloseTab:
		if err := s.browser.CloseTab(ctx, tabID); err != nil {
			return nil, 0, err
		}
		return map[string]any{"closed": true, "tabId": tabID}, tabID, nil
	case types.ToolNavigate:
		url, _ := args.String("url")
		if err := s.requireNonEmpty(url, "url"); err != nil {
			return nil, 0, err
		}
		wait := s.navigateWait
		if ms, ok := args.Int("timeoutMs"); ok && ms >= 0 {
			wait = time.Duration(ms) * time.Millisecond
		}
		info, err := s.browser.Navigate(ctx, tabID, strings.TrimSpace(url), wait)
		return info, tabID, err
	case types.ToolClick:
		return s.withTarget(ctx, tabID, args, func(eng *locator.Engine, tgt locator.Target) (any, error) {
			return eng.Click(ctx, tgt)
		})
	case types.ToolType:
		text, ok := args.String("text")
		if !ok {
			return nil, 0, types.NewError(types.CodeValidation, "text is required", nil)
		}
		clear, _ := args.Bool("clear")
		return s.withTarget(ctx, tabID, args, func(eng *locator.Engine, tgt locator.Target) (any, error) {
			return eng.Type(ctx, tgt, text, clear)
		})
	case types.ToolSelect:
		spec, err := selectSpec(args)
		if err != nil {
			return nil, 0, err
		}
		return s.withTarget(ctx, tabID, args, func(eng *locator.Engine, tgt locator.Target) (any, error) {
			return eng.Select(ctx, tgt, spec)
		})
	case types.ToolScroll:
		if locator.HasTarget(args) {
			return s.withTarget(ctx, tabID, args, func(eng *locator.Engine, tgt locator.Target) (any, error) {
				return eng.ScrollTo(ctx, tgt)
			})
		}
		dx, dy := args.IntOr("dx", 0), args.IntOr("dy", 0)
		if dx == 0 && dy == 0 {
			return nil, 0, types.NewError(types.CodeValidation, "scroll needs a selector or a non-zero dx/dy", nil)
		}
		res, err := s.engine(tabID).ScrollBy(ctx, dx, dy)
		return res, tabID, err
	case types.ToolWait:
		return s.withTarget(ctx, tabID, args, func(eng *locator.Engine, tgt locator.Target) (any, error) {
			return eng.Wait(ctx, tgt)
		})
	case types.ToolQuery:
		return s.query(ctx, tabID, args)
	case types.ToolScreenshot:
		return s.screenshot(ctx, tabID, args)
	case types.ToolSnapshot:
		outline, err := s.engine(tabID).Outline(ctx)
		if err != nil {
			return nil, 0, err
		}
		return outlineResult{Outline: outline, Text: outline.Text()}, tabID, nil
	case types.ToolDownload:
		return s.download(ctx, tabID, args)
	case types.ToolUpload:
		files := args.Strings("files")
		if len(files) == 0 {
			files = args.Strings("file")
		}
		return s.withTarget(ctx, tabID, args, func(eng *locator.Engine, tgt locator.Target) (any, error) {
			return eng.Upload(ctx, tgt, files)
		})
	default:
		panic(fmt.Sprintf("exthost: unhandled tool %q", tool))
	}
}

type outlineResult struct {
	*locator.Outline
	Text string `json:"text"`
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return types.NewError(types.CodeValidation, fieldName+" is required", nil)
	}
	return nil
}

func (s *Service) engine(tabID int) *locator.Engine {
	return locator.New(s.browser.TabPage(tabID), locator.WithLogger(s.logger))
}

func (s *Service) withTarget(ctx context.Context, tabID int, args types.ToolArgs, fn func(*locator.Engine, locator.Target) (any, error)) (any, int, error) {
	tgt, err := locator.TargetFromArgs(args, s.actionTimeout)
	if err != nil {
		return nil, 0, err
	}
	out, err := fn(s.engine(tabID), tgt)
	if err != nil {
		return nil, 0, err
	}
	return out, tabID, nil
}

func (s *Service) openTab(ctx context.Context, args types.ToolArgs) (any, int, error) {
	url, _ := args.String("url")
	active := true
	if v, ok := args.Bool("active"); ok {
		active = v
	}
	info, err := s.browser.OpenTab(ctx, strings.TrimSpace(url), active)
	if err != nil {
		return nil, 0, err
	}
	return info, info.TabID, nil
}

// selectSpec reads value (string or number) and optionIndex. "index" is
// left to the element target.
func selectSpec(args types.ToolArgs) (locator.SelectSpec, error) {
	var spec locator.SelectSpec
	switch v := args["value"].(type) {
	case nil:
	case string:
		spec.Value = v
	case float64:
		spec.Value = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return spec, types.NewError(types.CodeValidation, "value must be a string or number", nil)
	}
	if args.Has("optionIndex") {
		i, ok := args.Int("optionIndex")
		if !ok || i < 0 {
			return spec, types.NewError(types.CodeValidation, "optionIndex must be a non-negative integer", nil)
		}
		spec.Index = &i
	}
	if spec.Value == "" && spec.Index == nil {
		return spec, types.NewError(types.CodeValidation, "select needs value or optionIndex", nil)
	}
	return spec, nil
}

func (s *Service) query(ctx context.Context, tabID int, args types.ToolArgs) (any, int, error) {
	spec := locator.QuerySpec{
		Mode:     args.StringOr("mode", locator.ModeText),
		Name:     args.StringOr("name", ""),
		MaxChars: args.IntOr("maxChars", 0),
		Pattern:  args.StringOr("pattern", ""),
	}
	if spec.Mode == locator.ModePageText {
		res, err := s.engine(tabID).Query(ctx, locator.Target{}, spec)
		return res, tabID, err
	}
	return s.withTarget(ctx, tabID, args, func(eng *locator.Engine, tgt locator.Target) (any, error) {
		return eng.Query(ctx, tgt, spec)
	})
}

// ScreenshotResult is returned by the screenshot tool. Data is base64 and is
// omitted when the image was saved to the snapshot store.
type ScreenshotResult struct {
	Format       string         `json:"format"`
	MimeType     string         `json:"mimeType"`
	SizeBytes    int            `json:"sizeBytes"`
	Data         string         `json:"data,omitempty"`
	SelectorUsed string         `json:"selectorUsed,omitempty"`
	Snapshot     *snapshot.Meta `json:"snapshot,omitempty"`
}

func (s *Service) screenshot(ctx context.Context, tabID int, args types.ToolArgs) (any, int, error) {
	format := strings.ToLower(strings.TrimSpace(args.StringOr("format", "png")))
	if format == "jpg" {
		format = "jpeg"
	}
	fullPage, _ := args.Bool("fullPage")
	opts := cdpcontrol.ScreenshotOptions{
		Format:   format,
		Quality:  args.IntOr("quality", 0),
		FullPage: fullPage,
	}

	var used string
	if locator.HasTarget(args) {
		tgt, err := locator.TargetFromArgs(args, s.actionTimeout)
		if err != nil {
			return nil, 0, err
		}
		el, loc, err := s.engine(tabID).Resolve(ctx, tgt)
		if err != nil {
			return nil, 0, err
		}
		opts.BackendID = el.BackendID
		used = loc.Raw
	}

	img, err := s.browser.Screenshot(ctx, tabID, opts)
	if err != nil {
		return nil, 0, err
	}
	res := ScreenshotResult{Format: format, MimeType: "image/" + format, SizeBytes: len(img), SelectorUsed: used}

	if save, _ := args.Bool("save"); save {
		if s.snaps == nil {
			return nil, 0, types.NewError(types.CodeValidation, "screenshot saving is not configured", nil)
		}
		meta := snapshot.Meta{TabID: tabID, Format: format, FullPage: fullPage, Selector: used}
		if info, ok := s.tabInfo(ctx, tabID); ok {
			meta.URL, meta.Title = info.URL, info.Title
		}
		stored, err := s.snaps.Save(meta, img)
		if err != nil {
			return nil, 0, types.NewError(types.CodeToolFailure, "save screenshot", err)
		}
		res.Snapshot = &stored
		return res, tabID, nil
	}
	res.Data = base64.StdEncoding.EncodeToString(img)
	return res, tabID, nil
}

func (s *Service) tabInfo(ctx context.Context, tabID int) (types.TabInfo, bool) {
	tabs, err := s.browser.ListTabs(ctx)
	if err != nil {
		s.logger.Debug("tab lookup for screenshot metadata failed", "tab_id", tabID, "error", err)
		return types.TabInfo{}, false
	}
	for _, t := range tabs {
		if t.TabID == tabID {
			return t, true
		}
	}
	return types.TabInfo{}, false
}

// DownloadResult is returned by the download tool.
type DownloadResult struct {
	cdpcontrol.DownloadResult
	SelectorUsed string `json:"selectorUsed,omitempty"`
}

func (s *Service) download(ctx context.Context, tabID int, args types.ToolArgs) (any, int, error) {
	url, _ := args.String("url")
	url = strings.TrimSpace(url)
	hasTarget := locator.HasTarget(args)
	if url == "" && !hasTarget {
		return nil, 0, types.NewError(types.CodeValidation, "download needs a url or a selector", nil)
	}
	timeout := DefaultDownloadTimeout
	if ms, ok := args.Int("timeoutMs"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	var used string
	trigger := func(ctx context.Context) error {
		return s.browser.TabPage(tabID).StartDownload(ctx, url)
	}
	if hasTarget {
		tgt, err := locator.TargetFromArgs(args, s.actionTimeout)
		if err != nil {
			return nil, 0, err
		}
		trigger = func(ctx context.Context) error {
			res, err := s.engine(tabID).Click(ctx, tgt)
			if err != nil {
				return err
			}
			used = res.SelectorUsed
			return nil
		}
	}

	res, err := s.browser.Download(ctx, s.downloadDir, timeout, trigger)
	if err != nil {
		return nil, 0, err
	}
	return DownloadResult{DownloadResult: res, SelectorUsed: used}, tabID, nil
}
