package cdpcontrol

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgnsrekt/tablease/internal/types"
)

// DownloadResult describes a finished download.
type DownloadResult struct {
	GUID     string `json:"guid"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
}

// downloadEvent is queued between the read loop and the waiting caller.
type downloadEvent struct {
	begin    bool
	guid     string
	url      string
	filename string
	state    string
	received int64
}

// Download routes browser downloads into dir, runs trigger and waits up to
// timeout for the first download it starts to complete.
func (c *Client) Download(ctx context.Context, dir string, timeout time.Duration, trigger func(ctx context.Context) error) (DownloadResult, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return DownloadResult{}, types.NewError(types.CodeValidation, "bad download dir", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return DownloadResult{}, types.NewError(types.CodeToolFailure, "create download dir", err)
	}
	rc, err := c.conn(ctx)
	if err != nil {
		return DownloadResult{}, err
	}

	c.mu.Lock()
	needBehavior := c.downloadDir != abs
	c.mu.Unlock()
	if needBehavior {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		err := rc.setDownloadBehavior(callCtx, abs)
		cancel()
		if err != nil {
			return DownloadResult{}, wrapCallErr(callCtx, "enable downloads", err)
		}
		c.mu.Lock()
		c.downloadDir = abs
		c.mu.Unlock()
	}

	events := make(chan downloadEvent, 64)
	push := func(evt downloadEvent) {
		select {
		case events <- evt:
		default:
			// Full: progress updates are superseded by later ones.
		}
	}
	unBegin := rc.registerEventHandler("Browser.downloadWillBegin", func(_ string, params json.RawMessage) {
		var p struct {
			GUID              string `json:"guid"`
			URL               string `json:"url"`
			SuggestedFilename string `json:"suggestedFilename"`
		}
		if json.Unmarshal(params, &p) == nil {
			push(downloadEvent{begin: true, guid: p.GUID, url: p.URL, filename: p.SuggestedFilename})
		}
	})
	defer unBegin()
	unProgress := rc.registerEventHandler("Browser.downloadProgress", func(_ string, params json.RawMessage) {
		var p struct {
			GUID          string  `json:"guid"`
			ReceivedBytes float64 `json:"receivedBytes"`
			State         string  `json:"state"`
		}
		if json.Unmarshal(params, &p) == nil && p.State != "inProgress" {
			push(downloadEvent{guid: p.GUID, state: p.State, received: int64(p.ReceivedBytes)})
		}
	})
	defer unProgress()

	if err := trigger(ctx); err != nil {
		return DownloadResult{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var res DownloadResult
	for {
		select {
		case <-ctx.Done():
			return DownloadResult{}, types.NewError(types.CodeRequestTimeout, "download wait cancelled", ctx.Err())
		case <-timer.C:
			if res.GUID == "" {
				return DownloadResult{}, types.Errorf(types.CodeRequestTimeout, "no download started within %s", timeout)
			}
			return DownloadResult{}, types.Errorf(types.CodeRequestTimeout, "download %s did not finish within %s", res.URL, timeout)
		case evt := <-events:
			switch {
			case evt.begin && res.GUID == "":
				res = DownloadResult{GUID: evt.guid, URL: evt.url, Filename: evt.filename}
				slog.Info("download started", "url", evt.url, "guid", evt.guid)
			case evt.begin, evt.guid != res.GUID:
			case evt.state == "completed":
				res.Bytes = evt.received
				res.Path = finishDownload(abs, res.GUID, res.Filename)
				slog.Info("download finished", "url", res.URL, "path", res.Path, "bytes", res.Bytes)
				return res, nil
			case evt.state == "canceled":
				return DownloadResult{}, types.Errorf(types.CodeToolFailure, "download of %s was canceled", res.URL)
			}
		}
	}
}

// finishDownload renames the guid-named file to its suggested name,
// prefixing the guid when that name is taken.
func finishDownload(dir, guid, suggested string) string {
	src := filepath.Join(dir, guid)
	name := filepath.Base(strings.TrimSpace(suggested))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return src
	}
	dst := filepath.Join(dir, name)
	if _, err := os.Stat(dst); err == nil {
		dst = filepath.Join(dir, guid[:min(8, len(guid))]+"-"+name)
	}
	if err := os.Rename(src, dst); err != nil {
		slog.Warn("download rename failed", "from", src, "to", dst, "error", err)
		return src
	}
	return dst
}
