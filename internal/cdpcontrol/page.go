package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"

	"github.com/dgnsrekt/tablease/internal/dom"
	"github.com/dgnsrekt/tablease/internal/locator"
	"github.com/dgnsrekt/tablease/internal/types"
)

var _ locator.Page = (*Page)(nil)

// Page is one tab seen through the locator engine's Page interface. The
// snapshot comes from DOM.getDocument; element reads and actions run fixed
// functions on the node resolved from its backend id.
type Page struct {
	client *Client
	tabID  int
}

// TabID returns the tab this page drives.
func (p *Page) TabID() int { return p.tabID }

func (p *Page) Document(ctx context.Context) (*dom.Tree, error) {
	var root *cdp.Node
	err := p.client.withTab(ctx, p.tabID, func(ctx context.Context, rc *rawCDP, sid string) error {
		var err error
		root, err = rc.getDocument(ctx, sid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dom.FromCDP(root), nil
}

func (p *Page) Visible(ctx context.Context, el *dom.Element) (bool, error) {
	var visible bool
	if err := p.callOn(ctx, el, fnVisible, &visible); err != nil {
		return false, err
	}
	return visible, nil
}

func (p *Page) Value(ctx context.Context, el *dom.Element) (string, error) {
	var v string
	if err := p.callOn(ctx, el, fnValue, &v); err != nil {
		return "", err
	}
	return v, nil
}

func (p *Page) Property(ctx context.Context, el *dom.Element, name string) (any, error) {
	var v any
	if err := p.callOn(ctx, el, fnProperty, &v, name); err != nil {
		return nil, err
	}
	return v, nil
}

func (p *Page) PseudoContent(ctx context.Context) ([]string, error) {
	var out []string
	err := p.client.withTab(ctx, p.tabID, func(ctx context.Context, rc *rawCDP, sid string) error {
		raw, err := rc.evaluate(ctx, sid, exprPseudoContent)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &out)
	})
	return out, err
}

func (p *Page) Click(ctx context.Context, el *dom.Element) error {
	return p.callOn(ctx, el, fnClick, nil)
}

func (p *Page) Type(ctx context.Context, el *dom.Element, kind dom.EditKind, text string, clear bool) error {
	switch kind {
	case dom.EditValue:
		return p.callOn(ctx, el, fnSetValue, nil, text, clear)
	case dom.EditContent:
		var inserted bool
		if err := p.callOn(ctx, el, fnInsertContent, &inserted, text, clear); err != nil {
			return err
		}
		if inserted {
			return nil
		}
		slog.Debug("editing command refused text, inserting via input domain", "tab_id", p.tabID)
		return p.client.withTab(ctx, p.tabID, func(ctx context.Context, rc *rawCDP, sid string) error {
			return rc.insertText(ctx, sid, text)
		})
	default:
		return types.NewError(types.CodeUnsupportedElement, "element is not editable", nil)
	}
}

func (p *Page) SelectOption(ctx context.Context, el *dom.Element, index int) error {
	var ok bool
	if err := p.callOn(ctx, el, fnSelectIndex, &ok, index); err != nil {
		return err
	}
	if !ok {
		return types.Errorf(types.CodeToolFailure, "option %d is not in the live select", index)
	}
	return nil
}

func (p *Page) ScrollIntoView(ctx context.Context, el *dom.Element) error {
	if el == nil || el.BackendID <= 0 {
		return errNoBackendID
	}
	err := p.client.withTab(ctx, p.tabID, func(ctx context.Context, rc *rawCDP, sid string) error {
		return rc.scrollIntoView(ctx, sid, cdp.BackendNodeID(el.BackendID))
	})
	if err == nil {
		return nil
	}
	slog.Debug("scrollIntoViewIfNeeded failed, using element scroll", "tab_id", p.tabID, "error", err)
	return p.callOn(ctx, el, fnScrollIntoView, nil)
}

func (p *Page) ScrollBy(ctx context.Context, dx, dy int) error {
	return p.client.withTab(ctx, p.tabID, func(ctx context.Context, rc *rawCDP, sid string) error {
		_, err := rc.evaluate(ctx, sid, fmt.Sprintf(exprScrollBy, dx, dy))
		return err
	})
}

func (p *Page) SetInputFiles(ctx context.Context, el *dom.Element, files []string) error {
	if el == nil || el.BackendID <= 0 {
		return errNoBackendID
	}
	abs := make([]string, 0, len(files))
	for _, f := range files {
		path, err := filepath.Abs(f)
		if err != nil {
			return types.Errorf(types.CodeValidation, "bad upload path %q", f)
		}
		st, err := os.Stat(path)
		if err != nil {
			return types.NewError(types.CodeValidation, "upload file not readable: "+f, err)
		}
		if st.IsDir() {
			return types.Errorf(types.CodeValidation, "upload path %q is a directory", f)
		}
		abs = append(abs, path)
	}
	return p.client.withTab(ctx, p.tabID, func(ctx context.Context, rc *rawCDP, sid string) error {
		return rc.setFileInputFiles(ctx, sid, cdp.BackendNodeID(el.BackendID), abs)
	})
}

// StartDownload asks the page to download url as if a link were clicked.
func (p *Page) StartDownload(ctx context.Context, url string) error {
	return p.client.withTab(ctx, p.tabID, func(ctx context.Context, rc *rawCDP, sid string) error {
		_, err := rc.evaluate(ctx, sid, fmt.Sprintf(exprStartDownload, jsString(url)))
		return err
	})
}

var errNoBackendID = types.NewError(types.CodeToolFailure, "element has no backend node id", nil)

// callOn runs fn with this bound to el and decodes the result into out.
func (p *Page) callOn(ctx context.Context, el *dom.Element, fn string, out any, args ...any) error {
	if el == nil || el.BackendID <= 0 {
		return errNoBackendID
	}
	return p.client.withTab(ctx, p.tabID, func(ctx context.Context, rc *rawCDP, sid string) error {
		objectID, err := rc.resolveNode(ctx, sid, cdp.BackendNodeID(el.BackendID))
		if err != nil {
			return types.NewError(types.CodeNotFound, "element is no longer in the page", err)
		}
		defer func() {
			relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := rc.releaseObject(relCtx, sid, objectID); err != nil {
				slog.Debug("release remote object failed", "tab_id", p.tabID, "error", err)
			}
		}()
		raw, err := rc.callFunctionOn(ctx, sid, objectID, fn, args...)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode page result: %w", err)
		}
		return nil
	})
}
