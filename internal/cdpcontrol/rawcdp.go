package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// rawCDP is a minimal CDP client over the browser-level websocket. It
// attaches flat sessions on demand and never enables auto-attach or target
// discovery, so it coexists with whatever else drives the browser.
type rawCDP struct {
	httpBase string // e.g. "http://127.0.0.1:9222"

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase:      strings.TrimRight(httpBase, "/"),
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

// connect dials the browser-level WebSocket endpoint.
func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	wsURL, err := r.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}

	slog.Debug("rawcdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}

	r.conn = conn
	r.pending = make(map[int64]chan json.RawMessage)
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *rawCDP) connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// readLoop processes incoming messages and dispatches responses to waiters.
func (r *rawCDP) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			r.closeAllPending()
			return
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			r.pendingMu.Lock()
			ch, ok := r.pending[msg.ID]
			if ok {
				delete(r.pending, msg.ID)
			}
			r.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		} else if msg.Method != "" {
			r.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (r *rawCDP) closeAllPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

func (r *rawCDP) deletePending(id int64) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

// sendRaw marshals an envelope, sends it over the WebSocket, and waits for
// the response keyed by the given id.
func (r *rawCDP) sendRaw(ctx context.Context, id int64, envelope any) (json.RawMessage, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("rawcdp: not connected")
	}

	ch := make(chan json.RawMessage, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	data, err := json.Marshal(envelope)
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: marshal: %w", err)
	}

	r.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.mu.Unlock()
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: send: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("rawcdp: connection closed")
		}
		return resp, nil
	case <-ctx.Done():
		r.deletePending(id)
		return nil, ctx.Err()
	}
}

// sendFlat sends a command, on a flattened session when sessionID is set,
// and returns the inner "result" field.
func (r *rawCDP) sendFlat(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	id := r.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	resp, err := r.sendRaw(ctx, id, req)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return nil, fmt.Errorf("rawcdp: unmarshal %s: %w", method, err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("rawcdp: %s: %s", method, envelope.Error.Message)
	}
	return envelope.Result, nil
}

// call is sendFlat followed by decoding the result into out.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params, out any) error {
	raw, err := r.sendFlat(ctx, sessionID, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("rawcdp: unmarshal %s: %w", method, err)
	}
	return nil
}

// attachToTarget attaches a flat session to the given target.
func (r *rawCDP) attachToTarget(ctx context.Context, targetID target.ID) (string, error) {
	params := struct {
		TargetID target.ID `json:"targetId"`
		Flatten  bool      `json:"flatten"`
	}{TargetID: targetID, Flatten: true}

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := r.call(ctx, "", "Target.attachToTarget", params, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("rawcdp: attach: empty session id")
	}
	return resp.SessionID, nil
}

// detachFromTarget detaches from a session without closing the target.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	params := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	return r.call(ctx, "", "Target.detachFromTarget", params, nil)
}

// createTarget opens a new page. background keeps the current tab in front.
func (r *rawCDP) createTarget(ctx context.Context, url string, background bool) (target.ID, error) {
	params := struct {
		URL        string `json:"url"`
		Background bool   `json:"background,omitempty"`
	}{URL: url, Background: background}

	var resp struct {
		TargetID target.ID `json:"targetId"`
	}
	if err := r.call(ctx, "", "Target.createTarget", params, &resp); err != nil {
		return "", err
	}
	return resp.TargetID, nil
}

func (r *rawCDP) closeTarget(ctx context.Context, targetID target.ID) error {
	params := struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: targetID}
	return r.call(ctx, "", "Target.closeTarget", params, nil)
}

func (r *rawCDP) activateTarget(ctx context.Context, targetID target.ID) error {
	params := struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: targetID}
	return r.call(ctx, "", "Target.activateTarget", params, nil)
}

// listTargets fetches open targets via the HTTP /json/list endpoint.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, r.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rawcdp: /json/list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}

	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

// evaluate runs a fixed expression on the session and returns its JSON value.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, expr string) (json.RawMessage, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: expr, ReturnByValue: true, AwaitPromise: true}

	var resp remoteResult
	if err := r.call(ctx, sessionID, "Runtime.evaluate", params, &resp); err != nil {
		return nil, err
	}
	return resp.value()
}

// callFunctionOn calls fn with this bound to the remote object.
func (r *rawCDP) callFunctionOn(ctx context.Context, sessionID, objectID, fn string, args ...any) (json.RawMessage, error) {
	type callArg struct {
		Value any `json:"value"`
	}
	params := struct {
		FunctionDeclaration string    `json:"functionDeclaration"`
		ObjectID            string    `json:"objectId"`
		Arguments           []callArg `json:"arguments,omitempty"`
		ReturnByValue       bool      `json:"returnByValue"`
		AwaitPromise        bool      `json:"awaitPromise"`
	}{FunctionDeclaration: fn, ObjectID: objectID, ReturnByValue: true, AwaitPromise: true}
	for _, a := range args {
		params.Arguments = append(params.Arguments, callArg{Value: a})
	}

	var resp remoteResult
	if err := r.call(ctx, sessionID, "Runtime.callFunctionOn", params, &resp); err != nil {
		return nil, err
	}
	return resp.value()
}

func (r *rawCDP) releaseObject(ctx context.Context, sessionID, objectID string) error {
	params := struct {
		ObjectID string `json:"objectId"`
	}{ObjectID: objectID}
	return r.call(ctx, sessionID, "Runtime.releaseObject", params, nil)
}

type remoteResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

func (r remoteResult) value() (json.RawMessage, error) {
	if d := r.ExceptionDetails; d != nil {
		msg := d.Text
		if d.Exception != nil && d.Exception.Description != "" {
			msg = d.Exception.Description
		}
		return nil, fmt.Errorf("rawcdp: page exception: %s", msg)
	}
	if len(r.Result.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return r.Result.Value, nil
}

// getDocument returns the whole DOM, piercing shadow roots and iframes.
func (r *rawCDP) getDocument(ctx context.Context, sessionID string) (*cdp.Node, error) {
	params := struct {
		Depth  int  `json:"depth"`
		Pierce bool `json:"pierce"`
	}{Depth: -1, Pierce: true}

	var resp struct {
		Root *wireNode `json:"root"`
	}
	if err := r.call(ctx, sessionID, "DOM.getDocument", params, &resp); err != nil {
		return nil, err
	}
	if resp.Root == nil {
		return nil, fmt.Errorf("rawcdp: DOM.getDocument: empty root")
	}
	return resp.Root.node(), nil
}

// resolveNode turns a backend node id into a remote object id.
func (r *rawCDP) resolveNode(ctx context.Context, sessionID string, backendID cdp.BackendNodeID) (string, error) {
	params := struct {
		BackendNodeID cdp.BackendNodeID `json:"backendNodeId"`
	}{BackendNodeID: backendID}

	var resp struct {
		Object struct {
			ObjectID string `json:"objectId"`
		} `json:"object"`
	}
	if err := r.call(ctx, sessionID, "DOM.resolveNode", params, &resp); err != nil {
		return "", err
	}
	if resp.Object.ObjectID == "" {
		return "", fmt.Errorf("rawcdp: DOM.resolveNode: no object for node %d", backendID)
	}
	return resp.Object.ObjectID, nil
}

func (r *rawCDP) scrollIntoView(ctx context.Context, sessionID string, backendID cdp.BackendNodeID) error {
	params := struct {
		BackendNodeID cdp.BackendNodeID `json:"backendNodeId"`
	}{BackendNodeID: backendID}
	return r.call(ctx, sessionID, "DOM.scrollIntoViewIfNeeded", params, nil)
}

func (r *rawCDP) setFileInputFiles(ctx context.Context, sessionID string, backendID cdp.BackendNodeID, files []string) error {
	params := struct {
		Files         []string          `json:"files"`
		BackendNodeID cdp.BackendNodeID `json:"backendNodeId"`
	}{Files: files, BackendNodeID: backendID}
	return r.call(ctx, sessionID, "DOM.setFileInputFiles", params, nil)
}

// insertText types text into the currently focused element via CDP Input.insertText.
func (r *rawCDP) insertText(ctx context.Context, sessionID, text string) error {
	params := struct {
		Text string `json:"text"`
	}{Text: text}

	if _, err := r.sendFlat(ctx, sessionID, "Input.insertText", params); err != nil {
		return fmt.Errorf("rawcdp: insertText: %w", err)
	}
	return nil
}

// navigate loads url in the session's main frame. A non-empty errorText
// from the browser is returned as an error.
func (r *rawCDP) navigate(ctx context.Context, sessionID, url string) error {
	params := struct {
		URL string `json:"url"`
	}{URL: url}

	var resp struct {
		ErrorText string `json:"errorText"`
	}
	if err := r.call(ctx, sessionID, "Page.navigate", params, &resp); err != nil {
		return err
	}
	if resp.ErrorText != "" {
		return fmt.Errorf("rawcdp: navigate %s: %s", url, resp.ErrorText)
	}
	return nil
}

type clipRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

// captureScreenshot captures a screenshot of the page via CDP Page.captureScreenshot.
// Returns the raw base64-encoded image data.
func (r *rawCDP) captureScreenshot(ctx context.Context, sessionID, format string, quality int, fullPage bool, clip *clipRect) (string, error) {
	params := struct {
		Format                string    `json:"format"`
		Quality               int       `json:"quality,omitempty"`
		Clip                  *clipRect `json:"clip,omitempty"`
		CaptureBeyondViewport bool      `json:"captureBeyondViewport,omitempty"`
		FromSurface           bool      `json:"fromSurface"`
	}{
		Format:                format,
		Clip:                  clip,
		FromSurface:           true,
		CaptureBeyondViewport: fullPage,
	}
	if format != "png" && quality > 0 {
		params.Quality = quality
	}

	var resp struct {
		Data string `json:"data"`
	}
	if err := r.call(ctx, sessionID, "Page.captureScreenshot", params, &resp); err != nil {
		return "", fmt.Errorf("rawcdp: captureScreenshot: %w", err)
	}
	return resp.Data, nil
}

// contentBox returns the page-space bounding box of a node.
func (r *rawCDP) contentBox(ctx context.Context, sessionID string, backendID cdp.BackendNodeID) (*clipRect, error) {
	params := struct {
		BackendNodeID cdp.BackendNodeID `json:"backendNodeId"`
	}{BackendNodeID: backendID}

	var resp struct {
		Quads [][]float64 `json:"quads"`
	}
	if err := r.call(ctx, sessionID, "DOM.getContentQuads", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Quads) == 0 || len(resp.Quads[0]) < 8 {
		return nil, fmt.Errorf("rawcdp: node %d has no box", backendID)
	}
	q := resp.Quads[0]
	minX, minY, maxX, maxY := q[0], q[1], q[0], q[1]
	for i := 2; i+1 < len(q); i += 2 {
		minX, maxX = min(minX, q[i]), max(maxX, q[i])
		minY, maxY = min(minY, q[i+1]), max(maxY, q[i+1])
	}
	return &clipRect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY, Scale: 1}, nil
}

// setDownloadBehavior routes downloads of every browser context into dir
// and enables Browser.download* events.
func (r *rawCDP) setDownloadBehavior(ctx context.Context, dir string) error {
	params := struct {
		Behavior      string `json:"behavior"`
		DownloadPath  string `json:"downloadPath,omitempty"`
		EventsEnabled bool   `json:"eventsEnabled"`
	}{Behavior: "allowAndName", DownloadPath: dir, EventsEnabled: true}
	return r.call(ctx, "", "Browser.setDownloadBehavior", params, nil)
}

// registerEventHandler registers a handler for a CDP event method (e.g.
// "Browser.downloadProgress"). Returns an unregister function. Handlers run
// on the read loop and must not block.
func (r *rawCDP) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.seq.Add(1)
	r.eventMu.Lock()
	r.eventHandlers[method] = append(r.eventHandlers[method], eventHandler{id: id, fn: fn})
	r.eventMu.Unlock()
	return func() {
		r.eventMu.Lock()
		defer r.eventMu.Unlock()
		handlers := r.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				r.eventHandlers[method] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

// dispatchEvent invokes all registered handlers for the given CDP event method.
func (r *rawCDP) dispatchEvent(method, sessionID string, params json.RawMessage) {
	r.eventMu.RLock()
	handlers := make([]eventHandler, len(r.eventHandlers[method]))
	copy(handlers, r.eventHandlers[method])
	r.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(sessionID, params)
	}
}

// browserWSURL fetches the WebSocket debugger URL from /json/version.
func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rawcdp: /json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
