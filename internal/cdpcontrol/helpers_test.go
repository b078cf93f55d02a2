package cdpcontrol

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type fakeCall struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

type fakeTarget struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// fakeCDP serves /json/version, /json/list and a browser websocket that
// answers commands from per-method handlers.
type fakeCDP struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	targets  []fakeTarget
	handlers map[string]func(fakeCall) (any, error)
	calls    []fakeCall
	conns    []net.Conn
	connects int

	writeMu sync.Mutex
}

func newFakeCDP(t *testing.T, targets ...fakeTarget) *fakeCDP {
	t.Helper()
	f := &fakeCDP{t: t, targets: targets, handlers: make(map[string]func(fakeCall) (any, error))}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		list := append([]fakeTarget(nil), f.targets...)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(list)
	})
	mux.HandleFunc("/devtools/browser/fake", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.connects++
		f.mu.Unlock()
		go f.serve(conn)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.close)
	return f
}

func (f *fakeCDP) URL() string { return f.srv.URL }

func (f *fakeCDP) handle(method string, fn func(fakeCall) (any, error)) {
	f.mu.Lock()
	f.handlers[method] = fn
	f.mu.Unlock()
}

func (f *fakeCDP) setTargets(targets ...fakeTarget) {
	f.mu.Lock()
	f.targets = targets
	f.mu.Unlock()
}

func (f *fakeCDP) callsTo(method string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCDP) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// dropConnections closes every open websocket.
func (f *fakeCDP) dropConnections() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// emit sends an event on every open websocket.
func (f *fakeCDP) emit(method string, params any) {
	data, err := json.Marshal(map[string]any{"method": method, "params": params})
	if err != nil {
		f.t.Errorf("marshal event: %v", err)
		return
	}
	f.mu.Lock()
	conns := append([]net.Conn(nil), f.conns...)
	f.mu.Unlock()
	for _, c := range conns {
		f.writeMu.Lock()
		_ = wsutil.WriteServerText(c, data)
		f.writeMu.Unlock()
	}
}

func (f *fakeCDP) close() {
	f.dropConnections()
	f.srv.Close()
}

func (f *fakeCDP) serve(conn net.Conn) {
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &req) != nil {
			continue
		}
		call := fakeCall{Method: req.Method, SessionID: req.SessionID, Params: req.Params}
		f.mu.Lock()
		f.calls = append(f.calls, call)
		h := f.handlers[req.Method]
		f.mu.Unlock()

		var result any = map[string]any{}
		var callErr error
		switch {
		case h != nil:
			result, callErr = h(call)
		case req.Method == "Target.attachToTarget":
			var p struct {
				TargetID string `json:"targetId"`
			}
			_ = json.Unmarshal(req.Params, &p)
			result = map[string]string{"sessionId": "session-" + p.TargetID}
		case req.Method == "DOM.resolveNode":
			var p struct {
				BackendNodeID int64 `json:"backendNodeId"`
			}
			_ = json.Unmarshal(req.Params, &p)
			result = map[string]any{"object": map[string]any{"objectId": "obj-" + jsonNumber(p.BackendNodeID)}}
		}

		resp := map[string]any{"id": req.ID}
		if callErr != nil {
			resp["error"] = map[string]any{"code": -32000, "message": callErr.Error()}
		} else {
			resp["result"] = result
		}
		out, _ := json.Marshal(resp)
		f.writeMu.Lock()
		err = wsutil.WriteServerText(conn, out)
		f.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// byValue wraps v as a Runtime remote object result.
func byValue(v any) map[string]any {
	return map[string]any{"result": map[string]any{"type": "object", "value": v}}
}

// functionOf returns the functionDeclaration of a Runtime.callFunctionOn call.
func functionOf(c fakeCall) string {
	var p struct {
		FunctionDeclaration string `json:"functionDeclaration"`
	}
	_ = json.Unmarshal(c.Params, &p)
	return p.FunctionDeclaration
}

func expressionOf(c fakeCall) string {
	var p struct {
		Expression string `json:"expression"`
	}
	_ = json.Unmarshal(c.Params, &p)
	return p.Expression
}

var errFake = errors.New("fake failure")

func pageTarget(id, url string) fakeTarget {
	return fakeTarget{ID: id, Type: "page", URL: url, Title: strings.ToUpper(id)}
}
