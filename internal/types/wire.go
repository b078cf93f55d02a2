package types

import "encoding/json"

// Message types on the broker socket and the native messaging channel.
const (
	MsgHello         = "hello"
	MsgRequest       = "request"
	MsgResponse      = "response"
	MsgFromExtension = "from_extension"
	MsgToExtension   = "to_extension"
	MsgHostReady     = "host_ready"
	MsgToolRequest   = "tool_request"
	MsgToolResponse  = "tool_response"
)

// Roles announced in hello.
const (
	RoleNativeHost = "native-host"
	RolePlugin     = "plugin"
)

// Broker operations a client may request.
const (
	OpStatus     = "status"
	OpListClaims = "list_claims"
	OpClaimTab   = "claim_tab"
	OpReleaseTab = "release_tab"
	OpTool       = "tool"
)

// Envelope is decoded first to learn a message's type.
type Envelope struct {
	Type string `json:"type"`
}

type Hello struct {
	Type      string `json:"type"`
	Role      string `json:"role"`
	SessionID string `json:"sessionId,omitempty"`
}

// Request is a client operation. Only the fields relevant to Op are set.
type Request struct {
	Type  string   `json:"type"`
	ID    int64    `json:"id"`
	Op    string   `json:"op"`
	TabID *int     `json:"tabId,omitempty"`
	Force bool     `json:"force,omitempty"`
	Tool  string   `json:"tool,omitempty"`
	Args  ToolArgs `json:"args,omitempty"`
}

type Response struct {
	Type  string          `json:"type"`
	ID    int64           `json:"id"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// OKResponse builds a successful response; data is marshalled to JSON.
func OKResponse(id int64, data any) (Response, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Response{}, err
	}
	return Response{Type: MsgResponse, ID: id, OK: true, Data: raw}, nil
}

// ErrorResponse flattens err into a failed response.
func ErrorResponse(id int64, err error) Response {
	return Response{Type: MsgResponse, ID: id, OK: false, Error: err.Error(), Code: ErrorCode(err)}
}

// Err rebuilds the error carried by a failed response.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	code := r.Code
	if code == "" {
		code = CodeToolFailure
	}
	return &CodedError{Code: code, Message: r.Error}
}

type ToolRequest struct {
	Type string   `json:"type"`
	ID   int64    `json:"id"`
	Tool Tool     `json:"tool"`
	Args ToolArgs `json:"args"`
}

// ToolResponse answers a ToolRequest. TabID names the tab the tool actually
// acted on, when the host knows it.
type ToolResponse struct {
	Type   string          `json:"type"`
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
	TabID  *int            `json:"tabId,omitempty"`
}

// Err rebuilds the error carried by a failed tool response.
func (r ToolResponse) Err() error {
	if r.Error == "" {
		return nil
	}
	code := r.Code
	if code == "" {
		code = CodeToolFailure
	}
	return &CodedError{Code: code, Message: r.Error}
}

type FromExtension struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type ToExtension struct {
	Type    string `json:"type"`
	Message any    `json:"message"`
}

type HostReady struct {
	Type   string  `json:"type"`
	Claims []Claim `json:"claims"`
}

// ToolCall is one tool invocation as seen by an upstream backend.
type ToolCall struct {
	SessionID string
	Tool      Tool
	Args      ToolArgs
}

// ToolResult is the successful outcome of a ToolCall.
type ToolResult struct {
	Result json.RawMessage
	TabID  *int
}
