package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/tablease/internal/types"
)

func (c *Client) Status(ctx context.Context) (types.Status, error) {
	var st types.Status
	data, err := c.do(ctx, types.Request{Op: types.OpStatus})
	if err != nil {
		return st, err
	}
	return st, decode(data, &st)
}

func (c *Client) ListClaims(ctx context.Context) ([]types.Claim, error) {
	var claims []types.Claim
	data, err := c.do(ctx, types.Request{Op: types.OpListClaims})
	if err != nil {
		return nil, err
	}
	return claims, decode(data, &claims)
}

// ClaimTab takes tabID for this session and makes it the default tab.
// force takes it over from another session.
func (c *Client) ClaimTab(ctx context.Context, tabID int, force bool) (types.Claim, error) {
	var claim types.Claim
	if tabID <= 0 {
		return claim, types.Errorf(types.CodeValidation, "tabId must be a positive integer, got %d", tabID)
	}
	data, err := c.do(ctx, types.Request{Op: types.OpClaimTab, TabID: &tabID, Force: force})
	if err != nil {
		return claim, err
	}
	return claim, decode(data, &claim)
}

// ReleaseTab drops this session's claim on tabID. It reports false when
// the tab was not claimed.
func (c *Client) ReleaseTab(ctx context.Context, tabID int) (bool, error) {
	if tabID <= 0 {
		return false, types.Errorf(types.CodeValidation, "tabId must be a positive integer, got %d", tabID)
	}
	data, err := c.do(ctx, types.Request{Op: types.OpReleaseTab, TabID: &tabID})
	if err != nil {
		return false, err
	}
	var out struct {
		Released bool `json:"released"`
	}
	if err := decode(data, &out); err != nil {
		return false, err
	}
	return out.Released, nil
}

// Tool runs one tool through the broker. The returned TabID names the tab
// the tool acted on, when known.
func (c *Client) Tool(ctx context.Context, name string, args types.ToolArgs) (types.ToolResult, error) {
	tool, err := types.ParseTool(name)
	if err != nil {
		return types.ToolResult{}, err
	}
	if args.Has("tabId") {
		id, ok := args.TabID()
		if !ok || id <= 0 {
			return types.ToolResult{}, types.Errorf(types.CodeValidation, "tabId must be a positive integer")
		}
	}
	data, err := c.do(ctx, types.Request{Op: types.OpTool, Tool: tool.String(), Args: args})
	if err != nil {
		return types.ToolResult{}, err
	}
	var out struct {
		Result json.RawMessage `json:"result"`
		TabID  *int            `json:"tabId"`
	}
	if err := decode(data, &out); err != nil {
		return types.ToolResult{}, err
	}
	return types.ToolResult{Result: out.Result, TabID: out.TabID}, nil
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return types.NewError(types.CodeToolFailure, fmt.Sprintf("decode broker response into %T", v), err)
	}
	return nil
}
