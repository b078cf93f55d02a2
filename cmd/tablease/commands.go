package main

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/dgnsrekt/tablease/internal/client"
	"github.com/dgnsrekt/tablease/internal/types"
)

func getCmdStatus(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show broker connectivity, claims and this session's state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return gs.withClient(cmd, func(ctx context.Context, c *client.Client) (any, error) {
				return c.Status(ctx)
			})
		},
	}
}

func getCmdClaims(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "claims",
		Short: "List every claimed tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return gs.withClient(cmd, func(ctx context.Context, c *client.Client) (any, error) {
				return c.ListClaims(ctx)
			})
		},
	}
}

func getCmdClaim(gs *globalState) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "claim TAB_ID",
		Short: "Claim a tab for this session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tabID, err := parseTabID(args[0])
			if err != nil {
				return err
			}
			return gs.withClient(cmd, func(ctx context.Context, c *client.Client) (any, error) {
				return c.ClaimTab(ctx, tabID, force)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "take the tab over from another session")
	return cmd
}

func getCmdRelease(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "release TAB_ID",
		Short: "Release this session's claim on a tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tabID, err := parseTabID(args[0])
			if err != nil {
				return err
			}
			return gs.withClient(cmd, func(ctx context.Context, c *client.Client) (any, error) {
				released, err := c.ReleaseTab(ctx, tabID)
				return map[string]any{"tabId": tabID, "released": released}, err
			})
		},
	}
}

func getCmdTabs(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "tabs",
		Short: "List open browser tabs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return gs.withClient(cmd, func(ctx context.Context, c *client.Client) (any, error) {
				res, err := c.Tool(ctx, types.ToolGetTabs.String(), nil)
				if err != nil {
					return nil, err
				}
				return res.Result, nil
			})
		},
	}
}

func getCmdTool(gs *globalState) *cobra.Command {
	var (
		argsJSON string
		tabID    int
		field    string
	)
	cmd := &cobra.Command{
		Use:   "tool NAME [key=value ...]",
		Short: "Run a browser tool",
		Long: `Run a browser tool through the broker.

Arguments are key=value pairs; values that parse as JSON (numbers, booleans,
lists, objects) are passed as such, anything else as a string. --args takes a
JSON object merged underneath the pairs.

  tablease tool open_tab url=https://example.com
  tablease tool click --tab 3 selector='role:button:Save'
  tablease tool query --tab 3 mode=page_text maxChars=2000 --field text`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(argsJSON, args[1:])
			if err != nil {
				return err
			}
			if tabID != 0 {
				toolArgs.SetTabID(tabID)
			}
			return gs.withClient(cmd, func(ctx context.Context, c *client.Client) (any, error) {
				res, err := c.Tool(ctx, args[0], toolArgs)
				if err != nil {
					return nil, err
				}
				if field != "" {
					v := gjson.GetBytes(res.Result, field)
					if !v.Exists() {
						return nil, types.Errorf(types.CodeNotFound, "result has no field %q", field)
					}
					return json.RawMessage(v.Raw), nil
				}
				return map[string]any{"result": res.Result, "tabId": res.TabID}, nil
			})
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")
	cmd.Flags().IntVarP(&tabID, "tab", "t", 0, "tab id (shorthand for tabId=N)")
	cmd.Flags().StringVar(&field, "field", "", "print only this field of the result (gjson path)")
	return cmd
}

func getCmdTools(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List tool names",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			type info struct {
				Name        string `json:"name"`
				RequiresTab bool   `json:"requiresTab"`
			}
			var out []info
			for _, t := range types.Tools() {
				out = append(out, info{Name: t.String(), RequiresTab: t.RequiresTab()})
			}
			return gs.print(out)
		},
	}
}

func parseTabID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, types.Errorf(types.CodeValidation, "tab id must be a positive integer, got %q", s)
	}
	return id, nil
}

// parseToolArgs merges key=value pairs over a JSON object.
func parseToolArgs(base string, pairs []string) (types.ToolArgs, error) {
	args := types.ToolArgs{}
	if strings.TrimSpace(base) != "" {
		if err := json.Unmarshal([]byte(base), &args); err != nil {
			return nil, types.NewError(types.CodeValidation, "--args must be a JSON object", err)
		}
	}
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, types.Errorf(types.CodeValidation, "argument %q is not key=value", p)
		}
		args[key] = argValue(value)
	}
	return args, nil
}

func argValue(s string) any {
	if !gjson.Valid(s) {
		return s
	}
	switch r := gjson.Parse(s); r.Type {
	case gjson.Null:
		return nil
	case gjson.String:
		return r.String()
	case gjson.Number, gjson.True, gjson.False, gjson.JSON:
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}
