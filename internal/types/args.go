package types

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ToolArgs is the JSON argument object of a tool call. Numbers decoded from
// JSON arrive as float64; the accessors accept both float64 and int so
// arguments built in Go and arguments read off the wire behave alike.
type ToolArgs map[string]any

// Clone returns a shallow copy so routing can rewrite fields without
// touching the caller's map.
func (a ToolArgs) Clone() ToolArgs {
	out := make(ToolArgs, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Has reports whether key is present and not null.
func (a ToolArgs) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// Int returns an integral argument.
func (a ToolArgs) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		return i, err == nil
	}
	return 0, false
}

// IntOr returns an integral argument or def.
func (a ToolArgs) IntOr(key string, def int) int {
	if v, ok := a.Int(key); ok {
		return v
	}
	return def
}

// String returns a string argument.
func (a ToolArgs) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// StringOr returns a string argument or def.
func (a ToolArgs) StringOr(key, def string) string {
	if s, ok := a.String(key); ok {
		return s
	}
	return def
}

// Bool returns a boolean argument.
func (a ToolArgs) Bool(key string) (bool, bool) {
	b, ok := a[key].(bool)
	return b, ok
}

// Strings returns a string-list argument; a single string is returned as a
// one-element list.
func (a ToolArgs) Strings(key string) []string {
	switch v := a[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// TabID returns the tabId argument.
func (a ToolArgs) TabID() (int, bool) {
	return a.Int("tabId")
}

// SetTabID sets the tabId argument.
func (a ToolArgs) SetTabID(id int) {
	a["tabId"] = id
}
