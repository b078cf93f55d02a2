// Package locator resolves declarative element descriptions against a page
// snapshot and runs one primitive action on the element it finds.
package locator

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html/atom"

	"github.com/dgnsrekt/tablease/internal/types"
)

// Kind is the search strategy of a locator.
type Kind string

const (
	KindCSS         Kind = "css"
	KindLabel       Kind = "label"
	KindAria        Kind = "aria"
	KindPlaceholder Kind = "placeholder"
	KindName        Kind = "name"
	KindRole        Kind = "role"
	KindText        Kind = "text"
	KindID          Kind = "id"
)

func parseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(s)) {
	case KindCSS:
		return KindCSS, true
	case KindLabel:
		return KindLabel, true
	case KindAria:
		return KindAria, true
	case KindPlaceholder:
		return KindPlaceholder, true
	case KindName:
		return KindName, true
	case KindRole:
		return KindRole, true
	case KindText:
		return KindText, true
	case KindID:
		return KindID, true
	}
	return "", false
}

// Locator is one parsed candidate. Raw is the literal string the caller
// supplied and is what results report as selectorUsed.
type Locator struct {
	Kind  Kind
	Value string
	Raw   string
}

func (l Locator) String() string { return l.Raw }

// Parse turns "kind:value" into a Locator. Strings without a known kind
// prefix are CSS selectors, so "a:hover" stays CSS.
func Parse(raw string) (Locator, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Locator{}, types.NewError(types.CodeValidation, "empty locator", nil)
	}
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		if kind, known := parseKind(strings.TrimSpace(prefix)); known {
			value := strings.TrimSpace(rest)
			if value == "" {
				return Locator{}, types.Errorf(types.CodeValidation, "locator %q has no value", s)
			}
			return Locator{Kind: kind, Value: value, Raw: s}, nil
		}
	}
	return Locator{Kind: KindCSS, Value: s, Raw: s}, nil
}

// RoleParts splits a role locator value "button:Save" into role and
// accessible name. The name is empty when only a role was given.
func RoleParts(value string) (role, name string) {
	role, name, _ = strings.Cut(value, ":")
	return strings.ToLower(strings.TrimSpace(role)), strings.TrimSpace(name)
}

// Candidates parses a locator argument: a single string (possibly holding
// a JSON list or comma-separated candidates) or a list of strings.
func Candidates(v any) ([]Locator, error) {
	var raws []string
	switch x := v.(type) {
	case nil:
		return nil, types.NewError(types.CodeValidation, "selector is required", nil)
	case string:
		raws = SplitCandidates(x)
	case []string:
		raws = x
	case []any:
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, types.Errorf(types.CodeValidation, "selector list entries must be strings, got %T", item)
			}
			raws = append(raws, s)
		}
	default:
		return nil, types.Errorf(types.CodeValidation, "selector must be a string or list of strings, got %T", v)
	}

	out := make([]Locator, 0, len(raws))
	for _, raw := range raws {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		loc, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	if len(out) == 0 {
		return nil, types.NewError(types.CodeValidation, "selector is required", nil)
	}
	return out, nil
}

// SplitCandidates splits a candidate string. A JSON array of strings is
// decoded as-is. Otherwise the string is split on commas outside brackets,
// parentheses and quotes. A piece with no kind prefix that does not look
// like the start of a CSS selector is glued back onto the preceding
// semantic candidate, so "text:Hello, world" stays one candidate.
func SplitCandidates(s string) []string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
			return list
		}
	}

	var pieces []string
	var depth int
	var quote rune
	start := 0
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			if depth > 0 {
				depth--
			}
		case r == ',' && depth == 0:
			pieces = append(pieces, s[start:i])
			start = i + 1
		}
	}
	pieces = append(pieces, s[start:])

	var out []string
	lastSemantic := false
	for _, p := range pieces {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if lastSemantic && !startsCandidate(p) {
			out[len(out)-1] += "," + p
			continue
		}
		out = append(out, strings.TrimSpace(p))
		loc, err := Parse(p)
		lastSemantic = err == nil && loc.Kind != KindCSS
	}
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}

func startsCandidate(piece string) bool {
	p := strings.TrimSpace(piece)
	if prefix, _, ok := strings.Cut(p, ":"); ok {
		if _, known := parseKind(strings.TrimSpace(prefix)); known {
			return true
		}
	}
	if strings.HasPrefix(p, "#") || strings.HasPrefix(p, ".") ||
		strings.HasPrefix(p, "[") || strings.HasPrefix(p, "*") {
		return true
	}
	return startsWithTag(p)
}

// startsWithTag reports whether p is a CSS selector led by a known HTML tag
// or a custom element name. Plain prose after a comma ("world") is not.
func startsWithTag(p string) bool {
	end := 0
	for end < len(p) {
		c := p[end]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || end > 0 && (c == '-' || c >= '0' && c <= '9') {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return false
	}
	tag := strings.ToLower(p[:end])
	if atom.Lookup([]byte(tag)) == 0 && !strings.Contains(tag, "-") {
		return false
	}
	_, err := compileCSS(p)
	return err == nil
}

// describe lists candidates for error messages.
func describe(cands []Locator) string {
	if len(cands) == 1 {
		return cands[0].Raw
	}
	parts := make([]string, len(cands))
	for i, c := range cands {
		parts[i] = fmt.Sprintf("%q", c.Raw)
	}
	return "any of " + strings.Join(parts, ", ")
}
