package locator

import (
	"testing"
	"time"

	"github.com/dgnsrekt/tablease/internal/types"
)

func TestTargetFromArgs(t *testing.T) {
	args := types.ToolArgs{
		"selector":  []any{"label:Email", "#email"},
		"index":     float64(2),
		"timeoutMs": float64(1500),
		"visible":   true,
	}
	tgt, err := TargetFromArgs(args, 0)
	if err != nil {
		t.Fatalf("TargetFromArgs() error = %v", err)
	}
	if len(tgt.Candidates) != 2 || tgt.Index != 2 || tgt.Timeout != 1500*time.Millisecond || !tgt.RequireVisible {
		t.Fatalf("TargetFromArgs() = %+v", tgt)
	}

	tgt, err = TargetFromArgs(types.ToolArgs{"locator": "text:Go"}, 3*time.Second)
	if err != nil {
		t.Fatalf("TargetFromArgs(locator alias) error = %v", err)
	}
	if tgt.Candidates[0].Kind != KindText || tgt.Timeout != 3*time.Second {
		t.Fatalf("TargetFromArgs(locator alias) = %+v", tgt)
	}

	for _, bad := range []types.ToolArgs{
		{},
		{"selector": ""},
		{"selector": "#a", "index": float64(-1)},
		{"selector": "#a", "timeoutMs": "soon"},
	} {
		if _, err := TargetFromArgs(bad, 0); !types.IsCode(err, types.CodeValidation) {
			t.Fatalf("TargetFromArgs(%v) error = %v; want VALIDATION", bad, err)
		}
	}
}
