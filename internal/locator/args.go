package locator

import (
	"time"

	"github.com/dgnsrekt/tablease/internal/types"
)

// TargetFromArgs reads selector, index, timeoutMs and visible from tool
// arguments. "locator" is accepted as an alias of "selector".
func TargetFromArgs(args types.ToolArgs, defaultTimeout time.Duration) (Target, error) {
	raw, ok := args["selector"]
	if !ok || raw == nil {
		raw = args["locator"]
	}
	cands, err := Candidates(raw)
	if err != nil {
		return Target{}, err
	}
	tgt := Target{Candidates: cands, Timeout: defaultTimeout}
	if args.Has("index") {
		idx, ok := args.Int("index")
		if !ok || idx < 0 {
			return Target{}, types.Errorf(types.CodeValidation, "index must be a non-negative integer")
		}
		tgt.Index = idx
	}
	if args.Has("timeoutMs") {
		ms, ok := args.Int("timeoutMs")
		if !ok || ms < 0 {
			return Target{}, types.Errorf(types.CodeValidation, "timeoutMs must be a non-negative integer")
		}
		tgt.Timeout = time.Duration(ms) * time.Millisecond
	}
	if v, ok := args.Bool("visible"); ok {
		tgt.RequireVisible = v
	}
	return tgt, nil
}

// HasTarget reports whether args name an element.
func HasTarget(args types.ToolArgs) bool {
	return args.Has("selector") || args.Has("locator")
}
