package locator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/tablease/internal/dom"
	"github.com/dgnsrekt/tablease/internal/types"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxDepth     = 6
)

// Page is the live surface the engine reads and acts on. Elements passed
// back in are ones the engine found in a tree returned by Document.
type Page interface {
	Document(ctx context.Context) (*dom.Tree, error)
	Visible(ctx context.Context, el *dom.Element) (bool, error)
	Value(ctx context.Context, el *dom.Element) (string, error)
	Property(ctx context.Context, el *dom.Element, name string) (any, error)
	PseudoContent(ctx context.Context) ([]string, error)

	Click(ctx context.Context, el *dom.Element) error
	Type(ctx context.Context, el *dom.Element, kind dom.EditKind, text string, clear bool) error
	SelectOption(ctx context.Context, el *dom.Element, index int) error
	ScrollIntoView(ctx context.Context, el *dom.Element) error
	ScrollBy(ctx context.Context, dx, dy int) error
	SetInputFiles(ctx context.Context, el *dom.Element, files []string) error
}

// Target describes which element an action applies to.
type Target struct {
	Candidates []Locator
	// Index picks the n-th visible match, falling back to the n-th match.
	Index int
	// Timeout bounds polling; zero means a single attempt.
	Timeout time.Duration
	// RequireVisible makes a hidden-only match count as no match.
	RequireVisible bool
}

// Engine resolves targets against a Page.
type Engine struct {
	page     Page
	poll     time.Duration
	maxDepth int
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPollInterval overrides the poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.poll = d
		}
	}
}

// WithMaxDepth overrides how many shadow/frame levels are searched.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxDepth = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New returns an engine for page.
func New(page Page, opts ...Option) *Engine {
	e := &Engine{
		page:     page,
		poll:     DefaultPollInterval,
		maxDepth: DefaultMaxDepth,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// resolved is one successful resolution attempt.
type resolved struct {
	el      *dom.Element
	tree    *dom.Tree
	used    Locator
	matches []*dom.Element
}

// attempt runs one resolution pass: the first candidate with a selectable
// match wins, and index selection prefers visible matches. A candidate whose
// matches are all hidden under RequireVisible falls through to the next. A
// nil result with a nil error means nothing matched yet.
func (e *Engine) attempt(ctx context.Context, tgt Target) (*resolved, error) {
	tree, err := e.page.Document(ctx)
	if err != nil {
		return nil, err
	}
	for _, cand := range tgt.Candidates {
		matches, err := find(tree, cand, e.maxDepth)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			continue
		}
		el, err := e.pick(ctx, matches, tgt.Index, tgt.RequireVisible)
		if err != nil {
			return nil, err
		}
		if el == nil {
			continue
		}
		return &resolved{el: el, tree: tree, used: cand, matches: matches}, nil
	}
	return nil, nil
}

func (e *Engine) pick(ctx context.Context, matches []*dom.Element, index int, requireVisible bool) (*dom.Element, error) {
	seen := 0
	for _, m := range matches {
		ok, err := e.page.Visible(ctx, m)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if seen == index {
			return m, nil
		}
		seen++
	}
	if requireVisible || index >= len(matches) {
		return nil, nil
	}
	return matches[index], nil
}

// pollUntil calls try immediately and then every poll interval until it reports
// done, fails, or the timeout passes. The last try happens at the deadline.
func (e *Engine) pollUntil(ctx context.Context, timeout time.Duration, try func(context.Context) (bool, error)) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		done, err := try(ctx)
		if err != nil || done {
			return done, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		wait := e.poll
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

// Resolve waits for tgt to match and returns the chosen element and the
// candidate that produced it.
func (e *Engine) Resolve(ctx context.Context, tgt Target) (*dom.Element, Locator, error) {
	r, err := e.resolve(ctx, tgt)
	if err != nil {
		return nil, Locator{}, err
	}
	return r.el, r.used, nil
}

func (e *Engine) resolve(ctx context.Context, tgt Target) (*resolved, error) {
	if len(tgt.Candidates) == 0 {
		return nil, types.NewError(types.CodeValidation, "selector is required", nil)
	}
	if tgt.Index < 0 {
		return nil, types.Errorf(types.CodeValidation, "index must be >= 0, got %d", tgt.Index)
	}
	var found *resolved
	done, err := e.pollUntil(ctx, tgt.Timeout, func(ctx context.Context) (bool, error) {
		r, err := e.attempt(ctx, tgt)
		if err != nil {
			return false, err
		}
		found = r
		return r != nil, nil
	})
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, notFound(tgt)
	}
	e.logger.Debug("locator resolved", "selector", found.used.Raw, "tag", found.el.Tag(), "matches", len(found.matches))
	return found, nil
}

func notFound(tgt Target) error {
	msg := "no element matched " + describe(tgt.Candidates)
	if tgt.RequireVisible {
		msg = "no visible element matched " + describe(tgt.Candidates)
	}
	if tgt.Index > 0 {
		msg += fmt.Sprintf(" at index %d", tgt.Index)
	}
	if tgt.Timeout > 0 {
		msg += fmt.Sprintf(" within %dms", tgt.Timeout.Milliseconds())
	}
	return types.NewError(types.CodeNotFound, msg, nil)
}

func unsupported(el *dom.Element, used Locator, reason string) error {
	return types.Errorf(types.CodeUnsupportedElement, "<%s> matched by %q: %s", el.Tag(), used.Raw, reason)
}
