// Package hooks implements the typed extension points every realm can
// register against: a fixed set of named hook kinds, each composed across
// its registered implementations under one of three failure strategies.
// There is no teacher file for this component (the teacher has no
// extension-point system); its shape is grounded in the teacher's
// middleware chain ordering in internal/api/router.go (priority-ordered
// handlers wrapping a request) and written in the same plain, no-framework
// style the rest of the teacher repo uses.
package hooks

import (
	"context"
	"fmt"
	"sort"

	"kodex/internal/logging"
)

// Strategy controls how a hook chain handles a failing hook.
type Strategy int

const (
	// FailFast aborts the chain on the first error; later hooks do not run.
	FailFast Strategy = iota
	// CollectErrors runs every hook and returns a composite error listing
	// every (name, cause) pair if any failed.
	CollectErrors
	// SkipFailed logs a failing hook and passes the prior value through
	// unchanged to the next hook.
	SkipFailed
)

// Hook is one registered extension implementation for a given kind.
type Hook[T any] struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context, in T) (T, error)
}

// FanOutHook is a side-effecting hook whose return value is ignored by
// callers (afterLoginFailure); only its error is inspected for logging.
type FanOutHook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context, identifier string) error
}

// CompositeError collects every (hook name, cause) pair raised under
// CollectErrors.
type CompositeError struct {
	Failures []HookFailure
}

type HookFailure struct {
	Hook  string
	Cause error
}

func (e *CompositeError) Error() string {
	return fmt.Sprintf("hooks: %d hook(s) failed", len(e.Failures))
}

func sortByPriority[T any](hooks []Hook[T]) []Hook[T] {
	out := append([]Hook[T](nil), hooks...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func sortFanOutByPriority(hooks []FanOutHook) []FanOutHook {
	out := append([]FanOutHook(nil), hooks...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// RunFold threads seed through every hook in priority order (ties broken by
// registration order), each hook's output becoming the next hook's input.
func RunFold[T any](ctx context.Context, strategy Strategy, hooks []Hook[T], seed T) (T, error) {
	ordered := sortByPriority(hooks)
	value := seed

	var failures []HookFailure
	for _, h := range ordered {
		out, err := h.Fn(ctx, value)
		if err == nil {
			value = out
			continue
		}

		switch strategy {
		case FailFast:
			return value, fmt.Errorf("hooks: %s: %w", h.Name, err)
		case SkipFailed:
			logging.FromContext(ctx).Warn("hook failed, skipping", "hook", h.Name, "error", err)
			// value is left unchanged; the failing hook's output is discarded.
		case CollectErrors:
			failures = append(failures, HookFailure{Hook: h.Name, Cause: err})
			// value is left unchanged for the next hook's input under
			// CollectErrors too, since the failing hook never produced one.
		}
	}

	if len(failures) > 0 {
		return value, &CompositeError{Failures: failures}
	}
	return value, nil
}

// RunFanOut invokes every subscriber with identifier, regardless of prior
// failures; it never returns early. Every strategy runs every subscriber —
// only the error reporting differs, matching the spec's composition rule
// that fan-out hooks always execute in full.
func RunFanOut(ctx context.Context, strategy Strategy, hooks []FanOutHook, identifier string) error {
	ordered := sortFanOutByPriority(hooks)

	var failures []HookFailure
	for _, h := range ordered {
		if err := h.Fn(ctx, identifier); err != nil {
			logging.FromContext(ctx).Warn("fan-out hook failed", "hook", h.Name, "error", err)
			failures = append(failures, HookFailure{Hook: h.Name, Cause: err})
		}
	}

	if len(failures) == 0 {
		return nil
	}
	switch strategy {
	case FailFast:
		return fmt.Errorf("hooks: %s: %w", failures[0].Hook, failures[0].Cause)
	case CollectErrors:
		return &CompositeError{Failures: failures}
	}
	return nil
}
