package network

import (
	"context"
)

// ConstraintCheck gates sync work on current network conditions. Consulted
// before discovery and at every item boundary; a run denied mid-flight pauses
// and fails only if the denial outlasts the engine's pause limit.
type ConstraintCheck interface {
	// AllowSync reports whether sync traffic may proceed right now.
	AllowSync(ctx context.Context) (bool, error)
}

// AllowAll permits sync unconditionally.
type AllowAll struct{}

func (AllowAll) AllowSync(context.Context) (bool, error) {
	return true, nil
}

// StaticCheck answers from a fixed decision. Useful for wiring the
// unmetered-only user setting on platforms with no metering signal, and in
// tests.
type StaticCheck struct {
	Allowed bool
}

func (c StaticCheck) AllowSync(context.Context) (bool, error) {
	return c.Allowed, nil
}

// FuncCheck adapts a function to a ConstraintCheck.
type FuncCheck func(ctx context.Context) (bool, error)

func (f FuncCheck) AllowSync(ctx context.Context) (bool, error) {
	return f(ctx)
}
