// Package workflow enforces legal status transitions and records their history.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"planwise/api/internal/status"
)

// EntityRef names one workflow-governed entity.
type EntityRef struct {
	Kind status.Kind
	ID   string
}

// Store is the persistence the engine needs. ApplyTransition must write the
// status change and the history row in a single transaction: either both
// land or neither does.
type Store interface {
	EntityStatus(ctx context.Context, ref EntityRef) (string, error)
	ApplyTransition(ctx context.Context, ref EntityRef, fromStatus, toStatus string, changedAt time.Time) error
}

// Result describes an applied (or no-op) transition.
type Result struct {
	From    string
	To      string
	Changed bool
}

// InvalidTransitionError is returned when the requested status is not
// reachable from the entity's current status. The entity is left unmodified.
type InvalidTransitionError struct {
	Kind      status.Kind
	EntityID  string
	From      string
	Requested string
	Allowed   []string
}

func (e *InvalidTransitionError) Error() string {
	allowed := "none"
	if len(e.Allowed) > 0 {
		allowed = strings.Join(e.Allowed, ", ")
	}
	return fmt.Sprintf("%s %s: cannot transition from %q to %q (allowed: %s)", e.Kind, e.EntityID, e.From, e.Requested, allowed)
}

// Engine validates requested transitions against the status tables and
// applies them through the store.
type Engine struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Transition moves the referenced entity to requested.
//
// Requesting the current status is a no-op: it succeeds without touching the
// store, appends no history, and reports Changed=false. Anything that is not
// the current status and not a legal one-step target fails with
// *InvalidTransitionError before the store is written.
func (e *Engine) Transition(ctx context.Context, ref EntityRef, requested string) (Result, error) {
	current, err := e.store.EntityStatus(ctx, ref)
	if err != nil {
		return Result{}, fmt.Errorf("load %s %s: %w", ref.Kind, ref.ID, err)
	}

	if requested == current {
		return Result{From: current, To: current, Changed: false}, nil
	}

	if !status.CanTransition(ref.Kind, current, requested) {
		return Result{}, &InvalidTransitionError{
			Kind:      ref.Kind,
			EntityID:  ref.ID,
			From:      current,
			Requested: requested,
			Allowed:   status.TransitionTargets(ref.Kind, current),
		}
	}

	if err := e.store.ApplyTransition(ctx, ref, current, requested, e.now().UTC()); err != nil {
		return Result{}, fmt.Errorf("apply transition %s %s: %w", ref.Kind, ref.ID, err)
	}
	return Result{From: current, To: requested, Changed: true}, nil
}
