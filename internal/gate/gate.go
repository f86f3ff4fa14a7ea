// Package gate decides whether a worker dispatch may proceed.
//
// An Engine runs the concurrency guard, then at most one role-specific gate
// (release, verification or implementer), and on admission creates the
// worker's trace. Gates only read state, except where noted on each gate.
package gate

import (
	"context"
	"errors"
	"fmt"
)

// ErrAdmissionDenied is wrapped by every DeniedError.
var ErrAdmissionDenied = errors.New("admission denied")

// DeniedError carries the gate and reason of a deny decision.
type DeniedError struct {
	Gate   string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s gate: %s", ErrAdmissionDenied, e.Gate, e.Reason)
}

func (e *DeniedError) Unwrap() error { return ErrAdmissionDenied }

// Request is one dispatch attempt.
type Request struct {
	WorkerType string
	SessionID  string
	// Cwd is the working directory of the orchestrating session.
	Cwd string
}

// Decision is the outcome of a gate. It is never persisted.
type Decision struct {
	Allowed  bool
	Gate     string
	Reason   string
	Advisory string
	// Workspace is the isolated working tree an implementer will use, when
	// the implementer gate determined one.
	Workspace string
}

// Allow admits with optional advisory text.
func Allow(advisory string) Decision {
	return Decision{Allowed: true, Advisory: advisory}
}

// Deny rejects naming the gate and the reason.
func Deny(gate, reason string) Decision {
	return Decision{Gate: gate, Reason: reason}
}

// Err returns a *DeniedError for a deny decision and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Gate: d.Gate, Reason: d.Reason}
}

// Gate is one admission rule.
type Gate interface {
	Name() string
	Applies(req Request) bool
	Check(ctx context.Context, req Request) (Decision, error)
}
