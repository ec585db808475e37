// Package enginerr declares the sentinel errors shared across the engine,
// matching the error taxonomy: transport failures, validation failures,
// retry exhaustion, lease loss, and optimistic-append conflicts. Callers
// use errors.Is against these sentinels; wrapped errors carry the
// underlying cause via %w.
package enginerr

import "errors"

var (
	// ErrTransportNotReady means the configured Transport has not finished
	// connecting (or has disconnected) and cannot accept publish/subscribe
	// calls right now.
	ErrTransportNotReady = errors.New("engine: transport not ready")

	// ErrTransportException wraps a transport-level failure (broker error,
	// network timeout) surfaced while publishing or consuming.
	ErrTransportException = errors.New("engine: transport exception")

	// ErrSerialization means a payload could not be marshaled or unmarshaled
	// to/from its wire representation.
	ErrSerialization = errors.New("engine: serialization error")

	// ErrValidation means a message or command failed structural or
	// semantic validation before being queued.
	ErrValidation = errors.New("engine: validation error")

	// ErrMaxAttemptsExceeded means a row's retry budget is exhausted; the
	// row is marked terminally failed rather than retried again.
	ErrMaxAttemptsExceeded = errors.New("engine: max attempts exceeded")

	// ErrLeaseExpired means the caller's lease on a claimed row was no
	// longer valid when it tried to complete or fail that row.
	ErrLeaseExpired = errors.New("engine: lease expired")

	// ErrStreamConflict means AppendEvent lost a race for the next sequence
	// number on a stream; the caller should reload and retry.
	ErrStreamConflict = errors.New("engine: stream conflict")

	// ErrDisposed means a unit of work (or a coordinator/processor built on
	// one) was used after it was closed.
	ErrDisposed = errors.New("engine: disposed")
)
