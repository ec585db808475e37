package store

import (
	"encoding/json"
	"time"

	"corework/engine/ids"
)

// Identity identifies the calling process in a work-batch request.
type Identity struct {
	InstanceID  ids.ID
	ServiceName string
	HostName    string
	ProcessID   int
	Metadata    map[string]string
}

// Completion reports a successfully processed row, carrying the status
// flags to OR into the row's StatusFlags.
//
// For perspective completions the checkpoint row is keyed by
// (StreamID, HandlerName) rather than by MessageID, since MessageID itself
// is the value being advanced: StreamID must be set, HandlerName carries
// the perspective name, and MessageID carries the new LastProcessedEventID.
type Completion struct {
	MessageID   ids.ID
	HandlerName string // empty for outbox/event-log completions; perspective name for perspective completions
	StreamID    ids.ID // set only for perspective completions
	NewStatus   StatusFlags
}

// Failure reports a row whose processing raised an error. StreamID mirrors
// Completion's usage: set only for perspective failures, where the
// checkpoint is identified by (StreamID, HandlerName) rather than
// MessageID.
type Failure struct {
	MessageID     ids.ID
	HandlerName   string
	StreamID      ids.ID
	PartialStatus StatusFlags
	Error         string
	FailureReason string
	Terminal      bool // set for non-retryable failures (MaxAttemptsExceeded; the publisher also sets it for validation and serialization errors)
}

// NewOutboxRow is a pending insert produced by a handler this round.
type NewOutboxRow struct {
	MessageID    ids.ID
	Destination  string
	MessageType  string
	Payload      json.RawMessage
	Metadata     map[string]string
	Scope        string
	StreamID     ids.ID
	ScheduledFor *time.Time
}

// NewInboxRow is a pending insert produced by the consumer worker.
type NewInboxRow struct {
	MessageID   ids.ID
	HandlerName string
	MessageType string
	Payload     json.RawMessage
	Metadata    map[string]string
	StreamID    ids.ID
}

// NewPerspectiveRow seeds a (StreamID, PerspectiveName) checkpoint the
// first time an event associated with that perspective (per
// engine/dispatch.Registry.PerspectivesFor) is produced for the stream.
// The insert is idempotent: an existing checkpoint for the pair is left
// untouched.
type NewPerspectiveRow struct {
	StreamID        ids.ID
	PerspectiveName string
}

// Request is the single atomic work-batch procedure's input (§4.2).
type Request struct {
	Identity Identity

	OutboxCompletions      []Completion
	OutboxFailures         []Failure
	InboxCompletions       []Completion
	InboxFailures          []Failure
	ReceptorCompletions    []Completion
	ReceptorFailures       []Failure
	PerspectiveCompletions []Completion
	PerspectiveFailures    []Failure

	NewOutbox      []NewOutboxRow
	NewInbox       []NewInboxRow
	NewPerspectives []NewPerspectiveRow

	RenewOutboxLeaseIDs []ids.ID
	RenewInboxLeaseIDs  []ids.ID

	PartitionCount          int
	MaxPartitionsPerInstance int
	LeaseSeconds            int
	StaleThresholdSeconds   int
	BatchSize               int
	DebugMode               bool
}

// Batch is the work-batch procedure's output: newly claimed work for this
// instance to execute.
type Batch struct {
	OutboxWork      []OutboxRecord
	InboxWork       []InboxRecord
	PerspectiveWork []PerspectiveCheckpoint
}

// Empty reports whether the batch has no claimable work, used by callers to
// decide whether to back off.
func (b Batch) Empty() bool {
	return len(b.OutboxWork) == 0 && len(b.InboxWork) == 0 && len(b.PerspectiveWork) == 0
}
