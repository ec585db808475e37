// Package store declares the durable-store contract (C1) and the
// work-batch procedure request/response types (C2). Concrete storage
// backends (engine/store/postgres) implement Store; engine/coordinator
// and engine/workers depend only on this package.
package store

import (
	"encoding/json"
	"time"

	"corework/engine/ids"
)

// StatusFlags is the bitwise outbox/inbox status field.
type StatusFlags uint8

const (
	StatusStored      StatusFlags = 1 << iota // Stored = 1
	StatusPublished                           // Published = 2
	StatusFailed                              // Failed = 4
	StatusEventStored                         // EventStored = 8
)

func (f StatusFlags) Has(bit StatusFlags) bool { return f&bit != 0 }
func (f StatusFlags) Set(bit StatusFlags) StatusFlags { return f | bit }

// TerminalOutbox reports whether the row is in a terminal state for outbox rows:
// Published is terminal-success, Failed is terminal-failure.
func (f StatusFlags) TerminalOutbox() bool {
	return f.Has(StatusPublished) || f.Has(StatusFailed)
}

// TerminalInbox mirrors TerminalOutbox for inbox rows, where EventStored
// stands in for Published as the success terminal (see design notes on the
// Published/EventStored overlap).
func (f StatusFlags) TerminalInbox() bool {
	return f.Has(StatusEventStored) || f.Has(StatusFailed)
}

// EventLogRecord is one append-only event-log row. Sequence is a dense,
// 0-based monotonic counter assigned at append, per StreamId.
type EventLogRecord struct {
	StreamID  ids.ID
	Sequence  int64
	MessageID ids.ID
	EventType string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// OutboxRecord mirrors the outbox table of the data model.
type OutboxRecord struct {
	MessageID      ids.ID
	Destination    string
	MessageType    string
	Payload        json.RawMessage
	Metadata       map[string]string
	Scope          string
	Attempts       int
	Error          string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	ProcessedAt    *time.Time
	InstanceID     *ids.ID
	LeaseExpiry    *time.Time
	StreamID       ids.ID
	PartitionNumber int
	StatusFlags    StatusFlags
	FailureReason  string
	ScheduledFor   *time.Time
}

// InboxRecord mirrors the inbox table; keyed by (MessageID, HandlerName).
type InboxRecord struct {
	MessageID       ids.ID
	HandlerName     string
	MessageType     string
	Payload         json.RawMessage
	Metadata        map[string]string
	Attempts        int
	Error           string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
	InstanceID      *ids.ID
	LeaseExpiry     *time.Time
	StreamID        ids.ID
	PartitionNumber int
	StatusFlags     StatusFlags
	FailureReason   string
	ScheduledFor    *time.Time
}

// DedupRecord is unique on (MessageID, HandlerName).
type DedupRecord struct {
	MessageID   ids.ID
	HandlerName string
	ProcessedAt time.Time
}

// PerspectiveStatus enumerates checkpoint lifecycle states.
type PerspectiveStatus string

const (
	PerspectiveStatusPending PerspectiveStatus = "pending"
	PerspectiveStatusOK      PerspectiveStatus = "ok"
	PerspectiveStatusFailed  PerspectiveStatus = "failed"
)

// PerspectiveCheckpoint is the per-(stream, perspective) cursor.
type PerspectiveCheckpoint struct {
	StreamID            ids.ID
	PerspectiveName     string
	LastProcessedEventID ids.ID
	Status              PerspectiveStatus
	ProcessedAt         *time.Time
	Error               string
	InstanceID          *ids.ID
	LeaseExpiry         *time.Time
	PartitionNumber     int
}

// ServiceInstance is one running process.
type ServiceInstance struct {
	InstanceID      ids.ID
	ServiceName     string
	HostName        string
	ProcessID       int
	StartedAt       time.Time
	LastHeartbeatAt time.Time
}

// Alive reports liveness given a stale threshold.
func (s ServiceInstance) Alive(now time.Time, staleThreshold time.Duration) bool {
	return s.LastHeartbeatAt.After(now.Add(-staleThreshold))
}

// PartitionAssignment is unique on PartitionNumber.
type PartitionAssignment struct {
	PartitionNumber int
	InstanceID      ids.ID
	AssignedAt      time.Time
	LastHeartbeat   time.Time
}

// MessageAssociation declares, for (EventType, PerspectiveName), whether
// this service maintains a perspective for this event — static metadata
// registered at startup (see engine/dispatch).
type MessageAssociation struct {
	EventType       string
	PerspectiveName string
}
