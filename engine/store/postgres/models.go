// Package postgres implements engine/store.Store on top of GORM (with pgx
// as the underlying driver): CRUD-shaped reads/writes go through GORM models
// (mirroring the teacher's adapters/postgres repositories), and the atomic
// work-batch procedure runs inside a single GORM transaction, claiming rows
// with FOR UPDATE SKIP LOCKED locking clauses plus one raw SQL query for
// partition candidates.
package postgres

import (
	"encoding/json"
	"time"

	"corework/engine/ids"
	"corework/engine/store"
)

type eventLogModel struct {
	StreamID  string          `gorm:"column:stream_id;primaryKey"`
	Sequence  int64           `gorm:"column:sequence;primaryKey"`
	MessageID string          `gorm:"column:message_id"`
	EventType string          `gorm:"column:event_type"`
	Payload   []byte          `gorm:"column:payload"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	_         json.RawMessage `gorm:"-"`
}

func (eventLogModel) TableName() string { return "engine_event_log" }

type outboxModel struct {
	MessageID       string     `gorm:"column:message_id;primaryKey"`
	Destination     string     `gorm:"column:destination"`
	MessageType     string     `gorm:"column:message_type"`
	Payload         []byte     `gorm:"column:payload"`
	Metadata        []byte     `gorm:"column:metadata"`
	Scope           string     `gorm:"column:scope"`
	Attempts        int        `gorm:"column:attempts"`
	Error           string     `gorm:"column:error"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	PublishedAt     *time.Time `gorm:"column:published_at"`
	ProcessedAt     *time.Time `gorm:"column:processed_at"`
	InstanceID      *string    `gorm:"column:instance_id"`
	LeaseExpiry     *time.Time `gorm:"column:lease_expiry"`
	StreamID        string     `gorm:"column:stream_id"`
	PartitionNumber int        `gorm:"column:partition_number"`
	StatusFlags     uint8      `gorm:"column:status_flags"`
	FailureReason   string     `gorm:"column:failure_reason"`
	ScheduledFor    *time.Time `gorm:"column:scheduled_for"`
}

func (outboxModel) TableName() string { return "engine_outbox" }

type inboxModel struct {
	MessageID       string     `gorm:"column:message_id;primaryKey"`
	HandlerName     string     `gorm:"column:handler_name;primaryKey"`
	MessageType     string     `gorm:"column:message_type"`
	Payload         []byte     `gorm:"column:payload"`
	Metadata        []byte     `gorm:"column:metadata"`
	Attempts        int        `gorm:"column:attempts"`
	Error           string     `gorm:"column:error"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	ProcessedAt     *time.Time `gorm:"column:processed_at"`
	InstanceID      *string    `gorm:"column:instance_id"`
	LeaseExpiry     *time.Time `gorm:"column:lease_expiry"`
	StreamID        string     `gorm:"column:stream_id"`
	PartitionNumber int        `gorm:"column:partition_number"`
	StatusFlags     uint8      `gorm:"column:status_flags"`
	FailureReason   string     `gorm:"column:failure_reason"`
	ScheduledFor    *time.Time `gorm:"column:scheduled_for"`
}

func (inboxModel) TableName() string { return "engine_inbox" }

type dedupModel struct {
	MessageID   string    `gorm:"column:message_id;primaryKey"`
	HandlerName string    `gorm:"column:handler_name;primaryKey"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (dedupModel) TableName() string { return "engine_dedup" }

type perspectiveCheckpointModel struct {
	StreamID             string     `gorm:"column:stream_id;primaryKey"`
	PerspectiveName      string     `gorm:"column:perspective_name;primaryKey"`
	LastProcessedEventID string     `gorm:"column:last_processed_event_id"`
	Status               string     `gorm:"column:status"`
	ProcessedAt          *time.Time `gorm:"column:processed_at"`
	Error                string     `gorm:"column:error"`
	InstanceID           *string    `gorm:"column:instance_id"`
	LeaseExpiry          *time.Time `gorm:"column:lease_expiry"`
	PartitionNumber      int        `gorm:"column:partition_number"`
}

func (perspectiveCheckpointModel) TableName() string { return "engine_perspective_checkpoint" }

type serviceInstanceModel struct {
	InstanceID      string    `gorm:"column:instance_id;primaryKey"`
	ServiceName     string    `gorm:"column:service_name"`
	HostName        string    `gorm:"column:host_name"`
	ProcessID       int       `gorm:"column:process_id"`
	StartedAt       time.Time `gorm:"column:started_at"`
	LastHeartbeatAt time.Time `gorm:"column:last_heartbeat_at"`
}

func (serviceInstanceModel) TableName() string { return "engine_service_instance" }

type partitionAssignmentModel struct {
	PartitionNumber int       `gorm:"column:partition_number;primaryKey"`
	InstanceID      string    `gorm:"column:instance_id"`
	AssignedAt      time.Time `gorm:"column:assigned_at"`
	LastHeartbeat   time.Time `gorm:"column:last_heartbeat"`
}

func (partitionAssignmentModel) TableName() string { return "engine_partition_assignment" }

func idPtr(s *string) *ids.ID {
	if s == nil || *s == "" {
		return nil
	}
	parsed, err := ids.Parse(*s)
	if err != nil {
		return nil
	}
	return &parsed
}

func strPtr(id *ids.ID) *string {
	if id == nil || id.IsNil() {
		return nil
	}
	s := id.String()
	return &s
}

func metadataToJSON(m map[string]string) []byte {
	if len(m) == 0 {
		return nil
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return encoded
}

func metadataFromJSON(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func outboxModelToRecord(m outboxModel) store.OutboxRecord {
	streamID, _ := ids.Parse(m.StreamID)
	messageID, _ := ids.Parse(m.MessageID)
	return store.OutboxRecord{
		MessageID:       messageID,
		Destination:     m.Destination,
		MessageType:     m.MessageType,
		Payload:         append(json.RawMessage(nil), m.Payload...),
		Metadata:        metadataFromJSON(m.Metadata),
		Scope:           m.Scope,
		Attempts:        m.Attempts,
		Error:           m.Error,
		CreatedAt:       m.CreatedAt,
		PublishedAt:     m.PublishedAt,
		ProcessedAt:     m.ProcessedAt,
		InstanceID:      idPtr(m.InstanceID),
		LeaseExpiry:     m.LeaseExpiry,
		StreamID:        streamID,
		PartitionNumber: m.PartitionNumber,
		StatusFlags:     store.StatusFlags(m.StatusFlags),
		FailureReason:   m.FailureReason,
		ScheduledFor:    m.ScheduledFor,
	}
}

func inboxModelToRecord(m inboxModel) store.InboxRecord {
	streamID, _ := ids.Parse(m.StreamID)
	messageID, _ := ids.Parse(m.MessageID)
	return store.InboxRecord{
		MessageID:       messageID,
		HandlerName:     m.HandlerName,
		MessageType:     m.MessageType,
		Payload:         append(json.RawMessage(nil), m.Payload...),
		Metadata:        metadataFromJSON(m.Metadata),
		Attempts:        m.Attempts,
		Error:           m.Error,
		CreatedAt:       m.CreatedAt,
		ProcessedAt:     m.ProcessedAt,
		InstanceID:      idPtr(m.InstanceID),
		LeaseExpiry:     m.LeaseExpiry,
		StreamID:        streamID,
		PartitionNumber: m.PartitionNumber,
		StatusFlags:     store.StatusFlags(m.StatusFlags),
		FailureReason:   m.FailureReason,
		ScheduledFor:    m.ScheduledFor,
	}
}

func checkpointModelToRecord(m perspectiveCheckpointModel) store.PerspectiveCheckpoint {
	streamID, _ := ids.Parse(m.StreamID)
	lastEventID, _ := ids.Parse(m.LastProcessedEventID)
	return store.PerspectiveCheckpoint{
		StreamID:             streamID,
		PerspectiveName:      m.PerspectiveName,
		LastProcessedEventID: lastEventID,
		Status:               store.PerspectiveStatus(m.Status),
		ProcessedAt:          m.ProcessedAt,
		Error:                m.Error,
		InstanceID:           idPtr(m.InstanceID),
		LeaseExpiry:          m.LeaseExpiry,
		PartitionNumber:      m.PartitionNumber,
	}
}

// AllModels lists every model for migration (mirrors the teacher's
// per-context model registration, collapsed to one engine-owned set).
func AllModels() []any {
	return []any{
		&eventLogModel{},
		&outboxModel{},
		&inboxModel{},
		&dedupModel{},
		&perspectiveCheckpointModel{},
		&serviceInstanceModel{},
		&partitionAssignmentModel{},
	}
}
