// Package v1 is the generated-contract wire envelope for cross-runtime use.
// This package is generated-contract-only and must stay backward compatible;
// application code should depend on engine/envelope, not on this package,
// except at the transport boundary.
package v1

import (
	"encoding/json"
	"time"
)

// Hop records one service instance touching an envelope in transit.
type Hop struct {
	InstanceID    string          `json:"instance_id"`
	ServiceName   string          `json:"service_name"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// Envelope is the canonical, versioned wire envelope. Hops is append-only;
// the first hop's correlation/causation IDs define the envelope's
// correlation chain.
type Envelope struct {
	MessageID     string          `json:"message_id"`
	MessageType   string          `json:"message_type"`
	SchemaVersion int             `json:"schema_version"`
	Hops          []Hop           `json:"hops"`
	Payload       json.RawMessage `json:"payload"`
}
