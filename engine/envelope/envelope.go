// Package envelope implements the immutable message envelope described in
// the data model: a unique MessageId, an append-only ordered list of hops,
// and a typed payload.
package envelope

import (
	"encoding/json"
	"time"

	contractsv1 "corework/contracts/gen/events/v1"
	"corework/engine/ids"
)

// Hop records one service instance touching the envelope.
type Hop struct {
	InstanceID    ids.ID
	ServiceName   string
	OccurredAt    time.Time
	CorrelationID ids.ID
	CausationID   ids.ID
	Metadata      map[string]string
}

// StreamKeyer is implemented by every event payload type; it is the
// explicit replacement for the source's attribute-driven [StreamKey]
// marker (see design notes): the stream key field is named directly by
// the payload rather than discovered via reflection.
type StreamKeyer interface {
	StreamKey() string
}

// Envelope wraps a typed payload with a unique, time-ordered MessageId and
// an append-only list of hops. Envelopes are immutable after hops are
// appended — Append returns a new Envelope value rather than mutating in
// place.
type Envelope struct {
	MessageID     ids.ID
	MessageType   string
	SchemaVersion int
	Hops          []Hop
	Payload       any
	rawPayload    json.RawMessage
}

// New builds an envelope for a freshly produced payload.
func New(id ids.ID, messageType string, payload any) Envelope {
	return Envelope{
		MessageID:     id,
		MessageType:   messageType,
		SchemaVersion: 1,
		Payload:       payload,
	}
}

// Append returns a new Envelope with hop appended. Hops are append-only —
// the returned value's Hops slice is never aliased with e's.
func (e Envelope) Append(hop Hop) Envelope {
	next := make([]Hop, len(e.Hops)+1)
	copy(next, e.Hops)
	next[len(e.Hops)] = hop
	e.Hops = next
	return e
}

// CorrelationID returns the first hop's correlation ID, or the nil ID if
// the envelope has no hops yet.
func (e Envelope) CorrelationID() ids.ID {
	if len(e.Hops) == 0 {
		return ids.Nil
	}
	return e.Hops[0].CorrelationID
}

// StreamID hashes the payload's stream key (via StreamKeyer) into the
// 128-bit stream identity used to partition and order work.
func (e Envelope) StreamID() (ids.ID, bool) {
	keyer, ok := e.Payload.(StreamKeyer)
	if !ok {
		return ids.Nil, false
	}
	return HashStreamKey(keyer.StreamKey()), true
}

// HashStreamKey deterministically maps an aggregate identity string to a
// 128-bit StreamId. Using a fixed-namespace derivation keeps the mapping
// stable across processes without a lookup table.
func HashStreamKey(key string) ids.ID {
	return ids.Derive(key)
}

// MarshalWire converts the envelope to its contracts/gen/events/v1 wire
// representation.
func (e Envelope) MarshalWire() (contractsv1.Envelope, error) {
	raw := e.rawPayload
	if raw == nil {
		encoded, err := json.Marshal(e.Payload)
		if err != nil {
			return contractsv1.Envelope{}, err
		}
		raw = encoded
	}
	hops := make([]contractsv1.Hop, 0, len(e.Hops))
	for _, h := range e.Hops {
		var metadata json.RawMessage
		if len(h.Metadata) > 0 {
			encoded, err := json.Marshal(h.Metadata)
			if err != nil {
				return contractsv1.Envelope{}, err
			}
			metadata = encoded
		}
		hops = append(hops, contractsv1.Hop{
			InstanceID:    h.InstanceID.String(),
			ServiceName:   h.ServiceName,
			OccurredAt:    h.OccurredAt.UTC(),
			CorrelationID: h.CorrelationID.String(),
			CausationID:   h.CausationID.String(),
			Metadata:      metadata,
		})
	}
	return contractsv1.Envelope{
		MessageID:     e.MessageID.String(),
		MessageType:   e.MessageType,
		SchemaVersion: e.SchemaVersion,
		Hops:          hops,
		Payload:       raw,
	}, nil
}

// FromWire reconstructs an Envelope from its wire form. Payload is left as
// the raw JSON bytes; callers decode it into a concrete type once the
// MessageType has been resolved via the dispatch registry.
func FromWire(wire contractsv1.Envelope) (Envelope, error) {
	id, err := ids.Parse(wire.MessageID)
	if err != nil {
		return Envelope{}, err
	}
	hops := make([]Hop, 0, len(wire.Hops))
	for _, h := range wire.Hops {
		instanceID, _ := ids.Parse(h.InstanceID)
		correlationID, _ := ids.Parse(h.CorrelationID)
		causationID, _ := ids.Parse(h.CausationID)
		var metadata map[string]string
		if len(h.Metadata) > 0 {
			if err := json.Unmarshal(h.Metadata, &metadata); err != nil {
				return Envelope{}, err
			}
		}
		hops = append(hops, Hop{
			InstanceID:    instanceID,
			ServiceName:   h.ServiceName,
			OccurredAt:    h.OccurredAt,
			CorrelationID: correlationID,
			CausationID:   causationID,
			Metadata:      metadata,
		})
	}
	return Envelope{
		MessageID:     id,
		MessageType:   wire.MessageType,
		SchemaVersion: wire.SchemaVersion,
		Hops:          hops,
		rawPayload:    wire.Payload,
	}, nil
}

// RawPayload exposes the undecoded wire payload for envelopes reconstructed
// via FromWire, before the dispatch registry has decoded it into a concrete
// type.
func (e Envelope) RawPayload() json.RawMessage { return e.rawPayload }
