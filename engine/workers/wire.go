package workers

import (
	"time"

	contractsv1 "corework/contracts/gen/events/v1"
	"corework/engine/store"
)

// wireFromOutbox reconstructs the wire envelope an outbox row was stored
// from, so the publisher can hand it to transport.Publish without a
// second round trip through the event log.
func wireFromOutbox(row store.OutboxRecord) contractsv1.Envelope {
	return contractsv1.Envelope{
		MessageID:   row.MessageID.String(),
		MessageType: row.MessageType,
		Payload:     row.Payload,
		Hops: []contractsv1.Hop{{
			ServiceName: row.Destination,
			OccurredAt:  fallbackTime(row.CreatedAt),
		}},
	}
}

// wireFromInbox mirrors wireFromOutbox for inbox rows.
func wireFromInbox(row store.InboxRecord) contractsv1.Envelope {
	return contractsv1.Envelope{
		MessageID:   row.MessageID.String(),
		MessageType: row.MessageType,
		Payload:     row.Payload,
		Hops: []contractsv1.Hop{{
			ServiceName: row.HandlerName,
			OccurredAt:  fallbackTime(row.CreatedAt),
		}},
	}
}

// wireFromEventLog reconstructs the wire envelope for a replayed event-log
// record, used by PerspectiveRunner to hand replayed events to projection
// handlers without a separate decode path.
func wireFromEventLog(row store.EventLogRecord) contractsv1.Envelope {
	return contractsv1.Envelope{
		MessageID:   row.MessageID.String(),
		MessageType: row.EventType,
		Payload:     row.Payload,
		Hops: []contractsv1.Hop{{
			OccurredAt: fallbackTime(row.CreatedAt),
		}},
	}
}

func fallbackTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
