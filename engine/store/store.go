package store

import (
	"context"

	"corework/engine/envelope"
	"corework/engine/ids"
)

// Store is the durable-store contract (C1): an append-only event log plus
// the outbox/inbox/perspective tables and the single atomic work-batch
// procedure (C2) that claims, completes, and fails rows across all of them
// in one round trip. engine/store/postgres is the only production
// implementation; engine/transport/inmemory-adjacent test fakes implement
// it directly for unit tests that don't need a database.
type Store interface {
	// AppendEvent appends env to streamID's event log, assigning the next
	// dense sequence number. Returns StreamConflict (via engine/enginerr) if
	// a concurrent append already claimed the expected sequence.
	AppendEvent(ctx context.Context, streamID ids.ID, env envelope.Envelope) (sequence int64, err error)

	// ProcessWorkBatch is the single atomic operation described in §4.2: it
	// applies every completion/failure/new-row/lease-renewal in req within
	// one transaction, then claims and returns a fresh batch of work for
	// this instance.
	ProcessWorkBatch(ctx context.Context, req Request) (Batch, error)

	// ReadStream returns env log records for streamID with Sequence >=
	// fromSequence, ordered ascending.
	ReadStream(ctx context.Context, streamID ids.ID, fromSequence int64) ([]EventLogRecord, error)

	// GetLastSequence returns the highest assigned sequence for streamID,
	// or -1 if the stream has no events yet.
	GetLastSequence(ctx context.Context, streamID ids.ID) (int64, error)

	// HasProcessed reports whether (messageID, handlerName) already has a
	// dedup record, used by consumers to skip redelivered messages.
	HasProcessed(ctx context.Context, messageID ids.ID, handlerName string) (bool, error)

	// MarkProcessed records (messageID, handlerName) as processed. Idempotent:
	// calling it twice with the same pair is not an error.
	MarkProcessed(ctx context.Context, messageID ids.ID, handlerName string) error
}
