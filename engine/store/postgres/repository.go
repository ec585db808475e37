package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	contractsv1 "corework/contracts/gen/events/v1"
	"corework/engine/enginerr"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/store"
)

// appendTimestamp picks the append time from the envelope's most recent
// hop, falling back to now for envelopes with no hops yet (a single-process
// producer that hasn't traversed a worker boundary).
func appendTimestamp(wire contractsv1.Envelope) time.Time {
	if len(wire.Hops) == 0 {
		return time.Now().UTC()
	}
	return wire.Hops[len(wire.Hops)-1].OccurredAt
}

// Repository implements store.Store on a *gorm.DB. It is the sole
// production-grade Store; tests that don't need a database use an
// in-memory fake implementing the same interface directly.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

var _ store.Store = (*Repository)(nil)

// AppendEvent appends env to streamID's event log in its own transaction.
// It is a thin wrapper over appendEventTx for callers outside the
// work-batch path (e.g. backfills, administrative tooling); the
// production write path appends events as part of the same transaction
// that inserts their outbox row — see insertNewOutbox in workbatch.go.
func (r *Repository) AppendEvent(ctx context.Context, streamID ids.ID, env envelope.Envelope) (int64, error) {
	wire, err := env.MarshalWire()
	if err != nil {
		return 0, errors.Join(enginerr.ErrSerialization, err)
	}

	var sequence int64
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sequence, err = appendEventTx(tx, streamID.String(), env.MessageID.String(), env.MessageType, wire.Payload, appendTimestamp(wire))
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, enginerr.ErrStreamConflict
		}
		return 0, err
	}
	return sequence, nil
}

// appendEventTx appends one event-log row for streamID within tx,
// assigning the next dense sequence number. It is shared by AppendEvent
// (its own transaction) and insertNewOutbox (the work-batch transaction),
// so every event produced through the coordinator's FlushMessages path is
// appended atomically alongside its outbox row.
func appendEventTx(tx *gorm.DB, streamID, messageID, eventType string, payload json.RawMessage, createdAt time.Time) (int64, error) {
	var last eventLogModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("stream_id = ?", streamID).
		Order("sequence DESC").
		Limit(1).
		First(&last).Error
	var sequence int64
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sequence = 0
	case err != nil:
		return 0, err
	default:
		sequence = last.Sequence + 1
	}

	row := eventLogModel{
		StreamID:  streamID,
		Sequence:  sequence,
		MessageID: messageID,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: createdAt,
	}
	create := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if create.Error != nil {
		return 0, create.Error
	}
	if create.RowsAffected == 0 {
		return 0, enginerr.ErrStreamConflict
	}
	return sequence, nil
}

func (r *Repository) ReadStream(ctx context.Context, streamID ids.ID, fromSequence int64) ([]store.EventLogRecord, error) {
	var rows []eventLogModel
	if err := r.db.WithContext(ctx).
		Where("stream_id = ? AND sequence >= ?", streamID.String(), fromSequence).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.EventLogRecord, 0, len(rows))
	for _, row := range rows {
		messageID, _ := ids.Parse(row.MessageID)
		out = append(out, store.EventLogRecord{
			StreamID:  streamID,
			Sequence:  row.Sequence,
			MessageID: messageID,
			EventType: row.EventType,
			Payload:   append(json.RawMessage(nil), row.Payload...),
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

func (r *Repository) GetLastSequence(ctx context.Context, streamID ids.ID) (int64, error) {
	var row eventLogModel
	err := r.db.WithContext(ctx).
		Where("stream_id = ?", streamID.String()).
		Order("sequence DESC").
		Limit(1).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	return row.Sequence, nil
}

func (r *Repository) HasProcessed(ctx context.Context, messageID ids.ID, handlerName string) (bool, error) {
	var row dedupModel
	err := r.db.WithContext(ctx).
		Where("message_id = ? AND handler_name = ?", messageID.String(), handlerName).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, messageID ids.ID, handlerName string) error {
	row := dedupModel{MessageID: messageID.String(), HandlerName: handlerName}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}, {Name: "handler_name"}}, DoNothing: true}).
		Create(&row).Error
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
