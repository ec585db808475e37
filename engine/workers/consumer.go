package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"corework/engine/coordinator"
	"corework/engine/dispatch"
	"corework/engine/enginerr"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/store"
	"corework/engine/streamprocessor"
	"corework/engine/transport"
	"corework/internal/platform/logging"
)

// Consumer subscribes to configured transport destinations, stores each
// delivered envelope into the inbox (acknowledging the broker only after
// that insert is confirmed), and drains claimed inbox work through the
// registered receptors.
type Consumer struct {
	coord     coordinator.Coordinator
	transport transport.Transport
	registry  *dispatch.Registry
	st        store.Store
	handler   string
	logger    *slog.Logger
	parallel  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewConsumer(coord coordinator.Coordinator, tp transport.Transport, registry *dispatch.Registry, st store.Store, handlerName string, logger *slog.Logger, parallelizeStreams bool) *Consumer {
	return &Consumer{
		coord:     coord,
		transport: tp,
		registry:  registry,
		st:        st,
		handler:   handlerName,
		logger:    logging.With(logger, "engine/workers", "consumer"),
		parallel:  parallelizeStreams,
		stopCh:    make(chan struct{}),
	}
}

// Subscribe registers the receive path for destination: on delivery it
// checks dedup, inserts an inbox row via the coordinator, and only then
// returns nil to acknowledge the broker.
func (c *Consumer) Subscribe(ctx context.Context, destination string) error {
	return c.transport.Subscribe(ctx, destination, func(ctx context.Context, destination string, env envelope.Envelope) error {
		processed, err := c.st.HasProcessed(ctx, env.MessageID, c.handler)
		if err != nil {
			return err
		}
		if processed {
			// Already handled: acknowledge and drop (S6 duplicate inbound).
			return nil
		}
		streamID, _ := env.StreamID()
		wire, err := env.MarshalWire()
		if err != nil {
			return errors.Join(enginerr.ErrSerialization, err)
		}
		return c.enqueueInbox(ctx, env.MessageID, c.handler, env.MessageType, wire.Payload, streamID)
	})
}

// enqueueInbox queues exactly one inbox row and flushes immediately: the
// broker acknowledgement this callback's return value drives must not
// happen before the row is durably stored (§4.7).
func (c *Consumer) enqueueInbox(ctx context.Context, messageID ids.ID, handler, messageType string, payload []byte, streamID ids.ID) error {
	c.coord.QueueNewInbox(store.NewInboxRow{MessageID: messageID, HandlerName: handler, MessageType: messageType, Payload: payload, StreamID: streamID})
	return c.coord.Flush(ctx)
}

// Run drains claimed inbox work and dispatches each item to its
// registered receptor, in stream order.
func (c *Consumer) Run(ctx context.Context) {
	c.wg.Add(1)
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case first := <-c.coord.InboxWork():
			batch := c.drainAvailable(first)
			c.processBatch(ctx, batch)
		}
	}
}

func (c *Consumer) drainAvailable(first store.InboxRecord) []store.InboxRecord {
	batch := []store.InboxRecord{first}
	for {
		select {
		case row := <-c.coord.InboxWork():
			batch = append(batch, row)
		default:
			return batch
		}
	}
}

func (c *Consumer) processBatch(ctx context.Context, rows []store.InboxRecord) {
	items := make([]streamprocessor.Item, 0, len(rows))
	byMessageID := make(map[string]store.InboxRecord, len(rows))
	for _, row := range rows {
		items = append(items, streamprocessor.Item{MessageID: row.MessageID, StreamID: row.StreamID, Payload: row})
		byMessageID[row.MessageID.String()] = row
	}

	outcomes := streamprocessor.Run(ctx, items, func(ctx context.Context, item streamprocessor.Item) (store.StatusFlags, error) {
		row := byMessageID[item.MessageID.String()]
		return c.dispatchOne(ctx, row)
	}, streamprocessor.Options{ParallelizeStreams: c.parallel})

	for _, outcome := range outcomes {
		row := byMessageID[outcome.Item.MessageID.String()]
		if outcome.Succeeded {
			c.coord.QueueReceptorCompletion(store.Completion{MessageID: row.MessageID, HandlerName: row.HandlerName, NewStatus: outcome.NewStatus})
			if err := c.st.MarkProcessed(ctx, row.MessageID, row.HandlerName); err != nil {
				c.logger.Error("mark processed failed",
					"event", "consumer_mark_processed_failed",
					"message_id", row.MessageID.String(),
					"error", err.Error(),
				)
			}
			continue
		}
		c.coord.QueueReceptorFailure(store.Failure{
			MessageID:     row.MessageID,
			HandlerName:   row.HandlerName,
			PartialStatus: outcome.PartialStatus,
			Error:         outcome.Err.Error(),
			FailureReason: classify(outcome.Err),
		})
	}
}

func (c *Consumer) dispatchOne(ctx context.Context, row store.InboxRecord) (store.StatusFlags, error) {
	env, err := envelope.FromWire(wireFromInbox(row))
	if err != nil {
		return row.StatusFlags, errors.Join(enginerr.ErrSerialization, err)
	}
	if err := c.registry.Dispatch(ctx, env); err != nil {
		return row.StatusFlags, errors.Join(enginerr.ErrValidation, err)
	}
	return store.StatusEventStored, nil
}

func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}
