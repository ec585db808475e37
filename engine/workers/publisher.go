// Package workers implements the three background tasks that drain
// claimed work through engine/streamprocessor: Publisher (C6), Consumer
// (C7), and PerspectiveRunner (C8).
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"corework/engine/coordinator"
	"corework/engine/enginerr"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/store"
	"corework/engine/streamprocessor"
	"corework/engine/transport"
	"corework/internal/platform/logging"
)

// Publisher drains outbox work from the coordinator and publishes each
// item via transport, reporting completions/failures back through the
// coordinator rather than blocking it on transport I/O.
type Publisher struct {
	coord       coordinator.Coordinator
	transport   transport.Transport
	logger      *slog.Logger
	parallel    bool
	leaseMargin time.Duration

	inFlightMu sync.Mutex
	inFlight   []store.OutboxRecord

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPublisher builds a Publisher. leaseSeconds is the same lease
// lifetime the coordinator claims outbox rows with (§6 Configuration
// surface); leases are renewed once less than a third of that lifetime
// remains, so a publish that outlives one lease window doesn't lose its
// claim to another instance's reclaim sweep mid-publish.
func NewPublisher(coord coordinator.Coordinator, tp transport.Transport, logger *slog.Logger, parallelizeStreams bool, leaseSeconds int) *Publisher {
	margin := time.Duration(leaseSeconds) * time.Second / 3
	if margin <= 0 {
		margin = 30 * time.Second
	}
	return &Publisher{
		coord:       coord,
		transport:   tp,
		logger:      logging.With(logger, "engine/workers", "publisher"),
		parallel:    parallelizeStreams,
		leaseMargin: margin,
		stopCh:      make(chan struct{}),
	}
}

// Run drains the coordinator's outbox channel until ctx is cancelled or
// Stop is called, batching whatever has accumulated on each drain cycle
// through the stream processor. A background renewal loop runs alongside
// it so leases on rows still being published are kept alive even while
// Run itself is blocked inside processBatch (see renewLoop).
func (p *Publisher) Run(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()

	p.wg.Add(1)
	go p.renewLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case first := <-p.coord.OutboxWork():
			batch := p.drainAvailable(first)
			p.setInFlight(batch)
			p.processBatch(ctx, batch)
			p.setInFlight(nil)
		}
	}
}

// renewLoop periodically calls RenewNearExpiry against whatever batch Run
// currently has in flight, independent of Run's own select loop so a slow
// transport.Publish call can't starve lease renewal.
func (p *Publisher) renewLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.leaseMargin / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			p.RenewNearExpiry(p.snapshotInFlight(), now, p.leaseMargin)
		}
	}
}

func (p *Publisher) setInFlight(rows []store.OutboxRecord) {
	p.inFlightMu.Lock()
	p.inFlight = rows
	p.inFlightMu.Unlock()
}

func (p *Publisher) snapshotInFlight() []store.OutboxRecord {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	out := make([]store.OutboxRecord, len(p.inFlight))
	copy(out, p.inFlight)
	return out
}

func (p *Publisher) drainAvailable(first store.OutboxRecord) []store.OutboxRecord {
	batch := []store.OutboxRecord{first}
	for {
		select {
		case row := <-p.coord.OutboxWork():
			batch = append(batch, row)
		default:
			return batch
		}
	}
}

func (p *Publisher) processBatch(ctx context.Context, rows []store.OutboxRecord) {
	items := make([]streamprocessor.Item, 0, len(rows))
	byMessageID := make(map[string]store.OutboxRecord, len(rows))
	for _, row := range rows {
		items = append(items, streamprocessor.Item{MessageID: row.MessageID, StreamID: row.StreamID, Payload: row})
		byMessageID[row.MessageID.String()] = row
	}

	outcomes := streamprocessor.Run(ctx, items, func(ctx context.Context, item streamprocessor.Item) (store.StatusFlags, error) {
		row := byMessageID[item.MessageID.String()]
		return p.publishOne(ctx, row)
	}, streamprocessor.Options{ParallelizeStreams: p.parallel})

	for _, outcome := range outcomes {
		row := byMessageID[outcome.Item.MessageID.String()]
		if outcome.Succeeded {
			p.coord.QueueOutboxCompletion(store.Completion{MessageID: row.MessageID, NewStatus: outcome.NewStatus})
			continue
		}
		terminal := errors.Is(outcome.Err, enginerr.ErrMaxAttemptsExceeded) || errors.Is(outcome.Err, enginerr.ErrValidation) || errors.Is(outcome.Err, enginerr.ErrSerialization)
		p.coord.QueueOutboxFailure(store.Failure{
			MessageID:     row.MessageID,
			PartialStatus: outcome.PartialStatus,
			Error:         outcome.Err.Error(),
			FailureReason: classify(outcome.Err),
			Terminal:      terminal,
		})
	}
}

func (p *Publisher) publishOne(ctx context.Context, row store.OutboxRecord) (store.StatusFlags, error) {
	if !p.transport.Ready() {
		return row.StatusFlags, enginerr.ErrTransportNotReady
	}
	env, err := envelope.FromWire(wireFromOutbox(row))
	if err != nil {
		return row.StatusFlags, errors.Join(enginerr.ErrSerialization, err)
	}
	if err := p.transport.Publish(ctx, row.Destination, env); err != nil {
		return row.StatusFlags, errors.Join(enginerr.ErrTransportException, err)
	}
	return store.StatusPublished | store.StatusEventStored, nil
}

// RenewNearExpiry queues lease renewal for outbox rows whose lease expires
// within margin, called periodically by renewLoop.
func (p *Publisher) RenewNearExpiry(rows []store.OutboxRecord, now time.Time, margin time.Duration) {
	renew := make([]ids.ID, 0)
	for _, row := range rows {
		if row.LeaseExpiry != nil && row.LeaseExpiry.Sub(now) < margin {
			renew = append(renew, row.MessageID)
		}
	}
	if len(renew) == 0 {
		return
	}
	p.coord.QueueLeaseRenewal(renew, nil)
}

func (p *Publisher) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func classify(err error) string {
	switch {
	case errors.Is(err, enginerr.ErrTransportNotReady):
		return "TransportNotReady"
	case errors.Is(err, enginerr.ErrTransportException):
		return "TransportException"
	case errors.Is(err, enginerr.ErrSerialization):
		return "SerializationError"
	case errors.Is(err, enginerr.ErrValidation):
		return "ValidationError"
	case errors.Is(err, enginerr.ErrMaxAttemptsExceeded):
		return "MaxAttemptsExceeded"
	case errors.Is(err, enginerr.ErrLeaseExpired):
		return "LeaseExpired"
	default:
		return "Unknown"
	}
}
