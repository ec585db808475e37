// Package coordinator implements the Work Coordinator strategies (C4): an
// in-memory batching shim in front of the store's atomic work-batch
// procedure. Coordinators drain queued enqueues/completions/failures,
// call store.Store.ProcessWorkBatch once, and push the returned work
// directly into downstream channels consumed by engine/workers —
// eliminating a polling round trip for locally-produced work.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"corework/engine/dispatch"
	"corework/engine/enginerr"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/store"
	"corework/internal/platform/logging"
)

// Config carries the work-batch tuning knobs (§6 Configuration surface).
type Config struct {
	PartitionCount           int
	MaxPartitionsPerInstance int
	LeaseSeconds             int
	StaleThresholdSeconds    int
	BatchSize                int
	DebugMode                bool
}

func (c Config) withDefaults() Config {
	if c.PartitionCount <= 0 {
		c.PartitionCount = 10000
	}
	if c.MaxPartitionsPerInstance <= 0 {
		c.MaxPartitionsPerInstance = 100
	}
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = 300
	}
	if c.StaleThresholdSeconds <= 0 {
		c.StaleThresholdSeconds = 600
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Coordinator is implemented by all three strategies and is the interface
// engine/uow.Flusher and engine/workers depend on.
type Coordinator interface {
	uowFlusher

	// QueueCompletion/QueueFailure feed back results from C5/C6/C7/C8 into
	// the next flush.
	QueueOutboxCompletion(c store.Completion)
	QueueOutboxFailure(f store.Failure)
	QueueInboxCompletion(c store.Completion)
	QueueInboxFailure(f store.Failure)
	QueueReceptorCompletion(c store.Completion)
	QueueReceptorFailure(f store.Failure)
	QueuePerspectiveCompletion(c store.Completion)
	QueuePerspectiveFailure(f store.Failure)
	QueueLeaseRenewal(outboxIDs, inboxIDs []ids.ID)
	QueueNewInbox(row store.NewInboxRow)
	QueueNewPerspective(row store.NewPerspectiveRow)

	// OutboxWork/InboxWork/PerspectiveWork are the downstream channels
	// workers read claimed work from.
	OutboxWork() <-chan store.OutboxRecord
	InboxWork() <-chan store.InboxRecord
	PerspectiveWork() <-chan store.PerspectiveCheckpoint

	// Flush forces an immediate round trip regardless of strategy.
	Flush(ctx context.Context) error

	Close(ctx context.Context) error
}

type uowFlusher interface {
	FlushMessages(ctx context.Context, messages []envelope.Envelope) error
}

// queues is the shared mutable state all three strategies drain on flush.
type queues struct {
	mu sync.Mutex

	newOutbox      []store.NewOutboxRow
	newInbox       []store.NewInboxRow
	newPerspectives []store.NewPerspectiveRow

	outboxCompletions, inboxCompletions, receptorCompletions, perspectiveCompletions []store.Completion
	outboxFailures, inboxFailures, receptorFailures, perspectiveFailures             []store.Failure

	renewOutbox, renewInbox []ids.ID
}

func (q *queues) drain() store.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	req := store.Request{
		NewOutbox:              q.newOutbox,
		NewInbox:               q.newInbox,
		NewPerspectives:        q.newPerspectives,
		OutboxCompletions:      q.outboxCompletions,
		OutboxFailures:         q.outboxFailures,
		InboxCompletions:       q.inboxCompletions,
		InboxFailures:          q.inboxFailures,
		ReceptorCompletions:    q.receptorCompletions,
		ReceptorFailures:       q.receptorFailures,
		PerspectiveCompletions: q.perspectiveCompletions,
		PerspectiveFailures:    q.perspectiveFailures,
		RenewOutboxLeaseIDs:    q.renewOutbox,
		RenewInboxLeaseIDs:     q.renewInbox,
	}
	q.newOutbox, q.newInbox, q.newPerspectives = nil, nil, nil
	q.outboxCompletions, q.inboxCompletions, q.receptorCompletions, q.perspectiveCompletions = nil, nil, nil, nil
	q.outboxFailures, q.inboxFailures, q.receptorFailures, q.perspectiveFailures = nil, nil, nil, nil
	q.renewOutbox, q.renewInbox = nil, nil
	return req
}

func (q *queues) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.newOutbox) == 0 && len(q.newInbox) == 0 && len(q.newPerspectives) == 0 &&
		len(q.outboxCompletions) == 0 && len(q.inboxCompletions) == 0 &&
		len(q.receptorCompletions) == 0 && len(q.perspectiveCompletions) == 0 &&
		len(q.outboxFailures) == 0 && len(q.inboxFailures) == 0 &&
		len(q.receptorFailures) == 0 && len(q.perspectiveFailures) == 0 &&
		len(q.renewOutbox) == 0 && len(q.renewInbox) == 0
}

// base wires the shared machinery: the identity this process presents to
// ProcessWorkBatch, the queues, and the output channels.
type base struct {
	store    store.Store
	identity store.Identity
	cfg      Config
	logger   *slog.Logger
	registry *dispatch.Registry

	q queues

	outboxCh      chan store.OutboxRecord
	inboxCh       chan store.InboxRecord
	perspectiveCh chan store.PerspectiveCheckpoint

	closeOnce sync.Once
	closed    bool
	closedMu  sync.Mutex
}

func newBase(st store.Store, identity store.Identity, cfg Config, logger *slog.Logger, registry *dispatch.Registry) base {
	return base{
		store:         st,
		identity:      identity,
		cfg:           cfg.withDefaults(),
		logger:        logging.With(logger, "engine/coordinator", "coordinator"),
		registry:      registry,
		outboxCh:      make(chan store.OutboxRecord, 256),
		inboxCh:       make(chan store.InboxRecord, 256),
		perspectiveCh: make(chan store.PerspectiveCheckpoint, 256),
	}
}

func (b *base) isClosed() bool {
	b.closedMu.Lock()
	defer b.closedMu.Unlock()
	return b.closed
}

func (b *base) markClosed() {
	b.closedMu.Lock()
	b.closed = true
	b.closedMu.Unlock()
}

func (b *base) QueueOutboxCompletion(c store.Completion) {
	b.q.mu.Lock()
	b.q.outboxCompletions = append(b.q.outboxCompletions, c)
	b.q.mu.Unlock()
}
func (b *base) QueueOutboxFailure(f store.Failure) {
	b.q.mu.Lock()
	b.q.outboxFailures = append(b.q.outboxFailures, f)
	b.q.mu.Unlock()
}
func (b *base) QueueInboxCompletion(c store.Completion) {
	b.q.mu.Lock()
	b.q.inboxCompletions = append(b.q.inboxCompletions, c)
	b.q.mu.Unlock()
}
func (b *base) QueueInboxFailure(f store.Failure) {
	b.q.mu.Lock()
	b.q.inboxFailures = append(b.q.inboxFailures, f)
	b.q.mu.Unlock()
}
func (b *base) QueueReceptorCompletion(c store.Completion) {
	b.q.mu.Lock()
	b.q.receptorCompletions = append(b.q.receptorCompletions, c)
	b.q.mu.Unlock()
}
func (b *base) QueueReceptorFailure(f store.Failure) {
	b.q.mu.Lock()
	b.q.receptorFailures = append(b.q.receptorFailures, f)
	b.q.mu.Unlock()
}
func (b *base) QueuePerspectiveCompletion(c store.Completion) {
	b.q.mu.Lock()
	b.q.perspectiveCompletions = append(b.q.perspectiveCompletions, c)
	b.q.mu.Unlock()
}
func (b *base) QueuePerspectiveFailure(f store.Failure) {
	b.q.mu.Lock()
	b.q.perspectiveFailures = append(b.q.perspectiveFailures, f)
	b.q.mu.Unlock()
}
func (b *base) QueueLeaseRenewal(outboxIDs, inboxIDs []ids.ID) {
	b.q.mu.Lock()
	b.q.renewOutbox = append(b.q.renewOutbox, outboxIDs...)
	b.q.renewInbox = append(b.q.renewInbox, inboxIDs...)
	b.q.mu.Unlock()
}
func (b *base) QueueNewInbox(row store.NewInboxRow) {
	b.q.mu.Lock()
	b.q.newInbox = append(b.q.newInbox, row)
	b.q.mu.Unlock()
}
func (b *base) QueueNewPerspective(row store.NewPerspectiveRow) {
	b.q.mu.Lock()
	b.q.newPerspectives = append(b.q.newPerspectives, row)
	b.q.mu.Unlock()
}

func (b *base) OutboxWork() <-chan store.OutboxRecord                   { return b.outboxCh }
func (b *base) InboxWork() <-chan store.InboxRecord                     { return b.inboxCh }
func (b *base) PerspectiveWork() <-chan store.PerspectiveCheckpoint     { return b.perspectiveCh }

// FlushMessages implements engine/uow.Flusher: each message becomes a new
// outbox row, appended to the stream's event log by the same work-batch
// round trip (see engine/store/postgres's insertNewOutbox). Destination is
// the message's own MessageType — one transport destination per event
// type, so Consumer.Subscribe only needs one call per type the
// application cares about.
//
// If this coordinator was built with a dispatch.Registry, every message
// also seeds a checkpoint row for each perspective
// Registry.PerspectivesFor(msg.MessageType) names, so PerspectiveRunner has
// something to claim once the event lands in the log.
func (b *base) FlushMessages(ctx context.Context, messages []envelope.Envelope) error {
	for _, msg := range messages {
		streamID, _ := msg.StreamID()
		wire, err := msg.MarshalWire()
		if err != nil {
			return err
		}
		b.q.mu.Lock()
		b.q.newOutbox = append(b.q.newOutbox, store.NewOutboxRow{
			MessageID:   msg.MessageID,
			Destination: msg.MessageType,
			MessageType: msg.MessageType,
			Payload:     wire.Payload,
			StreamID:    streamID,
		})
		if b.registry != nil {
			for _, name := range b.registry.PerspectivesFor(msg.MessageType) {
				b.q.newPerspectives = append(b.q.newPerspectives, store.NewPerspectiveRow{
					StreamID:        streamID,
					PerspectiveName: name,
				})
			}
		}
		b.q.mu.Unlock()
	}
	return b.flushNow(ctx)
}

// flushNow performs the round trip unconditionally and routes the
// returned batch into the output channels.
func (b *base) flushNow(ctx context.Context) error {
	req := b.q.drain()
	req.Identity = b.identity
	req.PartitionCount = b.cfg.PartitionCount
	req.MaxPartitionsPerInstance = b.cfg.MaxPartitionsPerInstance
	req.LeaseSeconds = b.cfg.LeaseSeconds
	req.StaleThresholdSeconds = b.cfg.StaleThresholdSeconds
	req.BatchSize = b.cfg.BatchSize
	req.DebugMode = b.cfg.DebugMode

	result, err := b.store.ProcessWorkBatch(ctx, req)
	if err != nil {
		b.logger.Error("work batch failed",
			"event", "work_batch_failed",
			"error", err.Error(),
		)
		return err
	}
	for _, row := range result.OutboxWork {
		select {
		case b.outboxCh <- row:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, row := range result.InboxWork {
		select {
		case b.inboxCh <- row:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, row := range result.PerspectiveWork {
		select {
		case b.perspectiveCh <- row:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Immediate flushes on every queue mutation: each Queue* method calls
// Flush itself, and FlushMessages makes its own round trip via flushNow.
type Immediate struct{ base base }

func NewImmediate(st store.Store, identity store.Identity, cfg Config, logger *slog.Logger, registry *dispatch.Registry) *Immediate {
	return &Immediate{base: newBase(st, identity, cfg, logger, registry)}
}

func (c *Immediate) QueueOutboxCompletion(x store.Completion)   { c.base.QueueOutboxCompletion(x); _ = c.Flush(context.Background()) }
func (c *Immediate) QueueOutboxFailure(x store.Failure)         { c.base.QueueOutboxFailure(x); _ = c.Flush(context.Background()) }
func (c *Immediate) QueueInboxCompletion(x store.Completion)    { c.base.QueueInboxCompletion(x); _ = c.Flush(context.Background()) }
func (c *Immediate) QueueInboxFailure(x store.Failure)          { c.base.QueueInboxFailure(x); _ = c.Flush(context.Background()) }
func (c *Immediate) QueueReceptorCompletion(x store.Completion) { c.base.QueueReceptorCompletion(x); _ = c.Flush(context.Background()) }
func (c *Immediate) QueueReceptorFailure(x store.Failure)       { c.base.QueueReceptorFailure(x); _ = c.Flush(context.Background()) }
func (c *Immediate) QueuePerspectiveCompletion(x store.Completion) {
	c.base.QueuePerspectiveCompletion(x)
	_ = c.Flush(context.Background())
}
func (c *Immediate) QueuePerspectiveFailure(x store.Failure) {
	c.base.QueuePerspectiveFailure(x)
	_ = c.Flush(context.Background())
}
func (c *Immediate) QueueLeaseRenewal(o, i []ids.ID) { c.base.QueueLeaseRenewal(o, i); _ = c.Flush(context.Background()) }
func (c *Immediate) QueueNewInbox(x store.NewInboxRow) { c.base.QueueNewInbox(x); _ = c.Flush(context.Background()) }
func (c *Immediate) QueueNewPerspective(x store.NewPerspectiveRow) {
	c.base.QueueNewPerspective(x)
	_ = c.Flush(context.Background())
}
func (c *Immediate) OutboxWork() <-chan store.OutboxRecord               { return c.base.OutboxWork() }
func (c *Immediate) InboxWork() <-chan store.InboxRecord                 { return c.base.InboxWork() }
func (c *Immediate) PerspectiveWork() <-chan store.PerspectiveCheckpoint { return c.base.PerspectiveWork() }
func (c *Immediate) FlushMessages(ctx context.Context, msgs []envelope.Envelope) error {
	return c.base.FlushMessages(ctx, msgs)
}
func (c *Immediate) Flush(ctx context.Context) error {
	if c.base.isClosed() {
		return enginerr.ErrDisposed
	}
	return c.base.flushNow(ctx)
}
func (c *Immediate) Close(ctx context.Context) error {
	var err error
	c.base.closeOnce.Do(func() {
		err = c.base.flushNow(ctx)
		c.base.markClosed()
	})
	return err
}

// Scoped flushes queued completions, failures and other queued state only
// when Flush is called explicitly (at scope end); Queue* calls merely
// accumulate. FlushMessages still makes its own round trip.
type Scoped struct{ base base }

func NewScoped(st store.Store, identity store.Identity, cfg Config, logger *slog.Logger, registry *dispatch.Registry) *Scoped {
	return &Scoped{base: newBase(st, identity, cfg, logger, registry)}
}

func (c *Scoped) QueueOutboxCompletion(x store.Completion)      { c.base.QueueOutboxCompletion(x) }
func (c *Scoped) QueueOutboxFailure(x store.Failure)            { c.base.QueueOutboxFailure(x) }
func (c *Scoped) QueueInboxCompletion(x store.Completion)       { c.base.QueueInboxCompletion(x) }
func (c *Scoped) QueueInboxFailure(x store.Failure)             { c.base.QueueInboxFailure(x) }
func (c *Scoped) QueueReceptorCompletion(x store.Completion)    { c.base.QueueReceptorCompletion(x) }
func (c *Scoped) QueueReceptorFailure(x store.Failure)          { c.base.QueueReceptorFailure(x) }
func (c *Scoped) QueuePerspectiveCompletion(x store.Completion) { c.base.QueuePerspectiveCompletion(x) }
func (c *Scoped) QueuePerspectiveFailure(x store.Failure)       { c.base.QueuePerspectiveFailure(x) }
func (c *Scoped) QueueLeaseRenewal(o, i []ids.ID)               { c.base.QueueLeaseRenewal(o, i) }
func (c *Scoped) QueueNewInbox(x store.NewInboxRow)             { c.base.QueueNewInbox(x) }
func (c *Scoped) QueueNewPerspective(x store.NewPerspectiveRow) { c.base.QueueNewPerspective(x) }
func (c *Scoped) OutboxWork() <-chan store.OutboxRecord               { return c.base.OutboxWork() }
func (c *Scoped) InboxWork() <-chan store.InboxRecord                 { return c.base.InboxWork() }
func (c *Scoped) PerspectiveWork() <-chan store.PerspectiveCheckpoint { return c.base.PerspectiveWork() }
func (c *Scoped) FlushMessages(ctx context.Context, msgs []envelope.Envelope) error {
	return c.base.FlushMessages(ctx, msgs)
}
func (c *Scoped) Flush(ctx context.Context) error {
	if c.base.isClosed() {
		return enginerr.ErrDisposed
	}
	if c.base.q.empty() {
		return nil
	}
	return c.base.flushNow(ctx)
}
func (c *Scoped) Close(ctx context.Context) error {
	var err error
	c.base.closeOnce.Do(func() {
		err = c.base.flushNow(ctx)
		c.base.markClosed()
	})
	return err
}

// Interval flushes on a background timer, backing off when idle: from the
// idleThresholdPolls-th consecutive empty flush on, each empty flush
// doubles the interval, capped at maxInterval; a non-empty flush resets
// it to minInterval.
type Interval struct {
	base base

	minInterval, maxInterval time.Duration
	current                  time.Duration
	idleThresholdPolls       int
	idleStreak               int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewInterval(st store.Store, identity store.Identity, cfg Config, logger *slog.Logger, registry *dispatch.Registry, minInterval, maxInterval time.Duration, idleThresholdPolls int) *Interval {
	if idleThresholdPolls <= 0 {
		idleThresholdPolls = 2
	}
	iv := &Interval{
		base:               newBase(st, identity, cfg, logger, registry),
		minInterval:        minInterval,
		maxInterval:        maxInterval,
		current:            minInterval,
		idleThresholdPolls: idleThresholdPolls,
		stopCh:             make(chan struct{}),
	}
	iv.wg.Add(1)
	go iv.loop()
	return iv
}

func (iv *Interval) loop() {
	defer iv.wg.Done()
	timer := time.NewTimer(iv.current)
	defer timer.Stop()
	for {
		select {
		case <-iv.stopCh:
			return
		case <-timer.C:
			empty := iv.base.q.empty()
			if err := iv.base.flushNow(context.Background()); err != nil {
				iv.base.logger.Error("interval flush failed", "event", "interval_flush_failed", "error", err.Error())
			}
			iv.adjustInterval(empty)
			timer.Reset(iv.current)
		}
	}
}

func (iv *Interval) adjustInterval(wasEmpty bool) {
	if !wasEmpty {
		iv.idleStreak = 0
		iv.current = iv.minInterval
		return
	}
	iv.idleStreak++
	if iv.idleStreak < iv.idleThresholdPolls {
		return
	}
	next := iv.current * 2
	if next > iv.maxInterval {
		next = iv.maxInterval
	}
	iv.current = next
}

func (iv *Interval) QueueOutboxCompletion(x store.Completion)      { iv.base.QueueOutboxCompletion(x) }
func (iv *Interval) QueueOutboxFailure(x store.Failure)            { iv.base.QueueOutboxFailure(x) }
func (iv *Interval) QueueInboxCompletion(x store.Completion)       { iv.base.QueueInboxCompletion(x) }
func (iv *Interval) QueueInboxFailure(x store.Failure)             { iv.base.QueueInboxFailure(x) }
func (iv *Interval) QueueReceptorCompletion(x store.Completion)    { iv.base.QueueReceptorCompletion(x) }
func (iv *Interval) QueueReceptorFailure(x store.Failure)          { iv.base.QueueReceptorFailure(x) }
func (iv *Interval) QueuePerspectiveCompletion(x store.Completion) { iv.base.QueuePerspectiveCompletion(x) }
func (iv *Interval) QueuePerspectiveFailure(x store.Failure)       { iv.base.QueuePerspectiveFailure(x) }
func (iv *Interval) QueueLeaseRenewal(o, i []ids.ID)               { iv.base.QueueLeaseRenewal(o, i) }
func (iv *Interval) QueueNewInbox(x store.NewInboxRow)             { iv.base.QueueNewInbox(x) }
func (iv *Interval) QueueNewPerspective(x store.NewPerspectiveRow) { iv.base.QueueNewPerspective(x) }
func (iv *Interval) OutboxWork() <-chan store.OutboxRecord               { return iv.base.OutboxWork() }
func (iv *Interval) InboxWork() <-chan store.InboxRecord                 { return iv.base.InboxWork() }
func (iv *Interval) PerspectiveWork() <-chan store.PerspectiveCheckpoint { return iv.base.PerspectiveWork() }
func (iv *Interval) FlushMessages(ctx context.Context, msgs []envelope.Envelope) error {
	return iv.base.FlushMessages(ctx, msgs)
}
func (iv *Interval) Flush(ctx context.Context) error {
	if iv.base.isClosed() {
		return enginerr.ErrDisposed
	}
	return iv.base.flushNow(ctx)
}
func (iv *Interval) Close(ctx context.Context) error {
	var err error
	iv.stopOnce.Do(func() { close(iv.stopCh) })
	iv.wg.Wait()
	iv.base.closeOnce.Do(func() {
		err = iv.base.flushNow(ctx)
		iv.base.markClosed()
	})
	return err
}
