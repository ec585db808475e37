// Package uow implements the Unit-of-Work strategies (C3): handler code
// queues outbound messages into a UnitOfWork, which decides when those
// messages are handed to a Flusher (normally an engine/coordinator
// Coordinator) for durable persistence.
package uow

import (
	"context"
	"sync"
	"time"

	"corework/engine/enginerr"
	"corework/engine/envelope"
	"corework/engine/ids"
)

// Flusher is the downstream sink a UnitOfWork hands queued messages to. A
// coordinator.Coordinator implements this by calling ProcessWorkBatch.
type Flusher interface {
	FlushMessages(ctx context.Context, messages []envelope.Envelope) error
}

// UnitOfWork accumulates messages produced during a handler invocation and
// decides, per strategy, when to flush them downstream.
type UnitOfWork interface {
	// Queue adds a message to unitID's pending set, creating the unit if
	// this is its first message. Returns the unit's ID (a fresh UUIDv7 if
	// unitID was the nil ID).
	Queue(ctx context.Context, unitID ids.ID, message envelope.Envelope) (ids.ID, error)

	// Cancel discards unitID's pending messages. A no-op if the unit
	// already flushed.
	Cancel(unitID ids.ID) error

	// Flush hands unitID's pending messages to the Flusher immediately.
	Flush(ctx context.Context, unitID ids.ID) error

	// Close drains and flushes any remaining state, then refuses further
	// Queue calls.
	Close(ctx context.Context) error
}

type unit struct {
	messages []envelope.Envelope
	flushed  bool
}

// baseUnits is the shared bookkeeping all three strategies use: a map of
// open units guarded by a mutex, plus the disposed flag.
type baseUnits struct {
	mu       sync.Mutex
	units    map[ids.ID]*unit
	flusher  Flusher
	provider ids.Provider
	disposed bool
}

func newBaseUnits(flusher Flusher, provider ids.Provider) baseUnits {
	if provider == nil {
		provider = ids.UUIDv7Provider{}
	}
	return baseUnits{units: make(map[ids.ID]*unit), flusher: flusher, provider: provider}
}

func (b *baseUnits) resolveUnit(ctx context.Context, unitID ids.ID) (ids.ID, *unit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return ids.Nil, nil, enginerr.ErrDisposed
	}
	if unitID.IsNil() {
		fresh, err := b.provider.NewID(ctx)
		if err != nil {
			return ids.Nil, nil, err
		}
		unitID = fresh
	}
	u, ok := b.units[unitID]
	if !ok {
		u = &unit{}
		b.units[unitID] = u
	}
	return unitID, u, nil
}

func (b *baseUnits) cancel(unitID ids.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.units[unitID]
	if !ok || u.flushed {
		return nil
	}
	delete(b.units, unitID)
	return nil
}

func (b *baseUnits) takeMessages(unitID ids.ID) []envelope.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.units[unitID]
	if !ok || u.flushed {
		return nil
	}
	u.flushed = true
	return u.messages
}

func (b *baseUnits) markDisposed() (pending []envelope.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, u := range b.units {
		if !u.flushed {
			pending = append(pending, u.messages...)
			u.flushed = true
		}
		delete(b.units, id)
	}
	b.disposed = true
	return pending
}

// Immediate flushes every queued message synchronously, one message per
// unit (the unitId is advisory only — each Queue call is its own flush).
type Immediate struct {
	base baseUnits
}

func NewImmediate(flusher Flusher, provider ids.Provider) *Immediate {
	return &Immediate{base: newBaseUnits(flusher, provider)}
}

func (i *Immediate) Queue(ctx context.Context, unitID ids.ID, message envelope.Envelope) (ids.ID, error) {
	resolved, u, err := i.base.resolveUnit(ctx, ids.Nil)
	if err != nil {
		return ids.Nil, err
	}
	u.messages = append(u.messages, message)
	if err := i.Flush(ctx, resolved); err != nil {
		return resolved, err
	}
	return resolved, nil
}

func (i *Immediate) Cancel(unitID ids.ID) error { return i.base.cancel(unitID) }

func (i *Immediate) Flush(ctx context.Context, unitID ids.ID) error {
	messages := i.base.takeMessages(unitID)
	if len(messages) == 0 {
		return nil
	}
	return i.base.flusher.FlushMessages(ctx, messages)
}

func (i *Immediate) Close(ctx context.Context) error {
	pending := i.base.markDisposed()
	if len(pending) == 0 {
		return nil
	}
	return i.base.flusher.FlushMessages(ctx, pending)
}

// Scoped accumulates all messages queued under one unitID (one logical
// scope, e.g. a single handler invocation) and flushes them together when
// the scope ends. Empty scopes (Flush called with nothing queued) do not
// flush.
type Scoped struct {
	base baseUnits
}

func NewScoped(flusher Flusher, provider ids.Provider) *Scoped {
	return &Scoped{base: newBaseUnits(flusher, provider)}
}

func (s *Scoped) Queue(ctx context.Context, unitID ids.ID, message envelope.Envelope) (ids.ID, error) {
	resolved, u, err := s.base.resolveUnit(ctx, unitID)
	if err != nil {
		return ids.Nil, err
	}
	u.messages = append(u.messages, message)
	return resolved, nil
}

func (s *Scoped) Cancel(unitID ids.ID) error { return s.base.cancel(unitID) }

func (s *Scoped) Flush(ctx context.Context, unitID ids.ID) error {
	messages := s.base.takeMessages(unitID)
	if len(messages) == 0 {
		return nil
	}
	return s.base.flusher.FlushMessages(ctx, messages)
}

func (s *Scoped) Close(ctx context.Context) error {
	pending := s.base.markDisposed()
	if len(pending) == 0 {
		return nil
	}
	return s.base.flusher.FlushMessages(ctx, pending)
}

// Interval flushes all accumulated, not-yet-flushed units on a background
// timer every interval. Close drains remaining state and stops the timer.
type Interval struct {
	base     baseUnits
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   intervalLogger
}

type intervalLogger interface {
	FlushFailed(err error)
}

func NewInterval(flusher Flusher, provider ids.Provider, interval time.Duration) *Interval {
	iv := &Interval{
		base:     newBaseUnits(flusher, provider),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	iv.wg.Add(1)
	go iv.loop()
	return iv
}

func (iv *Interval) loop() {
	defer iv.wg.Done()
	ticker := time.NewTicker(iv.interval)
	defer ticker.Stop()
	for {
		select {
		case <-iv.stopCh:
			return
		case <-ticker.C:
			iv.flushAll()
		}
	}
}

func (iv *Interval) flushAll() {
	ctx := context.Background()
	iv.base.mu.Lock()
	pendingIDs := make([]ids.ID, 0, len(iv.base.units))
	for id, u := range iv.base.units {
		if !u.flushed {
			pendingIDs = append(pendingIDs, id)
		}
	}
	iv.base.mu.Unlock()
	for _, id := range pendingIDs {
		if err := iv.Flush(ctx, id); err != nil && iv.logger != nil {
			iv.logger.FlushFailed(err)
		}
	}
}

func (iv *Interval) Queue(ctx context.Context, unitID ids.ID, message envelope.Envelope) (ids.ID, error) {
	resolved, u, err := iv.base.resolveUnit(ctx, unitID)
	if err != nil {
		return ids.Nil, err
	}
	u.messages = append(u.messages, message)
	return resolved, nil
}

func (iv *Interval) Cancel(unitID ids.ID) error { return iv.base.cancel(unitID) }

func (iv *Interval) Flush(ctx context.Context, unitID ids.ID) error {
	messages := iv.base.takeMessages(unitID)
	if len(messages) == 0 {
		return nil
	}
	return iv.base.flusher.FlushMessages(ctx, messages)
}

func (iv *Interval) Close(ctx context.Context) error {
	iv.stopOnce.Do(func() { close(iv.stopCh) })
	iv.wg.Wait()
	pending := iv.base.markDisposed()
	if len(pending) == 0 {
		return nil
	}
	return iv.base.flusher.FlushMessages(ctx, pending)
}
