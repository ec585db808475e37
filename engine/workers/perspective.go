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
	"corework/internal/platform/logging"
)

// ModelAction is the outcome a ProjectionHandler returns for one event:
// what to do to the perspective's materialized row.
type ModelAction int

const (
	ActionNoop ModelAction = iota
	ActionUpsert
	ActionDelete
	ActionPurge
)

// ProjectionHandler applies one event to a perspective's materialized
// model, keyed by streamID, and reports what happened to it.
type ProjectionHandler func(ctx context.Context, streamID ids.ID, env envelope.Envelope) (ModelAction, error)

// PerspectiveRunner drains claimed perspective-checkpoint work, replays
// missing events to the registered projection handler, and advances each
// checkpoint (C8).
type PerspectiveRunner struct {
	coord    coordinator.Coordinator
	st       store.Store
	registry *dispatch.Registry
	handlers map[string]ProjectionHandler
	logger   *slog.Logger
	parallel bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPerspectiveRunner(coord coordinator.Coordinator, st store.Store, registry *dispatch.Registry, logger *slog.Logger, parallelizeStreams bool) *PerspectiveRunner {
	return &PerspectiveRunner{
		coord:    coord,
		st:       st,
		registry: registry,
		handlers: make(map[string]ProjectionHandler),
		logger:   logging.With(logger, "engine/workers", "perspective_runner"),
		parallel: parallelizeStreams,
		stopCh:   make(chan struct{}),
	}
}

// Register associates perspectiveName's projection handler, invoked for
// every event on a stream the perspective is checkpointed against.
func (r *PerspectiveRunner) Register(perspectiveName string, handler ProjectionHandler) {
	r.handlers[perspectiveName] = handler
}

func (r *PerspectiveRunner) Run(ctx context.Context) {
	r.wg.Add(1)
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case first := <-r.coord.PerspectiveWork():
			batch := r.drainAvailable(first)
			r.processBatch(ctx, batch)
		}
	}
}

func (r *PerspectiveRunner) drainAvailable(first store.PerspectiveCheckpoint) []store.PerspectiveCheckpoint {
	batch := []store.PerspectiveCheckpoint{first}
	for {
		select {
		case cp := <-r.coord.PerspectiveWork():
			batch = append(batch, cp)
		default:
			return batch
		}
	}
}

// job carries one checkpoint through the stream processor plus the
// advanced cursor advanceOne writes back, since the checkpoint itself is
// keyed by (StreamID, PerspectiveName) while MessageID changes as replay
// progresses.
type job struct {
	cp        store.PerspectiveCheckpoint
	newCursor ids.ID
}

func (r *PerspectiveRunner) processBatch(ctx context.Context, checkpoints []store.PerspectiveCheckpoint) {
	items := make([]streamprocessor.Item, 0, len(checkpoints))
	for _, cp := range checkpoints {
		j := &job{cp: cp, newCursor: cp.LastProcessedEventID}
		items = append(items, streamprocessor.Item{
			MessageID: cp.LastProcessedEventID,
			StreamID:  cp.StreamID,
			Payload:   j,
		})
	}

	outcomes := streamprocessor.Run(ctx, items, func(ctx context.Context, item streamprocessor.Item) (store.StatusFlags, error) {
		j := item.Payload.(*job)
		return r.advanceOne(ctx, j)
	}, streamprocessor.Options{ParallelizeStreams: r.parallel})

	for _, outcome := range outcomes {
		j := outcome.Item.Payload.(*job)
		if outcome.Succeeded {
			r.coord.QueuePerspectiveCompletion(store.Completion{
				MessageID:   j.newCursor,
				HandlerName: j.cp.PerspectiveName,
				StreamID:    j.cp.StreamID,
				NewStatus:   outcome.NewStatus,
			})
			continue
		}
		r.coord.QueuePerspectiveFailure(store.Failure{
			MessageID:     j.newCursor,
			HandlerName:   j.cp.PerspectiveName,
			StreamID:      j.cp.StreamID,
			PartialStatus: outcome.PartialStatus,
			Error:         outcome.Err.Error(),
			FailureReason: classify(outcome.Err),
		})
		if !j.newCursor.IsNil() && j.newCursor != j.cp.LastProcessedEventID {
			// Partial progress before the handler raised: record it as its
			// own completion so the cursor still advances past what was
			// successfully applied, per §4.8's partialStatus contract.
			r.coord.QueuePerspectiveCompletion(store.Completion{
				MessageID:   j.newCursor,
				HandlerName: j.cp.PerspectiveName,
				StreamID:    j.cp.StreamID,
				NewStatus:   outcome.PartialStatus,
			})
		}
	}
}

// advanceOne replays every event on j.cp.StreamID after LastProcessedEventID
// through the registered handler, advancing j.newCursor as it goes. On a
// handler exception it stops, leaving j.newCursor at the last event applied
// before the failure, and returns the status reached so far as a partial
// status, per §4.8.
func (r *PerspectiveRunner) advanceOne(ctx context.Context, j *job) (store.StatusFlags, error) {
	handler, ok := r.handlers[j.cp.PerspectiveName]
	if !ok {
		return 0, errors.Join(enginerr.ErrValidation, errors.New("no projection handler registered for "+j.cp.PerspectiveName))
	}

	lastSeq, err := r.lastSequenceOf(ctx, j.cp)
	if err != nil {
		return 0, err
	}

	events, err := r.st.ReadStream(ctx, j.cp.StreamID, lastSeq+1)
	if err != nil {
		return 0, err
	}

	applied := store.StatusFlags(0)
	for _, ev := range events {
		env, err := envelope.FromWire(wireFromEventLog(ev))
		if err != nil {
			return applied, errors.Join(enginerr.ErrSerialization, err)
		}
		decoded, err := r.registry.Decode(env)
		if err != nil {
			return applied, errors.Join(enginerr.ErrSerialization, err)
		}
		if _, err := handler(ctx, j.cp.StreamID, decoded); err != nil {
			return applied, errors.Join(enginerr.ErrValidation, err)
		}
		j.newCursor = ev.MessageID
		applied = store.StatusEventStored
	}
	return applied, nil
}

// lastSequenceOf resolves the event-log sequence LastProcessedEventID
// corresponds to, so replay can resume strictly after it. A nil
// LastProcessedEventID (fresh checkpoint) resumes from the start of the
// stream.
func (r *PerspectiveRunner) lastSequenceOf(ctx context.Context, cp store.PerspectiveCheckpoint) (int64, error) {
	if cp.LastProcessedEventID.IsNil() {
		return -1, nil
	}
	events, err := r.st.ReadStream(ctx, cp.StreamID, 0)
	if err != nil {
		return -1, err
	}
	for _, ev := range events {
		if ev.MessageID == cp.LastProcessedEventID {
			return ev.Sequence, nil
		}
	}
	return -1, nil
}

func (r *PerspectiveRunner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}
