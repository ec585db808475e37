package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"corework/engine/dispatch"
	"corework/engine/enginerr"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/store"
)

// fakeStore is a hand-written store.Store that only implements
// ProcessWorkBatch meaningfully: it records every request it receives and
// returns a canned Batch, standing in for a real Postgres round trip.
type fakeStore struct {
	mu       sync.Mutex
	requests []store.Request
	nextBatch store.Batch
	err       error
}

func (s *fakeStore) ProcessWorkBatch(ctx context.Context, req store.Request) (store.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return store.Batch{}, s.err
	}
	return s.nextBatch, nil
}
func (s *fakeStore) AppendEvent(ctx context.Context, streamID ids.ID, env envelope.Envelope) (int64, error) {
	return 0, nil
}
func (s *fakeStore) ReadStream(ctx context.Context, streamID ids.ID, fromSequence int64) ([]store.EventLogRecord, error) {
	return nil, nil
}
func (s *fakeStore) GetLastSequence(ctx context.Context, streamID ids.ID) (int64, error) {
	return -1, nil
}
func (s *fakeStore) HasProcessed(ctx context.Context, messageID ids.ID, handlerName string) (bool, error) {
	return false, nil
}
func (s *fakeStore) MarkProcessed(ctx context.Context, messageID ids.ID, handlerName string) error {
	return nil
}

func (s *fakeStore) lastRequest() store.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type streamKeyedPayload struct{ id string }

func (p streamKeyedPayload) StreamKey() string { return p.id }

func TestScopedAccumulatesUntilFlush(t *testing.T) {
	st := &fakeStore{}
	c := NewScoped(st, store.Identity{}, Config{}, nil, nil)

	env := envelope.New(ids.MustNew(), "widget.created", streamKeyedPayload{id: "w-1"})
	if err := c.FlushMessages(context.Background(), []envelope.Envelope{env}); err != nil {
		t.Fatalf("FlushMessages: %v", err)
	}

	c.QueueOutboxCompletion(store.Completion{MessageID: ids.MustNew()})
	c.QueueOutboxCompletion(store.Completion{MessageID: ids.MustNew()})

	// Completions queued standalone (not via FlushMessages) must not reach
	// the store until an explicit Flush, since Scoped only accumulates.
	if len(st.requests) != 1 {
		t.Fatalf("got %d ProcessWorkBatch calls before Flush, want 1 (from FlushMessages only)", len(st.requests))
	}

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(st.requests) != 2 {
		t.Fatalf("got %d ProcessWorkBatch calls after Flush, want 2", len(st.requests))
	}
	last := st.lastRequest()
	if len(last.OutboxCompletions) != 2 {
		t.Fatalf("got %d outbox completions in the flushed request, want 2", len(last.OutboxCompletions))
	}
}

func TestScopedFlushIsNoopWhenQueueEmpty(t *testing.T) {
	st := &fakeStore{}
	c := NewScoped(st, store.Identity{}, Config{}, nil, nil)
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(st.requests) != 0 {
		t.Fatalf("got %d ProcessWorkBatch calls from an empty Flush, want 0", len(st.requests))
	}
}

func TestImmediateFlushesOnEveryQueueCall(t *testing.T) {
	st := &fakeStore{}
	c := NewImmediate(st, store.Identity{}, Config{}, nil, nil)

	c.QueueOutboxCompletion(store.Completion{MessageID: ids.MustNew()})
	if len(st.requests) != 1 {
		t.Fatalf("got %d ProcessWorkBatch calls after one queue call, want 1 (Immediate flushes eagerly)", len(st.requests))
	}
	c.QueueOutboxFailure(store.Failure{MessageID: ids.MustNew()})
	if len(st.requests) != 2 {
		t.Fatalf("got %d ProcessWorkBatch calls after two queue calls, want 2", len(st.requests))
	}
}

func TestFlushMessagesSetsOutboxDestinationToMessageType(t *testing.T) {
	st := &fakeStore{}
	c := NewScoped(st, store.Identity{}, Config{}, nil, nil)

	env := envelope.New(ids.MustNew(), "widget.created", streamKeyedPayload{id: "w-1"})
	if err := c.FlushMessages(context.Background(), []envelope.Envelope{env}); err != nil {
		t.Fatalf("FlushMessages: %v", err)
	}

	req := st.lastRequest()
	if len(req.NewOutbox) != 1 {
		t.Fatalf("got %d new outbox rows, want 1", len(req.NewOutbox))
	}
	if req.NewOutbox[0].Destination != "widget.created" {
		t.Fatalf("Destination = %q, want it to default to the message type %q", req.NewOutbox[0].Destination, "widget.created")
	}
}

func TestFlushMessagesSeedsPerspectiveCheckpointsFromRegistry(t *testing.T) {
	st := &fakeStore{}
	registry := dispatch.NewRegistry()
	registry.RegisterPerspective("widget.created", "widget_perspective")
	registry.RegisterPerspective("widget.created", "audit_perspective")
	c := NewScoped(st, store.Identity{}, Config{}, nil, registry)

	env := envelope.New(ids.MustNew(), "widget.created", streamKeyedPayload{id: "w-1"})
	if err := c.FlushMessages(context.Background(), []envelope.Envelope{env}); err != nil {
		t.Fatalf("FlushMessages: %v", err)
	}

	req := st.lastRequest()
	if len(req.NewOutbox) != 1 || len(req.NewPerspectives) != 2 {
		t.Fatalf("got %d outbox rows and %d perspective rows, want 1 and 2 (one per registered perspective)", len(req.NewOutbox), len(req.NewPerspectives))
	}
	wantStream := req.NewOutbox[0].StreamID
	seen := map[string]bool{}
	for _, row := range req.NewPerspectives {
		if row.StreamID != wantStream {
			t.Fatalf("perspective row StreamID = %s, want it to match the outbox row's StreamID %s", row.StreamID, wantStream)
		}
		seen[row.PerspectiveName] = true
	}
	if !seen["widget_perspective"] || !seen["audit_perspective"] {
		t.Fatalf("got perspectives %v, want widget_perspective and audit_perspective", req.NewPerspectives)
	}
}

func TestFlushMessagesWithNilRegistrySkipsPerspectiveSeeding(t *testing.T) {
	st := &fakeStore{}
	c := NewScoped(st, store.Identity{}, Config{}, nil, nil)

	env := envelope.New(ids.MustNew(), "widget.created", streamKeyedPayload{id: "w-1"})
	if err := c.FlushMessages(context.Background(), []envelope.Envelope{env}); err != nil {
		t.Fatalf("FlushMessages: %v", err)
	}
	if len(st.lastRequest().NewPerspectives) != 0 {
		t.Fatalf("expected no perspective rows when no registry is wired")
	}
}

func TestFlushRoutesClaimedWorkToOutputChannels(t *testing.T) {
	st := &fakeStore{}
	outboxRow := store.OutboxRecord{MessageID: ids.MustNew()}
	st.nextBatch = store.Batch{OutboxWork: []store.OutboxRecord{outboxRow}}
	c := NewScoped(st, store.Identity{}, Config{}, nil, nil)

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// Flush on an empty queue is a no-op for Scoped; force a round trip via
	// a queued completion instead.
	c.QueueOutboxCompletion(store.Completion{MessageID: ids.MustNew()})
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	select {
	case row := <-c.OutboxWork():
		if row.MessageID != outboxRow.MessageID {
			t.Fatalf("got outbox row %s, want %s", row.MessageID, outboxRow.MessageID)
		}
	default:
		t.Fatalf("expected the claimed outbox row to be available on OutboxWork()")
	}
}

func TestFlushSurfacesStoreError(t *testing.T) {
	st := &fakeStore{err: errors.New("store unavailable")}
	c := NewScoped(st, store.Identity{}, Config{}, nil, nil)
	c.QueueOutboxCompletion(store.Completion{MessageID: ids.MustNew()})
	if err := c.Flush(context.Background()); err == nil {
		t.Fatalf("expected Flush to surface the store's error")
	}
}

func TestCloseIsIdempotentAndDisposesTheCoordinator(t *testing.T) {
	st := &fakeStore{}
	c := NewScoped(st, store.Identity{}, Config{}, nil, nil)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := c.Flush(context.Background()); !errors.Is(err, enginerr.ErrDisposed) {
		t.Fatalf("got err %v after Close, want ErrDisposed", err)
	}
}
