// Package inmemory implements engine/transport.Transport as a
// single-process fan-out, used by tests; the sample application's
// bootstrap always builds the Kafka transport instead.
package inmemory

import (
	"context"
	"sync"

	"corework/engine/enginerr"
	"corework/engine/envelope"
	"corework/engine/transport"
)

// Transport delivers published envelopes synchronously to every handler
// subscribed on the same destination, in the calling goroutine of
// Publish. It is not meant for production use; it exists so the engine's
// workers can be exercised end-to-end without a broker.
type Transport struct {
	mu       sync.Mutex
	handlers map[string][]transport.Handler
	ready    bool
}

func New() *Transport {
	return &Transport{handlers: make(map[string][]transport.Handler), ready: true}
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Capabilities() transport.Capability {
	return transport.CapabilityPublishSubscribe | transport.CapabilityOrdered | transport.CapabilityReliable
}

func (t *Transport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *Transport) SetReady(ready bool) {
	t.mu.Lock()
	t.ready = ready
	t.mu.Unlock()
}

func (t *Transport) Publish(ctx context.Context, destination string, env envelope.Envelope) error {
	if !t.Ready() {
		return enginerr.ErrTransportNotReady
	}
	t.mu.Lock()
	handlers := append([]transport.Handler(nil), t.handlers[destination]...)
	t.mu.Unlock()
	for _, h := range handlers {
		if err := h(ctx, destination, env); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers handler for destination. Unlike a real broker
// subscription it has no independent lifecycle to cancel: ctx is accepted
// to satisfy transport.Transport but this fake's handlers live until
// Close.
func (t *Transport) Subscribe(ctx context.Context, destination string, handler transport.Handler) error {
	t.mu.Lock()
	t.handlers[destination] = append(t.handlers[destination], handler)
	t.mu.Unlock()
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = make(map[string][]transport.Handler)
	t.ready = false
	return nil
}
