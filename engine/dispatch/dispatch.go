// Package dispatch is the explicit registration table that replaces the
// source runtime's attribute-driven ([FireAt], [StreamKey]) and
// reflection-based handler resolution: applications register, at
// program start, which handlers fire for which event types and at which
// lifecycle stage, and which perspectives maintain projections for which
// event types. No hidden module-initializer magic — everything is wired
// in the composition root.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"corework/engine/envelope"
)

// Stage is the lifecycle point at which a handler participates, mirroring
// the source's [FireAt(stage)] marker as an explicit enum instead of an
// attribute.
type Stage string

const (
	StageReceptor    Stage = "receptor"
	StagePerspective Stage = "perspective"
)

// ReceptorFunc handles one inbound message (an event or command) and
// returns an error on domain rejection or processing failure.
type ReceptorFunc func(ctx context.Context, env envelope.Envelope) error

// PayloadFactory decodes a wire payload's raw JSON into its concrete Go
// type for a given MessageType, so FromWire's undecoded payload can be
// resolved before dispatch.
type PayloadFactory func(env envelope.Envelope) (envelope.Envelope, error)

type registration struct {
	stage   Stage
	handler ReceptorFunc
}

// Registry is the handler table: event-type → list of (handler, stage),
// plus the (EventType, PerspectiveName) association table and the
// payload-decoding registry keyed by MessageType.
type Registry struct {
	mu            sync.RWMutex
	handlers      map[string][]registration
	associations  map[string]map[string]bool // eventType -> perspectiveName -> true
	payloadTypes  map[string]PayloadFactory
}

func NewRegistry() *Registry {
	return &Registry{
		handlers:     make(map[string][]registration),
		associations: make(map[string]map[string]bool),
		payloadTypes: make(map[string]PayloadFactory),
	}
}

// RegisterHandler adds handler for messageType at stage. Multiple
// handlers may register for the same (messageType, stage).
func (r *Registry) RegisterHandler(messageType string, stage Stage, handler ReceptorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[messageType] = append(r.handlers[messageType], registration{stage: stage, handler: handler})
}

// RegisterPerspective declares that perspectiveName maintains a
// projection for eventType (the Message association table, §3).
func (r *Registry) RegisterPerspective(eventType, perspectiveName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.associations[eventType] == nil {
		r.associations[eventType] = make(map[string]bool)
	}
	r.associations[eventType][perspectiveName] = true
}

// RegisterPayload registers the decode function for messageType, used to
// turn FromWire's raw payload bytes into the concrete Go type implementing
// envelope.StreamKeyer before a handler runs.
func (r *Registry) RegisterPayload(messageType string, factory PayloadFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloadTypes[messageType] = factory
}

// Decode resolves env's raw payload into its concrete type via the
// registered PayloadFactory for env.MessageType.
func (r *Registry) Decode(env envelope.Envelope) (envelope.Envelope, error) {
	r.mu.RLock()
	factory, ok := r.payloadTypes[env.MessageType]
	r.mu.RUnlock()
	if !ok {
		return env, fmt.Errorf("dispatch: no payload type registered for %q", env.MessageType)
	}
	return factory(env)
}

// HandlersFor returns the handlers registered for messageType at stage.
func (r *Registry) HandlersFor(messageType string, stage Stage) []ReceptorFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ReceptorFunc
	for _, reg := range r.handlers[messageType] {
		if reg.stage == stage {
			out = append(out, reg.handler)
		}
	}
	return out
}

// PerspectivesFor returns the perspective names that maintain a
// projection for eventType.
func (r *Registry) PerspectivesFor(eventType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.associations[eventType]))
	for name := range r.associations[eventType] {
		names = append(names, name)
	}
	return names
}

// Dispatch decodes env's payload and runs every registered receptor for
// its MessageType, stopping at the first error (mirrors ordered-stream
// cascading-failure semantics at the per-item level: partial handler
// completion within one item is the caller's concern, not this table's).
func (r *Registry) Dispatch(ctx context.Context, env envelope.Envelope) error {
	decoded, err := r.Decode(env)
	if err != nil {
		return err
	}
	for _, handler := range r.HandlersFor(env.MessageType, StageReceptor) {
		if err := handler(ctx, decoded); err != nil {
			return err
		}
	}
	return nil
}
