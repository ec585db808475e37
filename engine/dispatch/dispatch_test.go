package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"corework/engine/envelope"
	"corework/engine/ids"
)

type widgetCreated struct {
	WidgetID string `json:"widgetId"`
}

func (w widgetCreated) StreamKey() string { return w.WidgetID }

func decodeWidget(env envelope.Envelope) (envelope.Envelope, error) {
	var payload widgetCreated
	if err := json.Unmarshal(env.RawPayload(), &payload); err != nil {
		return env, err
	}
	env.Payload = payload
	return env, nil
}

func wireEnvelope(t *testing.T, messageType string, payload any) envelope.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := envelope.New(ids.MustNew(), messageType, nil)
	wire, err := env.MarshalWire()
	if err != nil {
		t.Fatalf("marshal wire: %v", err)
	}
	wire.Payload = raw
	reconstructed, err := envelope.FromWire(wire)
	if err != nil {
		t.Fatalf("from wire: %v", err)
	}
	return reconstructed
}

func TestDecodeUsesRegisteredFactory(t *testing.T) {
	r := NewRegistry()
	r.RegisterPayload("widget.created", decodeWidget)

	env := wireEnvelope(t, "widget.created", widgetCreated{WidgetID: "w-1"})
	decoded, err := r.Decode(env)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	payload, ok := decoded.Payload.(widgetCreated)
	if !ok {
		t.Fatalf("decoded payload has type %T, want widgetCreated", decoded.Payload)
	}
	if payload.WidgetID != "w-1" {
		t.Fatalf("WidgetID = %q, want w-1", payload.WidgetID)
	}
}

func TestDecodeUnregisteredTypeFails(t *testing.T) {
	r := NewRegistry()
	env := wireEnvelope(t, "widget.unknown", widgetCreated{WidgetID: "w-1"})
	if _, err := r.Decode(env); err == nil {
		t.Fatalf("expected an error decoding an unregistered message type")
	}
}

func TestDispatchStopsAtFirstHandlerError(t *testing.T) {
	r := NewRegistry()
	r.RegisterPayload("widget.created", decodeWidget)

	var calls []int
	r.RegisterHandler("widget.created", StageReceptor, func(ctx context.Context, env envelope.Envelope) error {
		calls = append(calls, 1)
		return errors.New("first handler failed")
	})
	r.RegisterHandler("widget.created", StageReceptor, func(ctx context.Context, env envelope.Envelope) error {
		calls = append(calls, 2)
		return nil
	})

	env := wireEnvelope(t, "widget.created", widgetCreated{WidgetID: "w-1"})
	if err := r.Dispatch(context.Background(), env); err == nil {
		t.Fatalf("expected Dispatch to surface the first handler's error")
	}
	if len(calls) != 1 {
		t.Fatalf("expected only the first handler to run, got calls=%v", calls)
	}
}

func TestPerspectivesForReturnsAssociatedNames(t *testing.T) {
	r := NewRegistry()
	r.RegisterPerspective("widget.created", "widget_perspective")
	r.RegisterPerspective("widget.created", "audit_perspective")
	r.RegisterPerspective("widget.deleted", "widget_perspective")

	names := r.PerspectivesFor("widget.created")
	if len(names) != 2 {
		t.Fatalf("got %d perspective names, want 2: %v", len(names), names)
	}
}

func TestHandlersForFiltersByStage(t *testing.T) {
	r := NewRegistry()
	r.RegisterHandler("widget.created", StageReceptor, func(ctx context.Context, env envelope.Envelope) error { return nil })
	r.RegisterHandler("widget.created", StagePerspective, func(ctx context.Context, env envelope.Envelope) error { return nil })

	if got := len(r.HandlersFor("widget.created", StageReceptor)); got != 1 {
		t.Fatalf("HandlersFor(receptor) = %d handlers, want 1", got)
	}
	if got := len(r.HandlersFor("widget.created", StagePerspective)); got != 1 {
		t.Fatalf("HandlersFor(perspective) = %d handlers, want 1", got)
	}
}
