// Package kafka implements engine/transport.Transport on top of
// IBM/sarama: a synchronous producer for Publish and a consumer-group
// loop per destination for Subscribe.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	contractsv1 "corework/contracts/gen/events/v1"
	"corework/engine/enginerr"
	"corework/engine/envelope"
	"corework/engine/transport"
	"corework/internal/platform/logging"
)

func decodeEnvelope(raw []byte) (envelope.Envelope, error) {
	var wire contractsv1.Envelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return envelope.Envelope{}, err
	}
	return envelope.FromWire(wire)
}

// Config carries the broker connection settings.
type Config struct {
	Brokers []string
	GroupID string
}

// Transport is a transport.Transport backed by a sarama client. It
// supports publish/subscribe with at-least-once delivery (acks happen
// only after the handler returns without error) but not exactly-once.
type Transport struct {
	cfg      Config
	producer sarama.SyncProducer
	client   sarama.ConsumerGroup
	logger   *slog.Logger

	mu    sync.Mutex
	ready bool
}

func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	producerCfg := sarama.NewConfig()
	producerCfg.Producer.RequiredAcks = sarama.WaitForAll
	producerCfg.Producer.Retry.Max = 5
	producerCfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerCfg)
	if err != nil {
		return nil, errors.Join(enginerr.ErrTransportException, err)
	}

	consumerCfg := sarama.NewConfig()
	consumerCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerCfg)
	if err != nil {
		producer.Close()
		return nil, errors.Join(enginerr.ErrTransportException, err)
	}

	return &Transport{
		cfg:      cfg,
		producer: producer,
		client:   group,
		logger:   logging.With(logger, "engine/transport/kafka", "transport"),
		ready:    true,
	}, nil
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Capabilities() transport.Capability {
	return transport.CapabilityPublishSubscribe | transport.CapabilityReliable | transport.CapabilityOrdered
}

func (t *Transport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *Transport) Publish(ctx context.Context, destination string, env envelope.Envelope) error {
	if !t.Ready() {
		return enginerr.ErrTransportNotReady
	}
	wire, err := env.MarshalWire()
	if err != nil {
		return errors.Join(enginerr.ErrSerialization, err)
	}
	encoded, err := json.Marshal(wire)
	if err != nil {
		return errors.Join(enginerr.ErrSerialization, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: destination,
		Key:   sarama.StringEncoder(env.MessageID.String()),
		Value: sarama.ByteEncoder(encoded),
	}
	_, _, err = t.producer.SendMessage(msg)
	if err != nil {
		return errors.Join(enginerr.ErrTransportException, err)
	}
	return nil
}

// Subscribe runs a consumer-group loop for destination on a background
// goroutine until ctx is cancelled. Records are acknowledged (marked)
// only after handler returns without error, giving at-least-once
// delivery to the caller.
func (t *Transport) Subscribe(ctx context.Context, destination string, handler transport.Handler) error {
	if !t.Ready() {
		return enginerr.ErrTransportNotReady
	}
	consumerHandler := &groupHandler{destination: destination, handler: handler, logger: t.logger}
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := t.client.Consume(ctx, []string{destination}, consumerHandler); err != nil {
				t.logger.Error("consumer group session failed",
					"event", "kafka_consume_failed",
					"destination", destination,
					"error", err.Error(),
				)
			}
		}
	}()
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.ready = false
	t.mu.Unlock()
	err1 := t.client.Close()
	err2 := t.producer.Close()
	return errors.Join(err1, err2)
}

type groupHandler struct {
	destination string
	handler     transport.Handler
	logger      *slog.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			env, err := decodeEnvelope(msg.Value)
			if err != nil {
				h.logger.Error("kafka envelope decode failed",
					"event", "kafka_envelope_decode_failed",
					"destination", h.destination,
					"error", err.Error(),
				)
				session.MarkMessage(msg, "")
				continue
			}
			if err := h.handler(session.Context(), h.destination, env); err != nil {
				h.logger.Error("kafka handler failed",
					"event", "kafka_handler_failed",
					"destination", h.destination,
					"error", err.Error(),
				)
				continue // do not mark: redelivered on next rebalance
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
