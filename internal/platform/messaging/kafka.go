// Package messaging is the event-bus bootstrap that internal/app/bootstrap
// uses for both cmd/api and cmd/worker: it
// builds the concrete engine/transport/kafka.Transport from process
// configuration. Publish only canonical envelopes; track retries/DLQ in the
// outbox/inbox tables rather than in the transport itself.
package messaging

import (
	"log/slog"

	"corework/engine/transport/kafka"
)

// NewKafka builds the kafka transport for brokers, grouped under groupID
// for consumer-group partition assignment.
func NewKafka(brokers []string, groupID string, logger *slog.Logger) (*kafka.Transport, error) {
	return kafka.New(kafka.Config{Brokers: brokers, GroupID: groupID}, logger)
}
