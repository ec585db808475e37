// Package config is centralized process configuration: keep infra values
// here and pass typed config into builders, the way internal/app/bootstrap
// wires engine components.
package config

import (
	"fmt"

	"github.com/jessevdk/go-flags"
)

// Config is the full configuration surface: process identity, storage and
// transport endpoints, and the engine's tuning knobs (§6 of the
// specification this runtime implements).
type Config struct {
	ServiceName  string   `long:"service-name" env:"SERVICE_NAME" default:"corework" description:"name this instance reports as its ServiceName"`
	HTTPPort     string   `long:"http-port" env:"HTTP_PORT" default:"8080" description:"port the sample app's HTTP transport listens on"`
	PostgresDSN  string   `long:"postgres-dsn" env:"POSTGRES_DSN" required:"true" description:"Postgres connection string for engine/store/postgres"`
	KafkaBrokers []string `long:"kafka-broker" env:"KAFKA_BROKERS" env-delim:"," description:"Kafka broker addresses for engine/transport/kafka"`

	PartitionCount           int  `long:"partition-count" default:"10000" description:"number of hash buckets partitioning outbox/inbox/perspective work"`
	MaxPartitionsPerInstance int  `long:"max-partitions-per-instance" default:"100" description:"per-instance cap on claimed partitions"`
	LeaseSeconds             int  `long:"lease-seconds" default:"300" description:"lease lifetime for claimed rows"`
	StaleThresholdSeconds    int  `long:"stale-threshold-seconds" default:"600" description:"instance-liveness window before an instance's partitions are reclaimed"`
	PollingIntervalMinMs     int  `long:"polling-interval-min-ms" default:"100" description:"lower bound of the adaptive worker poll interval"`
	PollingIntervalMaxMs     int  `long:"polling-interval-max-ms" default:"5000" description:"upper bound of the adaptive worker poll interval"`
	IdleThresholdPolls       int  `long:"idle-threshold-polls" default:"2" description:"consecutive empty polls before the adaptive interval starts backing off"`
	BatchSize                int  `long:"batch-size" default:"100" description:"max items claimed per work-batch round"`
	RetentionDays            int  `long:"retention-days" default:"30" description:"dedup record retention window; no component reads this value"`
	DebugMode                bool `long:"debug-mode" env:"DEBUG_MODE" description:"attach extra telemetry to ProcessWorkBatch"`
	ParallelizeStreams       bool `long:"parallelize-streams" default:"true" description:"process distinct streams concurrently in the ordered stream processor"`
}

// Load parses Config from command-line flags and environment variables. An
// empty args slice parses only the environment and defaults, which is what
// bootstrap callers typically want outside of cmd/'s own main.
func Load(args []string) (Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}
