// Package bootstrap is the composition root: it wires engine components
// (store, coordinator, transport, workers) together with catalog-service's
// commands and perspectives. No other package constructs these graphs —
// cmd/api and cmd/worker each call one Build function and run what it
// returns.
package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"corework/contexts/commerce/catalog-service/application/commands"
	"corework/contexts/commerce/catalog-service/application/perspectives"
	catalogpostgres "corework/contexts/commerce/catalog-service/adapters/postgres"
	"corework/contexts/commerce/catalog-service/domain/events"
	catalogtransport "corework/contexts/commerce/catalog-service/transport/http"

	"corework/engine/coordinator"
	"corework/engine/dispatch"
	"corework/engine/envelope"
	"corework/engine/ids"
	"corework/engine/store"
	enginepostgres "corework/engine/store/postgres"
	"corework/engine/transport"
	"corework/engine/uow"
	"corework/engine/workers"

	"corework/internal/platform/config"
	"corework/internal/platform/db"
	"corework/internal/platform/logging"
	"corework/internal/platform/messaging"
)

const receptorHandlerName = "catalog.receptor"

// registry builds the shared dispatch table: every payload type
// catalog-service produces, decodable by MessageType, plus the
// (eventType, perspectiveName) association table the coordinator's
// FlushMessages uses to seed perspective checkpoints.
func registry() *dispatch.Registry {
	r := dispatch.NewRegistry()

	r.RegisterPayload(events.TypeProductCreated, decodeInto[events.ProductCreatedEvent]())
	r.RegisterPayload(events.TypeProductUpdated, decodeInto[events.ProductUpdatedEvent]())
	r.RegisterPayload(events.TypeInventoryRestocked, decodeInto[events.InventoryRestockedEvent]())

	r.RegisterPerspective(events.TypeProductCreated, perspectives.NameProduct)
	r.RegisterPerspective(events.TypeProductUpdated, perspectives.NameProduct)
	r.RegisterPerspective(events.TypeInventoryRestocked, perspectives.NameInventory)

	return r
}

// decodeInto builds a dispatch.PayloadFactory that unmarshals an
// envelope's raw payload into T, returning the envelope with Payload set
// to the decoded value.
func decodeInto[T any]() dispatch.PayloadFactory {
	return func(env envelope.Envelope) (envelope.Envelope, error) {
		var payload T
		if err := json.Unmarshal(env.RawPayload(), &payload); err != nil {
			return env, err
		}
		env.Payload = payload
		return env, nil
	}
}

// runtime bundles every long-lived component a process needs, so BuildAPI
// and BuildWorker can select which ones to run and share the rest.
type runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *db.Postgres
	store     *enginepostgres.Repository
	coord     coordinator.Coordinator
	transport transport.Transport
	registry  *dispatch.Registry

	handlers catalogtransport.Handlers

	publisher   *workers.Publisher
	consumer    *workers.Consumer
	perspective *workers.PerspectiveRunner
}

// build wires the full runtime: store, coordinator, transport, dispatch
// table, catalog-service's commands/perspectives, and the three
// background workers.
func build(ctx context.Context, cfg config.Config) (*runtime, error) {
	logger := logging.NewJSON(levelFor(cfg.DebugMode))

	catalogModels := catalogpostgres.AllModels()
	pg, err := db.Connect(cfg.PostgresDSN, logger, cfg.DebugMode, catalogModels...)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}

	st := enginepostgres.NewRepository(pg.DB, logger)

	identity, err := newIdentity(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: mint instance identity: %w", err)
	}
	reg := registry()

	coordCfg := coordinator.Config{
		PartitionCount:           cfg.PartitionCount,
		MaxPartitionsPerInstance: cfg.MaxPartitionsPerInstance,
		LeaseSeconds:             cfg.LeaseSeconds,
		StaleThresholdSeconds:    cfg.StaleThresholdSeconds,
		BatchSize:                cfg.BatchSize,
		DebugMode:                cfg.DebugMode,
	}
	// reg is threaded into the coordinator so FlushMessages can seed a
	// perspective checkpoint (via reg.PerspectivesFor) for every event it
	// queues, not just an outbox row.
	coord := coordinator.NewInterval(st, identity, coordCfg, logger, reg,
		durationMillis(cfg.PollingIntervalMinMs), durationMillis(cfg.PollingIntervalMaxMs), cfg.IdleThresholdPolls)

	tp, err := messaging.NewKafka(cfg.KafkaBrokers, cfg.ServiceName, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect kafka: %w", err)
	}

	idProvider := ids.UUIDv7Provider{}
	unitOfWork := uow.NewScoped(coord, idProvider)

	products := catalogpostgres.NewRepository(pg.DB)
	clock := catalogpostgres.SystemClock{}

	handlers := catalogtransport.Handlers{
		CreateProduct: commands.CreateProductUseCase{
			Products:    products,
			Clock:       clock,
			IDGenerator: idProvider,
			UnitOfWork:  unitOfWork,
			Logger:      logger,
		},
		UpdateProduct: commands.UpdateProductUseCase{
			Products:    products,
			Clock:       clock,
			IDGenerator: idProvider,
			UnitOfWork:  unitOfWork,
			Logger:      logger,
		},
		RestockInventory: commands.RestockInventoryUseCase{
			IDGenerator: idProvider,
			UnitOfWork:  unitOfWork,
			Logger:      logger,
		},
	}

	perspectiveRunner := workers.NewPerspectiveRunner(coord, st, reg, logger, cfg.ParallelizeStreams)
	perspectiveRunner.Register(perspectives.NameProduct,
		perspectives.ProductPerspective{Store: catalogpostgres.NewProductPerspectiveStore(pg.DB)}.Handle)
	perspectiveRunner.Register(perspectives.NameInventory,
		perspectives.InventoryPerspective{Store: catalogpostgres.NewInventoryPerspectiveStore(pg.DB)}.Handle)

	return &runtime{
		cfg:         cfg,
		logger:      logger,
		db:          pg,
		store:       st,
		coord:       coord,
		transport:   tp,
		registry:    reg,
		handlers:    handlers,
		publisher:   workers.NewPublisher(coord, tp, logger, cfg.ParallelizeStreams, cfg.LeaseSeconds),
		consumer:    workers.NewConsumer(coord, tp, reg, st, receptorHandlerName, logger, cfg.ParallelizeStreams),
		perspective: perspectiveRunner,
	}, nil
}

// APIApp serves catalog-service's HTTP transport. Run blocks until ctx is
// cancelled.
type APIApp struct {
	rt     *runtime
	server *http.Server
}

// BuildAPI loads configuration and wires the API process: Postgres, the
// dispatch registry, and catalog-service's HTTP handlers. It does not
// start the background workers — those belong to BuildWorker.
func BuildAPI(args []string) (*APIApp, error) {
	cfg, err := config.Load(args)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load config: %w", err)
	}
	rt, err := build(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	mux := catalogtransport.NewMux(rt.handlers)
	return &APIApp{
		rt:     rt,
		server: &http.Server{Addr: ":" + cfg.HTTPPort, Handler: mux},
	}, nil
}

func (a *APIApp) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.server.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return a.server.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (a *APIApp) Close() error {
	return a.rt.db.Close()
}

// WorkerApp runs the publisher, consumer, and perspective runner — the
// three background tasks that drain the coordinator's work channels.
type WorkerApp struct {
	rt *runtime
}

// BuildWorker loads configuration and wires the worker process: the same
// Postgres/coordinator/transport graph as BuildAPI, plus the three
// workers and the consumer's subscriptions to catalog-service's event
// types.
func BuildWorker(args []string) (*WorkerApp, error) {
	cfg, err := config.Load(args)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load config: %w", err)
	}
	rt, err := build(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return &WorkerApp{rt: rt}, nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	for _, eventType := range []string{
		events.TypeProductCreated,
		events.TypeProductUpdated,
		events.TypeInventoryRestocked,
	} {
		if err := w.rt.consumer.Subscribe(ctx, eventType); err != nil {
			return fmt.Errorf("bootstrap: subscribe %s: %w", eventType, err)
		}
	}

	go w.rt.publisher.Run(ctx)
	go w.rt.consumer.Run(ctx)
	go w.rt.perspective.Run(ctx)

	<-ctx.Done()
	w.rt.publisher.Stop()
	w.rt.consumer.Stop()
	w.rt.perspective.Stop()
	return nil
}

func (w *WorkerApp) Close() error {
	return w.rt.db.Close()
}

func levelFor(debugMode bool) slog.Level {
	if debugMode {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// newIdentity mints a fresh InstanceID and captures the process's host
// identity, used by the coordinator's partition-lease claims (C4) to tell
// this process's leases apart from every other replica's.
func newIdentity(ctx context.Context, cfg config.Config) (store.Identity, error) {
	instanceID, err := ids.UUIDv7Provider{}.NewID(ctx)
	if err != nil {
		return store.Identity{}, err
	}
	hostname, _ := os.Hostname()
	return store.Identity{
		InstanceID:  instanceID,
		ServiceName: cfg.ServiceName,
		HostName:    hostname,
		ProcessID:   os.Getpid(),
	}, nil
}

func durationMillis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
