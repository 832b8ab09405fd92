// Command dispatchd runs the delivery engine as a standalone daemon: it
// exposes the HTTP API, processes every configured lane, and sweeps terminal
// jobs on the configured schedule.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-dispatch/api"
	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/events"
	"github.com/goliatone/go-dispatch/fanout"
	"github.com/goliatone/go-dispatch/metrics"
	"github.com/goliatone/go-dispatch/queue"
	"github.com/goliatone/go-dispatch/signature"
	redisstore "github.com/goliatone/go-dispatch/store/redis"
	sqlstore "github.com/goliatone/go-dispatch/store/sql"
	"github.com/goliatone/go-dispatch/tracker"
	"github.com/goliatone/go-dispatch/transport"
)

const version = "0.1.0"

var configFile string

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "dispatchd",
		Short:   "dispatchd is the go-dispatch delivery daemon",
		Long:    "dispatchd serves the delivery engine HTTP API, runs lane workers,\nand applies retention sweeps on the configured schedule.",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	root.AddCommand(buildServeCommand())
	root.AddCommand(buildMigrateCommand())
	return root
}

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and lane workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func buildMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func runMigrate(ctx context.Context) error {
	_ = godotenv.Load()
	daemonCfg, err := loadDaemonConfig(configFile)
	if err != nil {
		return err
	}
	client, err := openPersistence(daemonCfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	return applyMigrations(ctx, client, daemonCfg.Database.Driver)
}

func runServe(parent context.Context) error {
	_ = godotenv.Load()
	daemonCfg, err := loadDaemonConfig(configFile)
	if err != nil {
		return err
	}

	_, logger := glog.Resolve("dispatchd", nil, nil)
	logger = glog.Ensure(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := core.NewCfgxConfigProvider(engineLoader{values: daemonCfg.Engine})
	cfg, err := provider.Load(ctx, core.DefaultConfig())
	if err != nil {
		return fmt.Errorf("dispatchd: load engine config: %w", err)
	}

	client, err := openPersistence(daemonCfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	if err := applyMigrations(ctx, client, daemonCfg.Database.Driver); err != nil {
		return err
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return fmt.Errorf("dispatchd: build stores: %w", err)
	}

	// Queue state can live in redis while registrations, preferences, and
	// attempts stay relational.
	var jobStore core.JobStore = factory.JobStore()
	if daemonCfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: daemonCfg.Redis.Addr,
			DB:   daemonCfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()
		store, err := redisstore.NewJobStore(redisClient)
		if err != nil {
			return fmt.Errorf("dispatchd: redis job store: %w", err)
		}
		jobStore = store
		logger.Info("queue state backed by redis", "addr", daemonCfg.Redis.Addr)
	}

	var publisher core.EventPublisher = events.NewBus()
	if len(daemonCfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(daemonCfg.Kafka.Brokers, daemonCfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("dispatchd: kafka publisher: %w", err)
		}
		defer func() { _ = kafka.Close() }()
		publisher = kafka
		logger.Info("engine events published to kafka", "topic", daemonCfg.Kafka.Topic)
	}

	recorder := metrics.NewPrometheusRecorder()
	signer := signature.NewHMACSigner()
	templates := core.NewMemoryTemplateStore()
	transports := transport.NewDefaultRegistry(signer, cfg.Webhook)
	resolver := fanout.NewResolver(factory.RegistrationStore(), factory.PreferenceStore(), templates)
	deliveryTracker := tracker.New(factory.AttemptStore())

	q := queue.New(jobStore, cfg)
	q.Logger = logger
	q.Metrics = recorder
	q.Publisher = publisher

	svc, err := core.NewService(cfg,
		core.WithLogger(logger),
		core.WithMetricsRecorder(recorder),
		core.WithJobStore(jobStore),
		core.WithRegistrationStore(factory.RegistrationStore()),
		core.WithPreferenceStore(factory.PreferenceStore()),
		core.WithTemplateStore(templates),
		core.WithEnqueuer(q),
		core.WithTargetResolver(resolver),
		core.WithDeliveryTracker(deliveryTracker),
		core.WithTransportResolver(transports),
		core.WithEventPublisher(publisher),
		core.WithSigner(signer),
	)
	if err != nil {
		return fmt.Errorf("dispatchd: new service: %w", err)
	}

	server, err := api.NewServer(svc,
		api.WithLogger(logger),
		api.WithMetricsHandler(recorder.Handler()),
	)
	if err != nil {
		return fmt.Errorf("dispatchd: new api server: %w", err)
	}

	janitor := queue.NewJanitor(q, cfg.Clean)
	if err := janitor.Start(ctx); err != nil {
		return fmt.Errorf("dispatchd: start janitor: %w", err)
	}
	defer janitor.Stop()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, lane := range cfg.Lanes {
		lane := lane.WithDefaults()
		logger.Info("lane workers started", "lane", lane.Name, "concurrency", lane.Concurrency)
		group.Go(func() error {
			return q.Process(groupCtx, lane.Name, lane.Concurrency, svc.HandleDelivery)
		})
	}

	httpServer := &http.Server{
		Addr:              daemonCfg.HTTP.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	group.Go(func() error {
		logger.Info("http listener ready", "addr", daemonCfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("dispatchd stopped")
	return nil
}
