package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analyzer/internal/api"
	"github.com/lorawan-server/lorawan-analyzer/internal/config"
	"github.com/lorawan-server/lorawan-analyzer/internal/ingest"
	"github.com/lorawan-server/lorawan-analyzer/internal/location"
	"github.com/lorawan-server/lorawan-analyzer/internal/metadata"
	"github.com/lorawan-server/lorawan-analyzer/internal/metrics"
	"github.com/lorawan-server/lorawan-analyzer/internal/models"
	"github.com/lorawan-server/lorawan-analyzer/internal/operator"
	"github.com/lorawan-server/lorawan-analyzer/internal/session"
	"github.com/lorawan-server/lorawan-analyzer/internal/sink"
	"github.com/lorawan-server/lorawan-analyzer/internal/storage"
	"github.com/lorawan-server/lorawan-analyzer/internal/transport"
)

func main() {
	configPath := flag.String("config", "config/analyzer.yml", "path to the config file")
	showConfig := flag.Bool("show-config", false, "print the effective configuration and exit")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load config")
	}
	setupLogging(cfg.Log)

	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("LoRaWAN analyzer stopped")
	}
	log.Info().Msg("LoRaWAN analyzer stopped")
}

func setupLogging(c config.LogConfig) {
	if c.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		log.Warn().Str("level", c.Level).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.NewMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// Operator prefixes: persisted rules first, then the config file.
	matcher := operator.NewMatcher()
	registry := operator.NewRegistry(matcher, store, cfg.OperatorRules())
	if err := registry.Reload(ctx); err != nil {
		return fmt.Errorf("load operator prefixes: %w", err)
	}

	devices := metadata.NewCache(store)
	if err := devices.LoadFromDatabase(ctx); err != nil {
		return fmt.Errorf("load device metadata: %w", err)
	}

	names := location.NewNames()
	gateways, err := store.ListGateways(ctx)
	if err != nil {
		return fmt.Errorf("list gateways: %w", err)
	}
	names.Load(gateways)

	tracker := session.NewTracker(cfg.TrackerConfig())

	router, err := ingest.NewRouter(cfg.PayloadFormat(), m)
	if err != nil {
		return err
	}
	router.Use(names)
	router.Use(tracker)
	router.Use(matcher)

	hub := sink.NewHub(cfg.API.AllowedOrigins)
	recorder := sink.NewStoreRecorder(store)

	router.OnPacket("log", sink.NewLogConsumer(zerolog.InfoLevel))
	router.OnPacket("store", recorder)
	router.OnPacket("live", hub)
	router.OnLocation("names", names)
	router.OnLocation("store", recorder)
	router.OnMetadata("cache", ingest.MetadataConsumerFunc(func(ctx context.Context, rec models.DeviceMetadata) error {
		devices.Upsert(rec)
		return nil
	}))
	router.OnMetadata("store", recorder)

	sinks, err := openSinks(cfg, m, router)
	if err != nil {
		return err
	}
	defer sinks.close()

	gauges := []struct {
		subsystem, name, help string
		fn                    func() float64
	}{
		{"session", "active", "Open device sessions", func() float64 { return float64(tracker.Len()) }},
		{"metadata", "devices", "Devices in the metadata cache", func() float64 { return float64(devices.Size()) }},
		{"operator", "rules", "Loaded operator prefix rules", func() float64 { return float64(matcher.Len()) }},
		{"live", "clients", "Connected websocket clients", func() float64 { return float64(hub.Len()) }},
	}
	for _, g := range gauges {
		if err := metrics.RegisterGauge(reg, g.subsystem, g.name, g.help, g.fn); err != nil {
			return fmt.Errorf("register %s_%s: %w", g.subsystem, g.name, err)
		}
	}

	subscriber := transport.NewMQTTSubscriber(transport.Config{
		Server:   cfg.MQTT.Server,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		ClientID: cfg.MQTT.ClientID,
		Topics:   cfg.MQTTTopics(),
		QoS:      cfg.MQTT.QoS,
	}, router, m)

	deps := api.Deps{
		Store:     store,
		Operators: registry,
		Devices:   devices,
		Sessions:  tracker,
		Live:      hub,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Connected: subscriber.IsConnected,
	}
	if sinks.redis != nil {
		deps.Nearby = sinks.redis
	}
	server := api.NewRESTServer(cfg, deps)

	log.Info().
		Str("format", string(router.Format())).
		Int("operatorRules", matcher.Len()).
		Int("devices", devices.Size()).
		Int("gateways", len(gateways)).
		Msg("LoRaWAN analyzer starting")

	ingestCtx, stopIngest := context.WithCancel(context.Background())
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopIngest()
	defer stopSweep()

	var sweepDone sync.WaitGroup
	sweepDone.Add(1)
	go func() {
		defer sweepDone.Done()
		tracker.Run(sweepCtx)
	}()

	ingestErr := make(chan error, 1)
	go func() {
		ingestErr <- subscriber.Start(ingestCtx)
	}()

	apiErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(cfg.API.Bind); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-ingestErr:
		runErr = fmt.Errorf("mqtt subscriber: %w", err)
		ingestErr <- nil
	case err := <-apiErr:
		runErr = fmt.Errorf("api server: %w", err)
	}

	// Ingestion stops first so nothing reaches the sinks while they flush.
	stopIngest()
	if err := <-ingestErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("MQTT subscriber stopped with error")
	}

	stopSweep()
	sweepDone.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API shutdown")
	}
	hub.Close()

	return runErr
}

func openStore(ctx context.Context, c config.DatabaseConfig) (storage.Store, error) {
	if c.DSN == "" {
		log.Warn().Msg("No database configured, operators and gateways are kept in memory")
		return storage.NewMemoryStore(), nil
	}

	store, err := storage.NewPostgresStore(ctx, c.DSN, storage.PoolConfig{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}
