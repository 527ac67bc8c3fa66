// stationsync keeps a fleet of playback players in step with the station
// registry: it uploads cached media, removes deleted media, and hands the
// resulting manifest to each station's controller.
//
// Besides the sync engine it runs a periodic health monitor, a REST API,
// an interactive console, optional MQTT telemetry, and a retry scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/playfleet/stationsync/internal/api"
	"github.com/playfleet/stationsync/internal/cli"
	"github.com/playfleet/stationsync/internal/config"
	"github.com/playfleet/stationsync/internal/events"
	"github.com/playfleet/stationsync/internal/health"
	"github.com/playfleet/stationsync/internal/metrics"
	"github.com/playfleet/stationsync/internal/network"
	"github.com/playfleet/stationsync/internal/protocol"
	"github.com/playfleet/stationsync/internal/scheduler"
	"github.com/playfleet/stationsync/internal/store"
	"github.com/playfleet/stationsync/internal/syncer"
	"github.com/playfleet/stationsync/internal/telemetry"
	"github.com/playfleet/stationsync/internal/util"
)

const (
	AppName    = "stationsync"
	AppVersion = api.Version
)

func main() {
	fmt.Printf("%s v%s\n\n", AppName, AppVersion)

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting stationsync")

	if err := config.LoadEnv(); err != nil {
		log.Warn().Err(err).Msg("failed to read .env file")
	}
	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg.ApplyEnv()

	logging := cfg.GetLogging()
	if err := util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	stats := metrics.New()

	// Storage
	storage := cfg.GetStorage()
	db, err := store.Open(storage.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	repo := store.NewRepository(db)
	snapshots := store.NewSnapshots(db)
	files, err := store.NewFileCache(storage.MediaCacheDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open media cache")
	}

	// Player transport
	netCfg := cfg.GetNetwork()
	var pinger network.Pinger
	if netCfg.ICMPEnabled {
		pinger = network.NewICMPPinger(netCfg.ICMPTimeout())
	}
	handler := network.NewConnectionHandler(network.HandlerOptions{
		Port: netCfg.PlayerPort,
		Socket: network.SocketOptions{
			ConnectTimeout: netCfg.ConnectTimeout(),
			CloseTimeout:   netCfg.CloseTimeout(),
			ChunkSize:      netCfg.ChunkSizeBytes,
		},
	}, pinger, stats)
	service := network.NewNetworkService(handler, network.ServiceOptions{
		RequestTimeout: netCfg.RequestTimeout(),
		MediaTimeout:   netCfg.MediaTimeout(),
	}, stats)
	service.OnBlockReceived(func(addr string) {
		eventBus.Emit(ctx, events.Event{
			Type:    events.EventPlayerBlocked,
			Source:  "network",
			Payload: events.PlayerBlockPayload{Address: addr, Blocked: true, At: time.Now()},
		})
	})
	service.OnUnblockReceived(func(addr string) {
		eventBus.Emit(ctx, events.Event{
			Type:    events.EventPlayerUnblocked,
			Source:  "network",
			Payload: events.PlayerBlockPayload{Address: addr, At: time.Now()},
		})
	})

	// Health and sync
	syncCfg := cfg.GetSync()
	defaultRole, _ := protocol.ParseRole(syncCfg.DefaultRole)
	pipeline := health.NewPipeline(service, stats)
	monitor := health.NewMonitor(pipeline, repo, eventBus, handler,
		time.Duration(syncCfg.HealthIntervalSec)*time.Second)
	orchestrator := syncer.NewOrchestrator(syncer.Deps{
		Repository: repo,
		Snapshots:  snapshots,
		Files:      files,
		Health:     pipeline,
		Client:     service,
		Recorder:   stats,
		EventBus:   eventBus,
	}, syncer.Options{DefaultRole: defaultRole})

	// Outer surfaces
	apiServer := api.NewServer(cfg, api.Deps{
		Stations: repo,
		Editor:   repo,
		Files:    files,
		Syncer:   orchestrator,
		Health:   monitor,
		Players:  service,
		Metrics:  stats,
		EventBus: eventBus,
	})

	var mqttHandler *telemetry.MQTTHandler
	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	sched := scheduler.NewScheduler(cfg, snapshots, orchestrator)
	cliHandler := cli.NewCLI(cli.Deps{
		Stations: repo,
		Syncer:   orchestrator,
		Health:   monitor,
		Players:  service,
		EventBus: eventBus,
	}, os.Stdin, os.Stdout)

	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, e events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", cfg.GetAPI().Port).Msg("starting REST API server")
		if err := apiServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health monitor")
		monitor.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// The console blocks on stdin, so it is not waited for.
	go cliHandler.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	handler.CloseAll()
	eventBus.Stop()

	log.Info().Msg("stationsync stopped")
}
