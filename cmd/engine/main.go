package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	natsadapter "github.com/joonhokim/buscall/internal/adapters/nats"
	"github.com/joonhokim/buscall/internal/adapters/postgres"
	"github.com/joonhokim/buscall/internal/adapters/valkey"
	"github.com/joonhokim/buscall/internal/core/domain"
	"github.com/joonhokim/buscall/internal/core/usecases"
	"github.com/joonhokim/buscall/internal/pkg/config"
	"github.com/joonhokim/buscall/internal/pkg/logging"
	"github.com/joonhokim/buscall/internal/pkg/metrics"
	"github.com/joonhokim/buscall/internal/pkg/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("buscall-engine")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup("buscall-engine", logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Static catalogue
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	stopRepo := postgres.NewStopRepo(db)
	stops, err := stopRepo.ListAll(ctx)
	if err != nil {
		log.Fatalf("load stops: %v", err)
	}
	if len(stops) == 0 {
		slog.Warn("stop catalogue is empty, nothing to sweep")
	}

	eng := cfg.Engine
	index := usecases.BuildRegionIndex(stops, eng.RegionRadiusKm)
	slog.Info("region index built",
		"stops", index.StopCount(),
		"regions", len(index.Regions()))

	// Ephemeral store
	store, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		log.Fatalf("valkey: %v", err)
	}
	defer store.Close()

	callRepo := valkey.NewCallRepo(store,
		time.Duration(eng.CallTTLSec)*time.Second,
		time.Duration(eng.DeactivatedTTLSec)*time.Second)
	busRepo := valkey.NewBusRepo(store, time.Duration(eng.LocationTTLSec)*time.Second)
	etaRepo := valkey.NewETARepo(store, time.Duration(eng.ETATTLSec)*time.Second)
	markerRepo := valkey.NewMarkerRepo(store)
	statusRepo := valkey.NewStatusRepo(store, 90*time.Second)

	// Transport
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats publisher: %v", err)
	}
	defer pub.Close()

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats subscriber: %v", err)
	}
	defer sub.Close()

	// Core
	filter := usecases.NewMotionFilter(eng.FilterProcessNoise, eng.FilterMeasurementNoise)
	registry := usecases.NewBusRegistry(busRepo, eng.RegistryTTL())
	callSvc := usecases.NewCallService(callRepo, pub)
	deviceSvc := usecases.NewDeviceService(statusRepo)

	engine := usecases.NewETAEngine(usecases.EngineOptions{
		SweepInterval:      eng.SweepInterval(),
		ApproachThresholdM: eng.ApproachThresholdM,
		CandidateRadiusM:   eng.CandidateRadiusM,
		NearRadiusKm:       eng.NearRadiusKm,
		FallbackSpeedKmh:   eng.FallbackSpeedKmh,
		StoreTimeout:       eng.StoreTimeout(),
		MarkerTTL:          eng.MarkerTTL(),
		PassWindow:         eng.PassWindow(),
		HistoryWindow:      eng.HistoryWindow(),
	}, filter, index, registry, callRepo, busRepo, etaRepo, markerRepo, pub)

	// Inbound event wiring
	if err := sub.SubscribeLocations(ctx, engine.ProcessImmediate); err != nil {
		log.Fatalf("subscribe locations: %v", err)
	}
	if err := sub.SubscribeButtonPresses(ctx, func(ctx context.Context, ev *domain.ButtonPressEvent) error {
		_, err := callSvc.CreateFromButton(ctx, ev)
		return err
	}); err != nil {
		log.Fatalf("subscribe button presses: %v", err)
	}
	if err := sub.SubscribeCancels(ctx, callSvc.Cancel); err != nil {
		log.Fatalf("subscribe cancels: %v", err)
	}
	if err := sub.SubscribeDeviceStatus(ctx, deviceSvc.RecordStatus); err != nil {
		log.Fatalf("subscribe device status: %v", err)
	}

	// Periodic sweep
	go engine.Run(ctx)

	// Health broadcast for dashboards and fleet monitors
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				payload, err := json.Marshal(engine.Stats(ctx))
				if err != nil {
					continue
				}
				if err := pub.PublishSystemHealth(ctx, payload); err != nil {
					slog.Warn("health broadcast failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Metrics + liveness endpoint
	app := fiber.New(fiber.Config{AppName: "BusCall Engine"})
	app.Use(recover.New())
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(engine.Stats(c.Context()))
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("engine starting", "addr", addr, "sweep_interval", eng.SweepInterval().String())
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	// DB pool gauges
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.UpdateDBPoolMetrics(db.Pool.Stat())
			case <-ctx.Done():
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("engine stopped")
}
