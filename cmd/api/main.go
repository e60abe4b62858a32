package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/joonhokim/buscall/internal/adapters/http"
	natsadapter "github.com/joonhokim/buscall/internal/adapters/nats"
	"github.com/joonhokim/buscall/internal/adapters/postgres"
	"github.com/joonhokim/buscall/internal/adapters/valkey"
	"github.com/joonhokim/buscall/internal/core/usecases"
	"github.com/joonhokim/buscall/internal/pkg/config"
	"github.com/joonhokim/buscall/internal/pkg/logging"
	"github.com/joonhokim/buscall/internal/pkg/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("buscall-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup("buscall-api", logLevel, "json")

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

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Store
	store, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		log.Fatalf("valkey: %v", err)
	}
	defer store.Close()

	// Publisher for call events placed over HTTP
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	// Raw NATS connection for the WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable, websocket relay disabled", "error", err)
	}

	eng := cfg.Engine
	stopRepo := postgres.NewStopRepo(db)
	routeRepo := postgres.NewRouteRepo(db)
	callRepo := valkey.NewCallRepo(store,
		time.Duration(eng.CallTTLSec)*time.Second,
		time.Duration(eng.DeactivatedTTLSec)*time.Second)
	busRepo := valkey.NewBusRepo(store, time.Duration(eng.LocationTTLSec)*time.Second)
	etaRepo := valkey.NewETARepo(store, time.Duration(eng.ETATTLSec)*time.Second)
	statusRepo := valkey.NewStatusRepo(store, 90*time.Second)

	callSvc := usecases.NewCallService(callRepo, pub)
	deviceSvc := usecases.NewDeviceService(statusRepo)

	// The region index mirrors the engine's partition so stop lookups can be
	// annotated. The engine process owns the live sweep.
	var index *usecases.RegionIndex
	if stops, err := stopRepo.ListAll(ctx); err != nil {
		slog.Warn("stop catalogue unavailable, region queries disabled", "error", err)
	} else {
		index = usecases.BuildRegionIndex(stops, eng.RegionRadiusKm)
	}

	deps := &http.Dependencies{
		Stops:   stopRepo,
		Routes:  routeRepo,
		Calls:   callSvc,
		Buses:   busRepo,
		ETAs:    etaRepo,
		Devices: deviceSvc,
		Index:   index,
		NATS:    natsConn,
		DB:      db,
		Store:   store,
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "BusCall API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
