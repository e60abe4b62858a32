package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/joonhokim/buscall/internal/pkg/metrics"
)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 120 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{
				"error":   "rate limit exceeded",
				"message": "too many requests, please try again later",
			})
		},
		SkipFailedRequests: false,
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness, no timeout wrapper (fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// REST API v1 with a 15s per-request timeout
	v1 := app.Group("/v1")
	v1.Get("/stops", timeout.NewWithContext(ListStopsHandler(deps), 15*time.Second))
	v1.Get("/stops/nearby", timeout.NewWithContext(NearbyStopsHandler(deps), 15*time.Second))
	v1.Get("/stops/:id", timeout.NewWithContext(GetStopHandler(deps), 15*time.Second))
	v1.Get("/stops/:id/calls", timeout.NewWithContext(StopCallsHandler(deps), 15*time.Second))
	v1.Get("/routes", timeout.NewWithContext(ListRoutesHandler(deps), 15*time.Second))
	v1.Get("/routes/:id", timeout.NewWithContext(GetRouteHandler(deps), 15*time.Second))
	v1.Get("/routes/:id/buses", timeout.NewWithContext(RouteBusesHandler(deps), 15*time.Second))
	v1.Get("/calls", timeout.NewWithContext(ListCallsHandler(deps), 15*time.Second))
	v1.Post("/calls", timeout.NewWithContext(CreateCallHandler(deps), 15*time.Second))
	v1.Delete("/calls/:stopID/:routeID", timeout.NewWithContext(CancelCallHandler(deps), 15*time.Second))
	v1.Get("/buses", timeout.NewWithContext(ListBusesHandler(deps), 15*time.Second))
	v1.Get("/buses/:id", timeout.NewWithContext(GetBusHandler(deps), 15*time.Second))
	v1.Get("/buses/:id/eta/:stopID", timeout.NewWithContext(BusETAHandler(deps), 15*time.Second))
	v1.Get("/regions", timeout.NewWithContext(ListRegionsHandler(deps), 15*time.Second))
	v1.Get("/devices/:kind/:id/status", timeout.NewWithContext(DeviceStatusHandler(deps), 15*time.Second))
	v1.Get("/system/stats", timeout.NewWithContext(SystemStatsHandler(deps), 15*time.Second))
	v1.Get("/engine/stats", timeout.NewWithContext(EngineStatsHandler(deps), 15*time.Second))

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
}
