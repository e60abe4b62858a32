package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// SystemStats holds row and live-object counts for the whole deployment.
type SystemStats struct {
	Stops       int    `json:"stops"`
	Routes      int    `json:"routes"`
	Regions     int    `json:"regions"`
	ActiveBuses int    `json:"active_buses"`
	ActiveCalls int    `json:"active_calls"`
	// CatalogueUpdatedAt is the newest stop row's creation time, i.e. when
	// the static catalogue last changed.
	CatalogueUpdatedAt string `json:"catalogue_updated_at,omitempty"`
}

// SystemStatsHandler returns catalogue counts plus live bus/call totals.
func SystemStatsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.DB == nil {
			return errInternal(c, "database not available")
		}

		var stats SystemStats
		row := deps.DB.Pool.QueryRow(c.Context(), `
			SELECT
				(SELECT count(*) FROM stops),
				(SELECT count(*) FROM routes),
				COALESCE((SELECT max(created_at)::text FROM stops), '')
		`)
		if err := row.Scan(&stats.Stops, &stats.Routes, &stats.CatalogueUpdatedAt); err != nil {
			return errInternal(c, err.Error())
		}

		if deps.Index != nil {
			stats.Regions = len(deps.Index.Regions())
		}
		if buses, err := deps.Buses.ListActive(c.Context()); err == nil {
			stats.ActiveBuses = len(buses)
		}
		if calls, err := deps.Calls.ListActive(c.Context()); err == nil {
			stats.ActiveCalls = len(calls)
		}

		c.Set("Cache-Control", "public, max-age=60")
		return c.JSON(stats)
	}
}

// ListStopsHandler returns the stop catalogue, paginated.
func ListStopsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stops, err := deps.Stops.ListAll(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}

		page, pg := paginate(c, stops, 100, 500)
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: page, Pagination: pg})
	}
}

// NearbyStopsHandler returns stops within a radius of a point.
func NearbyStopsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lat := c.QueryFloat("lat", 0)
		lon := c.QueryFloat("lon", 0)
		radius := c.QueryFloat("radius", 500)
		limit := c.QueryInt("limit", 50)

		if lat == 0 || lon == 0 {
			return errBadRequest(c, "lat and lon are required")
		}
		if radius <= 0 || radius > 10000 {
			return errBadRequest(c, "radius must be between 1 and 10000 meters")
		}
		if limit <= 0 || limit > 200 {
			limit = 50
		}

		if deps.DB == nil {
			return errInternal(c, "database not available")
		}

		rows, err := deps.DB.Pool.Query(c.Context(), `
			SELECT s.id, s.name,
			       ST_Y(s.location::geometry) AS lat,
			       ST_X(s.location::geometry) AS lon,
			       ST_Distance(s.location, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography) AS distance
			FROM stops s
			WHERE ST_DWithin(s.location, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography, $3)
			ORDER BY distance
			LIMIT $4
		`, lat, lon, radius, limit)
		if err != nil {
			return errInternal(c, err.Error())
		}
		defer rows.Close()

		type nearbyStop struct {
			ID       string          `json:"id"`
			Name     string          `json:"name"`
			Location domain.GeoPoint `json:"location"`
			Distance float64         `json:"distance"`
		}

		var stops []nearbyStop
		for rows.Next() {
			var s nearbyStop
			if err := rows.Scan(&s.ID, &s.Name, &s.Location.Lat, &s.Location.Lon, &s.Distance); err != nil {
				return errInternal(c, err.Error())
			}
			stops = append(stops, s)
		}

		c.Set("Cache-Control", "public, max-age=300")
		return c.JSON(stops)
	}
}

// GetStopHandler returns a single stop by ID.
func GetStopHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "stop id is required")
		}
		stop, err := deps.Stops.GetByID(c.Context(), id)
		if err != nil {
			return errNotFound(c, "stop not found")
		}
		if deps.Index != nil {
			if region := deps.Index.StopRegion(stop.ID); region != nil {
				stop.RegionID = region.ID
			}
		}
		return c.JSON(stop)
	}
}

// StopCallsHandler returns the active calls at a stop.
func StopCallsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "stop id is required")
		}
		calls, err := deps.Calls.ActiveForStop(c.Context(), id)
		if err != nil {
			return errInternal(c, err.Error())
		}
		if calls == nil {
			calls = []domain.Call{}
		}
		return c.JSON(calls)
	}
}

// ListRoutesHandler lists all routes, paginated.
func ListRoutesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		routes, err := deps.Routes.ListAll(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}

		page, pg := paginate(c, routes, 100, 500)
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: page, Pagination: pg})
	}
}

// GetRouteHandler returns a route by ID.
func GetRouteHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "route id is required")
		}
		route, err := deps.Routes.GetByID(c.Context(), id)
		if err != nil {
			return errNotFound(c, "route not found")
		}
		return c.JSON(route)
	}
}

// RouteBusesHandler returns live bus positions on a route.
func RouteBusesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "route id is required")
		}

		all, err := deps.Buses.ListActive(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}

		buses := []domain.BusPosition{}
		for _, b := range all {
			if b.RouteID == id {
				buses = append(buses, b)
			}
		}
		return c.JSON(buses)
	}
}

// ListCallsHandler returns every active call in the system.
func ListCallsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		calls, err := deps.Calls.ListActive(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}
		if calls == nil {
			calls = []domain.Call{}
		}
		return c.JSON(calls)
	}
}

// CreateCallHandler places a call on behalf of a stop unit. The body mirrors
// the broker button-press payload.
func CreateCallHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ev, err := domain.DecodeButtonPressEvent(c.Body(), "", "")
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		call, err := deps.Calls.CreateFromButton(c.Context(), ev)
		if err != nil {
			return errInternal(c, err.Error())
		}
		return c.Status(201).JSON(call)
	}
}

// CancelCallHandler cancels the call in a (stop, route) slot. Cancelling an
// already-resolved call is a no-op success.
func CancelCallHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stopID := c.Params("stopID")
		routeID := c.Params("routeID")
		if stopID == "" || routeID == "" {
			return errBadRequest(c, "stop and route ids are required")
		}

		ev := &domain.CancelEvent{StopID: stopID, RouteID: routeID}
		if err := deps.Calls.Cancel(c.Context(), ev); err != nil {
			return errInternal(c, err.Error())
		}
		return c.SendStatus(204)
	}
}

// ListBusesHandler returns the latest known position of every active bus.
func ListBusesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		buses, err := deps.Buses.ListActive(c.Context())
		if err != nil {
			return errInternal(c, err.Error())
		}
		if buses == nil {
			buses = []domain.BusPosition{}
		}
		return c.JSON(buses)
	}
}

// GetBusHandler returns the latest position of one bus.
func GetBusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "bus id is required")
		}
		pos, err := deps.Buses.GetLocation(c.Context(), id)
		if err != nil {
			return errInternal(c, err.Error())
		}
		if pos == nil {
			return errNotFound(c, "bus not tracked")
		}
		return c.JSON(pos)
	}
}

// BusETAHandler returns the latest estimate for a (bus, stop) pair.
func BusETAHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		busID := c.Params("id")
		stopID := c.Params("stopID")
		if busID == "" || stopID == "" {
			return errBadRequest(c, "bus and stop ids are required")
		}
		eta, err := deps.ETAs.Get(c.Context(), busID, stopID)
		if err != nil {
			return errInternal(c, err.Error())
		}
		if eta == nil {
			return errNotFound(c, "no estimate for this pair")
		}
		return c.JSON(eta)
	}
}

// ListRegionsHandler returns the static region partition with stop counts.
func ListRegionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Index == nil {
			return errInternal(c, "region index not available")
		}

		type regionResp struct {
			ID           string          `json:"id"`
			Center       domain.GeoPoint `json:"center"`
			RadiusMeters float64         `json:"radius_meters"`
			StopCount    int             `json:"stop_count"`
		}

		var regions []regionResp
		for _, r := range deps.Index.Regions() {
			regions = append(regions, regionResp{
				ID:           r.ID,
				Center:       r.Center,
				RadiusMeters: r.RadiusMeters,
				StopCount:    len(r.Stops),
			})
		}

		c.Set("Cache-Control", "public, max-age=3600")
		return c.JSON(regions)
	}
}

// DeviceStatusHandler returns the last liveness report from a device.
func DeviceStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		kind := c.Params("kind")
		id := c.Params("id")
		if kind != "stop" && kind != "bus" {
			return errBadRequest(c, "kind must be stop or bus")
		}
		st, err := deps.Devices.Status(c.Context(), kind, id)
		if err != nil {
			return errInternal(c, err.Error())
		}
		if st == nil {
			return errNotFound(c, "no recent status report")
		}

		stale := time.Since(st.Time) > 90*time.Second
		return c.JSON(fiber.Map{
			"device": st,
			"stale":  stale,
		})
	}
}

// EngineStatsHandler snapshots the sweep engine, when one is co-hosted.
func EngineStatsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Engine == nil {
			return errNotFound(c, "engine not hosted by this process")
		}
		return c.JSON(deps.Engine.Stats(c.Context()))
	}
}
