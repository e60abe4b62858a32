package ports

import (
	"context"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// StopRepository persists the static stop catalogue.
type StopRepository interface {
	Upsert(ctx context.Context, stop *domain.Stop) error
	UpsertBatch(ctx context.Context, stops []domain.Stop) error
	GetByID(ctx context.Context, id string) (*domain.Stop, error)
	ListAll(ctx context.Context) ([]domain.Stop, error)
}

// RouteRepository persists routes.
type RouteRepository interface {
	Upsert(ctx context.Context, route *domain.Route) error
	GetByID(ctx context.Context, id string) (*domain.Route, error)
	ListAll(ctx context.Context) ([]domain.Route, error)
}

// CallRepository tracks call records in the ephemeral store. The store is the
// single source of truth for call state; in-process structures are caches.
type CallRepository interface {
	// Save writes a call into its (stop, route) slot with the active-call TTL.
	Save(ctx context.Context, call *domain.Call) error
	// Get returns the call in the slot, active or not; nil when the slot is empty.
	Get(ctx context.Context, stopID, routeID string) (*domain.Call, error)
	// ActiveForStop returns active calls for a stop, optionally filtered to one
	// route (empty routeID means all).
	ActiveForStop(ctx context.Context, stopID, routeID string) ([]domain.Call, error)
	// ListActive returns every active call in the store.
	ListActive(ctx context.Context) ([]domain.Call, error)
	// Deactivate marks the slot inactive and shortens its expiry. It reports
	// whether the call state actually changed, so callers can make side effects
	// idempotent. A missing slot is (false, nil).
	Deactivate(ctx context.Context, stopID, routeID string) (bool, error)
}

// BusRepository tracks ephemeral bus positions and their short history window.
type BusRepository interface {
	SaveLocation(ctx context.Context, pos *domain.BusPosition) error
	GetLocation(ctx context.Context, busID string) (*domain.BusPosition, error)
	// ListActive returns the latest position of every bus still inside the
	// location TTL.
	ListActive(ctx context.Context) ([]domain.BusPosition, error)
	// AppendHistory records a sample and trims entries older than trimBefore.
	AppendHistory(ctx context.Context, busID string, sample domain.TrackSample, trimBefore time.Time) error
	// History returns samples recorded at or after since, oldest first.
	History(ctx context.Context, busID string, since time.Time) ([]domain.TrackSample, error)
}

// ETARepository persists transient ETA results (write-through; never read back
// for control flow).
type ETARepository interface {
	Save(ctx context.Context, eta *domain.ETAResult) error
	Get(ctx context.Context, busID, stopID string) (*domain.ETAResult, error)
}

// NotifyMarkerRepository tracks the notified-once markers that bound duplicate
// approach notifications per (bus, stop) pair.
type NotifyMarkerRepository interface {
	IsSet(ctx context.Context, busID, stopID string) (bool, error)
	Set(ctx context.Context, busID, stopID string, ttl time.Duration) error
	Clear(ctx context.Context, busID, stopID string) error
}

// DeviceStatusRepository caches device liveness reports.
type DeviceStatusRepository interface {
	Save(ctx context.Context, status *domain.DeviceStatus) error
	Get(ctx context.Context, kind, deviceID string) (*domain.DeviceStatus, error)
}
