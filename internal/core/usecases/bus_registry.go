package usecases

import (
	"context"
	"sync"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
	"github.com/joonhokim/buscall/internal/core/ports"
	"github.com/joonhokim/buscall/internal/pkg/metrics"
)

// BusRegistry keeps a short-TTL read-through cache of every active bus and a
// derived grouping by route, so one processing cycle never re-queries the
// backing store per stop. The maps are rebuilt off to the side and swapped
// atomically: readers see either the old or the fully-new snapshot.
type BusRegistry struct {
	buses ports.BusRepository
	ttl   time.Duration

	mu          sync.RWMutex
	byRoute     map[string][]domain.BusPosition
	byID        map[string]domain.BusPosition
	lastRefresh time.Time
}

// NewBusRegistry creates a registry caching store reads for ttl.
func NewBusRegistry(buses ports.BusRepository, ttl time.Duration) *BusRegistry {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &BusRegistry{
		buses:   buses,
		ttl:     ttl,
		byRoute: make(map[string][]domain.BusPosition),
		byID:    make(map[string]domain.BusPosition),
	}
}

// Refresh rebuilds the cache from the store unless the current snapshot is
// still inside the TTL.
func (r *BusRegistry) Refresh(ctx context.Context) error {
	r.mu.RLock()
	fresh := time.Since(r.lastRefresh) < r.ttl
	r.mu.RUnlock()
	if fresh {
		metrics.CacheHits.WithLabelValues("bus_registry").Inc()
		return nil
	}
	metrics.CacheMisses.WithLabelValues("bus_registry").Inc()

	active, err := r.buses.ListActive(ctx)
	if err != nil {
		return err
	}

	byRoute := make(map[string][]domain.BusPosition, len(active))
	byID := make(map[string]domain.BusPosition, len(active))
	for _, b := range active {
		byRoute[b.RouteID] = append(byRoute[b.RouteID], b)
		byID[b.BusID] = b
	}

	r.mu.Lock()
	r.byRoute = byRoute
	r.byID = byID
	r.lastRefresh = time.Now()
	r.mu.Unlock()
	return nil
}

// BusesForRoute returns the cached buses serving a route, in first-seen order.
func (r *BusRegistry) BusesForRoute(routeID string) []domain.BusPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byRoute[routeID]
}

// Bus returns the cached position for one bus.
func (r *BusRegistry) Bus(busID string) (domain.BusPosition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[busID]
	return b, ok
}

// All returns every cached bus position.
func (r *BusRegistry) All() []domain.BusPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.BusPosition, 0, len(r.byID))
	for _, b := range r.byID {
		out = append(out, b)
	}
	return out
}

// Observe patches one bus into the current snapshot so event-driven
// evaluation sees a position newer than the last refresh. The snapshot ages
// out normally; Observe never extends the TTL.
func (r *BusRegistry) Observe(pos domain.BusPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[pos.BusID] = pos

	// Route slices handed out by BusesForRoute may still be iterated by a
	// concurrent sweep, so the patch goes into a copy that is swapped in.
	old := r.byRoute[pos.RouteID]
	list := make([]domain.BusPosition, len(old), len(old)+1)
	copy(list, old)

	replaced := false
	for i := range list {
		if list[i].BusID == pos.BusID {
			list[i] = pos
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, pos)
	}
	r.byRoute[pos.RouteID] = list
}
