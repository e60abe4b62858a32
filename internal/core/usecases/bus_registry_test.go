package usecases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
	"github.com/joonhokim/buscall/internal/core/usecases"
)

func TestBusRegistry_RefreshGroupsByRoute(t *testing.T) {
	repo := newMemBusRepo()
	ctx := context.Background()
	_ = repo.SaveLocation(ctx, &domain.BusPosition{BusID: "b1", RouteID: "route-7"})
	_ = repo.SaveLocation(ctx, &domain.BusPosition{BusID: "b2", RouteID: "route-7"})
	_ = repo.SaveLocation(ctx, &domain.BusPosition{BusID: "b3", RouteID: "route-9"})

	reg := usecases.NewBusRegistry(repo, time.Minute)
	if err := reg.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	if got := len(reg.BusesForRoute("route-7")); got != 2 {
		t.Errorf("expected 2 buses on route-7, got %d", got)
	}
	if got := len(reg.BusesForRoute("route-9")); got != 1 {
		t.Errorf("expected 1 bus on route-9, got %d", got)
	}
	if got := len(reg.BusesForRoute("route-404")); got != 0 {
		t.Errorf("expected no buses on unknown route, got %d", got)
	}
	if got := len(reg.All()); got != 3 {
		t.Errorf("expected 3 buses total, got %d", got)
	}
}

func TestBusRegistry_RefreshWithinTTLIsNoop(t *testing.T) {
	repo := newMemBusRepo()
	ctx := context.Background()
	_ = repo.SaveLocation(ctx, &domain.BusPosition{BusID: "b1", RouteID: "route-7"})

	reg := usecases.NewBusRegistry(repo, time.Minute)
	if err := reg.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	// A second bus appears, but the snapshot is still fresh.
	_ = repo.SaveLocation(ctx, &domain.BusPosition{BusID: "b2", RouteID: "route-7"})
	if err := reg.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(reg.BusesForRoute("route-7")); got != 1 {
		t.Errorf("fresh snapshot should not be rebuilt, got %d buses", got)
	}
}

func TestBusRegistry_RefreshErrorKeepsSnapshot(t *testing.T) {
	repo := newMemBusRepo()
	ctx := context.Background()
	_ = repo.SaveLocation(ctx, &domain.BusPosition{BusID: "b1", RouteID: "route-7"})

	reg := usecases.NewBusRegistry(repo, time.Millisecond)
	if err := reg.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	repo.listErr = errors.New("store down")
	if err := reg.Refresh(ctx); err == nil {
		t.Fatal("expected refresh error")
	}

	// Stale snapshot survives the failure.
	if got := len(reg.BusesForRoute("route-7")); got != 1 {
		t.Errorf("expected stale snapshot to remain, got %d buses", got)
	}
}

func TestBusRegistry_ObservePatchesSnapshot(t *testing.T) {
	repo := newMemBusRepo()
	reg := usecases.NewBusRegistry(repo, time.Minute)

	// Unknown bus gets appended.
	reg.Observe(domain.BusPosition{BusID: "b1", RouteID: "route-7", SpeedKmh: 20})
	if got := len(reg.BusesForRoute("route-7")); got != 1 {
		t.Fatalf("expected observed bus in route group, got %d", got)
	}

	// Same bus gets replaced in place, not duplicated.
	reg.Observe(domain.BusPosition{BusID: "b1", RouteID: "route-7", SpeedKmh: 45})
	buses := reg.BusesForRoute("route-7")
	if len(buses) != 1 {
		t.Fatalf("expected 1 bus after re-observe, got %d", len(buses))
	}
	if buses[0].SpeedKmh != 45 {
		t.Errorf("expected patched speed 45, got %f", buses[0].SpeedKmh)
	}

	b, ok := reg.Bus("b1")
	if !ok || b.SpeedKmh != 45 {
		t.Errorf("Bus lookup should see the patched position, got %+v ok=%v", b, ok)
	}
}

func TestBusRegistry_ObserveLeavesHandedOutSlicesAlone(t *testing.T) {
	repo := newMemBusRepo()
	ctx := context.Background()
	_ = repo.SaveLocation(ctx, &domain.BusPosition{BusID: "b1", RouteID: "route-7", SpeedKmh: 20})

	reg := usecases.NewBusRegistry(repo, time.Minute)
	if err := reg.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	snapshot := reg.BusesForRoute("route-7")
	reg.Observe(domain.BusPosition{BusID: "b1", RouteID: "route-7", SpeedKmh: 60})

	// The slice handed out before the patch keeps the old position; only a
	// fresh lookup sees the update.
	if snapshot[0].SpeedKmh != 20 {
		t.Errorf("handed-out snapshot mutated, speed %f", snapshot[0].SpeedKmh)
	}
	if got := reg.BusesForRoute("route-7"); got[0].SpeedKmh != 60 {
		t.Errorf("fresh lookup should see the patch, speed %f", got[0].SpeedKmh)
	}
}

func TestBusRegistry_ConcurrentObserveAndRouteReads(t *testing.T) {
	repo := newMemBusRepo()
	ctx := context.Background()
	_ = repo.SaveLocation(ctx, &domain.BusPosition{BusID: "b1", RouteID: "route-7", SpeedKmh: 10})
	_ = repo.SaveLocation(ctx, &domain.BusPosition{BusID: "b2", RouteID: "route-7", SpeedKmh: 10})

	reg := usecases.NewBusRegistry(repo, time.Minute)
	if err := reg.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	// A sweep iterating route buses while location updates patch the same
	// route must never see a half-written position. The race detector guards
	// the rest.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			reg.Observe(domain.BusPosition{BusID: "b1", RouteID: "route-7", SpeedKmh: float64(i)})
		}
	}()

	for i := 0; i < 1000; i++ {
		for _, b := range reg.BusesForRoute("route-7") {
			if b.BusID == "" {
				t.Fatal("read a zero-value bus from the route group")
			}
		}
	}
	<-done
}
