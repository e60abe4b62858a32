package valkey

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/joonhokim/buscall/internal/core/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	srv := miniredis.RunT(t)
	client, err := valkeygo.NewClient(valkeygo.ClientOption{
		InitAddress:  []string{srv.Addr()},
		DisableCache: true,
	})
	if err != nil {
		t.Fatalf("valkey client: %v", err)
	}
	t.Cleanup(client.Close)

	return NewWithClient(client)
}

func TestStore_GetMissingKey(t *testing.T) {
	s := testStore(t)

	data, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("missing key must not error: %v", err)
	}
	if data != nil {
		t.Errorf("expected nil for missing key, got %q", data)
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	data, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v" {
		t.Errorf("expected v, got %q", data)
	}

	ok, err := s.Exists(ctx, "k")
	if err != nil || !ok {
		t.Errorf("expected key to exist, ok=%v err=%v", ok, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	ok, _ = s.Exists(ctx, "k")
	if ok {
		t.Error("expected key gone after delete")
	}
}

func TestStore_Scan(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, k := range []string{"call:s1:r1", "call:s1:r2", "call:s2:r1", "bus:b1:location"} {
		if err := s.Set(ctx, k, []byte("x"), time.Minute); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.Scan(ctx, "call:s1:*")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys for call:s1:*, got %d: %v", len(keys), keys)
	}

	keys, err = s.Scan(ctx, "call:*")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Errorf("expected 3 keys for call:*, got %d", len(keys))
	}
}

func TestCallRepo_Lifecycle(t *testing.T) {
	repo := NewCallRepo(testStore(t), time.Hour, 5*time.Minute)
	ctx := context.Background()
	now := time.Now()

	call := &domain.Call{
		ID:        domain.NewCallID("s1", "route-7", now),
		StopID:    "s1",
		RouteID:   "route-7",
		RouteName: "7",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Save(ctx, call); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, "s1", "route-7")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.Active || got.ID != call.ID {
		t.Fatalf("unexpected call back: %+v", got)
	}

	active, err := repo.ActiveForStop(ctx, "s1", "route-7")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active call, got %d", len(active))
	}

	// First deactivation changes state, the second does not.
	changed, err := repo.Deactivate(ctx, "s1", "route-7")
	if err != nil || !changed {
		t.Fatalf("expected first deactivate to change state, changed=%v err=%v", changed, err)
	}
	changed, err = repo.Deactivate(ctx, "s1", "route-7")
	if err != nil || changed {
		t.Fatalf("expected second deactivate to no-op, changed=%v err=%v", changed, err)
	}

	// The slot survives inactive: Get still finds it, active listings don't.
	got, _ = repo.Get(ctx, "s1", "route-7")
	if got == nil || got.Active {
		t.Errorf("expected inactive slot record, got %+v", got)
	}
	active, _ = repo.ActiveForStop(ctx, "s1", "")
	if len(active) != 0 {
		t.Errorf("expected no active calls, got %d", len(active))
	}
}

func TestCallRepo_DeactivateMissingSlot(t *testing.T) {
	repo := NewCallRepo(testStore(t), time.Hour, 5*time.Minute)

	changed, err := repo.Deactivate(context.Background(), "s9", "route-1")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("missing slot must report unchanged")
	}
}

func TestCallRepo_ListActive(t *testing.T) {
	repo := NewCallRepo(testStore(t), time.Hour, 5*time.Minute)
	ctx := context.Background()
	now := time.Now()

	for _, slot := range []struct{ stop, route string }{
		{"s1", "route-7"}, {"s1", "route-9"}, {"s2", "route-7"},
	} {
		err := repo.Save(ctx, &domain.Call{
			ID: domain.NewCallID(slot.stop, slot.route, now), StopID: slot.stop,
			RouteID: slot.route, Active: true, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if _, err := repo.Deactivate(ctx, "s1", "route-9"); err != nil {
		t.Fatal(err)
	}

	all, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 active calls, got %d", len(all))
	}

	s1, err := repo.ActiveForStop(ctx, "s1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(s1) != 1 {
		t.Errorf("expected 1 active call at s1, got %d", len(s1))
	}
}

func TestBusRepo_LocationRoundTrip(t *testing.T) {
	repo := NewBusRepo(testStore(t), time.Minute)
	ctx := context.Background()

	pos := &domain.BusPosition{
		BusID:    "b1",
		RouteID:  "route-7",
		Location: domain.GeoPoint{Lat: 37.5665, Lon: 126.9780},
		SpeedKmh: 42,
		Time:     time.Now().Truncate(time.Millisecond),
	}
	if err := repo.SaveLocation(ctx, pos); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetLocation(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.BusID != "b1" || got.SpeedKmh != 42 {
		t.Fatalf("unexpected position: %+v", got)
	}

	missing, err := repo.GetLocation(ctx, "b404")
	if err != nil || missing != nil {
		t.Errorf("expected nil for unknown bus, got %+v err=%v", missing, err)
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Errorf("expected 1 active bus, got %d", len(active))
	}
}

func TestBusRepo_HistoryWindowTrims(t *testing.T) {
	repo := NewBusRepo(testStore(t), time.Minute)
	ctx := context.Background()
	now := time.Now()

	samples := []domain.TrackSample{
		{Location: domain.GeoPoint{Lat: 37.56, Lon: 126.97}, Time: now.Add(-40 * time.Second)},
		{Location: domain.GeoPoint{Lat: 37.57, Lon: 126.97}, Time: now.Add(-5 * time.Second)},
		{Location: domain.GeoPoint{Lat: 37.58, Lon: 126.97}, Time: now},
	}
	for _, s := range samples {
		if err := repo.AppendHistory(ctx, "b1", s, now.Add(-30*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	// The 40s-old sample was trimmed on a later write.
	got, err := repo.History(ctx, "b1", now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples after trim, got %d", len(got))
	}

	// Ascending by time: oldest first.
	if !got[0].Time.Before(got[1].Time) {
		t.Error("history must be ordered oldest first")
	}

	// Narrower window.
	got, _ = repo.History(ctx, "b1", now.Add(-2*time.Second))
	if len(got) != 1 {
		t.Errorf("expected 1 sample in the narrow window, got %d", len(got))
	}
}

func TestMarkerRepo(t *testing.T) {
	repo := NewMarkerRepo(testStore(t))
	ctx := context.Background()

	set, err := repo.IsSet(ctx, "b1", "s1")
	if err != nil || set {
		t.Fatalf("expected unset marker, set=%v err=%v", set, err)
	}

	if err := repo.Set(ctx, "b1", "s1", 5*time.Minute); err != nil {
		t.Fatal(err)
	}
	set, _ = repo.IsSet(ctx, "b1", "s1")
	if !set {
		t.Error("expected marker set")
	}

	// Independent per (bus, stop) pair.
	set, _ = repo.IsSet(ctx, "b2", "s1")
	if set {
		t.Error("marker must be scoped per bus")
	}

	if err := repo.Clear(ctx, "b1", "s1"); err != nil {
		t.Fatal(err)
	}
	set, _ = repo.IsSet(ctx, "b1", "s1")
	if set {
		t.Error("expected marker cleared")
	}
}

func TestETARepo_RoundTrip(t *testing.T) {
	repo := NewETARepo(testStore(t), 5*time.Minute)
	ctx := context.Background()

	eta := &domain.ETAResult{
		BusID:          "b1",
		StopID:         "s1",
		RouteID:        "route-7",
		DistanceMeters: 800,
		ArrivalTime:    time.Now().Add(2 * time.Minute).Truncate(time.Millisecond),
		Confidence:     0.82,
		ComputedAt:     time.Now().Truncate(time.Millisecond),
	}
	if err := repo.Save(ctx, eta); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, "b1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.DistanceMeters != 800 || got.Confidence != 0.82 {
		t.Fatalf("unexpected estimate: %+v", got)
	}

	missing, err := repo.Get(ctx, "b1", "s404")
	if err != nil || missing != nil {
		t.Errorf("expected nil for unknown pair, got %+v err=%v", missing, err)
	}
}

func TestStatusRepo_RoundTrip(t *testing.T) {
	repo := NewStatusRepo(testStore(t), 90*time.Second)
	ctx := context.Background()

	st := &domain.DeviceStatus{
		DeviceID: "stop-unit-7",
		Kind:     "stop",
		Status:   "online",
		Time:     time.Now().Truncate(time.Millisecond),
	}
	if err := repo.Save(ctx, st); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, "stop", "stop-unit-7")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != "online" {
		t.Fatalf("unexpected status: %+v", got)
	}

	missing, err := repo.Get(ctx, "bus", "stop-unit-7")
	if err != nil || missing != nil {
		t.Errorf("kind must scope the lookup, got %+v err=%v", missing, err)
	}
}
