package usecases_test

import (
	"testing"

	"github.com/joonhokim/buscall/internal/core/domain"
	"github.com/joonhokim/buscall/internal/core/usecases"
)

func testStops() []domain.Stop {
	// Two clusters ~11km apart: central Seoul and a southern suburb.
	return []domain.Stop{
		{ID: "s1", Name: "City Hall", Location: domain.GeoPoint{Lat: 37.5665, Lon: 126.9780}, RouteIDs: []string{"route-7"}},
		{ID: "s2", Name: "Gwanghwamun", Location: domain.GeoPoint{Lat: 37.5760, Lon: 126.9769}, RouteIDs: []string{"route-7", "route-9"}},
		{ID: "s3", Name: "Seoul Station", Location: domain.GeoPoint{Lat: 37.5547, Lon: 126.9707}, RouteIDs: []string{"route-9"}},
		{ID: "s4", Name: "Gangnam", Location: domain.GeoPoint{Lat: 37.4979, Lon: 127.0276}, RouteIDs: []string{"route-7"}},
		{ID: "s5", Name: "Yeoksam", Location: domain.GeoPoint{Lat: 37.5006, Lon: 127.0364}, RouteIDs: []string{"route-9"}},
	}
}

func TestBuildRegionIndex_EveryStopExactlyOnce(t *testing.T) {
	idx := usecases.BuildRegionIndex(testStops(), 3)

	seen := make(map[string]int)
	for _, r := range idx.Regions() {
		for _, s := range r.Stops {
			seen[s.ID]++
			if s.RegionID != r.ID {
				t.Errorf("stop %s carries region %q, belongs to %q", s.ID, s.RegionID, r.ID)
			}
		}
	}

	if len(seen) != 5 {
		t.Fatalf("expected 5 assigned stops, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("stop %s assigned %d times", id, n)
		}
	}
	if idx.StopCount() != 5 {
		t.Errorf("expected stop count 5, got %d", idx.StopCount())
	}
}

func TestBuildRegionIndex_SeparatesDistantClusters(t *testing.T) {
	idx := usecases.BuildRegionIndex(testStops(), 3)

	if len(idx.Regions()) != 2 {
		t.Fatalf("expected 2 regions for 2 clusters, got %d", len(idx.Regions()))
	}
}

func TestRegionsNear_ScopesToNearbyRegions(t *testing.T) {
	idx := usecases.BuildRegionIndex(testStops(), 3)

	// A bus in central Seoul should see only the central region.
	near := idx.RegionsNear(domain.GeoPoint{Lat: 37.5660, Lon: 126.9790}, 5)
	if len(near) != 1 {
		t.Fatalf("expected 1 nearby region, got %d", len(near))
	}
	found := false
	for _, s := range near[0].Stops {
		if s.ID == "s1" {
			found = true
		}
	}
	if !found {
		t.Error("central region should contain City Hall")
	}
}

func TestRegionsNear_FarCoordinateMatchesNothing(t *testing.T) {
	idx := usecases.BuildRegionIndex(testStops(), 3)

	// Busan is hundreds of kilometers away.
	near := idx.RegionsNear(domain.GeoPoint{Lat: 35.1796, Lon: 129.0756}, 5)
	if len(near) != 0 {
		t.Errorf("expected no regions near Busan, got %d", len(near))
	}
}

func TestStopRegion(t *testing.T) {
	idx := usecases.BuildRegionIndex(testStops(), 3)

	r := idx.StopRegion("s4")
	if r == nil {
		t.Fatal("expected a region for s4")
	}
	found := false
	for _, s := range r.Stops {
		if s.ID == "s5" {
			found = true
		}
	}
	if !found {
		t.Error("s4 and s5 should share the southern region")
	}

	if idx.StopRegion("unknown") != nil {
		t.Error("unknown stop should yield nil")
	}
}

func TestBuildRegionIndex_Empty(t *testing.T) {
	idx := usecases.BuildRegionIndex(nil, 3)
	if len(idx.Regions()) != 0 || idx.StopCount() != 0 {
		t.Error("empty input should build an empty index")
	}
}
