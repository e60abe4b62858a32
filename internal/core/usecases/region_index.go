package usecases

import (
	"fmt"

	"github.com/joonhokim/buscall/internal/core/domain"
	"github.com/joonhokim/buscall/internal/pkg/geospatial"
)

// RegionIndex is a static partition of stops into geographic regions, built
// once at startup. It lets the engine scope work to the regions a moving bus
// could plausibly affect instead of scanning every stop on every update.
// The index is immutable after construction; rebuild and swap to reload.
type RegionIndex struct {
	regions   []domain.Region
	stopCount int
}

// BuildRegionIndex clusters stops greedily: the first unassigned stop seeds a
// region, every unassigned stop within seedRadiusKm joins it, the center moves
// to the member centroid and the radius becomes the widest center→member
// distance. Every stop belongs to exactly one region.
func BuildRegionIndex(stops []domain.Stop, seedRadiusKm float64) *RegionIndex {
	if seedRadiusKm <= 0 {
		seedRadiusKm = 3
	}
	seedRadiusM := seedRadiusKm * 1000

	assigned := make([]bool, len(stops))
	var regions []domain.Region

	for i := range stops {
		if assigned[i] {
			continue
		}

		members := []domain.Stop{stops[i]}
		assigned[i] = true
		for j := i + 1; j < len(stops); j++ {
			if assigned[j] {
				continue
			}
			if geospatial.Within(stops[i].Location, stops[j].Location, seedRadiusM) {
				members = append(members, stops[j])
				assigned[j] = true
			}
		}

		region := domain.Region{
			ID:     fmt.Sprintf("region-%d", len(regions)+1),
			Center: centroid(members),
			Stops:  members,
		}
		for k := range region.Stops {
			region.Stops[k].RegionID = region.ID
			if d := geospatial.Distance(region.Center, region.Stops[k].Location); d > region.RadiusMeters {
				region.RadiusMeters = d
			}
		}
		regions = append(regions, region)
	}

	return &RegionIndex{regions: regions, stopCount: len(stops)}
}

// Regions returns every region in the index.
func (ri *RegionIndex) Regions() []domain.Region {
	return ri.regions
}

// StopCount returns the number of stops the index was built from.
func (ri *RegionIndex) StopCount() int {
	return ri.stopCount
}

// RegionsNear returns every region whose center is within radiusKm plus the
// region's own radius of the coordinate.
func (ri *RegionIndex) RegionsNear(coord domain.GeoPoint, radiusKm float64) []domain.Region {
	var out []domain.Region
	for _, r := range ri.regions {
		if geospatial.Distance(coord, r.Center) <= radiusKm*1000+r.RadiusMeters {
			out = append(out, r)
		}
	}
	return out
}

// StopRegion returns the region containing the given stop id, or nil when the
// stop is unknown to the index (configuration drift).
func (ri *RegionIndex) StopRegion(stopID string) *domain.Region {
	for i := range ri.regions {
		for j := range ri.regions[i].Stops {
			if ri.regions[i].Stops[j].ID == stopID {
				return &ri.regions[i]
			}
		}
	}
	return nil
}

func centroid(stops []domain.Stop) domain.GeoPoint {
	var lat, lon float64
	for _, s := range stops {
		lat += s.Location.Lat
		lon += s.Location.Lon
	}
	n := float64(len(stops))
	return domain.GeoPoint{Lat: lat / n, Lon: lon / n}
}
