package geospatial

import (
	"math"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// unreachableHorizon is the arrival time reported for a bus that cannot move
// (no speed reading and no fallback). Far enough in the future that no consumer
// treats it as a real estimate.
const unreachableHorizon = 24 * time.Hour

// EstimateETA computes the arrival estimate for a bus heading to a stop.
// If the bus reports no positive speed, fallbackSpeedKmh is used instead.
// thresholdMeters is the approach threshold, used only for confidence scoring.
func EstimateETA(bus *domain.BusPosition, stop domain.GeoPoint, fallbackSpeedKmh, thresholdMeters float64, now time.Time) domain.ETAResult {
	dist := Distance(bus.Location, stop)

	speedKmh := bus.SpeedKmh
	if speedKmh <= 0 {
		speedKmh = fallbackSpeedKmh
	}
	speedMps := speedKmh * 1000 / 3600

	res := domain.ETAResult{
		BusID:          bus.BusID,
		StopID:         "",
		RouteID:        bus.RouteID,
		DistanceMeters: int(math.Round(dist)),
		ComputedAt:     now,
	}

	if speedMps <= 0 {
		res.ArrivalTime = now.Add(unreachableHorizon)
		res.Confidence = 0
		return res
	}

	etaSeconds := dist / speedMps
	res.ArrivalTime = now.Add(time.Duration(etaSeconds * float64(time.Second)))
	res.Confidence = confidence(bus.SpeedKmh, dist, thresholdMeters)
	return res
}

// confidence starts at 0.5 and is boosted when the bus is demonstrably moving
// and already close: speed contributes up to +0.3 (scaled by speed/60, capped),
// proximity up to +0.2 inside twice the approach threshold.
func confidence(speedKmh, distanceMeters, thresholdMeters float64) float64 {
	c := 0.5
	if speedKmh > 5 && distanceMeters < 2*thresholdMeters {
		speedFactor := speedKmh / 60
		if speedFactor > 1 {
			speedFactor = 1
		}
		proximityFactor := 1 - distanceMeters/(2*thresholdMeters)
		c += 0.3*speedFactor + 0.2*proximityFactor
	}
	if c > 0.95 {
		c = 0.95
	}
	if c < 0 {
		c = 0
	}
	return math.Round(c*100) / 100
}
