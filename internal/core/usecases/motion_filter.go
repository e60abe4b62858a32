package usecases

import (
	"fmt"
	"sync"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// MotionFilter smooths noisy raw GPS fixes into a position estimate using a
// per-bus constant-velocity Kalman filter. Filtering is inherently stateful
// across calls, so the filter owns a process-wide map of bus id → state.
//
// TODO: evict filter state idle for more than ~5 minutes; today state lives
// until process restart or an explicit Reset.
type MotionFilter struct {
	processNoise     float64
	measurementNoise float64

	mu     sync.Mutex
	states map[string]*filterState
}

// filterState is the 4-dimensional estimate for one bus: position and velocity
// on each axis, tracked as two independent 1-D filters.
type filterState struct {
	lat, lon axisState
	lastSeen time.Time
}

type axisState struct {
	pos, vel           float64
	p00, p01, p10, p11 float64 // covariance
}

// NewMotionFilter creates a filter with the given noise parameters.
// processNoise controls how much the model trusts its own velocity prediction;
// measurementNoise how much it trusts a raw observation.
func NewMotionFilter(processNoise, measurementNoise float64) *MotionFilter {
	if processNoise <= 0 {
		processNoise = 1e-5
	}
	if measurementNoise <= 0 {
		measurementNoise = 5e-5
	}
	return &MotionFilter{
		processNoise:     processNoise,
		measurementNoise: measurementNoise,
		states:           make(map[string]*filterState),
	}
}

// Update feeds one raw observation through the filter and returns the corrected
// coordinate. The first sighting of a bus initialises its state with the raw
// coordinate and zero velocity. Invalid coordinates are rejected before any
// state is touched.
func (f *MotionFilter) Update(busID string, raw domain.GeoPoint, at time.Time) (domain.GeoPoint, error) {
	if busID == "" {
		return domain.GeoPoint{}, fmt.Errorf("motion filter: empty bus id")
	}
	if !raw.Valid() {
		return domain.GeoPoint{}, fmt.Errorf("motion filter: invalid coordinate (%v, %v)", raw.Lat, raw.Lon)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.states[busID]
	if !ok {
		st = &filterState{
			lat:      newAxisState(raw.Lat, f.measurementNoise),
			lon:      newAxisState(raw.Lon, f.measurementNoise),
			lastSeen: at,
		}
		f.states[busID] = st
		return raw, nil
	}

	dt := at.Sub(st.lastSeen).Seconds()
	if dt <= 0 || dt > 60 {
		dt = 1
	}
	st.lastSeen = at

	st.lat.step(raw.Lat, dt, f.processNoise, f.measurementNoise)
	st.lon.step(raw.Lon, dt, f.processNoise, f.measurementNoise)

	return domain.GeoPoint{Lat: st.lat.pos, Lon: st.lon.pos}, nil
}

// Reset drops the stored state for a bus; the next update re-initialises it.
func (f *MotionFilter) Reset(busID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, busID)
}

// Tracked returns the number of buses with live filter state.
func (f *MotionFilter) Tracked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states)
}

func newAxisState(pos, r float64) axisState {
	return axisState{pos: pos, p00: r, p11: 1}
}

// step runs one predict/correct cycle for a single axis.
func (a *axisState) step(z, dt, q, r float64) {
	// Predict: constant-velocity model.
	a.pos += a.vel * dt
	a.p00 += dt*(a.p01+a.p10) + dt*dt*a.p11 + q*dt
	a.p01 += dt * a.p11
	a.p10 += dt * a.p11
	a.p11 += q * dt

	// Correct against the raw observation.
	s := a.p00 + r
	k0 := a.p00 / s
	k1 := a.p10 / s

	y := z - a.pos
	a.pos += k0 * y
	a.vel += k1 * y

	p00, p01 := a.p00, a.p01
	a.p00 = (1 - k0) * p00
	a.p01 = (1 - k0) * p01
	a.p10 -= k1 * p00
	a.p11 -= k1 * p01
}
