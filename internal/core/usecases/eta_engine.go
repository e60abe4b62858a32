package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
	"github.com/joonhokim/buscall/internal/core/ports"
	"github.com/joonhokim/buscall/internal/pkg/geospatial"
	"github.com/joonhokim/buscall/internal/pkg/metrics"
)

// EngineOptions tunes the ETA engine. Zero values fall back to the defaults
// below.
type EngineOptions struct {
	SweepInterval      time.Duration // periodic full sweep cadence
	ApproachThresholdM float64       // "approaching" ring around a stop
	CandidateRadiusM   float64       // coarse prefilter for candidate buses
	NearRadiusKm       float64       // region scoping for immediate processing
	FallbackSpeedKmh   float64       // assumed speed when the bus reports none
	StoreTimeout       time.Duration // per store/transport call budget
	MarkerTTL          time.Duration // notified-once marker expiry
	PassWindow         time.Duration // history window consulted for pass-detection
	HistoryWindow      time.Duration // history retention on write
}

func (o *EngineOptions) applyDefaults() {
	if o.SweepInterval <= 0 {
		o.SweepInterval = 2 * time.Second
	}
	if o.ApproachThresholdM <= 0 {
		o.ApproachThresholdM = 500
	}
	if o.CandidateRadiusM <= 0 {
		o.CandidateRadiusM = 10000
	}
	if o.NearRadiusKm <= 0 {
		o.NearRadiusKm = 5
	}
	if o.FallbackSpeedKmh <= 0 {
		o.FallbackSpeedKmh = 30
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 3 * time.Second
	}
	if o.MarkerTTL <= 0 {
		o.MarkerTTL = 5 * time.Minute
	}
	if o.PassWindow <= 0 {
		o.PassWindow = 10 * time.Second
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 30 * time.Second
	}
}

// ETAEngine drives the approach/pass state machine for every outstanding call.
// Two entry points share the same per-call evaluation: the periodic full sweep
// over all regions, and scoped immediate processing on each location update.
type ETAEngine struct {
	opts     EngineOptions
	filter   *MotionFilter
	index    *RegionIndex
	registry *BusRegistry
	calls    ports.CallRepository
	buses    ports.BusRepository
	etas     ports.ETARepository
	markers  ports.NotifyMarkerRepository
	pub      ports.EventPublisher

	sweeping atomic.Bool
	started  time.Time
}

// NewETAEngine wires the engine. The region index must already be built.
func NewETAEngine(
	opts EngineOptions,
	filter *MotionFilter,
	index *RegionIndex,
	registry *BusRegistry,
	calls ports.CallRepository,
	buses ports.BusRepository,
	etas ports.ETARepository,
	markers ports.NotifyMarkerRepository,
	pub ports.EventPublisher,
) *ETAEngine {
	opts.applyDefaults()
	return &ETAEngine{
		opts:     opts,
		filter:   filter,
		index:    index,
		registry: registry,
		calls:    calls,
		buses:    buses,
		etas:     etas,
		markers:  markers,
		pub:      pub,
		started:  time.Now(),
	}
}

// Run drives the periodic full sweep until the context is cancelled. A tick
// arriving while a sweep is still running is skipped entirely, never queued:
// a slow sweep only delays future periodic work, it never blocks immediate
// processing.
func (e *ETAEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	slog.Info("eta engine started",
		"sweep_interval", e.opts.SweepInterval,
		"regions", len(e.index.Regions()),
		"stops", e.index.StopCount(),
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("eta engine stopped")
			return
		case <-ticker.C:
			if !e.sweeping.CompareAndSwap(false, true) {
				metrics.SweepsSkipped.Inc()
				continue
			}
			e.runUnit("full sweep", func() {
				defer e.sweeping.Store(false)
				e.processFullSweep(ctx)
			})
		}
	}
}

// ProcessFullSweep runs one sweep honoring the single-flight guard. Exposed
// for manual triggering; Run uses the same path.
func (e *ETAEngine) ProcessFullSweep(ctx context.Context) bool {
	if !e.sweeping.CompareAndSwap(false, true) {
		metrics.SweepsSkipped.Inc()
		return false
	}
	defer e.sweeping.Store(false)
	e.processFullSweep(ctx)
	return true
}

func (e *ETAEngine) processFullSweep(ctx context.Context) {
	start := time.Now()

	refreshCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	err := e.registry.Refresh(refreshCtx)
	cancel()
	if err != nil {
		// Transient store failure: sweep with the stale snapshot, the next
		// tick retries naturally.
		slog.Warn("registry refresh failed", "error", err)
	}

	var regionWG sync.WaitGroup
	for _, region := range e.index.Regions() {
		regionWG.Add(1)
		go func(region domain.Region) {
			defer regionWG.Done()
			e.sweepRegion(ctx, region)
		}(region)
	}
	regionWG.Wait()

	metrics.SweepsTotal.Inc()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
}

func (e *ETAEngine) sweepRegion(ctx context.Context, region domain.Region) {
	var stopWG sync.WaitGroup
	for i := range region.Stops {
		stop := region.Stops[i]
		stopWG.Add(1)
		go func() {
			defer stopWG.Done()
			e.runUnit("sweep stop "+stop.ID, func() {
				e.sweepStop(ctx, stop)
			})
		}()
	}
	stopWG.Wait()
}

func (e *ETAEngine) sweepStop(ctx context.Context, stop domain.Stop) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	calls, err := e.calls.ActiveForStop(callCtx, stop.ID, "")
	cancel()
	if err != nil {
		slog.Warn("active calls lookup failed", "stop", stop.ID, "error", err)
		return
	}

	for i := range calls {
		if err := e.evaluateCall(ctx, &calls[i], &stop); err != nil {
			metrics.EvaluationErrors.Inc()
			slog.Warn("call evaluation failed", "call", calls[i].ID, "stop", stop.ID, "error", err)
		}
	}
}

// ProcessImmediate handles one location update end to end: smooth, persist,
// broadcast, then evaluate only the calls a bus this far along could affect.
// It always runs, even while a full sweep is in flight.
func (e *ETAEngine) ProcessImmediate(ctx context.Context, ev *domain.LocationEvent) error {
	now := time.Now()
	pos := ev.Position(now)

	filtered, err := e.filter.Update(pos.BusID, pos.Location, pos.Time)
	if err != nil {
		metrics.LocationRejects.Inc()
		return fmt.Errorf("filter update: %w", err)
	}
	pos.Location = filtered
	metrics.LocationUpdates.Inc()

	storeCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	if err := e.buses.SaveLocation(storeCtx, pos); err != nil {
		return fmt.Errorf("save location: %w", err)
	}
	sample := domain.TrackSample{Location: pos.Location, SpeedKmh: pos.SpeedKmh, Time: pos.Time}
	if err := e.buses.AppendHistory(storeCtx, pos.BusID, sample, now.Add(-e.opts.HistoryWindow)); err != nil {
		slog.Warn("history append failed", "bus", pos.BusID, "error", err)
	}

	if err := e.pub.PublishBusPosition(ctx, pos); err != nil {
		slog.Debug("position broadcast failed", "bus", pos.BusID, "error", err)
	}

	e.registry.Observe(*pos)

	regions := e.index.RegionsNear(pos.Location, e.opts.NearRadiusKm)
	if len(regions) == 0 {
		// Bus is far from every region: cheap no-op, the periodic sweep
		// still covers its route's calls elsewhere.
		return nil
	}

	for _, region := range regions {
		for i := range region.Stops {
			stop := region.Stops[i]
			if !stop.ServesRoute(pos.RouteID) {
				continue
			}
			e.runUnit("immediate stop "+stop.ID, func() {
				callCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
				calls, err := e.calls.ActiveForStop(callCtx, stop.ID, pos.RouteID)
				cancel()
				if err != nil {
					slog.Warn("active calls lookup failed", "stop", stop.ID, "error", err)
					return
				}
				for j := range calls {
					if err := e.evaluateCall(ctx, &calls[j], &stop); err != nil {
						metrics.EvaluationErrors.Inc()
						slog.Warn("call evaluation failed", "call", calls[j].ID, "error", err)
					}
				}
			})
		}
	}
	return nil
}

// evaluateCall computes ETAs for every candidate bus on the call's route and
// runs the approach/pass decision for the single closest one. A bus that is
// not the closest never triggers notifications or cancellations, even if it is
// individually approaching.
func (e *ETAEngine) evaluateCall(ctx context.Context, call *domain.Call, stop *domain.Stop) error {
	metrics.CallEvaluations.Inc()

	candidates := e.registry.BusesForRoute(call.RouteID)
	if len(candidates) == 0 {
		return nil
	}

	now := time.Now()
	var (
		closest     *domain.BusPosition
		closestDist float64
	)

	for i := range candidates {
		bus := candidates[i]
		dist := geospatial.Distance(bus.Location, stop.Location)
		if dist > e.opts.CandidateRadiusM {
			continue
		}

		eta := geospatial.EstimateETA(&bus, stop.Location, e.opts.FallbackSpeedKmh, e.opts.ApproachThresholdM, now)
		eta.StopID = stop.ID

		etaCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
		if err := e.etas.Save(etaCtx, &eta); err != nil {
			slog.Warn("eta persist failed", "bus", bus.BusID, "stop", stop.ID, "error", err)
		}
		cancel()
		if err := e.pub.PublishETA(ctx, &eta); err != nil {
			slog.Debug("eta broadcast failed", "bus", bus.BusID, "error", err)
		}

		// Strict less-than keeps the first-seen bus on ties.
		if closest == nil || dist < closestDist {
			closest = &candidates[i]
			closestDist = dist
		}
	}

	if closest == nil {
		return nil
	}

	return e.decide(ctx, call, stop, closest, closestDist)
}

// decide runs the approach/pass state machine for the closest bus. States are
// derived fresh from distance and the short history window, never stored.
func (e *ETAEngine) decide(ctx context.Context, call *domain.Call, stop *domain.Stop, bus *domain.BusPosition, dist float64) error {
	passed, err := e.detectPassed(ctx, bus, stop, dist)
	if err != nil {
		slog.Warn("pass detection failed", "bus", bus.BusID, "stop", stop.ID, "error", err)
		passed = false
	}

	switch {
	case passed:
		return e.resolvePassed(ctx, call, stop, bus)
	case dist <= e.opts.ApproachThresholdM:
		return e.notifyApproaching(ctx, call, stop, bus, dist)
	default:
		return nil
	}
}

// detectPassed classifies a bus as having passed the stop when the previous
// recorded distance was inside the threshold and the bus is now outside it and
// moving away. Fewer than two usable samples means pass cannot be determined
// and the answer is false.
func (e *ETAEngine) detectPassed(ctx context.Context, bus *domain.BusPosition, stop *domain.Stop, currentDist float64) (bool, error) {
	histCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	samples, err := e.buses.History(histCtx, bus.BusID, time.Now().Add(-e.opts.PassWindow))
	if err != nil {
		return false, err
	}
	if len(samples) < 2 {
		return false, nil
	}

	// The newest sample is the position just persisted; the one before it is
	// the previous fix.
	prev := samples[len(samples)-2]
	prevDist := geospatial.Distance(prev.Location, stop.Location)

	return prevDist <= e.opts.ApproachThresholdM &&
		currentDist > e.opts.ApproachThresholdM &&
		currentDist > prevDist, nil
}

// notifyApproaching dispatches the approach notification at most once per
// marker window. The marker is set even when the dispatch itself fails:
// at-most-one-per-window is the contract, strict exactly-once is not.
func (e *ETAEngine) notifyApproaching(ctx context.Context, call *domain.Call, stop *domain.Stop, bus *domain.BusPosition, dist float64) error {
	markCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	sent, err := e.markers.IsSet(markCtx, bus.BusID, stop.ID)
	if err != nil {
		return fmt.Errorf("marker lookup: %w", err)
	}
	if sent {
		return nil
	}

	n := &domain.Notification{
		Type:      domain.NotifyApproaching,
		BusID:     bus.BusID,
		StopID:    stop.ID,
		RouteID:   call.RouteID,
		RouteName: call.RouteName,
		Color:     call.Color,
		Message:   fmt.Sprintf("Passenger waiting at %s (route %s), %dm ahead", stop.Name, call.RouteName, int(dist)),
		Time:      time.Now(),
	}
	if err := e.pub.SendBusNotification(ctx, n); err != nil {
		slog.Warn("approach notification failed", "bus", bus.BusID, "stop", stop.ID, "error", err)
	} else {
		metrics.NotificationsSent.WithLabelValues(string(domain.NotifyApproaching)).Inc()
	}

	if err := e.markers.Set(markCtx, bus.BusID, stop.ID, e.opts.MarkerTTL); err != nil {
		return fmt.Errorf("marker set: %w", err)
	}
	return nil
}

// resolvePassed deactivates the call and emits the pass side effects exactly
// once: re-evaluating an already-inactive call does nothing further. Dispatch
// failures never roll back the deactivation.
func (e *ETAEngine) resolvePassed(ctx context.Context, call *domain.Call, stop *domain.Stop, bus *domain.BusPosition) error {
	storeCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	changed, err := e.calls.Deactivate(storeCtx, call.StopID, call.RouteID)
	if err != nil {
		return fmt.Errorf("deactivate call: %w", err)
	}
	if !changed {
		return nil
	}
	metrics.CallsResolved.WithLabelValues("passed").Inc()

	if err := e.pub.SetStopLED(ctx, call.StopID, call.RouteID, false); err != nil {
		slog.Warn("led off failed", "stop", call.StopID, "error", err)
	}

	n := &domain.Notification{
		Type:      domain.NotifyPassed,
		BusID:     bus.BusID,
		StopID:    stop.ID,
		RouteID:   call.RouteID,
		RouteName: call.RouteName,
		Message:   fmt.Sprintf("Passed %s (route %s), call resolved", stop.Name, call.RouteName),
		Time:      time.Now(),
	}
	if err := e.pub.SendBusNotification(ctx, n); err != nil {
		slog.Warn("pass notification failed", "bus", bus.BusID, "stop", stop.ID, "error", err)
	} else {
		metrics.NotificationsSent.WithLabelValues(string(domain.NotifyPassed)).Inc()
	}

	// Clear the marker so a future approach, by this bus or another, can
	// notify again.
	if err := e.markers.Clear(storeCtx, bus.BusID, stop.ID); err != nil {
		slog.Warn("marker clear failed", "bus", bus.BusID, "stop", stop.ID, "error", err)
	}

	if err := e.pub.PublishCallEvent(ctx, &domain.CallEvent{
		Kind:    domain.CallResolved,
		StopID:  call.StopID,
		RouteID: call.RouteID,
		BusID:   bus.BusID,
		Time:    time.Now(),
	}); err != nil {
		slog.Debug("call event publish failed", "stop", call.StopID, "error", err)
	}

	slog.Info("call resolved", "call", call.ID, "stop", stop.ID, "bus", bus.BusID)
	return nil
}

// EngineStats is the periodic health summary broadcast on system.health.
type EngineStats struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	Regions       int   `json:"regions"`
	Stops         int   `json:"stops"`
	TrackedBuses  int   `json:"tracked_buses"`
	ActiveCalls   int   `json:"active_calls"`
}

// Stats snapshots the engine state for health reporting.
func (e *ETAEngine) Stats(ctx context.Context) EngineStats {
	st := EngineStats{
		UptimeSeconds: int64(time.Since(e.started).Seconds()),
		Regions:       len(e.index.Regions()),
		Stops:         e.index.StopCount(),
		TrackedBuses:  e.filter.Tracked(),
	}
	callCtx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()
	if calls, err := e.calls.ListActive(callCtx); err == nil {
		st.ActiveCalls = len(calls)
	}
	return st
}

// runUnit isolates one unit of work: a panic is logged and absorbed so sibling
// units and the timer loop keep running.
func (e *ETAEngine) runUnit(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic", "unit", name, "panic", r)
		}
	}()
	fn()
}
