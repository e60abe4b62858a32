package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
	"github.com/joonhokim/buscall/internal/core/ports"
	"github.com/joonhokim/buscall/internal/pkg/metrics"
)

// CallService owns the call lifecycle: creation from a button press (or the
// API), cancellation, and the stop-side LED commands that go with them.
type CallService struct {
	calls ports.CallRepository
	pub   ports.EventPublisher
}

// NewCallService creates a new CallService.
func NewCallService(calls ports.CallRepository, pub ports.EventPublisher) *CallService {
	return &CallService{calls: calls, pub: pub}
}

// CreateFromButton creates or overwrites the call slot for (stop, route),
// switches the stop LED on and broadcasts the creation. A repeated press
// reuses the slot; the previous record's fields are overwritten.
func (s *CallService) CreateFromButton(ctx context.Context, ev *domain.ButtonPressEvent) (*domain.Call, error) {
	now := time.Now()
	call := &domain.Call{
		ID:         domain.NewCallID(ev.StopID, ev.RouteID, now),
		StopID:     ev.StopID,
		RouteID:    ev.RouteID,
		RouteName:  ev.RouteName,
		Color:      ev.Color,
		Active:     true,
		Passengers: ev.Passengers,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.calls.Save(ctx, call); err != nil {
		return nil, fmt.Errorf("save call: %w", err)
	}
	metrics.CallsCreated.Inc()

	// Best-effort side effects; the stored call is the authoritative outcome.
	if err := s.pub.SetStopLED(ctx, call.StopID, call.RouteID, true); err != nil {
		slog.Warn("led on failed", "stop", call.StopID, "route", call.RouteID, "error", err)
	}
	if err := s.pub.PublishCallEvent(ctx, &domain.CallEvent{
		Kind:    domain.CallCreated,
		Call:    call,
		StopID:  call.StopID,
		RouteID: call.RouteID,
		Time:    now,
	}); err != nil {
		slog.Warn("call event publish failed", "stop", call.StopID, "error", err)
	}

	slog.Info("call created", "call", call.ID, "stop", call.StopID, "route", call.RouteID)
	return call, nil
}

// Cancel deactivates the matching call and switches the stop LED off. It is
// idempotent: cancelling an already-inactive or missing call is a quiet no-op
// that still clears the indicator, so duplicate cancel events converge on the
// same end state.
func (s *CallService) Cancel(ctx context.Context, ev *domain.CancelEvent) error {
	changed, err := s.calls.Deactivate(ctx, ev.StopID, ev.RouteID)
	if err != nil {
		return fmt.Errorf("deactivate call: %w", err)
	}

	if err := s.pub.SetStopLED(ctx, ev.StopID, ev.RouteID, false); err != nil {
		slog.Warn("led off failed", "stop", ev.StopID, "route", ev.RouteID, "error", err)
	}

	if !changed {
		slog.Debug("cancel on inactive call", "stop", ev.StopID, "route", ev.RouteID)
		return nil
	}

	metrics.CallsResolved.WithLabelValues("cancelled").Inc()
	if err := s.pub.PublishCallEvent(ctx, &domain.CallEvent{
		Kind:    domain.CallCancelled,
		StopID:  ev.StopID,
		RouteID: ev.RouteID,
		Time:    time.Now(),
	}); err != nil {
		slog.Warn("call event publish failed", "stop", ev.StopID, "error", err)
	}

	slog.Info("call cancelled", "stop", ev.StopID, "route", ev.RouteID)
	return nil
}

// ActiveForStop lists active calls at a stop.
func (s *CallService) ActiveForStop(ctx context.Context, stopID string) ([]domain.Call, error) {
	return s.calls.ActiveForStop(ctx, stopID, "")
}

// ListActive lists every active call.
func (s *CallService) ListActive(ctx context.Context) ([]domain.Call, error) {
	return s.calls.ListActive(ctx)
}
