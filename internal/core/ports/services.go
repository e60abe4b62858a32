package ports

import (
	"context"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// EventPublisher publishes outbound side effects to the message broker.
// Delivery is best-effort: a failed publish never rolls back a preceding state
// mutation.
type EventPublisher interface {
	// SendBusNotification pushes a driver notification to a bus unit.
	SendBusNotification(ctx context.Context, n *domain.Notification) error
	// SetStopLED switches the per-route call indicator on a stop unit.
	SetStopLED(ctx context.Context, stopID, routeID string, on bool) error
	// PublishBusPosition broadcasts a filtered position for live consumers.
	PublishBusPosition(ctx context.Context, pos *domain.BusPosition) error
	// PublishETA broadcasts a freshly computed estimate.
	PublishETA(ctx context.Context, eta *domain.ETAResult) error
	// PublishCallEvent broadcasts a call lifecycle change.
	PublishCallEvent(ctx context.Context, ev *domain.CallEvent) error
	// PublishSystemHealth broadcasts the periodic engine health summary.
	PublishSystemHealth(ctx context.Context, payload []byte) error
}

// EventSubscriber delivers inbound device events from the message broker.
// Handlers receive decoded, validated events only.
type EventSubscriber interface {
	SubscribeLocations(ctx context.Context, handler func(ctx context.Context, ev *domain.LocationEvent) error) error
	SubscribeButtonPresses(ctx context.Context, handler func(ctx context.Context, ev *domain.ButtonPressEvent) error) error
	SubscribeCancels(ctx context.Context, handler func(ctx context.Context, ev *domain.CancelEvent) error) error
	SubscribeDeviceStatus(ctx context.Context, handler func(ctx context.Context, st *domain.DeviceStatus) error) error
}
