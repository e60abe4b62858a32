// Package natsadapter carries device and bus events over NATS. Inbound
// subjects mirror the MQTT topic scheme of the field devices; outbound side
// effects (driver notifications, LED commands, broadcasts) are plain
// best-effort publishes.
package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// Subject layout. Inbound device subjects carry identifiers in the subject
// tokens, matching the device firmware's topic scheme.
const (
	subjLocationPrefix = "bus.location."  // bus.location.{busID}
	subjButtonPrefix   = "device.button." // device.button.{stopID}.{routeID}
	subjCancelPrefix   = "device.cancel." // device.cancel.{stopID}.{routeID}
	subjNotifyPrefix   = "bus.notify."    // bus.notify.{busID}
	subjLEDPrefix      = "device.led."    // device.led.{stopID}.{routeID}
	subjPositionPrefix = "bus.position."  // bus.position.{busID} (broadcast)
	subjETAPrefix      = "eta."           // eta.{busID}.{stopID} (broadcast)
	subjCallEvents     = "calls.events"
	subjSystemHealth   = "system.health"
	subjStopStatus     = "device.status." // device.status.{stopID}
	subjBusStatus      = "bus.status."    // bus.status.{busID}
)

// Publisher implements ports.EventPublisher on NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS, enables JetStream, and ensures the inbound
// streams exist so durable consumers can attach.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	streams := []nats.StreamConfig{
		{
			Name:      "BUS_LOCATIONS",
			Subjects:  []string{"bus.location.>"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "STOP_CALLS",
			Subjects:  []string{"device.button.>", "device.cancel.>"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// SendBusNotification pushes a driver notification to a bus unit.
func (p *Publisher) SendBusNotification(ctx context.Context, n *domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.conn.Publish(subjNotifyPrefix+n.BusID, data)
}

// SetStopLED switches the per-route call indicator on a stop unit.
func (p *Publisher) SetStopLED(ctx context.Context, stopID, routeID string, on bool) error {
	status := "OFF"
	if on {
		status = "ON"
	}
	data, err := json.Marshal(map[string]any{
		"stop_id":   stopID,
		"route_id":  routeID,
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return p.conn.Publish(subjLEDPrefix+stopID+"."+routeID, data)
}

// PublishBusPosition broadcasts a filtered position for live consumers.
func (p *Publisher) PublishBusPosition(ctx context.Context, pos *domain.BusPosition) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	return p.conn.Publish(subjPositionPrefix+pos.BusID, data)
}

// PublishETA broadcasts a freshly computed estimate.
func (p *Publisher) PublishETA(ctx context.Context, eta *domain.ETAResult) error {
	data, err := json.Marshal(eta)
	if err != nil {
		return err
	}
	return p.conn.Publish(subjETAPrefix+eta.BusID+"."+eta.StopID, data)
}

// PublishCallEvent broadcasts a call lifecycle change.
func (p *Publisher) PublishCallEvent(ctx context.Context, ev *domain.CallEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.conn.Publish(subjCallEvents, data)
}

// PublishSystemHealth broadcasts the periodic engine health summary on the
// subject the field devices already subscribe to.
func (p *Publisher) PublishSystemHealth(ctx context.Context, payload []byte) error {
	return p.conn.Publish(subjSystemHealth, payload)
}

// IsConnected reports broker connectivity for readiness checks.
func (p *Publisher) IsConnected() bool {
	return p.conn.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
