package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber on NATS JetStream. Inbound
// payloads are decoded and validated here; handlers never see raw JSON. A
// malformed payload is terminated (no redelivery can fix it) and logged; a
// handler error naks for redelivery up to MaxDeliver.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
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
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeLocations consumes bus location updates with a durable consumer.
func (s *Subscriber) SubscribeLocations(ctx context.Context, handler func(ctx context.Context, ev *domain.LocationEvent) error) error {
	sub, err := s.js.Subscribe("bus.location.>", func(msg *nats.Msg) {
		busID := subjectToken(msg.Subject, 2)
		ev, err := domain.DecodeLocationEvent(msg.Data, busID)
		if err != nil {
			slog.Warn("rejected location payload", "subject", msg.Subject, "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, ev); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("location-processor"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// SubscribeButtonPresses consumes stop button presses with a durable consumer.
func (s *Subscriber) SubscribeButtonPresses(ctx context.Context, handler func(ctx context.Context, ev *domain.ButtonPressEvent) error) error {
	sub, err := s.js.Subscribe("device.button.>", func(msg *nats.Msg) {
		stopID := subjectToken(msg.Subject, 2)
		routeID := subjectToken(msg.Subject, 3)
		ev, err := domain.DecodeButtonPressEvent(msg.Data, stopID, routeID)
		if err != nil {
			slog.Warn("rejected button payload", "subject", msg.Subject, "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, ev); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("call-processor"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// SubscribeCancels consumes call cancellations with a durable consumer.
func (s *Subscriber) SubscribeCancels(ctx context.Context, handler func(ctx context.Context, ev *domain.CancelEvent) error) error {
	sub, err := s.js.Subscribe("device.cancel.>", func(msg *nats.Msg) {
		stopID := subjectToken(msg.Subject, 2)
		routeID := subjectToken(msg.Subject, 3)
		ev, err := domain.DecodeCancelEvent(msg.Data, stopID, routeID)
		if err != nil {
			slog.Warn("rejected cancel payload", "subject", msg.Subject, "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, ev); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("cancel-processor"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// SubscribeDeviceStatus consumes liveness reports from stop and bus units.
// Plain subscriptions: a lost status report is harmless, the next heartbeat
// replaces it.
func (s *Subscriber) SubscribeDeviceStatus(ctx context.Context, handler func(ctx context.Context, st *domain.DeviceStatus) error) error {
	handle := func(kind string) nats.MsgHandler {
		return func(msg *nats.Msg) {
			var st domain.DeviceStatus
			if err := json.Unmarshal(msg.Data, &st); err != nil {
				slog.Warn("rejected status payload", "subject", msg.Subject, "error", err)
				return
			}
			st.Kind = kind
			if st.DeviceID == "" {
				st.DeviceID = subjectToken(msg.Subject, 2)
			}
			if st.Time.IsZero() {
				st.Time = time.Now()
			}
			if err := handler(ctx, &st); err != nil {
				slog.Warn("status handler failed", "subject", msg.Subject, "error", err)
			}
		}
	}

	stopSub, err := s.conn.Subscribe("device.status.>", handle("stop"))
	if err != nil {
		return err
	}
	s.subs = append(s.subs, stopSub)

	busSub, err := s.conn.Subscribe("bus.status.>", handle("bus"))
	if err != nil {
		return err
	}
	s.subs = append(s.subs, busSub)

	// Heartbeats carry no body worth keeping; each one is an implicit
	// online report for the stop unit.
	hbSub, err := s.conn.Subscribe("device.heartbeat.>", func(msg *nats.Msg) {
		st := &domain.DeviceStatus{
			DeviceID: subjectToken(msg.Subject, 2),
			Kind:     "stop",
			Status:   "online",
			Time:     time.Now(),
		}
		if st.DeviceID == "" {
			return
		}
		if err := handler(ctx, st); err != nil {
			slog.Warn("status handler failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, hbSub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}

// subjectToken returns the dot-separated token at idx, or "".
func subjectToken(subject string, idx int) string {
	parts := strings.Split(subject, ".")
	if idx >= len(parts) {
		return ""
	}
	return parts[idx]
}
