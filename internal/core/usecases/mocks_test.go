package usecases_test

import (
	"context"
	"sync"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// ---- In-memory repositories ----

type memCallRepo struct {
	mu    sync.Mutex
	calls map[string]*domain.Call // stopID|routeID

	saveErr error
}

func newMemCallRepo() *memCallRepo {
	return &memCallRepo{calls: make(map[string]*domain.Call)}
}

func callKey(stopID, routeID string) string { return stopID + "|" + routeID }

func (m *memCallRepo) Save(ctx context.Context, call *domain.Call) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *call
	m.calls[callKey(call.StopID, call.RouteID)] = &cp
	return nil
}

func (m *memCallRepo) Get(ctx context.Context, stopID, routeID string) (*domain.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calls[callKey(stopID, routeID)]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memCallRepo) ActiveForStop(ctx context.Context, stopID, routeID string) ([]domain.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Call
	for _, c := range m.calls {
		if !c.Active || c.StopID != stopID {
			continue
		}
		if routeID != "" && c.RouteID != routeID {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (m *memCallRepo) ListActive(ctx context.Context) ([]domain.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Call
	for _, c := range m.calls {
		if c.Active {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memCallRepo) Deactivate(ctx context.Context, stopID, routeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callKey(stopID, routeID)]
	if !ok || !c.Active {
		return false, nil
	}
	c.Active = false
	c.UpdatedAt = time.Now()
	return true, nil
}

type memBusRepo struct {
	mu        sync.Mutex
	locations map[string]*domain.BusPosition
	history   map[string][]domain.TrackSample

	listErr error
}

func newMemBusRepo() *memBusRepo {
	return &memBusRepo{
		locations: make(map[string]*domain.BusPosition),
		history:   make(map[string][]domain.TrackSample),
	}
}

func (m *memBusRepo) SaveLocation(ctx context.Context, pos *domain.BusPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pos
	m.locations[pos.BusID] = &cp
	return nil
}

func (m *memBusRepo) GetLocation(ctx context.Context, busID string) (*domain.BusPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.locations[busID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memBusRepo) ListActive(ctx context.Context) ([]domain.BusPosition, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BusPosition
	for _, p := range m.locations {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memBusRepo) AppendHistory(ctx context.Context, busID string, sample domain.TrackSample, trimBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.history[busID][:0]
	for _, s := range m.history[busID] {
		if !s.Time.Before(trimBefore) {
			kept = append(kept, s)
		}
	}
	m.history[busID] = append(kept, sample)
	return nil
}

func (m *memBusRepo) History(ctx context.Context, busID string, since time.Time) ([]domain.TrackSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TrackSample
	for _, s := range m.history[busID] {
		if !s.Time.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

type memETARepo struct {
	mu   sync.Mutex
	etas map[string]*domain.ETAResult
}

func newMemETARepo() *memETARepo {
	return &memETARepo{etas: make(map[string]*domain.ETAResult)}
}

func (m *memETARepo) Save(ctx context.Context, eta *domain.ETAResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *eta
	m.etas[eta.BusID+"|"+eta.StopID] = &cp
	return nil
}

func (m *memETARepo) Get(ctx context.Context, busID, stopID string) (*domain.ETAResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.etas[busID+"|"+stopID]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (m *memETARepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.etas)
}

type memMarkerRepo struct {
	mu      sync.Mutex
	markers map[string]bool
}

func newMemMarkerRepo() *memMarkerRepo {
	return &memMarkerRepo{markers: make(map[string]bool)}
}

func (m *memMarkerRepo) IsSet(ctx context.Context, busID, stopID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[busID+"|"+stopID], nil
}

func (m *memMarkerRepo) Set(ctx context.Context, busID, stopID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[busID+"|"+stopID] = true
	return nil
}

func (m *memMarkerRepo) Clear(ctx context.Context, busID, stopID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, busID+"|"+stopID)
	return nil
}

// ---- Publisher stub ----

type ledCommand struct {
	StopID  string
	RouteID string
	On      bool
}

type stubPublisher struct {
	mu            sync.Mutex
	notifications []domain.Notification
	leds          []ledCommand
	positions     []domain.BusPosition
	etas          []domain.ETAResult
	events        []domain.CallEvent

	notifyErr error
}

func (p *stubPublisher) SendBusNotification(ctx context.Context, n *domain.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notifyErr != nil {
		return p.notifyErr
	}
	p.notifications = append(p.notifications, *n)
	return nil
}

func (p *stubPublisher) SetStopLED(ctx context.Context, stopID, routeID string, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leds = append(p.leds, ledCommand{StopID: stopID, RouteID: routeID, On: on})
	return nil
}

func (p *stubPublisher) PublishBusPosition(ctx context.Context, pos *domain.BusPosition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions = append(p.positions, *pos)
	return nil
}

func (p *stubPublisher) PublishETA(ctx context.Context, eta *domain.ETAResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.etas = append(p.etas, *eta)
	return nil
}

func (p *stubPublisher) PublishCallEvent(ctx context.Context, ev *domain.CallEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *ev)
	return nil
}

func (p *stubPublisher) PublishSystemHealth(ctx context.Context, payload []byte) error {
	return nil
}

func (p *stubPublisher) notificationsOf(kind domain.NotificationType) []domain.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Notification
	for _, n := range p.notifications {
		if n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}

func (p *stubPublisher) ledCommands() []ledCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ledCommand(nil), p.leds...)
}

func (p *stubPublisher) callEvents() []domain.CallEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.CallEvent(nil), p.events...)
}
