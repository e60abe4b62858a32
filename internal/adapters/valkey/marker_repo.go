package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// MarkerRepo implements ports.NotifyMarkerRepository. Presence of the key is
// the marker; the value is irrelevant.
type MarkerRepo struct {
	store *Store
}

// NewMarkerRepo creates a MarkerRepo.
func NewMarkerRepo(store *Store) *MarkerRepo {
	return &MarkerRepo{store: store}
}

func markerKey(busID, stopID string) string { return "notified:" + busID + ":" + stopID }

// IsSet reports whether an approach notification was already dispatched for
// this (bus, stop) pairing inside the marker window.
func (r *MarkerRepo) IsSet(ctx context.Context, busID, stopID string) (bool, error) {
	return r.store.Exists(ctx, markerKey(busID, stopID))
}

// Set places the marker with the given expiry.
func (r *MarkerRepo) Set(ctx context.Context, busID, stopID string, ttl time.Duration) error {
	return r.store.Set(ctx, markerKey(busID, stopID), []byte("1"), ttl)
}

// Clear removes the marker so a future approach can notify again.
func (r *MarkerRepo) Clear(ctx context.Context, busID, stopID string) error {
	return r.store.Delete(ctx, markerKey(busID, stopID))
}

// StatusRepo implements ports.DeviceStatusRepository on the same store.
type StatusRepo struct {
	store *Store
	ttl   time.Duration
}

// NewStatusRepo creates a StatusRepo; ttl should be a few heartbeat intervals.
func NewStatusRepo(store *Store, ttl time.Duration) *StatusRepo {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &StatusRepo{store: store, ttl: ttl}
}

func statusKey(kind, deviceID string) string { return "status:" + kind + ":" + deviceID }

// Save stores a liveness report.
func (r *StatusRepo) Save(ctx context.Context, st *domain.DeviceStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return r.store.Set(ctx, statusKey(st.Kind, st.DeviceID), data, r.ttl)
}

// Get returns the last report inside the TTL, nil otherwise.
func (r *StatusRepo) Get(ctx context.Context, kind, deviceID string) (*domain.DeviceStatus, error) {
	data, err := r.store.Get(ctx, statusKey(kind, deviceID))
	if err != nil || data == nil {
		return nil, err
	}
	var st domain.DeviceStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	return &st, nil
}
