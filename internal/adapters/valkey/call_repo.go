package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// CallRepo implements ports.CallRepository. Calls live in per-(stop, route)
// slots; deactivation rewrites the slot with a short TTL instead of deleting
// it, so late duplicate cancel or notify events find an inactive record and
// no-op.
type CallRepo struct {
	store       *Store
	activeTTL   time.Duration
	inactiveTTL time.Duration
}

// NewCallRepo creates a CallRepo with the given slot TTLs.
func NewCallRepo(store *Store, activeTTL, inactiveTTL time.Duration) *CallRepo {
	if activeTTL <= 0 {
		activeTTL = time.Hour
	}
	if inactiveTTL <= 0 {
		inactiveTTL = 5 * time.Minute
	}
	return &CallRepo{store: store, activeTTL: activeTTL, inactiveTTL: inactiveTTL}
}

func callKey(stopID, routeID string) string {
	return "call:" + stopID + ":" + routeID
}

// Save writes the call into its slot with the active TTL.
func (r *CallRepo) Save(ctx context.Context, call *domain.Call) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("marshal call: %w", err)
	}
	return r.store.Set(ctx, callKey(call.StopID, call.RouteID), data, r.activeTTL)
}

// Get returns the call in the slot, active or not; nil when the slot expired.
func (r *CallRepo) Get(ctx context.Context, stopID, routeID string) (*domain.Call, error) {
	data, err := r.store.Get(ctx, callKey(stopID, routeID))
	if err != nil || data == nil {
		return nil, err
	}
	var call domain.Call
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("unmarshal call: %w", err)
	}
	return &call, nil
}

// ActiveForStop returns active calls for a stop; routeID narrows to one slot.
func (r *CallRepo) ActiveForStop(ctx context.Context, stopID, routeID string) ([]domain.Call, error) {
	if routeID != "" {
		call, err := r.Get(ctx, stopID, routeID)
		if err != nil || call == nil || !call.Active {
			return nil, err
		}
		return []domain.Call{*call}, nil
	}
	return r.scanActive(ctx, "call:"+stopID+":*")
}

// ListActive returns every active call in the store.
func (r *CallRepo) ListActive(ctx context.Context) ([]domain.Call, error) {
	return r.scanActive(ctx, "call:*")
}

func (r *CallRepo) scanActive(ctx context.Context, pattern string) ([]domain.Call, error) {
	keys, err := r.store.Scan(ctx, pattern)
	if err != nil {
		return nil, err
	}

	var calls []domain.Call
	for _, key := range keys {
		data, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue // expired between scan and get
		}
		var call domain.Call
		if err := json.Unmarshal(data, &call); err != nil {
			continue // skip corrupt slot, don't fail the cycle
		}
		if call.Active {
			calls = append(calls, call)
		}
	}
	return calls, nil
}

// Deactivate marks the slot inactive and shortens its expiry. Reports whether
// the state actually changed.
func (r *CallRepo) Deactivate(ctx context.Context, stopID, routeID string) (bool, error) {
	call, err := r.Get(ctx, stopID, routeID)
	if err != nil {
		return false, err
	}
	if call == nil || !call.Active {
		return false, nil
	}

	call.Active = false
	call.UpdatedAt = time.Now()
	data, err := json.Marshal(call)
	if err != nil {
		return false, fmt.Errorf("marshal call: %w", err)
	}
	if err := r.store.Set(ctx, callKey(stopID, routeID), data, r.inactiveTTL); err != nil {
		return false, err
	}
	return true, nil
}
