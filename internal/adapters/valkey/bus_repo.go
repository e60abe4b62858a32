package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// BusRepo implements ports.BusRepository: the latest filtered position per bus
// under a short TTL, plus a sorted-set history window used for pass-detection.
type BusRepo struct {
	store       *Store
	locationTTL time.Duration
}

// NewBusRepo creates a BusRepo.
func NewBusRepo(store *Store, locationTTL time.Duration) *BusRepo {
	if locationTTL <= 0 {
		locationTTL = time.Minute
	}
	return &BusRepo{store: store, locationTTL: locationTTL}
}

func busLocationKey(busID string) string { return "bus:" + busID + ":location" }
func busHistoryKey(busID string) string  { return "bus:" + busID + ":history" }

// SaveLocation stores the latest position with the location TTL.
func (r *BusRepo) SaveLocation(ctx context.Context, pos *domain.BusPosition) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	return r.store.Set(ctx, busLocationKey(pos.BusID), data, r.locationTTL)
}

// GetLocation returns the last stored position, nil when expired.
func (r *BusRepo) GetLocation(ctx context.Context, busID string) (*domain.BusPosition, error) {
	data, err := r.store.Get(ctx, busLocationKey(busID))
	if err != nil || data == nil {
		return nil, err
	}
	var pos domain.BusPosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("unmarshal position: %w", err)
	}
	return &pos, nil
}

// ListActive returns the latest position of every bus inside the TTL.
func (r *BusRepo) ListActive(ctx context.Context) ([]domain.BusPosition, error) {
	keys, err := r.store.Scan(ctx, "bus:*:location")
	if err != nil {
		return nil, err
	}

	var buses []domain.BusPosition
	for _, key := range keys {
		data, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue
		}
		var pos domain.BusPosition
		if err := json.Unmarshal(data, &pos); err != nil {
			continue
		}
		buses = append(buses, pos)
	}
	return buses, nil
}

// AppendHistory records a sample scored by capture time and trims everything
// older than trimBefore. Trimming is opportunistic, on write only; the key
// itself carries a TTL so a silent bus's window ages out entirely.
func (r *BusRepo) AppendHistory(ctx context.Context, busID string, sample domain.TrackSample, trimBefore time.Time) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	key := busHistoryKey(busID)
	if err := r.store.ZAdd(ctx, key, float64(sample.Time.UnixMilli()), data); err != nil {
		return err
	}
	if err := r.store.ZRemRangeByScore(ctx, key, float64(trimBefore.UnixMilli())); err != nil {
		return err
	}
	return r.store.Expire(ctx, key, 2*r.locationTTL)
}

// History returns samples recorded at or after since, oldest first.
func (r *BusRepo) History(ctx context.Context, busID string, since time.Time) ([]domain.TrackSample, error) {
	members, err := r.store.ZRangeByScore(ctx, busHistoryKey(busID), float64(since.UnixMilli()), float64(time.Now().Add(time.Hour).UnixMilli()))
	if err != nil {
		return nil, err
	}

	samples := make([]domain.TrackSample, 0, len(members))
	for _, m := range members {
		var s domain.TrackSample
		if err := json.Unmarshal(m, &s); err != nil {
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}
