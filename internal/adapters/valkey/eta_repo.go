package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
)

// ETARepo implements ports.ETARepository. Results are write-through only:
// persisted so concurrent readers can observe the latest estimate, never read
// back for control flow.
type ETARepo struct {
	store *Store
	ttl   time.Duration
}

// NewETARepo creates an ETARepo.
func NewETARepo(store *Store, ttl time.Duration) *ETARepo {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ETARepo{store: store, ttl: ttl}
}

func etaKey(busID, stopID string) string { return "eta:" + busID + ":" + stopID }

// Save persists one estimate.
func (r *ETARepo) Save(ctx context.Context, eta *domain.ETAResult) error {
	data, err := json.Marshal(eta)
	if err != nil {
		return fmt.Errorf("marshal eta: %w", err)
	}
	return r.store.Set(ctx, etaKey(eta.BusID, eta.StopID), data, r.ttl)
}

// Get returns the latest persisted estimate, nil when none survives.
func (r *ETARepo) Get(ctx context.Context, busID, stopID string) (*domain.ETAResult, error) {
	data, err := r.store.Get(ctx, etaKey(busID, stopID))
	if err != nil || data == nil {
		return nil, err
	}
	var eta domain.ETAResult
	if err := json.Unmarshal(data, &eta); err != nil {
		return nil, fmt.Errorf("unmarshal eta: %w", err)
	}
	return &eta, nil
}
