package usecases

import (
	"context"
	"fmt"

	"github.com/joonhokim/buscall/internal/core/domain"
	"github.com/joonhokim/buscall/internal/core/ports"
)

// DeviceService caches liveness reports from stop and bus units so the API can
// answer "is this device online". Purely informational.
type DeviceService struct {
	statuses ports.DeviceStatusRepository
}

// NewDeviceService creates a new DeviceService.
func NewDeviceService(statuses ports.DeviceStatusRepository) *DeviceService {
	return &DeviceService{statuses: statuses}
}

// RecordStatus stores a status report under its liveness TTL.
func (s *DeviceService) RecordStatus(ctx context.Context, st *domain.DeviceStatus) error {
	if st.DeviceID == "" || st.Kind == "" {
		return fmt.Errorf("device status missing id or kind")
	}
	return s.statuses.Save(ctx, st)
}

// Status returns the last known report, or nil when the device has not been
// heard from inside the TTL.
func (s *DeviceService) Status(ctx context.Context, kind, deviceID string) (*domain.DeviceStatus, error) {
	return s.statuses.Get(ctx, kind, deviceID)
}
