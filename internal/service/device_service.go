package service

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/session-security-engine/internal/domain"
	"github.com/sandeepkv93/session-security-engine/internal/repository"
)

type DeviceService struct {
	repo repository.DeviceRepository
	now  func() time.Time
}

func NewDeviceService(repo repository.DeviceRepository) *DeviceService {
	return &DeviceService{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Upsert records a sighting of the device. trusted nil keeps the stored flag
// (false for a new device); an explicit false clears it.
func (s *DeviceService) Upsert(ctx context.Context, userID uint, deviceHash string, trusted *bool, label *string) (*domain.Device, error) {
	return s.repo.Upsert(ctx, userID, deviceHash, trusted, label, s.now())
}

// Lookup returns nil without error for an unknown device.
func (s *DeviceService) Lookup(ctx context.Context, userID uint, deviceHash string) (*domain.Device, error) {
	d, err := s.repo.Find(ctx, userID, deviceHash)
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return nil, nil
	}
	return d, err
}

func (s *DeviceService) ListForUser(ctx context.Context, userID uint) ([]domain.Device, error) {
	return s.repo.ListByUser(ctx, userID)
}
