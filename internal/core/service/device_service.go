package service

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"trackgate/internal/cache"
	"trackgate/internal/core/repository"
)

const tokenKeyPrefix = "device:token:"

var ErrEmptyDeviceID = errors.New("empty device id")

// TokenCache is the shared cache between gateway instances.
type TokenCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// DeviceService resolves the token the sink expects for a device. Lookups go
// through a process-local LRU, then the shared cache, then the registry.
// Unknown devices resolve to "" and are cached like known ones.
type DeviceService struct {
	repo   repository.DeviceRepository
	cache  TokenCache
	local  *expirable.LRU[string, string]
	ttl    time.Duration
	logger *zap.Logger
}

type cachedToken struct {
	Token string `json:"token"`
}

func NewDeviceService(repo repository.DeviceRepository, cache TokenCache, size int, ttl time.Duration, logger *zap.Logger) *DeviceService {
	return &DeviceService{
		repo:   repo,
		cache:  cache,
		local:  expirable.NewLRU[string, string](size, nil, ttl),
		ttl:    ttl,
		logger: logger,
	}
}

// ResolveToken returns the device token for the given tracker identifier.
// Shared cache failures are logged and bypassed; registry failures are
// returned.
func (s *DeviceService) ResolveToken(ctx context.Context, uniqueID string) (string, error) {
	if uniqueID == "" {
		return "", ErrEmptyDeviceID
	}
	if token, ok := s.local.Get(uniqueID); ok {
		return token, nil
	}

	key := tokenKeyPrefix + uniqueID
	var cached cachedToken
	err := s.cache.Get(ctx, key, &cached)
	switch {
	case err == nil:
		s.local.Add(uniqueID, cached.Token)
		return cached.Token, nil
	case !errors.Is(err, cache.ErrMiss):
		s.logger.Warn("device token cache read failed", zap.String("device_id", uniqueID), zap.Error(err))
	}

	device, err := s.repo.FindByUniqueID(ctx, uniqueID)
	if err != nil {
		return "", err
	}
	token := device.Token()

	s.local.Add(uniqueID, token)
	if err := s.cache.Set(ctx, key, cachedToken{Token: token}, s.ttl); err != nil {
		s.logger.Warn("device token cache write failed", zap.String("device_id", uniqueID), zap.Error(err))
	}
	return token, nil
}
