package repository

import (
	"context"
	"fmt"
	"sync"

	"trackgate/internal/core/model"
)

type inMemoryDeviceRepository struct {
	devices map[string]*model.Device
	mutex   sync.RWMutex
}

// NewInMemoryDeviceRepository backs the gateway when no MongoDB is configured.
func NewInMemoryDeviceRepository(devices ...*model.Device) DeviceRepository {
	r := &inMemoryDeviceRepository{
		devices: make(map[string]*model.Device),
	}
	for _, d := range devices {
		r.devices[d.UniqueID] = d
	}
	return r
}

func (r *inMemoryDeviceRepository) Create(_ context.Context, device *model.Device) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.devices[device.UniqueID]; exists {
		return fmt.Errorf("%w: %s", ErrDeviceExists, device.UniqueID)
	}

	r.devices[device.UniqueID] = device
	return nil
}

func (r *inMemoryDeviceRepository) FindByUniqueID(_ context.Context, uniqueID string) (*model.Device, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.devices[uniqueID], nil
}
