package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"trackgate/internal/core/util"
)

const (
	DeviceStatusActive   = "active"
	DeviceStatusDisabled = "disabled"
)

// Device is a registered tracker. ApiKey is the token the ingestion sink
// expects in X-Device-Token for frames from this device.
type Device struct {
	ID         string    `json:"id" bson:"id"`
	Name       string    `json:"name" bson:"name"`
	UniqueID   string    `json:"uniqueId" bson:"uniqueId"`
	Status     string    `json:"status" bson:"status"`
	Protocol   string    `json:"protocol" bson:"protocol"`
	ApiKey     string    `json:"apiKey,omitempty" bson:"apiKey"`
	LastUpdate time.Time `json:"lastUpdate" bson:"lastUpdate"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

func NewDevice(name, uniqueID, protocol string) *Device {
	apiKey, _ := generateRandomKey(32)
	now := time.Now()

	return &Device{
		ID:         util.GenerateID(),
		Name:       name,
		UniqueID:   uniqueID,
		Status:     DeviceStatusActive,
		Protocol:   protocol,
		ApiKey:     apiKey,
		LastUpdate: now,
		CreatedAt:  now,
	}
}

// Token returns the device token, or "" when the device may not report.
func (d *Device) Token() string {
	if d == nil || d.Status == DeviceStatusDisabled {
		return ""
	}
	return d.ApiKey
}

func generateRandomKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
