package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trackgate/internal/core/model"
)

const (
	devicesCollection = "devices"
	queryTimeout      = 5 * time.Second
)

var ErrDeviceExists = errors.New("device already exists")

// DeviceRepository looks devices up by their tracker identifier. A missing
// device is (nil, nil).
type DeviceRepository interface {
	Create(ctx context.Context, device *model.Device) error
	FindByUniqueID(ctx context.Context, uniqueID string) (*model.Device, error)
}

type MongoDeviceRepository struct {
	collection *mongo.Collection
}

func NewMongoDeviceRepository(db *mongo.Database) *MongoDeviceRepository {
	return &MongoDeviceRepository{
		collection: db.Collection(devicesCollection),
	}
}

// EnsureIndexes creates the unique index on uniqueId.
func (r *MongoDeviceRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "uniqueId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create devices index: %w", err)
	}
	return nil
}

func (r *MongoDeviceRepository) Create(ctx context.Context, device *model.Device) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.collection.InsertOne(ctx, device)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrDeviceExists, device.UniqueID)
	}
	return err
}

func (r *MongoDeviceRepository) FindByUniqueID(ctx context.Context, uniqueID string) (*model.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var device model.Device
	err := r.collection.FindOne(ctx, bson.M{"uniqueId": uniqueID}).Decode(&device)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find device %s: %w", uniqueID, err)
	}
	return &device, nil
}
