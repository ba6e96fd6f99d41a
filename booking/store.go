package booking

import (
	"context"
	"errors"
	"time"

	"parkly/db"
	"parkly/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is the persistence surface of the booking state machine.
// CompareAndSwapStatus is the optimistic-concurrency primitive: it
// applies from→to only if the record is still in from, and reports
// whether this caller won the write.
type Store interface {
	Insert(ctx context.Context, b *models.Booking) error
	Get(ctx context.Context, id string) (*models.Booking, error)
	CompareAndSwapStatus(ctx context.Context, id string, from, to models.BookingStatus) (bool, error)
	FindDue(ctx context.Context, status models.BookingStatus, field string, before time.Time, limit int64) ([]models.Booking, error)
	ListByUser(ctx context.Context, userID string, limit, skip int64) ([]models.Booking, error)
}

// LotSource resolves parking lots for tariff and operating-hours checks.
type LotSource interface {
	Lot(ctx context.Context, lotID string) (*models.ParkingLot, error)
}

// MongoStore backs Store with the bookings collection.
type MongoStore struct{}

func (MongoStore) Insert(ctx context.Context, b *models.Booking) error {
	_, err := db.BookingsCollection.InsertOne(ctx, b)
	return err
}

func (MongoStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := db.BookingsCollection.FindOne(ctx, bson.M{"id": id}).Decode(&b)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (MongoStore) CompareAndSwapStatus(ctx context.Context, id string, from, to models.BookingStatus) (bool, error) {
	res, err := db.BookingsCollection.UpdateOne(ctx,
		bson.M{"id": id, "status": from},
		bson.M{
			"$set": bson.M{"status": to, "updatedAt": time.Now()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (MongoStore) FindDue(ctx context.Context, status models.BookingStatus, field string, before time.Time, limit int64) ([]models.Booking, error) {
	opts := options.Find().SetLimit(limit)
	cur, err := db.BookingsCollection.Find(ctx,
		bson.M{"status": status, field: bson.M{"$lte": before}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Booking
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (MongoStore) ListByUser(ctx context.Context, userID string, limit, skip int64) ([]models.Booking, error) {
	opts := options.Find().
		SetSort(bson.M{"createdAt": -1}).
		SetLimit(limit).
		SetSkip(skip)
	cur, err := db.BookingsCollection.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Booking
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MongoLots backs LotSource with the parking lots collection.
type MongoLots struct{}

func (MongoLots) Lot(ctx context.Context, lotID string) (*models.ParkingLot, error) {
	var lot models.ParkingLot
	err := db.ParkingLotsCollection.FindOne(ctx, bson.M{"id": lotID}).Decode(&lot)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lot, nil
}
