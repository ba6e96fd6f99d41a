package inventory

import (
	"context"
	"errors"
	"log"

	"parkly/db"
	"parkly/models"
	"parkly/mq"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrInsufficientCapacity means reserve failed closed: the available
	// count would have gone negative.
	ErrInsufficientCapacity = errors.New("insufficient capacity")

	ErrUnknownLot = errors.New("unknown parking lot")
)

// Ledger owns the mutable available-slot counts per lot per vehicle
// class. Reserve and Release are atomic with respect to concurrent
// callers; Reserve is a compare-and-decrement that never lets the
// count go negative, Release saturates at total capacity.
type Ledger interface {
	Reserve(ctx context.Context, lotID string, class models.VehicleClass, n int) error
	Release(ctx context.Context, lotID string, class models.VehicleClass, n int) error
	Available(ctx context.Context, lotID string, class models.VehicleClass) (int, error)
}

// MongoLedger keeps the counters embedded in the parking lot documents
// and mutates them with guarded $inc updates, so two simultaneous
// reservations for the last slot cannot both succeed.
type MongoLedger struct {
	Bus *mq.Broker
}

func NewMongoLedger(bus *mq.Broker) *MongoLedger {
	return &MongoLedger{Bus: bus}
}

func (l *MongoLedger) Reserve(ctx context.Context, lotID string, class models.VehicleClass, n int) error {
	if n <= 0 {
		return nil
	}
	field := "available." + string(class)
	res, err := db.ParkingLotsCollection.UpdateOne(ctx,
		bson.M{"id": lotID, field: bson.M{"$gte": n}},
		bson.M{"$inc": bson.M{field: -n, "version": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Distinguish a full lot from a missing one.
		count, err := db.ParkingLotsCollection.CountDocuments(ctx, bson.M{"id": lotID})
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrUnknownLot
		}
		return ErrInsufficientCapacity
	}

	l.emit(ctx, lotID, class)
	return nil
}

func (l *MongoLedger) Release(ctx context.Context, lotID string, class models.VehicleClass, n int) error {
	if n <= 0 {
		return nil
	}
	field := "available." + string(class)
	capField := "capacity." + string(class)

	// Guarded increment: only applies while available+n stays within
	// total capacity.
	res, err := db.ParkingLotsCollection.UpdateOne(ctx,
		bson.M{
			"id": lotID,
			"$expr": bson.M{"$lte": bson.A{
				bson.M{"$add": bson.A{"$" + field, n}},
				"$" + capField,
			}},
		},
		bson.M{"$inc": bson.M{field: n, "version": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		count, err := db.ParkingLotsCollection.CountDocuments(ctx, bson.M{"id": lotID})
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrUnknownLot
		}
		// Double release. Clamp to capacity and record the violation.
		log.Printf("[inventory] invariant violation: release past capacity, lot=%s class=%s", lotID, class)
		_, err = db.ParkingLotsCollection.UpdateOne(ctx,
			bson.M{"id": lotID},
			bson.A{bson.M{"$set": bson.M{field: "$" + capField}}},
		)
		if err != nil {
			return err
		}
	}

	l.emit(ctx, lotID, class)
	return nil
}

func (l *MongoLedger) Available(ctx context.Context, lotID string, class models.VehicleClass) (int, error) {
	var lot models.ParkingLot
	if err := db.ParkingLotsCollection.FindOne(ctx, bson.M{"id": lotID}).Decode(&lot); err != nil {
		return 0, ErrUnknownLot
	}
	return lot.Available[class], nil
}

func (l *MongoLedger) emit(ctx context.Context, lotID string, class models.VehicleClass) {
	if l.Bus == nil {
		return
	}
	avail, err := l.Available(ctx, lotID, class)
	if err != nil {
		log.Printf("[inventory] read-back failed for lot %s: %v", lotID, err)
		return
	}
	l.Bus.Publish(ctx, mq.NewEvent(mq.InventoryTopic(lotID), "inventory_changed", map[string]interface{}{
		"lotId":        lotID,
		"vehicleClass": string(class),
		"available":    avail,
	}))
}
