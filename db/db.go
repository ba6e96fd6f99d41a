package db

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ParkingLotsCollection  *mongo.Collection
	BookingsCollection     *mongo.Collection
	TransactionsCollection *mongo.Collection
	WalletsCollection      *mongo.Collection
	OrphanEventsCollection *mongo.Collection
	Client                 *mongo.Client
)

// Initialize MongoDB connection
func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found; using system environment")
	}

	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	clientOptions := options.Client().ApplyURI(uri)
	var err error
	Client, err = mongo.Connect(context.TODO(), clientOptions)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	database := Client.Database("parklydb")
	ParkingLotsCollection = database.Collection("parkinglots")
	BookingsCollection = database.Collection("bookings")
	TransactionsCollection = database.Collection("transactions")
	WalletsCollection = database.Collection("wallets")
	OrphanEventsCollection = database.Collection("orphan_events")
}

// EnsureIndexes creates the indexes the transaction core relies on:
// a geospatial index for nearby-lot search, a unique gateway reference
// per transaction, and a partial unique index that allows at most one
// pending transaction per booking.
func EnsureIndexes(ctx context.Context) error {
	_, err := ParkingLotsCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"id": 1}, Options: options.Index().SetUnique(true)},
		{Keys: bson.M{"location": "2dsphere"}},
	})
	if err != nil {
		return err
	}

	_, err = BookingsCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"id": 1}, Options: options.Index().SetUnique(true)},
		{Keys: bson.M{"status": 1, "holdExpiresAt": 1}},
		{Keys: bson.M{"userId": 1, "createdAt": -1}},
	})
	if err != nil {
		return err
	}

	_, err = TransactionsCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"id": 1}, Options: options.Index().SetUnique(true)},
		{
			Keys: bson.M{"gatewayRef": 1},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"gatewayRef": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.M{"bookingId": 1},
			Options: options.Index().SetUnique(true).SetName("one_pending_per_booking").
				SetPartialFilterExpression(bson.M{"status": "pending", "bookingId": bson.M{"$type": "string"}}),
		},
	})
	if err != nil {
		return err
	}

	_, err = WalletsCollection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.M{"userId": 1}, Options: options.Index().SetUnique(true),
	})
	return err
}
