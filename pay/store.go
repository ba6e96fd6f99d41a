package pay

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

// ErrDuplicateInsert is returned by Store.Insert when the one-pending-
// per-booking unique index rejects a second open transaction.
var ErrDuplicateInsert = errors.New("duplicate pending transaction insert")

// Store is the persistence surface of the payment state machine.
type Store interface {
	Insert(ctx context.Context, t *models.Transaction) error
	Get(ctx context.Context, id string) (*models.Transaction, error)
	GetByGatewayRef(ctx context.Context, ref string) (*models.Transaction, error)
	FindPendingByBooking(ctx context.Context, bookingID string) (*models.Transaction, error)
	CompareAndSwapStatus(ctx context.Context, id string, from, to models.TxnStatus) (bool, error)
	SetGatewaySession(ctx context.Context, id, ref, paymentURL, qrPayload string) error
	MergeMeta(ctx context.Context, id string, meta models.Meta) error
	ListByUser(ctx context.Context, userID string, limit, skip int64) ([]models.Transaction, error)
}

// WalletStore mutates stored-value balances. Debit is guarded so the
// balance can never go negative.
type WalletStore interface {
	Credit(ctx context.Context, userID string, amount float64) (float64, error)
	Debit(ctx context.Context, userID string, amount float64) (float64, error)
	Balance(ctx context.Context, userID string) (float64, error)
}

// OrphanStore records webhook notifications that matched no local
// transaction.
type OrphanStore interface {
	Record(ctx context.Context, ev *models.OrphanEvent) error
	List(ctx context.Context, limit int64) ([]models.OrphanEvent, error)
}

var ErrInsufficientBalance = errors.New("insufficient wallet balance")

// ---------- Mongo implementations ----------

type MongoStore struct{}

func (MongoStore) Insert(ctx context.Context, t *models.Transaction) error {
	_, err := db.TransactionsCollection.InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateInsert
	}
	return err
}

func (MongoStore) Get(ctx context.Context, id string) (*models.Transaction, error) {
	var t models.Transaction
	err := db.TransactionsCollection.FindOne(ctx, bson.M{"id": id}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (MongoStore) GetByGatewayRef(ctx context.Context, ref string) (*models.Transaction, error) {
	var t models.Transaction
	err := db.TransactionsCollection.FindOne(ctx, bson.M{"gatewayRef": ref}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (MongoStore) FindPendingByBooking(ctx context.Context, bookingID string) (*models.Transaction, error) {
	var t models.Transaction
	err := db.TransactionsCollection.FindOne(ctx,
		bson.M{"bookingId": bookingID, "status": models.TxnPending}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (MongoStore) CompareAndSwapStatus(ctx context.Context, id string, from, to models.TxnStatus) (bool, error) {
	res, err := db.TransactionsCollection.UpdateOne(ctx,
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

func (MongoStore) SetGatewaySession(ctx context.Context, id, ref, paymentURL, qrPayload string) error {
	_, err := db.TransactionsCollection.UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{
			"gatewayRef": ref,
			"paymentUrl": paymentURL,
			"qrPayload":  qrPayload,
			"updatedAt":  time.Now(),
		}},
	)
	return err
}

func (MongoStore) MergeMeta(ctx context.Context, id string, meta models.Meta) error {
	set := bson.M{"updatedAt": time.Now()}
	for k, v := range meta {
		set["meta."+k] = v
	}
	_, err := db.TransactionsCollection.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": set})
	return err
}

func (MongoStore) ListByUser(ctx context.Context, userID string, limit, skip int64) ([]models.Transaction, error) {
	opts := options.Find().
		SetSort(bson.M{"createdAt": -1}).
		SetLimit(limit).
		SetSkip(skip)
	cur, err := db.TransactionsCollection.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Transaction
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type MongoWallets struct{}

func (MongoWallets) Credit(ctx context.Context, userID string, amount float64) (float64, error) {
	after := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var w models.Wallet
	err := db.WalletsCollection.FindOneAndUpdate(ctx,
		bson.M{"userId": userID},
		bson.M{
			"$inc": bson.M{"balance": amount, "version": 1},
			"$set": bson.M{"updatedAt": time.Now()},
		},
		after,
	).Decode(&w)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

func (MongoWallets) Debit(ctx context.Context, userID string, amount float64) (float64, error) {
	after := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var w models.Wallet
	err := db.WalletsCollection.FindOneAndUpdate(ctx,
		bson.M{"userId": userID, "balance": bson.M{"$gte": amount}},
		bson.M{
			"$inc": bson.M{"balance": -amount, "version": 1},
			"$set": bson.M{"updatedAt": time.Now()},
		},
		after,
	).Decode(&w)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

func (MongoWallets) Balance(ctx context.Context, userID string) (float64, error) {
	var w models.Wallet
	err := db.WalletsCollection.FindOne(ctx, bson.M{"userId": userID}).Decode(&w)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

type MongoOrphans struct{}

func (MongoOrphans) Record(ctx context.Context, ev *models.OrphanEvent) error {
	_, err := db.OrphanEventsCollection.InsertOne(ctx, ev)
	return err
}

func (MongoOrphans) List(ctx context.Context, limit int64) ([]models.OrphanEvent, error) {
	opts := options.Find().SetSort(bson.M{"receivedAt": -1}).SetLimit(limit)
	cur, err := db.OrphanEventsCollection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.OrphanEvent
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
