package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultPasscodesCollection is the collection holding passcode documents.
const DefaultPasscodesCollection = "otps"

type passcodeDocument struct {
	Email     string    `bson:"_id"`
	Code      string    `bson:"code"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoPasscodeStore keeps one passcode document per email. The server TTL
// monitor removes documents eventually; reads apply the expiry themselves.
type MongoPasscodeStore struct {
	coll *mongo.Collection
	ttl  time.Duration
	now  func() time.Time
}

// NewMongoPasscodeStore constructs the store on db's otps collection.
func NewMongoPasscodeStore(db *mongo.Database, ttl time.Duration, now func() time.Time) *MongoPasscodeStore {
	if ttl <= 0 {
		ttl = DefaultPasscodeTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MongoPasscodeStore{coll: db.Collection(DefaultPasscodesCollection), ttl: ttl, now: now}
}

const (
	passcodeTTLIndex = "created_ttl"
	// Server error code returned when an index exists under the same name
	// with different options.
	indexOptionsConflict = 85
)

// EnsureIndexes creates the code lookup index and the TTL index. An existing
// TTL index built for a different lifetime is updated in place.
func (s *MongoPasscodeStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("code_created"),
	})
	if err != nil {
		return fmt.Errorf("auth: passcode indexes: %w", err)
	}

	expire := int32(s.ttl / time.Second)
	_, err = s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: 1}},
		Options: options.Index().SetName(passcodeTTLIndex).SetExpireAfterSeconds(expire),
	})
	if err == nil {
		return nil
	}
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) || !cmdErr.HasErrorCode(indexOptionsConflict) {
		return fmt.Errorf("auth: passcode indexes: %w", err)
	}
	err = s.coll.Database().RunCommand(ctx, bson.D{
		{Key: "collMod", Value: s.coll.Name()},
		{Key: "index", Value: bson.D{
			{Key: "name", Value: passcodeTTLIndex},
			{Key: "expireAfterSeconds", Value: expire},
		}},
	}).Err()
	if err != nil {
		return fmt.Errorf("auth: update passcode ttl index: %w", err)
	}
	return nil
}

// Put upserts the record keyed by email, replacing any previous one.
func (s *MongoPasscodeStore) Put(ctx context.Context, rec PasscodeRecord) error {
	if rec.Email == "" || rec.Code == "" {
		return fmt.Errorf("auth: put passcode: %w", ErrValidation)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	doc := passcodeDocument{Email: rec.Email, Code: rec.Code, CreatedAt: rec.CreatedAt.UTC().Truncate(time.Millisecond)}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": rec.Email}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("auth: put passcode: %w", err)
	}
	return nil
}

// FindByCode returns the newest live record holding code.
func (s *MongoPasscodeStore) FindByCode(ctx context.Context, code string) (*PasscodeRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return s.findOne(ctx, bson.M{"code": code, "created_at": s.liveFilter()}, opts)
}

// FindByEmail returns the live record held for email.
func (s *MongoPasscodeStore) FindByEmail(ctx context.Context, email string) (*PasscodeRecord, error) {
	return s.findOne(ctx, bson.M{"_id": email, "created_at": s.liveFilter()})
}

// DeleteByEmail removes the record held for email.
func (s *MongoPasscodeStore) DeleteByEmail(ctx context.Context, email string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": email}); err != nil {
		return fmt.Errorf("auth: delete passcode by email: %w", err)
	}
	return nil
}

// DeleteByCode removes the live record held for email if it still holds code.
func (s *MongoPasscodeStore) DeleteByCode(ctx context.Context, email, code string) (bool, error) {
	filter := bson.M{"_id": email, "code": code, "created_at": s.liveFilter()}
	err := s.coll.FindOneAndDelete(ctx, filter).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("auth: delete passcode by code: %w", err)
	}
	return true, nil
}

// DeleteExpired removes every record whose TTL has elapsed at now.
func (s *MongoPasscodeStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lte": now.Add(-s.ttl)}})
	if err != nil {
		return 0, fmt.Errorf("auth: sweep passcodes: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoPasscodeStore) liveFilter() bson.M {
	return bson.M{"$gt": s.now().Add(-s.ttl)}
}

func (s *MongoPasscodeStore) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*PasscodeRecord, error) {
	var doc passcodeDocument
	if err := s.coll.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: find passcode: %w", err)
	}
	return &PasscodeRecord{Email: doc.Email, Code: doc.Code, CreatedAt: doc.CreatedAt}, nil
}

var (
	_ PasscodeStore = (*MongoPasscodeStore)(nil)
	_ Sweeper       = (*MongoPasscodeStore)(nil)
)
