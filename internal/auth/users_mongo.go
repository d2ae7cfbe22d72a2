package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultUsersCollection is the collection holding user documents.
const DefaultUsersCollection = "users"

type userDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	Name      string             `bson:"name"`
	Email     string             `bson:"email"`
	Password  string             `bson:"password"`
	CreatedAt time.Time          `bson:"created_at"`
}

func (d userDocument) toUser() *User {
	return &User{
		ID:           d.ID.Hex(),
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.Password,
		CreatedAt:    d.CreatedAt,
	}
}

// MongoUserStore implements CredentialStore on a MongoDB collection.
type MongoUserStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoUserStore constructs the store on db's users collection.
func NewMongoUserStore(db *mongo.Database, now func() time.Time) *MongoUserStore {
	if now == nil {
		now = time.Now
	}
	return &MongoUserStore{coll: db.Collection(DefaultUsersCollection), now: now}
}

// EnsureIndexes creates the unique email index.
func (s *MongoUserStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("auth: users indexes: %w", err)
	}
	return nil
}

// Create inserts a new user.
func (s *MongoUserStore) Create(ctx context.Context, name, email, passwordHash string) (*User, error) {
	doc := userDocument{
		ID:        primitive.NewObjectID(),
		Name:      name,
		Email:     email,
		Password:  passwordHash,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("auth: insert user: %w", err)
	}
	return doc.toUser(), nil
}

// FindByEmail fetches a user by exact email.
func (s *MongoUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

// FindByID fetches a user by its hex identifier.
func (s *MongoUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *MongoUserStore) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var doc userDocument
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: find user: %w", err)
	}
	return doc.toUser(), nil
}

var _ CredentialStore = (*MongoUserStore)(nil)
