package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/bgwork/pkg/broker"
)

// MongoStore keeps one document per checkpoint key.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

var _ broker.CheckpointStore = (*MongoStore)(nil)

type checkpointDoc struct {
	Key       string    `bson:"_id"`
	Position  string    `bson:"position"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoStore creates a Mongo-backed store. dbName defaults to "bgwork",
// collName to "checkpoints".
func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	if dbName == "" {
		dbName = "bgwork"
	}
	if collName == "" {
		collName = "checkpoints"
	}
	return &MongoStore{
		coll: client.Database(dbName).Collection(collName),
		now:  time.Now,
	}
}

func (s *MongoStore) Load(ctx context.Context, key string) (string, bool, error) {
	var doc checkpointDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("checkpoint: load %s: %w", key, err)
	}
	return doc.Position, true, nil
}

func (s *MongoStore) Save(ctx context.Context, key, position string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"position": position, "updated_at": s.now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", key, err)
	}
	return nil
}
