package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/circles-backend/internal/models"
)

const (
	messagesCollection  = "messages"
	defaultHistoryLimit = 200
	maxHistoryLimit     = 1000
)

// MongoMessageStore keeps one document per message in the messages collection.
type MongoMessageStore struct {
	col *mongo.Collection
}

func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	return &MongoMessageStore{col: db.Collection(messagesCollection)}
}

// EnsureIndexes creates the pair-history and roster indexes. Called on startup.
func (s *MongoMessageStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "sender_id", Value: 1},
				{Key: "receiver_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_pair_created"),
		},
		{
			Keys: bson.D{
				{Key: "receiver_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_receiver_created"),
		},
	}
	_, err := s.col.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *MongoMessageStore) Create(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	if msg.Status == "" {
		msg.Status = models.MessageStatusSent
	}
	_, err := s.col.InsertOne(ctx, msg)
	return err
}

func (s *MongoMessageStore) FindByID(ctx context.Context, id string) (*models.ChatMessage, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrMessageNotFound
	}
	var msg models.ChatMessage
	if err := s.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// AdvanceStatus is a compare-and-set: the filter only matches while the stored
// status is a predecessor of the target, so a late "delivered" never overwrites "read".
func (s *MongoMessageStore) AdvanceStatus(ctx context.Context, id string, status models.ChatMessageStatus) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	preds := status.Predecessors()
	if len(preds) == 0 {
		return false, nil
	}
	filter := bson.M{
		"_id":    oid,
		"status": bson.M{"$in": preds},
	}
	res, err := s.col.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// History returns the most recent limit messages of the pair, oldest first.
func (s *MongoMessageStore) History(ctx context.Context, a, b string, limit int64) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}

	filter := bson.M{"$or": bson.A{
		bson.M{"sender_id": a, "receiver_id": b},
		bson.M{"sender_id": b, "receiver_id": a},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit)

	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	msgs := make([]models.ChatMessage, 0)
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}

	// Reverse to oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *MongoMessageStore) LastMessageTimes(ctx context.Context, userID string) (map[string]time.Time, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"sender_id": userID},
			bson.M{"receiver_id": userID},
		}}}},
		{{Key: "$project", Value: bson.M{
			"created_at": 1,
			"peer": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$sender_id", userID}},
				"$receiver_id",
				"$sender_id",
			}},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":  "$peer",
			"last": bson.M{"$max": "$created_at"},
		}}},
	}

	cur, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []struct {
		Peer string    `bson:"_id"`
		Last time.Time `bson:"last"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}

	out := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		out[r.Peer] = r.Last
	}
	return out, nil
}
