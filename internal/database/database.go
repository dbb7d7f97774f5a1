package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/circles-backend/pkg/log"
)

// Mongo bundles the client and the database the message store writes to.
type Mongo struct {
	Client *mongo.Client
	DB     *mongo.Database
}

// ConnectMongo dials MongoDB and pings it before returning.
func ConnectMongo(ctx context.Context, mongoURI, dbName string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(mongoURI)
	clientOptions.SetServerSelectionTimeout(10 * time.Second)

	log.L().Info().Msg("connecting to MongoDB")
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	log.L().Info().Str("database", dbName).Msg("connected to MongoDB")
	return &Mongo{Client: client, DB: client.Database(dbName)}, nil
}

func (m *Mongo) Disconnect(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.Client.Disconnect(ctx)
}
