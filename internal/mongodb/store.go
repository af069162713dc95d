package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Document is one persisted crawl record keyed by schema field name.
type Document = bson.M

// Store is a handle on the target collection.
type Store interface {
	// InsertOne persists a single encoded document.
	InsertOne(ctx context.Context, doc bson.Raw) error
	// Close releases the underlying client.
	Close(ctx context.Context) error
}

// Connector opens a Store for a parameter bundle.
type Connector interface {
	Connect(ctx context.Context, params *Parameters) (Store, error)
}

// MongoConnector connects through the official MongoDB driver.
type MongoConnector struct {
	// ConnectTimeout bounds connection setup and the authenticating ping.
	ConnectTimeout time.Duration
}

const defaultConnectTimeout = 10 * time.Second

// Connect dials host:port, authenticates against the target database when a
// user is configured, and opens the collection.
func (c MongoConnector) Connect(ctx context.Context, params *Parameters) (Store, error) {
	uri, err := params.URI()
	if err != nil {
		return nil, err
	}
	database, err := params.Database()
	if err != nil {
		return nil, err
	}
	collection, err := params.Collection()
	if err != nil {
		return nil, err
	}

	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := options.Client().ApplyURI(uri).SetConnectTimeout(timeout)
	if user := params.User(); user != "" {
		opts.SetAuth(options.Credential{
			Username:   user,
			Password:   params.Password(),
			AuthSource: database,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrStoreUnavailable, uri, err)
	}
	// The driver connects lazily; ping forces the handshake and authentication.
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		if derr := client.Disconnect(context.Background()); derr != nil {
			return nil, fmt.Errorf("%w: ping %s: %v (disconnect: %v)", ErrStoreUnavailable, uri, err, derr)
		}
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, uri, err)
	}

	return &mongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

type mongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func (s *mongoStore) InsertOne(ctx context.Context, doc bson.Raw) error {
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert into %s: %w", s.collection.Name(), err)
	}
	return nil
}

func (s *mongoStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// encodeDocument marshals doc once; its length is what the write advances
// the position by.
func encodeDocument(doc Document) (bson.Raw, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return raw, nil
}
