// Package mongodb holds the MongoDB connection shared by the stock ledger
// stores, the outbox and the idempotency repositories.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Config holds MongoDB connection configuration. Credentials and the replica
// set name travel in the URI; the ledger needs a replica set for transactions.
type Config struct {
	URI                    string
	Database               string
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	MaxPoolSize            uint64
	MinPoolSize            uint64
}

// DefaultConfig returns a Config for a local single-node replica set
func DefaultConfig() *Config {
	return &Config{
		URI:                    "mongodb://localhost:27017",
		Database:               "stockledger",
		ConnectTimeout:         10 * time.Second,
		ServerSelectionTimeout: 5 * time.Second,
		MaxPoolSize:            100,
		MinPoolSize:            5,
	}
}

// Client wraps the MongoDB client and the ledger database
type Client struct {
	client   *mongo.Client
	database *mongo.Database
}

// NewClient connects and pings the primary
func NewClient(ctx context.Context, config *Config) (*Client, error) {
	opts := options.Client().
		ApplyURI(config.URI).
		SetConnectTimeout(config.ConnectTimeout).
		SetServerSelectionTimeout(config.ServerSelectionTimeout).
		SetMaxPoolSize(config.MaxPoolSize).
		SetMinPoolSize(config.MinPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.ServerSelectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{client: client, database: client.Database(config.Database)}, nil
}

// Database returns the database handle
func (c *Client) Database() *mongo.Database {
	return c.database
}

// Collection returns a collection handle
func (c *Client) Collection(name string) *mongo.Collection {
	return c.database.Collection(name)
}

// DatabaseName returns the configured database name
func (c *Client) DatabaseName() string {
	return c.database.Name()
}

// Close disconnects the client
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// HealthCheck pings the primary
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// WithTransaction runs fn in a snapshot transaction with majority writes.
// fn may run more than once when the driver retries a transient transaction error.
func (c *Client) WithTransaction(ctx context.Context, fn func(sessCtx mongo.SessionContext) error) error {
	session, err := c.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	}, txnOpts)
	return err
}
