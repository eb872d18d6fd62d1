// Package mongo owns the MongoDB client lifecycle and the transaction boundary used by the
// Mongo store backend.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/garage-pos/settlement/internal/platform/config"
)

const defaultConnectTimeout = 10 * time.Second

// Client bundles the driver client with the configured database.
type Client struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
}

// Connect dials MongoDB and verifies the primary answers before returning.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Client, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("mongo: uri is required")
	}
	database := strings.TrimSpace(cfg.Database)
	if database == "" {
		return nil, errors.New("mongo: database is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout).
		SetWriteConcern(writeconcern.Majority())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	return &Client{
		client:       client,
		db:           client.Database(database),
		transactions: cfg.Transactions,
	}, nil
}

// Collection returns a handle on the named collection.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Database exposes the configured database.
func (c *Client) Database() *mongo.Database {
	return c.db
}

// TransactionsEnabled reports whether multi-document transactions were requested.
func (c *Client) TransactionsEnabled() bool {
	return c.transactions
}

// Ping checks connectivity against the primary.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		return WrapError("ping", err)
	}
	return nil
}

// Close disconnects the client.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Disconnect(ctx)
}

// RunTransaction executes fn inside a session transaction. Operations issued with the context
// handed to fn join the transaction. Errors returned by fn are handed back unchanged.
func (c *Client) RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := c.client.StartSession()
	if err != nil {
		return WrapError("transaction.start", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	var fnErr error
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		fnErr = fn(sc)
		return nil, fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return WrapError("transaction.commit", err)
}
