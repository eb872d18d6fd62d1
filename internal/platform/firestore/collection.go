package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a raw Firestore document with its metadata timestamps.
type Document struct {
	ID         string
	Data       map[string]any
	CreateTime time.Time
	UpdateTime time.Time
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection provides map-document helpers over one Firestore collection. Reads and writes
// join the transaction carried on the context when present.
type Collection struct {
	provider *Provider
	name     string
}

// NewCollection binds a helper to the named collection.
func NewCollection(provider *Provider, name string) *Collection {
	return &Collection{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Get fetches the document by ID.
func (c *Collection) Get(ctx context.Context, id string) (Document, error) {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return Document{}, err
	}
	var snap *firestore.DocumentSnapshot
	if tx, ok := TransactionFrom(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return Document{}, WrapError(c.op("get"), err)
	}
	return toDocument(snap), nil
}

// Take reads the document and deletes it in the same transaction, returning the removed
// data. When no transaction is carried on ctx a short one is opened.
func (c *Collection) Take(ctx context.Context, id string) (Document, error) {
	if _, ok := TransactionFrom(ctx); ok {
		return c.take(ctx, id)
	}
	var taken Document
	err := c.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		doc, err := c.take(ctx, id)
		if err != nil {
			return err
		}
		taken = doc
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return taken, nil
}

func (c *Collection) take(ctx context.Context, id string) (Document, error) {
	doc, err := c.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	tx, _ := TransactionFrom(ctx)
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if err := tx.Delete(ref, firestore.Exists); err != nil {
		return Document{}, WrapError(c.op("take"), err)
	}
	return doc, nil
}

// Create writes a new document and fails with a conflict when the ID is taken.
func (c *Collection) Create(ctx context.Context, id string, data map[string]any) error {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TransactionFrom(ctx); ok {
		err = tx.Create(ref, data)
	} else {
		_, err = ref.Create(ctx, data)
	}
	return WrapError(c.op("create"), err)
}

// Set upserts the document.
func (c *Collection) Set(ctx context.Context, id string, data map[string]any) error {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TransactionFrom(ctx); ok {
		err = tx.Set(ref, data)
	} else {
		_, err = ref.Set(ctx, data)
	}
	return WrapError(c.op("set"), err)
}

// Delete removes an existing document; a missing one is reported as not found.
func (c *Collection) Delete(ctx context.Context, id string) error {
	ref, err := c.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TransactionFrom(ctx); ok {
		err = tx.Delete(ref, firestore.Exists)
	} else {
		_, err = ref.Delete(ctx, firestore.Exists)
	}
	return WrapError(c.op("delete"), err)
}

// Query executes a collection query outside any transaction.
func (c *Collection) Query(ctx context.Context, build QueryBuilder) ([]Document, error) {
	coll, err := c.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		docs = append(docs, toDocument(snap))
	}
	return docs, nil
}

// DocumentRef exposes the underlying document reference.
func (c *Collection) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (c *Collection) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return fmt.Sprintf("%s.%s", name, action)
}

func toDocument(snap *firestore.DocumentSnapshot) Document {
	data := snap.Data()
	if data == nil {
		data = map[string]any{}
	}
	return Document{
		ID:         snap.Ref.ID,
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}
}
