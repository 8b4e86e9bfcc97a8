// Package mongo implements the low-level MongoDB client used by the memory
// store.
package mongo

//go:generate cmg gen .

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"
)

const (
	defaultCollection = "workflow_memory"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "memory-mongo"
)

// Record is a stored memory entry with its embedding vector.
type Record struct {
	Key       string
	Content   string
	Metadata  map[string]any
	Embedding []float32
	CreatedAt time.Time
}

// Client exposes Mongo-backed operations for embedded memory entries.
type Client interface {
	health.Pinger

	UpsertEntry(ctx context.Context, workflowID string, rec Record) error
	ListEntries(ctx context.Context, workflowID string) ([]Record, error)
}

// Options configures the Mongo client implementation.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
}

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	mcoll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	wrapper := mongoCollection{coll: mcoll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) UpsertEntry(ctx context.Context, workflowID string, rec Record) error {
	if workflowID == "" {
		return errors.New("workflow id is required")
	}
	if rec.Key == "" {
		return errors.New("entry key is required")
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	doc := entryDocument{
		WorkflowID: workflowID,
		Key:        rec.Key,
		Content:    rec.Content,
		Metadata:   cloneMetadata(rec.Metadata),
		Embedding:  append([]float32(nil), rec.Embedding...),
		CreatedAt:  created.UTC(),
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"workflow_id": workflowID, "key": rec.Key}
	update := bson.M{"$set": doc}
	_, err := c.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (c *client) ListEntries(ctx context.Context, workflowID string) ([]Record, error) {
	if workflowID == "" {
		return nil, errors.New("workflow id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "key", Value: 1},
	})
	cur, err := c.coll.Find(ctx, bson.M{"workflow_id": workflowID}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []Record
	for cur.Next(ctx) {
		var doc entryDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRecord())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type entryDocument struct {
	WorkflowID string         `bson:"workflow_id"`
	Key        string         `bson:"key"`
	Content    string         `bson:"content,omitempty"`
	Metadata   map[string]any `bson:"metadata,omitempty"`
	Embedding  []float32      `bson:"embedding,omitempty"`
	CreatedAt  time.Time      `bson:"created_at"`
}

func (doc entryDocument) toRecord() Record {
	return Record{
		Key:       doc.Key,
		Content:   doc.Content,
		Metadata:  cloneMetadata(doc.Metadata),
		Embedding: append([]float32(nil), doc.Embedding...),
		CreatedAt: doc.CreatedAt,
	}
}

func cloneMetadata(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "workflow_id", Value: 1}, {Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type collection interface {
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cursor: cur}, nil
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoCursor struct {
	cursor *mongodriver.Cursor
}

func (c mongoCursor) Next(ctx context.Context) bool { return c.cursor.Next(ctx) }
func (c mongoCursor) Decode(val any) error          { return c.cursor.Decode(val) }
func (c mongoCursor) Err() error                    { return c.cursor.Err() }
func (c mongoCursor) Close(ctx context.Context) error {
	return c.cursor.Close(ctx)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
