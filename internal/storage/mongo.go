// Copyright 2025 James Ross
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
	"github.com/flyingrobots/go-design-chunk-cache/internal/obs"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const adapterNameMongo = "mongo"

// MongoClientOptions tunes the underlying driver.
type MongoClientOptions struct {
	MaxPoolSize            uint64        `json:"max_pool_size" yaml:"max_pool_size" mapstructure:"max_pool_size"`
	ServerSelectionTimeout time.Duration `json:"server_selection_timeout" yaml:"server_selection_timeout" mapstructure:"server_selection_timeout"`
	ConnectTimeout         time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
	SocketTimeout          time.Duration `json:"socket_timeout" yaml:"socket_timeout" mapstructure:"socket_timeout"`
	TLSCAFile              string        `json:"tls_ca_file" yaml:"tls_ca_file" mapstructure:"tls_ca_file"`
}

// MongoIndex declares one collection index. ExpireAfter, when set, creates
// a TTL index.
type MongoIndex struct {
	Keys        map[string]int `json:"keys" yaml:"keys" mapstructure:"keys"`
	ExpireAfter *time.Duration `json:"expire_after" yaml:"expire_after" mapstructure:"expire_after"`
}

// MongoConfig configures the document-store adapter.
type MongoConfig struct {
	URI             string             `json:"uri" yaml:"uri" mapstructure:"uri"`
	Database        string             `json:"database" yaml:"database" mapstructure:"database"`
	Collection      string             `json:"collection" yaml:"collection" mapstructure:"collection"`
	Options         MongoClientOptions `json:"options" yaml:"options" mapstructure:"options"`
	Indexes         []MongoIndex       `json:"indexes" yaml:"indexes" mapstructure:"indexes"`
	DefaultTTL      time.Duration      `json:"default_ttl" yaml:"default_ttl" mapstructure:"default_ttl"`
	Retry           RetryStrategy      `json:"retry_strategy" yaml:"retry_strategy" mapstructure:"retry_strategy"`
	CleanupOnStart  bool               `json:"cleanup_on_start" yaml:"cleanup_on_start" mapstructure:"cleanup_on_start"`
	CleanupInterval time.Duration      `json:"cleanup_interval" yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

func (c *MongoConfig) withDefaults() {
	if c.Database == "" {
		c.Database = "chunkcache"
	}
	if c.Collection == "" {
		c.Collection = "chunks"
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 24 * time.Hour
	}
	if c.Retry.MaxRetryCount <= 0 {
		c.Retry.MaxRetryCount = 3
	}
	if c.Retry.RetryInterval <= 0 {
		c.Retry.RetryInterval = 500 * time.Millisecond
	}
}

// chunkDocument is the persisted document schema; _id equals the chunk id
// verbatim and timestamps are native BSON dates, preserving millisecond
// fidelity.
type chunkDocument struct {
	ID           string     `bson:"_id"`
	FileKey      string     `bson:"fileKey"`
	Type         chunk.Type `bson:"type"`
	Created      time.Time  `bson:"created"`
	Expires      *time.Time `bson:"expires,omitempty"`
	LastAccessed time.Time  `bson:"lastAccessed"`
	Data         any        `bson:"data"`
	Links        []string   `bson:"links"`
	Size         int        `bson:"size"`
	Metadata     bson.M     `bson:"metadata,omitempty"`
}

// MongoAdapter persists chunks in a document collection, relying on the
// backend's per-document atomicity for upserts and deletes. BulkSave is not
// transactional across documents.
type MongoAdapter struct {
	cfg MongoConfig
	log *zap.Logger

	connectMu  sync.Mutex
	client     *mongo.Client
	collection *mongo.Collection
	cron       *cron.Cron
}

// NewMongoAdapter prepares the adapter; the connection itself is lazy.
func NewMongoAdapter(cfg MongoConfig, log *zap.Logger) (*MongoAdapter, error) {
	cfg.withDefaults()
	if cfg.URI == "" {
		return nil, fmt.Errorf("%w: mongo adapter requires uri", chunk.ErrInvalidInput)
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &MongoAdapter{cfg: cfg, log: log}

	if cfg.CleanupOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if _, err := a.Cleanup(ctx); err != nil {
			log.Warn("startup cleanup failed", zap.Error(err))
		}
		cancel()
	}
	if cfg.CleanupInterval > 0 {
		a.cron = cron.New()
		a.cron.AddFunc(fmt.Sprintf("@every %s", cfg.CleanupInterval), func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := a.Cleanup(ctx); err != nil {
				a.log.Warn("periodic cleanup failed", zap.Error(err))
			}
		})
		a.cron.Start()
	}
	return a, nil
}

func (a *MongoAdapter) Name() string { return adapterNameMongo }

func (a *MongoAdapter) ensureConnected(ctx context.Context) (*mongo.Collection, error) {
	a.connectMu.Lock()
	defer a.connectMu.Unlock()
	if a.collection != nil {
		return a.collection, nil
	}

	opts := options.Client().ApplyURI(a.cfg.URI)
	if a.cfg.Options.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(a.cfg.Options.MaxPoolSize)
	}
	if a.cfg.Options.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(a.cfg.Options.ServerSelectionTimeout)
	}
	if a.cfg.Options.ConnectTimeout > 0 {
		opts.SetConnectTimeout(a.cfg.Options.ConnectTimeout)
	}
	if a.cfg.Options.SocketTimeout > 0 {
		opts.SetSocketTimeout(a.cfg.Options.SocketTimeout)
	}

	var client *mongo.Client
	var lastErr error
	for attempt := 0; attempt <= a.cfg.Retry.MaxRetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.cfg.Retry.RetryInterval):
			}
		}
		client, lastErr = mongo.Connect(ctx, opts)
		if lastErr != nil {
			continue
		}
		if lastErr = client.Ping(ctx, nil); lastErr == nil {
			break
		}
		client.Disconnect(ctx)
		client = nil
	}
	if client == nil {
		return nil, NewAdapterError(adapterNameMongo, "connect", "", fmt.Errorf("%w: %v", ErrNotConnected, lastErr))
	}

	a.client = client
	a.collection = client.Database(a.cfg.Database).Collection(a.cfg.Collection)
	if err := a.ensureIndexes(ctx); err != nil {
		a.log.Warn("failed to ensure indexes", zap.Error(err))
	}
	return a.collection, nil
}

func (a *MongoAdapter) ensureIndexes(ctx context.Context) error {
	specs := a.cfg.Indexes
	if len(specs) == 0 {
		ttl := a.cfg.DefaultTTL
		specs = []MongoIndex{
			{Keys: map[string]int{"fileKey": 1}},
			{Keys: map[string]int{"type": 1}},
			{Keys: map[string]int{"lastAccessed": 1}, ExpireAfter: &ttl},
		}
	}
	models := make([]mongo.IndexModel, 0, len(specs))
	for _, spec := range specs {
		keys := bson.D{}
		for field, dir := range spec.Keys {
			keys = append(keys, bson.E{Key: field, Value: dir})
		}
		model := mongo.IndexModel{Keys: keys}
		if spec.ExpireAfter != nil {
			model.Options = options.Index().SetExpireAfterSeconds(int32(spec.ExpireAfter.Seconds()))
		}
		models = append(models, model)
	}
	_, err := a.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (a *MongoAdapter) toDocument(c *chunk.Chunk) chunkDocument {
	doc := chunkDocument{
		ID:           c.ID,
		FileKey:      c.FileKey,
		Type:         c.Type,
		Created:      c.Created,
		Expires:      c.Expires,
		LastAccessed: c.LastAccessed,
		Data:         c.Data,
		Links:        c.Links,
		Size:         chunk.Estimate(c.Data),
	}
	if doc.Expires == nil && a.cfg.DefaultTTL > 0 {
		expires := c.Created.Add(a.cfg.DefaultTTL)
		doc.Expires = &expires
	}
	return doc
}

func fromDocument(doc chunkDocument) *chunk.Chunk {
	c := &chunk.Chunk{
		ID:           doc.ID,
		FileKey:      doc.FileKey,
		Type:         doc.Type,
		Created:      doc.Created.UTC(),
		LastAccessed: doc.LastAccessed.UTC(),
		Data:         doc.Data,
		Links:        doc.Links,
	}
	if doc.Expires != nil {
		expires := doc.Expires.UTC()
		c.Expires = &expires
	}
	if c.Links == nil {
		c.Links = []string{}
	}
	return c
}

func (a *MongoAdapter) Save(ctx context.Context, c *chunk.Chunk) error {
	err := a.save(ctx, c)
	obs.RecordStorageOp(adapterNameMongo, "save", err)
	return err
}

func (a *MongoAdapter) save(ctx context.Context, c *chunk.Chunk) error {
	coll, err := a.ensureConnected(ctx)
	if err != nil {
		return err
	}
	doc := a.toDocument(c)
	_, err = coll.ReplaceOne(ctx, bson.M{"_id": c.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return NewAdapterError(adapterNameMongo, "save", c.ID, fmt.Errorf("%w: %v", ErrTransient, err))
	}
	return nil
}

// BulkSave issues one batched upsert operation; empty input is a no-op.
func (a *MongoAdapter) BulkSave(ctx context.Context, chunks []*chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	coll, err := a.ensureConnected(ctx)
	if err != nil {
		return err
	}
	models := make([]mongo.WriteModel, 0, len(chunks))
	for _, c := range chunks {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": c.ID}).
			SetReplacement(a.toDocument(c)).
			SetUpsert(true))
	}
	_, err = coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	obs.RecordStorageOp(adapterNameMongo, "bulk_save", err)
	if err != nil {
		return NewAdapterError(adapterNameMongo, "bulk_save", "", fmt.Errorf("%w: %v", ErrTransient, err))
	}
	return nil
}

func (a *MongoAdapter) Get(ctx context.Context, id string) (*chunk.Chunk, error) {
	c, err := a.get(ctx, id)
	obs.RecordStorageOp(adapterNameMongo, "get", err)
	return c, err
}

func (a *MongoAdapter) get(ctx context.Context, id string) (*chunk.Chunk, error) {
	coll, err := a.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	var doc chunkDocument
	err = coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, NewAdapterError(adapterNameMongo, "get", id, fmt.Errorf("%w: %v", ErrTransient, err))
	}

	c := fromDocument(doc)
	if c.Expired(time.Now()) {
		if _, err := coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
			a.log.Warn("failed to evict expired chunk", zap.String("chunk_id", id), zap.Error(err))
		}
		obs.ChunksEvicted.WithLabelValues(adapterNameMongo).Inc()
		return nil, nil
	}

	c.LastAccessed = chunk.Now()
	if _, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"lastAccessed": c.LastAccessed}}); err != nil {
		a.log.Warn("failed to update lastAccessed", zap.String("chunk_id", id), zap.Error(err))
	}
	return c, nil
}

func (a *MongoAdapter) Has(ctx context.Context, id string) (bool, error) {
	coll, err := a.ensureConnected(ctx)
	if err != nil {
		return false, err
	}
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, NewAdapterError(adapterNameMongo, "has", id, fmt.Errorf("%w: %v", ErrTransient, err))
	}
	return n > 0, nil
}

func (a *MongoAdapter) Delete(ctx context.Context, id string) (bool, error) {
	coll, err := a.ensureConnected(ctx)
	if err != nil {
		return false, err
	}
	res, err := coll.DeleteOne(ctx, bson.M{"_id": id})
	obs.RecordStorageOp(adapterNameMongo, "delete", err)
	if err != nil {
		return false, NewAdapterError(adapterNameMongo, "delete", id, fmt.Errorf("%w: %v", ErrTransient, err))
	}
	return res.DeletedCount > 0, nil
}

var mongoSortFields = map[chunk.SortField]string{
	chunk.SortByID:      "_id",
	chunk.SortByFileKey: "fileKey",
	chunk.SortByType:    "type",
	chunk.SortByCreated: "created",
	chunk.SortBySize:    "size",
}

// List pushes the filter, sort and limit down to the backend query.
func (a *MongoAdapter) List(ctx context.Context, f chunk.Filter) ([]chunk.Summary, error) {
	coll, err := a.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	f = f.WithDefaults()

	query := bson.M{}
	if f.FileKey != "" {
		query["fileKey"] = f.FileKey
	}
	if f.Type != "" {
		query["type"] = f.Type
	}
	created := bson.M{}
	if f.OlderThan != nil {
		created["$lt"] = *f.OlderThan
	}
	if f.NewerThan != nil {
		created["$gt"] = *f.NewerThan
	}
	if len(created) > 0 {
		query["created"] = created
	}
	if !f.IncludeExpired {
		query["$or"] = bson.A{
			bson.M{"expires": bson.M{"$exists": false}},
			bson.M{"expires": bson.M{"$gt": time.Now()}},
		}
	}

	direction := -1
	if f.SortDirection == chunk.SortAsc {
		direction = 1
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: mongoSortFields[f.SortBy], Value: direction}}).
		SetLimit(int64(f.Limit)).
		SetProjection(bson.M{"_id": 1, "fileKey": 1, "type": 1, "created": 1, "size": 1})

	cursor, err := coll.Find(ctx, query, findOpts)
	if err != nil {
		return nil, NewAdapterError(adapterNameMongo, "list", "", fmt.Errorf("%w: %v", ErrTransient, err))
	}
	defer cursor.Close(ctx)

	var summaries []chunk.Summary
	for cursor.Next(ctx) {
		var doc chunkDocument
		if err := cursor.Decode(&doc); err != nil {
			a.log.Warn("corrupt document in listing", zap.Error(err))
			continue
		}
		summaries = append(summaries, chunk.Summary{
			ID:      doc.ID,
			FileKey: doc.FileKey,
			Type:    doc.Type,
			Created: doc.Created.UTC(),
			Size:    doc.Size,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, NewAdapterError(adapterNameMongo, "list", "", fmt.Errorf("%w: %v", ErrTransient, err))
	}
	if summaries == nil {
		summaries = []chunk.Summary{}
	}
	return summaries, nil
}

func (a *MongoAdapter) Cleanup(ctx context.Context) (int, error) {
	obs.CleanupSweeps.WithLabelValues(adapterNameMongo).Inc()
	coll, err := a.ensureConnected(ctx)
	if err != nil {
		return 0, err
	}
	res, err := coll.DeleteMany(ctx, bson.M{"expires": bson.M{"$lt": time.Now()}})
	if err != nil {
		return 0, NewAdapterError(adapterNameMongo, "cleanup", "", fmt.Errorf("%w: %v", ErrTransient, err))
	}
	obs.ChunksEvicted.WithLabelValues(adapterNameMongo).Add(float64(res.DeletedCount))
	return int(res.DeletedCount), nil
}

// Aggregate forwards an opaque pipeline to the backend unchanged.
func (a *MongoAdapter) Aggregate(ctx context.Context, pipeline any) ([]map[string]any, error) {
	coll, err := a.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, NewAdapterError(adapterNameMongo, "aggregate", "", fmt.Errorf("%w: %v", ErrTransient, err))
	}
	defer cursor.Close(ctx)

	var results []map[string]any
	if err := cursor.All(ctx, &results); err != nil {
		return nil, NewAdapterError(adapterNameMongo, "aggregate", "", fmt.Errorf("%w: %v", ErrTransient, err))
	}
	return results, nil
}

func (a *MongoAdapter) Close() error {
	if a.cron != nil {
		a.cron.Stop()
	}
	a.connectMu.Lock()
	defer a.connectMu.Unlock()
	if a.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := a.client.Disconnect(ctx)
		a.client = nil
		a.collection = nil
		return err
	}
	return nil
}
