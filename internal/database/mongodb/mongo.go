package mongodb

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/dataset"
)

const collectionName = "atendimentos"

// collectionAPI is the part of *mongo.Collection the adapter uses, so tests
// can replace it.
type collectionAPI interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	Drop(ctx context.Context) error
	CreateIndexes(ctx context.Context, models []mongo.IndexModel) ([]string, error)
}

type mongoCollection struct {
	*mongo.Collection
}

func (c *mongoCollection) CreateIndexes(ctx context.Context, models []mongo.IndexModel) ([]string, error) {
	return c.Collection.Indexes().CreateMany(ctx, models)
}

var indexes = []mongo.IndexModel{
	{Keys: bson.D{{Key: "codigo", Value: 1}}, Options: options.Index().SetName("idx_codigo")},
	{Keys: bson.D{{Key: "cliente", Value: 1}}, Options: options.Index().SetName("idx_cliente")},
	{Keys: bson.D{{Key: "cliente", Value: "text"}}, Options: options.Index().SetName("idx_cliente_text")},
}

type Driver struct {
	params database.Params
	logger *zap.SugaredLogger
}

func New(params database.Params, logger *zap.SugaredLogger) *Driver {
	return &Driver{params: params, logger: logger.With("backend", database.MongoDB)}
}

func (d *Driver) Backend() database.Backend { return database.MongoDB }

func (d *Driver) Connect(ctx context.Context) (database.Handle, error) {
	opts := options.Client().ApplyURI(uri(d.params))
	if d.params.PoolSize > 0 {
		opts.SetMaxPoolSize(uint64(d.params.PoolSize))
	}
	if d.params.ConnectTimeout > 0 {
		opts.SetConnectTimeout(d.params.ConnectTimeout)
		opts.SetServerSelectionTimeout(d.params.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, &database.ConnectionError{Backend: database.MongoDB, Err: err}
	}
	pingCtx, cancel := database.WithTimeout(ctx, d.params.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &database.ConnectionError{Backend: database.MongoDB, Err: err}
	}
	d.logger.Infof("Connected to %s", d.params.Host)

	coll := client.Database(d.params.Database).Collection(collectionName)
	return &handle{
		client:     client,
		collection: &mongoCollection{coll},
		params:     d.params,
		logger:     d.logger,
	}, nil
}

func uri(p database.Params) string {
	if p.URI != "" {
		return p.URI
	}
	u := url.URL{
		Scheme:   "mongodb",
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/",
		RawQuery: "authSource=admin",
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	} else {
		u.RawQuery = ""
	}
	return u.String()
}

type handle struct {
	client     *mongo.Client
	collection collectionAPI
	params     database.Params
	logger     *zap.SugaredLogger
}

func (h *handle) Provision(ctx context.Context) error {
	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	if _, err := h.collection.CreateIndexes(ctx, indexes); err != nil {
		return &database.ProvisionError{Backend: database.MongoDB, Step: "indexes", Err: err}
	}
	h.logger.Debug("Indexes created")
	return nil
}

func (h *handle) InsertBatch(ctx context.Context, records []dataset.Record) (time.Duration, error) {
	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = r
	}

	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	start := time.Now()
	_, err := h.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, &database.WriteError{Backend: database.MongoDB, Records: len(records), Err: err}
	}
	return elapsed, nil
}

func (h *handle) QueryByCodes(ctx context.Context, codes []string) ([]dataset.Record, time.Duration, error) {
	start := time.Now()
	codes = database.UniqueCodes(codes)
	if len(codes) == 0 {
		return []dataset.Record{}, time.Since(start), nil
	}

	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	start = time.Now()
	records, err := h.find(ctx, bson.M{"codigo": bson.M{"$in": codes}})
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, &database.QueryError{Backend: database.MongoDB, Op: "query-by-code", Err: err}
	}
	return records, elapsed, nil
}

func (h *handle) QueryBySubstring(ctx context.Context, field, pattern string) ([]dataset.Record, time.Duration, error) {
	if !dataset.IsTextField(field) {
		err := fmt.Errorf("field %q is not searchable", field)
		return nil, 0, &database.QueryError{Backend: database.MongoDB, Op: "query-by-substring", Err: err}
	}

	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	filter := bson.M{field: primitive.Regex{Pattern: regexp.QuoteMeta(pattern), Options: "i"}}
	var opts []*options.FindOptions
	if h.params.SubstringLimit > 0 {
		opts = append(opts, options.Find().SetLimit(int64(h.params.SubstringLimit)))
	}

	start := time.Now()
	records, err := h.find(ctx, filter, opts...)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, &database.QueryError{Backend: database.MongoDB, Op: "query-by-substring", Err: err}
	}
	return records, elapsed, nil
}

func (h *handle) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]dataset.Record, error) {
	cursor, err := h.collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	records := []dataset.Record{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (h *handle) Count(ctx context.Context) (int64, error) {
	ctx, cancel := database.WithTimeout(ctx, h.params.OperationTimeout)
	defer cancel()

	n, err := h.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, &database.QueryError{Backend: database.MongoDB, Op: "count", Err: err}
	}
	return n, nil
}

// Teardown drops the collection; dropping a missing collection is a no-op.
func (h *handle) Teardown(ctx context.Context) error {
	if err := h.collection.Drop(ctx); err != nil {
		return fmt.Errorf("drop %s: %w", collectionName, err)
	}
	return nil
}

func (h *handle) Close(ctx context.Context) error {
	if h.client == nil {
		return nil
	}
	return h.client.Disconnect(ctx)
}
