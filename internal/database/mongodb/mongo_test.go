package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"multidb-benchmark/internal/database"
	"multidb-benchmark/internal/dataset"
)

type MockCollection struct {
	mock.Mock
}

func (m *MockCollection) InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	args := m.Called(ctx, documents, opts)
	return args.Get(0).(*mongo.InsertManyResult), args.Error(1)
}

func (m *MockCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	args := m.Called(ctx, filter, opts)
	cursor, _ := args.Get(0).(*mongo.Cursor)
	return cursor, args.Error(1)
}

func (m *MockCollection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCollection) Drop(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCollection) CreateIndexes(ctx context.Context, models []mongo.IndexModel) ([]string, error) {
	args := m.Called(ctx, models)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

func newHandle(coll collectionAPI) *handle {
	return &handle{
		collection: coll,
		params:     database.Params{SubstringLimit: 100, OperationTimeout: time.Second},
		logger:     zap.NewNop().Sugar(),
	}
}

func cursorOf(t *testing.T, records ...dataset.Record) *mongo.Cursor {
	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = r
	}
	cursor, err := mongo.NewCursorFromDocuments(docs, nil, nil)
	require.NoError(t, err)
	return cursor
}

func TestInsertBatchIsOneUnorderedInsertMany(t *testing.T) {
	coll := new(MockCollection)
	records := dataset.Generate(25, 1)
	coll.On("InsertMany", mock.Anything, mock.MatchedBy(func(docs []interface{}) bool {
		return len(docs) == 25
	}), mock.MatchedBy(func(opts []*options.InsertManyOptions) bool {
		return len(opts) == 1 && opts[0].Ordered != nil && !*opts[0].Ordered
	})).Return(&mongo.InsertManyResult{}, nil)

	elapsed, err := newHandle(coll).InsertBatch(context.Background(), records)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	coll.AssertNumberOfCalls(t, "InsertMany", 1)
}

func TestInsertBatchFailureIsWriteError(t *testing.T) {
	coll := new(MockCollection)
	coll.On("InsertMany", mock.Anything, mock.Anything, mock.Anything).Return((*mongo.InsertManyResult)(nil), errors.New("timeout"))

	_, err := newHandle(coll).InsertBatch(context.Background(), dataset.Generate(2, 1))
	var wErr *database.WriteError
	require.True(t, errors.As(err, &wErr))
	assert.Equal(t, 2, wErr.Records)
}

func TestQueryByCodesEmptySkipsFind(t *testing.T) {
	coll := new(MockCollection)
	records, elapsed, err := newHandle(coll).QueryByCodes(context.Background(), []string{})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	coll.AssertNotCalled(t, "Find", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryByCodesKnownAndUnknown(t *testing.T) {
	data := dataset.Generate(3, 5)
	coll := new(MockCollection)
	coll.On("Find", mock.Anything, mock.MatchedBy(func(filter bson.M) bool {
		in := filter["codigo"].(bson.M)["$in"].([]string)
		return len(in) == 5
	}), mock.Anything).Return(cursorOf(t, data...), nil)

	codes := append(dataset.Codes(data), "missing-1", "missing-2", data[0].Codigo)
	got, _, err := newHandle(coll).QueryByCodes(context.Background(), codes)
	require.NoError(t, err)
	assert.ElementsMatch(t, data, got)
}

func TestQueryBySubstringQuotesPatternAndLimits(t *testing.T) {
	data := dataset.Generate(1, 2)
	coll := new(MockCollection)
	coll.On("Find", mock.Anything, bson.M{"cliente": primitive.Regex{Pattern: `s\.a\.`, Options: "i"}}, mock.MatchedBy(func(opts []*options.FindOptions) bool {
		return len(opts) == 1 && opts[0].Limit != nil && *opts[0].Limit == 100
	})).Return(cursorOf(t, data...), nil)

	got, _, err := newHandle(coll).QueryBySubstring(context.Background(), "cliente", "s.a.")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestQueryBySubstringRejectsUnknownField(t *testing.T) {
	coll := new(MockCollection)
	_, _, err := newHandle(coll).QueryBySubstring(context.Background(), "$where", "x")
	var qErr *database.QueryError
	require.True(t, errors.As(err, &qErr))
	coll.AssertNotCalled(t, "Find", mock.Anything, mock.Anything, mock.Anything)
}

func TestProvisionFailureIsProvisionError(t *testing.T) {
	coll := new(MockCollection)
	coll.On("CreateIndexes", mock.Anything, mock.Anything).Return(nil, errors.New("unauthorized"))

	err := newHandle(coll).Provision(context.Background())
	var pErr *database.ProvisionError
	require.True(t, errors.As(err, &pErr))
}

func TestTeardownTwice(t *testing.T) {
	coll := new(MockCollection)
	coll.On("Drop", mock.Anything).Return(nil)
	coll.On("CreateIndexes", mock.Anything, mock.Anything).Return([]string{"idx_codigo"}, nil)

	h := newHandle(coll)
	require.NoError(t, h.Teardown(context.Background()))
	require.NoError(t, h.Teardown(context.Background()))
	require.NoError(t, h.Provision(context.Background()))
	coll.AssertNumberOfCalls(t, "Drop", 2)
	require.NoError(t, h.Close(context.Background()))
}

func TestCount(t *testing.T) {
	coll := new(MockCollection)
	coll.On("CountDocuments", mock.Anything, mock.Anything).Return(int64(42), nil)
	n, err := newHandle(coll).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestURI(t *testing.T) {
	assert.Equal(t, "mongodb://bench:secret@db:27017/?authSource=admin",
		uri(database.Params{Host: "db", Port: 27017, User: "bench", Password: "secret"}))
	assert.Equal(t, "mongodb://db:27017/", uri(database.Params{Host: "db", Port: 27017}))
}
