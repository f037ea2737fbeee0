package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/sitestock/stock-ledger/pkg/logging"
	"github.com/sitestock/stock-ledger/pkg/metrics"
)

// InstrumentedClient hands out collections that trace, time and log every
// driver call. The ledger stores only ever talk to these.
type InstrumentedClient struct {
	client  *Client
	metrics *metrics.Metrics
	logger  *logging.Logger
	tracer  trace.Tracer
}

// NewInstrumentedClient wraps client. m and logger may be nil.
func NewInstrumentedClient(client *Client, m *metrics.Metrics, logger *logging.Logger) *InstrumentedClient {
	return &InstrumentedClient{client: client, metrics: m, logger: logger, tracer: otel.Tracer("mongodb")}
}

func (c *InstrumentedClient) Collection(name string) *InstrumentedCollection {
	return &InstrumentedCollection{
		collection: c.client.Collection(name),
		name:       name,
		database:   c.client.DatabaseName(),
		metrics:    c.metrics,
		logger:     c.logger,
		tracer:     c.tracer,
	}
}

func (c *InstrumentedClient) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// HealthCheck backs the readiness probe
func (c *InstrumentedClient) HealthCheck(ctx context.Context) error {
	return c.span(ctx, "mongodb.ping", c.client.HealthCheck)
}

// WithTransaction runs fn in a traced multi-document transaction
func (c *InstrumentedClient) WithTransaction(ctx context.Context, fn func(sessCtx mongo.SessionContext) error) error {
	return c.span(ctx, "mongodb.transaction", func(ctx context.Context) error {
		return c.client.WithTransaction(ctx, fn)
	})
}

func (c *InstrumentedClient) span(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, name, trace.WithAttributes(
		semconv.DBSystemMongoDB,
		semconv.DBNameKey.String(c.client.DatabaseName()),
	))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// InstrumentedCollection mirrors the subset of *mongo.Collection the ledger uses
type InstrumentedCollection struct {
	collection *mongo.Collection
	name       string
	database   string
	metrics    *metrics.Metrics
	logger     *logging.Logger
	tracer     trace.Tracer
}

// observe runs one driver call inside a client span and records its latency.
// No documents and duplicate keys are expected answers in the ledger, so they
// count as success.
func observe[T any](ctx context.Context, c *InstrumentedCollection, operation string, call func(context.Context) (T, error), attrs ...func(T) attribute.KeyValue) (T, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "mongodb."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemMongoDB,
			semconv.DBNameKey.String(c.database),
			semconv.DBOperationKey.String(operation),
			attribute.String("db.collection", c.name),
		),
	)
	defer span.End()

	result, err := call(ctx)
	duration := time.Since(start)
	success := err == nil || IsNotFound(err) || IsDuplicateKey(err)

	if c.metrics != nil {
		c.metrics.RecordMongoDBOperation(c.name, operation, success, duration)
	}
	if c.logger != nil {
		c.logger.DatabaseQuery(ctx, c.name, operation, duration, success)
	}

	if !success {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	if err == nil {
		for _, attr := range attrs {
			span.SetAttributes(attr(result))
		}
	}
	return result, err
}

// single adapts the calls that report errors through *mongo.SingleResult
func single(call func(context.Context) *mongo.SingleResult) func(context.Context) (*mongo.SingleResult, error) {
	return func(ctx context.Context) (*mongo.SingleResult, error) {
		result := call(ctx)
		return result, result.Err()
	}
}

func (c *InstrumentedCollection) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	return observe(ctx, c, "insertOne", func(ctx context.Context) (*mongo.InsertOneResult, error) {
		return c.collection.InsertOne(ctx, document, opts...)
	})
}

func (c *InstrumentedCollection) InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	return observe(ctx, c, "insertMany", func(ctx context.Context) (*mongo.InsertManyResult, error) {
		return c.collection.InsertMany(ctx, documents, opts...)
	}, func(*mongo.InsertManyResult) attribute.KeyValue {
		return attribute.Int("db.batch_size", len(documents))
	})
}

func (c *InstrumentedCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	result, _ := observe(ctx, c, "findOne", single(func(ctx context.Context) *mongo.SingleResult {
		return c.collection.FindOne(ctx, filter, opts...)
	}))
	return result
}

func (c *InstrumentedCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	return observe(ctx, c, "find", func(ctx context.Context) (*mongo.Cursor, error) {
		return c.collection.Find(ctx, filter, opts...)
	})
}

func (c *InstrumentedCollection) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return observe(ctx, c, "updateOne", func(ctx context.Context) (*mongo.UpdateResult, error) {
		return c.collection.UpdateOne(ctx, filter, update, opts...)
	}, func(r *mongo.UpdateResult) attribute.KeyValue {
		return attribute.Int64("db.modified_count", r.ModifiedCount)
	})
}

func (c *InstrumentedCollection) ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	return observe(ctx, c, "replaceOne", func(ctx context.Context) (*mongo.UpdateResult, error) {
		return c.collection.ReplaceOne(ctx, filter, replacement, opts...)
	})
}

func (c *InstrumentedCollection) FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) *mongo.SingleResult {
	result, _ := observe(ctx, c, "findOneAndUpdate", single(func(ctx context.Context) *mongo.SingleResult {
		return c.collection.FindOneAndUpdate(ctx, filter, update, opts...)
	}))
	return result
}

func (c *InstrumentedCollection) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return observe(ctx, c, "deleteMany", func(ctx context.Context) (*mongo.DeleteResult, error) {
		return c.collection.DeleteMany(ctx, filter, opts...)
	}, func(r *mongo.DeleteResult) attribute.KeyValue {
		return attribute.Int64("db.deleted_count", r.DeletedCount)
	})
}

func (c *InstrumentedCollection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return observe(ctx, c, "countDocuments", func(ctx context.Context) (int64, error) {
		return c.collection.CountDocuments(ctx, filter, opts...)
	})
}

func (c *InstrumentedCollection) CreateIndexes(ctx context.Context, models []mongo.IndexModel) error {
	_, err := observe(ctx, c, "createIndexes", func(ctx context.Context) ([]string, error) {
		return c.collection.Indexes().CreateMany(ctx, models)
	})
	return err
}

func (c *InstrumentedCollection) Name() string {
	return c.name
}
