package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/htol/bookcat/book"
	"github.com/htol/bookcat/config"
	"github.com/htol/bookcat/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/htol/bookcat/repo"

var (
	// ErrConnect wraps connection establishment failures
	ErrConnect = errors.New("mongo connect failed")
	// ErrPing wraps connectivity probe failures
	ErrPing = errors.New("mongo ping failed")
)

// bookDocument is the stored shape of a book.Book
type bookDocument struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Title         string             `bson:"title"`
	Author        string             `bson:"author"`
	PublishedYear int                `bson:"publishedYear"`
	Genre         string             `bson:"genre"`
	ISBN          string             `bson:"ISBN"`
	Rating        *float64           `bson:"rating,omitempty"`
}

func toDocument(b book.Book) bookDocument {
	return bookDocument{
		Title:         b.Title,
		Author:        b.Author,
		PublishedYear: b.PublishedYear,
		Genre:         b.Genre,
		ISBN:          b.ISBN,
		Rating:        b.Rating,
	}
}

func (d bookDocument) book() book.Book {
	b := book.Book{
		Title:         d.Title,
		Author:        d.Author,
		PublishedYear: d.PublishedYear,
		Genre:         d.Genre,
		ISBN:          d.ISBN,
		Rating:        d.Rating,
	}
	if !d.ID.IsZero() {
		b.ID = d.ID.Hex()
	}
	return b
}

// MongoStore keeps the catalog in one MongoDB collection
type MongoStore struct {
	client     *mongo.Client
	coll       *mongo.Collection
	database   string
	collection string
	tracer     trace.Tracer

	mu     sync.Mutex
	closed bool
}

var _ Repository = (*MongoStore)(nil)

// OpenMongo connects to cfg.URI, verifies the primary answers a ping and
// selects cfg.Database.cfg.Collection.
func OpenMongo(ctx context.Context, cfg config.MongoConfig) (*MongoStore, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, opErr("connect", fmt.Errorf("%w: empty uri", ErrConnect))
	}

	clientOptions := options.Client().ApplyURI(cfg.URI)
	if cfg.ServerSelectionTimeout > 0 {
		clientOptions.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	}
	if cfg.HeartbeatInterval > 0 {
		clientOptions.SetHeartbeatInterval(cfg.HeartbeatInterval)
	}
	if cfg.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "mongo.connect", trace.WithAttributes(
		attribute.String("db.system", "mongodb"),
		attribute.String("db.name", cfg.Database),
	))
	defer span.End()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		recordSpanError(span, err)
		return nil, opErr("connect", fmt.Errorf("%w: %w", ErrConnect, err))
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		if disconnectErr := client.Disconnect(context.WithoutCancel(ctx)); disconnectErr != nil {
			logger.Warn("Failed to disconnect after ping failure", "error", disconnectErr)
		}
		recordSpanError(span, err)
		return nil, opErr("connect", fmt.Errorf("%w: %w", ErrPing, err))
	}

	logger.Debug("Connected to mongo", "database", cfg.Database, "collection", cfg.Collection)

	return &MongoStore{
		client:     client,
		coll:       client.Database(cfg.Database).Collection(cfg.Collection),
		database:   cfg.Database,
		collection: cfg.Collection,
		tracer:     tracer,
	}, nil
}

func (s *MongoStore) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "mongo."+op, trace.WithAttributes(
		attribute.String("db.system", "mongodb"),
		attribute.String("db.name", s.database),
		attribute.String("db.mongodb.collection", s.collection),
	))
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, span := s.start(ctx, "ping")
	defer span.End()

	err := s.client.Ping(ctx, readpref.Primary())
	recordSpanError(span, err)
	if err != nil {
		return opErr("ping", fmt.Errorf("%w: %w", ErrPing, err))
	}
	return nil
}

// Close disconnects the client. Later calls return nil.
func (s *MongoStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	logger.Info("Closing database connection", "database", s.database)
	return opErr("disconnect", s.client.Disconnect(ctx))
}

func (s *MongoStore) Drop(ctx context.Context) error {
	ctx, span := s.start(ctx, "drop")
	defer span.End()

	err := s.coll.Drop(ctx)
	recordSpanError(span, err)
	return opErr("drop", err)
}

func (s *MongoStore) InsertMany(ctx context.Context, books []book.Book) ([]string, error) {
	if len(books) == 0 {
		return nil, opErr("insert many", errors.New("no records to insert"))
	}

	ctx, span := s.start(ctx, "insert_many")
	defer span.End()

	docs := make([]interface{}, 0, len(books))
	for _, b := range books {
		docs = append(docs, toDocument(b))
	}

	res, err := s.coll.InsertMany(ctx, docs)
	if err != nil {
		recordSpanError(span, err)
		return nil, opErr("insert many", err)
	}

	ids := make([]string, 0, len(res.InsertedIDs))
	for _, id := range res.InsertedIDs {
		if oid, ok := id.(primitive.ObjectID); ok {
			ids = append(ids, oid.Hex())
			continue
		}
		ids = append(ids, fmt.Sprint(id))
	}
	return ids, nil
}

func (s *MongoStore) Find(ctx context.Context, filter Filter, opts FindOptions) ([]book.Book, error) {
	if err := opts.validate(); err != nil {
		return nil, opErr("find", err)
	}
	query, err := toBSON(filter)
	if err != nil {
		return nil, opErr("find", err)
	}

	ctx, span := s.start(ctx, "find")
	defer span.End()

	cursor, err := s.coll.Find(ctx, query, findOptions(opts))
	if err != nil {
		recordSpanError(span, err)
		return nil, opErr("find", err)
	}

	var docs []bookDocument
	if err := cursor.All(ctx, &docs); err != nil {
		recordSpanError(span, err)
		return nil, opErr("find", fmt.Errorf("decode: %w", err))
	}

	books := make([]book.Book, 0, len(docs))
	for _, d := range docs {
		books = append(books, d.book())
	}
	return books, nil
}

func (s *MongoStore) Count(ctx context.Context, filter Filter) (int64, error) {
	query, err := toBSON(filter)
	if err != nil {
		return 0, opErr("count", err)
	}

	ctx, span := s.start(ctx, "count")
	defer span.End()

	n, err := s.coll.CountDocuments(ctx, query)
	recordSpanError(span, err)
	return n, opErr("count", err)
}

func (s *MongoStore) UpdateOne(ctx context.Context, filter Filter, set Set) (UpdateResult, error) {
	query, update, err := updateArgs(filter, set)
	if err != nil {
		return UpdateResult{}, opErr("update one", err)
	}

	ctx, span := s.start(ctx, "update_one")
	defer span.End()

	res, err := s.coll.UpdateOne(ctx, query, update)
	if err != nil {
		recordSpanError(span, err)
		return UpdateResult{}, opErr("update one", err)
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (s *MongoStore) UpdateMany(ctx context.Context, filter Filter, set Set) (UpdateResult, error) {
	query, update, err := updateArgs(filter, set)
	if err != nil {
		return UpdateResult{}, opErr("update many", err)
	}

	ctx, span := s.start(ctx, "update_many")
	defer span.End()

	res, err := s.coll.UpdateMany(ctx, query, update)
	if err != nil {
		recordSpanError(span, err)
		return UpdateResult{}, opErr("update many", err)
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (s *MongoStore) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	query, err := toBSON(filter)
	if err != nil {
		return 0, opErr("delete one", err)
	}

	ctx, span := s.start(ctx, "delete_one")
	defer span.End()

	res, err := s.coll.DeleteOne(ctx, query)
	if err != nil {
		recordSpanError(span, err)
		return 0, opErr("delete one", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteMany(ctx context.Context, filter Filter) (int64, error) {
	query, err := toBSON(filter)
	if err != nil {
		return 0, opErr("delete many", err)
	}

	ctx, span := s.start(ctx, "delete_many")
	defer span.End()

	res, err := s.coll.DeleteMany(ctx, query)
	if err != nil {
		recordSpanError(span, err)
		return 0, opErr("delete many", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) GroupCount(ctx context.Context, field string) ([]book.GroupCount, error) {
	if err := stringField(field); err != nil {
		return nil, opErr("group count", err)
	}

	ctx, span := s.start(ctx, "aggregate")
	defer span.End()

	cursor, err := s.coll.Aggregate(ctx, groupCountPipeline(field))
	if err != nil {
		recordSpanError(span, err)
		return nil, opErr("group count", err)
	}

	var groups []book.GroupCount
	if err := cursor.All(ctx, &groups); err != nil {
		recordSpanError(span, err)
		return nil, opErr("group count", fmt.Errorf("decode: %w", err))
	}
	return groups, nil
}

func (s *MongoStore) Average(ctx context.Context, field string) (float64, error) {
	if err := numericField(field); err != nil {
		return 0, opErr("average", err)
	}

	ctx, span := s.start(ctx, "aggregate")
	defer span.End()

	cursor, err := s.coll.Aggregate(ctx, averagePipeline(field))
	if err != nil {
		recordSpanError(span, err)
		return 0, opErr("average", err)
	}

	var out []struct {
		Avg *float64 `bson:"avg"`
	}
	if err := cursor.All(ctx, &out); err != nil {
		recordSpanError(span, err)
		return 0, opErr("average", fmt.Errorf("decode: %w", err))
	}
	if len(out) == 0 || out[0].Avg == nil {
		return 0, opErr("average", fmt.Errorf("%w: no %s values", ErrNotFound, field))
	}
	return *out[0].Avg, nil
}

func (s *MongoStore) CreateIndex(ctx context.Context, field string) (string, error) {
	if _, err := lookupField(field); err != nil {
		return "", opErr("create index", err)
	}

	ctx, span := s.start(ctx, "create_index")
	defer span.End()
	span.SetAttributes(attribute.String("db.mongodb.index.fields", field))

	name, err := s.coll.Indexes().CreateOne(ctx, indexModel(field))
	if err != nil {
		recordSpanError(span, err)
		return "", opErr("create index", err)
	}
	return name, nil
}

func (s *MongoStore) Indexes(ctx context.Context) ([]string, error) {
	ctx, span := s.start(ctx, "list_indexes")
	defer span.End()

	specs, err := s.coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, opErr("list indexes", err)
	}

	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names, nil
}

// toBSON renders a filter as a query document. A single condition stays flat,
// several are combined with $and so repeated fields keep every predicate.
func toBSON(f Filter) (bson.D, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	conds := make([]bson.D, 0, len(f))
	for _, c := range f {
		switch c.Op {
		case OpEq:
			conds = append(conds, bson.D{{Key: c.Field, Value: c.Value}})
		case OpGt:
			conds = append(conds, bson.D{{Key: c.Field, Value: bson.D{{Key: "$gt", Value: c.Value}}}})
		}
	}

	switch len(conds) {
	case 0:
		return bson.D{}, nil
	case 1:
		return conds[0], nil
	default:
		and := make(bson.A, 0, len(conds))
		for _, c := range conds {
			and = append(and, c)
		}
		return bson.D{{Key: "$and", Value: and}}, nil
	}
}

func updateArgs(f Filter, set Set) (bson.D, bson.D, error) {
	if err := set.validate(); err != nil {
		return nil, nil, err
	}
	query, err := toBSON(f)
	if err != nil {
		return nil, nil, err
	}

	assign := make(bson.D, 0, len(set))
	for _, k := range set.keys() {
		assign = append(assign, bson.E{Key: k, Value: set[k]})
	}
	return query, bson.D{{Key: "$set", Value: assign}}, nil
}

func findOptions(o FindOptions) *options.FindOptions {
	opts := options.Find()
	if o.SortBy != "" {
		dir := 1
		if o.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: o.SortBy, Value: dir}})
	}
	if o.Limit > 0 {
		opts.SetLimit(o.Limit)
	}
	return opts
}

func groupCountPipeline(field string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "totalBooks", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
}

func averagePipeline(field string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "avg", Value: bson.D{{Key: "$avg", Value: "$" + field}}},
		}}},
	}
}

func indexModel(field string) mongo.IndexModel {
	return mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetName(IndexName(field)),
	}
}
