package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps one collection per table. It has no multi-document
// transactions, so order placement against it runs in two-phase mode.
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// ConnectMongo opens a client and pings it.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Client, *MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, NewMongoStore(client.Database(database)), nil
}

func (s *MongoStore) Query(ctx context.Context, table string, f Filter) ([]Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	filter, err := toBSONFilter(f.Eq)
	if err != nil {
		return nil, err
	}
	opts := options.Find()
	if f.OrderBy != "" {
		if err := checkIdent(f.OrderBy); err != nil {
			return nil, err
		}
		dir := 1
		if f.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: mongoField(f.OrderBy), Value: dir}})
	}
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := s.db.Collection(table).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer cur.Close(ctx)

	out := make([]Record, 0)
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		out = append(out, fromDocument(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return out, nil
}

func (s *MongoStore) Insert(ctx context.Context, table string, rec Record) (Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	row := rec.clone()
	if asString(row["id"]) == "" {
		row["id"] = uuid.NewString()
	}
	doc, err := toDocument(row)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Collection(table).InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return row, nil
}

func (s *MongoStore) Update(ctx context.Context, table, id string, patch Record, guard Filter) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if len(patch) == 0 {
		return fmt.Errorf("update %s: empty patch", table)
	}
	filter, err := toBSONFilter(guard.Eq)
	if err != nil {
		return err
	}
	filter["_id"] = id
	set, err := toDocument(patch)
	if err != nil {
		return err
	}
	delete(set, "_id")

	res, err := s.db.Collection(table).UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if res.MatchedCount == 0 {
		return ErrNoRows
	}
	return nil
}

func mongoField(col string) string {
	if col == "id" {
		return "_id"
	}
	return col
}

func mongoValue(v any) (any, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		d, err := primitive.ParseDecimal128(t.String())
		if err != nil {
			return nil, fmt.Errorf("convert decimal %s: %w", t, err)
		}
		return d, nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return t.UTC(), nil
	case time.Time:
		return t.UTC(), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	return v, nil
}

func toBSONFilter(eq map[string]any) (bson.M, error) {
	filter := bson.M{}
	for _, k := range sortedKeys(eq) {
		if err := checkIdent(k); err != nil {
			return nil, err
		}
		v, err := mongoValue(eq[k])
		if err != nil {
			return nil, err
		}
		filter[mongoField(k)] = v
	}
	return filter, nil
}

func toDocument(rec Record) (bson.M, error) {
	doc := make(bson.M, len(rec))
	for k, v := range rec {
		if err := checkIdent(k); err != nil {
			return nil, err
		}
		mv, err := mongoValue(v)
		if err != nil {
			return nil, err
		}
		doc[mongoField(k)] = mv
	}
	return doc, nil
}

func fromDocument(doc bson.M) Record {
	rec := make(Record, len(doc))
	for k, v := range doc {
		if k == "_id" {
			k = "id"
		}
		switch t := v.(type) {
		case primitive.DateTime:
			rec[k] = t.Time().UTC()
		case primitive.ObjectID:
			rec[k] = t.Hex()
		case int32:
			rec[k] = int64(t)
		default:
			rec[k] = v
		}
	}
	return rec
}
