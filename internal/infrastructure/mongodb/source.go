package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"addrscan/internal/application"
	"addrscan/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const (
	defaultDatabase   = "rpclogs"
	defaultCollection = "requests"
	defaultChainField = "chain"
	defaultTimeField  = "timestamp"
)

type Config struct {
	URI        string
	Database   string
	Collection string
	ChainField string
	TimeField  string
}

// Source streams captured RPC records out of a MongoDB collection.
type Source struct {
	client     *mongo.Client
	collection *mongo.Collection
	chainField string
	timeField  string
}

func NewSource(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	cs, err := connstring.ParseAndValidate(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("parse mongo uri: %w", err)
	}
	database := cfg.Database
	if database == "" {
		database = cs.Database
	}
	if database == "" {
		database = defaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	if cfg.ChainField == "" {
		cfg.ChainField = defaultChainField
	}
	if cfg.TimeField == "" {
		cfg.TimeField = defaultTimeField
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	return &Source{
		client:     client,
		collection: client.Database(database).Collection(cfg.Collection),
		chainField: cfg.ChainField,
		timeField:  cfg.TimeField,
	}, nil
}

// ForEachRecord walks the chain's records ordered by capture time. Documents
// that cannot be decoded are logged and skipped.
func (s *Source) ForEachRecord(ctx context.Context, filter application.RecordFilter, fn func(domain.Record) error) error {
	opts := options.Find().
		SetSort(bson.D{{Key: s.timeField, Value: 1}}).
		SetAllowDiskUse(true)
	cur, err := s.collection.Find(ctx, BuildFilter(s.chainField, s.timeField, filter), opts)
	if err != nil {
		return fmt.Errorf("find records: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		record, err := decodeRecord(cur.Current, filter.Chain, s.timeField)
		if err != nil {
			slog.Warn("skip undecodable record", "chain", filter.Chain, "err", err)
			continue
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (s *Source) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

func (s *Source) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// BuildFilter selects one chain and, when bounded, an inclusive time window.
func BuildFilter(chainField, timeField string, filter application.RecordFilter) bson.D {
	query := bson.D{{Key: chainField, Value: filter.Chain}}
	window := bson.D{}
	if !filter.From.IsZero() {
		window = append(window, bson.E{Key: "$gte", Value: filter.From})
	}
	if filter.To != nil {
		window = append(window, bson.E{Key: "$lte", Value: *filter.To})
	}
	if len(window) > 0 {
		query = append(query, bson.E{Key: timeField, Value: window})
	}
	return query
}

func decodeRecord(raw bson.Raw, chain, timeField string) (domain.Record, error) {
	record := domain.Record{Chain: chain}

	if id := raw.Lookup("_id"); !id.IsZero() {
		if oid, ok := id.ObjectIDOK(); ok {
			record.ID = oid.Hex()
		} else if str, ok := id.StringValueOK(); ok {
			record.ID = str
		} else {
			record.ID = id.String()
		}
	}

	method, ok := raw.Lookup("method").StringValueOK()
	if !ok {
		method, _ = raw.Lookup("request", "method").StringValueOK()
	}
	record.Method = method

	if ts, ok := decodeTime(raw.Lookup(timeField)); ok {
		record.Timestamp = ts
	}

	if params, ok := raw.Lookup("request", "params").ArrayOK(); ok {
		values, err := params.Values()
		if err != nil {
			return domain.Record{}, fmt.Errorf("request params: %w", err)
		}
		record.Params = make([]json.RawMessage, 0, len(values))
		for _, value := range values {
			encoded, err := rawJSON(value)
			if err != nil {
				return domain.Record{}, fmt.Errorf("request params: %w", err)
			}
			record.Params = append(record.Params, encoded)
		}
	}

	result, err := rawJSON(raw.Lookup("response", "result"))
	if err != nil {
		return domain.Record{}, fmt.Errorf("response result: %w", err)
	}
	record.Result = result
	return record, nil
}

// rawJSON renders a BSON value as relaxed extended JSON. Missing and null
// values map to nil.
func rawJSON(value bson.RawValue) (json.RawMessage, error) {
	if value.IsZero() || value.Type == bson.TypeNull || value.Type == bson.TypeUndefined {
		return nil, nil
	}
	encoded, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: value}}, false, false)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal(encoded, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.V, nil
}

func decodeTime(value bson.RawValue) (time.Time, bool) {
	if t, ok := value.TimeOK(); ok {
		return t.UTC(), true
	}
	if n, ok := value.Int64OK(); ok {
		return time.Unix(n, 0).UTC(), true
	}
	if n, ok := value.Int32OK(); ok {
		return time.Unix(int64(n), 0).UTC(), true
	}
	if f, ok := value.DoubleOK(); ok {
		return time.Unix(int64(f), 0).UTC(), true
	}
	if str, ok := value.StringValueOK(); ok {
		if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
			return t.UTC(), true
		}
		if n, err := strconv.ParseInt(str, 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), true
		}
	}
	return time.Time{}, false
}
