package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo stores each table as a MongoDB collection, using the document id as
// _id. Collections are created lazily by MongoDB, so a missing table reads
// as empty rather than ErrTableNotFound.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo connects to uri and verifies the connection with a ping.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("docstore: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("docstore: ping mongo: %w", err)
	}
	return &Mongo{client: client, db: client.Database(database)}, nil
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	return m.client.Disconnect(context.Background())
}

// EnsureTable creates the collection and one compound index per secondary index.
func (m *Mongo) EnsureTable(ctx context.Context, spec TableSpec) error {
	if err := validateSpec(spec); err != nil {
		return err
	}
	if err := m.db.CreateCollection(ctx, spec.Name); err != nil {
		var cmdErr mongo.CommandError
		// 48: NamespaceExists
		if !errors.As(err, &cmdErr) || cmdErr.Code != 48 {
			return fmt.Errorf("docstore: provision %s: %w", spec.Name, err)
		}
	}
	if len(spec.Indexes) == 0 {
		return nil
	}
	models := make([]mongo.IndexModel, 0, len(spec.Indexes))
	for _, idx := range spec.Indexes {
		keys := bson.D{{Key: idx.HashAttr, Value: 1}}
		if idx.RangeAttr != "" {
			keys = append(keys, bson.E{Key: idx.RangeAttr, Value: 1})
		}
		keys = append(keys, bson.E{Key: "_id", Value: 1})
		models = append(models, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetName(idx.Name),
		})
	}
	if _, err := m.db.Collection(spec.Name).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("docstore: index %s: %w", spec.Name, err)
	}
	return nil
}

// Table returns a handle to the collection.
func (m *Mongo) Table(spec TableSpec) Table {
	return &mongoTable{coll: m.db.Collection(spec.Name), spec: spec}
}

type mongoTable struct {
	coll *mongo.Collection
	spec TableSpec
}

func (t *mongoTable) Name() string { return t.spec.Name }

func (t *mongoTable) Put(ctx context.Context, item Item) error {
	id := item.ID()
	if id == "" {
		return errors.New("docstore: item has no id")
	}
	_, err := t.coll.ReplaceOne(ctx, bson.M{"_id": id}, toBSON(item), options.Replace().SetUpsert(true))
	return err
}

func (t *mongoTable) Get(ctx context.Context, id string) (Item, error) {
	var doc bson.M
	err := t.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromBSON(doc), nil
}

func (t *mongoTable) Update(ctx context.Context, id string, fields Item) (Item, error) {
	set, unset := bson.M{}, bson.M{}
	for k, v := range fields {
		if k == KeyAttr {
			continue
		}
		if v == nil {
			unset[k] = ""
			continue
		}
		set[k] = v
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if len(update) == 0 {
		return t.Get(ctx, id)
	}

	var doc bson.M
	err := t.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromBSON(doc), nil
}

func (t *mongoTable) Delete(ctx context.Context, id string) error {
	_, err := t.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (t *mongoTable) Query(ctx context.Context, in QueryInput) (Page, error) {
	idx, ok := t.spec.Index(in.Index)
	if !ok {
		return Page{}, fmt.Errorf("%w: index %s on %s", ErrTableNotFound, in.Index, t.spec.Name)
	}
	limit := normalizeLimit(in.Limit)
	cmp, dir := "$gt", 1
	if in.Descending {
		cmp, dir = "$lt", -1
	}

	filter := bson.M{idx.HashAttr: in.Value}
	if in.StartKey != nil {
		id, err := startValue(in.StartKey, KeyAttr)
		if err != nil {
			return Page{}, err
		}
		if idx.RangeAttr != "" {
			rv, err := startValue(in.StartKey, idx.RangeAttr)
			if err != nil {
				return Page{}, err
			}
			filter["$or"] = bson.A{
				bson.M{idx.RangeAttr: bson.M{cmp: rv}},
				bson.M{idx.RangeAttr: rv, "_id": bson.M{cmp: id}},
			}
		} else {
			filter["_id"] = bson.M{cmp: id}
		}
	}
	sortBy := bson.D{}
	if idx.RangeAttr != "" {
		sortBy = append(sortBy, bson.E{Key: idx.RangeAttr, Value: dir})
	}
	sortBy = append(sortBy, bson.E{Key: "_id", Value: dir})

	items, err := t.find(ctx, filter, sortBy, limit+1)
	if err != nil {
		return Page{}, err
	}
	return paginate(items, limit, &idx), nil
}

func (t *mongoTable) Scan(ctx context.Context, in ScanInput) (Page, error) {
	limit := normalizeLimit(in.Limit)
	filter := bson.M{}
	attrs := make([]string, 0, len(in.Filter))
	for attr := range in.Filter {
		if !validAttr(attr) {
			return Page{}, fmt.Errorf("docstore: invalid filter attribute %q", attr)
		}
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)
	for _, attr := range attrs {
		filter[attr] = in.Filter[attr]
	}
	if in.StartKey != nil {
		id, err := startValue(in.StartKey, KeyAttr)
		if err != nil {
			return Page{}, err
		}
		filter["_id"] = bson.M{"$gt": id}
	}
	items, err := t.find(ctx, filter, bson.D{{Key: "_id", Value: 1}}, limit+1)
	if err != nil {
		return Page{}, err
	}
	return paginate(items, limit, nil), nil
}

func (t *mongoTable) find(ctx context.Context, filter bson.M, sortBy bson.D, limit int) ([]Item, error) {
	cur, err := t.coll.Find(ctx, filter, options.Find().SetSort(sortBy).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(docs))
	for _, d := range docs {
		items = append(items, fromBSON(d))
	}
	return items, nil
}

func toBSON(item Item) bson.M {
	doc := make(bson.M, len(item))
	for k, v := range item {
		if k == KeyAttr {
			doc["_id"] = v
			continue
		}
		doc[k] = v
	}
	return doc
}

func fromBSON(doc bson.M) Item {
	item := make(Item, len(doc))
	for k, v := range doc {
		if k == "_id" {
			item[KeyAttr] = v
			continue
		}
		item[k] = normalizeBSON(v)
	}
	return item
}

// normalizeBSON converts driver container types into plain Go maps and
// slices so items look the same regardless of backend.
func normalizeBSON(v any) any {
	switch x := v.(type) {
	case primitive.A:
		out := make([]any, len(x))
		for i := range x {
			out[i] = normalizeBSON(x[i])
		}
		return out
	case bson.M:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = normalizeBSON(vv)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return v
	}
}
