package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"social_chat/pkg/logger"
)

const (
	fieldID     = "_id"
	fieldParent = "_parent"
)

// MongoStore - Store поверх MongoDB. Путь подколлекции отображается на коллекцию
// по последнему сегменту ("conversations/c1/messages" -> "messages"), _id = полный путь документа.
// Подписки работают на change streams, поэтому нужен replica set.
type MongoStore struct {
	db  *mongo.Database
	log logger.Logger
}

func NewMongoStore(db *mongo.Database, log logger.Logger) *MongoStore {
	return &MongoStore{db: db, log: log}
}

func (s *MongoStore) collection(path string) *mongo.Collection {
	name := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		name = path[idx+1:]
	}
	return s.db.Collection(name)
}

func (s *MongoStore) Create(ctx context.Context, ref Ref, data interface{}, stamps ...string) error {
	doc, err := toDocument(data)
	if err != nil {
		return err
	}
	// Время проставляет процесс-адаптер хранилища: $currentDate доступен только в update
	now := time.Now().UTC()
	for _, path := range stamps {
		if err := apply(doc, ServerTimestamp(path), now); err != nil {
			return err
		}
	}
	doc[fieldID] = ref.Path()
	doc[fieldParent] = ref.Collection

	if _, err := s.collection(ref.Collection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", ref, ErrAlreadyExists)
		}
		s.log.Error("Failed to create document", "error", err, "ref", ref.Path())
		return fmt.Errorf("failed to create %s: %w", ref, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, ref Ref) (*Snapshot, error) {
	var doc bson.M
	err := s.collection(ref.Collection).FindOne(ctx, bson.M{fieldID: ref.Path()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		s.log.Error("Failed to get document", "error", err, "ref", ref.Path())
		return nil, fmt.Errorf("failed to get %s: %w", ref, err)
	}
	return snapshotFromMongo(ref, doc), nil
}

func (s *MongoStore) Update(ctx context.Context, ref Ref, updates ...Update) error {
	update, err := BuildMongoUpdate(updates)
	if err != nil {
		return err
	}
	res, err := s.collection(ref.Collection).UpdateOne(ctx, bson.M{fieldID: ref.Path()}, update)
	if err != nil {
		s.log.Error("Failed to update document", "error", err, "ref", ref.Path())
		return fmt.Errorf("failed to update %s: %w", ref, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return nil
}

// BatchUpdate группирует записи по коллекциям и отправляет BulkWrite в каждую.
// Атомарности между коллекциями нет, в пределах коллекции - ordered bulk.
func (s *MongoStore) BatchUpdate(ctx context.Context, writes []Write) error {
	models := make(map[string][]mongo.WriteModel)
	var order []string
	for _, w := range writes {
		update, err := BuildMongoUpdate(w.Updates)
		if err != nil {
			return fmt.Errorf("%s: %w", w.Ref, err)
		}
		name := s.collection(w.Ref.Collection).Name()
		if _, ok := models[name]; !ok {
			order = append(order, name)
		}
		models[name] = append(models[name], mongo.NewUpdateOneModel().
			SetFilter(bson.M{fieldID: w.Ref.Path()}).
			SetUpdate(update))
	}

	for _, name := range order {
		res, err := s.db.Collection(name).BulkWrite(ctx, models[name], options.BulkWrite().SetOrdered(true))
		if err != nil {
			s.log.Error("Failed to apply batch", "error", err, "collection", name)
			return fmt.Errorf("failed to apply batch to %s: %w", name, err)
		}
		if res.MatchedCount < int64(len(models[name])) {
			return fmt.Errorf("batch on %s: %w", name, ErrNotFound)
		}
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, ref Ref) error {
	if _, err := s.collection(ref.Collection).DeleteOne(ctx, bson.M{fieldID: ref.Path()}); err != nil {
		s.log.Error("Failed to delete document", "error", err, "ref", ref.Path())
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	return nil
}

func (s *MongoStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	filter, err := BuildMongoFilter(q)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: fieldID, Value: 1}})
	} else {
		opts.SetSort(bson.D{{Key: fieldID, Value: 1}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		s.log.Error("Failed to query documents", "error", err, "collection", q.Collection)
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer cur.Close(ctx)

	var out []*Snapshot
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", q.Collection, err)
		}
		id, _ := doc[fieldID].(string)
		out = append(out, snapshotFromMongo(Doc(q.Collection, strings.TrimPrefix(id, q.Collection+"/")), doc))
	}
	return out, cur.Err()
}

func (s *MongoStore) Watch(ctx context.Context, ref Ref, fn func(*Snapshot)) (Unsubscribe, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"documentKey._id": ref.Path()}}}}
	emit := func(ctx context.Context) {
		snap, err := s.Get(ctx, ref)
		if errors.Is(err, ErrNotFound) {
			fn(&Snapshot{Ref: ref})
			return
		}
		if err != nil {
			s.log.Warn("Failed to refresh watched document", "error", err, "ref", ref.Path())
			return
		}
		fn(snap)
	}
	return s.watch(ctx, s.collection(ref.Collection), pipeline, emit)
}

func (s *MongoStore) WatchQuery(ctx context.Context, q Query, fn func([]*Snapshot)) (Unsubscribe, error) {
	prefix := "^" + regexp.QuoteMeta(q.Collection+"/")
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"documentKey._id": bson.M{"$regex": prefix}}}}}
	emit := func(ctx context.Context) {
		list, err := s.Query(ctx, q)
		if err != nil {
			s.log.Warn("Failed to refresh watched query", "error", err, "collection", q.Collection)
			return
		}
		fn(list)
	}
	return s.watch(ctx, s.collection(q.Collection), pipeline, emit)
}

// watch открывает change stream до первого снимка, чтобы не потерять изменения между ними
func (s *MongoStore) watch(ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline, emit func(context.Context)) (Unsubscribe, error) {
	watchCtx, cancel := context.WithCancel(context.Background())
	stream, err := coll.Watch(ctx, pipeline)
	if err != nil {
		cancel()
		s.log.Error("Failed to open change stream", "error", err, "collection", coll.Name())
		return nil, fmt.Errorf("failed to watch %s: %w", coll.Name(), err)
	}

	emit(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer stream.Close(context.Background())
		for stream.Next(watchCtx) {
			emit(watchCtx)
		}
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("Change stream stopped", "error", err, "collection", coll.Name())
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func snapshotFromMongo(ref Ref, doc bson.M) *Snapshot {
	data := normalize(map[string]interface{}(doc)).(map[string]interface{})
	delete(data, fieldID)
	delete(data, fieldParent)
	return &Snapshot{Ref: ref, Exists: true, Data: data}
}

// BuildMongoUpdate переводит точечные обновления в операторы Mongo
func BuildMongoUpdate(updates []Update) (bson.M, error) {
	if len(updates) == 0 {
		return nil, errors.New("no updates")
	}
	ops := bson.M{}
	section := func(op string) bson.M {
		m, ok := ops[op].(bson.M)
		if !ok {
			m = bson.M{}
			ops[op] = m
		}
		return m
	}

	for _, u := range updates {
		if err := validatePath(u.Path); err != nil {
			return nil, err
		}
		switch u.Op {
		case OpSet:
			v, err := toValue(u.Value)
			if err != nil {
				return nil, err
			}
			section("$set")[u.Path] = v
		case OpDelete:
			section("$unset")[u.Path] = ""
		case OpArrayUnion:
			vals, err := toValues(u.Values)
			if err != nil {
				return nil, err
			}
			section("$addToSet")[u.Path] = bson.M{"$each": vals}
		case OpArrayRemove:
			vals, err := toValues(u.Values)
			if err != nil {
				return nil, err
			}
			section("$pull")[u.Path] = bson.M{"$in": vals}
		case OpArrayRemoveWhere:
			if err := validatePath(u.Field); err != nil {
				return nil, err
			}
			v, err := toValue(u.Value)
			if err != nil {
				return nil, err
			}
			section("$pull")[u.Path] = bson.M{u.Field: v}
		case OpIncrement:
			section("$inc")[u.Path] = u.Delta
		case OpServerTimestamp:
			section("$currentDate")[u.Path] = true
		default:
			return nil, fmt.Errorf("unsupported update op %s", u.Op)
		}
	}
	return ops, nil
}

// BuildMongoFilter переводит фильтры запроса в фильтр Mongo с ограничением по родителю
func BuildMongoFilter(q Query) (bson.M, error) {
	filter := bson.M{fieldParent: q.Collection}
	for _, f := range q.Filters {
		v, err := toValue(f.Value)
		if err != nil {
			return nil, err
		}
		var cond interface{}
		switch f.Op {
		case OpEqual, OpArrayContains:
			cond = v
		case OpNotEqual:
			cond = bson.M{"$ne": v}
		case OpLess:
			cond = bson.M{"$lt": v}
		case OpLessEqual:
			cond = bson.M{"$lte": v}
		case OpGreater:
			cond = bson.M{"$gt": v}
		case OpGreaterEqual:
			cond = bson.M{"$gte": v}
		case OpIn:
			cond = bson.M{"$in": v}
		default:
			return nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}

		if existing, ok := filter[f.Field]; ok {
			// Несколько условий на одно поле объединяются через $and
			and, _ := filter["$and"].(bson.A)
			filter["$and"] = append(and, bson.M{f.Field: existing}, bson.M{f.Field: cond})
			delete(filter, f.Field)
			continue
		}
		filter[f.Field] = cond
	}
	return filter, nil
}

func toValues(values []interface{}) (bson.A, error) {
	out := make(bson.A, 0, len(values))
	for _, raw := range values {
		v, err := toValue(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
