package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
)

// Store - удаленное документное хранилище с подписками.
// Перезаписи документа целиком нет: изменения только через точечные Update по путям полей,
// чтобы параллельные клиенты не затирали чужие поля (last-write-wins на уровне поля).
type Store interface {
	// Create создает документ; stamps - пути полей, которым хранилище проставит серверное время.
	Create(ctx context.Context, ref Ref, data interface{}, stamps ...string) error
	Get(ctx context.Context, ref Ref) (*Snapshot, error)
	Update(ctx context.Context, ref Ref, updates ...Update) error
	// BatchUpdate применяет набор точечных обновлений к нескольким документам.
	BatchUpdate(ctx context.Context, writes []Write) error
	Delete(ctx context.Context, ref Ref) error
	Query(ctx context.Context, q Query) ([]*Snapshot, error)
	// Watch сразу отдает текущий снимок и затем снимок после каждого изменения.
	// Удаленный документ приходит как Snapshot{Exists: false}.
	Watch(ctx context.Context, ref Ref, fn func(*Snapshot)) (Unsubscribe, error)
	WatchQuery(ctx context.Context, q Query, fn func([]*Snapshot)) (Unsubscribe, error)
}

// Unsubscribe снимает подписку и может ждать окончания текущей доставки,
// поэтому из колбэка той же подписки его не вызывают. Повторный вызов безопасен.
type Unsubscribe func()

// Ref - адрес документа: путь коллекции ("conversations/c1/messages") и id.
type Ref struct {
	Collection string
	ID         string
}

func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) Path() string {
	return r.Collection + "/" + r.ID
}

// Sub возвращает путь подколлекции документа: conversations/c1 + messages
func (r Ref) Sub(collection string) string {
	return r.Path() + "/" + collection
}

func (r Ref) String() string {
	return r.Path()
}

// Write - обновления одного документа внутри BatchUpdate
type Write struct {
	Ref     Ref
	Updates []Update
}

type Op int

const (
	OpSet Op = iota
	OpDelete
	OpArrayUnion
	OpArrayRemove
	OpIncrement
	OpServerTimestamp
	OpArrayRemoveWhere
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpArrayUnion:
		return "arrayUnion"
	case OpArrayRemove:
		return "arrayRemove"
	case OpIncrement:
		return "increment"
	case OpServerTimestamp:
		return "serverTimestamp"
	case OpArrayRemoveWhere:
		return "arrayRemoveWhere"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Update - точечное изменение поля по пути с точками ("typing.u1", "status.read.u2")
type Update struct {
	Path   string
	Op     Op
	Value  interface{}
	Values []interface{}
	Delta  int64
	// Field - поле вложенного документа для ArrayRemoveWhere
	Field string
}

func Set(path string, value interface{}) Update {
	return Update{Path: path, Op: OpSet, Value: value}
}

func DeleteField(path string) Update {
	return Update{Path: path, Op: OpDelete}
}

func ArrayUnion(path string, values ...interface{}) Update {
	return Update{Path: path, Op: OpArrayUnion, Values: values}
}

func ArrayRemove(path string, values ...interface{}) Update {
	return Update{Path: path, Op: OpArrayRemove, Values: values}
}

// ArrayRemoveWhere удаляет из массива вложенные документы, у которых field равно value.
// Сравнивается одно поле, порядок ключей в документах не важен.
func ArrayRemoveWhere(path, field string, value interface{}) Update {
	return Update{Path: path, Op: OpArrayRemoveWhere, Field: field, Value: value}
}

func Increment(path string, delta int64) Update {
	return Update{Path: path, Op: OpIncrement, Delta: delta}
}

func ServerTimestamp(path string) Update {
	return Update{Path: path, Op: OpServerTimestamp}
}

// FieldPath собирает путь из сегментов. Точки внутри сегментов недопустимы.
func FieldPath(segments ...string) string {
	return strings.Join(segments, ".")
}

func validatePath(path string) error {
	if path == "" {
		return errors.New("empty field path")
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return fmt.Errorf("invalid field path %q", path)
		}
	}
	return nil
}

type FilterOp string

const (
	OpEqual         FilterOp = "=="
	OpNotEqual      FilterOp = "!="
	OpLess          FilterOp = "<"
	OpLessEqual     FilterOp = "<="
	OpGreater       FilterOp = ">"
	OpGreaterEqual  FilterOp = ">="
	OpIn            FilterOp = "in"
	OpArrayContains FilterOp = "array-contains"
)

type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

// Query - выборка документов одной коллекции
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

func NewQuery(collection string) Query {
	return Query{Collection: collection}
}

func (q Query) Where(field string, op FilterOp, value interface{}) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) Order(field string, descending bool) Query {
	q.OrderBy = field
	q.Descending = descending
	return q
}

func (q Query) Take(limit int) Query {
	q.Limit = limit
	return q
}

// Snapshot - состояние документа на момент чтения
type Snapshot struct {
	Ref    Ref
	Exists bool
	Data   map[string]interface{}
}

// DataTo раскладывает данные документа в структуру с bson-тегами
func (s *Snapshot) DataTo(v interface{}) error {
	if s == nil || !s.Exists {
		return ErrNotFound
	}
	raw, err := bson.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", s.Ref, err)
	}
	if err := bson.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode snapshot %s: %w", s.Ref, err)
	}
	return nil
}
