package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
)

// MemoryStore - хранилище в памяти процесса. Серверное время берется из clock,
// подписчики вызываются синхронно после записи, вне блокировки.
type MemoryStore struct {
	mu       sync.RWMutex
	clock    clock.Clock
	docs     map[string]map[string]map[string]interface{} // collection -> id -> data
	watchers map[int]*watcher
	nextID   int
}

type watcher struct {
	ref    *Ref
	query  *Query
	onDoc  func(*Snapshot)
	onList func([]*Snapshot)
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		clock:    clk,
		docs:     make(map[string]map[string]map[string]interface{}),
		watchers: make(map[int]*watcher),
	}
}

func (s *MemoryStore) Create(ctx context.Context, ref Ref, data interface{}, stamps ...string) error {
	doc, err := toDocument(data)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for _, path := range stamps {
		if err := apply(doc, ServerTimestamp(path), now); err != nil {
			return err
		}
	}

	s.mu.Lock()
	coll := s.docs[ref.Collection]
	if coll == nil {
		coll = make(map[string]map[string]interface{})
		s.docs[ref.Collection] = coll
	}
	if _, exists := coll[ref.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", ref, ErrAlreadyExists)
	}
	coll[ref.ID] = doc
	notify := s.collectLocked([]Ref{ref})
	s.mu.Unlock()

	notify()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, ref Ref) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshotLocked(ref)
	if !snap.Exists {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return snap, nil
}

func (s *MemoryStore) Update(ctx context.Context, ref Ref, updates ...Update) error {
	return s.BatchUpdate(ctx, []Write{{Ref: ref, Updates: updates}})
}

// BatchUpdate применяется целиком или не применяется вовсе
func (s *MemoryStore) BatchUpdate(ctx context.Context, writes []Write) error {
	now := s.clock.Now()

	s.mu.Lock()
	staged := make(map[string]map[string]interface{}, len(writes))
	refs := make([]Ref, 0, len(writes))
	for _, w := range writes {
		key := w.Ref.Path()
		doc, ok := staged[key]
		if !ok {
			current, exists := s.docs[w.Ref.Collection][w.Ref.ID]
			if !exists {
				s.mu.Unlock()
				return fmt.Errorf("%s: %w", w.Ref, ErrNotFound)
			}
			doc = clone(current).(map[string]interface{})
			staged[key] = doc
			refs = append(refs, w.Ref)
		}
		for _, u := range w.Updates {
			if err := apply(doc, u, now); err != nil {
				s.mu.Unlock()
				return fmt.Errorf("%s: %w", w.Ref, err)
			}
		}
	}
	for _, ref := range refs {
		s.docs[ref.Collection][ref.ID] = staged[ref.Path()]
	}
	notify := s.collectLocked(refs)
	s.mu.Unlock()

	notify()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, ref Ref) error {
	s.mu.Lock()
	if coll := s.docs[ref.Collection]; coll != nil {
		delete(coll, ref.ID)
	}
	notify := s.collectLocked([]Ref{ref})
	s.mu.Unlock()

	notify()
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLocked(q), nil
}

func (s *MemoryStore) Watch(ctx context.Context, ref Ref, fn func(*Snapshot)) (Unsubscribe, error) {
	r := ref
	return s.subscribe(&watcher{ref: &r, onDoc: fn}), nil
}

func (s *MemoryStore) WatchQuery(ctx context.Context, q Query, fn func([]*Snapshot)) (Unsubscribe, error) {
	query := q
	return s.subscribe(&watcher{query: &query, onList: fn}), nil
}

func (s *MemoryStore) subscribe(w *watcher) Unsubscribe {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
	initial := s.deliveryLocked(w)
	s.mu.Unlock()

	initial()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

// collectLocked собирает уведомления для подписчиков, затронутых изменением refs
func (s *MemoryStore) collectLocked(refs []Ref) func() {
	var calls []func()
	ids := make([]int, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		w := s.watchers[id]
		for _, ref := range refs {
			if (w.ref != nil && w.ref.Path() == ref.Path()) ||
				(w.query != nil && w.query.Collection == ref.Collection) {
				calls = append(calls, s.deliveryLocked(w))
				break
			}
		}
	}
	return func() {
		for _, call := range calls {
			call()
		}
	}
}

func (s *MemoryStore) deliveryLocked(w *watcher) func() {
	if w.ref != nil {
		snap := s.snapshotLocked(*w.ref)
		return func() { w.onDoc(snap) }
	}
	list := s.queryLocked(*w.query)
	return func() { w.onList(list) }
}

func (s *MemoryStore) snapshotLocked(ref Ref) *Snapshot {
	doc, ok := s.docs[ref.Collection][ref.ID]
	if !ok {
		return &Snapshot{Ref: ref}
	}
	return &Snapshot{Ref: ref, Exists: true, Data: clone(doc).(map[string]interface{})}
}

func (s *MemoryStore) queryLocked(q Query) []*Snapshot {
	var out []*Snapshot
	for id, doc := range s.docs[q.Collection] {
		ok := true
		for _, f := range q.Filters {
			if !matches(doc, f) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, &Snapshot{
				Ref:    Doc(q.Collection, id),
				Exists: true,
				Data:   clone(doc).(map[string]interface{}),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy != "" {
			a, _ := lookup(out[i].Data, q.OrderBy)
			b, _ := lookup(out[j].Data, q.OrderBy)
			if c, ok := compare(a, b); ok && c != 0 {
				if q.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return strings.Compare(out[i].Ref.ID, out[j].Ref.ID) < 0
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
