package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

type docKey struct {
	collection string
	id         string
}

type memoryDoc struct {
	data      []byte
	updatedAt time.Time
}

type subscriber struct {
	collections map[string]bool
	ch          chan Change
}

// MemoryStore is an in-process Store. Transactions are serialized: one transaction or batch
// commits at a time while plain reads proceed concurrently.
type MemoryStore struct {
	writeMu sync.Mutex // serializes transactions

	mu   sync.RWMutex // guards docs
	docs map[docKey]memoryDoc

	subMu  sync.Mutex
	subs   map[int]*subscriber
	nextID int

	hook func(changes []Change) error
	now  func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[docKey]memoryDoc),
		subs: make(map[int]*subscriber),
		now:  time.Now,
	}
}

// SetCommitHook installs a function called with the staged changes of every transaction
// just before they are applied. A non-nil return aborts the transaction with that error.
func (s *MemoryStore) SetCommitHook(hook func(changes []Change) error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.hook = hook
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[docKey{collection, id}]
	if !ok {
		return Snapshot{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return snapshotOf(collection, id, d), nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	want, err := filterObject(filters)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Snapshot
	for k, d := range s.docs {
		if k.collection != collection {
			continue
		}
		ok, err := matches(d.data, want)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}
		if ok {
			out = append(out, snapshotOf(k.collection, k.id, d))
		}
	}
	sortSnapshots(out)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, doc any) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Set(ctx, collection, id, doc)
	})
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Update(ctx, collection, id, fields)
	})
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Delete(ctx, collection, id)
	})
}

func (s *MemoryStore) Commit(ctx context.Context, b *Batch) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return b.applyTo(ctx, tx)
	})
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := &memoryTx{store: s, pending: make(map[docKey]*memoryDoc)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if s.hook != nil {
		if err := s.hook(tx.changes); err != nil {
			return err
		}
	}

	now := s.now()
	s.mu.Lock()
	for k, d := range tx.pending {
		if d == nil {
			delete(s.docs, k)
			continue
		}
		d.updatedAt = now
		s.docs[k] = *d
	}
	s.mu.Unlock()

	s.notify(tx.changes)
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, collections ...string) (<-chan Change, error) {
	sub := &subscriber{collections: make(map[string]bool), ch: make(chan Change, 64)}
	for _, c := range collections {
		sub.collections[c] = true
	}
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, id)
		close(sub.ch)
		s.subMu.Unlock()
	}()
	return sub.ch, nil
}

func (s *MemoryStore) notify(changes []Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, c := range changes {
		for _, sub := range s.subs {
			if !sub.collections[c.Collection] {
				continue
			}
			select {
			case sub.ch <- c:
			default:
				// watcher is behind; it re-reads on the changes it does receive
			}
		}
	}
}

type memoryTx struct {
	store   *MemoryStore
	pending map[docKey]*memoryDoc // nil value marks a delete
	changes []Change
}

func (t *memoryTx) lookup(k docKey) (memoryDoc, bool) {
	if d, staged := t.pending[k]; staged {
		if d == nil {
			return memoryDoc{}, false
		}
		return *d, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	d, ok := t.store.docs[k]
	return d, ok
}

func (t *memoryTx) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	d, ok := t.lookup(docKey{collection, id})
	if !ok {
		return Snapshot{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return snapshotOf(collection, id, d), nil
}

func (t *memoryTx) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	want, err := filterObject(filters)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]memoryDoc)
	t.store.mu.RLock()
	for k, d := range t.store.docs {
		if k.collection == collection {
			merged[k.id] = d
		}
	}
	t.store.mu.RUnlock()
	for k, d := range t.pending {
		if k.collection != collection {
			continue
		}
		if d == nil {
			delete(merged, k.id)
		} else {
			merged[k.id] = *d
		}
	}

	var out []Snapshot
	for id, d := range merged {
		ok, err := matches(d.data, want)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}
		if ok {
			out = append(out, snapshotOf(collection, id, d))
		}
	}
	sortSnapshots(out)
	return out, nil
}

func (t *memoryTx) Set(ctx context.Context, collection, id string, doc any) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	t.pending[docKey{collection, id}] = &memoryDoc{data: data}
	t.changes = append(t.changes, Change{Collection: collection, ID: id, Kind: ChangeSet})
	return nil
}

func (t *memoryTx) Update(ctx context.Context, collection, id string, fields Fields) error {
	k := docKey{collection, id}
	d, ok := t.lookup(k)
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(d.data, &obj); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	for name, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", name, err)
		}
		obj[name] = raw
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	t.pending[k] = &memoryDoc{data: data}
	t.changes = append(t.changes, Change{Collection: collection, ID: id, Kind: ChangeUpdate})
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, collection, id string) error {
	t.pending[docKey{collection, id}] = nil
	t.changes = append(t.changes, Change{Collection: collection, ID: id, Kind: ChangeDelete})
	return nil
}

func snapshotOf(collection, id string, d memoryDoc) Snapshot {
	data := make([]byte, len(d.data))
	copy(data, d.data)
	return Snapshot{Collection: collection, ID: id, Data: data, UpdatedAt: d.updatedAt}
}

func sortSnapshots(s []Snapshot) {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}

// matches reports whether the JSON document contains every field of want.
func matches(data []byte, want map[string]any) (bool, error) {
	if len(want) == 0 {
		return true, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, err
	}
	return contains(doc, want), nil
}

func contains(doc, want map[string]any) bool {
	for k, wv := range want {
		dv, ok := doc[k]
		if !ok {
			return false
		}
		if wm, ok := wv.(map[string]any); ok {
			dm, ok := dv.(map[string]any)
			if !ok || !contains(dm, wm) {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(dv, wv) {
			return false
		}
	}
	return true
}
