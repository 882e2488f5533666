// Package docstore is a small document-database abstraction: named collections of JSON
// documents addressed by id, equality queries, atomic transactions and write batches, and
// change notifications. Two backends exist: PostgresStore (JSONB rows, LISTEN/NOTIFY) for
// production and MemoryStore for development and tests.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get and Update when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Snapshot is a read view of one stored document.
type Snapshot struct {
	Collection string
	ID         string
	Data       json.RawMessage
	UpdatedAt  time.Time
}

// Decode unmarshals the document body into dest.
func (s Snapshot) Decode(dest any) error {
	if err := json.Unmarshal(s.Data, dest); err != nil {
		return fmt.Errorf("decode %s/%s: %w", s.Collection, s.ID, err)
	}
	return nil
}

// Filter is an equality condition on a document field. Dotted field names address nested
// objects ("client.country").
type Filter struct {
	Field string
	Value any
}

// Where builds an equality Filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Fields is a partial document used by Update. Keys are top-level field names; values
// replace the stored values.
type Fields map[string]any

// Reader is the read half of a store or transaction.
type Reader interface {
	Get(ctx context.Context, collection, id string) (Snapshot, error)
	// Query returns every document in collection matching all filters, ordered by id.
	Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error)
}

// Writer is the write half of a store or transaction.
type Writer interface {
	// Set creates or replaces the document.
	Set(ctx context.Context, collection, id string, doc any) error
	// Update merges fields into an existing document. Returns ErrNotFound if it is absent.
	Update(ctx context.Context, collection, id string, fields Fields) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
}

// Tx is a transaction handle passed to RunTransaction callbacks.
type Tx interface {
	Reader
	Writer
}

// ChangeKind describes the kind of write that produced a Change.
type ChangeKind string

const (
	ChangeSet    ChangeKind = "set"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is a notification that a document was written. Notifications may be coalesced
// when a watcher falls behind; watchers must treat a Change as "something in this
// collection changed" and re-read.
type Change struct {
	Collection string
	ID         string
	Kind       ChangeKind
}

// Store is a document database.
type Store interface {
	Reader
	Writer

	// RunTransaction runs fn atomically. Writes made through tx become visible only if fn
	// returns nil. fn must use tx, not the Store, for every read and write it performs.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Commit applies every operation in b atomically: either all take effect or none.
	Commit(ctx context.Context, b *Batch) error

	// Watch streams changes to the named collections until ctx is done, then closes the
	// channel. The channel is also closed if the backend connection is lost.
	Watch(ctx context.Context, collections ...string) (<-chan Change, error)
}

type opKind int

const (
	opSet opKind = iota
	opUpdate
	opDelete
)

type batchOp struct {
	kind       opKind
	collection string
	id         string
	doc        any
	fields     Fields
}

// Batch is an ordered list of writes committed together by Store.Commit.
type Batch struct {
	ops []batchOp
}

// NewBatch returns an empty Batch.
func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Set(collection, id string, doc any) *Batch {
	b.ops = append(b.ops, batchOp{kind: opSet, collection: collection, id: id, doc: doc})
	return b
}

func (b *Batch) Update(collection, id string, fields Fields) *Batch {
	b.ops = append(b.ops, batchOp{kind: opUpdate, collection: collection, id: id, fields: fields})
	return b
}

func (b *Batch) Delete(collection, id string) *Batch {
	b.ops = append(b.ops, batchOp{kind: opDelete, collection: collection, id: id})
	return b
}

// Len returns the number of queued writes.
func (b *Batch) Len() int {
	return len(b.ops)
}

// applyTo replays the batch through w, stopping at the first failing write.
func (b *Batch) applyTo(ctx context.Context, w Writer) error {
	for i, op := range b.ops {
		var err error
		switch op.kind {
		case opSet:
			err = w.Set(ctx, op.collection, op.id, op.doc)
		case opUpdate:
			err = w.Update(ctx, op.collection, op.id, op.fields)
		case opDelete:
			err = w.Delete(ctx, op.collection, op.id)
		}
		if err != nil {
			return fmt.Errorf("batch write %d (%s/%s): %w", i, op.collection, op.id, err)
		}
	}
	return nil
}

// marshalDoc encodes doc as a JSON object.
func marshalDoc(doc any) ([]byte, error) {
	if raw, ok := doc.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("document must encode to a JSON object, got %.20s", data)
	}
	return data, nil
}

// filterObject nests a filter into the JSON object shape used for containment matching:
// Where("client.country", "IN") becomes {"client": {"country": "IN"}}.
func filterObject(filters []Filter) (map[string]any, error) {
	root := map[string]any{}
	for _, f := range filters {
		if f.Field == "" {
			return nil, errors.New("filter field must not be empty")
		}
		parts := strings.Split(f.Field, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		v, err := normalizeValue(f.Value)
		if err != nil {
			return nil, err
		}
		node[parts[len(parts)-1]] = v
	}
	return root, nil
}

// normalizeValue round-trips v through JSON so it compares equal to decoded document values.
func normalizeValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode filter value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode filter value: %w", err)
	}
	return out, nil
}
