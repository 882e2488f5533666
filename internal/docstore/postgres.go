package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the PostgreSQL channel the documents trigger publishes changes on.
const NotifyChannel = "docstore_changes"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps every collection in the single `documents` table
// (collection, id, data JSONB, updated_at). See migrations/001_documents.sql.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Store backed by the documents table.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	return getDoc(ctx, s.pool, collection, id, false)
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	return queryDocs(ctx, s.pool, collection, filters, false)
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, doc any) error {
	return setDoc(ctx, s.pool, collection, id, doc)
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	return updateDoc(ctx, s.pool, collection, id, fields)
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	return deleteDoc(ctx, s.pool, collection, id)
}

func (s *PostgresStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Commit(ctx context.Context, b *Batch) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return b.applyTo(ctx, tx)
	})
}

// Watch holds one pooled connection in LISTEN mode for the lifetime of ctx.
func (s *PostgresStore) Watch(ctx context.Context, collections ...string) (<-chan Change, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	wanted := make(map[string]bool, len(collections))
	for _, c := range collections {
		wanted[c] = true
	}

	ch := make(chan Change, 64)
	go func() {
		defer close(ch)
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				return
			}
			var p struct {
				Collection string `json:"collection"`
				ID         string `json:"id"`
				Op         string `json:"op"`
			}
			if err := json.Unmarshal([]byte(n.Payload), &p); err != nil || !wanted[p.Collection] {
				continue
			}
			c := Change{Collection: p.Collection, ID: p.ID, Kind: changeKindFromOp(p.Op)}
			select {
			case ch <- c:
			default:
			}
		}
	}()
	return ch, nil
}

func changeKindFromOp(op string) ChangeKind {
	switch op {
	case "DELETE":
		return ChangeDelete
	case "UPDATE":
		return ChangeUpdate
	default:
		return ChangeSet
	}
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	return getDoc(ctx, t.tx, collection, id, true)
}

func (t *postgresTx) Query(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	return queryDocs(ctx, t.tx, collection, filters, true)
}

func (t *postgresTx) Set(ctx context.Context, collection, id string, doc any) error {
	return setDoc(ctx, t.tx, collection, id, doc)
}

func (t *postgresTx) Update(ctx context.Context, collection, id string, fields Fields) error {
	return updateDoc(ctx, t.tx, collection, id, fields)
}

func (t *postgresTx) Delete(ctx context.Context, collection, id string) error {
	return deleteDoc(ctx, t.tx, collection, id)
}

func getDoc(ctx context.Context, q querier, collection, id string, lock bool) (Snapshot, error) {
	sql := `SELECT data, updated_at FROM documents WHERE collection = $1 AND id = $2`
	if lock {
		sql += ` FOR UPDATE`
	}
	snap := Snapshot{Collection: collection, ID: id}
	var data []byte
	err := q.QueryRow(ctx, sql, collection, id).Scan(&data, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return Snapshot{}, fmt.Errorf("failed to read %s/%s: %w", collection, id, err)
	}
	snap.Data = data
	return snap, nil
}

func queryDocs(ctx context.Context, q querier, collection string, filters []Filter, lock bool) ([]Snapshot, error) {
	sql := `SELECT id, data, updated_at FROM documents WHERE collection = $1`
	args := []any{collection}
	if len(filters) > 0 {
		want, err := filterObject(filters)
		if err != nil {
			return nil, err
		}
		containment, err := json.Marshal(want)
		if err != nil {
			return nil, fmt.Errorf("encode filters: %w", err)
		}
		sql += ` AND data @> $2::jsonb`
		args = append(args, string(containment))
	}
	sql += ` ORDER BY id`
	if lock {
		sql += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap := Snapshot{Collection: collection}
		var data []byte
		if err := rows.Scan(&snap.ID, &data, &snap.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		snap.Data = data
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", collection, err)
	}
	return out, nil
}

func setDoc(ctx context.Context, q querier, collection, id string, doc any) error {
	data, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, collection, id, string(data))
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}
	return nil
}

func updateDoc(ctx context.Context, q querier, collection, id string, fields Fields) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode update for %s/%s: %w", collection, id, err)
	}
	tag, err := q.Exec(ctx, `
		UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2
	`, collection, id, string(patch))
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func deleteDoc(ctx context.Context, q querier, collection, id string) error {
	if _, err := q.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}
