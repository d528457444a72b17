package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"taskmarket-backend/core/marketplace"
)

// PGStore persists marketplace state in Postgres. Every Update runs in a
// SERIALIZABLE transaction; serialization failures are returned as-is.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ marketplace.Store = (*PGStore)(nil)

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS market_kv (
  bucket TEXT NOT NULL,
  key TEXT NOT NULL,
  value BYTEA NOT NULL,
  PRIMARY KEY (bucket, key)
);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *PGStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PGStore) run(ctx context.Context, opts pgx.TxOptions, commit bool, fn func(marketplace.KVTx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if !commit {
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Update runs fn in a serializable read-write transaction.
func (s *PGStore) Update(ctx context.Context, fn func(marketplace.KVTx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, true, fn)
}

// View runs fn in a read-only transaction.
func (s *PGStore) View(ctx context.Context, fn func(marketplace.KVTx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, false, fn)
}

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *pgTx) Get(bucket, key string) ([]byte, bool, error) {
	var value []byte
	err := t.tx.QueryRow(t.ctx, `SELECT value FROM market_kv WHERE bucket=$1 AND key=$2`, bucket, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return value, true, nil
}

func (t *pgTx) Put(bucket, key string, value []byte) error {
	_, err := t.tx.Exec(t.ctx, `
INSERT INTO market_kv (bucket, key, value) VALUES ($1, $2, $3)
ON CONFLICT (bucket, key) DO UPDATE SET value = EXCLUDED.value`, bucket, key, value)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (t *pgTx) Delete(bucket, key string) error {
	if _, err := t.tx.Exec(t.ctx, `DELETE FROM market_kv WHERE bucket=$1 AND key=$2`, bucket, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Scan reads every matching row before calling fn so fn may issue queries.
func (t *pgTx) Scan(bucket, prefix string, fn func(key string, value []byte) error) error {
	rows, err := t.tx.Query(t.ctx, `
SELECT key, value FROM market_kv
WHERE bucket=$1 AND starts_with(key, $2)
ORDER BY key COLLATE "C"`, bucket, prefix)
	if err != nil {
		return fmt.Errorf("scan %s: %w", bucket, err)
	}
	type row struct {
		key   string
		value []byte
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.value); err != nil {
			rows.Close()
			return fmt.Errorf("scan %s: %w", bucket, err)
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", bucket, err)
	}
	for _, r := range all {
		if err := fn(r.key, r.value); err != nil {
			return err
		}
	}
	return nil
}
