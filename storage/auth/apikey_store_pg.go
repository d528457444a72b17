package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// hashKey is the lookup digest stored in place of the key itself.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// PGAPIKeyStore persists key bindings in Postgres next to market state.
type PGAPIKeyStore struct {
	pool *pgxpool.Pool
}

// NewPGAPIKeyStore connects and initializes schema.
func NewPGAPIKeyStore(ctx context.Context, dsn string) (*PGAPIKeyStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGAPIKeyStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGAPIKeyStore) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS market_api_keys (
  key_hash TEXT PRIMARY KEY,
  account TEXT NOT NULL,
  label TEXT NOT NULL DEFAULT '',
  origin TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_market_api_keys_account ON market_api_keys(account);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the pool.
func (s *PGAPIKeyStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Get returns the binding for key.
func (s *PGAPIKeyStore) Get(key string) (APIKey, bool) {
	if key == "" {
		return APIKey{}, false
	}
	rec := APIKey{Key: key}
	var origin string
	err := s.pool.QueryRow(context.Background(),
		"SELECT account, label, origin, created_at FROM market_api_keys WHERE key_hash=$1",
		hashKey(key),
	).Scan(&rec.Account, &rec.Label, &origin, &rec.CreatedAt)
	if err != nil {
		return APIKey{}, false
	}
	rec.Origin = KeyOrigin(origin)
	return rec, true
}

// Seed binds a configured key to account, failing if the key already
// belongs to another account.
func (s *PGAPIKeyStore) Seed(key, account string) error {
	key, account, err := normalizeBinding(key, account)
	if err != nil {
		return err
	}
	ctx := context.Background()
	_, err = s.pool.Exec(ctx,
		"INSERT INTO market_api_keys (key_hash, account, origin, created_at) VALUES ($1,$2,$3,$4) ON CONFLICT (key_hash) DO NOTHING",
		hashKey(key), account, string(OriginConfig), time.Now())
	if err != nil {
		return fmt.Errorf("seed api key: %w", err)
	}
	var bound string
	if err := s.pool.QueryRow(ctx, "SELECT account FROM market_api_keys WHERE key_hash=$1", hashKey(key)).Scan(&bound); err != nil {
		return fmt.Errorf("seed api key: %w", err)
	}
	if bound != account {
		return fmt.Errorf("%w: %s", ErrKeyConflict, bound)
	}
	return nil
}

// Issue generates and stores a fresh key for account.
func (s *PGAPIKeyStore) Issue(account, label string) (APIKey, error) {
	key, err := generateKey()
	if err != nil {
		return APIKey{}, err
	}
	if _, account, err = normalizeBinding(key, account); err != nil {
		return APIKey{}, err
	}
	rec := APIKey{Key: key, Account: account, Label: label, Origin: OriginIssued, CreatedAt: time.Now()}
	_, err = s.pool.Exec(context.Background(),
		"INSERT INTO market_api_keys (key_hash, account, label, origin, created_at) VALUES ($1,$2,$3,$4,$5)",
		hashKey(key), rec.Account, rec.Label, string(rec.Origin), rec.CreatedAt)
	if err != nil {
		return APIKey{}, fmt.Errorf("issue api key: %w", err)
	}
	return rec, nil
}

// Revoke removes key and reports whether it was bound.
func (s *PGAPIKeyStore) Revoke(key string) bool {
	tag, err := s.pool.Exec(context.Background(), "DELETE FROM market_api_keys WHERE key_hash=$1", hashKey(key))
	return err == nil && tag.RowsAffected() > 0
}
