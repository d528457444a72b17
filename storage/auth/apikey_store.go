package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// KeyOrigin records how a key entered the store.
type KeyOrigin string

const (
	OriginConfig KeyOrigin = "config"
	OriginIssued KeyOrigin = "issued"
)

// ErrKeyConflict is returned when a key is already bound to another account.
var ErrKeyConflict = errors.New("api key bound to a different account")

// APIKey binds a key to the marketplace account it acts as. Key is only set
// on records returned by Issue and Get; stores keep the digest.
type APIKey struct {
	Key       string    `json:"key,omitempty"`
	Account   string    `json:"account"`
	Label     string    `json:"label,omitempty"`
	Origin    KeyOrigin `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKeyValidator resolves a presented key to its account binding.
type APIKeyValidator interface {
	Get(key string) (APIKey, bool)
}

// APIKeyStore keeps key bindings in memory, indexed by key digest.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]APIKey
}

// NewAPIKeyStore constructs an empty store.
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: make(map[string]APIKey)}
}

func normalizeBinding(key, account string) (string, string, error) {
	key, account = strings.TrimSpace(key), strings.TrimSpace(account)
	if key == "" || account == "" {
		return "", "", fmt.Errorf("api key and account required")
	}
	return key, account, nil
}

// Seed binds a configured key to account. Re-seeding the same binding is a
// no-op.
func (s *APIKeyStore) Seed(key, account string) error {
	key, account, err := normalizeBinding(key, account)
	if err != nil {
		return err
	}
	digest := hashKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.keys[digest]; ok {
		if rec.Account != account {
			return fmt.Errorf("%w: %s", ErrKeyConflict, rec.Account)
		}
		return nil
	}
	s.keys[digest] = APIKey{Account: account, Origin: OriginConfig, CreatedAt: time.Now()}
	return nil
}

// Get returns the binding for key.
func (s *APIKeyStore) Get(key string) (APIKey, bool) {
	if key == "" {
		return APIKey{}, false
	}
	s.mu.RLock()
	rec, ok := s.keys[hashKey(key)]
	s.mu.RUnlock()
	if !ok {
		return APIKey{}, false
	}
	rec.Key = key
	return rec, true
}

// Issue generates a fresh key for account. The returned record is the only
// place the plain key appears.
func (s *APIKeyStore) Issue(account, label string) (APIKey, error) {
	key, err := generateKey()
	if err != nil {
		return APIKey{}, err
	}
	if _, account, err = normalizeBinding(key, account); err != nil {
		return APIKey{}, err
	}
	rec := APIKey{Account: account, Label: label, Origin: OriginIssued, CreatedAt: time.Now()}
	s.mu.Lock()
	s.keys[hashKey(key)] = rec
	s.mu.Unlock()
	rec.Key = key
	return rec, nil
}

// Revoke removes key and reports whether it was bound.
func (s *APIKeyStore) Revoke(key string) bool {
	digest := hashKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[digest]
	delete(s.keys, digest)
	return ok
}

func generateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
