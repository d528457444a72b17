package marketplace

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"taskmarket-backend/core/marketplace"
)

var errReadOnly = errors.New("write in read-only transaction")

// MemoryStore holds marketplace state in memory. A single RWMutex guards all
// buckets; Update buffers writes and applies them only when fn succeeds.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string][]byte)}
}

var _ marketplace.Store = (*MemoryStore)(nil)

// Update runs fn against a write-buffered transaction.
func (s *MemoryStore) Update(ctx context.Context, fn func(marketplace.KVTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, writes: make(map[string]map[string]*[]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// View runs fn against a read-only transaction.
func (s *MemoryStore) View(ctx context.Context, fn func(marketplace.KVTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memoryTx{store: s, readOnly: true})
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// memoryTx overlays pending writes on the committed buckets. A nil entry in
// writes marks a deletion.
type memoryTx struct {
	store    *MemoryStore
	writes   map[string]map[string]*[]byte
	readOnly bool
}

func (tx *memoryTx) Get(bucket, key string) ([]byte, bool, error) {
	if w, ok := tx.writes[bucket][key]; ok {
		if w == nil {
			return nil, false, nil
		}
		return slices.Clone(*w), true, nil
	}
	v, ok := tx.store.buckets[bucket][key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

func (tx *memoryTx) set(bucket, key string, value *[]byte) error {
	if tx.readOnly {
		return errReadOnly
	}
	b, ok := tx.writes[bucket]
	if !ok {
		b = make(map[string]*[]byte)
		tx.writes[bucket] = b
	}
	b[key] = value
	return nil
}

func (tx *memoryTx) Put(bucket, key string, value []byte) error {
	v := slices.Clone(value)
	return tx.set(bucket, key, &v)
}

func (tx *memoryTx) Delete(bucket, key string) error {
	return tx.set(bucket, key, nil)
}

func (tx *memoryTx) Scan(bucket, prefix string, fn func(key string, value []byte) error) error {
	seen := make(map[string]struct{})
	var keys []string
	for k := range tx.store.buckets[bucket] {
		if strings.HasPrefix(k, prefix) {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k := range tx.writes[bucket] {
		if _, dup := seen[k]; !dup && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		v, ok, _ := tx.Get(bucket, k)
		if !ok {
			continue
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memoryTx) commit() {
	for bucket, writes := range tx.writes {
		b, ok := tx.store.buckets[bucket]
		if !ok {
			b = make(map[string][]byte)
			tx.store.buckets[bucket] = b
		}
		for k, v := range writes {
			if v == nil {
				delete(b, k)
				continue
			}
			b[k] = *v
		}
	}
}
