package marketplace

import (
	"context"
	"errors"
	"os"
	"testing"

	"taskmarket-backend/core/marketplace"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s marketplace.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("put get delete", func(t *testing.T) {
		err := s.Update(ctx, func(tx marketplace.KVTx) error {
			if err := tx.Put("b", "k1", []byte("v1")); err != nil {
				return err
			}
			v, ok, err := tx.Get("b", "k1")
			if err != nil || !ok || string(v) != "v1" {
				t.Fatalf("read own write: %q %v %v", v, ok, err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		err = s.View(ctx, func(tx marketplace.KVTx) error {
			v, ok, err := tx.Get("b", "k1")
			if err != nil || !ok || string(v) != "v1" {
				t.Fatalf("committed value: %q %v %v", v, ok, err)
			}
			_, ok, _ = tx.Get("b", "missing")
			if ok {
				t.Fatal("missing key reported present")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("view: %v", err)
		}
		if err := s.Update(ctx, func(tx marketplace.KVTx) error { return tx.Delete("b", "k1") }); err != nil {
			t.Fatalf("delete: %v", err)
		}
		_ = s.View(ctx, func(tx marketplace.KVTx) error {
			if _, ok, _ := tx.Get("b", "k1"); ok {
				t.Fatal("deleted key still present")
			}
			return nil
		})
	})

	t.Run("failed update rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.Update(ctx, func(tx marketplace.KVTx) error {
			if err := tx.Put("b", "rolled", []byte("x")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		_ = s.View(ctx, func(tx marketplace.KVTx) error {
			if _, ok, _ := tx.Get("b", "rolled"); ok {
				t.Fatal("write from failed update was committed")
			}
			return nil
		})
	})

	t.Run("scan is ordered and prefix bound", func(t *testing.T) {
		err := s.Update(ctx, func(tx marketplace.KVTx) error {
			for _, k := range []string{"p/03", "p/01", "q/01", "p/02"} {
				if err := tx.Put("scan", k, []byte(k)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		var got []string
		_ = s.View(ctx, func(tx marketplace.KVTx) error {
			return tx.Scan("scan", "p/", func(key string, value []byte) error {
				got = append(got, key)
				return nil
			})
		})
		want := []string{"p/01", "p/02", "p/03"}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, got)
			}
		}
	})

	t.Run("scan sees pending writes", func(t *testing.T) {
		err := s.Update(ctx, func(tx marketplace.KVTx) error {
			if err := tx.Put("scan", "p/00", []byte("new")); err != nil {
				return err
			}
			if err := tx.Delete("scan", "p/02"); err != nil {
				return err
			}
			var keys []string
			if err := tx.Scan("scan", "p/", func(key string, _ []byte) error {
				keys = append(keys, key)
				return nil
			}); err != nil {
				return err
			}
			if len(keys) != 3 || keys[0] != "p/00" || keys[2] != "p/03" {
				t.Fatalf("unexpected keys in tx: %v", keys)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreViewIsReadOnly(t *testing.T) {
	s := NewMemoryStore()
	err := s.View(context.Background(), func(tx marketplace.KVTx) error {
		return tx.Put("b", "k", []byte("v"))
	})
	if err == nil {
		t.Fatal("expected write in view to fail")
	}
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.Update(ctx, func(tx marketplace.KVTx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancelled update to be skipped, got %v called=%v", err, called)
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(s.Close)
	exerciseStore(t, s)
}

func TestPGStore(t *testing.T) {
	dsn := os.Getenv("MARKET_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MARKET_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPGStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Close)
	if _, err := s.pool.Exec(ctx, `DELETE FROM market_kv WHERE bucket IN ('b', 'scan')`); err != nil {
		t.Fatalf("reset: %v", err)
	}
	exerciseStore(t, s)
}

func TestMarketplaceOverSQLite(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	auth := marketplace.NewStaticAuthorizer()
	auth.Grant("root", "treasury", marketplace.ActionDeposit)
	m, err := marketplace.New(marketplace.Options{Store: s, Authorizer: auth})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(m.Close)
	ctx := context.Background()

	if _, err := m.Deposit(ctx, "root", "alice", 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := m.PostTask(ctx, "alice", "index the archive", 200, 0)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := m.BidOnTask(ctx, "bob", id, 200, "on it"); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := m.AssignTask(ctx, "alice", id, "bob"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := m.SubmitWork(ctx, "bob", id, []byte("done")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := m.ApproveWork(ctx, "alice", id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	bal, err := m.Balance(ctx, "bob")
	if err != nil || bal.Free != 200 {
		t.Fatalf("expected bob free=200, got %+v %v", bal, err)
	}
	if _, err := m.Audit(ctx); err != nil {
		t.Fatalf("audit: %v", err)
	}
}
