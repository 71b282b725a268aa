package filecache

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/xfxf/dabo/internal/apperr"
	"github.com/xfxf/dabo/internal/database"
	"github.com/xfxf/dabo/pkg/models"
)

type clocked interface {
	Store
	setNow(func() time.Time)
}

func (m *Memory) setNow(f func() time.Time) { m.now = f }
func (s *SQL) setNow(f func() time.Time)    { s.now = f }

func newSQLStore(t *testing.T, ttl time.Duration) *SQL {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, "filecache-test", database.SQLite, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQL(db, ttl)
}

func stores(t *testing.T, ttl time.Duration) map[string]clocked {
	return map[string]clocked{
		"memory": NewMemory(ttl),
		"sqlite": newSQLStore(t, ttl),
	}
}

func TestStoreFetch(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, time.Hour) {
		t.Run(name, func(t *testing.T) {
			diff := models.Diff{"a.txt": 100, "gone.py": models.DeletedMarker}
			tok, err := s.Store(ctx, diff)
			if err != nil {
				t.Fatalf("Store: %v", err)
			}
			if tok == "" {
				t.Fatal("empty token")
			}

			got, err := s.Fetch(ctx, tok)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if !reflect.DeepEqual(got, diff) {
				t.Errorf("Fetch = %v, want %v", got, diff)
			}

			// Tokens are not single-use.
			if _, err := s.Fetch(ctx, tok); err != nil {
				t.Errorf("second Fetch: %v", err)
			}

			other, _ := s.Store(ctx, models.Diff{})
			if other == tok {
				t.Error("tokens should be unique")
			}
			empty, err := s.Fetch(ctx, other)
			if err != nil || len(empty) != 0 {
				t.Errorf("empty diff round trip: %v %v", empty, err)
			}
		})
	}
}

func TestFetchUnknown(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, time.Hour) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Fetch(ctx, "no-such-token"); !apperr.IsNotFound(err) {
				t.Errorf("Fetch unknown = %v, want NotFound", err)
			}
		})
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t, time.Minute) {
		t.Run(name, func(t *testing.T) {
			base := time.Now()
			s.setNow(func() time.Time { return base })
			tok, err := s.Store(ctx, models.Diff{"a": 1})
			if err != nil {
				t.Fatal(err)
			}

			s.setNow(func() time.Time { return base.Add(2 * time.Minute) })
			if _, err := s.Fetch(ctx, tok); !apperr.IsNotFound(err) {
				t.Errorf("expired Fetch = %v, want NotFound", err)
			}

			n, err := s.Prune(ctx, base.Add(time.Second))
			if err != nil || n != 1 {
				t.Errorf("Prune = %d, %v, want 1", n, err)
			}
			n, _ = s.Prune(ctx, base.Add(time.Second))
			if n != 0 {
				t.Errorf("second Prune = %d, want 0", n)
			}
		})
	}
}

func TestPruneKeepsFresh(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	tok, _ := m.Store(ctx, models.Diff{"a": 1})
	if n, _ := m.Prune(ctx, time.Now().Add(-time.Hour)); n != 0 {
		t.Errorf("pruned %d fresh entries", n)
	}
	if _, err := m.Fetch(ctx, tok); err != nil {
		t.Errorf("Fetch after Prune: %v", err)
	}
}

func TestJanitor(t *testing.T) {
	m := NewMemory(0)
	base := time.Now()
	m.setNow(func() time.Time { return base.Add(-time.Hour) })
	m.Store(context.Background(), models.Diff{"old": 1})
	m.setNow(time.Now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Janitor(ctx, m, time.Minute, 5*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for m.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Janitor returned %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("janitor left %d entries", m.Len())
	}
}
