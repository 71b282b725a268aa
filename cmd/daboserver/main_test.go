package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xfxf/dabo/internal/config"
	"github.com/xfxf/dabo/internal/filecache"
	"github.com/xfxf/dabo/pkg/conndef"
	"github.com/xfxf/dabo/pkg/models"
)

func TestDefaultDatabase(t *testing.T) {
	conns := map[string]conndef.ConnectionDef{
		"app@db": {DBType: "postgres", Host: "db", Database: "orders", User: "app", Password: "pw", Port: "5432"},
	}
	tests := []struct {
		name       string
		cfg        config.Config
		wantDriver string
		wantDSN    string
		wantOK     bool
		wantErr    bool
	}{
		{"none", config.Config{}, "", "", false, false},
		{"postgres url", config.Config{DatabaseURL: "postgres://u@h/db"}, "postgres", "postgres://u@h/db", true, false},
		{"sqlite url", config.Config{DatabaseURL: "sqlite:///tmp/x.db"}, "sqlite3", "/tmp/x.db", true, false},
		{"connection", config.Config{ConnectionName: "app@db"}, "postgres", "postgres://app:pw@db:5432/orders?sslmode=disable", true, false},
		{"unknown connection", config.Config{ConnectionName: "x@y"}, "", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, ok, err := defaultDatabase(&tt.cfg, conns)
			if (err != nil) != tt.wantErr || ok != tt.wantOK || driver != tt.wantDriver || dsn != tt.wantDSN {
				t.Errorf("got %q %q %v %v", driver, dsn, ok, err)
			}
		})
	}
}

func TestOpenCache(t *testing.T) {
	ctx := context.Background()

	mem, db, err := openCache(ctx, &config.Config{CacheBackend: "memory", CacheTTL: time.Hour}, nil)
	if err != nil || db != nil {
		t.Fatalf("memory cache: %v %v", db, err)
	}
	if _, ok := mem.(*filecache.Memory); !ok {
		t.Errorf("memory backend is %T", mem)
	}

	cfg := &config.Config{CacheBackend: "sqlite", CachePath: filepath.Join(t.TempDir(), "c.db"), CacheTTL: time.Hour}
	store, db, err := openCache(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("sqlite cache: %v", err)
	}
	defer db.Close()
	tok, err := store.Store(ctx, models.Diff{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Fetch(ctx, tok); err != nil {
		t.Errorf("Fetch: %v", err)
	}

	if _, _, err := openCache(ctx, &config.Config{CacheBackend: "postgres"}, nil); err == nil {
		t.Error("postgres cache without a database accepted")
	}
}

func TestOpenSource(t *testing.T) {
	ctx := context.Background()
	src, err := openSource(ctx, &config.Config{SourceBackend: "local", SourcePath: t.TempDir()})
	if err != nil {
		t.Fatalf("openSource: %v", err)
	}
	if src.Type() != "local" {
		t.Errorf("Type = %q", src.Type())
	}
	if _, err := openSource(ctx, &config.Config{SourceBackend: "local", SourcePath: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("missing source directory accepted")
	}
}

func TestJanitorInterval(t *testing.T) {
	if got := janitorInterval(time.Hour); got != 15*time.Minute {
		t.Errorf("janitorInterval(1h) = %v", got)
	}
	if got := janitorInterval(time.Minute); got != time.Minute {
		t.Errorf("janitorInterval(1m) = %v", got)
	}
}
