// Dabo application server
//
// Serves application updates (manifests, diffs and file archives) and
// remote bizobj calls to Dabo clients.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xfxf/dabo/internal/api"
	"github.com/xfxf/dabo/internal/auth"
	"github.com/xfxf/dabo/internal/bizobj"
	"github.com/xfxf/dabo/internal/config"
	"github.com/xfxf/dabo/internal/database"
	"github.com/xfxf/dabo/internal/filecache"
	"github.com/xfxf/dabo/internal/logging"
	"github.com/xfxf/dabo/internal/metrics"
	"github.com/xfxf/dabo/internal/storage"
	"github.com/xfxf/dabo/internal/storage/local"
	s3storage "github.com/xfxf/dabo/internal/storage/s3"
	"github.com/xfxf/dabo/pkg/conndef"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "logging init error:", err)
		os.Exit(2)
	}
	defer logging.Sync()

	logging.Info("Dabo server starting...",
		zap.String("version", version),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	source, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer source.Close()
	logging.Info("source storage ready", zap.String("backend", source.Type()))

	var conns map[string]conndef.ConnectionDef
	if cfg.ConnectionsFile != "" {
		if conns, err = conndef.Load(cfg.ConnectionsFile); err != nil {
			return err
		}
		logging.Info("connection definitions loaded", zap.Int("count", len(conns)))
	}

	var dbs []*database.DB
	defer func() {
		for _, db := range dbs {
			db.Close()
		}
	}()

	cache, cacheDB, err := openCache(ctx, cfg, conns)
	if err != nil {
		return err
	}
	if cacheDB != nil {
		dbs = append(dbs, cacheDB)
	}

	registry := bizobj.NewRegistry()
	if cfg.BizobjConfig != "" {
		bizCfg, err := bizobj.LoadConfigFile(cfg.BizobjConfig)
		if err != nil {
			return err
		}
		if driver, dsn, ok, err := defaultDatabase(cfg, conns); err != nil {
			return err
		} else if ok {
			bizCfg.SetDefaultDatabase(driver, dsn)
		}
		bizDBs, err := bizobj.RegisterAll(ctx, registry, bizCfg, conns)
		if err != nil {
			return err
		}
		dbs = append(dbs, bizDBs...)
	}
	if len(registry.DataSources()) == 0 {
		logging.Warn("no bizobj data sources registered")
	}

	pool := bizobj.NewPool(cfg.SessionTTL)
	minter := auth.NewMinter(cfg.SessionSecret, cfg.SessionTTL)

	srv := api.NewServer(api.Options{
		Source:           source,
		Cache:            cache,
		Registry:         registry,
		Proxy:            bizobj.NewProxy(registry, pool, minter),
		MaxManifestBytes: cfg.MaxManifestBytes,
		Version:          version,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return filecache.Janitor(gctx, cache, cfg.CacheTTL, janitorInterval(cfg.CacheTTL))
	})
	g.Go(func() error {
		return pool.Run(gctx, time.Minute)
	})
	for _, db := range dbs {
		g.Go(func() error {
			return db.RunMetrics(gctx, 15*time.Second)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Shutdown(shutdownCtx)
		return nil
	})

	return g.Wait()
}

func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

// openSource builds the source storage backend named by SOURCE_BACKEND.
func openSource(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	factory := storage.NewFactory()
	factory.Register("local", func(_ context.Context, raw json.RawMessage) (storage.Backend, error) {
		return local.NewFromJSON(raw)
	})
	factory.Register("s3", func(ctx context.Context, raw json.RawMessage) (storage.Backend, error) {
		return s3storage.NewBackendFromJSON(ctx, raw)
	})

	var (
		raw []byte
		err error
	)
	switch cfg.SourceBackend {
	case "s3":
		raw, err = json.Marshal(s3storage.BackendConfig{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			Prefix:    cfg.S3Prefix,
		})
	default:
		raw, err = json.Marshal(local.Config{RootPath: cfg.SourcePath})
	}
	if err != nil {
		return nil, fmt.Errorf("encode source config: %w", err)
	}
	return factory.New(ctx, cfg.SourceBackend, raw)
}

// defaultDatabase returns the database for data sources that do not name
// their own: DATABASE_URL, else the CONNECTION_NAME definition.
func defaultDatabase(cfg *config.Config, conns map[string]conndef.ConnectionDef) (driver, dsn string, ok bool, err error) {
	if cfg.DatabaseURL != "" {
		if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
			return "postgres", cfg.DatabaseURL, true, nil
		}
		return "sqlite3", strings.TrimPrefix(cfg.DatabaseURL, "sqlite://"), true, nil
	}
	if cfg.ConnectionName != "" {
		def, found := conns[cfg.ConnectionName]
		if !found {
			return "", "", false, fmt.Errorf("connection %q not in %s", cfg.ConnectionName, cfg.ConnectionsFile)
		}
		driver, dsn, err = def.DSN()
		return driver, dsn, err == nil, err
	}
	return "", "", false, nil
}

// openCache builds the diff file cache named by CACHE_BACKEND. SQL caches
// return their database handle so the caller can close it.
func openCache(ctx context.Context, cfg *config.Config, conns map[string]conndef.ConnectionDef) (filecache.Store, *database.DB, error) {
	var (
		dialect database.Dialect
		dsn     string
	)
	switch cfg.CacheBackend {
	case "memory":
		logging.Info("file cache ready", zap.String("backend", "memory"))
		return filecache.NewMemory(cfg.CacheTTL), nil, nil
	case "postgres":
		driver, d, ok, err := defaultDatabase(cfg, conns)
		if err != nil {
			return nil, nil, err
		}
		if !ok || driver != "postgres" {
			return nil, nil, fmt.Errorf("CACHE_BACKEND=postgres needs a postgres DATABASE_URL or CONNECTION_NAME")
		}
		dialect, dsn = database.Postgres, d
	default:
		dialect, dsn = database.SQLite, cfg.CachePath
	}

	db, err := database.Open(ctx, "filecache", dialect, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open file cache: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate file cache: %w", err)
	}
	logging.Info("file cache ready", zap.String("backend", string(dialect)))
	return filecache.NewSQL(db, cfg.CacheTTL), db, nil
}
