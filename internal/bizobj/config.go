package bizobj

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xfxf/dabo/internal/database"
	"github.com/xfxf/dabo/internal/logging"
	"github.com/xfxf/dabo/pkg/conndef"
)

// FileConfig is the bizobj registry file.
//
//	datasources:
//	  orders:
//	    connection: app@db.example.com
//	    table: orders
//	    key_field: id
//	    allow_delete: true
//	    rules:
//	      required: [customer]
//	      readonly: [created_at]
//	      max_length: {customer: 40}
type FileConfig struct {
	DataSources map[string]DataSourceConfig `yaml:"datasources"`
}

// DataSourceConfig binds one data source to a table. The database is named
// either by Connection (a user@host key from the connection definitions)
// or directly by Driver and DSN.
type DataSourceConfig struct {
	Connection string `yaml:"connection"`
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	TableDef   `yaml:",inline"`
}

// LoadConfig reads a registry file.
func LoadConfig(r io.Reader) (*FileConfig, error) {
	var cfg FileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse bizobj config: %w", err)
	}
	return &cfg, nil
}

// SetDefaultDatabase binds every data source that names neither a
// connection nor a driver to the given database.
func (c *FileConfig) SetDefaultDatabase(driver, dsn string) {
	for name, ds := range c.DataSources {
		if ds.Connection == "" && ds.Driver == "" {
			ds.Driver, ds.DSN = driver, dsn
			c.DataSources[name] = ds
		}
	}
}

// LoadConfigFile reads a registry file from disk.
func LoadConfigFile(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bizobj config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

// RegisterAll opens the databases named in cfg and registers a SQL bizobj
// factory for every data source. Data sources sharing a database share one
// handle. The returned handles are owned by the caller.
func RegisterAll(ctx context.Context, reg *Registry, cfg *FileConfig, conns map[string]conndef.ConnectionDef) ([]*database.DB, error) {
	opened := make(map[string]*database.DB)
	var dbs []*database.DB
	closeAll := func() {
		for _, db := range dbs {
			db.Close()
		}
	}

	for name, ds := range cfg.DataSources {
		driver, dsn, label := ds.Driver, ds.DSN, ds.Connection
		if ds.Connection != "" {
			def, ok := conns[ds.Connection]
			if !ok {
				closeAll()
				return nil, fmt.Errorf("data source %s: unknown connection %q", name, ds.Connection)
			}
			var err error
			if driver, dsn, err = def.DSN(); err != nil {
				closeAll()
				return nil, fmt.Errorf("data source %s: %w", name, err)
			}
		} else {
			label = name
		}

		dialect, err := database.ParseDialect(driver)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("data source %s: %w", name, err)
		}

		db, ok := opened[string(dialect)+"|"+dsn]
		if !ok {
			db, err = database.Open(ctx, label, dialect, dsn)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("data source %s: %w", name, err)
			}
			opened[string(dialect)+"|"+dsn] = db
			dbs = append(dbs, db)
		}

		def := ds.TableDef
		if def.Table == "" {
			def.Table = name
		}
		factory, err := NewSQLFactory(db, def)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("data source %s: %w", name, err)
		}
		if err := reg.Register(name, factory); err != nil {
			closeAll()
			return nil, err
		}
		logging.Info("registered data source",
			zap.String("datasource", name),
			zap.String("table", def.Table),
			zap.String("database", label))
	}
	return dbs, nil
}
