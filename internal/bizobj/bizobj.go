// Package bizobj serves remote business objects: a registry of bizobj
// factories by data source, a pool of live handles keyed by session, and
// the requery, save and delete operations clients call over HTTP.
package bizobj

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xfxf/dabo/internal/apperr"
	"github.com/xfxf/dabo/pkg/models"
)

// Bizobj is a queryable, mutable record set bound to one data source.
// Implementations need not be safe for concurrent use; the pool serializes
// calls per handle.
type Bizobj interface {
	// SetKeyField sets the primary key column. Empty restores the default.
	SetKeyField(name string) error
	// SetSQL sets the query Requery runs. Empty restores the default.
	SetSQL(sql string) error
	// Requery runs the query and replaces the data set.
	Requery(ctx context.Context) error
	DataSet() models.DataSet
	DataTypes() models.DataTypes
	// ApplyDiffAndSave applies client edits in one transaction and
	// refreshes the data set.
	ApplyDiffAndSave(ctx context.Context, diff models.DataDiff) error
	// MoveToPK makes the row with the given key current.
	MoveToPK(pk string) error
	// Delete removes the current row and refreshes the data set.
	Delete(ctx context.Context) error
}

// Factory creates a fresh bizobj for a data source.
type Factory func(ctx context.Context, dataSource string) (Bizobj, error)

// Registry maps data source names to bizobj factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a factory to a data source.
func (r *Registry) Register(dataSource string, f Factory) error {
	if dataSource == "" || f == nil {
		return fmt.Errorf("register bizobj: data source and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[dataSource]; ok {
		return fmt.Errorf("register bizobj: data source %q already registered", dataSource)
	}
	r.factories[dataSource] = f
	return nil
}

// Lookup returns the factory for a data source, or a NotFoundError.
func (r *Registry) Lookup(dataSource string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[dataSource]
	if !ok {
		return nil, apperr.NotFound("DataSource", dataSource)
	}
	return f, nil
}

// DataSources returns the registered names, sorted.
func (r *Registry) DataSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
