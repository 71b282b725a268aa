package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Constructor builds a Backend from its JSON configuration.
type Constructor func(ctx context.Context, config json.RawMessage) (Backend, error)

// Factory maps backend type names to constructors. Backend packages import
// storage, so the binary registers them rather than storage importing them.
type Factory struct {
	constructors map[string]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// Register adds a constructor for backendType.
func (f *Factory) Register(backendType string, c Constructor) {
	f.constructors[backendType] = c
}

// New creates a Backend from a backend type string and JSON config.
func (f *Factory) New(ctx context.Context, backendType string, config json.RawMessage) (Backend, error) {
	c, ok := f.constructors[backendType]
	if !ok {
		return nil, fmt.Errorf("unknown backend type: %s", backendType)
	}
	return c(ctx, config)
}
