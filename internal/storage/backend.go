// Package storage defines the Backend interface for application source trees
// and the factory that builds one from configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when a key or prefix does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key     string // slash-separated, relative to the backend root
	Size    int64
	ModTime time.Time
}

// Backend is the interface for source tree storage. Keys are
// slash-separated paths relative to the backend root.
type Backend interface {
	// GetObject retrieves an object by key with optional range support.
	// If offset=0 and length=0, the entire object is returned.
	GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error)

	// PutObject writes content to the given key. A negative size means the
	// length is not known in advance.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key. Missing keys are not an error.
	DeleteObject(ctx context.Context, key string) error

	// List returns every object under prefix (a directory-like key).
	// Returns ErrNotFound if nothing exists under prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// CleanKey validates a slash-separated relative key and returns its cleaned
// form. Absolute keys, backslashes and ".." elements are rejected.
func CleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("key %q must be relative and slash-separated", key)
	}
	for _, elem := range strings.Split(key, "/") {
		if elem == ".." {
			return "", fmt.Errorf("key %q escapes its root", key)
		}
	}
	cleaned := path.Clean(key)
	if cleaned == "." {
		return "", fmt.Errorf("key %q names the root", key)
	}
	return cleaned, nil
}

// JoinKey joins key elements with slashes, ignoring empty elements.
func JoinKey(elems ...string) string {
	var parts []string
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}
