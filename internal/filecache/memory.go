package filecache

import (
	"context"
	"sync"
	"time"

	"github.com/xfxf/dabo/internal/apperr"
	"github.com/xfxf/dabo/internal/metrics"
	"github.com/xfxf/dabo/pkg/models"
)

type memEntry struct {
	diff   models.Diff
	stored time.Time
}

// Memory is an in-process Store. A zero ttl disables expiry on Fetch.
type Memory struct {
	mu      sync.Mutex
	entries map[Token]memEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{entries: make(map[Token]memEntry), ttl: ttl, now: time.Now}
}

func cloneDiff(d models.Diff) models.Diff {
	out := make(models.Diff, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (m *Memory) Store(_ context.Context, diff models.Diff) (Token, error) {
	tok := newToken()
	m.mu.Lock()
	m.entries[tok] = memEntry{diff: cloneDiff(diff), stored: m.now()}
	m.mu.Unlock()
	metrics.RecordFileCacheOp("store", true)
	return tok, nil
}

func (m *Memory) Fetch(_ context.Context, token Token) (models.Diff, error) {
	m.mu.Lock()
	e, ok := m.entries[token]
	m.mu.Unlock()
	if !ok || (m.ttl > 0 && m.now().Sub(e.stored) > m.ttl) {
		metrics.RecordFileCacheOp("fetch", false)
		return nil, apperr.NotFound("file cache token", string(token))
	}
	metrics.RecordFileCacheOp("fetch", true)
	return cloneDiff(e.diff), nil
}

func (m *Memory) Prune(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for tok, e := range m.entries {
		if e.stored.Before(olderThan) {
			delete(m.entries, tok)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
