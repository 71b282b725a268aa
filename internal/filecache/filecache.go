// Package filecache remembers diffs under opaque tokens so a client can
// fetch the matching files in a later request.
package filecache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xfxf/dabo/internal/logging"
	"github.com/xfxf/dabo/internal/metrics"
	"github.com/xfxf/dabo/pkg/models"
)

// Token names a stored diff.
type Token string

// Store persists diffs by token.
type Store interface {
	// Store saves diff under a fresh token.
	Store(ctx context.Context, diff models.Diff) (Token, error)
	// Fetch returns the diff stored under token. Unknown and expired tokens
	// are a NotFoundError.
	Fetch(ctx context.Context, token Token) (models.Diff, error)
	// Prune removes entries stored before olderThan and returns how many.
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

func newToken() Token {
	return Token(uuid.NewString())
}

// Janitor prunes entries older than ttl every interval until ctx is done.
func Janitor(ctx context.Context, store Store, ttl, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := store.Prune(ctx, time.Now().Add(-ttl))
			if err != nil {
				logging.Warn("file cache prune failed", zap.Error(err))
				continue
			}
			metrics.RecordFileCachePrune(n)
			if n > 0 {
				logging.Debug("file cache pruned", zap.Int("entries", n))
			}
		}
	}
}
