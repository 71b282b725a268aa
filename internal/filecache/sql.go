package filecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/xfxf/dabo/internal/apperr"
	"github.com/xfxf/dabo/internal/database"
	"github.com/xfxf/dabo/internal/metrics"
	"github.com/xfxf/dabo/pkg/models"
)

// SQL stores diffs in the filecache table, CBOR-encoded.
type SQL struct {
	db  *database.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQL returns a store over db. The filecache table must exist; see
// database.DB.Migrate.
func NewSQL(db *database.DB, ttl time.Duration) *SQL {
	return &SQL{db: db, ttl: ttl, now: time.Now}
}

func (s *SQL) Store(ctx context.Context, diff models.Diff) (Token, error) {
	payload, err := cbor.Marshal(map[string]int64(diff))
	if err != nil {
		return "", fmt.Errorf("encode diff: %w", err)
	}
	tok := newToken()
	_, err = s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO filecache (token, updated, payload) VALUES (?, ?, ?)`),
		string(tok), s.now().UnixMilli(), payload)
	metrics.RecordFileCacheOp("store", err == nil)
	if err != nil {
		return "", fmt.Errorf("store diff: %w", err)
	}
	return tok, nil
}

func (s *SQL) Fetch(ctx context.Context, token Token) (models.Diff, error) {
	var (
		updated int64
		payload []byte
	)
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT updated, payload FROM filecache WHERE token = ?`),
		string(token)).Scan(&updated, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordFileCacheOp("fetch", false)
		return nil, apperr.NotFound("file cache token", string(token))
	}
	if err != nil {
		metrics.RecordFileCacheOp("fetch", false)
		return nil, fmt.Errorf("fetch diff: %w", err)
	}
	if s.ttl > 0 && s.now().Sub(time.UnixMilli(updated)) > s.ttl {
		metrics.RecordFileCacheOp("fetch", false)
		return nil, apperr.NotFound("file cache token", string(token))
	}

	var diff map[string]int64
	if err := cbor.Unmarshal(payload, &diff); err != nil {
		metrics.RecordFileCacheOp("fetch", false)
		return nil, fmt.Errorf("decode diff: %w", err)
	}
	metrics.RecordFileCacheOp("fetch", true)
	if diff == nil {
		diff = map[string]int64{}
	}
	return models.Diff(diff), nil
}

func (s *SQL) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM filecache WHERE updated < ?`), olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune file cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune file cache: %w", err)
	}
	return int(n), nil
}
