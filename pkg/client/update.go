package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/xfxf/dabo/internal/storage"
	"github.com/xfxf/dabo/internal/storage/local"
	"github.com/xfxf/dabo/pkg/models"
)

// UpdateResult summarizes an applied update.
type UpdateResult struct {
	Written  []string
	Deleted  []string
	Manifest models.Manifest
}

// Update brings dir up to date with the server's copy of app. current is
// the manifest the client last recorded for dir. The returned result holds
// the new manifest to record; when nothing changed it is current.
func (c *Client) Update(ctx context.Context, app, dir string, current models.Manifest) (*UpdateResult, error) {
	dr, err := c.Diff(ctx, app, current)
	if err != nil {
		return nil, err
	}
	if dr == nil {
		return &UpdateResult{Manifest: current.Clone()}, nil
	}

	dst, err := local.New(local.Config{RootPath: dir, CreateDirs: true})
	if err != nil {
		return nil, err
	}

	res := &UpdateResult{}
	if dr.Token != "" {
		tmp, err := os.CreateTemp("", "dabo-update-*.zip")
		if err != nil {
			return nil, fmt.Errorf("create temp archive: %w", err)
		}
		defer func() {
			tmp.Close()
			os.Remove(tmp.Name())
		}()

		size, err := c.DownloadFiles(ctx, app, dr.Token, tmp)
		if err != nil {
			return nil, err
		}
		if res.Written, err = extract(ctx, tmp, size, dst, dr.Diff); err != nil {
			return nil, err
		}
	}

	for _, p := range dr.Diff.Deleted() {
		if err := dst.DeleteObject(ctx, p); err != nil {
			return nil, fmt.Errorf("delete %s: %w", p, err)
		}
		res.Deleted = append(res.Deleted, p)
	}

	res.Manifest = current.Apply(dr.Diff)
	c.log.Info("update applied",
		zap.String("app", app),
		zap.Int("written", len(res.Written)),
		zap.Int("deleted", len(res.Deleted)))
	return res, nil
}

// extract writes the archive entries named in diff into dst and stamps
// them with the diff timestamp.
func extract(ctx context.Context, f *os.File, size int64, dst *local.LocalBackend, diff models.Diff) ([]string, error) {
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var written []string
	for _, zf := range zr.File {
		ts, ok := diff[zf.Name]
		if !ok || ts == models.DeletedMarker {
			return written, fmt.Errorf("archive entry %q is not part of the diff", zf.Name)
		}
		if _, err := storage.CleanKey(zf.Name); err != nil {
			return written, fmt.Errorf("archive entry: %w", err)
		}

		rc, err := zf.Open()
		if err != nil {
			return written, fmt.Errorf("read %s: %w", zf.Name, err)
		}
		err = dst.PutObject(ctx, zf.Name, rc, int64(zf.UncompressedSize64))
		rc.Close()
		if err != nil {
			return written, fmt.Errorf("write %s: %w", zf.Name, err)
		}

		mtime := time.UnixMilli(ts)
		if err := os.Chtimes(filepath.Join(dst.Root(), filepath.FromSlash(zf.Name)), mtime, mtime); err != nil {
			return written, fmt.Errorf("stamp %s: %w", zf.Name, err)
		}
		written = append(written, zf.Name)
	}
	return written, nil
}

// LoadState reads a manifest recorded by SaveState. A missing file is an
// empty manifest.
func LoadState(path string) (models.Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if m == nil {
		m = models.Manifest{}
	}
	return m, nil
}

// SaveState records m at path, replacing it atomically.
func SaveState(path string, m models.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dabo-state-*")
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
