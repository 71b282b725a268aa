// Package archive packages the changed files of a diff as a zip archive.
package archive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/xfxf/dabo/internal/storage"
	"github.com/xfxf/dabo/pkg/models"
)

// Reader is the part of storage.Backend that Write needs.
type Reader interface {
	GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error)
}

// countingWriter tracks how many bytes reach the underlying writer.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Write writes a zip archive of the added and updated paths of diff, read
// from src under root, to w. Entries are sorted by path and carry the diff
// timestamp as their modification time. Deletion markers are skipped. It
// returns the number of entries and the archive size in bytes.
//
// On error the output is incomplete and must be discarded.
func Write(ctx context.Context, w io.Writer, src Reader, root string, diff models.Diff) (int, int64, error) {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)

	paths := diff.Changed()
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return 0, cw.n, err
		}
		if err := addFile(ctx, zw, src, root, p, diff[p]); err != nil {
			return 0, cw.n, err
		}
	}

	if err := zw.Close(); err != nil {
		return 0, cw.n, fmt.Errorf("finish archive: %w", err)
	}
	return len(paths), cw.n, nil
}

func addFile(ctx context.Context, zw *zip.Writer, src Reader, root, path string, ts int64) error {
	rel, err := storage.CleanKey(path)
	if err != nil || rel != path {
		return fmt.Errorf("archive path %q: invalid", path)
	}

	rc, _, err := src.GetObject(ctx, storage.JoinKey(root, rel), 0, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer rc.Close()

	hdr := &zip.FileHeader{Name: rel, Method: zip.Deflate}
	hdr.Modified = time.UnixMilli(ts).UTC()
	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", rel, err)
	}
	if _, err := io.Copy(fw, rc); err != nil {
		return fmt.Errorf("copy %s: %w", rel, err)
	}
	return nil
}
