// Package manifest builds application manifests from a storage backend and
// compares them against client manifests.
package manifest

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/xfxf/dabo/internal/apperr"
	"github.com/xfxf/dabo/internal/metrics"
	"github.com/xfxf/dabo/internal/storage"
	"github.com/xfxf/dabo/pkg/models"
)

// Lister is the part of storage.Backend that Build needs.
type Lister interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

// Build lists every file under app and returns the manifest, keyed by path
// relative to app. Hidden files and directories are skipped. An unknown app
// is a NotFoundError.
func Build(ctx context.Context, src Lister, app string) (models.Manifest, error) {
	start := time.Now()

	if _, err := storage.CleanKey(app); err != nil || strings.Contains(app, "/") {
		return nil, apperr.NotFound("app", app)
	}

	objects, err := src.List(ctx, app)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("app", app)
		}
		return nil, fmt.Errorf("list app %s: %w", app, err)
	}

	m := make(models.Manifest, len(objects))
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, app+"/")
		if rel == obj.Key || hidden(rel) {
			continue
		}
		m[rel] = timestamp(obj.ModTime)
	}

	metrics.RecordManifestBuild(app, len(m), time.Since(start))
	return m, nil
}

func hidden(rel string) bool {
	for _, elem := range strings.Split(rel, "/") {
		if strings.HasPrefix(elem, ".") {
			return true
		}
	}
	return false
}

// timestamp converts a modification time to Unix milliseconds, clamped to 1
// so a real file can never look like a deletion marker.
func timestamp(t time.Time) int64 {
	ms := t.UnixMilli()
	if ms < 1 {
		return 1
	}
	return ms
}

// Diff compares the server manifest with a client manifest. Paths the client
// lacks, or has with a different timestamp, map to the server timestamp;
// paths only the client has map to models.DeletedMarker. Equivalent
// manifests give an empty diff.
func Diff(server, client models.Manifest) models.Diff {
	d := make(models.Diff)
	for p, ts := range server {
		if cts, ok := client[p]; !ok || cts != ts {
			d[p] = ts
		}
	}
	for p := range client {
		if _, ok := server[p]; !ok {
			d[p] = models.DeletedMarker
		}
	}
	return d
}

// Parse decodes a client-submitted manifest. Anything other than a JSON
// object of relative paths to non-negative integers is an
// InvalidManifestError.
func Parse(data []byte) (models.Manifest, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, apperr.InvalidManifest("empty input")
	}
	if data[0] != '{' {
		return nil, apperr.InvalidManifest("expected a JSON object")
	}

	var raw map[string]json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, apperr.InvalidManifest("%v", err)
	}
	if dec.More() {
		return nil, apperr.InvalidManifest("trailing data after object")
	}

	m := make(models.Manifest, len(raw))
	for p, num := range raw {
		cleaned, err := storage.CleanKey(p)
		if err != nil || cleaned != p {
			return nil, apperr.InvalidManifest("bad path %q", p)
		}
		ts, err := parseTimestamp(num)
		if err != nil {
			return nil, apperr.InvalidManifest("bad timestamp for %q", p)
		}
		if ts < 0 {
			return nil, apperr.InvalidManifest("negative timestamp for %q", p)
		}
		m[p] = ts
	}
	return m, nil
}

// parseTimestamp accepts integral millisecond values, including exponent
// forms such as 1.7e12. Fractions and values outside int64 are rejected.
func parseTimestamp(num json.Number) (int64, error) {
	if ts, err := strconv.ParseInt(num.String(), 10, 64); err == nil {
		return ts, nil
	}
	f, err := num.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("timestamp %s is not an integer", num)
	}
	return int64(f), nil
}

// Fingerprint returns a stable hash of m, used as the ETag of a full
// manifest response.
func Fingerprint(m models.Manifest) string {
	h := xxhash.New()
	var buf [8]byte
	for _, p := range m.Paths() {
		h.WriteString(p)
		h.Write([]byte{0})
		binary.BigEndian.PutUint64(buf[:], uint64(m[p]))
		h.Write(buf[:])
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
