package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/xfxf/dabo/internal/apperr"
	"github.com/xfxf/dabo/internal/archive"
	"github.com/xfxf/dabo/internal/filecache"
	"github.com/xfxf/dabo/internal/logging"
	"github.com/xfxf/dabo/internal/manifest"
	"github.com/xfxf/dabo/internal/metrics"
	"github.com/xfxf/dabo/internal/storage"
	"github.com/xfxf/dabo/pkg/protocol"
)

// handleManifest serves /manifest/{app}. The fnc parameter selects the full
// manifest (default), a diff against the client's manifest, or the files
// archive for a previously computed diff.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.sendErr(w, r, err)
		return
	}

	app := r.PathValue("app")
	switch fnc := r.Form.Get("fnc"); fnc {
	case "", "full":
		s.handleFullManifest(w, r, app)
	case "diff":
		s.handleDiff(w, r, app)
	case "files":
		s.handleFiles(w, r, app)
	default:
		s.sendErr(w, r, apperr.NotFound("function", fnc))
	}
}

func (s *Server) handleFullManifest(w http.ResponseWriter, r *http.Request, app string) {
	mf, err := manifest.Build(r.Context(), s.source, app)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}

	etag := `"` + manifest.Fingerprint(mf) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Vary", "Accept-Encoding")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	resp := protocol.ManifestResponse{Manifest: mf}
	if acceptsGzip(r) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gw := gzip.NewWriter(w)
		defer gw.Close()
		json.NewEncoder(gw).Encode(resp)
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request, app string) {
	current := r.Form.Get("current")
	if int64(len(current)) > s.maxBody {
		metrics.RecordDiff("invalid")
		s.sendErr(w, r, apperr.InvalidManifest("manifest exceeds %d bytes", s.maxBody))
		return
	}
	client, err := manifest.Parse([]byte(current))
	if err != nil {
		metrics.RecordDiff("invalid")
		s.sendErr(w, r, err)
		return
	}

	server, err := manifest.Build(r.Context(), s.source, app)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}

	diff := manifest.Diff(server, client)
	if len(diff) == 0 {
		metrics.RecordDiff("unchanged")
		w.WriteHeader(http.StatusNotModified)
		return
	}

	resp := protocol.DiffResponse{Diff: diff, Manifest: server}
	if len(diff.Changed()) > 0 {
		tok, err := s.cache.Store(r.Context(), diff)
		if err != nil {
			s.sendErr(w, r, err)
			return
		}
		resp.Token = string(tok)
		metrics.RecordDiff("changed")
	} else {
		metrics.RecordDiff("deletions_only")
	}

	logging.WithContext(r.Context()).Debug("manifest diff",
		zap.String("app", app),
		zap.Int("changed", len(diff.Changed())),
		zap.Int("deleted", len(diff.Deleted())))
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request, app string) {
	if _, err := storage.CleanKey(app); err != nil {
		s.sendErr(w, r, apperr.NotFound("app", app))
		return
	}
	id := r.Form.Get("id")
	if id == "" {
		s.sendErr(w, r, apperr.NotFound("file cache token", ""))
		return
	}
	diff, err := s.cache.Fetch(r.Context(), filecache.Token(id))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}

	// Package into a temp file so a failure midway never reaches the client
	// as a truncated archive.
	tmp, err := os.CreateTemp("", "dabo-*.zip")
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	entries, size, err := archive.Write(r.Context(), tmp, s.source, app, diff)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.sendErr(w, r, apperr.NotFound("file", ""))
			return
		}
		s.sendErr(w, r, err)
		return
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		s.sendErr(w, r, err)
		return
	}

	metrics.RecordArchive(size, entries)
	w.Header().Set("Content-Type", protocol.ZipContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": app + ".zip"})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, tmp); err != nil {
		logging.WithContext(r.Context()).Warn("archive stream interrupted", zap.String("app", app), zap.Error(err))
	}
}
