// Package api provides the HTTP server and handlers for application updates
// and remote bizobj calls.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xfxf/dabo/internal/apperr"
	"github.com/xfxf/dabo/internal/bizobj"
	"github.com/xfxf/dabo/internal/filecache"
	"github.com/xfxf/dabo/internal/logging"
	"github.com/xfxf/dabo/internal/metrics"
	"github.com/xfxf/dabo/internal/storage"
	"github.com/xfxf/dabo/pkg/protocol"
)

// Options configure a Server.
type Options struct {
	Source           storage.Backend
	Cache            filecache.Store
	Registry         *bizobj.Registry
	Proxy            *bizobj.Proxy
	MaxManifestBytes int64
	Version          string
}

// Server serves manifests, update archives and bizobj calls.
type Server struct {
	source   storage.Backend
	cache    filecache.Store
	registry *bizobj.Registry
	proxy    *bizobj.Proxy
	maxBody  int64
	version  string
}

// NewServer creates a new server.
func NewServer(opts Options) *Server {
	maxBody := opts.MaxManifestBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	return &Server{
		source:   opts.Source,
		cache:    opts.Cache,
		registry: opts.Registry,
		proxy:    opts.Proxy,
		maxBody:  maxBody,
		version:  opts.Version,
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /manifest/{app}", s.handleManifest)
	mux.HandleFunc("POST /manifest/{app}", s.handleManifest)

	mux.HandleFunc("GET /biz/{dataSource}/{method}", s.handleBiz)
	mux.HandleFunc("POST /biz/{dataSource}/{method}", s.handleBiz)

	// Metrics sits inside logging so it sees the pattern the mux matched.
	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := protocol.HealthResponse{Status: "ok", Version: s.version}
	if s.registry != nil {
		resp.DataSources = s.registry.DataSources()
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// parseForm reads query and form parameters, capping the body size.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &apperr.BusinessRuleError{Code: http.StatusRequestEntityTooLarge, Message: "request body too large"}
		}
		return &apperr.BusinessRuleError{Code: http.StatusBadRequest, Message: "malformed request parameters"}
	}
	return nil
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendErr maps err to a status. Errors without a public status are logged
// and reported without their message.
func (s *Server) sendErr(w http.ResponseWriter, r *http.Request, err error) {
	code, public := apperr.StatusCode(err)
	if !public {
		logging.WithContext(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.sendError(w, code, "internal server error")
		return
	}
	s.sendError(w, code, err.Error())
}
