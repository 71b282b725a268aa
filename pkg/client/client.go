// Package client talks to a Dabo application server: it fetches manifests
// and update archives, applies updates to a local directory, and runs
// remote bizobj calls.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/xfxf/dabo/pkg/models"
	"github.com/xfxf/dabo/pkg/protocol"
	"github.com/xfxf/dabo/pkg/retry"
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   retry.Config
	Logger  *zap.Logger
}

// Client is a Dabo server client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Config
	log        *zap.Logger
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				// Compression is negotiated explicitly for manifests.
				DisableCompression: true,
			},
		},
		retry: cfg.Retry,
		log:   cfg.Logger,
	}
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func readError(resp *http.Response) error {
	var e protocol.ErrorResponse
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(body))
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	if resp.StatusCode >= 500 {
		return retry.Retryable(apiErr)
	}
	return apiErr
}

// do sends a request built by newReq and hands a successful response to
// handle. Network errors and 5xx responses are retried; 304 is passed to
// handle.
func do[T any](ctx context.Context, c *Client, retryable bool, newReq func() (*http.Request, error), handle func(*http.Response) (T, error)) (T, error) {
	cfg := c.retry
	if !retryable {
		cfg.MaxAttempts = 1
	}
	return retry.Do(ctx, cfg, func() (T, error) {
		var zero T
		req, err := newReq()
		if err != nil {
			return zero, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			c.log.Debug("request failed", zap.String("url", req.URL.Path), zap.Error(err))
			return zero, retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return zero, readError(resp)
		}
		return handle(resp)
	})
}

func (c *Client) url(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) (*protocol.HealthResponse, error) {
	return do(ctx, c, true, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.url("/health", nil), nil)
	}, func(resp *http.Response) (*protocol.HealthResponse, error) {
		var h protocol.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
			return nil, fmt.Errorf("decode health: %w", err)
		}
		return &h, nil
	})
}

// FetchManifest returns the server's full manifest of app.
func (c *Client) FetchManifest(ctx context.Context, app string) (models.Manifest, error) {
	return do(ctx, c, true, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.url("/manifest/"+url.PathEscape(app), url.Values{"fnc": {"full"}}), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept-Encoding", "gzip")
		return req, nil
	}, func(resp *http.Response) (models.Manifest, error) {
		var body io.Reader = resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("gzip manifest: %w", err)
			}
			defer gr.Close()
			body = gr
		}
		var mr protocol.ManifestResponse
		if err := json.NewDecoder(body).Decode(&mr); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		if mr.Manifest == nil {
			mr.Manifest = models.Manifest{}
		}
		return mr.Manifest, nil
	})
}

// Diff submits current and returns the server's diff. A nil response means
// current is up to date.
func (c *Client) Diff(ctx context.Context, app string, current models.Manifest) (*protocol.DiffResponse, error) {
	if current == nil {
		current = models.Manifest{}
	}
	encoded, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	form := url.Values{"fnc": {"diff"}, "current": {string(encoded)}}

	return do(ctx, c, true, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.url("/manifest/"+url.PathEscape(app), nil), strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, func(resp *http.Response) (*protocol.DiffResponse, error) {
		if resp.StatusCode == http.StatusNotModified {
			return nil, nil
		}
		var dr protocol.DiffResponse
		if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
			return nil, fmt.Errorf("decode diff: %w", err)
		}
		return &dr, nil
	})
}

// DownloadFiles writes the archive for a diff token to f, replacing its
// contents, and returns its size. f should be discarded on error.
func (c *Client) DownloadFiles(ctx context.Context, app, token string, f *os.File) (int64, error) {
	return do(ctx, c, true, func() (*http.Request, error) {
		if err := f.Truncate(0); err != nil {
			return nil, err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return http.NewRequestWithContext(ctx, http.MethodGet,
			c.url("/manifest/"+url.PathEscape(app), url.Values{"fnc": {"files"}, "id": {token}}), nil)
	}, func(resp *http.Response) (int64, error) {
		if ct := resp.Header.Get("Content-Type"); ct != protocol.ZipContentType {
			return 0, fmt.Errorf("unexpected content type %q", ct)
		}
		n, err := io.Copy(f, resp.Body)
		if err != nil {
			return n, retry.Retryable(fmt.Errorf("download archive: %w", err))
		}
		return n, nil
	})
}
