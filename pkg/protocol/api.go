// Package protocol defines the API request/response types.
package protocol

import "github.com/xfxf/dabo/pkg/models"

// SessionHeader carries the bizobj session token on responses.
const SessionHeader = "X-Dabo-Session"

// ZipContentType is the content type of a files archive.
const ZipContentType = "application/x-zip-compressed"

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// ManifestResponse is returned by GET /manifest/{app}?fnc=full
type ManifestResponse struct {
	Manifest models.Manifest `json:"manifest"`
}

// DiffResponse is returned by GET /manifest/{app}?fnc=diff. Token is empty
// when the diff holds only deletions and there is nothing to download.
type DiffResponse struct {
	Token    string          `json:"token"`
	Diff     models.Diff     `json:"diff"`
	Manifest models.Manifest `json:"manifest"`
}

// BizResponse is returned by /biz/{dataSource}/{method}.
type BizResponse struct {
	Session string           `json:"session"`
	Data    models.DataSet   `json:"data"`
	Types   models.DataTypes `json:"types"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status      string   `json:"status"`
	Version     string   `json:"version,omitempty"`
	DataSources []string `json:"datasources,omitempty"`
}
