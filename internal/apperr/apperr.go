// Package apperr defines the error types surfaced to HTTP clients and their
// status code mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// NotFoundError reports an unknown data source, method, session, row or
// cache token.
type NotFoundError struct {
	Kind string // "datasource", "method", "token", ...
	Name string
}

func (e *NotFoundError) Error() string {
	if e.Name == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.Name)
}

// NotFound returns a *NotFoundError.
func NotFound(kind, name string) error {
	return &NotFoundError{Kind: kind, Name: name}
}

// BusinessRuleError is raised by a bizobj when a save or delete violates one
// of its rules. Code is an HTTP status; zero means 500.
type BusinessRuleError struct {
	Code    int
	Message string
}

func (e *BusinessRuleError) Error() string {
	return e.Message
}

// StatusCode returns the HTTP status carried by the error.
func (e *BusinessRuleError) StatusCode() int {
	if e.Code == 0 {
		return http.StatusInternalServerError
	}
	return e.Code
}

// BusinessRule returns a *BusinessRuleError with status 500.
func BusinessRule(format string, args ...any) error {
	return &BusinessRuleError{Code: http.StatusInternalServerError, Message: fmt.Sprintf(format, args...)}
}

// InvalidManifestError reports a malformed client manifest.
type InvalidManifestError struct {
	Reason string
}

func (e *InvalidManifestError) Error() string {
	return "invalid manifest: " + e.Reason
}

// InvalidManifest returns an *InvalidManifestError.
func InvalidManifest(format string, args ...any) error {
	return &InvalidManifestError{Reason: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// StatusCode maps err to the HTTP status it should be reported with, and
// whether its message is safe to show to the client.
func StatusCode(err error) (int, bool) {
	var (
		nf *NotFoundError
		br *BusinessRuleError
		im *InvalidManifestError
	)
	switch {
	case errors.As(err, &nf):
		return http.StatusNotFound, true
	case errors.As(err, &br):
		return br.StatusCode(), true
	case errors.As(err, &im):
		return http.StatusBadRequest, true
	default:
		return http.StatusInternalServerError, false
	}
}
