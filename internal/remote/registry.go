// Package remote defines the remote file registry the reconciler converges
// against, its error taxonomy, and a retrying decorator.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/chmdznr/corpussync/pkg/models"
)

// Registry is a remote file store addressed by display name.
type Registry interface {
	List(ctx context.Context) ([]models.RemoteFile, error)
	Get(ctx context.Context, id string) (models.RemoteFile, error)
	Upload(ctx context.Context, file models.LocalFile) (models.RemoteFile, error)
	Delete(ctx context.Context, file models.RemoteFile) error
}

var (
	// ErrTransient marks failures worth retrying: network errors, 429 and 5xx.
	ErrTransient = errors.New("transient remote error")
	// ErrNotFound is returned when the remote file does not exist.
	ErrNotFound = errors.New("remote file not found")
	// ErrRetriesExhausted wraps the last transient error once backoff gives up.
	ErrRetriesExhausted = errors.New("remote retries exhausted")
)

// StatusError is a non-2xx response from a remote API.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is classify a StatusError against the sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return IsTransientStatus(e.StatusCode)
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// IsTransientStatus reports whether an HTTP status is worth retrying.
func IsTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// Transient wraps err so IsTransient reports true.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
