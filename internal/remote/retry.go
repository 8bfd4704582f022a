package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/chmdznr/corpussync/pkg/models"
)

// RetryOptions configures WithRetry.
type RetryOptions struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *zap.Logger
}

type retrying struct {
	next Registry
	opts RetryOptions
}

// WithRetry retries transient failures of next with exponential backoff.
// Non-transient errors are returned immediately; once retries run out the
// last error is wrapped in ErrRetriesExhausted.
func WithRetry(next Registry, opts RetryOptions) Registry {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &retrying{next: next, opts: opts}
}

func (r *retrying) List(ctx context.Context) ([]models.RemoteFile, error) {
	var out []models.RemoteFile
	err := r.do(ctx, "list", "", func() error {
		var err error
		out, err = r.next.List(ctx)
		return err
	})
	return out, err
}

func (r *retrying) Get(ctx context.Context, id string) (models.RemoteFile, error) {
	var out models.RemoteFile
	err := r.do(ctx, "get", id, func() error {
		var err error
		out, err = r.next.Get(ctx, id)
		return err
	})
	return out, err
}

func (r *retrying) Upload(ctx context.Context, file models.LocalFile) (models.RemoteFile, error) {
	var out models.RemoteFile
	err := r.do(ctx, "upload", file.Name, func() error {
		var err error
		out, err = r.next.Upload(ctx, file)
		return err
	})
	return out, err
}

func (r *retrying) Delete(ctx context.Context, file models.RemoteFile) error {
	return r.do(ctx, "delete", file.DisplayName, func() error {
		return r.next.Delete(ctx, file)
	})
}

func (r *retrying) do(ctx context.Context, op, name string, fn func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.opts.InitialInterval
	expo.MaxInterval = r.opts.MaxInterval
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, r.opts.MaxRetries), ctx)

	var lastErr error
	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		r.opts.Logger.Warn("retrying remote operation",
			zap.String("op", op),
			zap.String("file", name),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err == nil {
		return nil
	}
	if IsTransient(lastErr) && ctx.Err() == nil {
		return fmt.Errorf("%s %s: %w: %w", op, name, ErrRetriesExhausted, lastErr)
	}
	return err
}
