// Package sync converges a remote file registry onto the local file store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chmdznr/corpussync/internal/remote"
	"github.com/chmdznr/corpussync/pkg/models"
)

// DefaultUploadConcurrency is both the default and the upper bound for
// simultaneous uploads.
const DefaultUploadConcurrency = 5

// Store is the slice of the local database the reconciler needs.
type Store interface {
	ListFiles(ctx context.Context) ([]models.LocalFile, error)
	GetFile(ctx context.Context, name string) (models.LocalFile, error)
	ReplaceRemoteFiles(ctx context.Context, files []models.RemoteFile) error
}

// Options configures a Reconciler.
type Options struct {
	// UploadConcurrency is clamped to 1..DefaultUploadConcurrency.
	UploadConcurrency int
	Logger            *zap.Logger
	// OnProgress is called from worker goroutines; it must be safe for concurrent use.
	OnProgress func(models.Progress)
}

// Result summarises one pass.
type Result struct {
	Status    models.SyncStatus
	Skipped   bool
	Deleted   int
	Uploaded  int
	Unchanged int
	Failed    []FailedUpload
	Remote    int
	Duration  time.Duration
}

// FailedUpload is a file that did not converge this pass.
type FailedUpload struct {
	Name string
	Err  error
}

// Reconciler runs reconciliation passes, one at a time.
type Reconciler struct {
	store       Store
	registry    remote.Registry
	concurrency int
	logger      *zap.Logger
	onProgress  func(models.Progress)

	running sync.Mutex
	mu      sync.Mutex
	status  models.SyncStatus
	last    Result
}

// NewReconciler creates a reconciler over store and registry.
func NewReconciler(store Store, registry remote.Registry, opts Options) *Reconciler {
	if opts.UploadConcurrency <= 0 || opts.UploadConcurrency > DefaultUploadConcurrency {
		opts.UploadConcurrency = DefaultUploadConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:       store,
		registry:    registry,
		concurrency: opts.UploadConcurrency,
		logger:      logger.Named("sync"),
		onProgress:  opts.OnProgress,
		status:      models.StatusIdle,
	}
}

// Status returns SYNCING while a pass runs, otherwise the last terminal status.
func (r *Reconciler) Status() models.SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// LastResult returns the result of the last completed pass.
func (r *Reconciler) LastResult() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reconciler) setStatus(s models.SyncStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// Sync runs one reconciliation pass. If a pass is already running the call
// returns immediately with Result.Skipped set and a nil error.
func (r *Reconciler) Sync(ctx context.Context) (Result, error) {
	if !r.running.TryLock() {
		r.logger.Info("sync already in progress, skipping")
		return Result{Status: models.StatusSyncing, Skipped: true}, nil
	}
	defer r.running.Unlock()

	start := time.Now()
	r.setStatus(models.StatusSyncing)

	res, err := r.pass(ctx)
	res.Duration = time.Since(start)
	if err != nil {
		res.Status = models.StatusError
		r.logger.Error("sync failed", zap.Error(err), zap.Duration("elapsed", res.Duration))
	} else {
		res.Status = models.StatusReady
		r.logger.Info("sync complete",
			zap.Int("uploaded", res.Uploaded),
			zap.Int("deleted", res.Deleted),
			zap.Int("unchanged", res.Unchanged),
			zap.Int("failed", len(res.Failed)),
			zap.Duration("elapsed", res.Duration),
		)
	}

	r.mu.Lock()
	r.status = res.Status
	r.last = res
	r.mu.Unlock()
	return res, err
}

func (r *Reconciler) pass(ctx context.Context) (Result, error) {
	var res Result

	r.progress(models.PhaseListing, 0, 0)
	local, err := r.store.ListFiles(ctx)
	if err != nil {
		return res, fmt.Errorf("list local files: %w", err)
	}
	remoteFiles, err := r.registry.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list remote files: %w", err)
	}

	plan := NewPlan(local, remoteFiles)
	res.Unchanged = len(plan.Unchanged)
	r.logger.Debug("plan computed",
		zap.Int("local", len(local)),
		zap.Int("remote", len(remoteFiles)),
		zap.Int("delete", len(plan.Delete)),
		zap.Int("upload", len(plan.Upload)),
	)

	deleted, err := r.deleteAll(ctx, plan.Delete)
	res.Deleted = deleted
	if err != nil {
		return res, err
	}

	res.Uploaded, res.Failed = r.uploadAll(ctx, plan.Upload)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	r.progress(models.PhaseRefreshing, 0, 0)
	refreshed, err := r.registry.List(ctx)
	if err != nil {
		return res, fmt.Errorf("refresh remote listing: %w", err)
	}
	if err := r.store.ReplaceRemoteFiles(ctx, refreshed); err != nil {
		return res, fmt.Errorf("cache remote listing: %w", err)
	}
	res.Remote = len(refreshed)

	r.progress(models.PhaseDone, res.Uploaded, len(plan.Upload))
	return res, nil
}

// deleteAll removes files concurrently. The first failure cancels the rest.
func (r *Reconciler) deleteAll(ctx context.Context, files []models.RemoteFile) (int, error) {
	if len(files) == 0 {
		return 0, nil
	}
	total := len(files)
	var done atomic.Int64
	r.progress(models.PhaseDeleting, 0, total)

	g, gctx := errgroup.WithContext(ctx)
	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := r.registry.Delete(gctx, file); err != nil {
				if errors.Is(err, remote.ErrNotFound) {
					r.logger.Debug("remote file already gone", zap.String("file", file.DisplayName), zap.String("id", file.ID))
				} else {
					return fmt.Errorf("delete %s (%s): %w", file.DisplayName, file.ID, err)
				}
			}
			r.progress(models.PhaseDeleting, int(done.Add(1)), total)
			return nil
		})
	}
	err := g.Wait()
	return int(done.Load()), err
}

// uploadAll transfers files with bounded concurrency. Failures are collected,
// not returned, so one bad file never blocks the others.
func (r *Reconciler) uploadAll(ctx context.Context, uploads []Upload) (int, []FailedUpload) {
	if len(uploads) == 0 {
		return 0, nil
	}
	total := len(uploads)
	var (
		done   atomic.Int64
		mu     sync.Mutex
		failed []FailedUpload
	)
	r.progress(models.PhaseUploading, 0, total)

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, up := range uploads {
		up := up
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := r.upload(ctx, up); err != nil {
				r.logger.Warn("upload failed",
					zap.String("file", up.File.Name),
					zap.String("reason", string(up.Reason)),
					zap.Error(err),
				)
				mu.Lock()
				failed = append(failed, FailedUpload{Name: up.File.Name, Err: err})
				mu.Unlock()
				return nil
			}
			r.progress(models.PhaseUploading, int(done.Add(1)), total)
			return nil
		})
	}
	_ = g.Wait()
	return int(done.Load()), failed
}

func (r *Reconciler) upload(ctx context.Context, up Upload) error {
	file, err := r.store.GetFile(ctx, up.File.Name)
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}
	uploaded, err := r.registry.Upload(ctx, file)
	if err != nil {
		return err
	}
	r.logger.Debug("uploaded",
		zap.String("file", file.Name),
		zap.String("id", uploaded.ID),
		zap.Int64("size", file.Size),
	)

	// stores that mint a new ID per upload leave the old copy behind
	if up.Stale != nil && up.Stale.ID != "" && up.Stale.ID != uploaded.ID {
		if err := r.registry.Delete(ctx, *up.Stale); err != nil && !errors.Is(err, remote.ErrNotFound) {
			// the newer copy wins the next plan, which deletes this one
			r.logger.Warn("failed to delete superseded remote file",
				zap.String("file", file.Name),
				zap.String("id", up.Stale.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (r *Reconciler) progress(phase models.SyncPhase, completed, total int) {
	if r.onProgress == nil {
		return
	}
	r.onProgress(models.Progress{Phase: phase, Completed: completed, Total: total})
}
