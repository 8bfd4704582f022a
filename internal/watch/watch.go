// Package watch keeps a directory of context documents registered in the
// store and triggers reconciliation when it changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/chmdznr/corpussync/internal/db"
	syncer "github.com/chmdznr/corpussync/internal/sync"
	"github.com/chmdznr/corpussync/pkg/models"
)

// ErrWatcherFailed indicates the filesystem watcher could not start.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

const (
	contextDir      = "context/"
	defaultDebounce = 500 * time.Millisecond
	maxContextSize  = 4 << 20
)

// Store is the slice of the database the watcher writes to.
type Store interface {
	SaveContextFile(ctx context.Context, doc models.ContextDoc, file db.FileInput, now time.Time) (models.ContextDoc, bool, error)
	RemoveContextFiles(ctx context.Context, name string, files ...string) error
}

// Syncer runs a reconciliation pass.
type Syncer interface {
	Sync(ctx context.Context) (syncer.Result, error)
}

// Options configures a Watcher.
type Options struct {
	Dir      string
	Interval time.Duration
	Debounce time.Duration
	Logger   *zap.Logger
}

// Watcher mirrors Dir into the store.
type Watcher struct {
	store    Store
	syncer   Syncer
	dir      string
	interval time.Duration
	debounce time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a watcher. A zero Interval disables periodic syncs.
func New(store Store, s Syncer, opts Options) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch directory %s is not a directory", opts.Dir)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		store:    store,
		syncer:   s,
		dir:      opts.Dir,
		interval: opts.Interval,
		debounce: opts.Debounce,
		logger:   logger.Named("watch"),
		now:      time.Now,
	}, nil
}

// Run registers every file already in the directory, syncs, then follows
// changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	if err := w.Scan(ctx); err != nil {
		return err
	}
	w.sync(ctx, "startup")

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	debounce := time.NewTimer(w.debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.handle(ctx, event) && !pending {
				pending = true
				debounce.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-debounce.C:
			pending = false
			w.sync(ctx, "change")
		case <-tick:
			w.sync(ctx, "interval")
		}
	}
}

// Scan registers every eligible file currently in the directory.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !eligible(e.Name()) {
			continue
		}
		if err := w.register(ctx, filepath.Join(w.dir, e.Name())); err != nil {
			w.logger.Warn("failed to register context file", zap.String("file", e.Name()), zap.Error(err))
		}
	}
	return nil
}

// handle applies one event and reports whether the store changed.
func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if !eligible(name) {
		return false
	}
	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil || info.IsDir() {
			return false
		}
		if err := w.register(ctx, event.Name); err != nil {
			w.logger.Warn("failed to register context file", zap.String("file", name), zap.Error(err))
			return false
		}
		return true
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if err := w.unregister(ctx, name); err != nil {
			w.logger.Warn("failed to unregister context file", zap.String("file", name), zap.Error(err))
			return false
		}
		return true
	}
	return false
}

func (w *Watcher) register(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > maxContextSize {
		return fmt.Errorf("file is larger than %d bytes", maxContextSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	now := w.now().UTC()

	_, changed, err := w.store.SaveContextFile(ctx, models.ContextDoc{
		Name:    name,
		Kind:    KindFor(name),
		Content: string(content),
		Created: now,
	}, db.FileInput{
		Name:     FileName(name),
		MimeType: MimeType(name),
		Content:  content,
	}, now)
	if err != nil {
		return err
	}
	if changed {
		w.logger.Info("context file registered", zap.String("file", name), zap.Int("bytes", len(content)))
	}
	return nil
}

func (w *Watcher) unregister(ctx context.Context, name string) error {
	if err := w.store.RemoveContextFiles(ctx, name, FileName(name)); err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	w.logger.Info("context file removed", zap.String("file", name))
	return nil
}

func (w *Watcher) sync(ctx context.Context, trigger string) {
	if w.syncer == nil || ctx.Err() != nil {
		return
	}
	res, err := w.syncer.Sync(ctx)
	if err != nil {
		w.logger.Error("sync failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	if res.Skipped {
		return
	}
	w.logger.Info("synced",
		zap.String("trigger", trigger),
		zap.Int("uploaded", res.Uploaded),
		zap.Int("deleted", res.Deleted),
		zap.Int("failed", len(res.Failed)),
	)
}

// FileName is the local file a context document is registered under.
func FileName(name string) string {
	return contextDir + name
}

// KindFor infers the document kind from its file name.
func KindFor(name string) models.ContextKind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "brand"):
		return models.ContextBrand
	case strings.HasPrefix(lower, "author"), strings.HasPrefix(lower, "about"):
		return models.ContextAuthor
	default:
		return models.ContextInstructions
	}
}

// MimeType maps a file extension to the type uploaded with it.
func MimeType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".html", ".htm":
		return "text/html"
	default:
		return "text/plain"
	}
}

// eligible skips hidden files and editor temporaries.
func eligible(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "#") {
		return false
	}
	for _, suffix := range []string{"~", ".swp", ".swx", ".tmp"} {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	return true
}
