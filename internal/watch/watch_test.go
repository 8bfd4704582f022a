package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/corpussync/internal/db"
	syncer "github.com/chmdznr/corpussync/internal/sync"
	"github.com/chmdznr/corpussync/pkg/models"
)

type countingSyncer struct {
	calls atomic.Int32
	err   error
}

func (c *countingSyncer) Sync(ctx context.Context) (syncer.Result, error) {
	c.calls.Add(1)
	return syncer.Result{Status: models.StatusReady}, c.err
}

func newTestWatcher(t *testing.T) (*Watcher, *db.DB, *countingSyncer, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := db.Open(filepath.Join(t.TempDir(), "corpus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := &countingSyncer{}
	w, err := New(store, s, Options{Dir: dir, Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	return w, store, s, dir
}

func contextNames(t *testing.T, store *db.DB) []string {
	t.Helper()
	docs, err := store.ListContextDocs(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	return names
}

func TestNewValidatesDirectory(t *testing.T) {
	_, err := New(nil, nil, Options{})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = New(nil, nil, Options{Dir: file})
	require.Error(t, err)
}

func TestScanRegistersExistingFiles(t *testing.T) {
	ctx := context.Background()
	w, store, _, dir := newTestWatcher(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "brand.md"), []byte("Warm."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style-guide.txt"), []byte("Short sentences."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("no"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	require.NoError(t, w.Scan(ctx))
	assert.ElementsMatch(t, []string{"brand.md", "style-guide.txt"}, contextNames(t, store))

	brand, err := store.ListContextDocs(ctx, models.ContextBrand)
	require.NoError(t, err)
	require.Len(t, brand, 1)
	assert.Equal(t, "Warm.", brand[0].Content)

	file, err := store.GetFile(ctx, "context/brand.md")
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", file.MimeType)
}

func TestHandleEvents(t *testing.T) {
	ctx := context.Background()
	w, store, _, dir := newTestWatcher(t)
	path := filepath.Join(dir, "author.md")
	require.NoError(t, os.WriteFile(path, []byte("Bio"), 0o644))

	assert.True(t, w.handle(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create}))
	assert.Equal(t, []string{"author.md"}, contextNames(t, store))

	require.NoError(t, os.Remove(path))
	assert.True(t, w.handle(ctx, fsnotify.Event{Name: path, Op: fsnotify.Remove}))
	assert.Empty(t, contextNames(t, store))
	_, err := store.GetFile(ctx, "context/author.md")
	assert.True(t, errors.Is(err, db.ErrNotFound))

	// removing something never registered is not an error
	assert.True(t, w.handle(ctx, fsnotify.Event{Name: path, Op: fsnotify.Remove}))
	assert.False(t, w.handle(ctx, fsnotify.Event{Name: filepath.Join(dir, "x.swp"), Op: fsnotify.Create}))
	assert.False(t, w.handle(ctx, fsnotify.Event{Name: filepath.Join(dir, "gone.md"), Op: fsnotify.Write}))
}

func TestRunSyncsOnChange(t *testing.T) {
	w, store, s, dir := newTestWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return s.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond, "startup sync")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "instructions.md"), []byte("Be brief."), 0o644))
	require.Eventually(t, func() bool {
		return s.calls.Load() >= 2 && len(contextNames(t, store)) == 1
	}, 2*time.Second, 5*time.Millisecond, "change sync")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestKindFor(t *testing.T) {
	tests := map[string]models.ContextKind{
		"brand.md":        models.ContextBrand,
		"Brand-Voice.txt": models.ContextBrand,
		"author.md":       models.ContextAuthor,
		"about-me.md":     models.ContextAuthor,
		"style.md":        models.ContextInstructions,
	}
	for name, want := range tests {
		assert.Equal(t, want, KindFor(name), name)
	}
}

func TestMimeTypeAndEligible(t *testing.T) {
	assert.Equal(t, "text/markdown", MimeType("a.MD"))
	assert.Equal(t, "application/json", MimeType("a.json"))
	assert.Equal(t, "text/plain", MimeType("a"))

	assert.True(t, eligible("notes.md"))
	for _, name := range []string{"", ".DS_Store", "notes.md~", "#notes.md#", "a.swp", "a.tmp"} {
		assert.False(t, eligible(name), name)
	}
}
