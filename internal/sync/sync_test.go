package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chmdznr/corpussync/internal/db"
	"github.com/chmdznr/corpussync/pkg/models"
)

// memStore is an in-memory Store.
type memStore struct {
	mu     sync.Mutex
	files  map[string]models.LocalFile
	cached []models.RemoteFile
	// listErr fails ListFiles
	listErr error
}

func newMemStore(files ...models.LocalFile) *memStore {
	s := &memStore{files: map[string]models.LocalFile{}}
	for _, f := range files {
		if f.Content == nil {
			f.Content = []byte("content of " + f.Name)
		}
		s.files[f.Name] = f
	}
	return s
}

func (s *memStore) ListFiles(ctx context.Context) ([]models.LocalFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.LocalFile, 0, len(s.files))
	for _, f := range s.files {
		f.Content = nil
		out = append(out, f)
	}
	return out, nil
}

func (s *memStore) GetFile(ctx context.Context, name string) (models.LocalFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	if !ok {
		return models.LocalFile{}, db.ErrNotFound
	}
	return f, nil
}

func (s *memStore) ReplaceRemoteFiles(ctx context.Context, files []models.RemoteFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = append([]models.RemoteFile(nil), files...)
	return nil
}

// fakeRegistry behaves like the Gemini Files API: every upload mints a new ID.
// With overwrite set it behaves like an object store instead and keys files
// by display name, so re-uploading replaces the record in place.
type fakeRegistry struct {
	overwrite bool

	mu      sync.Mutex
	files   map[string]models.RemoteFile
	nextID  int
	clock   time.Time
	uploads []string
	deletes []string

	failUpload map[string]error
	failDelete error
	failList   error
	// uploadDelay holds each upload open so concurrency can be observed
	uploadDelay time.Duration
	// gate blocks uploads until closed when set
	gate chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeRegistry(files ...models.RemoteFile) *fakeRegistry {
	r := &fakeRegistry{files: map[string]models.RemoteFile{}, clock: at(100)}
	for _, f := range files {
		r.files[f.ID] = f
	}
	return r
}

func (r *fakeRegistry) List(ctx context.Context) ([]models.RemoteFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failList != nil {
		return nil, r.failList
	}
	out := make([]models.RemoteFile, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, f)
	}
	return out, nil
}

func (r *fakeRegistry) Get(ctx context.Context, id string) (models.RemoteFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return models.RemoteFile{}, fmt.Errorf("get %s: not found", id)
	}
	return f, nil
}

func (r *fakeRegistry) Upload(ctx context.Context, file models.LocalFile) (models.RemoteFile, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		max := r.maxInFlight.Load()
		if n <= max || r.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}
	if r.gate != nil {
		<-r.gate
	}
	if r.uploadDelay > 0 {
		time.Sleep(r.uploadDelay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, file.Name)
	if err := r.failUpload[file.Name]; err != nil {
		return models.RemoteFile{}, err
	}
	if len(file.Content) == 0 {
		return models.RemoteFile{}, errors.New("upload without content")
	}
	r.nextID++
	r.clock = r.clock.Add(time.Second)
	id := fmt.Sprintf("files/%d", r.nextID)
	if r.overwrite {
		id = file.Name
	}
	f := models.RemoteFile{
		ID:          id,
		DisplayName: file.Name,
		MimeType:    file.MimeType,
		SizeBytes:   int64(len(file.Content)),
		CreatedAt:   r.clock,
		UpdatedAt:   r.clock,
	}
	r.files[f.ID] = f
	return f, nil
}

func (r *fakeRegistry) Delete(ctx context.Context, file models.RemoteFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failDelete != nil {
		return r.failDelete
	}
	r.deletes = append(r.deletes, file.ID)
	delete(r.files, file.ID)
	return nil
}

func (r *fakeRegistry) displayNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, f := range r.files {
		names = append(names, f.DisplayName)
	}
	sort.Strings(names)
	return names
}

func (r *fakeRegistry) resetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads, r.deletes = nil, nil
}

func TestSyncConvergesExample(t *testing.T) {
	store := newMemStore(localFile("A", 5), localFile("B", 10))
	reg := newFakeRegistry(remoteFile("a", "A", 5), remoteFile("b", "B", 8), remoteFile("c", "C", 1))
	rec := NewReconciler(store, reg, Options{})

	res, err := rec.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, res.Status)
	assert.Equal(t, models.StatusReady, rec.Status())

	assert.Equal(t, []string{"B"}, reg.uploads)
	// C is orphaned and the superseded B copy is removed after upload
	assert.ElementsMatch(t, []string{"c", "b"}, reg.deletes)
	assert.Equal(t, 1, res.Uploaded)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Unchanged)
	assert.Empty(t, res.Failed)

	assert.Equal(t, []string{"A", "B"}, reg.displayNames())
	assert.Len(t, store.cached, 2)
}

func TestSyncIsIdempotent(t *testing.T) {
	store := newMemStore(localFile("A", 5), localFile("B", 10), localFile("C", 20))
	reg := newFakeRegistry(remoteFile("x", "X", 1))
	rec := NewReconciler(store, reg, Options{})

	_, err := rec.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, reg.displayNames())

	reg.resetCalls()
	res, err := rec.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reg.uploads)
	assert.Empty(t, reg.deletes)
	assert.Equal(t, 0, res.Uploaded)
	assert.Equal(t, 3, res.Unchanged)
}

func TestSyncCapsConcurrentUploads(t *testing.T) {
	var files []models.LocalFile
	for i := 0; i < 20; i++ {
		files = append(files, localFile(fmt.Sprintf("f%02d", i), 1))
	}
	store := newMemStore(files...)
	reg := newFakeRegistry()
	reg.uploadDelay = 10 * time.Millisecond

	res, err := NewReconciler(store, reg, Options{}).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, res.Uploaded)
	assert.LessOrEqual(t, reg.maxInFlight.Load(), int32(DefaultUploadConcurrency))
	assert.Greater(t, reg.maxInFlight.Load(), int32(1), "uploads should overlap")
}

func TestSyncHonoursConfiguredConcurrency(t *testing.T) {
	store := newMemStore(localFile("a", 1), localFile("b", 1), localFile("c", 1), localFile("d", 1))
	reg := newFakeRegistry()
	reg.uploadDelay = 5 * time.Millisecond

	_, err := NewReconciler(store, reg, Options{UploadConcurrency: 1}).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), reg.maxInFlight.Load())
}

func TestSyncClampsConcurrencyToCap(t *testing.T) {
	var files []models.LocalFile
	for i := 0; i < 20; i++ {
		files = append(files, localFile(fmt.Sprintf("f%02d", i), 1))
	}
	store := newMemStore(files...)
	reg := newFakeRegistry()
	reg.uploadDelay = 10 * time.Millisecond

	res, err := NewReconciler(store, reg, Options{UploadConcurrency: 20}).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, res.Uploaded)
	assert.LessOrEqual(t, reg.maxInFlight.Load(), int32(DefaultUploadConcurrency))
}

func TestSyncOverwriteInPlaceKeepsUpload(t *testing.T) {
	store := newMemStore(localFile("A", 5), localFile("B", 10))
	reg := newFakeRegistry(remoteFile("A", "A", 5), remoteFile("B", "B", 8))
	reg.overwrite = true
	rec := NewReconciler(store, reg, Options{})

	res, err := rec.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, reg.uploads)
	// the upload replaced B under the same ID, so there is nothing stale to delete
	assert.Empty(t, reg.deletes)
	assert.Equal(t, 0, res.Deleted)
	assert.Equal(t, []string{"A", "B"}, reg.displayNames())

	b, err := reg.Get(context.Background(), "B")
	require.NoError(t, err)
	assert.True(t, b.UpdatedAt.After(at(10)))

	reg.resetCalls()
	res, err = rec.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reg.uploads)
	assert.Empty(t, reg.deletes)
	assert.Equal(t, 2, res.Unchanged)
}

func TestSyncFailedUploadDoesNotBlockOthers(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := newMemStore(localFile("A", 1), localFile("B", 1), localFile("C", 1))
	reg := newFakeRegistry()
	reg.failUpload = map[string]error{"B": errors.New("http 400: bad request")}
	rec := NewReconciler(store, reg, Options{Logger: zap.New(core)})

	res, err := rec.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, res.Status)
	assert.Equal(t, 2, res.Uploaded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "B", res.Failed[0].Name)
	assert.Equal(t, []string{"A", "C"}, reg.displayNames())

	entries := logs.FilterMessage("upload failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "B", entries[0].ContextMap()["file"])

	// the next pass retries the file naturally
	reg.failUpload = nil
	reg.resetCalls()
	res, err = rec.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, reg.uploads)
	assert.Empty(t, res.Failed)
}

func TestSyncDeleteFailureAborts(t *testing.T) {
	store := newMemStore(localFile("A", 1))
	reg := newFakeRegistry(remoteFile("c", "C", 1))
	reg.failDelete = errors.New("http 403: forbidden")
	rec := NewReconciler(store, reg, Options{})

	res, err := rec.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.StatusError, res.Status)
	assert.Equal(t, models.StatusError, rec.Status())
	assert.Empty(t, reg.uploads, "uploads do not run after a failed delete phase")
	assert.Nil(t, store.cached)
}

func TestSyncListingFailure(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		store := newMemStore()
		store.listErr = errors.New("database is locked")
		res, err := NewReconciler(store, newFakeRegistry(), Options{}).Sync(context.Background())
		require.Error(t, err)
		assert.Equal(t, models.StatusError, res.Status)
	})
	t.Run("remote", func(t *testing.T) {
		reg := newFakeRegistry()
		reg.failList = errors.New("connection refused")
		res, err := NewReconciler(newMemStore(localFile("A", 1)), reg, Options{}).Sync(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "list remote files")
		assert.Equal(t, models.StatusError, res.Status)
	})
}

func TestSyncSkipsReentrantCall(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	store := newMemStore(localFile("A", 1))
	reg := newFakeRegistry()
	reg.gate = make(chan struct{})
	rec := NewReconciler(store, reg, Options{Logger: zap.New(core)})

	done := make(chan Result)
	go func() {
		res, _ := rec.Sync(context.Background())
		done <- res
	}()

	require.Eventually(t, func() bool { return reg.inFlight.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, models.StatusSyncing, rec.Status())

	res, err := rec.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, logs.FilterMessage("sync already in progress, skipping").Len())

	close(reg.gate)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Uploaded)
	assert.Equal(t, first, rec.LastResult())
}

func TestSyncCollapsesDuplicateRemoteNames(t *testing.T) {
	store := newMemStore(localFile("A", 1))
	reg := newFakeRegistry(remoteFile("a1", "A", 2), remoteFile("a2", "A", 3))

	res, err := NewReconciler(store, reg, Options{}).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, reg.deletes)
	assert.Equal(t, 0, res.Uploaded)
	assert.Equal(t, []string{"A"}, reg.displayNames())
}

func TestSyncReportsProgress(t *testing.T) {
	var (
		mu     sync.Mutex
		phases []models.SyncPhase
		last   models.Progress
	)
	store := newMemStore(localFile("A", 1), localFile("B", 1))
	reg := newFakeRegistry(remoteFile("x", "X", 1))
	rec := NewReconciler(store, reg, Options{OnProgress: func(p models.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
		last = p
	}})

	_, err := rec.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.SyncPhase{
		models.PhaseListing,
		models.PhaseDeleting,
		models.PhaseUploading,
		models.PhaseRefreshing,
		models.PhaseDone,
	}, phases)
	assert.Equal(t, models.Progress{Phase: models.PhaseDone, Completed: 2, Total: 2}, last)
}

func TestSyncWithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(t.TempDir() + "/corpus.db")
	require.NoError(t, err)
	defer store.Close()

	_, _, err = store.RegisterFiles(ctx, []db.FileInput{
		{Name: "posts.csv", MimeType: "text/csv", Content: []byte("post_id\n1\n")},
		{Name: "posts/1.txt", MimeType: "text/plain", Content: []byte("hello")},
	}, time.Unix(50, 0))
	require.NoError(t, err)

	reg := newFakeRegistry()
	rec := NewReconciler(store, reg, Options{})
	_, err = rec.Sync(ctx)
	require.NoError(t, err)

	cached, err := store.ListRemoteFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PendingFiles)
	assert.Equal(t, int64(0), stats.OrphanFiles)
}
