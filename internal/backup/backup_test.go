package backup

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/corpussync/internal/db"
	"github.com/chmdznr/corpussync/pkg/models"
)

func openStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "corpus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store *db.DB) {
	t.Helper()
	ctx := context.Background()
	_, _, err := store.RegisterFiles(ctx, []db.FileInput{
		{Name: "posts.csv", MimeType: "text/csv", Content: []byte("post_id\n1.a\n")},
		{Name: "posts/1.a.txt", MimeType: "text/plain", Content: []byte("body")},
	}, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, store.ReplaceCorpus(ctx, &db.Corpus{
		Posts:       []models.Post{{ID: "1.a", Title: "A", Published: true, Delivered: 2, UniqueOpens: 1}},
		Subscribers: []models.Subscriber{{Email: "a@example.com", Active: true}},
		Opens:       []models.Open{{PostID: "1", Email: "a@example.com"}},
		Deliveries:  []models.Delivery{{PostID: "1", Email: "a@example.com"}, {PostID: "1", Email: "b@example.com"}},
		RawFiles:    []models.RawFile{{Name: "posts.csv", Content: []byte("post_id\n1.a\n")}},
	}))
	_, _, err = store.SaveContextFile(ctx, models.ContextDoc{Name: "brand.md", Kind: models.ContextBrand, Content: "voice"},
		db.FileInput{Name: "context/brand.md", MimeType: "text/markdown", Content: []byte("voice")}, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)
	seed(t, src)

	var buf bytes.Buffer
	summary, err := Export(ctx, src, "demo", &buf)
	require.NoError(t, err)
	assert.Equal(t, "demo", summary.Project)
	assert.Equal(t, 3, summary.Files)
	assert.Equal(t, 1, summary.Posts)

	dst := openStore(t)
	// pre-existing state is replaced, not merged
	_, _, err = dst.RegisterFiles(ctx, []db.FileInput{{Name: "stale.txt", MimeType: "text/plain", Content: []byte("x")}}, time.Now())
	require.NoError(t, err)

	restored, err := Import(ctx, dst, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, summary.Files, restored.Files)

	want, err := src.Dump(ctx)
	require.NoError(t, err)
	got, err := dst.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadRejectsUnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(EntryName)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"version": 99}))
	require.NoError(t, zw.Close())

	_, err = Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestReadRejectsInvalidArchives(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("other.json")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	tests := map[string][]byte{
		"not a zip":     []byte("nope"),
		"missing entry": buf.Bytes(),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(data), int64(len(data)))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidBackup))
		})
	}
}

func TestImportLeavesStoreUntouchedOnBadArchive(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seed(t, store)

	_, err := Import(ctx, store, strings.NewReader("garbage"), int64(len("garbage")))
	require.Error(t, err)

	files, err := store.ListFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 3)
}
