package ingest

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/corpussync/internal/db"
)

const samplePosts = `post_id,post_date,is_published,email_sent_at,inbox_sent_at,type,audience,title,subtitle,podcast_url
101.first-post,2024-01-05T10:00:00.000Z,true,2024-01-05T10:05:00.000Z,,newsletter,everyone,"First, post","A ""quoted"" subtitle",
102.draft,,false,,,newsletter,everyone,Draft,,
103.second,2024-02-01 09:30:00,true,,2024-02-01T09:31:00.000Z,newsletter,only_paid,Second,,
`

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func sampleArchive(t *testing.T) []byte {
	return buildArchive(t, map[string]string{
		"posts.csv": samplePosts,
		"posts/101.first-post.opens.csv": "post_id,timestamp,email,country,device_type,client_type\n" +
			"101,2024-01-05T11:00:00Z,a@example.com,US,desktop,gmail\n" +
			"101,2024-01-05T12:00:00Z,A@example.com,US,desktop,gmail\n" +
			"101,2024-01-06T08:00:00Z,b@example.com,DE,mobile,apple\n",
		"posts/101.first-post.delivers.csv": "post_id,timestamp,email\n" +
			"101,2024-01-05T10:05:00Z,a@example.com\n" +
			"101,2024-01-05T10:05:00Z,b@example.com\n" +
			"101,2024-01-05T10:05:00Z,c@example.com\n" +
			"101,2024-01-05T10:05:00Z,d@example.com\n",
		"posts/101.first-post.html": "<h1>Hello</h1><p>One two <b>three</b> four.</p>",
		"posts/102.draft.html":      "<p>draft body</p>",
		"posts/103.second.html":     "<p>Short.</p>",
		"email_list.abc.csv": "email,active_subscription,expiry,plan,email_disabled,created_at,first_payment_at\n" +
			"a@example.com,true,,paid,false,2023-12-01T00:00:00Z,2023-12-02T00:00:00Z\n" +
			"b@example.com,false,,free,true,2023-12-03T00:00:00Z,\n",
	})
}

func TestParse(t *testing.T) {
	data := sampleArchive(t)
	archive, err := Parse(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	c := archive.Corpus
	require.Len(t, c.Posts, 3)
	first := c.Posts[0]
	assert.Equal(t, "101.first-post", first.ID)
	assert.Equal(t, "first-post", first.Slug)
	assert.Equal(t, "First, post", first.Title)
	assert.Equal(t, `A "quoted" subtitle`, first.Subtitle)
	assert.True(t, first.Published)
	assert.Equal(t, time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC), first.PostDate)
	assert.Equal(t, 4, first.Delivered)
	assert.Equal(t, 3, first.Opens)
	assert.Equal(t, 2, first.UniqueOpens, "emails are case-folded before counting")
	assert.InDelta(t, 0.5, first.OpenRate(), 1e-9)
	assert.Equal(t, 5, first.WordCount)

	assert.False(t, c.Posts[1].Published)
	assert.True(t, c.Posts[0].EmailSentAt.Before(c.Posts[2].EmailSentAt), "inbox_sent_at is a fallback")
	assert.Equal(t, time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC), c.Posts[2].PostDate)

	require.Len(t, c.Subscribers, 2)
	assert.Equal(t, "a@example.com", c.Subscribers[0].Email)
	assert.True(t, c.Subscribers[0].Active)
	assert.Equal(t, "paid", c.Subscribers[0].Plan)
	assert.True(t, c.Subscribers[1].EmailDisabled)
	assert.True(t, c.Subscribers[1].FirstPaymentAt.IsZero())

	assert.Len(t, c.Opens, 3)
	assert.Len(t, c.Deliveries, 4)
	assert.Len(t, c.RawFiles, 7)
	assert.Contains(t, archive.Bodies["101.first-post"], "three")
}

func TestParseRejectsInvalidArchives(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "not a zip", data: []byte("definitely not a zip")},
		{name: "missing posts table", data: buildArchive(t, map[string]string{"email_list.csv": "email\n"})},
		{name: "posts table without ids", data: buildArchive(t, map[string]string{"posts.csv": "title\nhello\n"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(bytes.NewReader(tt.data), int64(len(tt.data)))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArchive))
		})
	}
}

func TestParseStripsWrappingDirectory(t *testing.T) {
	data := buildArchive(t, map[string]string{
		"export/posts.csv":             samplePosts,
		"export/posts/103.second.html": "<p>wrapped</p>",
		"__MACOSX/posts.csv":           "junk",
	})
	archive, err := Parse(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Len(t, archive.Corpus.Posts, 3)
	assert.Equal(t, "wrapped", archive.Bodies["103.second"])
}

func TestIngestPersistsAndRegistersFiles(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(filepath.Join(t.TempDir(), "corpus.db"))
	require.NoError(t, err)
	defer store.Close()

	in := New(store, nil)
	data := sampleArchive(t)
	res, err := in.Ingest(ctx, bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, Result{
		Posts: 3, Published: 2, Subscribers: 2, Opens: 3, Deliveries: 4, RawFiles: 7,
		FilesChanged: 3, FilesUnchanged: 0,
	}, res)

	files, err := store.ListFiles(ctx)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"posts.csv", "posts/101.first-post.txt", "posts/103.second.txt"}, names)

	body, err := store.GetFile(ctx, PostFileName("101.first-post"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", body.MimeType)
	assert.True(t, strings.HasPrefix(string(body.Content), "Title: First, post\n"))

	posts, err := store.ListPosts(ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 3)

	// re-ingesting the same export leaves every file unchanged
	res, err = in.Ingest(ctx, bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilesChanged)
	assert.Equal(t, 3, res.FilesUnchanged)
}

func TestReingestUnregistersUnpublishedPosts(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(filepath.Join(t.TempDir(), "corpus.db"))
	require.NoError(t, err)
	defer store.Close()

	_, _, err = store.RegisterFiles(ctx, []db.FileInput{
		{Name: "context/brand.md", MimeType: "text/markdown", Content: []byte("voice")},
	}, time.Now())
	require.NoError(t, err)

	in := New(store, nil)
	data := sampleArchive(t)
	_, err = in.Ingest(ctx, bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	unpublished := strings.Replace(samplePosts, "103.second,2024-02-01 09:30:00,true", "103.second,2024-02-01 09:30:00,false", 1)
	require.NotEqual(t, samplePosts, unpublished)
	data = buildArchive(t, map[string]string{
		"posts.csv":                 unpublished,
		"posts/101.first-post.html": "<h1>Hello</h1><p>One two <b>three</b> four.</p>",
		"posts/103.second.html":     "<p>Short.</p>",
	})
	res, err := in.Ingest(ctx, bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, 1, res.FilesRemoved)

	files, err := store.ListFiles(ctx)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"context/brand.md", "posts.csv", "posts/101.first-post.txt"}, names)

	_, err = store.GetFile(ctx, PostFileName("103.second"))
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestIngestFileMissing(t *testing.T) {
	_, err := New(nil, nil).IngestFile(context.Background(), filepath.Join(t.TempDir(), "nope.zip"))
	require.Error(t, err)
}

func TestReadTable(t *testing.T) {
	tbl, err := readTable(strings.NewReader("\uFEFFPost_ID , Title\n1,\"multi\nline\"\n\n2\n"))
	require.NoError(t, err)
	require.Len(t, tbl.rows, 2)
	assert.True(t, tbl.has("post_id"))
	assert.Equal(t, "multi\nline", tbl.get(tbl.rows[0], "title"))
	assert.Equal(t, "", tbl.get(tbl.rows[1], "title"), "short rows tolerate missing columns")
	assert.Equal(t, "", tbl.get(tbl.rows[0], "absent"))
	assert.Equal(t, "2", tbl.get(tbl.rows[1], "post_id"))

	empty, err := readTable(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty.rows)
}
