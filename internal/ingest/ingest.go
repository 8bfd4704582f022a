// Package ingest reads a Substack export archive into corpus records and
// registers the post bodies as local files for syncing.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/k3a/html2text"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/chmdznr/corpussync/internal/db"
	"github.com/chmdznr/corpussync/pkg/models"
)

// ErrInvalidArchive wraps every validation failure of an export archive.
var ErrInvalidArchive = errors.New("invalid export archive")

const (
	postsTable = "posts.csv"
	postsDir   = "posts/"

	// maxEntrySize bounds a single decompressed archive entry.
	maxEntrySize = 256 << 20
)

// Store is the part of the database ingestion writes to.
type Store interface {
	ReplaceCorpus(ctx context.Context, c *db.Corpus) error
	ReplaceFilesUnder(ctx context.Context, prefix string, inputs []db.FileInput, now time.Time) ([]models.LocalFile, int, []string, error)
}

// Result summarises one ingestion.
type Result struct {
	Posts          int
	Published      int
	Subscribers    int
	Opens          int
	Deliveries     int
	RawFiles       int
	FilesChanged   int
	FilesUnchanged int
	// FilesRemoved counts post files of earlier exports that this one no longer publishes.
	FilesRemoved int
}

// Archive is a parsed export.
type Archive struct {
	Corpus db.Corpus
	// Bodies maps post ID to the plain text of its HTML body.
	Bodies map[string]string
	// PostsCSV is the verbatim posts table.
	PostsCSV []byte
}

// Ingester loads archives into a Store.
type Ingester struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Ingester.
func New(store Store, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{store: store, logger: logger.Named("ingest"), now: time.Now}
}

// IngestFile opens the archive at path and ingests it.
func (in *Ingester) IngestFile(ctx context.Context, filePath string) (Result, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat archive: %w", err)
	}
	return in.Ingest(ctx, f, info.Size())
}

// Ingest parses the archive, replaces the corpus tables, and registers one
// text file per published post plus posts.csv. Post files left over from an
// earlier export are unregistered in the same transaction.
func (in *Ingester) Ingest(ctx context.Context, r io.ReaderAt, size int64) (Result, error) {
	archive, err := Parse(r, size)
	if err != nil {
		return Result{}, err
	}
	c := &archive.Corpus

	res := Result{
		Posts:       len(c.Posts),
		Subscribers: len(c.Subscribers),
		Opens:       len(c.Opens),
		Deliveries:  len(c.Deliveries),
		RawFiles:    len(c.RawFiles),
	}
	if err := in.store.ReplaceCorpus(ctx, c); err != nil {
		return Result{}, fmt.Errorf("failed to save corpus: %w", err)
	}

	inputs := []db.FileInput{{Name: postsTable, MimeType: "text/csv", Content: archive.PostsCSV}}
	for _, p := range c.Posts {
		if !p.Published {
			continue
		}
		res.Published++
		body, ok := archive.Bodies[p.ID]
		if !ok {
			in.logger.Debug("published post has no body", zap.String("post", p.ID))
			continue
		}
		inputs = append(inputs, db.FileInput{
			Name:     PostFileName(p.ID),
			MimeType: "text/plain",
			Content:  []byte(postDocument(p, body)),
		})
	}

	_, changed, removed, err := in.store.ReplaceFilesUnder(ctx, postsDir, inputs, in.now())
	if err != nil {
		return Result{}, fmt.Errorf("failed to register corpus files: %w", err)
	}
	res.FilesChanged = changed
	res.FilesUnchanged = len(inputs) - changed
	res.FilesRemoved = len(removed)
	for _, name := range removed {
		in.logger.Debug("unregistered stale post file", zap.String("file", name))
	}

	in.logger.Info("archive ingested",
		zap.Int("posts", res.Posts),
		zap.Int("subscribers", res.Subscribers),
		zap.Int("opens", res.Opens),
		zap.Int("deliveries", res.Deliveries),
		zap.Int("files_changed", res.FilesChanged),
		zap.Int("files_removed", res.FilesRemoved),
	)
	return res, nil
}

// PostFileName is the local file name of a post body.
func PostFileName(postID string) string {
	return postsDir + postID + ".txt"
}

// postDocument prefixes the body with the metadata a model needs to cite it.
func postDocument(p models.Post, body string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\n", p.Title)
	if p.Subtitle != "" {
		fmt.Fprintf(&sb, "Subtitle: %s\n", p.Subtitle)
	}
	if !p.PostDate.IsZero() {
		fmt.Fprintf(&sb, "Published: %s\n", p.PostDate.Format("2006-01-02"))
	}
	sb.WriteString("\n")
	sb.WriteString(body)
	return sb.String()
}

// Parse reads every entry of the archive and builds the corpus.
func Parse(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}

	entries := make(map[string][]byte, len(zr.File))
	var names []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		name := normalizeName(f.Name)
		if name == "" || strings.HasPrefix(path.Base(name), ".") {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidArchive, f.Name, err)
		}
		entries[name] = data
		names = append(names, name)
	}
	sort.Strings(names)

	postsCSV, ok := entries[postsTable]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidArchive, postsTable)
	}

	archive := &Archive{PostsCSV: postsCSV, Bodies: map[string]string{}}
	c := &archive.Corpus

	postsTbl, err := readTable(bytes.NewReader(postsCSV))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidArchive, postsTable, err)
	}
	if !postsTbl.has("post_id") {
		return nil, fmt.Errorf("%w: %s has no post_id column", ErrInvalidArchive, postsTable)
	}
	c.Posts = parsePosts(postsTbl)

	subscribers := map[string]models.Subscriber{}
	for _, name := range names {
		data := entries[name]
		c.RawFiles = append(c.RawFiles, models.RawFile{Name: name, Content: data})

		switch {
		case isSubscriberTable(name):
			tbl, err := readTable(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidArchive, name, err)
			}
			for _, s := range parseSubscribers(tbl) {
				subscribers[s.Email] = s
			}
		case strings.HasPrefix(name, postsDir) && strings.HasSuffix(name, ".opens.csv"):
			tbl, err := readTable(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidArchive, name, err)
			}
			c.Opens = append(c.Opens, parseOpens(tbl, postIDFromName(name, ".opens.csv"))...)
		case strings.HasPrefix(name, postsDir) && strings.HasSuffix(name, ".delivers.csv"):
			tbl, err := readTable(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidArchive, name, err)
			}
			c.Deliveries = append(c.Deliveries, parseDeliveries(tbl, postIDFromName(name, ".delivers.csv"))...)
		case strings.HasPrefix(name, postsDir) && strings.HasSuffix(name, ".html"):
			archive.Bodies[postIDFromName(name, ".html")] = htmlToText(string(data))
		}
	}

	for _, s := range subscribers {
		c.Subscribers = append(c.Subscribers, s)
	}
	sort.Slice(c.Subscribers, func(i, j int) bool { return c.Subscribers[i].Email < c.Subscribers[j].Email })

	applyMetrics(c.Posts, c.Opens, c.Deliveries, archive.Bodies)
	return archive, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("entry exceeds %d bytes", maxEntrySize)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
}

// normalizeName strips a single wrapping directory so archives re-zipped by
// hand ("export/posts.csv") read the same as the original export.
func normalizeName(name string) string {
	name = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if name == "." {
		return ""
	}
	if i := strings.Index(name, "/"); i > 0 {
		rest := name[i+1:]
		if rest == postsTable || strings.HasPrefix(rest, postsDir) || isSubscriberTable(rest) {
			return rest
		}
	}
	return name
}

func isSubscriberTable(name string) bool {
	return !strings.Contains(name, "/") && strings.HasPrefix(name, "email_list") && strings.HasSuffix(name, ".csv")
}

func postIDFromName(name, suffix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(name, postsDir), suffix)
}

func parsePosts(t *table) []models.Post {
	seen := map[string]bool{}
	var posts []models.Post
	for _, row := range t.rows {
		id := t.get(row, "post_id")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		posts = append(posts, models.Post{
			ID:          id,
			Title:       t.get(row, "title"),
			Subtitle:    t.get(row, "subtitle"),
			Slug:        slugFromID(id),
			Type:        t.get(row, "type"),
			Audience:    t.get(row, "audience"),
			Published:   t.boolean(row, "is_published"),
			PostDate:    t.timestamp(row, "post_date"),
			EmailSentAt: t.timestamp(row, "email_sent_at", "inbox_sent_at"),
		})
	}
	return posts
}

// slugFromID splits Substack's "<numeric id>.<slug>" post identifiers.
func slugFromID(id string) string {
	if i := strings.Index(id, "."); i >= 0 {
		return id[i+1:]
	}
	return id
}

func parseSubscribers(t *table) []models.Subscriber {
	var subs []models.Subscriber
	for _, row := range t.rows {
		email := strings.ToLower(t.get(row, "email"))
		if email == "" {
			continue
		}
		subs = append(subs, models.Subscriber{
			Email:          email,
			Active:         t.boolean(row, "active_subscription"),
			Plan:           t.get(row, "plan"),
			EmailDisabled:  t.boolean(row, "email_disabled"),
			CreatedAt:      t.timestamp(row, "created_at"),
			FirstPaymentAt: t.timestamp(row, "first_payment_at"),
		})
	}
	return subs
}

func parseOpens(t *table, postID string) []models.Open {
	opens := make([]models.Open, 0, len(t.rows))
	for _, row := range t.rows {
		id := t.get(row, "post_id")
		if id == "" {
			id = postID
		}
		opens = append(opens, models.Open{
			PostID:    id,
			Email:     strings.ToLower(t.get(row, "email")),
			Timestamp: t.timestamp(row, "timestamp"),
			Country:   t.get(row, "country"),
			Device:    t.get(row, "device_type"),
			Client:    t.get(row, "client_type", "client_os"),
		})
	}
	return opens
}

func parseDeliveries(t *table, postID string) []models.Delivery {
	deliveries := make([]models.Delivery, 0, len(t.rows))
	for _, row := range t.rows {
		id := t.get(row, "post_id")
		if id == "" {
			id = postID
		}
		deliveries = append(deliveries, models.Delivery{
			PostID:    id,
			Email:     strings.ToLower(t.get(row, "email")),
			Timestamp: t.timestamp(row, "timestamp"),
		})
	}
	return deliveries
}

// applyMetrics fills delivery and open counts and word counts on posts.
// Per-post files name posts by their full ID, but the rows inside may carry
// only the numeric prefix, so both forms are matched.
func applyMetrics(posts []models.Post, opens []models.Open, deliveries []models.Delivery, bodies map[string]string) {
	index := make(map[string]int, len(posts)*2)
	for i, p := range posts {
		index[p.ID] = i
		if n := numericID(p.ID); n != p.ID {
			if _, taken := index[n]; !taken {
				index[n] = i
			}
		}
	}
	lookup := func(id string) (int, bool) {
		if i, ok := index[id]; ok {
			return i, true
		}
		i, ok := index[numericID(id)]
		return i, ok
	}

	for _, d := range deliveries {
		if i, ok := lookup(d.PostID); ok {
			posts[i].Delivered++
		}
	}
	unique := make([]map[string]struct{}, len(posts))
	for _, o := range opens {
		i, ok := lookup(o.PostID)
		if !ok {
			continue
		}
		posts[i].Opens++
		if unique[i] == nil {
			unique[i] = map[string]struct{}{}
		}
		unique[i][o.Email] = struct{}{}
	}
	for i := range posts {
		posts[i].UniqueOpens = len(unique[i])
		if body, ok := bodies[posts[i].ID]; ok {
			posts[i].WordCount = len(strings.Fields(body))
		}
	}
}

func numericID(id string) string {
	if i := strings.Index(id, "."); i >= 0 {
		return id[:i]
	}
	return id
}

func htmlToText(html string) string {
	return strings.TrimSpace(html2text.HTML2Text(html))
}
