package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chmdznr/corpussync/pkg/models"
)

// Corpus is the full set of records produced by one ingestion
type Corpus struct {
	Posts       []models.Post
	Subscribers []models.Subscriber
	Opens       []models.Open
	Deliveries  []models.Delivery
	RawFiles    []models.RawFile
}

// ReplaceCorpus swaps every corpus table for the given records in a single transaction
func (db *DB) ReplaceCorpus(ctx context.Context, c *Corpus) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"posts", "subscribers", "opens", "deliveries", "raw_files"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return insertCorpus(ctx, tx, c)
	})
}

func insertCorpus(ctx context.Context, tx *sql.Tx, c *Corpus) error {
	if err := insertPosts(ctx, tx, c.Posts); err != nil {
		return fmt.Errorf("failed to save posts: %w", err)
	}
	if err := insertSubscribers(ctx, tx, c.Subscribers); err != nil {
		return fmt.Errorf("failed to save subscribers: %w", err)
	}
	if err := insertOpens(ctx, tx, c.Opens); err != nil {
		return fmt.Errorf("failed to save opens: %w", err)
	}
	if err := insertDeliveries(ctx, tx, c.Deliveries); err != nil {
		return fmt.Errorf("failed to save deliveries: %w", err)
	}
	if err := insertRawFiles(ctx, tx, c.RawFiles); err != nil {
		return fmt.Errorf("failed to save raw files: %w", err)
	}
	return nil
}

func insertPosts(ctx context.Context, tx *sql.Tx, posts []models.Post) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO posts (id, title, subtitle, slug, type, audience, published,
			post_date, email_sent_at, word_count, delivered, opens, unique_opens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range posts {
		if _, err := stmt.ExecContext(ctx, p.ID, p.Title, p.Subtitle, p.Slug, p.Type, p.Audience,
			boolInt(p.Published), toMillis(p.PostDate), toMillis(p.EmailSentAt),
			p.WordCount, p.Delivered, p.Opens, p.UniqueOpens); err != nil {
			return err
		}
	}
	return nil
}

func insertSubscribers(ctx context.Context, tx *sql.Tx, subs []models.Subscriber) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO subscribers (email, active, plan, email_disabled, created_at, first_payment_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range subs {
		if _, err := stmt.ExecContext(ctx, s.Email, boolInt(s.Active), s.Plan, boolInt(s.EmailDisabled),
			toMillis(s.CreatedAt), toMillis(s.FirstPaymentAt)); err != nil {
			return err
		}
	}
	return nil
}

func insertOpens(ctx context.Context, tx *sql.Tx, opens []models.Open) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO opens (post_id, email, timestamp, country, device, client) VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range opens {
		if _, err := stmt.ExecContext(ctx, o.PostID, o.Email, toMillis(o.Timestamp), o.Country, o.Device, o.Client); err != nil {
			return err
		}
	}
	return nil
}

func insertDeliveries(ctx context.Context, tx *sql.Tx, deliveries []models.Delivery) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO deliveries (post_id, email, timestamp) VALUES (?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range deliveries {
		if _, err := stmt.ExecContext(ctx, d.PostID, d.Email, toMillis(d.Timestamp)); err != nil {
			return err
		}
	}
	return nil
}

func insertRawFiles(ctx context.Context, tx *sql.Tx, files []models.RawFile) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO raw_files (name, content) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, f.Name, blob(f.Content)); err != nil {
			return err
		}
	}
	return nil
}

const postColumns = `id, title, subtitle, slug, type, audience, published, post_date, email_sent_at,
	word_count, delivered, opens, unique_opens`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (models.Post, error) {
	var p models.Post
	var published int
	var postDate, sentAt int64
	err := row.Scan(&p.ID, &p.Title, &p.Subtitle, &p.Slug, &p.Type, &p.Audience, &published,
		&postDate, &sentAt, &p.WordCount, &p.Delivered, &p.Opens, &p.UniqueOpens)
	if err != nil {
		return models.Post{}, err
	}
	p.Published = published == 1
	p.PostDate = fromMillis(postDate)
	p.EmailSentAt = fromMillis(sentAt)
	return p, nil
}

// ListPosts returns all posts, newest first
func (db *DB) ListPosts(ctx context.Context) ([]models.Post, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts ORDER BY post_date DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// GetPost returns a post by id
func (db *DB) GetPost(ctx context.Context, id string) (models.Post, error) {
	p, err := scanPost(db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Post{}, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return p, err
}

// ListSubscribers returns all subscribers ordered by signup date
func (db *DB) ListSubscribers(ctx context.Context) ([]models.Subscriber, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT email, active, plan, email_disabled, created_at, first_payment_at
		FROM subscribers ORDER BY created_at, email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var s models.Subscriber
		var active, disabled int
		var created, firstPayment int64
		if err := rows.Scan(&s.Email, &active, &s.Plan, &disabled, &created, &firstPayment); err != nil {
			return nil, err
		}
		s.Active = active == 1
		s.EmailDisabled = disabled == 1
		s.CreatedAt = fromMillis(created)
		s.FirstPaymentAt = fromMillis(firstPayment)
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// ListOpens returns the recorded opens of a post
func (db *DB) ListOpens(ctx context.Context, postID string) ([]models.Open, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT post_id, email, timestamp, country, device, client
		FROM opens WHERE post_id = ? ORDER BY timestamp
	`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opens []models.Open
	for rows.Next() {
		var o models.Open
		var ts int64
		if err := rows.Scan(&o.PostID, &o.Email, &ts, &o.Country, &o.Device, &o.Client); err != nil {
			return nil, err
		}
		o.Timestamp = fromMillis(ts)
		opens = append(opens, o)
	}
	return opens, rows.Err()
}

// GetRawFile returns an archive entry kept at ingestion
func (db *DB) GetRawFile(ctx context.Context, name string) (models.RawFile, error) {
	f := models.RawFile{Name: name}
	err := db.QueryRowContext(ctx, `SELECT content FROM raw_files WHERE name = ?`, name).Scan(&f.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RawFile{}, fmt.Errorf("raw file %s: %w", name, ErrNotFound)
	}
	return f, err
}
