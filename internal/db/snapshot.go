package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chmdznr/corpussync/pkg/models"
)

// Snapshot is the entire content of the store
type Snapshot struct {
	Files       []models.LocalFile  `json:"files"`
	RemoteFiles []models.RemoteFile `json:"remoteFiles"`
	Posts       []models.Post       `json:"posts"`
	Subscribers []models.Subscriber `json:"subscribers"`
	Opens       []models.Open       `json:"opens"`
	Deliveries  []models.Delivery   `json:"deliveries"`
	RawFiles    []models.RawFile    `json:"rawFiles"`
	ContextDocs []models.ContextDoc `json:"contextDocs"`
}

// Dump reads every collection, file contents included
func (db *DB) Dump(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	var err error

	metas, err := db.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	for _, meta := range metas {
		file, err := db.GetFile(ctx, meta.Name)
		if err != nil {
			return nil, err
		}
		snap.Files = append(snap.Files, file)
	}
	if snap.RemoteFiles, err = db.ListRemoteFiles(ctx); err != nil {
		return nil, fmt.Errorf("failed to list remote files: %w", err)
	}
	if snap.Posts, err = db.ListPosts(ctx); err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	if snap.Subscribers, err = db.ListSubscribers(ctx); err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	if snap.Opens, err = db.listAllOpens(ctx); err != nil {
		return nil, fmt.Errorf("failed to list opens: %w", err)
	}
	if snap.Deliveries, err = db.listAllDeliveries(ctx); err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	if snap.RawFiles, err = db.listRawFiles(ctx); err != nil {
		return nil, fmt.Errorf("failed to list raw files: %w", err)
	}
	if snap.ContextDocs, err = db.ListContextDocs(ctx); err != nil {
		return nil, fmt.Errorf("failed to list context documents: %w", err)
	}
	return &snap, nil
}

// Load replaces every collection with the snapshot in a single transaction
func (db *DB) Load(ctx context.Context, snap *Snapshot) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{
			"file_contents", "files", "remote_files", "posts", "subscribers",
			"opens", "deliveries", "raw_files", "context_docs",
		} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		for _, f := range snap.Files {
			digest := f.Digest
			if digest == "" {
				digest = Digest(f.Content)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO files (name, mime_type, size, digest, modified) VALUES (?, ?, ?, ?, ?)
			`, f.Name, f.MimeType, int64(len(f.Content)), digest, toMillis(f.Modified)); err != nil {
				return fmt.Errorf("failed to restore file %s: %w", f.Name, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO file_contents (name, content) VALUES (?, ?)
			`, f.Name, blob(f.Content)); err != nil {
				return fmt.Errorf("failed to restore content of %s: %w", f.Name, err)
			}
		}
		if err := insertRemoteFiles(ctx, tx, snap.RemoteFiles); err != nil {
			return fmt.Errorf("failed to restore remote files: %w", err)
		}
		if err := insertCorpus(ctx, tx, &Corpus{
			Posts:       snap.Posts,
			Subscribers: snap.Subscribers,
			Opens:       snap.Opens,
			Deliveries:  snap.Deliveries,
			RawFiles:    snap.RawFiles,
		}); err != nil {
			return err
		}
		for _, doc := range snap.ContextDocs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO context_docs (id, name, kind, content, created) VALUES (?, ?, ?, ?, ?)
			`, doc.ID, doc.Name, string(doc.Kind), doc.Content, toMillis(doc.Created)); err != nil {
				return fmt.Errorf("failed to restore context document %s: %w", doc.Name, err)
			}
		}
		return nil
	})
}

func (db *DB) listAllOpens(ctx context.Context) ([]models.Open, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT post_id, email, timestamp, country, device, client FROM opens ORDER BY post_id, timestamp
	`)
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

func (db *DB) listAllDeliveries(ctx context.Context) ([]models.Delivery, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT post_id, email, timestamp FROM deliveries ORDER BY post_id, timestamp
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		var d models.Delivery
		var ts int64
		if err := rows.Scan(&d.PostID, &d.Email, &ts); err != nil {
			return nil, err
		}
		d.Timestamp = fromMillis(ts)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (db *DB) listRawFiles(ctx context.Context) ([]models.RawFile, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, content FROM raw_files ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.RawFile
	for rows.Next() {
		var f models.RawFile
		if err := rows.Scan(&f.Name, &f.Content); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
