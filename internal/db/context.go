package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chmdznr/corpussync/pkg/models"
)

// SaveContextFile saves doc and registers file in one transaction, so a
// document is never stored without the local file that carries it to the remote.
func (db *DB) SaveContextFile(ctx context.Context, doc models.ContextDoc, file FileInput, now time.Time) (models.ContextDoc, bool, error) {
	var changed int
	err := db.withTx(ctx, func(tx *sql.Tx) (err error) {
		if doc, err = saveContextDoc(ctx, tx, doc); err != nil {
			return err
		}
		_, changed, err = registerFiles(ctx, tx, []FileInput{file}, now)
		return err
	})
	if err != nil {
		return models.ContextDoc{}, false, err
	}
	return doc, changed == 1, nil
}

func saveContextDoc(ctx context.Context, tx *sql.Tx, doc models.ContextDoc) (models.ContextDoc, error) {
	if doc.Name == "" {
		return models.ContextDoc{}, fmt.Errorf("context document name is required")
	}
	if !doc.Kind.Valid() {
		return models.ContextDoc{}, fmt.Errorf("unknown context document kind %q", doc.Kind)
	}
	var existing string
	err := tx.QueryRowContext(ctx, `SELECT id FROM context_docs WHERE name = ?`, doc.Name).Scan(&existing)
	switch {
	case err == nil:
		doc.ID = existing
	case errors.Is(err, sql.ErrNoRows):
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
	default:
		return models.ContextDoc{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO context_docs (id, name, kind, content, created) VALUES (?, ?, ?, ?, ?)
	`, doc.ID, doc.Name, string(doc.Kind), doc.Content, toMillis(doc.Created)); err != nil {
		return models.ContextDoc{}, err
	}
	return doc, nil
}

// ListContextDocs returns context documents, optionally filtered by kind
func (db *DB) ListContextDocs(ctx context.Context, kinds ...models.ContextKind) ([]models.ContextDoc, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, kind, content, created FROM context_docs ORDER BY kind, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	want := make(map[models.ContextKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	var docs []models.ContextDoc
	for rows.Next() {
		var doc models.ContextDoc
		var kind string
		var created int64
		if err := rows.Scan(&doc.ID, &doc.Name, &kind, &doc.Content, &created); err != nil {
			return nil, err
		}
		doc.Kind = models.ContextKind(kind)
		doc.Created = fromMillis(created)
		if len(want) > 0 && !want[doc.Kind] {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// RemoveContextFiles deletes a context document and the named local files in
// one transaction. ErrNotFound is returned only when neither the document nor
// any of the files existed.
func (db *DB) RemoveContextFiles(ctx context.Context, name string, files ...string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM context_docs WHERE name = ?`, name)
		if err != nil {
			return err
		}
		removed, _ := res.RowsAffected()
		for _, file := range files {
			res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE name = ?`, file)
			if err != nil {
				return fmt.Errorf("failed to remove file %s: %w", file, err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		if removed == 0 {
			return fmt.Errorf("context document %s: %w", name, ErrNotFound)
		}
		return nil
	})
}
