package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/chmdznr/corpussync/pkg/models"
)

// FileInput is the content handed to RegisterFiles
type FileInput struct {
	Name     string
	MimeType string
	Content  []byte
}

// ErrInvalidName is returned for file names a remote registry could not store verbatim.
var ErrInvalidName = errors.New("invalid file name")

// ValidateName checks that name is a slash-separated relative path that
// object stores keep byte for byte: no backslashes, no empty segments,
// no leading or trailing slash and no invisible or ideographic spaces.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	case strings.HasPrefix(name, "/"), strings.HasSuffix(name, "/"), strings.Contains(name, "//"):
		return fmt.Errorf("%w: %q has an empty path segment", ErrInvalidName, name)
	case strings.ContainsAny(name, "\\\u3000\u200B\uFEFF"):
		return fmt.Errorf("%w: %q contains a backslash or invisible space", ErrInvalidName, name)
	}
	return nil
}

// Digest returns the hex blake2b-256 digest of content
func Digest(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// RegisterFiles registers multiple files in a single transaction. Files whose
// digest and mime type are unchanged keep their previous modification time.
func (db *DB) RegisterFiles(ctx context.Context, inputs []FileInput, now time.Time) ([]models.LocalFile, int, error) {
	var (
		out     []models.LocalFile
		changed int
	)
	err := db.withTx(ctx, func(tx *sql.Tx) (err error) {
		out, changed, err = registerFiles(ctx, tx, inputs, now)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return out, changed, nil
}

// ReplaceFilesUnder registers inputs and, in the same transaction, removes
// every file whose name starts with prefix and is not among the inputs.
// Inputs outside prefix are registered but never cause removals.
func (db *DB) ReplaceFilesUnder(ctx context.Context, prefix string, inputs []FileInput, now time.Time) (files []models.LocalFile, changed int, removed []string, err error) {
	if prefix == "" {
		return nil, 0, nil, fmt.Errorf("prefix is required")
	}
	keep := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		keep[in.Name] = true
	}
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if files, changed, err = registerFiles(ctx, tx, inputs, now); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `SELECT name FROM files WHERE name >= ? ORDER BY name`, prefix)
		if err != nil {
			return err
		}
		var stale []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return err
			}
			if !strings.HasPrefix(name, prefix) {
				break
			}
			if !keep[name] {
				stale = append(stale, name)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, name := range stale {
			if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE name = ?`, name); err != nil {
				return fmt.Errorf("failed to remove file %s: %w", name, err)
			}
		}
		removed = stale
		return nil
	})
	if err != nil {
		return nil, 0, nil, err
	}
	return files, changed, removed, nil
}

func registerFiles(ctx context.Context, tx *sql.Tx, inputs []FileInput, now time.Time) ([]models.LocalFile, int, error) {
	out := make([]models.LocalFile, 0, len(inputs))
	changed := 0
	for _, in := range inputs {
		if err := ValidateName(in.Name); err != nil {
			return nil, 0, err
		}
		if in.MimeType == "" {
			return nil, 0, fmt.Errorf("mime type is required for %s", in.Name)
		}
		file := models.LocalFile{
			Name:     in.Name,
			MimeType: in.MimeType,
			Size:     int64(len(in.Content)),
			Digest:   Digest(in.Content),
			Modified: now.UTC().Truncate(time.Millisecond),
		}

		var prevDigest, prevMime string
		var prevModified int64
		err := tx.QueryRowContext(ctx, `
			SELECT digest, mime_type, modified FROM files WHERE name = ?
		`, in.Name).Scan(&prevDigest, &prevMime, &prevModified)
		switch {
		case err == nil && prevDigest == file.Digest && prevMime == file.MimeType:
			file.Modified = fromMillis(prevModified)
			out = append(out, file)
			continue
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return nil, 0, err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO files (name, mime_type, size, digest, modified)
			VALUES (?, ?, ?, ?, ?)
		`, file.Name, file.MimeType, file.Size, file.Digest, toMillis(file.Modified)); err != nil {
			return nil, 0, fmt.Errorf("failed to save file %s: %w", file.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO file_contents (name, content) VALUES (?, ?)
		`, file.Name, blob(in.Content)); err != nil {
			return nil, 0, fmt.Errorf("failed to save content of %s: %w", file.Name, err)
		}
		changed++
		out = append(out, file)
	}
	return out, changed, nil
}

// ListFiles returns file metadata without content, ordered by name
func (db *DB) ListFiles(ctx context.Context) ([]models.LocalFile, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, mime_type, size, digest, modified FROM files ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.LocalFile
	for rows.Next() {
		var file models.LocalFile
		var modified int64
		if err := rows.Scan(&file.Name, &file.MimeType, &file.Size, &file.Digest, &modified); err != nil {
			return nil, err
		}
		file.Modified = fromMillis(modified)
		files = append(files, file)
	}
	return files, rows.Err()
}

// GetFile returns a file including its content
func (db *DB) GetFile(ctx context.Context, name string) (models.LocalFile, error) {
	var file models.LocalFile
	var modified int64
	err := db.QueryRowContext(ctx, `
		SELECT f.name, f.mime_type, f.size, f.digest, f.modified, c.content
		FROM files f JOIN file_contents c ON c.name = f.name
		WHERE f.name = ?
	`, name).Scan(&file.Name, &file.MimeType, &file.Size, &file.Digest, &modified, &file.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LocalFile{}, fmt.Errorf("file %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return models.LocalFile{}, err
	}
	file.Modified = fromMillis(modified)
	return file, nil
}

// RemoveFile deletes a file and its content
func (db *DB) RemoveFile(ctx context.Context, name string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM files WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s: %w", name, ErrNotFound)
	}
	return nil
}

// ReplaceRemoteFiles overwrites the cached remote listing
func (db *DB) ReplaceRemoteFiles(ctx context.Context, files []models.RemoteFile) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM remote_files`); err != nil {
			return err
		}
		return insertRemoteFiles(ctx, tx, files)
	})
}

func insertRemoteFiles(ctx context.Context, tx *sql.Tx, files []models.RemoteFile) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO remote_files (id, display_name, mime_type, size_bytes, uri, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, f.ID, f.DisplayName, f.MimeType, f.SizeBytes, f.URI,
			toMillis(f.CreatedAt), toMillis(f.UpdatedAt)); err != nil {
			return err
		}
	}
	return nil
}

// ListRemoteFiles returns the cached remote listing ordered by display name
func (db *DB) ListRemoteFiles(ctx context.Context) ([]models.RemoteFile, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, display_name, mime_type, size_bytes, uri, created_at, updated_at
		FROM remote_files ORDER BY display_name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.RemoteFile
	for rows.Next() {
		var f models.RemoteFile
		var created, updated int64
		if err := rows.Scan(&f.ID, &f.DisplayName, &f.MimeType, &f.SizeBytes, &f.URI, &created, &updated); err != nil {
			return nil, err
		}
		f.CreatedAt = fromMillis(created)
		f.UpdatedAt = fromMillis(updated)
		files = append(files, f)
	}
	return files, rows.Err()
}
