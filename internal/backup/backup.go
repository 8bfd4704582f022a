// Package backup exports and restores the whole store as a zip archive
// holding a single JSON document.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zip"

	"github.com/chmdznr/corpussync/internal/db"
)

// Version is the current backup document version.
const Version = 1

// EntryName is the archive entry holding the document.
const EntryName = "backup.json"

// ErrUnsupportedVersion is returned for documents written by a newer or unknown format.
var ErrUnsupportedVersion = errors.New("unsupported backup version")

// ErrInvalidBackup is returned when the archive is unreadable or lacks the document.
var ErrInvalidBackup = errors.New("invalid backup archive")

// Store is the part of the database backups read and write.
type Store interface {
	Dump(ctx context.Context) (*db.Snapshot, error)
	Load(ctx context.Context, snap *db.Snapshot) error
}

// Document is the JSON body of a backup.
type Document struct {
	Version int       `json:"version"`
	Created time.Time `json:"created"`
	Project string    `json:"project"`
	*db.Snapshot
}

// Summary counts what a backup contains.
type Summary struct {
	Project     string
	Created     time.Time
	Files       int
	Posts       int
	Subscribers int
	ContextDocs int
}

// Summary counts the records in doc.
func (doc *Document) Summary() Summary {
	return Summary{
		Project:     doc.Project,
		Created:     doc.Created,
		Files:       len(doc.Files),
		Posts:       len(doc.Posts),
		Subscribers: len(doc.Subscribers),
		ContextDocs: len(doc.ContextDocs),
	}
}

// Export writes the full store to w as a zip archive.
func Export(ctx context.Context, store Store, project string, w io.Writer) (Summary, error) {
	snap, err := store.Dump(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to dump store: %w", err)
	}
	doc := &Document{Version: Version, Created: time.Now().UTC(), Project: project, Snapshot: snap}

	zw := zip.NewWriter(w)
	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     EntryName,
		Method:   zip.Deflate,
		Modified: doc.Created,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to create archive entry: %w", err)
	}
	if err := json.NewEncoder(entry).Encode(doc); err != nil {
		return Summary{}, fmt.Errorf("failed to encode backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Summary{}, fmt.Errorf("failed to finish archive: %w", err)
	}
	return doc.Summary(), nil
}

// Read decodes and validates a backup archive without touching any store.
func Read(r io.ReaderAt, size int64) (*Document, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBackup, err)
	}
	var entry *zip.File
	for _, f := range zr.File {
		if f.Name == EntryName {
			entry = f
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidBackup, EntryName)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBackup, err)
	}
	defer rc.Close()

	var doc Document
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBackup, err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	if doc.Snapshot == nil {
		doc.Snapshot = &db.Snapshot{}
	}
	return &doc, nil
}

// Import replaces the whole store with the backup in r.
func Import(ctx context.Context, store Store, r io.ReaderAt, size int64) (Summary, error) {
	doc, err := Read(r, size)
	if err != nil {
		return Summary{}, err
	}
	if err := store.Load(ctx, doc.Snapshot); err != nil {
		return Summary{}, fmt.Errorf("failed to restore store: %w", err)
	}
	return doc.Summary(), nil
}
