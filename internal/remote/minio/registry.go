// Package minio stores the corpus in an S3-compatible bucket.
package minio

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/chmdznr/corpussync/internal/remote"
	"github.com/chmdznr/corpussync/pkg/models"
)

// Options configures a Registry.
type Options struct {
	Endpoint  string
	Bucket    string
	Folder    string
	AccessKey string
	SecretKey string
	Secure    bool
	Logger    *zap.Logger
}

// Registry keeps one object per display name under Folder. Unlike the Gemini
// Files API an upload overwrites in place, so the object key doubles as the ID.
type Registry struct {
	client *minio.Client
	bucket string
	folder string
	logger *zap.Logger
}

// New creates a registry backed by a MinIO or S3 endpoint.
func New(opts Options) (*Registry, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:       opts.Secure,
		Transport:    tr,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		client: client,
		bucket: opts.Bucket,
		folder: normalizeFolder(opts.Folder),
		logger: logger,
	}, nil
}

// List returns every object under the folder.
func (r *Registry) List(ctx context.Context) ([]models.RemoteFile, error) {
	var files []models.RemoteFile
	for obj := range r.client.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{Prefix: r.folder, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", r.bucket, r.folder, classify(obj.Err))
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		files = append(files, r.toRemote(obj))
	}
	return files, nil
}

// Get stats a single object by key.
func (r *Registry) Get(ctx context.Context, id string) (models.RemoteFile, error) {
	info, err := r.client.StatObject(ctx, r.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		return models.RemoteFile{}, fmt.Errorf("stat %s: %w", id, classify(err))
	}
	return r.toRemote(info), nil
}

// Upload puts the file content under folder/name.
func (r *Registry) Upload(ctx context.Context, file models.LocalFile) (models.RemoteFile, error) {
	key := r.objectKey(file.Name)
	info, err := r.client.PutObject(ctx, r.bucket, key, bytes.NewReader(file.Content), int64(len(file.Content)), minio.PutObjectOptions{
		ContentType:  file.MimeType,
		UserMetadata: map[string]string{"digest": file.Digest},
	})
	if err != nil {
		return models.RemoteFile{}, fmt.Errorf("put %s: %w", key, classify(err))
	}
	if info.Size != int64(len(file.Content)) {
		return models.RemoteFile{}, fmt.Errorf("put %s: size mismatch, sent %d bytes, stored %d", key, len(file.Content), info.Size)
	}

	modified := info.LastModified
	if modified.IsZero() {
		modified = time.Now()
	}
	return models.RemoteFile{
		ID:          key,
		DisplayName: file.Name,
		MimeType:    file.MimeType,
		SizeBytes:   info.Size,
		URI:         r.uri(key),
		CreatedAt:   modified.UTC(),
		UpdatedAt:   modified.UTC(),
	}, nil
}

// Delete removes the object. A missing object is not an error.
func (r *Registry) Delete(ctx context.Context, file models.RemoteFile) error {
	key := file.ID
	if key == "" {
		key = r.objectKey(file.DisplayName)
	}
	if err := r.client.RemoveObject(ctx, r.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		err = classify(err)
		if errors.Is(err, remote.ErrNotFound) {
			r.logger.Debug("object already gone", zap.String("key", key))
			return nil
		}
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (r *Registry) toRemote(obj minio.ObjectInfo) models.RemoteFile {
	return models.RemoteFile{
		ID:          obj.Key,
		DisplayName: strings.TrimPrefix(obj.Key, r.folder),
		MimeType:    obj.ContentType,
		SizeBytes:   obj.Size,
		URI:         r.uri(obj.Key),
		CreatedAt:   obj.LastModified.UTC(),
		UpdatedAt:   obj.LastModified.UTC(),
	}
}

func (r *Registry) objectKey(name string) string {
	return r.folder + sanitizeKey(name)
}

func (r *Registry) uri(key string) string {
	return fmt.Sprintf("s3://%s/%s", r.bucket, key)
}

// normalizeFolder ensures a non-empty folder has exactly one trailing slash.
func normalizeFolder(folder string) string {
	folder = strings.Trim(strings.ReplaceAll(folder, "\\", "/"), "/")
	if folder == "" {
		return ""
	}
	return folder + "/"
}

// sanitizeKey drops characters S3 keys choke on and normalises separators.
// Names accepted by db.ValidateName pass through unchanged, so the display
// name read back from a listing matches the local name.
func sanitizeKey(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '\u3000':
			return ' '
		case '\u200B', '\uFEFF':
			return -1
		default:
			return r
		}
	}, name)
	name = strings.ReplaceAll(name, "\\", "/")
	for strings.Contains(name, "//") {
		name = strings.ReplaceAll(name, "//", "/")
	}
	return strings.TrimPrefix(name, "/")
}

// classify maps MinIO error responses onto the remote error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket":
		return fmt.Errorf("%w: %w", remote.ErrNotFound, err)
	case resp.StatusCode != 0 && remote.IsTransientStatus(resp.StatusCode):
		return remote.Transient(err)
	case resp.Code == "SlowDown" || resp.Code == "InternalError" || resp.Code == "RequestTimeout":
		return remote.Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return remote.Transient(err)
	}
	return err
}
