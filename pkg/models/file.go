package models

import "time"

// LocalFile represents a file registered in the local store
type LocalFile struct {
	Name     string
	MimeType string
	Size     int64
	Digest   string
	Modified time.Time
	Content  []byte
}

// RemoteFile represents a file held by the remote registry
type RemoteFile struct {
	ID          string
	DisplayName string
	MimeType    string
	SizeBytes   int64
	URI         string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RawFile is an archive entry kept verbatim
type RawFile struct {
	Name    string
	Content []byte
}
