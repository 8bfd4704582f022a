package models

// Stats represents store statistics
type Stats struct {
	LocalFiles   int64
	LocalSize    int64
	RemoteFiles  int64
	RemoteSize   int64
	PendingFiles int64 // local files missing from, or newer than, the cached remote listing
	OrphanFiles  int64 // cached remote files with no local counterpart
	Posts        int64
	Subscribers  int64
	Opens        int64
	Deliveries   int64
	RawFiles     int64
	ContextDocs  int64
}
