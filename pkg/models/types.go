package models

import (
	"fmt"
	"time"
)

// Post represents a newsletter post and its delivery metrics
type Post struct {
	ID          string
	Title       string
	Subtitle    string
	Slug        string
	Type        string
	Audience    string
	Published   bool
	PostDate    time.Time
	EmailSentAt time.Time
	WordCount   int
	Delivered   int
	Opens       int
	UniqueOpens int
}

// OpenRate returns unique opens over deliveries, or 0 when nothing was delivered.
func (p Post) OpenRate() float64 {
	if p.Delivered == 0 {
		return 0
	}
	return float64(p.UniqueOpens) / float64(p.Delivered)
}

// Subscriber represents a row of the subscriber list
type Subscriber struct {
	Email          string
	Active         bool
	Plan           string
	EmailDisabled  bool
	CreatedAt      time.Time
	FirstPaymentAt time.Time
}

// Open represents a single recorded email open
type Open struct {
	PostID    string
	Email     string
	Timestamp time.Time
	Country   string
	Device    string
	Client    string
}

// Delivery represents a single email delivery
type Delivery struct {
	PostID    string
	Email     string
	Timestamp time.Time
}

// ContextKind classifies context documents fed into prompts
type ContextKind string

const (
	ContextBrand        ContextKind = "brand"
	ContextAuthor       ContextKind = "author"
	ContextInstructions ContextKind = "instructions"
	ContextGenerated    ContextKind = "generated"
)

// Valid reports whether k is one of the known kinds.
func (k ContextKind) Valid() bool {
	switch k {
	case ContextBrand, ContextAuthor, ContextInstructions, ContextGenerated:
		return true
	}
	return false
}

// ContextDoc represents a brand, author or instruction document
type ContextDoc struct {
	ID      string
	Name    string
	Kind    ContextKind
	Content string
	Created time.Time
}

// SyncStatus is the terminal state of a reconciliation pass
type SyncStatus string

const (
	StatusIdle    SyncStatus = "IDLE"
	StatusSyncing SyncStatus = "SYNCING"
	StatusReady   SyncStatus = "READY"
	StatusError   SyncStatus = "ERROR"
)

// SyncPhase names a step of a reconciliation pass
type SyncPhase string

const (
	PhaseListing    SyncPhase = "listing"
	PhaseDeleting   SyncPhase = "deleting"
	PhaseUploading  SyncPhase = "uploading"
	PhaseRefreshing SyncPhase = "refreshing"
	PhaseDone       SyncPhase = "done"
)

// Progress is a snapshot of a running reconciliation pass
type Progress struct {
	Phase     SyncPhase
	Completed int
	Total     int
}

func (p Progress) String() string {
	switch p.Phase {
	case PhaseDeleting:
		return fmt.Sprintf("deleted %d/%d", p.Completed, p.Total)
	case PhaseUploading:
		return fmt.Sprintf("uploaded %d/%d", p.Completed, p.Total)
	case PhaseListing:
		return "listing local and remote files"
	case PhaseRefreshing:
		return "refreshing remote listing"
	case PhaseDone:
		return "done"
	}
	return string(p.Phase)
}
