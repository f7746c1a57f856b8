// Package model defines the domain types shared by the store, scheduler,
// and sync driver: destinations, jobs, and the progress events the sync
// tool reports while a job is running.
package model

import "time"

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusRunning     Status = "RUNNING"
	StatusCompleted   Status = "COMPLETED"
	StatusInterrupted Status = "INTERRUPTED"
	StatusFailed      Status = "FAILED"
)

// Terminal reports whether the status admits no further mutation.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// DestinationType names a supported destination backend. Only one variant
// exists today; the field exists so a second can be added without touching
// the Destination shape.
type DestinationType string

// DestinationTypeObjectStoreEncrypted is an object-store bucket fronted by an
// encryption overlay remote.
const DestinationTypeObjectStoreEncrypted DestinationType = "object-store-with-encryption-overlay"

// Destination is a named configuration pointing at one remote bucket and its
// encryption overlay. Created once by SetupController; never mutated except
// for LastBackupAt.
type Destination struct {
	ID           int64
	Name         string
	Type         DestinationType
	Bucket       string
	RemotePath   string
	CreatedAt    time.Time
	LastBackupAt *time.Time
}

// Job is a unit of work backing up one source directory to one destination.
type Job struct {
	ID                int64
	DestinationID     int64
	SourcePath        string
	Status            Status
	Priority          int
	BytesTotal        int64
	BytesTransferred  int64
	FilesTotal        int64
	FilesTransferred  int64
	TransferSpeed     float64
	StartedAt         *time.Time
	CompletedAt       *time.Time
	LastUpdate        time.Time
	ErrorMessage      string
	RetryCount        int
}

// Eligible reports whether the job may be handed to the scheduler, given the
// configured retry ceiling.
func (j Job) Eligible(maxRetries int) bool {
	switch j.Status {
	case StatusPending, StatusInterrupted:
		return true
	case StatusFailed:
		return j.RetryCount <= maxRetries
	default:
		return false
	}
}

// CompletionPercentage returns 0-100 based on BytesTransferred/BytesTotal, or
// 0 if BytesTotal is not yet known.
func (j Job) CompletionPercentage() float64 {
	if j.BytesTotal <= 0 {
		return 0
	}
	pct := float64(j.BytesTransferred) / float64(j.BytesTotal) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Progress is an ephemeral value produced by the progress parser while a
// sync is in flight. A nil Eta means the underlying tool did not report one.
type Progress struct {
	BytesTransferred int64
	BytesTotal       int64
	FilesTransferred int64
	FilesTotal       int64
	Speed            float64
	Eta              *time.Duration
}

// CredentialBundle is the set of secret fields SetupController and SyncDriver
// need to configure a destination's remotes. It is held only in process
// memory for the duration of one command invocation and must never be
// written to the Store or to any file the core writes.
type CredentialBundle struct {
	ApplicationKeyID    string
	ApplicationKey      string
	BucketName          string
	EncryptionPassword  string
}

// Complete reports whether every required field is present and non-empty.
func (c CredentialBundle) Complete() bool {
	return c.ApplicationKeyID != "" && c.ApplicationKey != "" &&
		c.BucketName != "" && c.EncryptionPassword != ""
}

// RemoteInfo is a snapshot of one already-configured sync-tool remote,
// surfaced by the --check diagnostics.
type RemoteInfo struct {
	Name   string
	Type   string
	Remote string
}
