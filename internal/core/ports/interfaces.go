// Package ports defines interfaces for the backup orchestrator's core
// components. These allow dependency inversion: the scheduler and setup
// controller depend on interfaces, not concrete rclone/secret-manager/SQLite
// implementations, making them testable with fakes.
package ports

import (
	"context"
	"time"

	"github.com/immich-backup/backup/internal/core/model"
)

// Store persists destinations and jobs with atomic state transitions.
type Store interface {
	CreateDestination(ctx context.Context, name string, typ model.DestinationType, bucket, remotePath string) (int64, error)
	GetDestination(ctx context.Context, nameOrID string) (*model.Destination, error)
	ListDestinations(ctx context.Context) ([]*model.Destination, error)

	CreateJob(ctx context.Context, destinationID int64, sourcePath string, priority int) (int64, error)
	UpdateJob(ctx context.Context, id int64, status model.Status, progress model.Progress, errMsg string) error
	MarkJobCompleted(ctx context.Context, id int64, bytes, files int64) error
	MarkJobInterrupted(ctx context.Context, id int64) error
	IncrementRetryCount(ctx context.Context, id int64) error
	GetActiveJob(ctx context.Context, destinationID int64) (*model.Job, error)
	GetStaleJobs(ctx context.Context, thresholdSeconds int) ([]*model.Job, error)
	ListJobs(ctx context.Context, destinationID int64) ([]*model.Job, error)
	ResetJobs(ctx context.Context, destinationID int64) error

	Close() error
}

// SecretClient wraps the external secret-manager command-line tool.
type SecretClient interface {
	CheckInstalled(ctx context.Context) bool
	CheckAuthenticated(ctx context.Context) bool
	GetItem(ctx context.Context, vault, title string) (map[string]string, error)
	ItemExists(ctx context.Context, vault, title string) (bool, error)
	CreateItem(ctx context.Context, vault, title, category string, fields map[string]string) error
	GeneratePassword(ctx context.Context, length int) (string, error)
}

// SyncDriver wraps the external file-sync tool.
type SyncDriver interface {
	CheckInstalled(ctx context.Context) bool
	Version(ctx context.Context) (string, error)
	ListRemotes(ctx context.Context) ([]string, error)
	ConfigureRemote(ctx context.Context, name, typ string, options map[string]string) error
	DeleteRemote(ctx context.Context, name string) error
	TestConnection(ctx context.Context, remote string) (bool, error)
	TestWrite(ctx context.Context, remote string) (bool, error)
	Sync(ctx context.Context, source, destination string, dryRun bool, statsIntervalSeconds int) (<-chan model.Progress, <-chan error)

	// ValidateProvider reports whether providerType names a backend the sync
	// tool's build actually knows how to instantiate, before --setup or
	// --check tries to use it.
	ValidateProvider(ctx context.Context, providerType string) error
	// ValidateCredentials proves a set of not-yet-persisted credentials
	// against the real backend, ahead of writing them to the sync tool's
	// config file.
	ValidateCredentials(ctx context.Context, providerType string, options map[string]string) error
	// RemoteInfo returns the persisted configuration of an already-configured
	// remote, for --check diagnostics.
	RemoteInfo(ctx context.Context, remote string) (*model.RemoteInfo, error)
}

// ProgressParser converts one line of the sync tool's diagnostic stream into
// a Progress value. It is pure and total: malformed or unrelated lines yield
// (nil, false) rather than an error.
type ProgressParser interface {
	Parse(line string) (*model.Progress, bool)
}

// SetupController runs the idempotent destination-provisioning wizard.
type SetupController interface {
	Run(ctx context.Context, destinationName, bucket, remotePath string) (*model.Destination, error)
}

// Clock abstracts time.Now for stale-detection tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
