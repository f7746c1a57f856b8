// Package errs provides common error types for the application.
package errs

// Sentinel errors for the domain layer.
// These errors should be used to wrap low-level errors (like DB errors or
// subprocess failures) so that the upper layers (CLI/scheduler) can decide
// how to react without knowing implementation details.

// ConstError represents a sentinel error type.
type ConstError string

func (e ConstError) Error() string {
	return string(e)
}

const (
	// ErrNotFound is returned when a requested destination or job is not found.
	ErrNotFound = ConstError("resource not found")

	// ErrUniqueViolation is returned when a destination name already exists.
	ErrUniqueViolation = ConstError("resource already exists")

	// ErrConfigurationMissing is returned when a required environment variable
	// is absent or the configured data tree does not exist.
	ErrConfigurationMissing = ConstError("configuration missing")

	// ErrPrerequisiteMissing is returned when an external tool (sync driver or
	// secret client) is not installed or not authenticated.
	ErrPrerequisiteMissing = ConstError("prerequisite missing")

	// ErrCredentialsIncomplete is returned when required secret fields are
	// missing or still equal to placeholder text.
	ErrCredentialsIncomplete = ConstError("credentials incomplete")

	// ErrRemoteConfigurationFailed is returned when the sync tool rejects
	// remote configuration arguments.
	ErrRemoteConfigurationFailed = ConstError("remote configuration failed")

	// ErrConnectionTestFailed is returned when a remote reachability check fails.
	ErrConnectionTestFailed = ConstError("connection test failed")

	// ErrTestWriteFailed is returned when the end-to-end encryption probe fails.
	ErrTestWriteFailed = ConstError("test write failed")

	// ErrSyncFailed is returned when the underlying sync tool exits non-zero.
	ErrSyncFailed = ConstError("sync failed")

	// ErrSchemaMigrationFailed is returned when the Store cannot be brought to
	// the current schema.
	ErrSchemaMigrationFailed = ConstError("schema migration failed")

	// ErrStaleJobDetected is returned when a RUNNING job has gone quiet past the
	// stale threshold and the caller did not pass --force.
	ErrStaleJobDetected = ConstError("stale job detected")
)
