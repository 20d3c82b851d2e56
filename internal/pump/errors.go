package pump

import (
	"errors"
	"fmt"

	"github.com/roach88/replicant/internal/ir"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("pump already started")

	// ErrStopped is returned by Live.WaitFor when the pump stops before
	// reaching the requested watermark.
	ErrStopped = errors.New("pump stopped")

	// ErrUpdatesClosed is reported by Live.Err when the update
	// subscription ends while the pump is still running.
	ErrUpdatesClosed = errors.New("update subscription closed")
)

// LogBehindSnapshotError reports an update log whose head is older than
// the newest snapshot, as happens when a volatile log is paired with a
// durable snapshot store. Folding from such a log would skip every update
// up to the snapshot watermark.
type LogBehindSnapshotError struct {
	Head     ir.Watermark
	Snapshot ir.Watermark
}

func (e *LogBehindSnapshotError) Error() string {
	return fmt.Sprintf("update log head %d is behind snapshot watermark %d", e.Head, e.Snapshot)
}

// SnapshotDownloadError reports that the chosen snapshot could not be
// fetched or decoded. It is fatal to startup.
type SnapshotDownloadError struct {
	// Name is the object name of the snapshot.
	Name string

	// Watermark is the watermark parsed from Name.
	Watermark ir.Watermark

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *SnapshotDownloadError) Error() string {
	return fmt.Sprintf("download snapshot %s (watermark=%d): %v", e.Name, e.Watermark, e.Err)
}

// Unwrap returns the underlying failure.
func (e *SnapshotDownloadError) Unwrap() error {
	return e.Err
}

// IsSnapshotDownloadError returns true if err is or wraps a
// SnapshotDownloadError.
func IsSnapshotDownloadError(err error) bool {
	var se *SnapshotDownloadError
	return errors.As(err, &se)
}
