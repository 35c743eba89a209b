package migrate

import (
	"errors"
	"fmt"
)

// ErrVersionConflict is returned by Store.Apply when the persisted marker no
// longer equals the version the caller read. Another runner got there first.
var ErrVersionConflict = errors.New("schema version changed concurrently")

// ErrNotInitialized is returned by Store.CurrentVersion when the marker
// table does not exist yet.
var ErrNotInitialized = errors.New("schema version table not initialized")

// ErrUnsupportedDriver is returned by Open for an unknown URL scheme.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// MigrationError identifies the migration that failed. Its effects were
// rolled back and the marker still names the last fully applied version.
type MigrationError struct {
	Version uint
	Name    string
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate: migration %d (%s) failed: %v", e.Version, e.Name, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
