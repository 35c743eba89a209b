package migrate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Marker and history tables, shared by all stores.
const (
	VersionTable = "schema_version"
	HistoryTable = "schema_migrations"
)

// AppliedMigration is one row of the migration history.
type AppliedMigration struct {
	Version   uint
	Name      string
	Checksum  string
	AppliedAt time.Time
	Duration  time.Duration
}

// Store persists the schema-version marker and applies migrations.
type Store interface {
	// Driver returns DriverPostgres or DriverSQLite.
	Driver() string

	// Lock serializes runners. The returned function releases the lock.
	Lock(ctx context.Context) (unlock func(context.Context) error, err error)

	// Init creates the marker and history tables if missing.
	Init(ctx context.Context) error

	// CurrentVersion returns the marker; 0 means nothing applied.
	CurrentVersion(ctx context.Context) (uint, error)

	// Apply runs m and moves the marker from prev to m.Version in one
	// transaction. It returns ErrVersionConflict, with nothing changed, when
	// the marker is not prev.
	Apply(ctx context.Context, prev uint, m Migration) error

	// History lists applied migrations in version order.
	History(ctx context.Context) ([]AppliedMigration, error)

	Ping(ctx context.Context) error
	Close() error
}

// Options tune Open.
type Options struct {
	// MaxConns bounds the PostgreSQL pool
	MaxConns int32

	// LockKey is the PostgreSQL advisory lock key
	LockKey int64

	// ConnectTimeout bounds opening and pinging the database
	ConnectTimeout time.Duration
}

// DriverFromURL maps a URL scheme to a driver name.
func DriverFromURL(rawURL string) (string, error) {
	scheme, _, ok := strings.Cut(rawURL, "://")
	if !ok {
		return "", fmt.Errorf("%w: %q has no scheme", ErrUnsupportedDriver, redact(rawURL))
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return DriverPostgres, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, scheme)
	}
}

// Open connects to the database named by rawURL.
func Open(ctx context.Context, rawURL string, opts Options) (Store, error) {
	driver, err := DriverFromURL(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	switch driver {
	case DriverPostgres:
		s, err := OpenPostgres(ctx, rawURL, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := OpenSQLite(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// redact hides the password of a URL for error messages.
func redact(rawURL string) string {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return rawURL
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return rawURL
	}
	userinfo := rest[:at]
	if user, _, hasPass := strings.Cut(userinfo, ":"); hasPass {
		return scheme + "://" + user + ":***@" + rest[at+1:]
	}
	return rawURL
}
