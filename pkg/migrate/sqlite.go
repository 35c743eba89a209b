package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// schemaVersion is the single marker row (id = 1).
type schemaVersion struct {
	ID        uint   `gorm:"primaryKey;autoIncrement:false"`
	Version   uint64 `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (schemaVersion) TableName() string { return VersionTable }

type appliedMigration struct {
	Version    uint64    `gorm:"primaryKey;autoIncrement:false"`
	Name       string    `gorm:"not null"`
	Checksum   string    `gorm:"not null"`
	AppliedAt  time.Time `gorm:"not null"`
	DurationMs int64     `gorm:"not null;default:0"`
}

func (appliedMigration) TableName() string { return HistoryTable }

// Column names follow gorm's naming of schemaVersion and appliedMigration.
var sqliteCreateTables = []string{
	`CREATE TABLE IF NOT EXISTS ` + VersionTable + ` (
		id         INTEGER PRIMARY KEY,
		version    INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS ` + HistoryTable + ` (
		version     INTEGER PRIMARY KEY,
		name        TEXT NOT NULL,
		checksum    TEXT NOT NULL,
		applied_at  DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	)`,
}

// SQLiteStore keeps the marker in a SQLite file.
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

// OpenSQLite opens (creating if needed) the database file named by rawURL:
// sqlite:///abs/path.db or sqlite://relative/path.db.
func OpenSQLite(ctx context.Context, rawURL string) (*SQLiteStore, error) {
	path, err := sqlitePath(rawURL)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout lets a second runner wait for the first one's transaction
	// instead of failing with SQLITE_BUSY.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to ping SQLite: %w", err)
	}
	return s, nil
}

func sqlitePath(rawURL string) (string, error) {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return "", fmt.Errorf("%w: %q has no scheme", ErrUnsupportedDriver, rawURL)
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, scheme)
	}
	rest, _, _ = strings.Cut(rest, "?")
	if rest == "" {
		return "", errors.New("sqlite URL has no file path")
	}
	return rest, nil
}

func (s *SQLiteStore) Driver() string { return DriverSQLite }

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// lockPollInterval is how often Lock retries a held lock file.
const lockPollInterval = 50 * time.Millisecond

// Lock takes an exclusive lock on <path>.lock, waiting until it is free or
// ctx ends. Runners started together on a fresh file therefore run one
// after another, and the later ones find nothing pending.
func (s *SQLiteStore) Lock(ctx context.Context) (func(context.Context) error, error) {
	f, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	t := time.NewTicker(lockPollInterval)
	defer t.Stop()
	for {
		ok, err := tryLockFile(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to lock %s: %w", f.Name(), err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	return func(context.Context) error {
		// Closing the descriptor releases the lock.
		return f.Close()
	}, nil
}

// Init creates the tables with IF NOT EXISTS so that runners starting
// together on a fresh file all succeed.
func (s *SQLiteStore) Init(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range sqliteCreateTables {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&schemaVersion{ID: 1, Version: 0}).Error
	})
}

func (s *SQLiteStore) CurrentVersion(ctx context.Context) (uint, error) {
	db := s.db.WithContext(ctx)
	if !db.Migrator().HasTable(&schemaVersion{}) {
		return 0, ErrNotInitialized
	}
	var row schemaVersion
	err := db.Where("id = ?", 1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint(row.Version), nil
}

func (s *SQLiteStore) Apply(ctx context.Context, prev uint, m Migration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		start := time.Now()
		if err := tx.Exec(m.UpSQL).Error; err != nil {
			return err
		}

		res := tx.Model(&schemaVersion{}).
			Where("id = ? AND version = ?", 1, uint64(prev)).
			Updates(map[string]any{"version": uint64(m.Version), "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrVersionConflict
		}

		return tx.Create(&appliedMigration{
			Version:    uint64(m.Version),
			Name:       m.Name,
			Checksum:   m.Checksum,
			AppliedAt:  time.Now().UTC(),
			DurationMs: time.Since(start).Milliseconds(),
		}).Error
	})
}

func (s *SQLiteStore) History(ctx context.Context) ([]AppliedMigration, error) {
	db := s.db.WithContext(ctx)
	if !db.Migrator().HasTable(&appliedMigration{}) {
		return nil, ErrNotInitialized
	}
	var rows []appliedMigration
	if err := db.Order("version").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]AppliedMigration, 0, len(rows))
	for _, r := range rows {
		out = append(out, AppliedMigration{
			Version:   uint(r.Version),
			Name:      r.Name,
			Checksum:  r.Checksum,
			AppliedAt: r.AppliedAt,
			Duration:  time.Duration(r.DurationMs) * time.Millisecond,
		})
	}
	return out, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
