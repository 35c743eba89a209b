package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migration is one versioned schema change.
type Migration struct {
	Version  uint
	Name     string
	UpSQL    string
	Checksum string // hex sha256 of UpSQL
}

// NewMigration builds a Migration and computes its checksum.
func NewMigration(version uint, name, upSQL string) Migration {
	return Migration{Version: version, Name: name, UpSQL: upSQL, Checksum: Checksum(upSQL)}
}

// Checksum returns the hex sha256 of a migration body.
func Checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

// Set is an ordered list of migrations with strictly increasing versions.
type Set struct {
	migrations []Migration
}

// NewSet sorts migrations by version and rejects duplicates and version 0,
// which is reserved for "nothing applied".
func NewSet(migrations ...Migration) (*Set, error) {
	ms := append([]Migration(nil), migrations...)
	sort.Slice(ms, func(i, j int) bool { return ms[i].Version < ms[j].Version })
	for i, m := range ms {
		if m.Version == 0 {
			return nil, fmt.Errorf("migrate: migration %q has reserved version 0", m.Name)
		}
		if i > 0 && ms[i-1].Version == m.Version {
			return nil, fmt.Errorf("migrate: duplicate migration version %d (%s, %s)", m.Version, ms[i-1].Name, m.Name)
		}
	}
	return &Set{migrations: ms}, nil
}

// All returns every migration in version order.
func (s *Set) All() []Migration {
	return append([]Migration(nil), s.migrations...)
}

// Len returns the number of migrations.
func (s *Set) Len() int { return len(s.migrations) }

// Latest returns the highest known version, or 0 for an empty set.
func (s *Set) Latest() uint {
	if len(s.migrations) == 0 {
		return 0
	}
	return s.migrations[len(s.migrations)-1].Version
}

// After returns the migrations with a version greater than v, in order.
func (s *Set) After(v uint) []Migration {
	i := sort.Search(len(s.migrations), func(i int) bool { return s.migrations[i].Version > v })
	return append([]Migration(nil), s.migrations[i:]...)
}

// Get returns the migration with version v.
func (s *Set) Get(v uint) (Migration, bool) {
	i := sort.Search(len(s.migrations), func(i int) bool { return s.migrations[i].Version >= v })
	if i < len(s.migrations) && s.migrations[i].Version == v {
		return s.migrations[i], true
	}
	return Migration{}, false
}

// LoadFS reads NNNNNN_name.up.sql files from dir within fsys using the
// golang-migrate iofs source driver. Down migrations are ignored: bootgate
// only rolls forward.
func LoadFS(fsys fs.FS, dir string) (*Set, error) {
	drv, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: failed to open migration source: %w", err)
	}
	defer drv.Close()

	var ms []Migration
	version, err := drv.First()
	for err == nil {
		m, readErr := readUp(drv, version)
		if readErr != nil {
			return nil, readErr
		}
		if m != nil {
			ms = append(ms, *m)
		}
		version, err = drv.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("migrate: failed to list migrations: %w", err)
	}

	return NewSet(ms...)
}

// LoadDir is LoadFS over a directory on disk.
func LoadDir(dir string) (*Set, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrate: migrations directory: %w", err)
	}
	return LoadFS(os.DirFS(dir), ".")
}

// LoadEmbedded returns the built-in migrations for driver.
func LoadEmbedded(driver string) (*Set, error) {
	fsys, err := Embedded(driver)
	if err != nil {
		return nil, err
	}
	return LoadFS(fsys, ".")
}

// readUp returns nil for a version that only has a down file.
func readUp(drv source.Driver, version uint) (*Migration, error) {
	r, name, err := drv.ReadUp(version)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migrate: failed to read migration %d: %w", version, err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("migrate: failed to read migration %d: %w", version, err)
	}
	m := NewMigration(version, name, string(body))
	return &m, nil
}

// Load reads migrations from dir, or the embedded set for driver when dir
// is empty.
func Load(dir, driver string) (*Set, error) {
	if dir != "" {
		return LoadDir(dir)
	}
	return LoadEmbedded(driver)
}
