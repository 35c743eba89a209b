package migrate

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedded embed.FS

// Embedded returns the built-in migration tree for a driver ("postgres" or
// "sqlite").
func Embedded(driver string) (fs.FS, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
		return fs.Sub(embedded, "migrations/"+driver)
	default:
		return nil, fmt.Errorf("migrate: no embedded migrations for driver %q", driver)
	}
}
