package clients

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/marmos91/bootgate/pkg/migrate"
)

// DatabaseCheckName is the readiness entry for the database.
const DatabaseCheckName = "database"

// versionReader is the part of migrate.Store the check needs.
type versionReader interface {
	Ping(ctx context.Context) error
	CurrentVersion(ctx context.Context) (uint, error)
}

// SchemaCheck passes when the database answers and its schema marker names
// the latest known migration.
type SchemaCheck struct {
	store  versionReader
	latest uint
	cb     *gobreaker.CircuitBreaker
}

// NewSchemaCheck checks store against the newest version in set.
func NewSchemaCheck(store migrate.Store, set *migrate.Set) *SchemaCheck {
	return &SchemaCheck{store: store, latest: set.Latest(), cb: NewCircuitBreaker("database")}
}

func (c *SchemaCheck) Name() string { return DatabaseCheckName }

func (c *SchemaCheck) Check(ctx context.Context) error {
	return execute(c.cb, func() error {
		if err := c.store.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		v, err := c.store.CurrentVersion(ctx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if v < c.latest {
			return fmt.Errorf("schema at version %d, want %d", v, c.latest)
		}
		return nil
	})
}
