//go:build integration

package migrate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("bootgate_test"),
		postgres.WithUsername("bootgate"),
		postgres.WithPassword("bootgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestPostgresStore(t *testing.T) {
	url := startPostgres(t)
	ctx := context.Background()

	s, err := OpenPostgres(ctx, url, Options{MaxConns: 4, LockKey: 42})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.CurrentVersion(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)

	set, err := LoadEmbedded(DriverPostgres)
	require.NoError(t, err)

	t.Run("AppliesEmbedded", func(t *testing.T) {
		n, err := NewRunner(s, set).ApplyPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		v, err := s.CurrentVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint(3), v)

		history, err := s.History(ctx)
		require.NoError(t, err)
		assert.Len(t, history, 3)
	})

	t.Run("FailureRollsBack", func(t *testing.T) {
		broken, err := NewSet(append(set.All(),
			NewMigration(4, "broken", "CREATE TABLE partial (id INT);\nSELECT * FROM no_such_table;"))...)
		require.NoError(t, err)

		_, err = NewRunner(s, broken).ApplyPending(ctx)
		var me *MigrationError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, uint(4), me.Version)

		v, err := s.CurrentVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint(3), v)

		var exists bool
		require.NoError(t, s.pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'partial')").Scan(&exists))
		assert.False(t, exists)
	})

	t.Run("ConcurrentRunnersApplyOnce", func(t *testing.T) {
		more, err := NewSet(append(set.All(),
			NewMigration(4, "counter", "CREATE TABLE counter (n INT); INSERT INTO counter VALUES (1);"))...)
		require.NoError(t, err)

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			total int
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := NewRunner(s, more).ApplyPending(ctx)
				assert.NoError(t, err)
				mu.Lock()
				total += n
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, total)

		var rows int
		require.NoError(t, s.pool.QueryRow(ctx, "SELECT count(*) FROM counter").Scan(&rows))
		assert.Equal(t, 1, rows)
	})
}
