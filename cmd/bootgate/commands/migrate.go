package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/bootgate/internal/cli/output"
	"github.com/marmos91/bootgate/internal/cli/timeutil"
	"github.com/marmos91/bootgate/internal/logger"
	"github.com/marmos91/bootgate/pkg/bootstrap"
	"github.com/marmos91/bootgate/pkg/config"
	"github.com/marmos91/bootgate/pkg/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or inspect database migrations",
	Long: `Apply or inspect the SQL migrations of the configured database.

Migrations are NNNNNN_name.up.sql files, read from migrations.dir or, when
that is empty, from the set embedded in the binary for the database driver
(postgres or sqlite). The database records the last applied version in the
schema_version table.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Long: `Apply every migration newer than the database's schema version, in
version order, each in its own transaction.

Running it again with nothing new applies nothing. When a migration fails,
the ones before it stay applied and the next run resumes at the failed one.
Exit status 3 means a migration failed.

Examples:
  # Apply migrations to DATABASE_URL
  DATABASE_URL=postgres://app:secret@db:5432/app bootgate migrate up

  # Use a directory of migrations instead of the embedded set
  bootgate migrate up --config /etc/bootgate.yaml`,
	RunE: runMigrateUp,
}

var migrateStatusOutput string

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending migrations",
	Long: `List every known migration as applied or pending. Applied migrations
whose file changed afterwards are flagged as drifted; history rows with no
matching file are flagged as missing. Status never writes to the database.

Examples:
  bootgate migrate status
  bootgate migrate status --output json`,
	RunE: runMigrateStatus,
}

func init() {
	migrateStatusCmd.Flags().StringVarP(&migrateStatusOutput, "output", "o", "table", "Output format (table|json|yaml)")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

// openRunner connects to the configured database and loads its migrations.
func openRunner(ctx context.Context, s *session) (*migrate.Runner, migrate.Store, error) {
	if err := s.cfg.RequireDatabase(); err != nil {
		return nil, nil, &configError{err: err}
	}

	store, err := migrate.Open(ctx, s.cfg.Database.URL, storeOptions(s.cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	set, err := migrate.Load(s.cfg.Migrations.Dir, store.Driver())
	if err != nil {
		_ = store.Close()
		return nil, nil, &configError{err: err}
	}

	logger.DebugCtx(ctx, "Migrations loaded",
		logger.KeyDriver, store.Driver(),
		"count", set.Len(),
		"latest", set.Latest())

	return migrate.NewRunner(store, set, migrate.WithRecorder(s.metrics)), store, nil
}

func storeOptions(cfg *config.Config) migrate.Options {
	return migrate.Options{
		MaxConns:       cfg.Database.MaxConns,
		LockKey:        cfg.Migrations.LockKey,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	}
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	s, err := startSession(cmd.Context(), bootstrap.StageMigrate)
	if err != nil {
		return err
	}
	defer s.close()

	runner, store, err := openRunner(s.ctx, s)
	if err != nil {
		return migrationStageError(err)
	}
	defer func() { _ = store.Close() }()

	applied, err := runner.ApplyPending(s.ctx)
	if err != nil {
		return migrationStageError(err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) (database: %s)\n", applied, store.Driver())
	return nil
}

// migrationStageError maps failures that happen before any migration runs,
// such as an unreachable database, to the migration exit status. A missing
// database URL stays a configuration error.
func migrationStageError(err error) error {
	if bootstrap.ExitCode(err) != bootstrap.ExitFailure || isConfigError(err) {
		return err
	}
	return &bootstrap.StageError{Stage: bootstrap.StageMigrate, Code: bootstrap.ExitMigrationFailed, Err: err}
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(migrateStatusOutput)
	if err != nil {
		return err
	}

	s, err := startSession(cmd.Context(), "")
	if err != nil {
		return err
	}
	defer s.close()

	runner, store, err := openRunner(s.ctx, s)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rep, err := runner.Status(s.ctx)
	if err != nil {
		return err
	}

	p := output.NewPrinter(cmd.OutOrStdout(), format, logger.IsTerminal(os.Stdout))
	if format != output.FormatTable {
		return p.Print(rep)
	}

	if err := p.Print(statusTable(rep)); err != nil {
		return err
	}
	p.Printf("\nDatabase %s at version %d, latest known %d, %d pending\n",
		rep.Driver, rep.Current, rep.Latest, rep.Pending)
	if rep.UpToDate() {
		p.Success("Schema is up to date")
	} else {
		p.Warning("Schema is behind: run 'bootgate migrate up'")
	}
	return nil
}

func statusTable(rep *migrate.Report) *output.TableData {
	table := output.NewTableData("Version", "Name", "State", "Applied At", "Note")
	for _, m := range rep.Migrations {
		state := "pending"
		if m.Applied {
			state = "applied"
		}
		note := ""
		switch {
		case m.Missing:
			note = "file missing"
		case m.Drift:
			note = "checksum drift"
		}
		table.AddRow(strconv.FormatUint(uint64(m.Version), 10), m.Name, state, timeutil.FormatTime(m.AppliedAt), note)
	}
	return table
}
