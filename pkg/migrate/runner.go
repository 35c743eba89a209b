// Package migrate applies versioned, plain-SQL schema migrations exactly once.
//
// The database holds a single-row marker (schema_version) naming the last
// applied version. Each pending migration runs in its own transaction
// together with the marker update, and the update is conditional on the
// marker still holding the previous version, so a crash or a concurrent
// runner can never leave a half-applied or doubly-applied migration behind.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/bootgate/internal/logger"
	"github.com/marmos91/bootgate/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Recorder receives one call per attempted migration.
type Recorder interface {
	RecordMigration(version uint, d time.Duration, err error)
}

// Runner applies a Set to a Store.
type Runner struct {
	store    Store
	set      *Set
	recorder Recorder
	now      func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecorder attaches a migration recorder, typically the metrics set.
func WithRecorder(r Recorder) RunnerOption {
	return func(rn *Runner) { rn.recorder = r }
}

// NewRunner creates a Runner.
func NewRunner(store Store, set *Set, opts ...RunnerOption) *Runner {
	r := &Runner{store: store, set: set, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ApplyPending applies every migration newer than the persisted marker, in
// version order, and returns how many it applied.
//
// It stops at the first failure and returns *MigrationError; migrations
// before the failing one stay applied and the next call resumes at it.
// With nothing pending it returns 0 and leaves the database untouched.
func (r *Runner) ApplyPending(ctx context.Context) (applied int, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanMigrate,
		trace.WithAttributes(telemetry.DBSystem(r.store.Driver())))
	defer func() {
		telemetry.SetAttributes(ctx, telemetry.MigrationsApplied(applied))
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	unlock, err := r.store.Lock(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrate: failed to acquire migration lock: %w", err)
	}
	defer func() {
		// The caller's ctx may be cancelled; release the lock regardless.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if uerr := unlock(releaseCtx); uerr != nil {
			logger.WarnCtx(ctx, "Failed to release migration lock", logger.KeyError, uerr)
		}
	}()

	if err := r.store.Init(ctx); err != nil {
		return 0, fmt.Errorf("migrate: failed to prepare version tables: %w", err)
	}

	current, err := r.store.CurrentVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrate: failed to read schema version: %w", err)
	}

	if current > r.set.Latest() {
		logger.WarnCtx(ctx, "Database schema is newer than every known migration",
			logger.KeyVersion, current,
			"latest_known", r.set.Latest())
		return 0, nil
	}

	r.warnOnDrift(ctx)

	pending := r.set.After(current)
	if len(pending) == 0 {
		logger.InfoCtx(ctx, "Database schema is up to date", logger.KeyVersion, current)
		return 0, nil
	}

	logger.InfoCtx(ctx, "Applying migrations",
		logger.KeyVersion, current,
		logger.KeyPending, len(pending))

	for _, m := range pending {
		if err := r.applyOne(ctx, current, m); err != nil {
			return applied, err
		}
		current = m.Version
		applied++
	}

	logger.InfoCtx(ctx, "Migrations complete",
		logger.KeyApplied, applied,
		logger.KeyVersion, current)
	return applied, nil
}

func (r *Runner) applyOne(ctx context.Context, prev uint, m Migration) (err error) {
	ctx, span := telemetry.StartMigrationSpan(ctx, m.Version, m.Name)
	start := r.now()
	defer func() {
		d := r.now().Sub(start)
		if r.recorder != nil {
			r.recorder.RecordMigration(m.Version, d, err)
		}
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return &MigrationError{Version: m.Version, Name: m.Name, Err: err}
	}

	if err := r.store.Apply(ctx, prev, m); err != nil {
		logger.ErrorCtx(ctx, "Migration failed",
			logger.KeyVersion, m.Version,
			logger.KeyName, m.Name,
			logger.KeyError, err)
		return &MigrationError{Version: m.Version, Name: m.Name, Err: err}
	}

	logger.InfoCtx(ctx, "Applied migration",
		logger.KeyVersion, m.Version,
		logger.KeyName, m.Name,
		logger.KeyDurationMs, float64(r.now().Sub(start).Microseconds())/1000.0)
	return nil
}

// warnOnDrift logs applied migrations whose file changed afterwards. Drift
// is reported, never corrected: applied migrations are not re-run.
func (r *Runner) warnOnDrift(ctx context.Context) {
	history, err := r.store.History(ctx)
	if err != nil {
		logger.DebugCtx(ctx, "Skipping checksum verification", logger.KeyError, err)
		return
	}
	for _, h := range history {
		m, ok := r.set.Get(h.Version)
		if ok && h.Checksum != "" && h.Checksum != m.Checksum {
			logger.WarnCtx(ctx, "Applied migration changed on disk",
				logger.KeyVersion, h.Version,
				logger.KeyName, h.Name,
				logger.KeyChecksum, h.Checksum)
		}
	}
}

// Status describes one migration for `migrate status`.
type Status struct {
	Version   uint       `json:"version" yaml:"version"`
	Name      string     `json:"name" yaml:"name"`
	Applied   bool       `json:"applied" yaml:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`

	// Drift is true when the applied checksum differs from the file.
	Drift bool `json:"drift,omitempty" yaml:"drift,omitempty"`

	// Missing is true for history rows with no matching file.
	Missing bool `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// Report is the result of Runner.Status.
type Report struct {
	Driver     string   `json:"driver" yaml:"driver"`
	Current    uint     `json:"current_version" yaml:"current_version"`
	Latest     uint     `json:"latest_version" yaml:"latest_version"`
	Pending    int      `json:"pending" yaml:"pending"`
	Migrations []Status `json:"migrations" yaml:"migrations"`
}

// UpToDate reports whether the marker names the latest known migration.
func (rep *Report) UpToDate() bool {
	return rep.Current >= rep.Latest
}

// Status lists every known migration as applied or pending. It does not
// take the migration lock and never writes.
func (r *Runner) Status(ctx context.Context) (*Report, error) {
	current, err := r.store.CurrentVersion(ctx)
	if err != nil && !errors.Is(err, ErrNotInitialized) {
		return nil, fmt.Errorf("migrate: failed to read schema version: %w", err)
	}

	var history []AppliedMigration
	if err == nil {
		history, err = r.store.History(ctx)
		if err != nil {
			return nil, fmt.Errorf("migrate: failed to read migration history: %w", err)
		}
	}
	byVersion := make(map[uint]AppliedMigration, len(history))
	for _, h := range history {
		byVersion[h.Version] = h
	}

	rep := &Report{
		Driver:  r.store.Driver(),
		Current: current,
		Latest:  r.set.Latest(),
		Pending: len(r.set.After(current)),
	}

	for _, m := range r.set.All() {
		st := Status{Version: m.Version, Name: m.Name, Applied: m.Version <= current}
		if h, ok := byVersion[m.Version]; ok {
			at := h.AppliedAt
			st.AppliedAt = &at
			st.Drift = h.Checksum != "" && h.Checksum != m.Checksum
			delete(byVersion, m.Version)
		}
		rep.Migrations = append(rep.Migrations, st)
	}
	for _, h := range history {
		if _, orphan := byVersion[h.Version]; orphan {
			at := h.AppliedAt
			rep.Migrations = append(rep.Migrations, Status{
				Version: h.Version, Name: h.Name, Applied: true, AppliedAt: &at, Missing: true,
			})
		}
	}
	return rep, nil
}
