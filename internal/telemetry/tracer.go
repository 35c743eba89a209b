package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for bootstrap spans.
const (
	AttrRunID       = "bootgate.run_id"
	AttrStage       = "bootgate.stage"
	AttrStageResult = "bootgate.stage.result"
	AttrExitCode    = "process.exit.code"
	AttrCommand     = "process.command"

	AttrTarget   = "net.peer.name"
	AttrAttempts = "bootgate.probe.attempts"

	AttrDBSystem         = "db.system"
	AttrMigrationVersion = "bootgate.migration.version"
	AttrMigrationName    = "bootgate.migration.name"
	AttrMigrationsCount  = "bootgate.migrations.applied"
)

// Span names. Format: bootgate.<component>[.<operation>]
const (
	SpanBootstrap = "bootgate.up"
	SpanStage     = "bootgate.stage"
	SpanProbe     = "bootgate.probe"
	SpanMigrate   = "bootgate.migrate"
	SpanMigration = "bootgate.migrate.apply"
	SpanServe     = "bootgate.serve"
)

// RunID returns an attribute for the bootstrap run identifier
func RunID(id string) attribute.KeyValue {
	return attribute.String(AttrRunID, id)
}

// Stage returns an attribute for the stage name
func Stage(name string) attribute.KeyValue {
	return attribute.String(AttrStage, name)
}

// ExitCode returns an attribute for a child's exit status
func ExitCode(code int) attribute.KeyValue {
	return attribute.Int(AttrExitCode, code)
}

// Target returns an attribute for a probed host:port
func Target(addr string) attribute.KeyValue {
	return attribute.String(AttrTarget, addr)
}

// Attempts returns an attribute for the number of probe attempts
func Attempts(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempts, n)
}

// DBSystem returns an attribute for the database driver
func DBSystem(driver string) attribute.KeyValue {
	return attribute.String(AttrDBSystem, driver)
}

// MigrationVersion returns an attribute for a migration version
func MigrationVersion(v uint) attribute.KeyValue {
	return attribute.Int64(AttrMigrationVersion, int64(v))
}

// MigrationName returns an attribute for a migration name
func MigrationName(name string) attribute.KeyValue {
	return attribute.String(AttrMigrationName, name)
}

// MigrationsApplied returns an attribute for the number of applied migrations
func MigrationsApplied(n int) attribute.KeyValue {
	return attribute.Int(AttrMigrationsCount, n)
}

// StartStageSpan starts the supervisor-side span around one child stage.
func StartStageSpan(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanStage+"."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append([]attribute.KeyValue{Stage(stage)}, attrs...)...))
}

// StartMigrationSpan starts a span around one migration transaction.
func StartMigrationSpan(ctx context.Context, version uint, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanMigration,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{MigrationVersion(version), MigrationName(name)}, attrs...)...))
}
