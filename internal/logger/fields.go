package logger

import "log/slog"

// Standard field keys for structured logging. Use them consistently so
// log aggregation can query stage transitions across processes.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Bootstrap
	KeyRunID    = "run_id"
	KeyStage    = "stage"
	KeyPhase    = "phase"
	KeyFrom     = "from"
	KeyTo       = "to"
	KeyExitCode = "exit_code"
	KeyPID      = "pid"
	KeyCommand  = "command"

	// Probing
	KeyTarget      = "target"
	KeyAttempt     = "attempt"
	KeyMaxAttempts = "max_attempts"
	KeyInterval    = "interval"
	KeyDeadline    = "deadline"

	// Migrations
	KeyVersion  = "version"
	KeyName     = "name"
	KeyApplied  = "applied"
	KeyPending  = "pending"
	KeyDriver   = "driver"
	KeyChecksum = "checksum"

	// Service
	KeyAddr = "addr"
	KeyPort = "port"

	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// Stage returns a slog.Attr for the bootstrap stage name
func Stage(name string) slog.Attr {
	return slog.String(KeyStage, name)
}

// RunID returns a slog.Attr for the bootstrap run identifier
func RunID(id string) slog.Attr {
	return slog.String(KeyRunID, id)
}

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Target returns a slog.Attr for a host:port probe target
func Target(addr string) slog.Attr {
	return slog.String(KeyTarget, addr)
}

// Version returns a slog.Attr for a migration version
func Version(v uint) slog.Attr {
	return slog.Uint64(KeyVersion, uint64(v))
}

// ExitCode returns a slog.Attr for a process exit status
func ExitCode(code int) slog.Attr {
	return slog.Int(KeyExitCode, code)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
