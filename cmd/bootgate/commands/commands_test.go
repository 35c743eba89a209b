package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/bootgate/pkg/bootstrap"
	"github.com/marmos91/bootgate/pkg/config"
	"github.com/marmos91/bootgate/pkg/launch"
	"github.com/marmos91/bootgate/pkg/migrate"
	"github.com/marmos91/bootgate/pkg/probe"
)

// isolate keeps a developer's config file and environment out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, name := range []string{"DB_HOST", "DB_PORT", "DATABASE_URL", "PORT", "REDIS_HOST", "REDIS_PORT", bootstrap.EnvRunID} {
		t.Setenv(name, "")
	}
	t.Setenv("BOOTGATE_LOGGING_OUTPUT", "stderr")
	cfgFile, logLevel = "", ""
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestMigrateCommands_SQLite(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "app.db"))
	ctx := context.Background()

	out, err := execute(t, ctx, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 3 migration(s) (database: sqlite)")

	out, err = execute(t, ctx, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 0 migration(s)", "second run is a no-op")

	out, err = execute(t, ctx, "migrate", "status", "--output", "json")
	require.NoError(t, err)
	var rep migrate.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, uint(3), rep.Current)
	assert.Equal(t, 0, rep.Pending)
	require.Len(t, rep.Migrations, 3)
	assert.True(t, rep.Migrations[2].Applied)
}

func TestMigrateUp_WithoutDatabaseIsAConfigError(t *testing.T) {
	isolate(t)

	_, err := execute(t, context.Background(), "migrate", "up")
	require.Error(t, err)
	assert.Equal(t, bootstrap.ExitFailure, bootstrap.ExitCode(err))
	assert.Contains(t, err.Error(), "database.url is required")
}

func TestMigrationStageError(t *testing.T) {
	unreachable := errors.New("failed to open database: connection refused")
	assert.Equal(t, bootstrap.ExitMigrationFailed, bootstrap.ExitCode(migrationStageError(unreachable)))

	failed := &migrate.MigrationError{Version: 2, Name: "b", Err: errors.New("syntax error")}
	assert.Same(t, failed, migrationStageError(failed))

	cfgErr := &configError{err: errors.New("database.url is required")}
	assert.Equal(t, bootstrap.ExitFailure, bootstrap.ExitCode(migrationStageError(cfgErr)))
}

func TestProbeCommand(t *testing.T) {
	isolate(t)

	t.Run("Reachable", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer func() { _ = ln.Close() }()
		port := ln.Addr().(*net.TCPAddr).Port

		_, err = execute(t, context.Background(), "probe",
			"--host", "127.0.0.1", "--port", strconv.Itoa(port), "--deadline", "2s", "--max-attempts", "0")
		require.NoError(t, err)
	})

	t.Run("TimeoutExits2", func(t *testing.T) {
		_, err := execute(t, context.Background(), "probe",
			"--host", "127.0.0.1", "--port", strconv.Itoa(freePort(t)),
			"--interval", "10ms", "--max-attempts", "2", "--deadline", "0")
		var te *probe.TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, 2, te.Attempts)
		assert.Equal(t, bootstrap.ExitProbeTimeout, bootstrap.ExitCode(err))
	})
}

func TestProbeTarget_FlagsOverrideConfig(t *testing.T) {
	cfg := config.GetDefaultConfig().Probe
	cmd := &cobra.Command{Use: "probe"}
	cmd.Flags().StringVar(&probeFlags.host, "host", "", "")
	cmd.Flags().IntVar(&probeFlags.port, "port", 0, "")
	cmd.Flags().DurationVar(&probeFlags.interval, "interval", 0, "")
	cmd.Flags().DurationVar(&probeFlags.deadline, "deadline", 0, "")
	cmd.Flags().IntVar(&probeFlags.maxAttempts, "max-attempts", 0, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--host", "db", "--interval", "20s"}))

	target := probeTarget(cmd, cfg)
	assert.Equal(t, "db", target.Host)
	assert.Equal(t, cfg.Port, target.Port, "unset flags keep the configured value")
	assert.Equal(t, 20*time.Second, target.Interval)
	assert.Equal(t, 20*time.Second, target.MaxInterval, "max interval never below interval")
	assert.Equal(t, config.DefaultProbeDeadline, target.Deadline)
}

func TestServeCommand(t *testing.T) {
	isolate(t)
	t.Setenv("BOOTGATE_CACHE_ENABLED", "false")
	port := freePort(t)
	t.Setenv("PORT", strconv.Itoa(port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := execute(t, ctx, "serve", "--name", "orders")
		done <- err
	}()

	base := "http://127.0.0.1:" + strconv.Itoa(port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health/ready")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/")
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, "Welcome to orders", body["message"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeCommand_PortInUse(t *testing.T) {
	isolate(t)
	t.Setenv("BOOTGATE_CACHE_ENABLED", "false")
	ln, err := net.Listen("tcp", "0.0.0.0:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	t.Setenv("PORT", strconv.Itoa(ln.Addr().(*net.TCPAddr).Port))

	_, err = execute(t, context.Background(), "serve")
	var le *launch.LaunchError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, bootstrap.ExitLaunchFailed, bootstrap.ExitCode(err))
}

func TestHealthCommand(t *testing.T) {
	isolate(t)
	var ready atomic.Bool
	ready.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ready.Load() {
			_, _ = w.Write([]byte(`{"status":"healthy","data":{"dependencies":[{"name":"database","status":"healthy","latency":"1ms"}]}}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database not ready","data":{"dependencies":[{"name":"database","status":"unhealthy","latency":"1ms"}]}}`))
	}))
	defer srv.Close()

	out, err := execute(t, context.Background(), "health", "--url", srv.URL, "--output", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "database")
	assert.Contains(t, out, "healthy")

	ready.Store(false)
	out, err = execute(t, context.Background(), "health", "--url", srv.URL, "--output", "table")
	assert.ErrorIs(t, err, errUnhealthy)
	assert.Contains(t, out, "database not ready")
}

func TestUpPlan(t *testing.T) {
	isolate(t)
	cfg := config.GetDefaultConfig()

	t.Run("DefaultsToServe", func(t *testing.T) {
		cfgFile = "/etc/bootgate.yaml"
		defer func() { cfgFile = "" }()

		plan, err := upPlan("/usr/local/bin/bootgate", cfg, nil)
		require.NoError(t, err)
		assert.NotNil(t, plan.Probe)
		assert.NotNil(t, plan.Migrate)
		assert.NotNil(t, plan.Launch)
	})

	t.Run("RejectsBadEnv", func(t *testing.T) {
		bad := *cfg
		bad.Service.Env = []string{"NOEQUALS"}
		_, err := upPlan("/usr/local/bin/bootgate", &bad, nil)
		require.Error(t, err)
		assert.True(t, isConfigError(err))
	})
}

func TestStatusTable(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	table := statusTable(&migrate.Report{Migrations: []migrate.Status{
		{Version: 1, Name: "create_users", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "create_chat_histories", Applied: true, AppliedAt: &at, Drift: true},
		{Version: 3, Name: "add_history_indexes"},
		{Version: 4, Name: "removed", Applied: true, Missing: true},
	}})

	rows := table.Rows()
	require.Len(t, rows, 4)
	assert.Equal(t, "applied", rows[0][2])
	assert.Equal(t, "checksum drift", rows[1][4])
	assert.Equal(t, []string{"3", "add_history_indexes", "pending", "-", ""}, rows[2])
	assert.Equal(t, "file missing", rows[3][4])
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	out, err := execute(t, context.Background(), "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, Version, strings.TrimSpace(out))
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	isolate(t)
	logLevel = "chatty"
	defer func() { logLevel = "" }()

	_, err := loadConfig()
	assert.ErrorContains(t, err, "invalid --log-level")
}
