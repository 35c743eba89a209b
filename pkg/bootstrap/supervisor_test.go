package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/bootgate/internal/logger"
	"github.com/marmos91/bootgate/pkg/launch"
	"github.com/marmos91/bootgate/pkg/migrate"
	"github.com/marmos91/bootgate/pkg/probe"
)

// journal records the order in which stages start and finish.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	j.events = append(j.events, e)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

func step(j *journal, name string, d time.Duration, err error) Step {
	return func(ctx context.Context) error {
		j.add(name + ":start")
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
		j.add(name + ":end")
		return err
	}
}

func service(j *journal, wait func() error) ServiceStep {
	return func(context.Context) (func() error, error) {
		j.add("launch:start")
		return wait, nil
	}
}

type observer struct {
	mu     sync.Mutex
	phases []string
	stages map[string]error
}

func (o *observer) SetPhase(p string) {
	o.mu.Lock()
	o.phases = append(o.phases, p)
	o.mu.Unlock()
}

func (o *observer) ObserveStage(stage string, _ time.Duration, err error) {
	o.mu.Lock()
	if o.stages == nil {
		o.stages = map[string]error{}
	}
	o.stages[stage] = err
	o.mu.Unlock()
}

func TestSupervisor_RunsStagesInOrder(t *testing.T) {
	j := &journal{}
	obs := &observer{}
	s := New(WithObserver(obs), WithRunID("run-1"))

	err := s.Run(context.Background(), Plan{
		Probe:   step(j, "probe", 10*time.Millisecond, nil),
		Migrate: step(j, "migrate", 150*time.Millisecond, nil), // slow migrations
		Launch:  service(j, func() error { return nil }),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"probe:start", "probe:end",
		"migrate:start", "migrate:end",
		"launch:start",
	}, j.list(), "launch never starts before migrate finished")
	assert.Equal(t, PhaseReady, s.Phase())
	assert.Equal(t, []string{"Init", "ProbingDependency", "RunningMigrations", "LaunchingService", "Ready"}, obs.phases)
	assert.Equal(t, "run-1", s.RunID())

	for _, st := range s.Stages() {
		assert.Equal(t, StateSucceeded, st.State, st.Name)
	}
	assert.GreaterOrEqual(t, s.Stages()[1].Duration(), 150*time.Millisecond)
}

func TestSupervisor_FailureStopsTheRun(t *testing.T) {
	tests := []struct {
		name      string
		plan      func(j *journal) Plan
		stage     string
		exitCode  int
		wantSteps []string
	}{
		{
			name: "ProbeTimeout",
			plan: func(j *journal) Plan {
				return Plan{
					Probe:   step(j, "probe", 0, &probe.TimeoutError{Target: "db:5432", Reason: probe.ReasonDeadline}),
					Migrate: step(j, "migrate", 0, nil),
					Launch:  service(j, func() error { return nil }),
				}
			},
			stage:     StageProbe,
			exitCode:  ExitProbeTimeout,
			wantSteps: []string{"probe:start", "probe:end"},
		},
		{
			name: "MigrationFailure",
			plan: func(j *journal) Plan {
				return Plan{
					Probe:   step(j, "probe", 0, nil),
					Migrate: step(j, "migrate", 0, &migrate.MigrationError{Version: 2, Name: "b", Err: errors.New("syntax")}),
					Launch:  service(j, func() error { return nil }),
				}
			},
			stage:     StageMigrate,
			exitCode:  ExitMigrationFailed,
			wantSteps: []string{"probe:start", "probe:end", "migrate:start", "migrate:end"},
		},
		{
			name: "ChildExitStatus",
			plan: func(j *journal) Plan {
				return Plan{
					Probe:   step(j, "probe", 0, nil),
					Migrate: step(j, "migrate", 0, &StageError{Stage: StageMigrate, Code: 3, Err: errors.New("exit status 3")}),
					Launch:  service(j, func() error { return nil }),
				}
			},
			stage:     StageMigrate,
			exitCode:  3,
			wantSteps: []string{"probe:start", "probe:end", "migrate:start", "migrate:end"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &journal{}
			s := New()
			err := s.Run(context.Background(), tt.plan(j))

			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.stage, se.Stage)
			assert.Contains(t, err.Error(), "stage "+tt.stage)
			assert.Equal(t, tt.exitCode, ExitCode(err))
			assert.Equal(t, PhaseFailed, s.Phase())
			assert.Equal(t, tt.wantSteps, j.list())

			for _, st := range s.Stages() {
				if st.Name == tt.stage {
					assert.Equal(t, StateFailed, st.State)
				}
				if st.Name == StageLaunch {
					assert.NotEqual(t, StateRunning, st.State)
					assert.NotEqual(t, StateSucceeded, st.State)
				}
			}
		})
	}
}

func TestSupervisor_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	attempts := 0
	launchStep := InProcessService(launch.LaunchDirective{Host: "127.0.0.1", Port: port}, http.NotFoundHandler())
	counting := func(ctx context.Context) (func() error, error) {
		attempts++
		return launchStep(ctx)
	}

	j := &journal{}
	s := New()
	err = s.Run(context.Background(), Plan{
		Probe:   step(j, "probe", 0, nil),
		Migrate: step(j, "migrate", 0, nil),
		Launch:  counting,
	})

	var le *launch.LaunchError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, port, le.Port)
	assert.Equal(t, ExitLaunchFailed, ExitCode(err))
	assert.Equal(t, PhaseFailed, s.Phase())
	assert.Equal(t, 1, attempts, "bind failures are not retried")
}

func TestSupervisor_InProcessServiceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	j := &journal{}
	s := New()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, Plan{
			Probe:   step(j, "probe", 0, nil),
			Migrate: step(j, "migrate", 0, nil),
			Launch:  InProcessService(launch.LaunchDirective{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}, http.NotFoundHandler()),
		})
	}()

	require.Eventually(t, func() bool { return s.Phase() == PhaseReady }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not return after cancellation")
	}
}

func TestSupervisor_ServiceCrashAfterReady(t *testing.T) {
	j := &journal{}
	s := New()
	err := s.Run(context.Background(), Plan{
		Probe:   step(j, "probe", 0, nil),
		Migrate: step(j, "migrate", 0, nil),
		Launch:  service(j, func() error { return &StageError{Stage: StageLaunch, Code: 137, Err: errors.New("killed")} }),
	})
	assert.Equal(t, 137, ExitCode(err))
	assert.Equal(t, PhaseReady, s.Phase(), "Ready is terminal")
}

func TestSupervisor_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := &journal{}
	s := New()
	err := s.Run(ctx, Plan{
		Probe:   step(j, "probe", 0, nil),
		Migrate: step(j, "migrate", 0, nil),
		Launch:  service(j, func() error { return nil }),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseFailed, s.Phase())
	assert.Empty(t, j.list())
}

func TestSupervisor_IncompletePlan(t *testing.T) {
	assert.Error(t, New().Run(context.Background(), Plan{}))
}

func TestChildEnv(t *testing.T) {
	ctx := logger.StageContext(logger.WithContext(context.Background(), logger.NewLogContext("run-42")), StageMigrate)
	env := ChildEnv(ctx, []string{"A=1"})
	assert.Equal(t, "A=1", env[0])
	assert.Contains(t, env, EnvRunID+"=run-42")
	assert.Contains(t, env, EnvStage+"=migrate")
}

func TestProcessStep(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	ctx := logger.StageContext(context.Background(), StageMigrate)

	require.NoError(t, ProcessStep([]string{"sh", "-c", "exit 0"}, os.Environ(), time.Second)(ctx))

	err := ProcessStep([]string{"sh", "-c", "exit 3"}, os.Environ(), time.Second)(ctx)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageMigrate, se.Stage)
	assert.Equal(t, 3, se.Code)
	assert.Equal(t, ExitMigrationFailed, ExitCode(err))

	err = ProcessStep([]string{"sh", "-c", `test "$BOOTGATE_STAGE" = migrate`}, os.Environ(), time.Second)(ctx)
	assert.NoError(t, err, "children see their stage")
}

func TestSupervisor_RealChildProcesses(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	start := time.Now()
	var launchedAt time.Time

	s := New()
	err := s.Run(context.Background(), Plan{
		Probe:   ProcessStep([]string{"sh", "-c", "exit 0"}, os.Environ(), time.Second),
		Migrate: ProcessStep([]string{"sh", "-c", "sleep 0.3"}, os.Environ(), time.Second),
		Launch: func(context.Context) (func() error, error) {
			launchedAt = time.Now()
			return func() error { return nil }, nil
		},
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, launchedAt.Sub(start), 300*time.Millisecond)

	s = New()
	err = s.Run(context.Background(), Plan{
		Probe:   ProcessStep([]string{"sh", "-c", "exit 0"}, os.Environ(), time.Second),
		Migrate: ProcessStep([]string{"sh", "-c", "exit 3"}, os.Environ(), time.Second),
		Launch: func(context.Context) (func() error, error) {
			t.Fatal("launch must not run after a failed migration")
			return nil, nil
		},
	})
	assert.Equal(t, ExitMigrationFailed, ExitCode(err))
}

func TestServiceProcess_ExitsBeforeListening(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	port := freePort(t)

	s := New()
	err := s.Run(context.Background(), Plan{
		Probe:   step(&journal{}, "probe", 0, nil),
		Migrate: step(&journal{}, "migrate", 0, nil),
		Launch: ServiceProcess(launch.LaunchDirective{
			Command:        []string{"sh", "-c", "exit 5"},
			Host:           "127.0.0.1",
			Port:           port,
			StartupTimeout: 5 * time.Second,
		}, os.Environ()),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, launch.ErrExitedEarly)
	assert.Equal(t, ExitLaunchFailed, ExitCode(err))
	assert.Equal(t, PhaseFailed, s.Phase())
}

func TestServiceProcess_PortInUse(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	marker := filepath.Join(t.TempDir(), "started")
	s := New()
	err = s.Run(context.Background(), Plan{
		Probe:   step(&journal{}, "probe", 0, nil),
		Migrate: step(&journal{}, "migrate", 0, nil),
		// Stands in for a service that fails to bind and exits 4.
		Launch: ServiceProcess(launch.LaunchDirective{
			Command:        []string{"sh", "-c", `touch "$MARKER"; sleep 0.3; exit 4`},
			Env:            []string{"MARKER=" + marker},
			Host:           "127.0.0.1",
			Port:           port,
			StartupTimeout: 5 * time.Second,
		}, os.Environ()),
	})

	var le *launch.LaunchError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, launch.ErrPortInUse)
	assert.Equal(t, ExitLaunchFailed, ExitCode(err))
	assert.Equal(t, PhaseFailed, s.Phase(), "a foreign listener never makes the run Ready")
	assert.NoFileExists(t, marker, "the service command is not spawned")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}
