// Package bootstrap sequences the probe, migrate and launch stages. Each
// stage starts only after its predecessor succeeded, and the first failure
// moves the run to PhaseFailed and stops it.
package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/bootgate/internal/logger"
	"github.com/marmos91/bootgate/internal/telemetry"
)

// Step is the work of a terminating stage.
type Step func(ctx context.Context) error

// ServiceStep starts the long-running service and returns once it is ready.
// wait blocks until the service exits.
type ServiceStep func(ctx context.Context) (wait func() error, err error)

// Plan is the ordered work of one bootstrap run.
type Plan struct {
	Probe   Step
	Migrate Step
	Launch  ServiceStep
}

// Observer receives phase changes and stage timings. *metrics.Metrics
// satisfies it.
type Observer interface {
	PhaseObserver
	ObserveStage(stage string, d time.Duration, err error)
}

// Supervisor runs a Plan.
type Supervisor struct {
	runID    string
	machine  *Machine
	observer Observer
	now      func() time.Time

	mu     sync.Mutex
	stages []*Stage
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithObserver attaches metrics.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) { s.observer = o }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(s *Supervisor) { s.runID = id }
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// New creates a supervisor in PhaseInit.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = NewRunID()
	}

	var phaseObserver PhaseObserver
	if s.observer != nil {
		phaseObserver = s.observer
	}
	s.machine = NewMachine(phaseObserver)

	probeStage := &Stage{Name: StageProbe}
	migrateStage := &Stage{Name: StageMigrate, Predecessor: probeStage}
	launchStage := &Stage{Name: StageLaunch, Predecessor: migrateStage}
	s.stages = []*Stage{probeStage, migrateStage, launchStage}
	return s
}

// RunID returns the run identifier exported to children.
func (s *Supervisor) RunID() string { return s.runID }

// Phase returns the current phase.
func (s *Supervisor) Phase() Phase { return s.machine.Phase() }

// Machine exposes the phase machine.
func (s *Supervisor) Machine() *Machine { return s.machine }

// Stages returns a snapshot of the stage records.
func (s *Supervisor) Stages() []Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stage, len(s.stages))
	for i, st := range s.stages {
		out[i] = *st
		out[i].Predecessor = nil
	}
	return out
}

// Run executes plan. It returns nil once the service exits cleanly or ctx
// is cancelled after the service became ready, and a *StageError naming
// the failed stage otherwise.
func (s *Supervisor) Run(ctx context.Context, plan Plan) (err error) {
	if plan.Probe == nil || plan.Migrate == nil || plan.Launch == nil {
		return errors.New("bootstrap: plan is missing a stage")
	}

	lc := logger.FromContext(ctx)
	if lc == nil {
		lc = logger.NewLogContext(s.runID)
	} else {
		lc = lc.Clone()
		lc.RunID = s.runID
	}
	ctx = logger.WithContext(ctx, lc)

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanBootstrap,
		trace.WithAttributes(telemetry.RunID(s.runID)))
	defer func() {
		telemetry.RecordError(ctx, err)
		span.End()
	}()

	logger.InfoCtx(ctx, "Bootstrap starting")

	if err := s.runStep(ctx, 0, PhaseProbingDependency, plan.Probe); err != nil {
		return err
	}
	if err := s.runStep(ctx, 1, PhaseRunningMigrations, plan.Migrate); err != nil {
		return err
	}

	wait, err := s.launch(ctx, plan.Launch)
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Bootstrap ready", logger.KeyPhase, PhaseReady.String())

	serveErr := wait()
	if ctx.Err() != nil {
		logger.InfoCtx(ctx, "Service stopped on shutdown")
		return nil
	}
	if serveErr != nil {
		logger.ErrorCtx(ctx, "Service exited", logger.KeyStage, StageLaunch, logger.KeyError, serveErr)
		return wrapStage(StageLaunch, serveErr)
	}
	logger.InfoCtx(ctx, "Service exited")
	return nil
}

func (s *Supervisor) runStep(ctx context.Context, i int, phase Phase, step Step) error {
	stage, err := s.begin(ctx, i, phase)
	if err != nil {
		return err
	}

	sctx, span := telemetry.StartStageSpan(logger.StageContext(ctx, stage.Name), stage.Name)
	err = step(sctx)
	telemetry.RecordError(sctx, err)
	span.End()

	return s.end(sctx, stage, err)
}

func (s *Supervisor) launch(ctx context.Context, step ServiceStep) (func() error, error) {
	stage, err := s.begin(ctx, 2, PhaseLaunchingService)
	if err != nil {
		return nil, err
	}

	sctx, span := telemetry.StartStageSpan(logger.StageContext(ctx, stage.Name), stage.Name)
	wait, err := step(sctx)
	telemetry.RecordError(sctx, err)
	span.End()

	if err := s.end(sctx, stage, err); err != nil {
		return nil, err
	}
	if err := s.machine.Transition(PhaseReady); err != nil {
		return nil, err
	}
	return wait, nil
}

// begin moves the machine to phase and starts stage i.
func (s *Supervisor) begin(ctx context.Context, i int, phase Phase) (*Stage, error) {
	name := s.stages[i].Name
	if err := ctx.Err(); err != nil {
		s.machine.Fail()
		return nil, wrapStage(name, err)
	}
	if err := s.machine.Transition(phase); err != nil {
		s.machine.Fail()
		return nil, wrapStage(name, err)
	}

	s.mu.Lock()
	stage := s.stages[i]
	err := stage.Start(s.now())
	if err == nil && i+1 < len(s.stages) {
		s.stages[i+1].Wait()
	}
	s.mu.Unlock()
	if err != nil {
		s.machine.Fail()
		return nil, wrapStage(name, err)
	}

	logger.InfoCtx(logger.StageContext(ctx, stage.Name), "Stage started", logger.KeyPhase, phase.String())
	return stage, nil
}

// end records the stage result; a failure moves the machine to Failed.
func (s *Supervisor) end(ctx context.Context, stage *Stage, err error) error {
	s.mu.Lock()
	stage.Finish(err, s.now())
	d := stage.Duration()
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveStage(stage.Name, d, err)
	}

	if err != nil {
		err = wrapStage(stage.Name, err)
		s.machine.Fail()
		logger.ErrorCtx(ctx, "Stage failed",
			logger.KeyExitCode, ExitCode(err),
			logger.KeyDurationMs, float64(d.Microseconds())/1000.0,
			logger.KeyError, err)
		return err
	}

	logger.InfoCtx(ctx, "Stage succeeded", logger.KeyDurationMs, float64(d.Microseconds())/1000.0)
	return nil
}
