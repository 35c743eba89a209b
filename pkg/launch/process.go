package launch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/marmos91/bootgate/internal/logger"
	"github.com/marmos91/bootgate/internal/proc"
	"github.com/marmos91/bootgate/pkg/probe"
)

// Process is a running external service.
type Process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// ProcessOption configures StartProcess.
type ProcessOption func(*processOptions)

type processOptions struct {
	baseEnv []string
	prober  *probe.Prober
}

// WithBaseEnv replaces os.Environ() as the environment the directive's
// bindings are layered over.
func WithBaseEnv(env []string) ProcessOption {
	return func(o *processOptions) { o.baseEnv = env }
}

// WithProber replaces the prober used to detect the open port.
func WithProber(p *probe.Prober) ProcessOption {
	return func(o *processOptions) { o.prober = p }
}

// StartProcess spawns d.Command and returns once its port accepts TCP
// connections. The process lives until ctx is cancelled, at which point its
// process group receives SIGTERM and, after the shutdown timeout, SIGKILL.
//
// A spawn failure, an exit before the port opens, or a port that stays
// closed past the startup timeout is returned as *LaunchError; the process
// is stopped in the last case.
func StartProcess(ctx context.Context, d LaunchDirective, opts ...ProcessOption) (*Process, error) {
	d.applyDefaults()
	o := processOptions{baseEnv: os.Environ()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.prober == nil {
		o.prober = probe.New()
	}

	launchErr := func(err error) error {
		return &LaunchError{Port: d.Port, Command: d.CommandString(), Err: err}
	}
	if err := d.Validate(); err != nil {
		return nil, launchErr(err)
	}
	if len(d.Command) == 0 {
		return nil, launchErr(errors.New("no command configured"))
	}
	if d.Port == 0 {
		return nil, launchErr(errors.New("an external command needs an explicit port"))
	}

	// Readiness is "something accepts on the port", so a port someone else
	// already holds would pass it for a child that cannot bind.
	if err := checkPortFree(ctx, d); err != nil {
		logger.ErrorCtx(ctx, "Service port unavailable",
			logger.KeyPort, d.Port,
			logger.KeyError, err)
		return nil, launchErr(err)
	}

	cmd, err := proc.Command(ctx, d.Command, d.Environ(o.baseEnv), d.ShutdownTimeout)
	if err != nil {
		return nil, launchErr(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, launchErr(err)
	}

	p := &Process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	logger.InfoCtx(ctx, "Service process started",
		logger.KeyPID, cmd.Process.Pid,
		logger.KeyCommand, d.CommandString(),
		logger.KeyPort, d.Port)

	// Stop polling as soon as the child dies.
	readyCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-readyCtx.Done():
		}
	}()

	err = o.prober.Wait(readyCtx, probe.Target{
		Host:     d.readyHost(),
		Port:     d.Port,
		Interval: d.ReadyInterval,
		Deadline: d.StartupTimeout,
	})
	if err == nil {
		// A child that lost a bind race dies right after the port answered.
		select {
		case <-p.done:
			code, _ := proc.ExitStatus(p.err)
			return nil, launchErr(fmt.Errorf("%w (exit status %d)", ErrExitedEarly, code))
		case <-time.After(d.ReadyInterval):
		}
		logger.InfoCtx(ctx, "Service accepting connections", logger.KeyPort, d.Port)
		return p, nil
	}

	select {
	case <-p.done:
		code, _ := proc.ExitStatus(p.err)
		return nil, launchErr(fmt.Errorf("%w (exit status %d)", ErrExitedEarly, code))
	default:
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		<-p.done // cancellation already signalled the group
		return nil, ctxErr
	}

	p.stop()
	return nil, launchErr(fmt.Errorf("port %d not open after %s: %w", d.Port, d.StartupTimeout, err))
}

// checkPortFree fails with ErrPortInUse when the port is already bound or
// already answers on the host the readiness dial would use.
func checkPortFree(ctx context.Context, d LaunchDirective) error {
	ln, err := net.Listen("tcp", d.Address())
	switch {
	case err == nil:
		_ = ln.Close()
	case errors.Is(err, syscall.EADDRINUSE):
		return fmt.Errorf("%w: %v", ErrPortInUse, err)
	}

	dctx, cancel := context.WithTimeout(ctx, d.ReadyInterval)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dctx, "tcp", net.JoinHostPort(d.readyHost(), strconv.Itoa(d.Port)))
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %s already accepts connections", ErrPortInUse, d.Address())
	}
	return nil
}

// stop terminates the group and waits, escalating to SIGKILL of the whole
// group after the command's WaitDelay.
func (p *Process) stop() {
	_ = proc.Signal(p.cmd, syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(p.cmd.WaitDelay):
		_ = proc.Kill(p.cmd)
		<-p.done
	}
}

// Pid returns the process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the process exits and returns its Wait error.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Signal delivers sig to the process group.
func (p *Process) Signal(sig os.Signal) error {
	return proc.Signal(p.cmd, sig)
}
