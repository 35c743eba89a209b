// Package probe waits for a TCP endpoint to start accepting connections.
//
// A refused or timed-out connection is the expected steady state while a
// dependency boots, so failures are retried on a fixed (or geometrically
// growing) cadence until one of three bounds trips: the attempt limit, the
// wall-clock deadline, or cancellation of the caller's context.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/marmos91/bootgate/internal/logger"
)

// Target is an immutable description of what to wait for and how.
// It is passed by value; the prober never modifies it.
type Target struct {
	Host string
	Port int

	// Interval is the pause after a failed attempt
	Interval time.Duration

	// MaxAttempts stops after this many failed connections; 0 is unbounded
	MaxAttempts int

	// Deadline stops once this much time has elapsed since the first
	// attempt; 0 is unbounded
	Deadline time.Duration

	// DialTimeout bounds one attempt. Zero or anything above Interval is
	// treated as Interval, so a hung connect cannot stretch the cadence.
	DialTimeout time.Duration

	// BackoffMultiplier > 1 grows Interval after each failure, up to
	// MaxInterval. 0 and 1 keep the cadence fixed.
	BackoffMultiplier float64
	MaxInterval       time.Duration
}

// Address returns host:port, bracketing IPv6 literals.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Validate reports whether the target can be probed.
func (t Target) Validate() error {
	switch {
	case t.Host == "":
		return errors.New("probe: host is required")
	case t.Port < 1 || t.Port > 65535:
		return fmt.Errorf("probe: port %d out of range", t.Port)
	case t.Interval <= 0:
		return fmt.Errorf("probe: interval must be positive, got %s", t.Interval)
	case t.MaxAttempts < 0:
		return fmt.Errorf("probe: max attempts must not be negative, got %d", t.MaxAttempts)
	case t.Deadline < 0:
		return fmt.Errorf("probe: deadline must not be negative, got %s", t.Deadline)
	}
	return nil
}

// Bounded reports whether the wait can end without the endpoint answering
// or the context being cancelled.
func (t Target) Bounded() bool {
	return t.MaxAttempts > 0 || t.Deadline > 0
}

// attemptTimeout is the dial timeout for one attempt, never above interval.
func (t Target) attemptTimeout(interval time.Duration) time.Duration {
	if t.DialTimeout <= 0 || t.DialTimeout > interval {
		return interval
	}
	return t.DialTimeout
}

// nextInterval is the pause after failed attempt n (1-based), grown by the
// backoff multiplier and capped at MaxInterval.
func (t Target) nextInterval(n int) time.Duration {
	if t.BackoffMultiplier <= 1 {
		return t.Interval
	}
	d := float64(t.Interval) * math.Pow(t.BackoffMultiplier, float64(n-1))
	if t.MaxInterval > 0 && d > float64(t.MaxInterval) {
		d = float64(t.MaxInterval)
	}
	return time.Duration(d)
}

// Dialer opens a connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Recorder receives one call per connection attempt.
type Recorder interface {
	RecordProbeAttempt(success bool)
}

// Prober runs the wait loop. The zero value dials with net.Dialer on the
// wall clock.
type Prober struct {
	Dialer   Dialer
	Clock    Clock
	Recorder Recorder
}

// Option configures a Prober.
type Option func(*Prober)

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) Option {
	return func(p *Prober) { p.Dialer = d }
}

// WithClock replaces the time source used for deadlines and sleeping.
func WithClock(c Clock) Option {
	return func(p *Prober) { p.Clock = c }
}

// WithRecorder attaches an attempt recorder, typically the metrics set.
func WithRecorder(r Recorder) Option {
	return func(p *Prober) { p.Recorder = r }
}

// New creates a Prober.
func New(opts ...Option) *Prober {
	p := &Prober{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WaitUntilReachable blocks until target accepts a TCP connection.
//
// It returns nil on the first successful connect, *TimeoutError when the
// attempt limit or deadline is exhausted, and ctx.Err() when ctx ends first.
// With a deadline D the call returns no later than D plus one interval.
func WaitUntilReachable(ctx context.Context, target Target, opts ...Option) error {
	return New(opts...).Wait(ctx, target)
}

// Wait implements WaitUntilReachable.
func (p *Prober) Wait(ctx context.Context, target Target) error {
	if err := target.Validate(); err != nil {
		return err
	}

	clock := p.Clock
	if clock == nil {
		clock = realClock{}
	}
	dialer := p.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	addr := target.Address()
	start := clock.Now()
	var deadlineAt time.Time
	if target.Deadline > 0 {
		deadlineAt = start.Add(target.Deadline)
	}

	logger.InfoCtx(ctx, "Waiting for dependency",
		logger.KeyTarget, addr,
		logger.KeyInterval, target.Interval,
		logger.KeyDeadline, target.Deadline,
		logger.KeyMaxAttempts, target.MaxAttempts)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		interval := target.nextInterval(attempt)
		timeout := target.attemptTimeout(interval)
		if !deadlineAt.IsZero() {
			if remaining := deadlineAt.Sub(clock.Now()); remaining > 0 && remaining < timeout {
				timeout = remaining
			}
		}

		err := p.dialOnce(ctx, dialer, addr, timeout)
		if err == nil {
			p.record(true)
			logger.InfoCtx(ctx, "Dependency reachable",
				logger.KeyTarget, addr,
				logger.KeyAttempt, attempt,
				logger.KeyDurationMs, float64(clock.Now().Sub(start).Microseconds())/1000.0)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		p.record(false)

		now := clock.Now()
		elapsed := now.Sub(start)
		logger.DebugCtx(ctx, "Dependency not reachable yet",
			logger.KeyTarget, addr,
			logger.KeyAttempt, attempt,
			logger.KeyError, err)

		if target.MaxAttempts > 0 && attempt >= target.MaxAttempts {
			return &TimeoutError{Target: addr, Attempts: attempt, Elapsed: elapsed, Reason: ReasonMaxAttempts, LastErr: err}
		}
		if !deadlineAt.IsZero() && !now.Before(deadlineAt) {
			return &TimeoutError{Target: addr, Attempts: attempt, Elapsed: elapsed, Reason: ReasonDeadline, LastErr: err}
		}

		wait := interval
		if !deadlineAt.IsZero() {
			if remaining := deadlineAt.Sub(now); remaining < wait {
				wait = remaining
			}
		}
		if err := clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (p *Prober) dialOnce(ctx context.Context, d Dialer, addr string, timeout time.Duration) error {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}

func (p *Prober) record(success bool) {
	if p.Recorder != nil {
		p.Recorder.RecordProbeAttempt(success)
	}
}
