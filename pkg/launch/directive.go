// Package launch starts the long-running service once its preconditions
// hold: either an in-process HTTP server (StartService) or an external
// command that counts as started when its port accepts connections
// (StartProcess). Bind and early-exit failures are returned as
// *LaunchError and never retried.
package launch

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Defaults for LaunchDirective fields left zero.
const (
	DefaultStartupTimeout  = 30 * time.Second
	DefaultReadyInterval   = 100 * time.Millisecond
	DefaultShutdownTimeout = 30 * time.Second
)

// LaunchDirective describes the service to start. It is built once from
// configuration and consumed once.
type LaunchDirective struct {
	// Command is the program and its arguments. Empty means the service is
	// served in-process.
	Command []string

	// Env holds extra KEY=VALUE bindings layered over the parent environment.
	Env []string

	Host string
	Port int

	// StartupTimeout bounds how long an external command may take to open
	// its port.
	StartupTimeout time.Duration

	// ReadyInterval is the poll cadence while waiting for the port.
	ReadyInterval time.Duration

	// ShutdownTimeout is the grace period between SIGTERM and SIGKILL, and
	// the drain period of the in-process server.
	ShutdownTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (d *LaunchDirective) applyDefaults() {
	if d.StartupTimeout <= 0 {
		d.StartupTimeout = DefaultStartupTimeout
	}
	if d.ReadyInterval <= 0 {
		d.ReadyInterval = DefaultReadyInterval
	}
	if d.ShutdownTimeout <= 0 {
		d.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks the directive. Port 0 asks the kernel for a free port and
// is only meaningful in-process.
func (d LaunchDirective) Validate() error {
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("launch: port %d out of range", d.Port)
	}
	for _, kv := range d.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return fmt.Errorf("launch: environment binding %q is not KEY=VALUE", kv)
		}
	}
	if len(d.Command) > 0 && strings.TrimSpace(d.Command[0]) == "" {
		return errors.New("launch: command has an empty program name")
	}
	return nil
}

// Address is the listen address.
func (d LaunchDirective) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// readyHost is the host dialled to detect that a command is listening.
// Wildcard listen addresses are probed on loopback.
func (d LaunchDirective) readyHost() string {
	switch d.Host {
	case "", "0.0.0.0":
		return "127.0.0.1"
	case "::", "[::]":
		return "::1"
	default:
		return d.Host
	}
}

// Environ returns the child environment: base, then Env, then PORT unless
// Env already sets it. Later entries win for duplicate keys.
func (d LaunchDirective) Environ(base []string) []string {
	env := append(append([]string(nil), base...), d.Env...)
	for _, kv := range d.Env {
		if strings.HasPrefix(kv, "PORT=") {
			return env
		}
	}
	return append(env, "PORT="+strconv.Itoa(d.Port))
}

// CommandString renders Command for logs.
func (d LaunchDirective) CommandString() string {
	return strings.Join(d.Command, " ")
}
