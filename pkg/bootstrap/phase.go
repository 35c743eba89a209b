package bootstrap

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Phase is the supervisor's position in the bootstrap sequence.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseProbingDependency
	PhaseRunningMigrations
	PhaseLaunchingService
	PhaseReady
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseInit:              "Init",
	PhaseProbingDependency: "ProbingDependency",
	PhaseRunningMigrations: "RunningMigrations",
	PhaseLaunchingService:  "LaunchingService",
	PhaseReady:             "Ready",
	PhaseFailed:            "Failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseReady || p == PhaseFailed
}

// next is the only forward transition out of p.
func (p Phase) next() (Phase, bool) {
	if p >= PhaseInit && p < PhaseReady {
		return p + 1, true
	}
	return 0, false
}

// ErrInvalidTransition is returned for skipped, backward or post-terminal
// transitions.
var ErrInvalidTransition = errors.New("invalid phase transition")

// Transition is one recorded phase change.
type Transition struct {
	From Phase
	To   Phase
	At   time.Time
}

// PhaseObserver is notified after every transition.
type PhaseObserver interface {
	SetPhase(phase string)
}

// Machine enforces Init → ProbingDependency → RunningMigrations →
// LaunchingService → Ready, with Failed reachable from any non-terminal
// phase.
type Machine struct {
	mu       sync.Mutex
	phase    Phase
	history  []Transition
	observer PhaseObserver
	now      func() time.Time
}

// NewMachine returns a machine in PhaseInit. observer may be nil.
func NewMachine(observer PhaseObserver) *Machine {
	m := &Machine{phase: PhaseInit, observer: observer, now: time.Now}
	if observer != nil {
		observer.SetPhase(PhaseInit.String())
	}
	return m
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Transition moves to phase to.
func (m *Machine) Transition(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.phase
	if next, ok := from.next(); !(ok && next == to) && !(to == PhaseFailed && !from.Terminal()) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	m.phase = to
	m.history = append(m.history, Transition{From: from, To: to, At: m.now()})
	if m.observer != nil {
		m.observer.SetPhase(to.String())
	}
	return nil
}

// Fail moves to PhaseFailed unless the machine is already terminal.
func (m *Machine) Fail() {
	_ = m.Transition(PhaseFailed)
}

// History returns the transitions so far, oldest first.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}
