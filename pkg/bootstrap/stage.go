package bootstrap

import (
	"errors"
	"fmt"
	"time"
)

// Stage names, also used as the stage log field and metric label.
const (
	StageProbe   = "probe"
	StageMigrate = "migrate"
	StageLaunch  = "launch"
)

// StageState is the lifecycle of one stage within a single bootstrap run.
type StageState int

const (
	StatePending StageState = iota
	StateWaiting
	StateRunning
	StateSucceeded
	StateFailed
)

func (s StageState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateWaiting:
		return "Waiting"
	case StateRunning:
		return "Running"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("StageState(%d)", int(s))
	}
}

// ErrPredecessorNotSucceeded is returned by Stage.Start when ordering would
// be violated.
var ErrPredecessorNotSucceeded = errors.New("predecessor stage has not succeeded")

// Stage is the in-memory record of one stage. It lives only for the
// duration of the bootstrap.
type Stage struct {
	Name        string
	Predecessor *Stage
	State       StageState
	StartedAt   time.Time
	EndedAt     time.Time
}

// Wait marks a pending stage as queued behind its running predecessor.
func (s *Stage) Wait() {
	if s.State == StatePending {
		s.State = StateWaiting
	}
}

// Start moves the stage to Running. It refuses unless the predecessor, if
// any, has succeeded.
func (s *Stage) Start(now time.Time) error {
	if s.State != StatePending && s.State != StateWaiting {
		return fmt.Errorf("stage %s: cannot start from %s", s.Name, s.State)
	}
	if s.Predecessor != nil && s.Predecessor.State != StateSucceeded {
		return fmt.Errorf("stage %s: %w (%s is %s)", s.Name, ErrPredecessorNotSucceeded,
			s.Predecessor.Name, s.Predecessor.State)
	}
	s.State = StateRunning
	s.StartedAt = now
	return nil
}

// Finish records the terminal state. Only a running stage can finish.
func (s *Stage) Finish(err error, now time.Time) {
	if s.State != StateRunning {
		return
	}
	s.EndedAt = now
	if err != nil {
		s.State = StateFailed
	} else {
		s.State = StateSucceeded
	}
}

// Duration is the time spent running, or 0 before the stage finishes.
func (s *Stage) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
