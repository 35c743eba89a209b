// Package clients holds the dependency checks behind the readiness
// endpoint. Each one is wrapped in a circuit breaker so a dead dependency
// answers fast instead of stalling every probe.
package clients

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// NewCircuitBreaker returns a breaker that trips after 3 consecutive
// failures and half-opens after 30 seconds.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return newCircuitBreaker(name, 30*time.Second)
}

func newCircuitBreaker(name string, openFor time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// execute runs fn through cb and rewrites the open-state error.
func execute(cb *gobreaker.CircuitBreaker, fn func() error) error {
	_, err := cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}
