// Package breaker guards outbound carrier API calls with one circuit breaker
// per carrier. A tripped carrier fails fast without touching the upstream;
// other carriers are unaffected.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Config tunes the per-carrier breakers.
type Config struct {
	// Window is the failure-counting window while the circuit is closed.
	Window time.Duration
	// Cooldown is how long an open circuit waits before probing.
	Cooldown time.Duration
	// FailureThreshold is the failure count within Window that trips the
	// circuit.
	FailureThreshold uint32
	// MaxRequests is how many probe calls a half-open circuit lets through.
	MaxRequests uint32
}

// DefaultConfig trips after 5 failures within 30 seconds and probes with a
// single call after a 60 second cooldown.
func DefaultConfig() Config {
	return Config{
		Window:           30 * time.Second,
		Cooldown:         60 * time.Second,
		FailureThreshold: 5,
		MaxRequests:      1,
	}
}

// UnavailableError is returned instead of calling the upstream while a
// carrier's circuit is open.
type UnavailableError struct {
	Carrier string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("carrier %s is unavailable: circuit open", e.Carrier)
}

// Code is the stable error code of an UnavailableError.
func (e *UnavailableError) Code() string { return "CARRIER_UNAVAILABLE" }

// IsUnavailable reports whether |err| is a short-circuited carrier call.
func IsUnavailable(err error) bool {
	var e *UnavailableError
	return errors.As(err, &e)
}

// Set is the per-carrier breaker fleet. Breakers are created lazily on first
// use and live for the process lifetime.
type Set struct {
	config Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewSet returns a Set with |config|.
func NewSet(config Config) *Set {
	return &Set{
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Do runs |fn| under the carrier's breaker. While the circuit is open, or
// when a half-open probe slot is taken, Do returns UnavailableError without
// invoking |fn|. Any error from |fn| counts as a failure.
func (s *Set) Do(ctx context.Context, carrier string, fn func(context.Context) error) error {
	var _, err = s.breaker(carrier).Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		rejectionsCounter.WithLabelValues(carrier).Inc()
		return &UnavailableError{Carrier: carrier}
	}
	return err
}

// State returns the current circuit state of a carrier.
func (s *Set) State(carrier string) gobreaker.State {
	return s.breaker(carrier).State()
}

func (s *Set) breaker(carrier string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[carrier]; ok {
		return cb
	}
	var cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        carrier,
		MaxRequests: s.config.MaxRequests,
		Interval:    s.config.Window,
		Timeout:     s.config.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= s.config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			stateGauge.WithLabelValues(name).Set(float64(to))
			transitionsCounter.WithLabelValues(name, to.String()).Inc()
			log.WithFields(log.Fields{
				"carrier": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("carrier circuit state changed")
		},
	})
	s.breakers[carrier] = cb
	return cb
}
