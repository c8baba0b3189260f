// Package circuit wraps sony/gobreaker for outbound calls whose failure must
// not stall the caller, such as alert fan-out.
package circuit

import (
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrOpen is returned without calling through while the circuit is open or
// while half-open probes are exhausted.
var ErrOpen = errors.New("circuit open")

type settings struct {
	failureThreshold uint32
	halfOpenProbes   uint32
	openTimeout      time.Duration
	logger           *slog.Logger
}

// Option configures a Breaker instance.
type Option func(*settings)

// WithFailureThreshold sets the number of consecutive failures to open the circuit.
// Default is 5.
func WithFailureThreshold(n uint32) Option {
	return func(s *settings) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// WithHalfOpenProbes sets how many trial calls are admitted while half-open.
// Default is 3.
func WithHalfOpenProbes(n uint32) Option {
	return func(s *settings) {
		if n > 0 {
			s.halfOpenProbes = n
		}
	}
}

// WithOpenTimeout sets how long the circuit stays open before probing. Default is 30s.
func WithOpenTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.openTimeout = d
		}
	}
}

// WithLogger logs state transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

type Breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// New creates a circuit breaker with the given name and options.
func New(name string, opts ...Option) *Breaker {
	cfg := settings{
		failureThreshold: 5,
		halfOpenProbes:   3,
		openTimeout:      30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.halfOpenProbes,
		Timeout:     cfg.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.failureThreshold
		},
	}
	if cfg.logger != nil {
		logger := cfg.logger
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn("circuit_state_changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		}
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker[struct{}](st)}
}

// Name returns the circuit breaker's name for logging/metrics.
func (b *Breaker) Name() string {
	return b.cb.Name()
}

// Call runs fn through the breaker.
func (b *Breaker) Call(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// IsOpen returns true if the circuit is open (tripped).
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// State returns the current state name: closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
