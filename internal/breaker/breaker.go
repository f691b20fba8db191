// Package breaker wraps sony/gobreaker with logging and Prometheus metrics for
// calls to external collaborators.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/linnemanlabs/go-core/log"
)

// ErrOpen is returned when the breaker rejects a call without attempting it.
var ErrOpen = errors.New("circuit open")

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds breaker settings.
type Config struct {
	Name string
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts while closed.
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration
	// FailureThreshold is the consecutive-failure count that opens the breaker
	// before MinRequests have been seen.
	FailureThreshold uint32
	// FailureRatio opens the breaker once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns defaults suited to LLM calls, which are slow and
// rate-limited: a handful of failures opens the breaker for half a minute.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// Metrics holds the Prometheus collectors shared by all breakers.
type Metrics struct {
	State    *prometheus.GaugeVec
	Requests *prometheus.CounterVec
}

// NewMetrics registers and returns breaker metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "erpath_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erpath_breaker_requests_total",
			Help: "Calls through circuit breakers by outcome.",
		}, []string{"name", "outcome"}),
	}
	reg.MustRegister(m.State, m.Requests)
	return m
}

// Breaker guards calls to one collaborator.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	name    string
	logger  log.Logger
	metrics *Metrics
}

// New creates a breaker. logger and metrics may be nil.
func New(cfg Config, logger log.Logger, metrics *Metrics) *Breaker {
	if logger == nil {
		logger = log.Nop()
	}
	b := &Breaker{
		name:    cfg.Name,
		logger:  logger,
		metrics: metrics,
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn(context.Background(), "circuit breaker state changed",
				"breaker", name,
				"from", string(mapState(from)),
				"to", string(mapState(to)),
			)
			b.setStateGauge(to)
		},
		// a caller giving up is not a collaborator failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	b.setStateGauge(gobreaker.StateClosed)

	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current breaker state.
func (b *Breaker) State() State { return mapState(b.cb.State()) }

// Do runs fn through the breaker. Rejected calls return an error wrapping ErrOpen.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if b == nil {
		return fn(ctx)
	}

	out, err := b.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			b.count("rejected")
			return zero, fmt.Errorf("%w: %s: %w", ErrOpen, b.name, err)
		}
		b.count("failure")
		return zero, err
	}
	b.count("success")

	v, _ := out.(T)
	return v, nil
}

func (b *Breaker) count(outcome string) {
	if b.metrics == nil {
		return
	}
	b.metrics.Requests.WithLabelValues(b.name, outcome).Inc()
}

func (b *Breaker) setStateGauge(s gobreaker.State) {
	if b.metrics == nil {
		return
	}
	var v float64
	switch s {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	b.metrics.State.WithLabelValues(b.name).Set(v)
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
