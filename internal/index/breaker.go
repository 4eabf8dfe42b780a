package index

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// BreakerConfig configures the circuit breaker in front of a backend.
type BreakerConfig struct {
	Name string
	// MaxFailures consecutive failures open the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before a trial request.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial requests allowed while half-open.
	HalfOpenRequests uint32
	// Interval clears the counts while closed. Zero never clears.
	Interval time.Duration
}

// BreakerBackend fails searches fast while the index keeps failing, so a
// dead cluster costs one timeout rather than one per query. The hybrid and
// kNN queries have separate breakers: the kNN query is the fallback of the
// hybrid one and must stay usable while only the hybrid shape fails. Writes
// and stats go straight to the wrapped backend.
type BreakerBackend struct {
	Backend
	hybrid *gobreaker.CircuitBreaker
	vector *gobreaker.CircuitBreaker
}

// NewBreakerBackend wraps b with a circuit breaker per query shape.
func NewBreakerBackend(b Backend, cfg BreakerConfig) *BreakerBackend {
	if cfg.Name == "" {
		cfg.Name = "index"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 3
	}

	return &BreakerBackend{
		Backend: b,
		hybrid:  newBreaker(cfg.Name+"-hybrid", cfg),
		vector:  newBreaker(cfg.Name+"-vector", cfg),
	}
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}

// breakerSuccess reports whether err leaves the breaker closed. A cancelled
// caller says nothing about the index, and a rejected request (4xx) means
// the cluster answered.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	return amerrors.GetCode(err) == amerrors.ErrCodeServiceRejected
}

// Search runs the hybrid query through its breaker.
func (b *BreakerBackend) Search(ctx context.Context, q HybridQuery) ([]Hit, error) {
	return execute(b.hybrid, func() ([]Hit, error) { return b.Backend.Search(ctx, q) })
}

// SearchVector runs the kNN query through its breaker.
func (b *BreakerBackend) SearchVector(ctx context.Context, q VectorQuery) ([]Hit, error) {
	return execute(b.vector, func() ([]Hit, error) { return b.Backend.SearchVector(ctx, q) })
}

// State returns the breaker state name: closed, half-open or open. When the
// two query shapes disagree it reads "hybrid=<state> vector=<state>".
func (b *BreakerBackend) State() string {
	h, v := b.hybrid.State(), b.vector.State()
	if h == v {
		return h.String()
	}
	return "hybrid=" + h.String() + " vector=" + v.String()
}

func execute(cb *gobreaker.CircuitBreaker, fn func() ([]Hit, error)) ([]Hit, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, amerrors.New(amerrors.ErrCodeCircuitOpen, "index circuit breaker is open", err).
			WithDetail("breaker", cb.Name())
	}
	if err != nil {
		return nil, err
	}
	hits, _ := res.([]Hit)
	return hits, nil
}
