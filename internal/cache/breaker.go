package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrCircuitOpen возвращается, пока breaker не пропускает обращения к кэшу.
var ErrCircuitOpen = errors.New("cache circuit breaker is open")

// CircuitState: состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker: простая реализация circuit breaker паттерна.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration

	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
	now         func() time.Time
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "cache-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 1
	}

	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
		logger:       logger,
		now:          time.Now,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("Circuit breaker half-open")
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()

		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).WithError(err).Warn("Circuit breaker opened")
		}
		return err
	}

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("Circuit breaker closed")
	}
	cb.failures = 0
	return nil
}

// Guarded пропускает чтение и запись кэша через breaker, чтобы недоступный Redis
// не добавлял таймаут к каждому запросу. Инвалидации выполняются всегда.
type Guarded struct {
	next    Cache
	breaker *CircuitBreaker
}

// NewGuarded оборачивает кэш circuit breaker'ом.
func NewGuarded(next Cache, breaker *CircuitBreaker) *Guarded {
	return &Guarded{next: next, breaker: breaker}
}

func (g *Guarded) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		hit   bool
	)
	err := g.breaker.Execute("get", func() error {
		var err error
		value, hit, err = g.next.Get(ctx, key)
		return err
	})
	return value, hit, err
}

func (g *Guarded) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.breaker.Execute("set", func() error {
		return g.next.Set(ctx, key, value, ttl)
	})
}

func (g *Guarded) Invalidate(ctx context.Context, key string) error {
	return g.next.Invalidate(ctx, key)
}

func (g *Guarded) InvalidatePrefix(ctx context.Context, prefix string) error {
	return g.next.InvalidatePrefix(ctx, prefix)
}

func (g *Guarded) InvalidateAll(ctx context.Context) error {
	return g.next.InvalidateAll(ctx)
}

var _ Cache = (*Guarded)(nil)
