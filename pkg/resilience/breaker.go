// Package resilience размыкает цепь вызовов к зависимости (хранилищу, брокеру)
// после серии отказов и пропускает пробные вызовы по истечении тайм-аута.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen - цепь разомкнута, вызов не выполнялся
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State - состояние Circuit Breaker
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return fmt.Sprintf("unknown(%d)", s)
}

// CircuitBreaker считает отказы подряд и размыкает цепь.
// nil-значение пропускает все вызовы.
type CircuitBreaker struct {
	config Config
	logger zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// Option настраивает CircuitBreaker
type Option func(*CircuitBreaker)

// WithLogger задает логгер переходов состояния
func WithLogger(l zerolog.Logger) Option {
	return func(cb *CircuitBreaker) { cb.logger = l }
}

// New создает CircuitBreaker
func New(config Config, opts ...Option) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	cb := &CircuitBreaker{config: config, logger: log.Logger, now: time.Now}
	for _, opt := range opts {
		opt(cb)
	}
	return cb, nil
}

// Execute выполняет fn, если цепь не разомкнута, и учитывает результат.
// Ошибки, которые IsFailure не считает отказом, проходят как успех.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if cb == nil || !cb.config.Enabled {
		return fn(ctx)
	}

	generation, err := cb.before()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.after(generation, err == nil || !cb.isFailure(err))
	return err
}

func (cb *CircuitBreaker) isFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(err)
	}
	return true
}

func (cb *CircuitBreaker) before() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && !cb.now().Before(cb.expiry) {
		cb.setState(StateHalfOpen)
	}
	if cb.state == StateOpen {
		return cb.generation, fmt.Errorf("%w: %s", ErrCircuitOpen, cb.config.Name)
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) after(generation uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Результат вызова из прошлого поколения не учитывается
	if generation != cb.generation {
		return
	}

	cb.counts.Requests++
	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	switch cb.state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
	}
}

// setState меняет состояние и начинает новое поколение; вызывается под mu
func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.counts = Counts{}
	if to == StateOpen {
		cb.expiry = cb.now().Add(cb.config.Timeout)
	}

	ev := cb.logger.Info()
	if to == StateOpen {
		ev = cb.logger.Warn()
	}
	ev.Str("breaker", cb.config.Name).Stringer("from", from).Stringer("to", to).Msg("circuit breaker state changed")
}

// State возвращает текущее состояние; разомкнутая цепь с истекшим
// тайм-аутом сообщается как Half-Open
func (cb *CircuitBreaker) State() State {
	if cb == nil {
		return StateClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.now().Before(cb.expiry) {
		return StateHalfOpen
	}
	return cb.state
}

// Counts возвращает счетчики текущего поколения
func (cb *CircuitBreaker) Counts() Counts {
	if cb == nil {
		return Counts{}
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset замыкает цепь
func (cb *CircuitBreaker) Reset() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateClosed {
		cb.setState(StateClosed)
	}
}

// WaitUntilReady ждет, пока цепь не перестанет быть разомкнутой
func (cb *CircuitBreaker) WaitUntilReady(ctx context.Context) error {
	if cb == nil {
		return nil
	}
	for {
		cb.mu.Lock()
		wait := time.Duration(0)
		if cb.state == StateOpen {
			wait = cb.expiry.Sub(cb.now())
		}
		cb.mu.Unlock()
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
