// Package retry повторяет единицы работы (день резервного копирования,
// партию фида) с задержкой и складывает исчерпавшие попытки единицы в
// dead-letter очередь.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Типы отказов в DLQ
const (
	FailureExhausted    = "max_attempts_exceeded"
	FailureNonRetryable = "non_retryable"
)

// ErrExhausted - единица исчерпала попытки
var ErrExhausted = errors.New("retry: attempts exhausted")

// RetryableFunc - единица работы
type RetryableFunc func(ctx context.Context) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неповторяемую
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка как неповторяемая
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Option настраивает Retryer
type Option func(*Retryer)

// WithLogger задает логгер
func WithLogger(l zerolog.Logger) Option {
	return func(r *Retryer) { r.logger = l }
}

// WithNonRetryable добавляет классификаторы неповторяемых ошибок
// (например, ошибок конфигурации процесса)
func WithNonRetryable(fns ...func(error) bool) Option {
	return func(r *Retryer) { r.nonRetryable = append(r.nonRetryable, fns...) }
}

// Retryer выполняет единицы работы с повтором
type Retryer struct {
	config       Config
	dlq          *DLQ
	nonRetryable []func(error) bool
	logger       zerolog.Logger
}

// NewRetryer создает Retryer
func NewRetryer(config Config, opts ...Option) (*Retryer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}

	r := &Retryer{config: config, logger: log.Logger}
	for _, opt := range opts {
		opt(r)
	}

	if config.DLQ.Enabled {
		dlq, err := NewDLQ(config.DLQ)
		if err != nil {
			return nil, fmt.Errorf("failed to create DLQ: %w", err)
		}
		r.dlq = dlq
	}
	return r, nil
}

// Do выполняет единицу unit с повтором
func (r *Retryer) Do(ctx context.Context, unit string, fn RetryableFunc) error {
	return r.DoWithData(ctx, unit, fn, nil)
}

// DoWithData выполняет единицу с повтором; при отказе data попадает в DLQ
func (r *Retryer) DoWithData(ctx context.Context, unit string, fn RetryableFunc, data any) error {
	if r == nil || !r.config.Enabled {
		return fn(ctx)
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info().Str("unit", unit).Int("attempts", attempt).Msg("unit succeeded after retry")
			}
			r.resolve(unit)
			return nil
		}

		if !r.isRetryableError(err) {
			r.toDLQ(unit, attempt, err, FailureNonRetryable, data)
			return fmt.Errorf("retry: %s: non-retryable error: %w", unit, err)
		}
		if r.config.MaxAttempts > 0 && attempt >= r.config.MaxAttempts {
			r.toDLQ(unit, attempt, err, FailureExhausted, data)
			return fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, unit, attempt, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry: %s: context cancelled: %w", unit, ctx.Err())
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(unit, attempt, err, delay)
		}
		r.logger.Warn().Err(err).Str("unit", unit).Int("attempt", attempt).Dur("delay", delay).Msg("unit failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry: %s: context cancelled during retry: %w", unit, ctx.Err())
		}
	}
}

func (r *Retryer) toDLQ(unit string, attempts int, err error, failure string, data any) {
	if r.dlq == nil {
		return
	}
	if dlqErr := r.dlq.Add(DLQEntry{
		Unit:        unit,
		Timestamp:   time.Now().UTC(),
		Attempts:    attempts,
		LastError:   err.Error(),
		FailureType: failure,
		Data:        data,
	}); dlqErr != nil {
		r.logger.Error().Err(dlqErr).Str("unit", unit).Msg("failed to write DLQ entry")
	}
}

// resolve снимает записи DLQ единицы, прошедшей после прежнего отказа
func (r *Retryer) resolve(unit string) {
	if r.dlq == nil {
		return
	}
	n, err := r.dlq.Resolve(unit)
	if err != nil {
		r.logger.Warn().Err(err).Str("unit", unit).Msg("failed to resolve DLQ entries")
		return
	}
	if n > 0 {
		r.logger.Info().Str("unit", unit).Int("entries", n).Msg("DLQ entries resolved")
	}
}

// calculateDelay вычисляет задержку перед попыткой attempt+1
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	var delay time.Duration
	switch r.config.BackoffStrategy {
	case BackoffLinear:
		delay = r.config.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		multiplier := math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
		delay = time.Duration(float64(r.config.InitialDelay) * multiplier)
	default:
		delay = r.config.InitialDelay
	}

	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	if r.config.Jitter > 0 {
		delay += time.Duration(float64(delay) * r.config.Jitter * (rand.Float64()*2 - 1))
		if delay < 0 {
			delay = r.config.InitialDelay
		}
	}
	return delay
}

// isRetryableError: неповторяемые ошибки и отмена контекста не повторяются
func (r *Retryer) isRetryableError(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, fn := range r.nonRetryable {
		if fn(err) {
			return false
		}
	}
	if len(r.config.RetryableErrors) == 0 {
		return true
	}

	msg := err.Error()
	for _, pattern := range r.config.RetryableErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// GetDLQ возвращает DLQ (nil, если выключена)
func (r *Retryer) GetDLQ() *DLQ {
	if r == nil {
		return nil
	}
	return r.dlq
}

// Close сохраняет DLQ
func (r *Retryer) Close() error {
	if r == nil || r.dlq == nil {
		return nil
	}
	return r.dlq.Save()
}
