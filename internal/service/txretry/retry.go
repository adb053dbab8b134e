package txretry

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	// Retries: число повторов сверх первой попытки.
	Retries       int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию: первая попытка и два повтора.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Retries:       2,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}
}

// Runner повторяет транзакцию при конфликтах записи и неизвестных ошибках.
type Runner struct {
	tx     domain.TxManager
	config RetryConfig
	logger *log.Entry
}

// NewRunner создаёт Runner поверх TxManager.
func NewRunner(tx domain.TxManager, config RetryConfig, logger *log.Entry) *Runner {
	if logger == nil {
		logger = log.WithField("component", "tx-retry")
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}

	return &Runner{
		tx:     tx,
		config: config,
		logger: logger,
	}
}

// RunInTx выполняет fn в транзакции с повторами; возвращается ошибка последней попытки.
func (r *Runner) RunInTx(ctx context.Context, fn domain.TxFunc) error {
	return r.Do(ctx, "tx", func(ctx context.Context) error {
		return r.tx.RunInTx(ctx, fn)
	})
}

// Do выполняет операцию с повторами и логирует каждую неудачную попытку.
func (r *Runner) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := r.config.InitialDelay
	attempts := r.config.Retries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !ShouldRetry(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		r.logger.WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
		}).WithError(err).Warn("Operation failed, retrying")

		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		delay = time.Duration(float64(delay) * r.config.BackoffFactor)
		if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	r.logger.WithFields(log.Fields{
		"operation": operation,
		"attempts":  attempts,
	}).WithError(lastErr).Error("Operation failed after all retry attempts")
	return lastErr
}

// ShouldRetry определяет, стоит ли повторять операцию при данной ошибке.
// Повторяются только конфликты записи и ошибки неизвестного происхождения.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	switch domain.KindOf(err) {
	case domain.KindConflict, domain.KindUnknown:
		return !errors.Is(err, domain.ErrProductInUse)
	default:
		return false
	}
}

var _ domain.TxManager = (*Runner)(nil)
