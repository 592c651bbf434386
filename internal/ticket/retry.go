package ticket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
)

// RetryConfig — параметры повторов вызовов GitHub API.
type RetryConfig struct {
	// MaxRetries — максимальное число повторов (default: 3).
	MaxRetries int

	// InitialBackoff — первая задержка (default: 1s).
	InitialBackoff time.Duration

	// MaxBackoff — верхняя граница задержки (default: 30s).
	MaxBackoff time.Duration

	// BackoffMultiplier — множитель экспоненциальной задержки (default: 2).
	BackoffMultiplier float64
}

// DefaultRetryConfig возвращает параметры повторов по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults заполняет незаданные поля значениями по умолчанию.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// withRetry выполняет операцию с повторами при временных ошибках.
func withRetry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, op string, fn func() (*github.Response, error)) (*github.Response, error) {
	var (
		lastErr  error
		lastResp *github.Response
	)
	backoff := cfg.InitialBackoff
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := fn()
		if err == nil {
			if attempt > 0 {
				logger.Info("github operation recovered after retries",
					"op", op,
					"attempts", attempt,
					"total_time", time.Since(start),
				)
			}
			return resp, nil
		}

		lastErr = err
		lastResp = resp

		if !isRetryable(err, resp) {
			return resp, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		if isRateLimited(resp) {
			backoff = rateLimitBackoff(resp, cfg.MaxBackoff)
			logger.Info("github rate limit hit, backing off",
				"op", op,
				"attempt", attempt+1,
				"backoff", backoff,
			)
		} else {
			logger.Info("retrying github operation after transient error",
				"op", op,
				"attempt", attempt+1,
				"status_code", statusCode(resp),
				"backoff", backoff,
				"error", err,
			)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-timer.C:
		}
		backoff = min(time.Duration(float64(backoff)*cfg.BackoffMultiplier), cfg.MaxBackoff)
	}

	logger.Warn("github operation failed after all retries",
		"op", op,
		"total_attempts", cfg.MaxRetries+1,
		"total_time", time.Since(start),
		"status_code", statusCode(lastResp),
		"error", lastErr,
	)
	return lastResp, fmt.Errorf("%s failed after %d retries: %w", op, cfg.MaxRetries, lastErr)
}

// isRetryable проверяет, стоит ли повторять вызов.
func isRetryable(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}
	if resp == nil || resp.Response == nil {
		// сетевые ошибки и таймауты
		return true
	}

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return true
	case code == http.StatusForbidden:
		// вторичный rate limit приходит как 403 с заголовками лимита
		return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
	case code >= 500 && code < 600:
		return true
	default:
		return false
	}
}

// isRateLimited проверяет, что ответ — отказ по rate limit.
func isRateLimited(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
}

// rateLimitBackoff вычисляет задержку до сброса лимита (не больше maxBackoff).
func rateLimitBackoff(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp == nil || resp.Rate.Reset.Time.IsZero() {
		return maxBackoff
	}
	backoff := time.Until(resp.Rate.Reset.Time) + time.Second
	if backoff < time.Second {
		backoff = time.Second
	}
	return min(backoff, maxBackoff)
}

// statusCode безопасно извлекает HTTP-код из ответа.
func statusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	return 0
}
