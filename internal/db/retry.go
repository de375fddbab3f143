package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// RetryConfig holds configuration for retry behaviour
type RetryConfig struct {
	MaxAttempts     int           // Maximum number of attempts
	InitialInterval time.Duration // Initial retry interval
	MaxInterval     time.Duration // Maximum retry interval (cap for exponential backoff)
	Multiplier      float64       // Backoff multiplier (typically 2.0)
	Jitter          bool          // Add randomness to prevent thundering herd
}

// DefaultRetryConfig returns sensible defaults for database retries
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	}
}

// isRetryableError classifies errors from either driver. Bad data and
// unrecognised non-database errors are not retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var code string
	var pqErr *pq.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	case errors.As(err, &pgErr):
		code = pgErr.Code
	}
	if len(code) >= 2 {
		switch code[:2] {
		case "08", // Connection exceptions
			"40", // Transaction rollback (serialisation failure, deadlock)
			"53", // Insufficient resources
			"57", // Operator intervention
			"58": // System errors
			return true
		default:
			return false
		}
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	for _, connErr := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"too many clients",
	} {
		if strings.Contains(errMsg, connErr) {
			return true
		}
	}
	return false
}

// withRetry runs op until it succeeds, fails with a non-retryable error or
// runs out of attempts.
func withRetry(ctx context.Context, cfg RetryConfig, name string, op func(context.Context) error) error {
	var lastErr error
	backoff := cfg.InitialInterval
	startTime := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("operation", name).
					Int("attempts", attempt).
					Dur("elapsed", time.Since(startTime)).
					Msg("Database operation succeeded after retries")
			}
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		log.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("retry_in", backoff).
			Msg("Database operation failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s retry cancelled: %w", name, ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if backoff > cfg.MaxInterval {
			backoff = cfg.MaxInterval
		}
		if cfg.Jitter {
			jitter := time.Duration(float64(backoff) * 0.1 * (2.0*float64(time.Now().UnixNano()%100)/100.0 - 1.0))
			backoff += jitter
		}
	}

	log.Error().
		Err(lastErr).
		Str("operation", name).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Database operation failed after all retry attempts")

	return fmt.Errorf("%s failed after %d attempts: %w", name, cfg.MaxAttempts, lastErr)
}

// NewWithRetry opens a connection, retrying while the server is unavailable.
func NewWithRetry(ctx context.Context, config *Config, retry RetryConfig) (*DB, error) {
	var db *DB
	err := withRetry(ctx, retry, "connect", func(ctx context.Context) error {
		var err error
		db, err = New(ctx, config)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, nil
}
