package helpers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"market-gateway/src/logger"

	"github.com/cenkalti/backoff/v4"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type GatewayError struct {
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Distinct error types for errors.As checks.
type ConfigurationError struct{ GatewayError }
type ValidationError struct{ GatewayError }
type UpstreamUnavailableError struct{ GatewayError }
type TransientIOError struct{ GatewayError }
type DatabaseError struct{ GatewayError }

// AuthExpiredError reports an upstream rejection of the current credential.
type AuthExpiredError struct{ GatewayError }

// Is lets errors.Is(err, ErrAuthExpired) match any AuthExpiredError.
func (e *AuthExpiredError) Is(target error) bool {
	return target == ErrAuthExpired
}

// ErrAuthExpired is the sentinel matched by every AuthExpiredError.
var ErrAuthExpired = errors.New("upstream credential expired or rejected")

// -----------------------------------------------------------------------------

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{GatewayError{Message: fmt.Sprintf(format, args...)}}
}

func NewAuthExpired(message string, cause error) error {
	return &AuthExpiredError{GatewayError{Message: message, Cause: cause}}
}

func NewTransientIO(message string, cause error) error {
	return &TransientIOError{GatewayError{Message: message, Cause: cause}}
}

func NewUpstreamUnavailable(message string, cause error) error {
	return &UpstreamUnavailableError{GatewayError{Message: message, Cause: cause}}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsAuthExpired reports whether err is (or wraps) an AuthExpiredError.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn up to maxRetries times with exponential backoff.
// It stops early on context cancellation or an AuthExpired error.
func RetryWithBackoff(ctx context.Context, operation string, maxRetries int, baseDelay time.Duration, log *logger.Logger, fn func() error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = baseDelay
	exp.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if IsAuthExpired(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxRetries-1)), ctx), func(err error, delay time.Duration) {
		if log != nil {
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt, maxRetries, operation, err, delay)
		}
	})
}

// -----------------------------------------------------------------------------
// Error Handler
// -----------------------------------------------------------------------------

// ErrorHandler logs failures of background work and keeps a running count.
type ErrorHandler struct {
	Logger     *logger.Logger
	errorCount atomic.Int64
}

func NewErrorHandler(l *logger.Logger) *ErrorHandler {
	return &ErrorHandler{Logger: l}
}

// -----------------------------------------------------------------------------

func (e *ErrorHandler) ErrorCount() int64 {
	return e.errorCount.Load()
}

// -----------------------------------------------------------------------------

func (e *ErrorHandler) ResetErrorCount() {
	e.errorCount.Store(0)
}

// -----------------------------------------------------------------------------

// Handle logs err at a severity chosen from its type.
func (e *ErrorHandler) Handle(err error, context string) {
	if err == nil {
		return
	}
	e.errorCount.Add(1)

	var transient *TransientIOError
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		e.Logger.Info("Rejected in %s: %v", context, err)
	case errors.As(err, &transient):
		e.Logger.Warning("Transient failure in %s: %v", context, err)
	case IsAuthExpired(err):
		e.Logger.Warning("Credential rejected in %s: %v", context, err)
	default:
		e.Logger.Error("Error in %s: %v", context, err)
	}
}
