package metergate

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrAdmissionRejected = errors.New("metergate: too many requests, please slow down")
	ErrUserBusy          = errors.New("metergate: too many running jobs for user")
	ErrDailyLimitReached = errors.New("metergate: daily token quota reached")
	ErrQueueTimeout      = errors.New("metergate: queue timeout: system busy, please retry")
	ErrSchedulerClosed   = errors.New("metergate: scheduler closed")
	ErrJobTimeout        = errors.New("metergate: job timed out")
	ErrEmptyChain        = errors.New("metergate: empty candidate chain")
	ErrAllProvidersBusy  = errors.New("metergate: all model providers are temporarily busy")
	ErrNoProvider        = errors.New("metergate: no adapter registered for provider")

	ErrRateLimited         = errors.New("metergate: rate limited by provider")
	ErrProviderUnavailable = errors.New("metergate: provider unavailable")
	ErrProviderTimeout     = errors.New("metergate: provider call timed out")

	ErrInvalidRequest = errors.New("metergate: invalid request")
	ErrAuthFailed     = errors.New("metergate: provider authentication failed")
	ErrContentBlocked = errors.New("metergate: blocked by safety filters")

	ErrInsufficientBalance = errors.New("metergate: insufficient balance")
	ErrUserNotFound        = errors.New("metergate: user not found")
)

// DispatchError wraps a dispatcher failure with routing context.
type DispatchError struct {
	Err      error
	Provider ProviderKey
	Model    string
	Attempts int
}

func (e *DispatchError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("metergate: attempts=%d: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("metergate: provider=%s model=%s attempts=%d: %v",
		e.Provider, e.Model, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// InsufficientBalanceError reports a conditional debit that was refused.
// Balance is the balance observed after the refusal; Required is the amount
// the debit asked for.
type InsufficientBalanceError struct {
	UserID   string
	Balance  int64
	Required int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("metergate: insufficient balance for user %s: balance=%d required=%d",
		e.UserID, e.Balance, e.Required)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// IsFatal returns true if the error must abort the candidate chain.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrContentBlocked)
}

// IsRetryable returns true if the error advances the candidate chain.
// Anything not tagged fatal is retryable, including untagged transport
// and decode failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsFatal(err)
}

// classifyContextErr maps an adapter error caused by an expired per-call
// deadline onto ErrProviderTimeout.
func classifyContextErr(callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		if errors.Is(err, ErrProviderTimeout) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	return err
}
