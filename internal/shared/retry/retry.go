package retry

import (
	"context"
	"errors"
	"time"
)

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неповторяемую: WithRetry вернёт её
// сразу, без оставшихся попыток.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// WithRetry выполняет op с повторами и простым экспоненциальным
// бэкоффом (кап 5s), уважая отмену ctx.
func WithRetry(ctx context.Context, attempts int, sleep time.Duration, op func() error) error {
	var err error
	backoff := sleep
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
	return err
}
