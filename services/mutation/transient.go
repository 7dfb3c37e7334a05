package mutation

import (
	"context"
	"strings"
	"time"

	"github.com/glidemail/mailcore/interfaces"
)

// isTransient classifies a remote failure as retryable. Structured kinds are
// authoritative; the substring checks are a compatibility shim for errors
// that arrive untyped from a transport layer.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if kind, ok := interfaces.RemoteErrorKind(err); ok {
		return kind == interfaces.ErrorTransient
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(err.Error(), "Status=") ||
		strings.Contains(msg, "failed") ||
		strings.Contains(msg, "error")
}

func isNotFound(err error) bool {
	kind, ok := interfaces.RemoteErrorKind(err)
	return ok && kind == interfaces.ErrorNotFound
}

// withRetry runs op, retrying exactly once after retryDelay when the first
// attempt fails transiently. The second failure is returned as-is.
func withRetry(ctx context.Context, retryDelay time.Duration, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil || !isTransient(err) {
		return err
	}
	if sleepErr := sleepCtx(ctx, retryDelay); sleepErr != nil {
		return sleepErr
	}
	return op(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
