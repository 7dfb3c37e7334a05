package mutation

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glidemail/mailcore/interfaces"
)

func TestIsTransientClassifiesStructuredKinds(t *testing.T) {
	assert.True(t, isTransient(interfaces.NewRemoteError(interfaces.ErrorTransient, "server busy: Status=110")))
	assert.False(t, isTransient(interfaces.NewRemoteError(interfaces.ErrorFatal, "sync failed: Status=4")))
	assert.False(t, isTransient(interfaces.NewRemoteError(interfaces.ErrorNotFound, "item not found: Status=6")))
	assert.False(t, isTransient(interfaces.NewRemoteError(interfaces.ErrorAuth, "access denied: Status=129")))
	assert.False(t, isTransient(nil))
}

func TestIsTransientStructuredKindWinsOverMessage(t *testing.T) {
	// The message matches the substring shim, but the structured kind says
	// the error is permanent.
	err := interfaces.NewRemoteError(interfaces.ErrorFatal, "request failed with error Status=500")
	assert.False(t, isTransient(err))
}

func TestIsTransientShimForUntypedErrors(t *testing.T) {
	assert.True(t, isTransient(errors.New("unexpected response: Status=502")))
	assert.True(t, isTransient(errors.New("request failed: connection reset")))
	assert.True(t, isTransient(errors.New("temporary I/O error")))
	assert.False(t, isTransient(errors.New("mailbox quota exceeded")))
}

func TestIsTransientWalksWrappedChain(t *testing.T) {
	err := errors.Wrap(interfaces.NewRemoteError(interfaces.ErrorTransient, "server busy: Status=110"), "delete event")
	assert.True(t, isTransient(err))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(interfaces.NewRemoteError(interfaces.ErrorNotFound, "item not found: Status=6")))
	assert.False(t, isNotFound(interfaces.NewRemoteError(interfaces.ErrorTransient, "server busy")))
	assert.False(t, isNotFound(errors.New("not found")))
}

func TestWithRetryRetriesOnceOnTransient(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 0, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return interfaces.NewRemoteError(interfaces.ErrorTransient, "server busy: Status=110")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWithRetryGivesUpAfterSecondFailure(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 0, func(ctx context.Context) error {
		attempts++
		return interfaces.NewRemoteError(interfaces.ErrorTransient, "server busy: Status=110")
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWithRetryDoesNotRetryPermanentErrors(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 0, func(ctx context.Context) error {
		attempts++
		return interfaces.NewRemoteError(interfaces.ErrorFatal, "sync failed: Status=4")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
