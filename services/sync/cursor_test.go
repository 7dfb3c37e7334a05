package sync

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/models"
)

type fakeCursorState struct {
	key    string
	saves  []string
	resets int
}

func newTestCursor(state *fakeCursorState) *cursorController {
	return &cursorController{
		accountID: "acct-1",
		scope:     "notes",
		load: func(ctx context.Context) (string, error) {
			return state.key, nil
		},
		save: func(ctx context.Context, syncKey string) error {
			state.key = syncKey
			state.saves = append(state.saves, syncKey)
			return nil
		},
		reset: func(ctx context.Context) error {
			state.key = models.SyncKeyReset
			state.resets++
			return nil
		},
	}
}

func TestCursorAdvancesKeyOnSuccess(t *testing.T) {
	state := &fakeCursorState{key: "41"}
	c := newTestCursor(state)

	var attemptedWith []string
	err := c.run(context.Background(), func(ctx context.Context, syncKey string) (string, error) {
		attemptedWith = append(attemptedWith, syncKey)
		return "42", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"41"}, attemptedWith)
	assert.Equal(t, []string{"42"}, state.saves)
	assert.Equal(t, 0, state.resets)
}

func TestCursorResetsOnceOnConflict(t *testing.T) {
	state := &fakeCursorState{key: "41"}
	c := newTestCursor(state)

	var attemptedWith []string
	err := c.run(context.Background(), func(ctx context.Context, syncKey string) (string, error) {
		attemptedWith = append(attemptedWith, syncKey)
		if syncKey != models.SyncKeyReset {
			return "", interfaces.NewRemoteError(interfaces.ErrorConflict, "sync key rejected: Status=3")
		}
		return "1", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"41", models.SyncKeyReset}, attemptedWith)
	assert.Equal(t, 1, state.resets)
	assert.Equal(t, "1", state.key)
}

func TestCursorGivesUpAfterSecondConflict(t *testing.T) {
	state := &fakeCursorState{key: "41"}
	c := newTestCursor(state)

	attempts := 0
	err := c.run(context.Background(), func(ctx context.Context, syncKey string) (string, error) {
		attempts++
		return "", interfaces.NewRemoteError(interfaces.ErrorConflict, "sync key rejected: Status=3")
	}, nil)

	require.Error(t, err)
	kind, ok := interfaces.RemoteErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, interfaces.ErrorConflict, kind)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, state.resets)
}

func TestCursorResetsOnceOnTransientFailure(t *testing.T) {
	state := &fakeCursorState{key: "41"}
	c := newTestCursor(state)

	var attemptedWith []string
	err := c.run(context.Background(), func(ctx context.Context, syncKey string) (string, error) {
		attemptedWith = append(attemptedWith, syncKey)
		if syncKey != models.SyncKeyReset {
			return "", interfaces.NewRemoteError(interfaces.ErrorTransient, "server busy: Status=110")
		}
		return "1", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"41", models.SyncKeyReset}, attemptedWith)
	assert.Equal(t, 1, state.resets)
	assert.Equal(t, "1", state.key)
}

func TestCursorSurfacesFailureAtResetKey(t *testing.T) {
	state := &fakeCursorState{key: models.SyncKeyReset}
	c := newTestCursor(state)

	attempts := 0
	err := c.run(context.Background(), func(ctx context.Context, syncKey string) (string, error) {
		attempts++
		return "", interfaces.NewRemoteError(interfaces.ErrorTransient, "server busy: Status=110")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, state.resets)
}

func TestCursorDoesNotResetOnAuthErrors(t *testing.T) {
	state := &fakeCursorState{key: "41"}
	c := newTestCursor(state)

	attempts := 0
	err := c.run(context.Background(), func(ctx context.Context, syncKey string) (string, error) {
		attempts++
		return "", interfaces.NewRemoteError(interfaces.ErrorAuth, "credentials rejected: Status=129")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, state.resets)
	assert.Empty(t, state.saves)
}

func TestCursorDoesNotResetOnUntypedErrors(t *testing.T) {
	state := &fakeCursorState{key: "41"}
	c := newTestCursor(state)

	err := c.run(context.Background(), func(ctx context.Context, syncKey string) (string, error) {
		return "", errors.New("connection dropped")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 0, state.resets)
	assert.Empty(t, state.saves)
}

func TestCursorResetsOnUnusableReturnedKey(t *testing.T) {
	state := &fakeCursorState{key: "41"}
	c := newTestCursor(state)

	err := c.run(context.Background(), func(ctx context.Context, syncKey string) (string, error) {
		if syncKey != models.SyncKeyReset {
			return "", nil
		}
		return "7", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, state.resets)
	assert.Equal(t, "7", state.key)
}

func TestCursorFailsWhenKeyStaysUnusable(t *testing.T) {
	state := &fakeCursorState{key: "41"}
	c := newTestCursor(state)

	err := c.run(context.Background(), func(ctx context.Context, syncKey string) (string, error) {
		return models.SyncKeyReset, nil
	}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unusable key after reset")
	assert.Equal(t, 1, state.resets)
}

func TestCursorResetsOnFailedValidation(t *testing.T) {
	state := &fakeCursorState{key: "41"}
	c := newTestCursor(state)

	healthy := false
	err := c.run(context.Background(), func(ctx context.Context, syncKey string) (string, error) {
		if syncKey == models.SyncKeyReset {
			healthy = true
		}
		return "42", nil
	}, func(ctx context.Context) error {
		if !healthy {
			return errors.New("system folder INBOX missing")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, state.resets)
	// The key advanced twice, once per attempt.
	assert.Equal(t, []string{"42", "42"}, state.saves)
}

func TestCursorAcceptsValidationFailureAfterReset(t *testing.T) {
	state := &fakeCursorState{key: "41"}
	c := newTestCursor(state)

	validations := 0
	err := c.run(context.Background(), func(ctx context.Context, syncKey string) (string, error) {
		return "42", nil
	}, func(ctx context.Context) error {
		validations++
		return errors.New("system folder inbox missing")
	})

	// The reset did not cure the anomaly; the state is accepted as served.
	require.NoError(t, err)
	assert.Equal(t, 1, state.resets)
	assert.Equal(t, 2, validations)
}

func TestCursorSharesRetryBudgetAcrossTriggers(t *testing.T) {
	state := &fakeCursorState{key: "41"}
	c := newTestCursor(state)

	// First attempt conflicts, consuming the single retry; the validation
	// failure after the retry must not trigger another reset.
	attempts := 0
	err := c.run(context.Background(), func(ctx context.Context, syncKey string) (string, error) {
		attempts++
		if syncKey != models.SyncKeyReset {
			return "", interfaces.NewRemoteError(interfaces.ErrorConflict, "sync key rejected: Status=3")
		}
		return "1", nil
	}, func(ctx context.Context) error {
		return errors.New("system folder inbox missing")
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, state.resets)
}
