package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/models"
)

type stubSession struct {
	interfaces.RemoteSession
	id     int
	closed bool
}

func (s *stubSession) Close() error {
	s.closed = true
	return nil
}

type stubFactory struct {
	created []*stubSession
	dialErr error
}

func (f *stubFactory) NewSession(ctx context.Context, account *models.Account) (interfaces.RemoteSession, error) {
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	s := &stubSession{id: len(f.created) + 1}
	f.created = append(f.created, s)
	return s, nil
}

type stubAccounts struct {
	interfaces.AccountRepository
}

func (stubAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return &models.Account{ID: id, Email: id + "@example.com"}, nil
}

func TestCacheReusesSessionAcrossLeases(t *testing.T) {
	factory := &stubFactory{}
	cache := NewCache(factory, stubAccounts{})

	lease, err := cache.Acquire(context.Background(), "acct-1")
	require.NoError(t, err)
	first := lease.Session()
	lease.Release()

	lease, err = cache.Acquire(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Same(t, first, lease.Session())
	lease.Release()

	assert.Len(t, factory.created, 1)
}

func TestCacheDiscardForcesReconnect(t *testing.T) {
	factory := &stubFactory{}
	cache := NewCache(factory, stubAccounts{})

	lease, err := cache.Acquire(context.Background(), "acct-1")
	require.NoError(t, err)
	lease.Discard()

	lease, err = cache.Acquire(context.Background(), "acct-1")
	require.NoError(t, err)
	lease.Release()

	require.Len(t, factory.created, 2)
	assert.True(t, factory.created[0].closed)
	assert.False(t, factory.created[1].closed)
}

func TestCacheInvalidateClosesSession(t *testing.T) {
	factory := &stubFactory{}
	cache := NewCache(factory, stubAccounts{})

	lease, err := cache.Acquire(context.Background(), "acct-1")
	require.NoError(t, err)
	lease.Release()

	cache.Invalidate("acct-1")
	require.Len(t, factory.created, 1)
	assert.True(t, factory.created[0].closed)

	// The next acquire reconnects.
	lease, err = cache.Acquire(context.Background(), "acct-1")
	require.NoError(t, err)
	lease.Release()
	assert.Len(t, factory.created, 2)
}

func TestCacheSerializesLeasesPerAccount(t *testing.T) {
	factory := &stubFactory{}
	cache := NewCache(factory, stubAccounts{})

	lease, err := cache.Acquire(context.Background(), "acct-1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := cache.Acquire(context.Background(), "acct-1")
		if err == nil {
			second.Release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lease acquired while the first was still held")
	case <-time.After(50 * time.Millisecond):
	}

	lease.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lease never acquired after release")
	}
}

func TestCacheAccountsAreIndependent(t *testing.T) {
	factory := &stubFactory{}
	cache := NewCache(factory, stubAccounts{})

	lease1, err := cache.Acquire(context.Background(), "acct-1")
	require.NoError(t, err)
	defer lease1.Release()

	done := make(chan struct{})
	go func() {
		lease2, err := cache.Acquire(context.Background(), "acct-2")
		if err == nil {
			lease2.Release()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lease for a different account blocked")
	}
}

func TestCacheAcquireRacingInvalidateGetsFreshSession(t *testing.T) {
	factory := &stubFactory{}
	cache := NewCache(factory, stubAccounts{})

	lease1, err := cache.Acquire(context.Background(), "acct-1")
	require.NoError(t, err)

	leases := make(chan *Lease, 1)
	go func() {
		l, err := cache.Acquire(context.Background(), "acct-1")
		if err == nil {
			leases <- l
		}
	}()
	// Park the second acquire on the entry lock, then invalidate the entry
	// underneath it.
	time.Sleep(20 * time.Millisecond)

	invalidated := make(chan struct{})
	go func() {
		cache.Invalidate("acct-1")
		close(invalidated)
	}()
	time.Sleep(20 * time.Millisecond)

	lease1.Release()

	select {
	case l := <-leases:
		// The waiter must not revive the invalidated entry's session.
		assert.NotSame(t, factory.created[0], l.Session())
		l.Release()
	case <-time.After(time.Second):
		t.Fatal("second lease never acquired")
	}
	select {
	case <-invalidated:
	case <-time.After(time.Second):
		t.Fatal("invalidate never finished")
	}

	require.Len(t, factory.created, 2)
	assert.True(t, factory.created[0].closed)
	assert.False(t, factory.created[1].closed)
}

func TestCacheShutdownClosesEverySession(t *testing.T) {
	factory := &stubFactory{}
	cache := NewCache(factory, stubAccounts{})

	for _, id := range []string{"acct-1", "acct-2"} {
		lease, err := cache.Acquire(context.Background(), id)
		require.NoError(t, err)
		lease.Release()
	}

	cache.Shutdown()

	require.Len(t, factory.created, 2)
	for _, s := range factory.created {
		assert.True(t, s.closed)
	}
}
