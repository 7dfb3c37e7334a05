package session

import (
	"context"
	"log"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/tracing"
)

// Cache holds one remote session per account and hands it out through
// scoped leases. A lease pins the session for the duration of a batch of
// operations and serializes all cursor-bearing calls for the account;
// interleaving two sessions against the same account corrupts the server's
// cursor state. Accounts are independent: leases for different accounts
// never block each other.
type Cache struct {
	factory  interfaces.SessionFactory
	accounts interfaces.AccountRepository

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	session interfaces.RemoteSession
}

// Lease is a scoped acquisition of an account's session. Callers must call
// Release on every exit path; Discard instead when the session misbehaved
// and the next acquire should reconnect.
type Lease struct {
	accountID string
	entry     *entry
	released  bool
}

func NewCache(factory interfaces.SessionFactory, accounts interfaces.AccountRepository) *Cache {
	return &Cache{
		factory:  factory,
		accounts: accounts,
		entries:  make(map[string]*entry),
	}
}

func (c *Cache) entryFor(accountID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[accountID]
	if !exists {
		e = &entry{}
		c.entries[accountID] = e
	}
	return e
}

// Acquire blocks until the account's serialization lock is free, then
// returns a lease over the cached session, opening a new one if needed.
func (c *Cache) Acquire(ctx context.Context, accountID string) (*Lease, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "session.Cache.Acquire")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var e *entry
	for {
		e = c.entryFor(accountID)
		e.mu.Lock()

		// The entry may have been invalidated while we waited for its lock.
		// Using the orphan would split the account across two sessions, so
		// start over on the live entry.
		c.mu.Lock()
		current := c.entries[accountID]
		c.mu.Unlock()
		if current == e {
			break
		}
		e.mu.Unlock()
	}

	if e.session == nil {
		account, err := c.accounts.GetByID(ctx, accountID)
		if err != nil {
			e.mu.Unlock()
			tracing.TraceErr(span, err)
			return nil, err
		}

		sess, err := c.factory.NewSession(ctx, account)
		if err != nil {
			e.mu.Unlock()
			tracing.TraceErr(span, err)
			return nil, errors.Wrap(err, "failed to open remote session")
		}
		e.session = sess
		log.Printf("[%s] Opened remote session", accountID)
	}

	return &Lease{accountID: accountID, entry: e}, nil
}

func (l *Lease) Session() interfaces.RemoteSession {
	return l.entry.session
}

// Release returns the lease, keeping the session cached for the next caller.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	l.entry.mu.Unlock()
}

// Discard closes the session and returns the lease; the next Acquire for
// the account reconnects from scratch.
func (l *Lease) Discard() {
	if l.released {
		return
	}
	l.released = true

	if l.entry.session != nil {
		if err := l.entry.session.Close(); err != nil {
			log.Printf("[%s] Error closing remote session: %v", l.accountID, err)
		}
		l.entry.session = nil
	}
	l.entry.mu.Unlock()
}

// Invalidate drops the cached session for an account. Required whenever
// credentials, the TLS pin, or the protocol policy token change: a session
// built from stale configuration is a correctness bug, not a performance
// one.
func (c *Cache) Invalidate(accountID string) {
	c.mu.Lock()
	e, exists := c.entries[accountID]
	if exists {
		delete(c.entries, accountID)
	}
	c.mu.Unlock()

	if !exists {
		return
	}

	// Wait for any in-flight lease to finish before closing.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		if err := e.session.Close(); err != nil {
			log.Printf("[%s] Error closing invalidated session: %v", accountID, err)
		}
		e.session = nil
	}
	log.Printf("[%s] Invalidated remote session", accountID)
}

// Shutdown closes every cached session.
func (c *Cache) Shutdown() {
	c.mu.Lock()
	entries := make(map[string]*entry, len(c.entries))
	for id, e := range c.entries {
		entries[id] = e
		delete(c.entries, id)
	}
	c.mu.Unlock()

	for id, e := range entries {
		e.mu.Lock()
		if e.session != nil {
			if err := e.session.Close(); err != nil {
				log.Printf("[%s] Error closing session during shutdown: %v", id, err)
			}
			e.session = nil
		}
		e.mu.Unlock()
	}
}
