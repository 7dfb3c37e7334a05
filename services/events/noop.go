package events

import (
	"context"

	"github.com/glidemail/mailcore/internal/enum"
)

// NoopPublisher stands in when no broker is configured. Sync and mutations
// proceed normally; nothing is emitted.
type NoopPublisher struct{}

func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (p *NoopPublisher) PublishSyncCompleted(ctx context.Context, accountID, scope string) {}

func (p *NoopPublisher) PublishEntityChanged(ctx context.Context, accountID string, kind enum.EntityKind, serverIDs []string) {
}

func (p *NoopPublisher) Close() error {
	return nil
}
