package dto

import (
	"github.com/glidemail/mailcore/internal/enum"
)

// Event is the envelope every published message travels in.
type Event struct {
	Event    EventDetails  `json:"event"`
	Metadata EventMetadata `json:"metadata"`
}

type EventDetails struct {
	Id        string      `json:"id"`
	AccountId string      `json:"accountId"`
	EventType string      `json:"eventType"`
	Data      interface{} `json:"data"`
}

type EventMetadata struct {
	UberTraceId string `json:"uberTraceId"`
	Timestamp   string `json:"timestamp"`
}

// SyncCompleted is emitted after a sync scope finishes a successful round.
type SyncCompleted struct {
	AccountId string `json:"accountId"`
	Scope     string `json:"scope"`
}

// EntityChanged is emitted when mutations or reconciliation changed local
// rows, so attached clients can refresh without polling.
type EntityChanged struct {
	AccountId string          `json:"accountId"`
	Kind      enum.EntityKind `json:"kind"`
	ServerIds []string        `json:"serverIds"`
}
