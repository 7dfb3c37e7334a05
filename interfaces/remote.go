package interfaces

import (
	"context"
	"time"

	"github.com/glidemail/mailcore/internal/enum"
)

// ErrorKind classifies remote session failures so callers never have to
// pattern-match error text. The legacy substring matching survives only as
// a compatibility shim for errors that arrive untyped from a transport.
type ErrorKind string

const (
	// ErrorTransient is expected to succeed on retry without caller intervention.
	ErrorTransient ErrorKind = "transient"
	// ErrorFatal will not succeed on retry.
	ErrorFatal ErrorKind = "fatal"
	// ErrorNotFound means the target no longer exists server-side. Deletes
	// treat this as success.
	ErrorNotFound ErrorKind = "not_found"
	// ErrorAuth covers credential and configuration failures, surfaced
	// immediately and never retried.
	ErrorAuth ErrorKind = "auth"
	// ErrorConflict signals a desynchronized sync cursor; recovery is the
	// cursor controller's reset-and-retry-once policy.
	ErrorConflict ErrorKind = "conflict"
	// ErrorUnconfirmed is a response without an explicit success indicator,
	// treated as failure to avoid false-positive local state changes.
	ErrorUnconfirmed ErrorKind = "unconfirmed"
)

type RemoteError struct {
	Kind    ErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func NewRemoteError(kind ErrorKind, message string) *RemoteError {
	return &RemoteError{Kind: kind, Message: message}
}

// RemoteErrorKind extracts the structured kind from an error chain, returning
// false when the error did not originate from a remote session.
func RemoteErrorKind(err error) (ErrorKind, bool) {
	for err != nil {
		if re, ok := err.(*RemoteError); ok {
			return re.Kind, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = unwrapper.Unwrap()
	}
	return "", false
}

type RemoteFolder struct {
	ServerID string
	ParentID string
	Name     string
	Type     enum.FolderType
}

type RemoteMessage struct {
	ServerID    string
	Subject     string
	FromAddress string
	FromName    string
	ToAddresses []string
	CcAddresses []string
	SentAt      *time.Time
	Read        bool
	Flagged     bool
	BodyPreview string
	BodyText    string
}

type RemoteEvent struct {
	ServerID    string
	Subject     string
	Location    string
	Body        string
	StartsAt    time.Time
	EndsAt      time.Time
	AllDay      bool
	Attendees   []string
	SoftDeleted bool
}

type RemoteNote struct {
	ServerID    string
	Subject     string
	Body        string
	SoftDeleted bool
}

// FullState marks a result that carries the server's complete item set for
// the scope rather than a delta. Responses to a reset cursor are full state;
// protocols without change cursors report full state on every round.
type FolderSyncResult struct {
	SyncKey    string
	FullState  bool
	Folders    []RemoteFolder
	DeletedIDs []string
}

type MessageSyncResult struct {
	SyncKey    string
	FullState  bool
	Messages   []RemoteMessage
	DeletedIDs []string
}

type CalendarSyncResult struct {
	SyncKey    string
	FullState  bool
	Events     []RemoteEvent
	DeletedIDs []string
}

type NoteSyncResult struct {
	SyncKey    string
	FullState  bool
	Notes      []RemoteNote
	DeletedIDs []string
}

type EventParams struct {
	Subject   string
	Location  string
	Body      string
	StartsAt  time.Time
	EndsAt    time.Time
	AllDay    bool
	Attendees []string
}

type NoteParams struct {
	Subject string
	Body    string
}

// RemoteSession is one authenticated connection to a mailbox server. A
// session owns protocol-level state (connection pool, policy token) and must
// not be shared across accounts; cursor-bearing calls for one account must
// go through a single session, serialized.
type RemoteSession interface {
	// Probe verifies connectivity and credentials without mutating state.
	Probe(ctx context.Context) error

	FolderSync(ctx context.Context, syncKey string) (*FolderSyncResult, error)
	MessageSync(ctx context.Context, folderServerID, syncKey string) (*MessageSyncResult, error)
	CalendarSync(ctx context.Context, syncKey string) (*CalendarSyncResult, error)
	NoteSync(ctx context.Context, syncKey string) (*NoteSyncResult, error)

	CreateEvent(ctx context.Context, params EventParams) (string, error)
	UpdateEvent(ctx context.Context, serverID string, params EventParams) (string, error)
	DeleteEvent(ctx context.Context, serverID string) error
	RestoreEvent(ctx context.Context, serverID string) (string, error)
	PurgeEvent(ctx context.Context, serverID string) error

	CreateNote(ctx context.Context, params NoteParams) (string, error)
	UpdateNote(ctx context.Context, serverID string, params NoteParams) (string, error)
	DeleteNote(ctx context.Context, serverID string) error
	RestoreNote(ctx context.Context, serverID string) (string, error)
	PurgeNote(ctx context.Context, serverID string) error

	DeleteMessage(ctx context.Context, folderServerID, serverID string) error
	RestoreMessage(ctx context.Context, serverID string) (string, error)
	PurgeMessage(ctx context.Context, serverID string) error

	Close() error
}
