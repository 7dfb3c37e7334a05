package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/utils"
)

const (
	imapDialTimeout = 30 * time.Second
	imapOpTimeout   = 30 * time.Second

	// imapFetchWindow bounds how many recent messages a folder sync pulls.
	imapFetchWindow = 200
)

// imapSession adapts an IMAP connection to the session contract. IMAP has no
// change cursor, so every sync reports full state under a synthetic key.
// Calendar and note scopes are not part of the protocol.
type imapSession struct {
	account *models.Account
	c       *client.Client
}

func newIMAPSession(ctx context.Context, account *models.Account, creds interfaces.Credentials) (interfaces.RemoteSession, error) {
	serverAddr := fmt.Sprintf("%s:%d", account.ServerHost, account.ServerPort)
	dialer := &net.Dialer{
		Timeout:   imapDialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error
	if account.ServerTLS {
		tlsConfig := &tls.Config{ServerName: account.ServerHost}
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}
	if err != nil {
		return nil, interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("failed to connect to %s: %v", serverAddr, err))
	}

	c.Timeout = imapOpTimeout
	if err := c.Login(creds.Username, creds.Password); err != nil {
		c.Logout()
		return nil, interfaces.NewRemoteError(interfaces.ErrorAuth, fmt.Sprintf("failed to login as %s: %v", creds.Username, err))
	}
	c.Timeout = 0

	log.Printf("[%s] Connected and logged in to %s", account.ID, serverAddr)
	return &imapSession{account: account, c: c}, nil
}

func (s *imapSession) Probe(ctx context.Context) error {
	s.c.Timeout = imapOpTimeout
	defer func() { s.c.Timeout = 0 }()
	if err := s.c.Noop(); err != nil {
		return interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("noop failed: %v", err))
	}
	return nil
}

// syntheticKey advances the cursor for scopes the protocol has no real
// cursor for. Monotonic so it never collides with the reset value.
func syntheticKey() string {
	return strconv.FormatInt(utils.Now().UnixNano(), 10)
}

func (s *imapSession) FolderSync(ctx context.Context, syncKey string) (*interfaces.FolderSyncResult, error) {
	mailboxes := make(chan *imap.MailboxInfo, 20)
	done := make(chan error, 1)
	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()

	result := &interfaces.FolderSyncResult{
		SyncKey:   syntheticKey(),
		FullState: true,
	}
	for m := range mailboxes {
		result.Folders = append(result.Folders, interfaces.RemoteFolder{
			ServerID: m.Name,
			Name:     folderDisplayName(m.Name, m.Delimiter),
			ParentID: folderParent(m.Name, m.Delimiter),
			Type:     imapFolderType(m),
		})
	}
	if err := <-done; err != nil {
		return nil, interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("list failed: %v", err))
	}
	return result, nil
}

func folderDisplayName(name, delimiter string) string {
	if delimiter == "" {
		return name
	}
	parts := strings.Split(name, delimiter)
	return parts[len(parts)-1]
}

func folderParent(name, delimiter string) string {
	if delimiter == "" {
		return ""
	}
	idx := strings.LastIndex(name, delimiter)
	if idx < 0 {
		return ""
	}
	return name[:idx]
}

func imapFolderType(m *imap.MailboxInfo) enum.FolderType {
	for _, attr := range m.Attributes {
		switch attr {
		case "\\Sent":
			return enum.FolderSent
		case "\\Drafts":
			return enum.FolderDrafts
		case "\\Trash":
			return enum.FolderTrash
		case "\\Junk":
			return enum.FolderSpam
		}
	}

	switch strings.ToUpper(m.Name) {
	case "INBOX":
		return enum.FolderInbox
	case "SENT", "SENT ITEMS":
		return enum.FolderSent
	case "DRAFTS":
		return enum.FolderDrafts
	case "TRASH", "DELETED ITEMS":
		return enum.FolderTrash
	case "SPAM", "JUNK":
		return enum.FolderSpam
	}
	return enum.FolderUser
}

func (s *imapSession) MessageSync(ctx context.Context, folderServerID, syncKey string) (*interfaces.MessageSyncResult, error) {
	s.c.Timeout = imapOpTimeout
	mbox, err := s.c.Select(folderServerID, true)
	s.c.Timeout = 0
	if err != nil {
		return nil, interfaces.NewRemoteError(interfaces.ErrorNotFound, fmt.Sprintf("failed to select %s: %v", folderServerID, err))
	}

	result := &interfaces.MessageSyncResult{
		SyncKey:   syntheticKey(),
		FullState: true,
	}
	if mbox.Messages == 0 {
		return result, nil
	}

	from := uint32(1)
	if mbox.Messages > imapFetchWindow {
		from = mbox.Messages - imapFetchWindow + 1
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, mbox.Messages)

	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
	}
	messages := make(chan *imap.Message, 50)
	done := make(chan error, 1)
	go func() {
		done <- s.c.Fetch(seqSet, items, messages)
	}()

	for msg := range messages {
		result.Messages = append(result.Messages, imapToRemoteMessage(msg))
	}
	if err := <-done; err != nil {
		return nil, interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("fetch failed: %v", err))
	}
	return result, nil
}

func imapToRemoteMessage(msg *imap.Message) interfaces.RemoteMessage {
	rm := interfaces.RemoteMessage{
		ServerID: strconv.FormatUint(uint64(msg.Uid), 10),
	}

	for _, flag := range msg.Flags {
		switch flag {
		case imap.SeenFlag:
			rm.Read = true
		case imap.FlaggedFlag:
			rm.Flagged = true
		}
	}

	env := msg.Envelope
	if env == nil {
		return rm
	}
	rm.Subject = env.Subject
	if !env.Date.IsZero() {
		sentAt := env.Date.UTC()
		rm.SentAt = &sentAt
	}
	if len(env.From) > 0 {
		rm.FromAddress = env.From[0].Address()
		rm.FromName = env.From[0].PersonalName
	}
	for _, addr := range env.To {
		rm.ToAddresses = append(rm.ToAddresses, addr.Address())
	}
	for _, addr := range env.Cc {
		rm.CcAddresses = append(rm.CcAddresses, addr.Address())
	}
	return rm
}

func (s *imapSession) CalendarSync(ctx context.Context, syncKey string) (*interfaces.CalendarSyncResult, error) {
	return nil, interfaces.NewRemoteError(interfaces.ErrorFatal, "calendar sync not supported over imap")
}

func (s *imapSession) NoteSync(ctx context.Context, syncKey string) (*interfaces.NoteSyncResult, error) {
	return nil, interfaces.NewRemoteError(interfaces.ErrorFatal, "note sync not supported over imap")
}

func (s *imapSession) CreateEvent(ctx context.Context, params interfaces.EventParams) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "calendar mutations not supported over imap")
}

func (s *imapSession) UpdateEvent(ctx context.Context, serverID string, params interfaces.EventParams) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "calendar mutations not supported over imap")
}

func (s *imapSession) DeleteEvent(ctx context.Context, serverID string) error {
	return interfaces.NewRemoteError(interfaces.ErrorFatal, "calendar mutations not supported over imap")
}

func (s *imapSession) RestoreEvent(ctx context.Context, serverID string) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "calendar mutations not supported over imap")
}

func (s *imapSession) PurgeEvent(ctx context.Context, serverID string) error {
	return interfaces.NewRemoteError(interfaces.ErrorFatal, "calendar mutations not supported over imap")
}

func (s *imapSession) CreateNote(ctx context.Context, params interfaces.NoteParams) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "note mutations not supported over imap")
}

func (s *imapSession) UpdateNote(ctx context.Context, serverID string, params interfaces.NoteParams) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "note mutations not supported over imap")
}

func (s *imapSession) DeleteNote(ctx context.Context, serverID string) error {
	return interfaces.NewRemoteError(interfaces.ErrorFatal, "note mutations not supported over imap")
}

func (s *imapSession) RestoreNote(ctx context.Context, serverID string) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "note mutations not supported over imap")
}

func (s *imapSession) PurgeNote(ctx context.Context, serverID string) error {
	return interfaces.NewRemoteError(interfaces.ErrorFatal, "note mutations not supported over imap")
}

// DeleteMessage flags the message deleted and expunges. IMAP servers with a
// trash folder usually move it there themselves; either way the folder's
// next sync reflects the result.
func (s *imapSession) DeleteMessage(ctx context.Context, folderServerID, serverID string) error {
	uid, err := strconv.ParseUint(serverID, 10, 32)
	if err != nil {
		return interfaces.NewRemoteError(interfaces.ErrorFatal, fmt.Sprintf("malformed message id %s", serverID))
	}

	s.c.Timeout = imapOpTimeout
	defer func() { s.c.Timeout = 0 }()

	if _, err := s.c.Select(folderServerID, false); err != nil {
		return interfaces.NewRemoteError(interfaces.ErrorNotFound, fmt.Sprintf("failed to select %s: %v", folderServerID, err))
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uint32(uid))
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.c.UidStore(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("failed to flag message deleted: %v", err))
	}
	if err := s.c.Expunge(nil); err != nil {
		return interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("expunge failed: %v", err))
	}
	return nil
}

func (s *imapSession) RestoreMessage(ctx context.Context, serverID string) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "message restore not supported over imap")
}

func (s *imapSession) PurgeMessage(ctx context.Context, serverID string) error {
	return interfaces.NewRemoteError(interfaces.ErrorFatal, "message purge requires the owning folder over imap")
}

func (s *imapSession) Close() error {
	return s.c.Logout()
}
