package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
)

const pop3DialTimeout = 30 * time.Second

// pop3Session adapts a POP3 connection. The protocol exposes a single
// mailbox with no folders, flags or cursors: folder sync synthesizes an
// inbox, message sync is always full state keyed by UIDL, and everything
// beyond delete is unsupported.
type pop3Session struct {
	account *models.Account
	conn    *textproto.Conn
}

func newPOP3Session(ctx context.Context, account *models.Account, creds interfaces.Credentials) (interfaces.RemoteSession, error) {
	serverAddr := fmt.Sprintf("%s:%d", account.ServerHost, account.ServerPort)

	var raw net.Conn
	var err error
	dialer := &net.Dialer{Timeout: pop3DialTimeout}
	if account.ServerTLS {
		raw, err = tls.DialWithDialer(dialer, "tcp", serverAddr, &tls.Config{ServerName: account.ServerHost})
	} else {
		raw, err = dialer.DialContext(ctx, "tcp", serverAddr)
	}
	if err != nil {
		return nil, interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("failed to connect to %s: %v", serverAddr, err))
	}

	conn := textproto.NewConn(raw)
	s := &pop3Session{account: account, conn: conn}

	if _, err := s.readLine(); err != nil {
		conn.Close()
		return nil, interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("bad greeting: %v", err))
	}
	if _, err := s.cmd("USER %s", creds.Username); err != nil {
		conn.Close()
		return nil, interfaces.NewRemoteError(interfaces.ErrorAuth, fmt.Sprintf("user rejected: %v", err))
	}
	if _, err := s.cmd("PASS %s", creds.Password); err != nil {
		conn.Close()
		return nil, interfaces.NewRemoteError(interfaces.ErrorAuth, fmt.Sprintf("password rejected: %v", err))
	}

	log.Printf("[%s] Connected to %s", account.ID, serverAddr)
	return s, nil
}

func (s *pop3Session) readLine() (string, error) {
	line, err := s.conn.ReadLine()
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(line, "-ERR") {
		return "", fmt.Errorf("%s", strings.TrimSpace(strings.TrimPrefix(line, "-ERR")))
	}
	if !strings.HasPrefix(line, "+OK") {
		return "", fmt.Errorf("unexpected response %q", line)
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "+OK")), nil
}

func (s *pop3Session) cmd(format string, args ...interface{}) (string, error) {
	if err := s.conn.PrintfLine(format, args...); err != nil {
		return "", err
	}
	return s.readLine()
}

// cmdMulti issues a command whose success response is followed by a
// dot-terminated block.
func (s *pop3Session) cmdMulti(format string, args ...interface{}) ([]string, error) {
	if _, err := s.cmd(format, args...); err != nil {
		return nil, err
	}
	return s.conn.ReadDotLines()
}

func (s *pop3Session) Probe(ctx context.Context) error {
	if _, err := s.cmd("NOOP"); err != nil {
		return interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("noop failed: %v", err))
	}
	return nil
}

// pop3InboxID is the synthetic folder the whole mailbox maps to.
const pop3InboxID = "INBOX"

func (s *pop3Session) FolderSync(ctx context.Context, syncKey string) (*interfaces.FolderSyncResult, error) {
	return &interfaces.FolderSyncResult{
		SyncKey:   syntheticKey(),
		FullState: true,
		Folders: []interfaces.RemoteFolder{
			{ServerID: pop3InboxID, Name: "Inbox", Type: enum.FolderInbox},
			// The protocol has no server-side folders; these exist so the
			// mailbox passes the system folder check and local moves have
			// somewhere to land.
			{ServerID: "SENT", Name: "Sent", Type: enum.FolderSent},
			{ServerID: "DRAFTS", Name: "Drafts", Type: enum.FolderDrafts},
			{ServerID: "TRASH", Name: "Trash", Type: enum.FolderTrash},
		},
	}, nil
}

func (s *pop3Session) MessageSync(ctx context.Context, folderServerID, syncKey string) (*interfaces.MessageSyncResult, error) {
	result := &interfaces.MessageSyncResult{
		SyncKey:   syntheticKey(),
		FullState: true,
	}
	if folderServerID != pop3InboxID {
		return result, nil
	}

	lines, err := s.cmdMulti("UIDL")
	if err != nil {
		return nil, interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("uidl failed: %v", err))
	}

	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		msgNum, uid := fields[0], fields[1]

		rm, err := s.fetchHeaders(msgNum, uid)
		if err != nil {
			log.Printf("[%s] Failed to fetch headers for message %s: %v", s.account.ID, uid, err)
			continue
		}
		result.Messages = append(result.Messages, rm)
	}
	return result, nil
}

func (s *pop3Session) fetchHeaders(msgNum, uid string) (interfaces.RemoteMessage, error) {
	rm := interfaces.RemoteMessage{ServerID: uid}

	lines, err := s.cmdMulti("TOP %s 0", msgNum)
	if err != nil {
		return rm, err
	}

	msg, err := mail.ReadMessage(strings.NewReader(strings.Join(lines, "\r\n") + "\r\n\r\n"))
	if err != nil {
		return rm, err
	}

	rm.Subject = msg.Header.Get("Subject")
	if date, err := msg.Header.Date(); err == nil {
		sentAt := date.UTC()
		rm.SentAt = &sentAt
	}
	if from, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		rm.FromAddress = from.Address
		rm.FromName = from.Name
	}
	if to, err := msg.Header.AddressList("To"); err == nil {
		for _, addr := range to {
			rm.ToAddresses = append(rm.ToAddresses, addr.Address)
		}
	}
	if cc, err := msg.Header.AddressList("Cc"); err == nil {
		for _, addr := range cc {
			rm.CcAddresses = append(rm.CcAddresses, addr.Address)
		}
	}
	return rm, nil
}

func (s *pop3Session) CalendarSync(ctx context.Context, syncKey string) (*interfaces.CalendarSyncResult, error) {
	return nil, interfaces.NewRemoteError(interfaces.ErrorFatal, "calendar sync not supported over pop3")
}

func (s *pop3Session) NoteSync(ctx context.Context, syncKey string) (*interfaces.NoteSyncResult, error) {
	return nil, interfaces.NewRemoteError(interfaces.ErrorFatal, "note sync not supported over pop3")
}

func (s *pop3Session) CreateEvent(ctx context.Context, params interfaces.EventParams) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "calendar mutations not supported over pop3")
}

func (s *pop3Session) UpdateEvent(ctx context.Context, serverID string, params interfaces.EventParams) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "calendar mutations not supported over pop3")
}

func (s *pop3Session) DeleteEvent(ctx context.Context, serverID string) error {
	return interfaces.NewRemoteError(interfaces.ErrorFatal, "calendar mutations not supported over pop3")
}

func (s *pop3Session) RestoreEvent(ctx context.Context, serverID string) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "calendar mutations not supported over pop3")
}

func (s *pop3Session) PurgeEvent(ctx context.Context, serverID string) error {
	return interfaces.NewRemoteError(interfaces.ErrorFatal, "calendar mutations not supported over pop3")
}

func (s *pop3Session) CreateNote(ctx context.Context, params interfaces.NoteParams) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "note mutations not supported over pop3")
}

func (s *pop3Session) UpdateNote(ctx context.Context, serverID string, params interfaces.NoteParams) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "note mutations not supported over pop3")
}

func (s *pop3Session) DeleteNote(ctx context.Context, serverID string) error {
	return interfaces.NewRemoteError(interfaces.ErrorFatal, "note mutations not supported over pop3")
}

func (s *pop3Session) RestoreNote(ctx context.Context, serverID string) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "note mutations not supported over pop3")
}

func (s *pop3Session) PurgeNote(ctx context.Context, serverID string) error {
	return interfaces.NewRemoteError(interfaces.ErrorFatal, "note mutations not supported over pop3")
}

// DeleteMessage marks the message for deletion; the server removes it at
// QUIT. Requires resolving the UIDL back to a message number first.
func (s *pop3Session) DeleteMessage(ctx context.Context, folderServerID, serverID string) error {
	if folderServerID != pop3InboxID {
		return interfaces.NewRemoteError(interfaces.ErrorNotFound, fmt.Sprintf("no folder %s", folderServerID))
	}

	lines, err := s.cmdMulti("UIDL")
	if err != nil {
		return interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("uidl failed: %v", err))
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == serverID {
			if _, err := s.cmd("DELE %s", fields[0]); err != nil {
				return interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("dele failed: %v", err))
			}
			return nil
		}
	}
	return interfaces.NewRemoteError(interfaces.ErrorNotFound, fmt.Sprintf("message %s not on server", serverID))
}

func (s *pop3Session) RestoreMessage(ctx context.Context, serverID string) (string, error) {
	return "", interfaces.NewRemoteError(interfaces.ErrorFatal, "message restore not supported over pop3")
}

func (s *pop3Session) PurgeMessage(ctx context.Context, serverID string) error {
	return interfaces.NewRemoteError(interfaces.ErrorFatal, "message purge not supported over pop3")
}

func (s *pop3Session) Close() error {
	if _, err := s.cmd("QUIT"); err != nil {
		s.conn.Close()
		return err
	}
	return s.conn.Close()
}
