package remote

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
	"github.com/glidemail/mailcore/internal/utils"
)

// EAS protocol status codes carried in sync and command responses.
const (
	easStatusOK           = 1
	easStatusInvalidKey   = 3
	easStatusNotFound     = 6
	easStatusServerBusy   = 110
	easStatusAccessDenied = 129
	easStatusProvision    = 142
)

const easRequestTimeout = 60 * time.Second

// easSession talks to a versioned-sync mailbox server over HTTPS with JSON
// payloads. Requests carry the account's policy token; a provision response
// causes one re-provision and retry.
type easSession struct {
	account   *models.Account
	creds     interfaces.Credentials
	client    *http.Client
	baseURL   string
	policyKey string
}

func newEASSession(ctx context.Context, account *models.Account, creds interfaces.Credentials) (interfaces.RemoteSession, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}
	if account.TLSPinSHA256 != "" {
		transport.TLSClientConfig = pinnedTLSConfig(account.ServerHost, account.TLSPinSHA256)
	}

	scheme := "https"
	if !account.ServerTLS {
		scheme = "http"
	}

	s := &easSession{
		account:   account,
		creds:     creds,
		policyKey: account.PolicyKey,
		baseURL:   fmt.Sprintf("%s://%s:%d/eas", scheme, account.ServerHost, account.ServerPort),
		client: &http.Client{
			Transport: transport,
			Timeout:   easRequestTimeout,
		},
	}
	return s, nil
}

// pinnedTLSConfig accepts only a server certificate whose SHA-256
// fingerprint matches the configured pin. Chain validation still applies.
func pinnedTLSConfig(serverName, pinHex string) *tls.Config {
	expected := strings.ToLower(strings.ReplaceAll(pinHex, ":", ""))
	return &tls.Config{
		ServerName: serverName,
		VerifyPeerCertificate: func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("no server certificate presented")
			}
			sum := sha256.Sum256(rawCerts[0])
			if hex.EncodeToString(sum[:]) != expected {
				return fmt.Errorf("server certificate does not match pinned fingerprint")
			}
			return nil
		},
	}
}

type easSyncRequest struct {
	Scope    string `json:"scope"`
	FolderID string `json:"folder_id,omitempty"`
	SyncKey  string `json:"sync_key"`
}

type easItem struct {
	ServerID    string    `json:"server_id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Type        string    `json:"type,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	From        string    `json:"from,omitempty"`
	FromName    string    `json:"from_name,omitempty"`
	To          []string  `json:"to,omitempty"`
	Cc          []string  `json:"cc,omitempty"`
	SentAt      *easTime  `json:"sent_at,omitempty"`
	Read        bool      `json:"read,omitempty"`
	Flagged     bool      `json:"flagged,omitempty"`
	BodyPreview string    `json:"body_preview,omitempty"`
	BodyText    string    `json:"body_text,omitempty"`
	Location    string    `json:"location,omitempty"`
	Body        string    `json:"body,omitempty"`
	StartsAt    time.Time `json:"starts_at,omitempty"`
	EndsAt      time.Time `json:"ends_at,omitempty"`
	AllDay      bool      `json:"all_day,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	Deleted     bool      `json:"deleted,omitempty"`
}

type easTime struct {
	time.Time
}

func (t *easTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

type easSyncResponse struct {
	Status     *int      `json:"status"`
	SyncKey    string    `json:"sync_key"`
	Items      []easItem `json:"items"`
	DeletedIDs []string  `json:"deleted_ids"`
}

type easCommandRequest struct {
	Op       string      `json:"op"`
	Kind     string      `json:"kind"`
	ServerID string      `json:"server_id,omitempty"`
	ClientID string      `json:"client_id,omitempty"`
	FolderID string      `json:"folder_id,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
}

type easCommandResponse struct {
	Status   *int   `json:"status"`
	ServerID string `json:"server_id"`
}

func (s *easSession) Probe(ctx context.Context) error {
	var resp easCommandResponse
	if err := s.post(ctx, "/ping", struct{}{}, &resp); err != nil {
		return err
	}
	return easStatusErr(resp.Status)
}

func (s *easSession) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	attempt := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Policy-Key", s.policyKey)
		req.SetBasicAuth(s.creds.Username, s.creds.Password)
		return s.client.Do(req)
	}

	resp, err := attempt()
	if err != nil {
		return interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("request failed: %v", err))
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return interfaces.NewRemoteError(interfaces.ErrorAuth, fmt.Sprintf("server rejected credentials: Status=%d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusUpgradeRequired {
		// Policy token expired; provision once and replay the request.
		resp.Body.Close()
		if err := s.provision(ctx); err != nil {
			return err
		}
		resp, err = attempt()
		if err != nil {
			return interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("request failed after provision: %v", err))
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("server error: Status=%d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return interfaces.NewRemoteError(interfaces.ErrorFatal, fmt.Sprintf("unexpected response: Status=%d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("failed to read response: %v", err))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return interfaces.NewRemoteError(interfaces.ErrorFatal, fmt.Sprintf("malformed response: %v", err))
	}
	return nil
}

func (s *easSession) provision(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/provision", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.creds.Username, s.creds.Password)

	resp, err := s.client.Do(req)
	if err != nil {
		return interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("provision failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return interfaces.NewRemoteError(interfaces.ErrorAuth, fmt.Sprintf("provision rejected: Status=%d", resp.StatusCode))
	}

	var body struct {
		PolicyKey string `json:"policy_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.PolicyKey == "" {
		return interfaces.NewRemoteError(interfaces.ErrorFatal, "provision returned no policy key")
	}
	s.policyKey = body.PolicyKey
	log.Printf("[%s] Provisioned new policy key", s.account.ID)
	return nil
}

// easStatusErr maps a protocol status to an error, nil on success. A
// response without a status field is unconfirmed: the server may or may not
// have applied the operation.
func easStatusErr(status *int) error {
	if status == nil {
		return interfaces.NewRemoteError(interfaces.ErrorUnconfirmed, "response carried no status")
	}
	switch *status {
	case easStatusOK:
		return nil
	case easStatusInvalidKey:
		return interfaces.NewRemoteError(interfaces.ErrorConflict, fmt.Sprintf("sync key rejected: Status=%d", *status))
	case easStatusNotFound:
		return interfaces.NewRemoteError(interfaces.ErrorNotFound, fmt.Sprintf("item not found: Status=%d", *status))
	case easStatusServerBusy:
		return interfaces.NewRemoteError(interfaces.ErrorTransient, fmt.Sprintf("server busy: Status=%d", *status))
	case easStatusProvision:
		return interfaces.NewRemoteError(interfaces.ErrorAuth, fmt.Sprintf("provisioning required: Status=%d", *status))
	case easStatusAccessDenied:
		return interfaces.NewRemoteError(interfaces.ErrorAuth, fmt.Sprintf("access denied: Status=%d", *status))
	default:
		return interfaces.NewRemoteError(interfaces.ErrorFatal, fmt.Sprintf("sync failed: Status=%d", *status))
	}
}

func (s *easSession) FolderSync(ctx context.Context, syncKey string) (*interfaces.FolderSyncResult, error) {
	var resp easSyncResponse
	if err := s.post(ctx, "/sync", easSyncRequest{Scope: "folders", SyncKey: syncKey}, &resp); err != nil {
		return nil, err
	}
	if err := easStatusErr(resp.Status); err != nil {
		return nil, err
	}

	result := &interfaces.FolderSyncResult{
		SyncKey:    resp.SyncKey,
		FullState:  syncKey == models.SyncKeyReset,
		DeletedIDs: resp.DeletedIDs,
	}
	for _, item := range resp.Items {
		result.Folders = append(result.Folders, interfaces.RemoteFolder{
			ServerID: item.ServerID,
			ParentID: item.ParentID,
			Name:     item.Name,
			Type:     easFolderType(item.Type),
		})
	}
	return result, nil
}

func easFolderType(t string) enum.FolderType {
	switch t {
	case "inbox":
		return enum.FolderInbox
	case "sent":
		return enum.FolderSent
	case "drafts":
		return enum.FolderDrafts
	case "trash", "deleted":
		return enum.FolderTrash
	case "spam", "junk":
		return enum.FolderSpam
	case "calendar":
		return enum.FolderCalendar
	case "notes":
		return enum.FolderNotes
	case "contacts":
		return enum.FolderContacts
	case "tasks":
		return enum.FolderTasks
	case "user":
		return enum.FolderUser
	default:
		return enum.FolderOther
	}
}

func (s *easSession) MessageSync(ctx context.Context, folderServerID, syncKey string) (*interfaces.MessageSyncResult, error) {
	var resp easSyncResponse
	if err := s.post(ctx, "/sync", easSyncRequest{Scope: "messages", FolderID: folderServerID, SyncKey: syncKey}, &resp); err != nil {
		return nil, err
	}
	if err := easStatusErr(resp.Status); err != nil {
		return nil, err
	}

	result := &interfaces.MessageSyncResult{
		SyncKey:    resp.SyncKey,
		FullState:  syncKey == models.SyncKeyReset,
		DeletedIDs: resp.DeletedIDs,
	}
	for _, item := range resp.Items {
		msg := interfaces.RemoteMessage{
			ServerID:    item.ServerID,
			Subject:     item.Subject,
			FromAddress: item.From,
			FromName:    item.FromName,
			ToAddresses: item.To,
			CcAddresses: item.Cc,
			Read:        item.Read,
			Flagged:     item.Flagged,
			BodyPreview: item.BodyPreview,
			BodyText:    item.BodyText,
		}
		if item.SentAt != nil && !item.SentAt.IsZero() {
			sentAt := item.SentAt.Time
			msg.SentAt = &sentAt
		}
		result.Messages = append(result.Messages, msg)
	}
	return result, nil
}

func (s *easSession) CalendarSync(ctx context.Context, syncKey string) (*interfaces.CalendarSyncResult, error) {
	var resp easSyncResponse
	if err := s.post(ctx, "/sync", easSyncRequest{Scope: "calendar", SyncKey: syncKey}, &resp); err != nil {
		return nil, err
	}
	if err := easStatusErr(resp.Status); err != nil {
		return nil, err
	}

	result := &interfaces.CalendarSyncResult{
		SyncKey:    resp.SyncKey,
		FullState:  syncKey == models.SyncKeyReset,
		DeletedIDs: resp.DeletedIDs,
	}
	for _, item := range resp.Items {
		result.Events = append(result.Events, interfaces.RemoteEvent{
			ServerID:    item.ServerID,
			Subject:     item.Subject,
			Location:    item.Location,
			Body:        item.Body,
			StartsAt:    item.StartsAt,
			EndsAt:      item.EndsAt,
			AllDay:      item.AllDay,
			Attendees:   item.Attendees,
			SoftDeleted: item.Deleted,
		})
	}
	return result, nil
}

func (s *easSession) NoteSync(ctx context.Context, syncKey string) (*interfaces.NoteSyncResult, error) {
	var resp easSyncResponse
	if err := s.post(ctx, "/sync", easSyncRequest{Scope: "notes", SyncKey: syncKey}, &resp); err != nil {
		return nil, err
	}
	if err := easStatusErr(resp.Status); err != nil {
		return nil, err
	}

	result := &interfaces.NoteSyncResult{
		SyncKey:    resp.SyncKey,
		FullState:  syncKey == models.SyncKeyReset,
		DeletedIDs: resp.DeletedIDs,
	}
	for _, item := range resp.Items {
		result.Notes = append(result.Notes, interfaces.RemoteNote{
			ServerID:    item.ServerID,
			Subject:     item.Subject,
			Body:        item.Body,
			SoftDeleted: item.Deleted,
		})
	}
	return result, nil
}

func (s *easSession) command(ctx context.Context, req easCommandRequest) (string, error) {
	var resp easCommandResponse
	if err := s.post(ctx, "/command", req, &resp); err != nil {
		return "", err
	}
	if err := easStatusErr(resp.Status); err != nil {
		return "", err
	}
	return resp.ServerID, nil
}

func (s *easSession) CreateEvent(ctx context.Context, params interfaces.EventParams) (string, error) {
	clientID := utils.GenerateLocalPlaceholderID()
	serverID, err := s.command(ctx, easCommandRequest{Op: "create", Kind: "event", ClientID: clientID, Payload: params})
	if err != nil {
		return "", err
	}
	if serverID == "" {
		// Some servers acknowledge the create without minting an
		// identifier until the next sync round.
		return clientID, nil
	}
	return serverID, nil
}

func (s *easSession) UpdateEvent(ctx context.Context, serverID string, params interfaces.EventParams) (string, error) {
	newID, err := s.command(ctx, easCommandRequest{Op: "update", Kind: "event", ServerID: serverID, Payload: params})
	if err != nil {
		return "", err
	}
	if newID == "" {
		return serverID, nil
	}
	return newID, nil
}

func (s *easSession) DeleteEvent(ctx context.Context, serverID string) error {
	_, err := s.command(ctx, easCommandRequest{Op: "delete", Kind: "event", ServerID: serverID})
	return err
}

func (s *easSession) RestoreEvent(ctx context.Context, serverID string) (string, error) {
	newID, err := s.command(ctx, easCommandRequest{Op: "restore", Kind: "event", ServerID: serverID})
	if err != nil {
		return "", err
	}
	if newID == "" {
		return serverID, nil
	}
	return newID, nil
}

func (s *easSession) PurgeEvent(ctx context.Context, serverID string) error {
	_, err := s.command(ctx, easCommandRequest{Op: "purge", Kind: "event", ServerID: serverID})
	return err
}

func (s *easSession) CreateNote(ctx context.Context, params interfaces.NoteParams) (string, error) {
	clientID := utils.GenerateLocalPlaceholderID()
	serverID, err := s.command(ctx, easCommandRequest{Op: "create", Kind: "note", ClientID: clientID, Payload: params})
	if err != nil {
		return "", err
	}
	if serverID == "" {
		return clientID, nil
	}
	return serverID, nil
}

func (s *easSession) UpdateNote(ctx context.Context, serverID string, params interfaces.NoteParams) (string, error) {
	newID, err := s.command(ctx, easCommandRequest{Op: "update", Kind: "note", ServerID: serverID, Payload: params})
	if err != nil {
		return "", err
	}
	if newID == "" {
		return serverID, nil
	}
	return newID, nil
}

func (s *easSession) DeleteNote(ctx context.Context, serverID string) error {
	_, err := s.command(ctx, easCommandRequest{Op: "delete", Kind: "note", ServerID: serverID})
	return err
}

func (s *easSession) RestoreNote(ctx context.Context, serverID string) (string, error) {
	newID, err := s.command(ctx, easCommandRequest{Op: "restore", Kind: "note", ServerID: serverID})
	if err != nil {
		return "", err
	}
	if newID == "" {
		return serverID, nil
	}
	return newID, nil
}

func (s *easSession) PurgeNote(ctx context.Context, serverID string) error {
	_, err := s.command(ctx, easCommandRequest{Op: "purge", Kind: "note", ServerID: serverID})
	return err
}

func (s *easSession) DeleteMessage(ctx context.Context, folderServerID, serverID string) error {
	_, err := s.command(ctx, easCommandRequest{Op: "delete", Kind: "message", ServerID: serverID, FolderID: folderServerID})
	return err
}

func (s *easSession) RestoreMessage(ctx context.Context, serverID string) (string, error) {
	newID, err := s.command(ctx, easCommandRequest{Op: "restore", Kind: "message", ServerID: serverID})
	if err != nil {
		return "", err
	}
	if newID == "" {
		return serverID, nil
	}
	return newID, nil
}

func (s *easSession) PurgeMessage(ctx context.Context, serverID string) error {
	_, err := s.command(ctx, easCommandRequest{Op: "purge", Kind: "message", ServerID: serverID})
	return err
}

func (s *easSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
