package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glidemail/mailcore/interfaces"
	"github.com/glidemail/mailcore/internal/enum"
	"github.com/glidemail/mailcore/internal/models"
)

func easTestSession(t *testing.T, ts *httptest.Server) interfaces.RemoteSession {
	t.Helper()

	parsed, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	account := &models.Account{
		ID:         "acct-1",
		Email:      "user@example.com",
		Protocol:   enum.ProtocolEAS,
		ServerHost: parsed.Hostname(),
		ServerPort: port,
		ServerTLS:  false,
	}
	sess, err := newEASSession(context.Background(), account, interfaces.Credentials{Username: "user", Password: "pass"})
	require.NoError(t, err)
	return sess
}

func intPtr(v int) *int {
	return &v
}

func TestEASStatusErrMapping(t *testing.T) {
	assert.NoError(t, easStatusErr(intPtr(easStatusOK)))

	cases := []struct {
		status int
		kind   interfaces.ErrorKind
	}{
		{easStatusInvalidKey, interfaces.ErrorConflict},
		{easStatusNotFound, interfaces.ErrorNotFound},
		{easStatusServerBusy, interfaces.ErrorTransient},
		{easStatusAccessDenied, interfaces.ErrorAuth},
		{easStatusProvision, interfaces.ErrorAuth},
		{999, interfaces.ErrorFatal},
	}
	for _, tc := range cases {
		err := easStatusErr(intPtr(tc.status))
		require.Error(t, err)
		kind, ok := interfaces.RemoteErrorKind(err)
		require.True(t, ok)
		assert.Equal(t, tc.kind, kind, "status %d", tc.status)
		assert.Contains(t, err.Error(), "Status=")
	}
}

func TestEASStatusErrMissingStatusIsUnconfirmed(t *testing.T) {
	err := easStatusErr(nil)
	require.Error(t, err)
	kind, ok := interfaces.RemoteErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, interfaces.ErrorUnconfirmed, kind)
}

func TestEASFolderSyncFullStateOnResetKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/eas/sync", r.URL.Path)
		var req easSyncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "folders", req.Scope)

		json.NewEncoder(w).Encode(easSyncResponse{
			Status:  intPtr(easStatusOK),
			SyncKey: "7",
			Items: []easItem{
				{ServerID: "f1", Name: "Inbox", Type: "inbox"},
				{ServerID: "f2", Name: "Archive", Type: "user", ParentID: "f1"},
			},
		})
	}))
	defer ts.Close()

	sess := easTestSession(t, ts)
	defer sess.Close()

	result, err := sess.FolderSync(context.Background(), models.SyncKeyReset)
	require.NoError(t, err)
	assert.True(t, result.FullState)
	assert.Equal(t, "7", result.SyncKey)
	require.Len(t, result.Folders, 2)
	assert.Equal(t, enum.FolderInbox, result.Folders[0].Type)
	assert.Equal(t, "f1", result.Folders[1].ParentID)

	// An incremental key yields a delta, not the full state.
	result, err = sess.FolderSync(context.Background(), "7")
	require.NoError(t, err)
	assert.False(t, result.FullState)
}

func TestEASConflictStatusSurfacesAsConflict(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(easSyncResponse{Status: intPtr(easStatusInvalidKey)})
	}))
	defer ts.Close()

	sess := easTestSession(t, ts)
	defer sess.Close()

	_, err := sess.FolderSync(context.Background(), "stale-key")
	require.Error(t, err)
	kind, ok := interfaces.RemoteErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, interfaces.ErrorConflict, kind)
}

func TestEASProvisionsOnceAndReplays(t *testing.T) {
	var syncCalls, provisionCalls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/eas/provision":
			provisionCalls++
			json.NewEncoder(w).Encode(map[string]string{"policy_key": "fresh-key"})
		case "/eas/sync":
			syncCalls++
			if r.Header.Get("X-Policy-Key") != "fresh-key" {
				w.WriteHeader(http.StatusUpgradeRequired)
				return
			}
			json.NewEncoder(w).Encode(easSyncResponse{Status: intPtr(easStatusOK), SyncKey: "1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	sess := easTestSession(t, ts)
	defer sess.Close()

	result, err := sess.FolderSync(context.Background(), models.SyncKeyReset)
	require.NoError(t, err)
	assert.Equal(t, "1", result.SyncKey)
	assert.Equal(t, 1, provisionCalls)
	assert.Equal(t, 2, syncCalls)
}

func TestEASRejectedCredentialsAreAuthErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	sess := easTestSession(t, ts)
	defer sess.Close()

	err := sess.Probe(context.Background())
	require.Error(t, err)
	kind, ok := interfaces.RemoteErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, interfaces.ErrorAuth, kind)
}

func TestEASServerErrorsAreTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	sess := easTestSession(t, ts)
	defer sess.Close()

	err := sess.Probe(context.Background())
	require.Error(t, err)
	kind, ok := interfaces.RemoteErrorKind(err)
	require.True(t, ok)
	assert.Equal(t, interfaces.ErrorTransient, kind)
}
