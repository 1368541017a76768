package liveview

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/studyhall/liveview/internal/config"
	"github.com/studyhall/liveview/internal/model"
	"github.com/studyhall/liveview/internal/push"
	"github.com/studyhall/liveview/internal/session"
	"github.com/studyhall/liveview/internal/stub"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T) (*Controller, *stub.Server, *httptest.Server) {
	t.Helper()
	s := stub.New()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.ServerURL = srv.URL
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.ProbeInterval = 50 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	cfg.ContextRefreshInterval = 0
	cfg.SeedWelcomeEntry = false

	ctrl, err := New(cfg, session.StaticProvider{Key: "user-1"})
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)
	return ctrl, s, srv
}

func startAndWaitOpen(t *testing.T, ctrl *Controller) {
	t.Helper()
	require.NoError(t, ctrl.Start(t.Context()))
	require.Eventually(t, func() bool {
		return ctrl.ConnectionState() == push.StateOpen
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStart_PopulatesFromBulkFetch(t *testing.T) {
	ctrl, s, _ := newTestController(t)
	s.SeedEntry(model.Entry{ID: "srv-1", Title: "Algebra", UpdatedAt: time.Now().UTC()})

	startAndWaitOpen(t, ctrl)
	entries := ctrl.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "srv-1", entries[0].ID)
	require.False(t, entries[0].Optimistic)
}

func TestNewConversation_PlaceholderThenConfirmation(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	startAndWaitOpen(t, ctrl)

	localID, err := ctrl.NewConversation(t.Context(), "", "")
	require.NoError(t, err)
	require.True(t, model.IsEphemeralID(localID))

	// The confirmation frame retires the placeholder: one entry, server id,
	// UI anchor intact.
	require.Eventually(t, func() bool {
		entries := ctrl.Entries()
		return len(entries) == 1 && !model.IsEphemeralID(entries[0].ID)
	}, 2*time.Second, 5*time.Millisecond)

	entries := ctrl.Entries()
	require.True(t, entries[0].UIAnchor.Active)
	require.Equal(t, "/chat/"+localID, entries[0].UIAnchor.Route)
	require.Equal(t, model.DefaultTitle, entries[0].Title)
}

func TestTitleLock_EndToEnd(t *testing.T) {
	ctrl, _, srv := newTestController(t)
	startAndWaitOpen(t, ctrl)

	_, err := ctrl.NewConversation(t.Context(), "", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		entries := ctrl.Entries()
		return len(entries) == 1 && !model.IsEphemeralID(entries[0].ID)
	}, 2*time.Second, 5*time.Millisecond)
	serverID := ctrl.Entries()[0].ID

	patch(t, srv.URL+"/v1/history/"+serverID, `{"title":"Discussion about photosynthesis"}`)
	require.Eventually(t, func() bool {
		return ctrl.Entries()[0].Title == "Discussion about photosynthesis"
	}, 2*time.Second, 5*time.Millisecond)

	// A later frame with a different title re-sorts but keeps the title.
	before := ctrl.Entries()[0].UpdatedAt
	patch(t, srv.URL+"/v1/history/"+serverID, `{"title":"Clobber attempt"}`)
	require.Eventually(t, func() bool {
		return ctrl.Entries()[0].UpdatedAt.After(before)
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "Discussion about photosynthesis", ctrl.Entries()[0].Title)
}

func TestDeleteConversation_ConfirmedEntry(t *testing.T) {
	ctrl, s, _ := newTestController(t)
	s.SeedEntry(model.Entry{ID: "srv-1", Title: "Algebra", UpdatedAt: time.Now().UTC()})
	startAndWaitOpen(t, ctrl)

	require.NoError(t, ctrl.DeleteConversation(t.Context(), "srv-1"))
	require.Empty(t, ctrl.Entries())
}

func TestDeleteConversation_PlaceholderIsLocalOnly(t *testing.T) {
	ctrl, _, srv := newTestController(t)
	startAndWaitOpen(t, ctrl)
	srv.Close() // placeholder deletion must not need the network

	id := ctrl.tracker.Create("Draft", "", "H-local", false)
	require.NoError(t, ctrl.DeleteConversation(t.Context(), id))
	require.Empty(t, ctrl.Entries())
}

func TestResyncFrame_ReplacesList(t *testing.T) {
	ctrl, s, srv := newTestController(t)
	startAndWaitOpen(t, ctrl)

	// Appears server-side without any incremental frame.
	s.SeedEntry(model.Entry{ID: "srv-missed", Title: "Migrated", UpdatedAt: time.Now().UTC()})
	resp, err := http.Post(srv.URL+"/v1/resync", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		entries := ctrl.Entries()
		return len(entries) == 1 && entries[0].ID == "srv-missed"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewConversation_RequestFailureRemovesPlaceholder(t *testing.T) {
	ctrl, _, srv := newTestController(t)
	startAndWaitOpen(t, ctrl)
	srv.Close()

	_, err := ctrl.NewConversation(t.Context(), "", "")
	require.Error(t, err)
	require.Empty(t, ctrl.Entries())
}

func TestActivate_MovesTheActiveMark(t *testing.T) {
	ctrl, s, _ := newTestController(t)
	now := time.Now().UTC()
	s.SeedEntry(model.Entry{ID: "srv-1", Title: "A", UpdatedAt: now})
	s.SeedEntry(model.Entry{ID: "srv-2", Title: "B", UpdatedAt: now.Add(time.Minute)})
	startAndWaitOpen(t, ctrl)

	ctrl.Activate("srv-1")
	ctrl.Activate("srv-2")

	for _, entry := range ctrl.Entries() {
		require.Equal(t, entry.ID == "srv-2", entry.UIAnchor.Active)
	}
}

func patch(t *testing.T, url, body string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPatch, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
