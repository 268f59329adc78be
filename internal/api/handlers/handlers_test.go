package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientportal.io/portal/internal/api/middleware"
	"clientportal.io/portal/internal/channel"
	"clientportal.io/portal/internal/digest"
	"clientportal.io/portal/internal/domain"
	"clientportal.io/portal/internal/feed"
	"clientportal.io/portal/internal/notification"
	"clientportal.io/portal/internal/pkg/clock"
	"clientportal.io/portal/internal/pkg/logger"
	"clientportal.io/portal/internal/preference"
	"clientportal.io/portal/internal/provider/realtime"
	"clientportal.io/portal/internal/store/memory"
	"clientportal.io/portal/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	srv   *Server
	store *memory.Store
	email *testutil.EmailRecorder
	hub   *realtime.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memory.New()
	clk := clock.NewFixed(testNow)
	rec := &testutil.EmailRecorder{}
	hub := realtime.NewHub(5 * time.Second)

	catalog, err := channel.LoadCatalog("https://portal.example.com")
	require.NoError(t, err)
	prefs := preference.NewService(st, clk)
	scheduler := digest.NewScheduler(st, rec, catalog, clk, digest.Config{})

	d, err := notification.NewDispatcher(notification.Deps{
		Preferences: prefs,
		Contacts:    st,
		InApp:       channel.NewInAppChannel(st),
		Email:       channel.NewEmailChannel(rec, catalog, time.Second),
		Realtime:    channel.NewRealtimePushChannel(hub, time.Second),
		Digest:      scheduler,
		Clock:       clk,
	})
	require.NoError(t, err)

	srv := NewServer(ServerDeps{
		Dispatcher:  d,
		Preferences: prefs,
		Feed:        feed.NewProjection(st, clk),
		Digest:      scheduler,
		Hub:         hub,
		Contacts:    st,
		Checks: map[string]HealthCheck{
			"database": st.Ping,
		},
	})
	return &testEnv{srv: srv, store: st, email: rec, hub: hub}
}

// serve runs h behind the error handler with the given identity.
func serve(t *testing.T, route string, h gin.HandlerFunc, method, target, body, userID string, permissions ...string) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.Use(middleware.ErrorHandler())
	router.Use(func(c *gin.Context) {
		if userID != "" {
			c.Request = c.Request.WithContext(middleware.SetUserContext(c.Request.Context(), userID, userID, permissions))
		}
		c.Next()
	})
	router.Handle(method, route, h)

	var req *http.Request
	if strings.TrimSpace(body) == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestDispatchEvent_SingleRecipient(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.UpsertContact(context.Background(), domain.Contact{
		UserID: "client-1", Email: "ada@example.com", Name: "Ada", EmailVerified: true,
	}))

	body := `{"recipientUserId":"client-1","category":"messages","title":"Hello","message":"New reply","requestEmail":true,"idempotencyKey":"msg-1"}`
	w := serve(t, "/events", env.srv.DispatchEvent, http.MethodPost, "/events", body, "svc-messaging")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	res := decode[notification.Result](t, w)
	assert.NotEmpty(t, res.NotificationID)
	assert.Empty(t, res.Warnings)
	assert.Len(t, env.email.Sent(), 1)

	w = serve(t, "/events", env.srv.DispatchEvent, http.MethodPost, "/events", body, "svc-messaging")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	again := decode[notification.Result](t, w)
	assert.Equal(t, res.NotificationID, again.NotificationID)
	assert.True(t, again.Deduplicated)
	assert.Len(t, env.email.Sent(), 1, "duplicate must not resend")
}

func TestDispatchEvent_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "malformed json", body: `{"recipientUserId":`, wantCode: "VALIDATION_FAILED"},
		{name: "missing fields", body: `{"category":"messages"}`, wantCode: "VALIDATION_FAILED"},
		{name: "unknown category", body: `{"recipientUserId":"u","category":"billing","title":"t","message":"m"}`, wantCode: "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, "/events", env.srv.DispatchEvent, http.MethodPost, "/events", tt.body, "svc")
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			body := decode[map[string]any](t, w)
			assert.Equal(t, tt.wantCode, body["code"])
		})
	}
}

func TestDispatchEvent_ManyRecipients(t *testing.T) {
	env := newTestEnv(t)

	body := `{"recipientUserIds":["u-1","u-2","u-1"],"category":"projectUpdates","title":"Kickoff","message":"Project started"}`
	w := serve(t, "/events", env.srv.DispatchEvent, http.MethodPost, "/events", body, "svc")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[batchDispatchResponse](t, w)
	assert.Len(t, resp.Results, 2)
	assert.Empty(t, resp.Failed)

	for _, id := range []string{"u-1", "u-2"} {
		n, err := env.store.CountUnread(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 1, n, id)
	}

	w = serve(t, "/events", env.srv.DispatchEvent, http.MethodPost, "/events",
		`{"recipientUserIds":["u-1"," "],"category":"general","title":"t","message":"m"}`, "svc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDispatchEvent_ManyRecipientsInvalidEvent(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "unknown category", body: `{"recipientUserIds":["u-1","u-2"],"category":"project_updates","title":"t","message":"m"}`},
		{name: "missing title", body: `{"recipientUserIds":["u-1"],"category":"general","message":"m"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, "/events", env.srv.DispatchEvent, http.MethodPost, "/events", tt.body, "svc")
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			body := decode[map[string]any](t, w)
			assert.Equal(t, "VALIDATION_FAILED", body["code"])

			n, err := env.store.CountUnread(context.Background(), "u-1")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

type failingSender struct{ failFor string }

func (f failingSender) Dispatch(_ context.Context, ev domain.Event) (*notification.Result, error) {
	if ev.RecipientUserID == f.failFor {
		return nil, errors.New("store down")
	}
	return &notification.Result{NotificationID: "n-" + ev.RecipientUserID, Warnings: []string{}}, nil
}

func TestDispatchEvent_ManyRecipientsPartialFailure(t *testing.T) {
	srv := NewServer(ServerDeps{Dispatcher: failingSender{failFor: "u-2"}})

	body := `{"recipientUserIds":["u-1","u-2"],"category":"general","title":"t","message":"m"}`
	w := serve(t, "/events", srv.DispatchEvent, http.MethodPost, "/events", body, "svc")
	require.Equal(t, http.StatusMultiStatus, w.Code, w.Body.String())

	resp := decode[batchDispatchResponse](t, w)
	assert.Contains(t, resp.Results, "u-1")
	assert.Equal(t, []string{"u-2"}, resp.Failed)
}

func TestPreferences_GetPatchReset(t *testing.T) {
	env := newTestEnv(t)

	w := serve(t, "/preferences", env.srv.GetPreferences, http.MethodGet, "/preferences", "", "user-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pref := decode[domain.Preference](t, w)
	assert.True(t, pref.IsEnabled)
	assert.Equal(t, domain.DigestInstant, pref.DigestFrequency)
	assert.Len(t, pref.Categories, len(domain.Categories))

	patch := `{"digestFrequency":"daily","emailDigestTime":"08:30","timezone":"Europe/Berlin","preferences":{"tasks":{"enabled":false}}}`
	w = serve(t, "/preferences", env.srv.UpdatePreferences, http.MethodPatch, "/preferences", patch, "user-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pref = decode[domain.Preference](t, w)
	assert.Equal(t, domain.DigestDaily, pref.DigestFrequency)
	assert.Equal(t, "08:30", pref.EmailDigestTime)
	assert.Equal(t, "Europe/Berlin", pref.Timezone)
	assert.False(t, pref.Categories[domain.CategoryTasks].Enabled)
	assert.True(t, pref.Categories[domain.CategoryMessages].Enabled)

	w = serve(t, "/preferences/reset", env.srv.ResetPreferences, http.MethodPost, "/preferences/reset", "", "user-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pref = decode[domain.Preference](t, w)
	assert.Equal(t, domain.DigestInstant, pref.DigestFrequency)
	assert.True(t, pref.Categories[domain.CategoryTasks].Enabled)
	assert.Equal(t, "Europe/Berlin", pref.Timezone, "reset keeps the timezone")
}

func TestPreferences_Errors(t *testing.T) {
	env := newTestEnv(t)

	w := serve(t, "/preferences", env.srv.UpdatePreferences, http.MethodPatch, "/preferences", `{"isEnabled":false}`, "nobody")
	assert.Equal(t, http.StatusNotFound, w.Code, "update does not create")
	assert.Equal(t, "PREFERENCE_NOT_FOUND", decode[map[string]any](t, w)["code"])

	serve(t, "/preferences", env.srv.GetPreferences, http.MethodGet, "/preferences", "", "user-1")
	w = serve(t, "/preferences", env.srv.UpdatePreferences, http.MethodPatch, "/preferences", `{"preferences":{"billing":{"enabled":true}}}`, "user-1")
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "UNKNOWN_CATEGORY", body["code"])
	assert.NotEmpty(t, body["field_errors"])

	w = serve(t, "/preferences", env.srv.GetPreferences, http.MethodGet, "/preferences", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNotifications_FeedEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i, id := range []string{"n-1", "n-2", "n-3"} {
		require.NoError(t, env.store.CreateNotification(ctx, &domain.Notification{
			ID: id, UserID: "user-1", Type: domain.CategoryGeneral, Title: id, Message: "m",
			CreatedAt: testNow.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, env.store.CreateNotification(ctx, &domain.Notification{
		ID: "other", UserID: "user-2", Type: domain.CategoryGeneral, Title: "x", Message: "m", CreatedAt: testNow,
	}))

	w := serve(t, "/notifications", env.srv.ListNotifications, http.MethodGet, "/notifications?limit=2", "", "user-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[feed.Page](t, w)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "n-3", page.Items[0].ID)
	assert.Equal(t, 3, page.UnreadCount)

	w = serve(t, "/notifications/:id/read", env.srv.MarkNotificationRead, http.MethodPost, "/notifications/n-1/read", "", "user-1")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(t, "/notifications/:id/read", env.srv.MarkNotificationRead, http.MethodPost, "/notifications/other/read", "", "user-1")
	assert.Equal(t, http.StatusNotFound, w.Code, "other users' notifications are invisible")

	w = serve(t, "/notifications/unread-count", env.srv.GetUnreadCount, http.MethodGet, "/notifications/unread-count", "", "user-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":2}`, w.Body.String())

	w = serve(t, "/notifications", env.srv.ListNotifications, http.MethodGet, "/notifications?unread_only=true", "", "user-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[feed.Page](t, w).Items, 2)

	w = serve(t, "/notifications/read-all", env.srv.MarkAllNotificationsRead, http.MethodPost, "/notifications/read-all", "", "user-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":2}`, w.Body.String())

	for _, target := range []string{"/notifications?limit=abc", "/notifications?offset=-1", "/notifications?unread_only=maybe"} {
		w = serve(t, "/notifications", env.srv.ListNotifications, http.MethodGet, target, "", "user-1")
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestFlushDigests(t *testing.T) {
	env := newTestEnv(t)
	w := serve(t, "/admin/digests/flush", env.srv.FlushDigests, http.MethodPost, "/admin/digests/flush", "", "admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"due":0,"delivered":0,"skipped":0,"failed":0}`, w.Body.String())

	w = serve(t, "/admin/digests/flush", NewServer(ServerDeps{}).FlushDigests, http.MethodPost, "/admin/digests/flush", "", "admin")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUpsertContact(t *testing.T) {
	env := newTestEnv(t)
	w := serve(t, "/admin/contacts/:userId", env.srv.UpsertContact, http.MethodPut, "/admin/contacts/user-9",
		`{"email":" grace@example.com ","name":"Grace","emailVerified":true}`, "admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got, err := env.store.GetContact(context.Background(), "user-9")
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", got.Email)
	assert.True(t, got.CanEmail())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := serve(t, "/health/live", env.srv.GetLiveness, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, "/health/ready", env.srv.GetReadiness, http.MethodGet, "/health/ready", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"database":"ok"}}`, w.Body.String())

	degraded := NewServer(ServerDeps{Checks: map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("down") },
	}})
	w = serve(t, "/health/ready", degraded.GetReadiness, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"redis":"error"}}`, w.Body.String())

	withWorkers := NewServer(ServerDeps{Workers: func() map[string]any {
		return map[string]any{"delivery": map[string]int{"running": 1, "free": 3, "cap": 4}}
	}})
	w = serve(t, "/health/ready", withWorkers.GetReadiness, http.MethodGet, "/health/ready", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{},"workers":{"delivery":{"running":1,"free":3,"cap":4}}}`, w.Body.String())
}

func TestStreamRealtime_DeliversDispatchedNotification(t *testing.T) {
	env := newTestEnv(t)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(middleware.SetUserContext(c.Request.Context(), "user-1", "user-1", nil))
		c.Next()
	})
	router.GET("/realtime", env.srv.StreamRealtime)
	ts := httptest.NewServer(router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/realtime", nil)
	require.NoError(t, err)
	defer conn.Close()

	topic := realtime.UserTopic("user-1")
	require.Eventually(t, func() bool { return env.hub.Subscribers(topic) == 1 }, 2*time.Second, 10*time.Millisecond)

	w := serve(t, "/events", env.srv.DispatchEvent, http.MethodPost, "/events",
		`{"recipientUserId":"user-1","category":"tasks","title":"Review copy","message":"Please review"}`, "svc")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[notification.Result](t, w)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env2, err := realtime.DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, realtime.EventNotificationNew, env2.Event)
	assert.Contains(t, string(env2.Payload), res.NotificationID)
}

func TestStreamRealtime_RejectsForeignOrigin(t *testing.T) {
	srv := NewServer(ServerDeps{Hub: realtime.NewHub(time.Second), AllowedOrigins: []string{"https://portal.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/realtime", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	assert.False(t, srv.checkOrigin(req))

	req.Header.Set("Origin", "https://portal.example.com")
	assert.True(t, srv.checkOrigin(req))

	req.Header.Set("Origin", "http://api.example.com")
	assert.True(t, srv.checkOrigin(req), "same origin")
}
