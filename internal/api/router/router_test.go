package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/missedcall-booking/internal/appointments"
	"github.com/wolfman30/missedcall-booking/internal/clinic"
	"github.com/wolfman30/missedcall-booking/internal/conversation"
	"github.com/wolfman30/missedcall-booking/internal/events"
	"github.com/wolfman30/missedcall-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/missedcall-booking/internal/http/middleware"
	"github.com/wolfman30/missedcall-booking/internal/leads"
	"github.com/wolfman30/missedcall-booking/internal/messaging"
	"github.com/wolfman30/missedcall-booking/pkg/logging"
)

const (
	testSecret   = "admin-secret"
	clinicNumber = "+15550001000"
	callerNumber = "+15550002001"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	replies []conversation.OutboundReply
}

func (d *recordingDispatcher) Dispatch(_ context.Context, reply conversation.OutboundReply) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies = append(d.replies, reply)
}

func (d *recordingDispatcher) all() []conversation.OutboundReply {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]conversation.OutboundReply(nil), d.replies...)
}

type testApp struct {
	router     http.Handler
	dispatcher *recordingDispatcher
	leads      *leads.InMemoryRepository
}

func newTestApp(t *testing.T, checks map[string]HealthCheck) *testApp {
	t.Helper()
	logger := logging.Default()

	convStore := conversation.NewMemoryStore()
	leadRepo := leads.NewInMemoryRepository()
	booker := appointments.NewMemoryBooker(conversation.MemoryBookingHook(convStore, leadRepo))
	clinics := clinic.NewMemoryStore()
	now := time.Date(2025, 12, 8, 14, 0, 0, 0, time.UTC)
	engine := conversation.NewEngine(convStore, leadRepo, booker, clinics, logger,
		conversation.WithClock(func() time.Time { return now }))

	dispatcher := &recordingDispatcher{}
	resolver := messaging.NewStaticTenantResolver(map[string]string{clinicNumber: "clinic-a"})
	msgHandler := messaging.NewHandler(engine, resolver, dispatcher, events.NewMemoryDeduper(time.Hour), logger,
		messaging.WithFollowUpToken("follow-token"))

	router := New(&Config{
		Logger:             logger,
		MessagingHandler:   msgHandler,
		LeadsHandler:       leads.NewHandler(leadRepo, logger),
		AdminClinics:       handlers.NewAdminClinicsHandler(clinics, logger),
		AdminConversations: handlers.NewAdminConversationsHandler(convStore, nil, logger),
		MetricsHandler:     http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
		FollowUpEnabled:    true,
		AdminAuthSecret:    testSecret,
		ReadinessChecks:    checks,
	})
	return &testApp{router: router, dispatcher: dispatcher, leads: leadRepo}
}

func (a *testApp) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func adminToken(t *testing.T, tenantID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, httpmiddleware.AdminClaims{
		TenantID:         tenantID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestRouterHealthEndpoint(t *testing.T) {
	app := newTestApp(t, nil)

	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterReadinessReportsFailingDependency(t *testing.T) {
	app := newTestApp(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: connection refused") },
	})

	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, rec.Body.String(), `"redis":"unavailable"`)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)
}

func TestRouterMissedCallToCallbackFlow(t *testing.T) {
	app := newTestApp(t, nil)

	rec := app.postForm(t, "/messaging/twilio/voice", url.Values{
		"CallSid":    {"CA123"},
		"CallStatus": {"no-answer"},
		"From":       {callerNumber},
		"To":         {clinicNumber},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))

	replies := app.dispatcher.all()
	require.Len(t, replies, 1, "missed call should trigger the opening text")
	assert.Equal(t, callerNumber, replies[0].To)
	assert.Equal(t, clinicNumber, replies[0].From)

	rec = app.postForm(t, "/messaging/twilio/webhook", url.Values{
		"MessageSid": {"SM1"},
		"From":       {callerNumber},
		"To":         {clinicNumber},
		"Body":       {"1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, app.dispatcher.all(), 2)

	// Twilio retries the same message; nothing new is sent.
	rec = app.postForm(t, "/messaging/twilio/webhook", url.Values{
		"MessageSid": {"SM1"},
		"From":       {callerNumber},
		"To":         {clinicNumber},
		"Body":       {"1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, app.dispatcher.all(), 2)

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants/clinic-a/leads", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "clinic-a"))
	rec = httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list leads.ListLeadsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Leads, 1)
	assert.Equal(t, leads.StatusQualified, list.Leads[0].Status)
	assert.Equal(t, callerNumber, list.Leads[0].Phone)
}

func TestRouterAdminRequiresToken(t *testing.T) {
	app := newTestApp(t, nil)

	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/clinic-a/clinic", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/tenants/clinic-b/clinic", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "clinic-a"))
	rec = httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterFollowUpRequiresBearer(t *testing.T) {
	app := newTestApp(t, nil)

	body := `{"tenant_id":"clinic-a","caller_phone":"+15550002002","clinic_phone":"+15550001000"}`
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/followups", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/followups", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer follow-token")
	rec = httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRouterFollowUpNotMountedWhenDisabled(t *testing.T) {
	r := New(&Config{Logger: logging.Default()})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/followups", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tenants/clinic-a/leads", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
