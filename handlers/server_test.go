package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shaluqa.app/crm/internal/auth"
	"shaluqa.app/crm/internal/expiry"
	"shaluqa.app/crm/internal/ratelimit"
	"shaluqa.app/crm/internal/testutil"
	"shaluqa.app/crm/storage"
)

const testSecret = "test-session-secret-0123456789abcdef"

type fakeChecker struct {
	report expiry.Report
	err    error
	calls  int
}

func (f *fakeChecker) Run(ctx context.Context) (expiry.Report, error) {
	f.calls++
	return f.report, f.err
}

type testEnv struct {
	server  *Server
	store   *storage.MemoryStorage
	files   *testutil.FakeFiles
	mailer  *testutil.FakeSender
	checker *fakeChecker
	cookie  *http.Cookie
}

type envOption func(*Dependencies)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		store:   storage.NewMemoryStorage(),
		files:   testutil.NewFakeFiles(CarouselBucket),
		mailer:  &testutil.FakeSender{},
		checker: &fakeChecker{},
	}
	authenticator := auth.NewLocalAuthenticator("shaluqa", "123123", testSecret, false)

	deps := Dependencies{
		Store:          env.store,
		Checker:        env.checker,
		Auth:           authenticator,
		Files:          env.files,
		Mailer:         env.mailer,
		AllowedOrigins: []string{"http://localhost:4321"},
		Version:        "1.2.3",
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.server = NewHttpServer(deps)
	env.server.now = func() time.Time { return time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC) }

	session, err := authenticator.Login(context.Background(), "shaluqa", "123123")
	require.NoError(t, err)
	env.cookie = &http.Cookie{Name: auth.SessionCookie, Value: session.AccessToken}

	return env
}

// request serves one request through the full router. authed attaches a
// valid session cookie.
func (e *testEnv) request(method, path string, body io.Reader, contentType string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authed {
		req.AddCookie(e.cookie)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) json(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	return e.request(method, path, &buf, "application/json", true)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v), "body: %s", w.Body.String())
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	decodeBody(t, w, &body)
	return body.Error
}

func TestNewHttpServer(t *testing.T) {
	env := newTestEnv(t)

	require.NotNil(t, env.server)
	assert.NotNil(t, env.server.Router)
	assert.NotNil(t, env.server.Storage)
	assert.Equal(t, "1.2.3", env.server.version)

	s := NewHttpServer(Dependencies{Store: env.store, Auth: auth.NewLocalAuthenticator("a", "b", testSecret, false)})
	assert.Equal(t, "dev", s.version)
}

func TestServer_HealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodGet, "/health", nil, "", false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body HealthResponse
	decodeBody(t, w, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC), body.Timestamp)
}

func TestServer_RoutingConfiguration(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name           string
		method         string
		path           string
		authed         bool
		expectedStatus int
	}{
		{name: "health endpoint - GET", method: http.MethodGet, path: "/health", expectedStatus: http.StatusOK},
		{name: "health endpoint - POST not allowed", method: http.MethodPost, path: "/health", expectedStatus: http.StatusMethodNotAllowed},
		{name: "cron trigger - GET", method: http.MethodGet, path: "/api/cron/check-licenses", expectedStatus: http.StatusOK},
		{name: "cron trigger - POST", method: http.MethodPost, path: "/api/cron/check-licenses", expectedStatus: http.StatusOK},
		{name: "cron trigger - DELETE", method: http.MethodDelete, path: "/api/cron/check-licenses", expectedStatus: http.StatusMethodNotAllowed},
		{name: "clients without session", method: http.MethodGet, path: "/api/clients", expectedStatus: http.StatusUnauthorized},
		{name: "clients with session", method: http.MethodGet, path: "/api/clients", authed: true, expectedStatus: http.StatusOK},
		{name: "products with session", method: http.MethodGet, path: "/api/products", authed: true, expectedStatus: http.StatusOK},
		{name: "licenses with session", method: http.MethodGet, path: "/api/licenses", authed: true, expectedStatus: http.StatusOK},
		{name: "upload without session", method: http.MethodPost, path: "/api/upload", expectedStatus: http.StatusUnauthorized},
		{name: "carousel without session", method: http.MethodPatch, path: "/api/carousel", expectedStatus: http.StatusUnauthorized},
		{name: "session without cookie", method: http.MethodGet, path: "/api/auth/session", expectedStatus: http.StatusUnauthorized},
		{name: "metrics not configured", method: http.MethodGet, path: "/metrics", expectedStatus: http.StatusNotFound},
		{name: "non-existent endpoint", method: http.MethodGet, path: "/non-existent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.request(tt.method, tt.path, nil, "", tt.authed)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})
	env := newTestEnv(t, func(d *Dependencies) { d.Metrics = metrics })

	w := env.request(http.MethodGet, "/metrics", nil, "", false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics\n", w.Body.String())
}

func TestServer_CORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/clients", nil)
	req.Header.Set("Origin", "http://localhost:4321")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:4321", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/api/clients", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	env.server.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverer(t *testing.T) {
	handler := recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, msgInternal, errorOf(t, w))
}

func TestRecoverer_RepanicsAbortHandler(t *testing.T) {
	handler := recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantOK      bool
		wantMessage string
	}{
		{name: "valid", body: `{"name":"Ana","email":"ana@example.com"}`, wantOK: true},
		{name: "empty body", body: ``, wantMessage: msgMissingFields},
		{name: "malformed", body: `{"name":`, wantMessage: msgInvalidBody},
		{name: "missing required", body: `{"email":"ana@example.com"}`, wantMessage: msgMissingFields},
		{name: "bad email", body: `{"name":"Ana","email":"not-an-email"}`, wantMessage: validationMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			var req ClientRequest
			ok := decodeJSON(w, r, &req)

			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Equal(t, tt.wantMessage, errorOf(t, w))
			}
		})
	}
}

func TestValidateRequest_FieldNames(t *testing.T) {
	w := httptest.NewRecorder()
	ok := validateRequest(w, &LicenseRequest{ClientID: "c", ProductID: "p", Type: "mensual", StartDate: "03/06/2025", Status: "activa"})
	require.False(t, ok)

	var body errorResponse
	decodeBody(t, w, &body)
	assert.Equal(t, validationMessage, body.Error)
	assert.Contains(t, body.Fields, "type")
	assert.Contains(t, body.Fields, "start_date")
	assert.NotContains(t, body.Fields, "status")
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) { d.LoginLimiter = ratelimit.New(2, time.Minute) })

	for i := 0; i < 2; i++ {
		w := env.json(http.MethodPost, "/api/auth/login", LoginRequest{Username: "shaluqa", Password: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := env.json(http.MethodPost, "/api/auth/login", LoginRequest{Username: "shaluqa", Password: "123123"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestWriteLookupError(t *testing.T) {
	env := newTestEnv(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	w := httptest.NewRecorder()
	env.server.writeLookupError(w, r, "Cliente no encontrado", storage.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Cliente no encontrado", errorOf(t, w))

	w = httptest.NewRecorder()
	env.server.writeLookupError(w, r, "Cliente no encontrado", errors.New("connection reset"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, msgInternal, errorOf(t, w))
}
