package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/permission"
	"github.com/MrEthical07/packguard/store/memory"
)

const testPassword = "correct-horse-battery"

type stubSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *stubSender) SendCode(_ context.Context, address, code, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[address] = code
	return nil
}

func (s *stubSender) code(address string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[address]
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
	engine  *packguard.Engine
	store   *memory.Store
	sender  *stubSender
}

type response struct {
	Status  int
	Header  http.Header
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"errorCode"`
}

func newTestAPI(t *testing.T, cfg Config, opts ...Option) *testAPI {
	t.Helper()

	engineCfg := packguard.DefaultConfig()
	engineCfg.JWT.AccessSecret = strings.Repeat("a", 32)
	engineCfg.JWT.RefreshSecret = strings.Repeat("r", 32)
	engineCfg.JWT.TwoFactorSecret = strings.Repeat("t", 32)
	engineCfg.Password.Memory = 8 * 1024
	engineCfg.Password.Time = 1
	engineCfg.Password.Parallelism = 1

	store := memory.New()
	sender := &stubSender{}
	log, _ := logtest.NewNullLogger()
	engine, err := packguard.New().
		WithConfig(engineCfg).
		WithIdentityStore(store).
		WithDocumentStore(store).
		WithAuditStore(store).
		WithCodeSender(sender).
		WithLogger(log).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &testAPI{
		t:       t,
		handler: New(engine, log, cfg, opts...).Handler(),
		engine:  engine,
		store:   store,
		sender:  sender,
	}
}

func (a *testAPI) createUser(email string, role permission.SystemRole, twoFactor bool) string {
	a.t.Helper()
	view, err := a.engine.CreateIdentity(context.Background(), nil, packguard.NewIdentity{
		Email:            email,
		Password:         testPassword,
		Role:             role,
		TwoFactorEnabled: twoFactor,
	})
	require.NoError(a.t, err)
	return view.ID
}

func (a *testAPI) do(method, path, token string, body any) response {
	a.t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	res := response{Status: rec.Code, Header: rec.Header()}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	}
	return res
}

func (a *testAPI) login(email string) packguard.LoginResult {
	a.t.Helper()
	res := a.do(http.MethodPost, "/login", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(a.t, http.StatusOK, res.Status, res.Message)
	var out packguard.LoginResult
	require.NoError(a.t, json.Unmarshal(res.Data, &out))
	return out
}

func TestStatusFor(t *testing.T) {
	cases := map[string]int{
		packguard.CodeUnauthorized:       http.StatusUnauthorized,
		packguard.CodeExpired:            http.StatusUnauthorized,
		packguard.CodeInvalidCode:        http.StatusUnauthorized,
		packguard.CodeForbidden:          http.StatusForbidden,
		packguard.CodeTooManyAttempts:    http.StatusTooManyRequests,
		packguard.CodeRateLimited:        http.StatusTooManyRequests,
		packguard.CodeValidation:         http.StatusBadRequest,
		packguard.CodeConflict:           http.StatusConflict,
		packguard.CodeNotFound:           http.StatusNotFound,
		packguard.CodeServiceUnavailable: http.StatusServiceUnavailable,
		packguard.CodeInternal:           http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, StatusFor(code), code)
	}
}

func TestErrorWriterHidesInternalErrors(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	errorWriter(log)(rec, req, errors.New("pq: connection refused at 10.0.0.5"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "request failed", hook.LastEntry().Message)
}

func TestLoginAndProfile(t *testing.T) {
	api := newTestAPI(t, DefaultConfig())
	api.createUser("alice@example.com", permission.RoleDesigner, false)

	res := api.do(http.MethodPost, "/login", "", map[string]string{"email": "alice@example.com", "password": "wrong-password-1"})
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.False(t, res.Success)
	assert.Equal(t, packguard.CodeUnauthorized, res.Code)

	tokens := api.login("alice@example.com")
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)

	me := api.do(http.MethodGet, "/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, me.Status)
	var view packguard.IdentityView
	require.NoError(t, json.Unmarshal(me.Data, &view))
	assert.Equal(t, "alice@example.com", view.Email)
	assert.Equal(t, permission.RoleDesigner, view.Role)
	assert.NotContains(t, string(me.Data), "passwordHash")

	session := api.do(http.MethodGet, "/session", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, session.Status)
	assert.Contains(t, string(session.Data), `"role":"designer"`)

	anon := api.do(http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, anon.Status)
	assert.Equal(t, packguard.CodeUnauthorized, anon.Code)

	refreshed := api.do(http.MethodPost, "/refresh", "", map[string]string{"refreshToken": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, refreshed.Status)
	assert.Contains(t, string(refreshed.Data), "accessToken")

	out := api.do(http.MethodPost, "/logout", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, out.Status)

	again := api.do(http.MethodPost, "/refresh", "", map[string]string{"refreshToken": tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, again.Status)
}

func TestLogoutAcceptsChunkedEmptyBody(t *testing.T) {
	api := newTestAPI(t, DefaultConfig())
	api.createUser("alice@example.com", permission.RoleDesigner, false)
	first := api.login("alice@example.com")
	second := api.login("alice@example.com")

	// no declared length, as with Transfer-Encoding: chunked
	req := httptest.NewRequest(http.MethodPost, "/logout", io.MultiReader(strings.NewReader("")))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+first.AccessToken)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		res := api.do(http.MethodPost, "/refresh", "", map[string]string{"refreshToken": token})
		assert.Equal(t, http.StatusUnauthorized, res.Status, "empty logout must revoke every session")
	}
}

func TestLogoutWithChunkedBodyRevokesOneSession(t *testing.T) {
	api := newTestAPI(t, DefaultConfig())
	api.createUser("alice@example.com", permission.RoleDesigner, false)
	first := api.login("alice@example.com")
	second := api.login("alice@example.com")

	body, err := json.Marshal(map[string]string{"refreshToken": first.RefreshToken})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/logout", io.MultiReader(bytes.NewReader(body)))
	req.ContentLength = -1
	req.Header.Set("Authorization", "Bearer "+first.AccessToken)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	gone := api.do(http.MethodPost, "/refresh", "", map[string]string{"refreshToken": first.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, gone.Status)
	kept := api.do(http.MethodPost, "/refresh", "", map[string]string{"refreshToken": second.RefreshToken})
	assert.Equal(t, http.StatusOK, kept.Status)
}

func TestTwoFactorOverHTTP(t *testing.T) {
	api := newTestAPI(t, DefaultConfig())
	api.createUser("bob@example.com", permission.RoleViewer, true)

	start := api.login("bob@example.com")
	require.True(t, start.TwoFactorRequired)
	require.Empty(t, start.AccessToken)

	code := api.sender.code("bob@example.com")
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}

	res := api.do(http.MethodPost, "/2fa/verify", "", map[string]string{"twoFactorToken": start.TwoFactorToken, "code": wrong})
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, packguard.CodeInvalidCode, res.Code)

	res = api.do(http.MethodPost, "/2fa/verify", "", map[string]string{"twoFactorToken": start.TwoFactorToken, "code": code})
	require.Equal(t, http.StatusOK, res.Status, res.Message)
	var done packguard.LoginResult
	require.NoError(t, json.Unmarshal(res.Data, &done))
	assert.NotEmpty(t, done.AccessToken)
	assert.False(t, done.TwoFactorRequired)

	res = api.do(http.MethodPost, "/2fa/verify", "", map[string]string{"twoFactorToken": start.TwoFactorToken, "code": code})
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, packguard.CodeExpired, res.Code)
}

func TestRequestValidation(t *testing.T) {
	api := newTestAPI(t, DefaultConfig())

	res := api.do(http.MethodPost, "/login", "", `{"email":"a@example.com","password":"x","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, packguard.CodeValidation, res.Code)
	assert.Contains(t, res.Message, "unknown field")

	res = api.do(http.MethodPost, "/refresh", "", `{"refreshToken":`)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "malformed JSON body", res.Message)

	res = api.do(http.MethodPost, "/refresh", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)

	res = api.do(http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, packguard.CodeNotFound, res.Code)
}

func TestBodyLimit(t *testing.T) {
	api := newTestAPI(t, Config{MaxBodyBytes: 64})

	res := api.do(http.MethodPost, "/refresh", "", map[string]string{"refreshToken": strings.Repeat("x", 256)})
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "request body too large", res.Message)
}

func TestCredentialEndpointsAreRateLimited(t *testing.T) {
	api := newTestAPI(t, Config{AuthRatePerSecond: 0.001, AuthBurst: 2})
	body := map[string]string{"email": "nobody@example.com", "password": testPassword}

	for i := 0; i < 2; i++ {
		res := api.do(http.MethodPost, "/login", "", body)
		require.Equal(t, http.StatusUnauthorized, res.Status)
	}
	res := api.do(http.MethodPost, "/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	assert.Equal(t, packguard.CodeRateLimited, res.Code)
	assert.Equal(t, "1", res.Header.Get("Retry-After"))

	// non-credential routes keep their own budget
	res = api.do(http.MethodPost, "/refresh", "", map[string]string{"refreshToken": "bogus"})
	assert.Equal(t, http.StatusUnauthorized, res.Status)
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t, DefaultConfig())
	api.createUser("admin@example.com", permission.RoleAdmin, false)
	viewerID := api.createUser("viewer@example.com", permission.RoleViewer, false)
	admin := api.login("admin@example.com").AccessToken
	viewer := api.login("viewer@example.com").AccessToken

	newUser := map[string]any{"email": "carol@example.com", "password": testPassword, "role": "merchandiser"}

	res := api.do(http.MethodPost, "/users", viewer, newUser)
	assert.Equal(t, http.StatusForbidden, res.Status)
	assert.Equal(t, packguard.CodeForbidden, res.Code)

	res = api.do(http.MethodPost, "/users", admin, newUser)
	require.Equal(t, http.StatusCreated, res.Status, res.Message)
	var carol packguard.IdentityView
	require.NoError(t, json.Unmarshal(res.Data, &carol))
	assert.Equal(t, permission.RoleMerchandiser, carol.Role)

	res = api.do(http.MethodPost, "/users", admin, newUser)
	assert.Equal(t, http.StatusConflict, res.Status)

	res = api.do(http.MethodPatch, "/users/"+carol.ID+"/role", admin, map[string]string{"role": "designer"})
	require.Equal(t, http.StatusOK, res.Status)
	assert.Contains(t, string(res.Data), `"role":"designer"`)

	res = api.do(http.MethodPatch, "/users/"+carol.ID+"/role", admin, map[string]string{"role": "superuser"})
	assert.Equal(t, http.StatusBadRequest, res.Status)

	res = api.do(http.MethodPatch, "/users/"+viewerID+"/active", admin, map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, res.Status)
	res = api.do(http.MethodGet, "/me", viewer, nil)
	assert.Equal(t, http.StatusUnauthorized, res.Status)

	res = api.do(http.MethodPost, "/users/"+carol.ID+"/password", admin, map[string]string{"password": "a-brand-new-secret"})
	assert.Equal(t, http.StatusOK, res.Status)

	res = api.do(http.MethodDelete, "/users/"+carol.ID, admin, nil)
	assert.Equal(t, http.StatusOK, res.Status)
	res = api.do(http.MethodDelete, "/users/"+carol.ID, admin, nil)
	assert.Equal(t, http.StatusNotFound, res.Status)

	require.Eventually(t, func() bool {
		res := api.do(http.MethodGet, "/audit?action=identity.delete", admin, nil)
		var page packguard.AuditPage
		return res.Status == http.StatusOK && json.Unmarshal(res.Data, &page) == nil && page.Total == 1
	}, 2*time.Second, 10*time.Millisecond)

	res = api.do(http.MethodGet, "/audit?from=yesterday", admin, nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestDocumentRoutes(t *testing.T) {
	api := newTestAPI(t, DefaultConfig())
	aliceID := api.createUser("alice@example.com", permission.RoleDesigner, false)
	bobID := api.createUser("bob@example.com", permission.RoleDesigner, false)
	api.store.PutDocument(permission.Document{ID: "doc1", OwnerID: bobID})
	alice := api.login("alice@example.com").AccessToken
	bob := api.login("bob@example.com").AccessToken

	decisionOf := func(res response) permission.Decision {
		t.Helper()
		require.Equal(t, http.StatusOK, res.Status, res.Message)
		var d permission.Decision
		require.NoError(t, json.Unmarshal(res.Data, &d))
		return d
	}

	d := decisionOf(api.do(http.MethodGet, "/documents/doc1/access?actions=view", alice, nil))
	assert.False(t, d.Allowed)
	assert.Equal(t, permission.ReasonNoShare, d.Reason)

	res := api.do(http.MethodPost, "/documents/doc1/shares", bob, map[string]string{"userId": aliceID, "role": "editor"})
	require.Equal(t, http.StatusCreated, res.Status, res.Message)

	d = decisionOf(api.do(http.MethodGet, "/documents/doc1/access?actions=view,edit", alice, nil))
	assert.True(t, d.Allowed)
	assert.Equal(t, permission.DocEditor, d.EffectiveRole)

	d = decisionOf(api.do(http.MethodGet, "/documents/doc1/access?actions=delete", alice, nil))
	assert.False(t, d.Allowed)
	assert.Equal(t, []permission.Action{permission.ActionDelete}, d.Missing)

	res = api.do(http.MethodGet, "/documents/doc1/shares", alice, nil)
	assert.Equal(t, http.StatusForbidden, res.Status)

	res = api.do(http.MethodGet, "/documents/doc1/shares", bob, nil)
	require.Equal(t, http.StatusOK, res.Status)
	var entries []permission.ShareEntry
	require.NoError(t, json.Unmarshal(res.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, aliceID, entries[0].UserID)

	res = api.do(http.MethodPatch, "/documents/doc1/shares/"+aliceID, bob, map[string]string{"role": "viewer"})
	require.Equal(t, http.StatusOK, res.Status)

	res = api.do(http.MethodPost, "/documents/doc1/shares", bob, map[string]string{"userId": aliceID, "role": "owner"})
	assert.Equal(t, http.StatusForbidden, res.Status)

	res = api.do(http.MethodDelete, "/documents/doc1/shares/"+aliceID, bob, nil)
	require.Equal(t, http.StatusOK, res.Status)

	d = decisionOf(api.do(http.MethodGet, "/documents/doc1/access?actions=view", alice, nil))
	assert.False(t, d.Allowed)

	res = api.do(http.MethodGet, "/documents/doc1/access?actions=fly", alice, nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)

	res = api.do(http.MethodGet, "/documents/missing/access?actions=view", alice, nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "packguard_test_total", Help: "test"}))

	api := newTestAPI(t, DefaultConfig(),
		WithGatherer(reg),
		WithHealthCheck("store", func(context.Context) error { return nil }),
		WithHealthCheck("cache", func(context.Context) error { return errors.New("dial tcp: refused") }),
	)

	res := api.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.Status)
	assert.Equal(t, packguard.CodeServiceUnavailable, res.Code)
	assert.JSONEq(t, `{"store":"ok","cache":"unavailable"}`, string(res.Data))

	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "packguard_test_total")

	healthy := newTestAPI(t, DefaultConfig())
	res = healthy.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Header.Get("X-Request-ID"))
}
