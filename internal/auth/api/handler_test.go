package authapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pigeon/internal/auth/session"
	"pigeon/internal/identity"
	"pigeon/internal/mail"
	"pigeon/internal/otp"
)

type testEnv struct {
	handler *Handler
	mux     *http.ServeMux
	store   *identity.MemoryStore
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.AccessSecret = []byte("test-access-secret-0123456789ab")
	cfg.RefreshSecret = []byte("test-refresh-secret-0123456789a")
	mgr, err := session.NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := identity.NewMemoryStore()
	codes := otp.NewService(otp.NewStore(), mail.NewLogSender(log), log)

	env := &testEnv{
		store: store,
		now:   time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	env.handler = NewHandler(log, DefaultConfig(), store, session.NewService(mgr, store), codes)
	env.handler.now = func() time.Time { return env.now }

	env.mux = http.NewServeMux()
	env.handler.Routes(env.mux)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, mod func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if mod != nil {
		mod(req)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, email, password string) authResponse {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":%q,"name":"Test User","phone":"+15550003333"}`, email, password)
	rec := e.do(t, http.MethodPost, "/api/auth/register", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("register = %d: %s", rec.Code, rec.Body.String())
	}
	var out authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return out
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegisterLoginMe(t *testing.T) {
	e := newTestEnv(t)
	reg := e.register(t, "me@example.com", "hunter2hunter2")
	if reg.AccessToken == "" || reg.User.ID == "" {
		t.Fatalf("register response incomplete: %+v", reg)
	}

	rec := e.do(t, http.MethodPost, "/api/auth/login",
		`{"email":"ME@example.com","password":"hunter2hunter2"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}

	// Refresh cookie is httpOnly and never appears in the body.
	c := refreshCookie(t, rec, e.handler.cfg.RefreshCookieName)
	if c == nil || !c.HttpOnly || c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("refresh cookie missing or misconfigured: %+v", c)
	}
	if strings.Contains(rec.Body.String(), c.Value) {
		t.Fatalf("refresh token leaked into the response body")
	}

	var login authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login response: %v", err)
	}

	rec = e.do(t, http.MethodGet, "/api/me", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+login.AccessToken)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("me = %d: %s", rec.Code, rec.Body.String())
	}
	var me meResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me response: %v", err)
	}
	if me.User.ID != reg.User.ID || me.User.Email != "me@example.com" {
		t.Fatalf("me = %+v, want the registered user", me.User)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "real@example.com", "hunter2hunter2")

	unknown := e.do(t, http.MethodPost, "/api/auth/login",
		`{"email":"ghost@example.com","password":"whatever12345"}`, nil)
	wrongPw := e.do(t, http.MethodPost, "/api/auth/login",
		`{"email":"real@example.com","password":"not-the-password"}`, nil)

	if unknown.Code != http.StatusBadRequest || wrongPw.Code != http.StatusBadRequest {
		t.Fatalf("codes = %d/%d, want 400/400", unknown.Code, wrongPw.Code)
	}
	// Identical bodies: the response must not reveal which part was wrong.
	if unknown.Body.String() != wrongPw.Body.String() {
		t.Fatalf("failure bodies differ:\n%s\n%s", unknown.Body.String(), wrongPw.Body.String())
	}
}

func TestRefreshRotatesAccess(t *testing.T) {
	e := newTestEnv(t)
	reg := e.register(t, "rot@example.com", "hunter2hunter2")

	rec := e.do(t, http.MethodPost, "/api/auth/login",
		`{"email":"rot@example.com","password":"hunter2hunter2"}`, nil)
	cookie := refreshCookie(t, rec, e.handler.cfg.RefreshCookieName)
	if cookie == nil {
		t.Fatalf("login set no refresh cookie")
	}

	// Rename the user, then rotate 20 minutes later: the fresh access token
	// must carry the current profile.
	name := "Renamed"
	if _, err := e.store.UpdateProfile(t.Context(), identity.UpdateProfileInput{
		UserID: reg.User.ID, Name: &name,
	}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	e.now = e.now.Add(20 * time.Minute)

	rec = e.do(t, http.MethodPost, "/api/auth/refresh", "", func(r *http.Request) {
		r.AddCookie(cookie)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d: %s", rec.Code, rec.Body.String())
	}
	var out refreshResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}

	claims, err := e.handler.sessions.VerifyAccess(out.AccessToken, e.now)
	if err != nil {
		t.Fatalf("VerifyAccess on rotated token: %v", err)
	}
	if claims.Name != "Renamed" {
		t.Fatalf("rotated snapshot name = %q, want current profile", claims.Name)
	}
}

func TestRefreshWithoutCookie(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/auth/refresh", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh without cookie = %d, want 401", rec.Code)
	}
}

func TestRefreshFailureCodes(t *testing.T) {
	e := newTestEnv(t)

	// No cookie at all: the client never authenticated, 401.
	rec := e.do(t, http.MethodPost, "/api/auth/refresh", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing cookie = %d, want 401", rec.Code)
	}

	// A cookie that fails verification is a rejected credential, 403.
	rec = e.do(t, http.MethodPost, "/api/auth/refresh", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: e.handler.cfg.RefreshCookieName, Value: "not-a-token"})
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("garbage refresh token = %d, want 403", rec.Code)
	}
}

func TestRefreshExpiredClearsCookie(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "old@example.com", "hunter2hunter2")

	rec := e.do(t, http.MethodPost, "/api/auth/login",
		`{"email":"old@example.com","password":"hunter2hunter2"}`, nil)
	cookie := refreshCookie(t, rec, e.handler.cfg.RefreshCookieName)

	e.now = e.now.Add(8 * 24 * time.Hour)
	rec = e.do(t, http.MethodPost, "/api/auth/refresh", "", func(r *http.Request) {
		r.AddCookie(cookie)
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expired refresh = %d, want 403", rec.Code)
	}
	cleared := refreshCookie(t, rec, e.handler.cfg.RefreshCookieName)
	if cleared == nil || cleared.Value != "" || cleared.MaxAge != -1 {
		t.Fatalf("dead refresh token must clear the cookie, got %+v", cleared)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout = %d, want 204", rec.Code)
	}
	cleared := refreshCookie(t, rec, e.handler.cfg.RefreshCookieName)
	if cleared == nil || cleared.Value != "" {
		t.Fatalf("logout must expire the cookie, got %+v", cleared)
	}
}

func TestExpiredAccessHasDistinctCode(t *testing.T) {
	e := newTestEnv(t)
	reg := e.register(t, "exp@example.com", "hunter2hunter2")

	e.now = e.now.Add(16 * time.Minute)
	rec := e.do(t, http.MethodGet, "/api/me", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+reg.AccessToken)
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired access = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "token_expired") {
		t.Fatalf("expired access must be distinguishable: %s", rec.Body.String())
	}
}

func TestUpdateMeUsesTokenIdentity(t *testing.T) {
	e := newTestEnv(t)
	reg := e.register(t, "patch@example.com", "hunter2hunter2")

	rec := e.do(t, http.MethodPatch, "/api/me", `{"name":"New Name"}`, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+reg.AccessToken)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch me = %d: %s", rec.Code, rec.Body.String())
	}

	user, err := e.store.GetUserByID(t.Context(), reg.User.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user.Name != "New Name" {
		t.Fatalf("name = %q after patch", user.Name)
	}
	if user.Phone != "+15550003333" {
		t.Fatalf("untouched field changed: %q", user.Phone)
	}
}

func TestRegisterConflict(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "dup@example.com", "hunter2hunter2")

	rec := e.do(t, http.MethodPost, "/api/auth/register",
		`{"email":"dup@example.com","password":"hunter2hunter2","name":"Again","phone":""}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register = %d, want 409", rec.Code)
	}
}

func TestOTPEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/auth/otp/send", `{"email":"otp@example.com"}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("otp send = %d: %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodPost, "/api/auth/otp/verify", `{"email":"otp@example.com","code":"000000"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong otp = %d, want 400", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/api/auth/otp/send", `{"email":"not-an-email"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad email otp send = %d, want 400", rec.Code)
	}
}
