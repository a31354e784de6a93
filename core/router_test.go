package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const testOrigin = "http://app.test"

func init() {
	gin.SetMode(gin.TestMode)
}

// memUserRepository is an in-memory UserRepository for handler tests.
type memUserRepository struct {
	mu      sync.Mutex
	byEmail map[string]*UserRecord
	byID    map[string]*UserRecord
}

func newMemUserRepository() *memUserRepository {
	return &memUserRepository{
		byEmail: make(map[string]*UserRecord),
		byID:    make(map[string]*UserRecord),
	}
}

func (r *memUserRepository) FindByEmail(_ context.Context, email string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byEmail[email]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, ErrUserNotFound
}

func (r *memUserRepository) FindByID(_ context.Context, id string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, ErrUserNotFound
}

func (r *memUserRepository) Create(_ context.Context, email, passwordHash, firstName, lastName string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[email]; ok {
		return nil, ErrDuplicateEmail
	}
	u := &UserRecord{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    firstName,
		LastName:     lastName,
		CreatedAt:    time.Now().UTC(),
	}
	r.byEmail[email] = u
	r.byID[u.ID] = u
	copied := *u
	return &copied, nil
}

func (r *memUserRepository) Delete(_ context.Context, id string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	delete(r.byID, id)
	delete(r.byEmail, u.Email)
	copied := *u
	return &copied, nil
}

type testServer struct {
	router       *gin.Engine
	repo         *memUserRepository
	codec        *TokenCodec
	loginLimiter *LoginRateLimiter
	clock        *fakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := Config{Env: EnvDevelopment, AppURL: testOrigin, JWTSecret: testSecret}
	repo := newMemUserRepository()
	svc := NewAuthService(repo)
	svc.sleep = func(time.Duration) {}
	codec := NewTokenCodec(cfg.JWTSecret)

	clock := newFakeClock()
	loginLimiter := NewLoginRateLimiter()
	loginLimiter.now = clock.now
	registrationLimiter := NewRegistrationRateLimiter()
	registrationLimiter.now = clock.now

	return &testServer{
		router:       NewRouter(cfg, svc, codec, loginLimiter, registrationLimiter),
		repo:         repo,
		codec:        codec,
		loginLimiter: loginLimiter,
		clock:        clock,
	}
}

func (ts *testServer) do(method, path string, body any, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", testOrigin)
	for _, mod := range mods {
		mod(req)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) register(t *testing.T, email string) (userID, cookie string) {
	t.Helper()
	w := ts.do(http.MethodPost, "/auth/register", gin.H{
		"email":     email,
		"password":  "Abcdef12",
		"firstName": "Joanna",
		"lastName":  "Doe",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal register response: %v", err)
	}
	return resp.User.ID, sessionCookieValue(t, w)
}

func sessionCookieValue(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c.Value
		}
	}
	t.Fatalf("no %s cookie in response", SessionCookieName)
	return ""
}

func withCookie(token string) func(*http.Request) {
	return func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	}
}

func TestRegisterFlow(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/auth/register", gin.H{
		"email":     "A@B.com",
		"password":  "Abcdef12",
		"firstName": "Joanna",
		"lastName":  "Doe",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	// Stored email is normalized.
	if _, err := ts.repo.FindByEmail(context.Background(), "a@b.com"); err != nil {
		t.Fatalf("normalized email not stored: %v", err)
	}

	// Response must not leak the password in any form.
	if strings.Contains(strings.ToLower(w.Body.String()), "password") {
		t.Fatalf("response leaks password field: %s", w.Body.String())
	}

	// Session cookie carries a verifiable token with the right attributes.
	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			session = c
		}
	}
	if session == nil {
		t.Fatalf("missing session cookie")
	}
	if !session.HttpOnly || session.Path != "/" || session.MaxAge != int(SessionTTL.Seconds()) {
		t.Fatalf("cookie attributes wrong: %+v", session)
	}
	if session.Secure {
		t.Fatalf("Secure must be off outside production")
	}
	claim, err := ts.codec.Verify(session.Value)
	if err != nil {
		t.Fatalf("cookie token does not verify: %v", err)
	}
	if claim.UserID == "" {
		t.Fatalf("claim has no user id")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "jo@example.com")

	w := ts.do(http.MethodPost, "/auth/register", gin.H{
		"email":     "JO@example.com",
		"password":  "Abcdef12",
		"firstName": "Joanna",
		"lastName":  "Doe",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/auth/register", gin.H{
		"email":     "not-an-email",
		"password":  "short",
		"firstName": "Jo",
		"lastName":  "Doe",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error   string       `json:"error"`
		Details []FieldError `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error != "Validation failed" || len(resp.Details) < 3 {
		t.Fatalf("unexpected validation payload: %s", w.Body.String())
	}
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestOriginRejected(t *testing.T) {
	ts := newTestServer(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/auth/register"},
		{http.MethodPost, "/auth/login"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodDelete, "/auth/register"},
	} {
		w := ts.do(route.method, route.path, nil, func(req *http.Request) {
			req.Header.Set("Origin", "https://evil.example")
		})
		if w.Code != http.StatusForbidden {
			t.Fatalf("%s %s: status = %d, want 403", route.method, route.path, w.Code)
		}
	}
}

func TestLoginWrongThenRightPassword(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "jo@example.com")

	var bodies []string
	for i := 0; i < 2; i++ {
		ts.clock.advance(5 * time.Second)
		w := ts.do(http.MethodPost, "/auth/login", gin.H{
			"email":    "jo@example.com",
			"password": "WrongPass1",
		})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("wrong password attempt %d: status = %d: %s", i+1, w.Code, w.Body.String())
		}
		bodies = append(bodies, w.Body.String())
	}
	if bodies[0] != bodies[1] {
		t.Fatalf("credential failures must be indistinguishable: %q vs %q", bodies[0], bodies[1])
	}

	ts.clock.advance(5 * time.Second)
	w := ts.do(http.MethodPost, "/auth/login", gin.H{
		"email":    "JO@example.com",
		"password": "Abcdef12",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("correct password: status = %d: %s", w.Code, w.Body.String())
	}
	sessionCookieValue(t, w)

	// Success must clear both the IP key and the email key.
	ts.loginLimiter.mu.Lock()
	_, ipTracked := ts.loginLimiter.attempts["unknown"]
	_, emailTracked := ts.loginLimiter.attempts["jo@example.com"]
	ts.loginLimiter.mu.Unlock()
	if ipTracked || emailTracked {
		t.Fatalf("rate-limit records must be reset on success (ip=%v email=%v)", ipTracked, emailTracked)
	}
}

func TestLoginUnknownEmailSameError(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "jo@example.com")

	ts.clock.advance(5 * time.Second)
	unknown := ts.do(http.MethodPost, "/auth/login", gin.H{
		"email":    "nobody@example.com",
		"password": "Abcdef12",
	})
	ts.clock.advance(5 * time.Second)
	wrong := ts.do(http.MethodPost, "/auth/login", gin.H{
		"email":    "jo@example.com",
		"password": "WrongPass1",
	})

	if unknown.Code != http.StatusUnauthorized || wrong.Code != http.StatusUnauthorized {
		t.Fatalf("codes = %d/%d, want 401/401", unknown.Code, wrong.Code)
	}
	if unknown.Body.String() != wrong.Body.String() {
		t.Fatalf("unknown-email and wrong-password bodies differ: %q vs %q",
			unknown.Body.String(), wrong.Body.String())
	}
}

func TestLoginRateLimited(t *testing.T) {
	ts := newTestServer(t)

	ip := func(req *http.Request) { req.Header.Set("X-Forwarded-For", "203.0.113.9") }
	body := gin.H{"email": "jo@example.com", "password": "WrongPass1"}

	if w := ts.do(http.MethodPost, "/auth/login", body, ip); w.Code != http.StatusUnauthorized {
		t.Fatalf("first attempt: status = %d", w.Code)
	}
	// Immediate retry trips the progressive backoff.
	w := ts.do(http.MethodPost, "/auth/login", body, ip)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("rapid retry: status = %d, want 429: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("429 must carry Retry-After")
	}
}

func TestWhoami(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.register(t, "jo@example.com")

	w := ts.do(http.MethodGet, "/auth/register", nil, withCookie(token))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		User User `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.User.ID != userID || resp.User.Email != "jo@example.com" || resp.User.CreatedAt.IsZero() {
		t.Fatalf("unexpected whoami payload: %s", w.Body.String())
	}

	if w := ts.do(http.MethodGet, "/auth/register", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: status = %d, want 401", w.Code)
	}
	if w := ts.do(http.MethodGet, "/auth/register", nil, withCookie("garbage")); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", w.Code)
	}
}

func TestDeleteAccount(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.register(t, "jo@example.com")

	// No session cookie.
	if w := ts.do(http.MethodDelete, "/auth/register", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: status = %d, want 401", w.Code)
	}

	w := ts.do(http.MethodDelete, "/auth/register", nil, withCookie(token))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.User.ID != userID || resp.User.Email != "jo@example.com" {
		t.Fatalf("deleted user echo wrong: %s", w.Body.String())
	}
	assertClearingCookie(t, w)

	// The session still verifies but the user is gone: 404, not 500.
	if w := ts.do(http.MethodDelete, "/auth/register", nil, withCookie(token)); w.Code != http.StatusNotFound {
		t.Fatalf("stale session delete: status = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestLogoutIdempotent(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.register(t, "jo@example.com")

	first := ts.do(http.MethodPost, "/auth/logout", nil, withCookie(token))
	second := ts.do(http.MethodPost, "/auth/logout", nil)

	for i, w := range []*httptest.ResponseRecorder{first, second} {
		if w.Code != http.StatusOK {
			t.Fatalf("logout %d: status = %d, want 200", i+1, w.Code)
		}
		assertClearingCookie(t, w)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodPut, "/auth/register"},
		{http.MethodGet, "/auth/login"},
		{http.MethodDelete, "/auth/login"},
		{http.MethodGet, "/auth/logout"},
	} {
		w := ts.do(route.method, route.path, nil)
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: status = %d, want 405", route.method, route.path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "Method not allowed") {
			t.Fatalf("%s %s: body = %s", route.method, route.path, w.Body.String())
		}
	}
}

func TestRegistrationRateLimitedEndToEnd(t *testing.T) {
	ts := newTestServer(t)

	ip := func(req *http.Request) { req.Header.Set("X-Forwarded-For", "203.0.113.7") }
	for i := 0; i < 5; i++ {
		body := gin.H{
			"email":     fmt.Sprintf("user%d@example.com", i),
			"password":  "Abcdef12",
			"firstName": "Joanna",
			"lastName":  "Doe",
		}
		if w := ts.do(http.MethodPost, "/auth/register", body, ip); w.Code != http.StatusCreated {
			t.Fatalf("register %d: status = %d: %s", i+1, w.Code, w.Body.String())
		}
	}

	w := ts.do(http.MethodPost, "/auth/register", gin.H{
		"email":     "user6@example.com",
		"password":  "Abcdef12",
		"firstName": "Joanna",
		"lastName":  "Doe",
	}, ip)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("6th register: status = %d, want 429: %s", w.Code, w.Body.String())
	}
}

func assertClearingCookie(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			if c.Value != "" || c.MaxAge >= 0 {
				t.Fatalf("cookie not clearing: %+v", c)
			}
			return
		}
	}
	t.Fatalf("no clearing %s cookie in response", SessionCookieName)
}
